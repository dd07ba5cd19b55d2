package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"
)

const maxReportedDiffs = 10

var diffCmd = &cobra.Command{
	Use:   "diff <a> <b>",
	Short: "Compare two audit logs, or two replay output directories, line by line",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		diff := diffFiles
		if isDir(args[0]) && isDir(args[1]) {
			diff = diffDirs
		}
		n, err := diff(args[0], args[1], cmd.OutOrStdout())
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%d differing lines", n)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "identical")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(diffCmd)
}

// diffFiles reports differing line numbers to w and returns how many lines
// differ. A line present in only one file counts as a difference.
func diffFiles(pathA, pathB string, w io.Writer) (int, error) {
	fa, err := os.Open(pathA)
	if err != nil {
		return 0, err
	}
	defer fa.Close()
	fb, err := os.Open(pathB)
	if err != nil {
		return 0, err
	}
	defer fb.Close()

	sa, sb := newLineScanner(fa), newLineScanner(fb)
	diffs := 0
	for line := 1; ; line++ {
		okA, okB := sa.Scan(), sb.Scan()
		if !okA && !okB {
			break
		}
		if okA && okB && sa.Text() == sb.Text() {
			continue
		}
		diffs++
		if diffs <= maxReportedDiffs {
			switch {
			case !okA:
				fmt.Fprintf(w, "line %d: only in %s\n", line, pathB)
			case !okB:
				fmt.Fprintf(w, "line %d: only in %s\n", line, pathA)
			default:
				fmt.Fprintf(w, "line %d differs\n", line)
			}
		}
	}
	if err := sa.Err(); err != nil {
		return diffs, err
	}
	return diffs, sb.Err()
}

// diffDirs pairs the .jsonl files of two directories by name. A file missing
// from one side counts as one difference.
func diffDirs(dirA, dirB string, w io.Writer) (int, error) {
	namesA, err := auditNames(dirA)
	if err != nil {
		return 0, err
	}
	namesB, err := auditNames(dirB)
	if err != nil {
		return 0, err
	}
	all := append(slices.Clone(namesA), namesB...)
	slices.Sort(all)
	all = slices.Compact(all)

	diffs := 0
	for _, name := range all {
		inA, inB := slices.Contains(namesA, name), slices.Contains(namesB, name)
		if !inA || !inB {
			diffs++
			dir := dirA
			if inB {
				dir = dirB
			}
			fmt.Fprintf(w, "%s: only in %s\n", name, dir)
			continue
		}
		n, err := diffFiles(filepath.Join(dirA, name), filepath.Join(dirB, name), w)
		if err != nil {
			return diffs, err
		}
		if n > 0 {
			fmt.Fprintf(w, "%s: %d differing lines\n", name, n)
		}
		diffs += n
	}
	return diffs, nil
}

func auditNames(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return nil, err
	}
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = filepath.Base(p)
	}
	return names, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	return sc
}
