package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"bookpoly/internal/config"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDiffFiles(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.jsonl", "{\"x\":1}\n{\"x\":2}\n")
	b := writeFile(t, dir, "b.jsonl", "{\"x\":1}\n{\"x\":2}\n")
	c := writeFile(t, dir, "c.jsonl", "{\"x\":1}\n{\"x\":3}\n{\"x\":4}\n")

	var out bytes.Buffer
	n, err := diffFiles(a, b, &out)
	if err != nil || n != 0 {
		t.Fatalf("expected identical files, got %d (%v)", n, err)
	}
	out.Reset()
	n, err = diffFiles(a, c, &out)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 differing lines, got %d", n)
	}
	if !strings.Contains(out.String(), "line 2 differs") || !strings.Contains(out.String(), "line 3: only in") {
		t.Fatalf("unexpected report %q", out.String())
	}
	if _, err := diffFiles(a, filepath.Join(dir, "missing"), &out); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestDiffDirs(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeFile(t, a, "x.jsonl", "1\n2\n")
	writeFile(t, b, "x.jsonl", "1\n3\n")
	writeFile(t, a, "y.jsonl", "1\n")
	writeFile(t, b, "y.jsonl", "1\n")
	writeFile(t, b, "z.jsonl", "1\n")

	var out bytes.Buffer
	n, err := diffDirs(a, b, &out)
	if err != nil {
		t.Fatalf("diff dirs: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 differences, got %d: %s", n, out.String())
	}
	if !strings.Contains(out.String(), "x.jsonl: 1 differing lines") || !strings.Contains(out.String(), "z.jsonl: only in "+b) {
		t.Fatalf("unexpected report %q", out.String())
	}
}

func TestReplayConfigIsLocal(t *testing.T) {
	cfg := config.Default()
	cfg.Timescale.Enabled = true
	cfg.Telegram.Enabled = true
	cfg.Dispatch.Kind = config.DispatchKafka
	cfg = replayConfig(cfg, "ticks.jsonl", "out")
	if cfg.Feed.Kind != config.FeedFile || cfg.Feed.Path != "ticks.jsonl" {
		t.Fatalf("unexpected feed %+v", cfg.Feed)
	}
	if !cfg.Audit.Enabled || cfg.Audit.Dir != "out" || cfg.Audit.QueueSize < 1<<16 {
		t.Fatalf("unexpected audit %+v", cfg.Audit)
	}
	if cfg.Timescale.Enabled || cfg.Telegram.Enabled || cfg.Metrics.Enabled || cfg.Dispatch.Kind != config.DispatchLog {
		t.Fatalf("expected external sinks disabled")
	}
	if cfg.State.SQLitePath != ":memory:" {
		t.Fatalf("expected in-memory state, got %q", cfg.State.SQLitePath)
	}
}

func TestReplayDeterministic(t *testing.T) {
	dir := t.TempDir()
	var lines []string
	for s := 770; s < 800; s++ {
		lines = append(lines, `{"instrument":"btc-15m","ts_ms":`+strconv.Itoa(s*1000)+`,"window_start":0,"mid":0.96,"seconds_to_expiry":`+strconv.Itoa(900-s)+`,"book":{"bids":[{"price":0.955,"size":400}],"asks":[{"price":0.965,"size":400}]},"latency_ms":50}`)
	}
	ticks := writeFile(t, dir, "ticks.jsonl", strings.Join(lines, "\n")+"\n")

	outs := []string{filepath.Join(dir, "a"), filepath.Join(dir, "b")}
	for _, out := range outs {
		runConfigPath, runTicksPath, runOutDir, runID = "", ticks, out, "r"
		var buf bytes.Buffer
		runCmd.SetOut(&buf)
		if err := runReplay(runCmd, nil); err != nil {
			t.Fatalf("replay: %v", err)
		}
	}
	fa, _ := filepath.Glob(filepath.Join(outs[0], "*.jsonl"))
	fb, _ := filepath.Glob(filepath.Join(outs[1], "*.jsonl"))
	if len(fa) != 1 || len(fb) != 1 {
		t.Fatalf("expected one audit file per run, got %v %v", fa, fb)
	}
	var report bytes.Buffer
	n, err := diffFiles(fa[0], fb[0], &report)
	if err != nil || n != 0 {
		t.Fatalf("expected identical replays, got %d diffs: %s (%v)", n, report.String(), err)
	}
}

func TestReplayDeterministicAcrossInstruments(t *testing.T) {
	dir := t.TempDir()
	instruments := []string{"btc-15m", "eth-15m", "sol-15m", "xrp-15m"}
	var lines []string
	for s := 700; s < 880; s++ {
		for k, id := range instruments {
			mid := 0.96 - 0.01*float64(k) - 0.0005*float64(s%7)
			lines = append(lines, `{"instrument":"`+id+`","ts_ms":`+strconv.Itoa(s*1000)+`,"window_start":0,"mid":`+strconv.FormatFloat(mid, 'f', 4, 64)+
				`,"seconds_to_expiry":`+strconv.Itoa(900-s)+`,"book":{"bids":[{"price":0.95,"size":500}],"asks":[{"price":0.97,"size":350}]},"latency_ms":40}`)
		}
		if s == 790 {
			lines = append(lines, `{"type":"fill","instrument":"eth-15m","fill":{"side":"UP","price":0.95,"shares":100,"ts_s":790}}`)
		}
	}
	ticks := writeFile(t, dir, "ticks.jsonl", strings.Join(lines, "\n")+"\n")

	outs := []string{filepath.Join(dir, "a"), filepath.Join(dir, "b"), filepath.Join(dir, "c")}
	for _, out := range outs {
		runConfigPath, runTicksPath, runOutDir, runID = "", ticks, out, "r"
		runCmd.SetOut(&bytes.Buffer{})
		if err := runReplay(runCmd, nil); err != nil {
			t.Fatalf("replay: %v", err)
		}
	}
	files, _ := filepath.Glob(filepath.Join(outs[0], "*.jsonl"))
	if len(files) != len(instruments) {
		t.Fatalf("expected one audit file per instrument, got %v", files)
	}
	for _, other := range outs[1:] {
		var report bytes.Buffer
		n, err := diffDirs(outs[0], other, &report)
		if err != nil || n != 0 {
			t.Fatalf("expected identical replays, got %d diffs: %s (%v)", n, report.String(), err)
		}
	}
}
