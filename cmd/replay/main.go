package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay recorded ticks through the decision engine",
	Long: `replay feeds a JSONL tick file through the same per-instrument engine the
bot runs and writes the audit log, so two runs can be compared line by line.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
