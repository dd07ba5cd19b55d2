package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"bookpoly/internal/app"
	"bookpoly/internal/config"
	"bookpoly/internal/exec"
	"bookpoly/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runConfigPath string
	runTicksPath  string
	runOutDir     string
	runID         string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Replay a tick file and write its audit log",
	Example: `  replay run --ticks data/ticks.jsonl --out out/a
  replay run --config internal/config/config.yaml --ticks data/ticks.jsonl --out out/b --run-id b`,
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "path to config file (defaults when empty)")
	runCmd.Flags().StringVar(&runTicksPath, "ticks", "", "JSONL file of feed events")
	runCmd.Flags().StringVar(&runOutDir, "out", "out", "directory for the audit log")
	runCmd.Flags().StringVar(&runID, "run-id", "replay", "run id embedded in the audit file name")
	_ = runCmd.MarkFlagRequired("ticks")
}

// replayConfig forces a local, side-effect free setup: file feed, audit on,
// in-memory state and no external sinks.
func replayConfig(cfg *config.Config, ticks, out string) *config.Config {
	cfg.Feed = config.FeedConfig{Kind: config.FeedFile, Path: ticks, QueueSize: cfg.Feed.QueueSize}
	cfg.Audit.Enabled = true
	cfg.Audit.Dir = out
	if cfg.Audit.QueueSize < 1<<16 {
		cfg.Audit.QueueSize = 1 << 16
	}
	cfg.State.SQLitePath = ":memory:"
	cfg.Timescale.Enabled = false
	cfg.Metrics.Enabled = false
	cfg.Telegram.Enabled = false
	cfg.Dispatch.Kind = config.DispatchLog
	return cfg
}

func runReplay(cmd *cobra.Command, _ []string) error {
	cfg := config.Default()
	if runConfigPath != "" {
		loaded, err := config.Load(runConfigPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	cfg = replayConfig(cfg, runTicksPath, runOutDir)
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	a, err := app.NewWithDeps(cfg, log, app.Deps{RunID: runID, Publisher: exec.NewLogPublisher(log)})
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	files, _ := filepath.Glob(filepath.Join(runOutDir, cfg.Audit.Prefix+"_*_"+runID+".jsonl"))
	for _, f := range files {
		fmt.Fprintln(cmd.OutOrStdout(), f)
	}
	log.Info("replay finished", zap.Int("files", len(files)))
	return nil
}
