package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bookpoly/internal/config"
	"bookpoly/internal/metrics"
)

type record struct {
	Seq int `json:"seq"`
}

func readLines(t *testing.T, path string) []record {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	var out []record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("invalid json line %q: %v", sc.Text(), err)
		}
		out = append(out, r)
	}
	return out
}

func TestWriterDisabled(t *testing.T) {
	w, err := New(config.AuditConfig{}, "", nil, nil)
	if err != nil || w != nil {
		t.Fatalf("expected nil writer when disabled, got %v %v", w, err)
	}
	w.Write("", 0, record{})
	if err := w.Close(); err != nil {
		t.Fatalf("expected nil close on nil writer, got %v", err)
	}
}

func TestWriterRotatesByRecordDay(t *testing.T) {
	dir := t.TempDir()
	w, err := New(config.AuditConfig{Enabled: true, Dir: dir, Prefix: "post_defense", QueueSize: 16}, "run1", nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	day1 := float64(time.Date(2026, 3, 1, 23, 59, 58, 0, time.UTC).Unix())
	w.Write("", day1, record{Seq: 1})
	w.Write("", day1+1, record{Seq: 2})
	w.Write("", day1+2, record{Seq: 3})
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	first := readLines(t, filepath.Join(dir, "post_defense_2026-03-01_run1.jsonl"))
	second := readLines(t, filepath.Join(dir, "post_defense_2026-03-02_run1.jsonl"))
	if len(first) != 2 || first[0].Seq != 1 || first[1].Seq != 2 {
		t.Fatalf("unexpected first day records %+v", first)
	}
	if len(second) != 1 || second[0].Seq != 3 {
		t.Fatalf("unexpected second day records %+v", second)
	}
}

func TestWriterSplitsStreamsByInstrument(t *testing.T) {
	dir := t.TempDir()
	w, err := New(config.AuditConfig{Enabled: true, Dir: dir, Prefix: "post_defense", QueueSize: 16}, "run1", nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	at := float64(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Unix())
	w.Write("btc-15m", at, record{Seq: 1})
	w.Write("eth/15m", at, record{Seq: 2})
	w.Write("btc-15m", at+1, record{Seq: 3})
	w.Write("btc-15m", at+86400, record{Seq: 4})
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	btc := readLines(t, filepath.Join(dir, "post_defense_btc-15m_2026-03-01_run1.jsonl"))
	if len(btc) != 2 || btc[0].Seq != 1 || btc[1].Seq != 3 {
		t.Fatalf("unexpected btc records %+v", btc)
	}
	eth := readLines(t, filepath.Join(dir, "post_defense_eth-15m_2026-03-01_run1.jsonl"))
	if len(eth) != 1 || eth[0].Seq != 2 {
		t.Fatalf("unexpected eth records %+v", eth)
	}
	next := readLines(t, w.Path("btc-15m", "2026-03-02"))
	if len(next) != 1 || next[0].Seq != 4 {
		t.Fatalf("unexpected next day records %+v", next)
	}
	if len(w.streams) != 0 {
		t.Fatalf("expected every stream closed, got %d", len(w.streams))
	}
}

func TestWriterCloseDrainsWithoutStart(t *testing.T) {
	dir := t.TempDir()
	w, err := New(config.AuditConfig{Enabled: true, Dir: dir, QueueSize: 4}, "", nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if w.RunID() == "" {
		t.Fatalf("expected a generated run id")
	}
	w.Write("", 0, record{Seq: 7})
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	w.Write("", 0, record{Seq: 8})
	got := readLines(t, w.Path("", "1970-01-01"))
	if len(got) != 1 || got[0].Seq != 7 {
		t.Fatalf("expected only the record written before close, got %+v", got)
	}
}

func TestWriterDropsWhenFull(t *testing.T) {
	w, err := New(config.AuditConfig{Enabled: true, Dir: t.TempDir(), QueueSize: 1}, "r", nil, metrics.NewNoop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	w.Write("", 0, record{Seq: 1})
	w.Write("", 0, record{Seq: 2})
	w.Write("", 0, record{Seq: 3})
	if got := w.dropped.Load(); got != 2 {
		t.Fatalf("expected 2 drops, got %d", got)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestWriterMarshalFailure(t *testing.T) {
	w, err := New(config.AuditConfig{Enabled: true, Dir: t.TempDir(), QueueSize: 1}, "r", nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	w.Write("", 0, map[string]any{"bad": make(chan int)})
	if len(w.queue) != 0 {
		t.Fatalf("expected unmarshalable record to be skipped")
	}
	_ = w.Close()
}
