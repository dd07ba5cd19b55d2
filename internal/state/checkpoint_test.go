package state

import (
	"context"
	"testing"

	"bookpoly/internal/defense"
	"bookpoly/internal/strategy"
)

func sampleCheckpoint(id string) PositionCheckpoint {
	return PositionCheckpoint{
		Meta: defense.PositionMeta{
			Instrument: id,
			Side:       strategy.SideUp,
			EntryPrice: 0.96,
			EntryAt:    1000,
			Shares:     100,
			Regime:     defense.Regime{VolShort: 0.01, VolLong: 0.008, ZVol: 0.4},
		},
		HedgedShares: 20,
		LastHedgeAt:  1040,
		HedgeSide:    strategy.SideDown,
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	cp := sampleCheckpoint("btc-15m")
	if err := SaveCheckpoint(ctx, store, cp); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}
	got, ok, err := LoadCheckpoint(ctx, store, "btc-15m")
	if err != nil || !ok {
		t.Fatalf("load checkpoint: ok=%v err=%v", ok, err)
	}
	if got != cp {
		t.Fatalf("unexpected checkpoint: %#v", got)
	}
	if err := DeleteCheckpoint(ctx, store, "btc-15m"); err != nil {
		t.Fatalf("delete checkpoint: %v", err)
	}
	if _, ok, _ := LoadCheckpoint(ctx, store, "btc-15m"); ok {
		t.Fatalf("expected checkpoint to be deleted")
	}
}

func TestCheckpointRequiresInstrument(t *testing.T) {
	if err := SaveCheckpoint(context.Background(), NewMemory(), PositionCheckpoint{}); err == nil {
		t.Fatalf("expected error for empty instrument")
	}
}

func TestCheckpointInvalidPayload(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	_ = store.Set(ctx, CheckpointKey("x"), []byte{0xc1})
	if _, _, err := LoadCheckpoint(ctx, store, "x"); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestLoadCheckpoints(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	_ = SaveCheckpoint(ctx, store, sampleCheckpoint("a"))
	_ = SaveCheckpoint(ctx, store, sampleCheckpoint("b"))
	_ = store.Set(ctx, "intent:abc", []byte("1"))
	all, err := LoadCheckpoints(ctx, store)
	if err != nil {
		t.Fatalf("load checkpoints: %v", err)
	}
	if len(all) != 2 || all["a"].Meta.Instrument != "a" || all["b"].HedgedShares != 20 {
		t.Fatalf("unexpected checkpoints: %#v", all)
	}
}

func TestNilStoreIsNoop(t *testing.T) {
	ctx := context.Background()
	if err := SaveCheckpoint(ctx, nil, sampleCheckpoint("a")); err != nil {
		t.Fatalf("expected nil store save to be a no-op, got %v", err)
	}
	if _, ok, err := LoadCheckpoint(ctx, nil, "a"); ok || err != nil {
		t.Fatalf("expected nil store load to be empty")
	}
	all, err := LoadCheckpoints(ctx, nil)
	if err != nil || len(all) != 0 {
		t.Fatalf("expected empty map, got %v %v", all, err)
	}
}
