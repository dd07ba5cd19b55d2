package state

import (
	"context"
	"fmt"
	"strings"

	"bookpoly/internal/defense"
	"bookpoly/internal/strategy"

	"github.com/vmihailenco/msgpack/v5"
)

const checkpointPrefix = "position:"

// PositionCheckpoint is what survives a restart for one instrument. The
// defense phase is not stored; a restored position resumes in NORMAL.
type PositionCheckpoint struct {
	Meta         defense.PositionMeta `msgpack:"meta"`
	HedgedShares int                  `msgpack:"hedged_shares"`
	LastHedgeAt  float64              `msgpack:"last_hedge_at"`
	HedgeSide    strategy.Side        `msgpack:"hedge_side"`
}

func CheckpointKey(instrument string) string {
	return checkpointPrefix + instrument
}

func SaveCheckpoint(ctx context.Context, store Store, cp PositionCheckpoint) error {
	if store == nil {
		return nil
	}
	if strings.TrimSpace(cp.Meta.Instrument) == "" {
		return fmt.Errorf("checkpoint instrument is required")
	}
	payload, err := msgpack.Marshal(cp)
	if err != nil {
		return err
	}
	return store.Set(ctx, CheckpointKey(cp.Meta.Instrument), payload)
}

func LoadCheckpoint(ctx context.Context, store Store, instrument string) (PositionCheckpoint, bool, error) {
	if store == nil {
		return PositionCheckpoint{}, false, nil
	}
	raw, ok, err := store.Get(ctx, CheckpointKey(instrument))
	if err != nil || !ok || len(raw) == 0 {
		return PositionCheckpoint{}, false, err
	}
	var cp PositionCheckpoint
	if err := msgpack.Unmarshal(raw, &cp); err != nil {
		return PositionCheckpoint{}, false, fmt.Errorf("decode checkpoint %s: %w", instrument, err)
	}
	return cp, true, nil
}

func DeleteCheckpoint(ctx context.Context, store Store, instrument string) error {
	if store == nil {
		return nil
	}
	return store.Delete(ctx, CheckpointKey(instrument))
}

// LoadCheckpoints returns every stored checkpoint keyed by instrument.
func LoadCheckpoints(ctx context.Context, store Store) (map[string]PositionCheckpoint, error) {
	out := make(map[string]PositionCheckpoint)
	if store == nil {
		return out, nil
	}
	keys, err := store.Keys(ctx, checkpointPrefix)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		id := strings.TrimPrefix(key, checkpointPrefix)
		cp, ok, err := LoadCheckpoint(ctx, store, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out[id] = cp
		}
	}
	return out, nil
}
