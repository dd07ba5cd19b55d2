// Package feed turns JSON lines or websocket frames into engine events.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"bookpoly/internal/market"
	"bookpoly/internal/strategy"
)

type EventType string

const (
	EventTick      EventType = "tick"
	EventFill      EventType = "fill"
	EventHedgeFill EventType = "hedge_fill"
	EventClose     EventType = "close"
	// EventReversal carries the latest reversal-detector signal. An event
	// without a signal clears it.
	EventReversal EventType = "reversal"
)

var ErrMissingInstrument = errors.New("event instrument is required")

// Fill reports an executed entry or hedge. Side and Price are unused for
// hedge fills.
type Fill struct {
	Side   strategy.Side `json:"side,omitempty"`
	Price  float64       `json:"price,omitempty"`
	Shares int           `json:"shares"`
	At     float64       `json:"ts_s"`
}

type Event struct {
	Type       EventType    `json:"type"`
	Instrument string       `json:"instrument,omitempty"`
	Tick       *market.Tick `json:"tick,omitempty"`
	Fill       *Fill        `json:"fill,omitempty"`

	Reversal *strategy.ReversalSignal `json:"reversal,omitempty"`
}

// Source delivers events in arrival order until it is exhausted or ctx ends.
type Source interface {
	Run(ctx context.Context, handler func(Event)) error
}

// Decode parses one envelope. A line without a type is read as a bare tick.
func Decode(data []byte) (Event, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Event{}, errors.New("empty event")
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.Type == "" {
		var t market.Tick
		if err := json.Unmarshal(data, &t); err != nil {
			return Event{}, fmt.Errorf("decode tick: %w", err)
		}
		ev = Event{Type: EventTick, Tick: &t}
	}
	switch ev.Type {
	case EventTick:
		if ev.Tick == nil {
			return Event{}, errors.New("tick event without tick")
		}
		if ev.Instrument == "" {
			ev.Instrument = ev.Tick.Instrument
		}
		if ev.Tick.Instrument == "" {
			ev.Tick.Instrument = ev.Instrument
		}
	case EventFill:
		if ev.Fill == nil {
			return Event{}, errors.New("fill event without fill")
		}
		if !ev.Fill.Side.Valid() {
			return Event{}, fmt.Errorf("fill side %q", ev.Fill.Side)
		}
		if ev.Fill.Shares <= 0 || ev.Fill.Price <= 0 {
			return Event{}, errors.New("fill needs positive shares and price")
		}
	case EventHedgeFill:
		if ev.Fill == nil || ev.Fill.Shares <= 0 {
			return Event{}, errors.New("hedge_fill needs positive shares")
		}
	case EventClose:
	case EventReversal:
		if r := ev.Reversal; r != nil {
			if r.Score < 0 || r.Score > 1 {
				return Event{}, fmt.Errorf("reversal score %v outside [0, 1]", r.Score)
			}
			if r.Direction != "" && !r.Direction.Valid() {
				return Event{}, fmt.Errorf("reversal direction %q", r.Direction)
			}
		}
	default:
		return Event{}, fmt.Errorf("unknown event type %q", ev.Type)
	}
	if strings.TrimSpace(ev.Instrument) == "" {
		return Event{}, ErrMissingInstrument
	}
	return ev, nil
}
