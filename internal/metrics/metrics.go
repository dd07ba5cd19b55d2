package metrics

type Counter interface {
	Inc()
}

// LabeledCounter is a counter family keyed by one label value.
type LabeledCounter interface {
	With(label string) Counter
}

type Metrics struct {
	TicksProcessed   Counter
	EntrySignals     Counter
	HedgeIntents     Counter
	PhaseTransitions LabeledCounter
	AuditDropped     Counter
	AuditWriteFailed Counter
	DispatchFailed   Counter
	AlertsSent       Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func (n noopCounter) With(string) Counter { return n }

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		TicksProcessed:   n,
		EntrySignals:     n,
		HedgeIntents:     n,
		PhaseTransitions: n,
		AuditDropped:     n,
		AuditWriteFailed: n,
		DispatchFailed:   n,
		AlertsSent:       n,
	}
}

// OrNoop returns m, or a no-op set when m is nil.
func OrNoop(m *Metrics) *Metrics {
	if m == nil {
		return NewNoop()
	}
	return m
}
