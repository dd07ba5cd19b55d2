package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "bookpoly"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promCounterVec struct {
	vec *prometheus.CounterVec
}

func (p promCounterVec) With(label string) Counter {
	return promCounter{p.vec.WithLabelValues(label)}
}

type Prometheus struct {
	Metrics *Metrics

	registry         *prometheus.Registry
	ticksProcessed   prometheus.Counter
	entrySignals     prometheus.Counter
	hedgeIntents     prometheus.Counter
	phaseTransitions *prometheus.CounterVec
	auditDropped     prometheus.Counter
	auditWriteFailed prometheus.Counter
	dispatchFailed   prometheus.Counter
	alertsSent       prometheus.Counter
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	ticksProcessed := newCounter("ticks_processed_total", "Total number of ticks processed.")
	entrySignals := newCounter("entry_signals_total", "Total number of ENTER decisions.")
	hedgeIntents := newCounter("hedge_intents_total", "Total number of hedge intents emitted.")
	phaseTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "phase_transitions_total",
		Help:      "Total number of defense phase transitions by target phase.",
	}, []string{"to"})
	auditDropped := newCounter("audit_dropped_total", "Total number of audit records dropped on a full queue.")
	auditWriteFailed := newCounter("audit_write_failed_total", "Total number of audit write failures.")
	dispatchFailed := newCounter("dispatch_failed_total", "Total number of intents that could not be published.")
	alertsSent := newCounter("alerts_sent_total", "Total number of alerts delivered.")

	registry.MustRegister(ticksProcessed, entrySignals, hedgeIntents, phaseTransitions,
		auditDropped, auditWriteFailed, dispatchFailed, alertsSent)

	m := &Metrics{
		TicksProcessed:   promCounter{ticksProcessed},
		EntrySignals:     promCounter{entrySignals},
		HedgeIntents:     promCounter{hedgeIntents},
		PhaseTransitions: promCounterVec{phaseTransitions},
		AuditDropped:     promCounter{auditDropped},
		AuditWriteFailed: promCounter{auditWriteFailed},
		DispatchFailed:   promCounter{dispatchFailed},
		AlertsSent:       promCounter{alertsSent},
	}

	return &Prometheus{
		Metrics:          m,
		registry:         registry,
		ticksProcessed:   ticksProcessed,
		entrySignals:     entrySignals,
		hedgeIntents:     hedgeIntents,
		phaseTransitions: phaseTransitions,
		auditDropped:     auditDropped,
		auditWriteFailed: auditWriteFailed,
		dispatchFailed:   dispatchFailed,
		alertsSent:       alertsSent,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
