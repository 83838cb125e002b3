// Package promhook counts engine hooks as Prometheus metrics.
package promhook

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/unkn0wn-root/asyncache"
)

// Hooks increments one counter vector per callback. Item keys are never used
// as labels; cardinality stays bounded by resources and event types.
type Hooks struct {
	events     *prometheus.CounterVec
	checks     *prometheus.CounterVec
	failures   *prometheus.CounterVec
	discarded  *prometheus.CounterVec
	persistErr *prometheus.CounterVec
	limits     *prometheus.CounterVec
}

var _ asyncache.Hooks = (*Hooks)(nil)

// New registers the counters on reg under namespace (default "asyncache").
// A nil reg uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer, namespace string) *Hooks {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "asyncache"
	}
	f := promauto.With(reg)
	return &Hooks{
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_applied_total",
			Help:      "Events applied to resource state",
		}, []string{"resource", "event"}),
		checks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_fired_total",
			Help:      "Background checks that emitted an event",
		}, []string{"resource", "check"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Fetch functions that returned an error",
		}, []string{"resource", "permanent"}),
		discarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_discarded_total",
			Help:      "Settled results dropped because a newer request superseded them",
		}, []string{"resource", "op"}),
		persistErr: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Snapshot writes or reads that failed",
		}, []string{"resource"}),
		limits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaction_limit_total",
			Help:      "Check reactions cut short by the reaction limit",
		}, []string{"resource"}),
	}
}

func (h *Hooks) EventApplied(resource string, event asyncache.EventType, _ string) {
	h.events.WithLabelValues(resource, string(event)).Inc()
}

func (h *Hooks) CheckFired(resource, check, _ string) {
	h.checks.WithLabelValues(resource, check).Inc()
}

func (h *Hooks) FetchFailed(resource, _ string, _ error, permanent bool) {
	p := "false"
	if permanent {
		p = "true"
	}
	h.failures.WithLabelValues(resource, p).Inc()
}

func (h *Hooks) ResultDiscarded(resource, op, _ string) {
	h.discarded.WithLabelValues(resource, op).Inc()
}

func (h *Hooks) PersistError(resource string, _ error) {
	h.persistErr.WithLabelValues(resource).Inc()
}

func (h *Hooks) ReactionLimit(resource string, _ int) {
	h.limits.WithLabelValues(resource).Inc()
}
