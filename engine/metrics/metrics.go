// Package metrics exposes the Prometheus collectors backing the
// abstract telemetry sink spec.md §2 describes: step dispatch
// duration, approval wait duration, guardrail abort counts, and
// compensation replay outcomes.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors bundles every metric the executor and its collaborators
// report to. A nil *Collectors is valid and every method on it is a
// no-op, so callers that do not want metrics can leave it unset.
type Collectors struct {
	StepDispatchDuration  *prometheus.HistogramVec
	ApprovalWaitDuration  prometheus.Histogram
	GuardrailAborts       *prometheus.CounterVec
	CompensationOutcomes  *prometheus.CounterVec
}

// New registers and returns a Collectors bundle against reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		StepDispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "workflow_core",
			Name:      "step_dispatch_duration_seconds",
			Help:      "Duration of a single node dispatch, by node kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"node_kind"}),
		ApprovalWaitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "workflow_core",
			Name:      "approval_wait_duration_seconds",
			Help:      "Time a run spent suspended waiting for an approval decision.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}),
		GuardrailAborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workflow_core",
			Name:      "guardrail_aborts_total",
			Help:      "Count of input-processor aborts, by processor name.",
		}, []string{"processor"}),
		CompensationOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workflow_core",
			Name:      "compensation_outcomes_total",
			Help:      "Count of compensation replay step outcomes, by success/failure.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(c.StepDispatchDuration, c.ApprovalWaitDuration, c.GuardrailAborts, c.CompensationOutcomes)
	return c
}

// ObserveStepDispatch records how long dispatching a node of kind took.
func (c *Collectors) ObserveStepDispatch(nodeKind string, seconds float64) {
	if c == nil {
		return
	}
	c.StepDispatchDuration.WithLabelValues(nodeKind).Observe(seconds)
}

// ObserveApprovalWait records how long a run waited for a human decision.
func (c *Collectors) ObserveApprovalWait(seconds float64) {
	if c == nil {
		return
	}
	c.ApprovalWaitDuration.Observe(seconds)
}

// IncGuardrailAbort records one input-processor abort.
func (c *Collectors) IncGuardrailAbort(processor string) {
	if c == nil {
		return
	}
	c.GuardrailAborts.WithLabelValues(processor).Inc()
}

// IncCompensationOutcome records one compensation replay step outcome
// ("succeeded" or "failed").
func (c *Collectors) IncCompensationOutcome(outcome string) {
	if c == nil {
		return
	}
	c.CompensationOutcomes.WithLabelValues(outcome).Inc()
}
