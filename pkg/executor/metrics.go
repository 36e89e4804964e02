package executor

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes the executor's Prometheus counters. The teacher's go.mod
// carried client_golang without wiring it to anything; this is where
// SPEC_FULL.md gives it real counters to export.
type Metrics struct {
	StepsExecuted       prometheus.Counter
	StepsSucceeded      prometheus.Counter
	StepsFailed         prometheus.Counter
	StepsSkipped        prometheus.Counter
	Verifications       prometheus.Counter
	Rollbacks           prometheus.Counter
	Violations          prometheus.Counter
}

// NewMetrics registers the executor's counters against reg. Pass
// prometheus.NewRegistry() for isolated test use, or a shared registry
// (e.g. prometheus.DefaultRegisterer) in production.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StepsExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_steps_executed_total",
			Help: "Total steps the executor has attempted.",
		}),
		StepsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_steps_succeeded_total",
			Help: "Total steps that completed and verified successfully.",
		}),
		StepsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_steps_failed_total",
			Help: "Total steps that failed execution, verification, or recovery.",
		}),
		StepsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_steps_skipped_total",
			Help: "Total steps skipped by a Skip recovery strategy.",
		}),
		Verifications: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_verifications_total",
			Help: "Total verification strategy invocations.",
		}),
		Rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_rollbacks_total",
			Help: "Total rollbacks performed by a Rollback recovery strategy.",
		}),
		Violations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_violations_total",
			Help: "Total capability bound violations recorded.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.StepsExecuted, m.StepsSucceeded, m.StepsFailed, m.StepsSkipped, m.Verifications, m.Rollbacks, m.Violations)
	}
	return m
}
