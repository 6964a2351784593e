package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "portfolio_agent"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(c)
		return c
	}

	m := &Metrics{
		CyclesRun:           promCounter{counter("cycles_total", "Total number of control-loop cycles started.")},
		CycleErrors:         promCounter{counter("cycle_errors_total", "Total number of cycles that failed.")},
		ActionsProposed:     promCounter{counter("actions_proposed_total", "Total number of actions proposed by the strategy evaluator.")},
		ActionsApproved:     promCounter{counter("actions_approved_total", "Total number of actions approved by the risk gate.")},
		ActionsRejected:     promCounter{counter("actions_rejected_total", "Total number of actions rejected by the risk gate.")},
		ExecutionsConfirmed: promCounter{counter("executions_confirmed_total", "Total number of confirmed executions.")},
		ExecutionsFailed:    promCounter{counter("executions_failed_total", "Total number of failed executions.")},
		BreakerTripped:      promCounter{counter("breaker_tripped_total", "Total number of circuit breaker engagements.")},
		BreakerReset:        promCounter{counter("breaker_reset_total", "Total number of circuit breaker operator resets.")},
	}

	return &Prometheus{Metrics: m, registry: registry}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
