package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	CyclesRun           Counter
	CycleErrors         Counter
	ActionsProposed     Counter
	ActionsApproved     Counter
	ActionsRejected     Counter
	ExecutionsConfirmed Counter
	ExecutionsFailed    Counter
	BreakerTripped      Counter
	BreakerReset        Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		CyclesRun:           n,
		CycleErrors:         n,
		ActionsProposed:     n,
		ActionsApproved:     n,
		ActionsRejected:     n,
		ExecutionsConfirmed: n,
		ExecutionsFailed:    n,
		BreakerTripped:      n,
		BreakerReset:        n,
	}
}
