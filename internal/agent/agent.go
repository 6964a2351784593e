package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"sol-portfolio-agent/internal/analysis"
	"sol-portfolio-agent/internal/config"
	"sol-portfolio-agent/internal/engine"
	"sol-portfolio-agent/internal/export"
	"sol-portfolio-agent/internal/ledger"
	"sol-portfolio-agent/internal/market"
	"sol-portfolio-agent/internal/metrics"
	"sol-portfolio-agent/internal/registry"
	"sol-portfolio-agent/internal/risk"
	"sol-portfolio-agent/internal/state"
	"sol-portfolio-agent/internal/strategy"
)

type Phase string

const (
	PhaseIdle      Phase = "IDLE"
	PhaseObserving Phase = "OBSERVING"
	PhaseOrienting Phase = "ORIENTING"
	PhaseDeciding  Phase = "DECIDING"
	PhaseActing    Phase = "ACTING"
)

const (
	traceDecision = "decision"
	traceHalt     = "halt"
)

// Deps are the external collaborators the loop orchestrates. Analyzer
// and Exporter may be nil; Metrics defaults to no-op counters.
type Deps struct {
	Source   market.DataSource
	Analyzer analysis.Analyzer
	Registry *registry.Registry
	Chain    engine.ChainClient
	Store    state.Store
	Metrics  *metrics.Metrics
	Exporter *export.Writer
}

// Agent runs the perpetual observe/orient/decide/act cycle. Cycles
// never overlap; a failed cycle is logged and the next one starts on
// schedule.
type Agent struct {
	cfg       *config.Config
	log       *zap.Logger
	source    market.DataSource
	analyzer  analysis.Analyzer
	registry  *registry.Registry
	evaluator *strategy.Evaluator
	gate      *risk.Gate
	breaker   *risk.Breaker
	engine    *engine.Engine
	ledger    *ledger.Log
	metrics   *metrics.Metrics
	exporter  *export.Writer
	events    *events

	mu        sync.Mutex
	phase     Phase
	cycles    uint64
	lastCycle time.Time
	lastErr   string
}

// Status is a defensive copy of the loop's observable state.
type Status struct {
	Mode      config.Mode       `json:"mode"`
	Phase     Phase             `json:"phase"`
	Cycles    uint64            `json:"cycles"`
	LastCycle time.Time         `json:"last_cycle,omitempty"`
	LastError string            `json:"last_error,omitempty"`
	Breaker   risk.BreakerState `json:"breaker"`
}

func New(cfg *config.Config, log *zap.Logger, deps Deps) (*Agent, error) {
	if deps.Source == nil {
		return nil, errors.New("data source is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if deps.Chain == nil {
		return nil, errors.New("chain client is required")
	}
	if deps.Store == nil {
		return nil, errors.New("state store is required")
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.NewNoop()
	}
	breaker := risk.NewBreaker(deps.Store, log)
	gate := risk.NewGate(risk.LimitsFromConfig(cfg.Risk, cfg.Strategy.ReserveAsset), breaker, log)
	return &Agent{
		cfg:       cfg,
		log:       log,
		source:    deps.Source,
		analyzer:  deps.Analyzer,
		registry:  deps.Registry,
		evaluator: strategy.NewEvaluator(cfg.Strategy),
		gate:      gate,
		breaker:   breaker,
		engine:    engine.New(deps.Chain, deps.Registry, deps.Store, log, engine.ConfigFrom(cfg.Execution)),
		ledger:    ledger.New(cfg.Ledger.MaxCommitments),
		metrics:   m,
		exporter:  deps.Exporter,
		events:    newEvents(64, log),
		phase:     PhaseIdle,
	}, nil
}

// Events is the fire-and-forget stream of phase transitions and
// commitments. One subscriber; overflow is dropped.
func (a *Agent) Events() <-chan Event {
	return a.events.ch
}

func (a *Agent) Ledger() *ledger.Log { return a.ledger }

func (a *Agent) Breaker() *risk.Breaker { return a.breaker }

// ResetBreaker is the operator override: it clears an engaged circuit
// breaker without waiting for the day rollover.
func (a *Agent) ResetBreaker(ctx context.Context) {
	a.breaker.Reset(ctx)
	a.metrics.BreakerReset.Inc()
	a.log.Info("circuit breaker reset by operator")
}

func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{
		Mode:      a.cfg.Agent.Mode,
		Phase:     a.phase,
		Cycles:    a.cycles,
		LastCycle: a.lastCycle,
		LastError: a.lastErr,
		Breaker:   a.breaker.Snapshot(),
	}
}

// Run blocks until ctx is cancelled. Initialization failure is fatal;
// per-cycle failure is not.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.breaker.Load(ctx); err != nil {
		return fmt.Errorf("load breaker state: %w", err)
	}
	a.log.Info("agent started",
		zap.String("mode", string(a.cfg.Agent.Mode)),
		zap.Duration("interval", a.cfg.Agent.Interval),
		zap.Int("max_actions_per_cycle", a.cfg.Agent.MaxActionsPerCycle),
	)
	a.exporter.Start(ctx)

	ticker := time.NewTicker(a.cfg.Agent.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.runCycle(ctx); err != nil {
				a.metrics.CycleErrors.Inc()
				a.setError(err)
				a.log.Warn("cycle failed", zap.Error(err))
			}
		}
	}
}

func (a *Agent) runCycle(ctx context.Context) error {
	cycle := a.beginCycle()
	defer a.setPhase(cycle, PhaseIdle)
	a.metrics.CyclesRun.Inc()

	snap, signals, opps, err := a.observe(ctx)
	if err != nil {
		return err
	}

	a.setPhase(cycle, PhaseOrienting)
	cond := a.orient(ctx, snap, signals)

	a.setPhase(cycle, PhaseDeciding)
	now := time.Now().UTC()
	halted, haltReason := a.breaker.Engaged(now)
	a.gate.BeginCycle()
	eval := a.evaluator.Evaluate(snap, cond, opps)
	approved, rejected := a.decide(eval, snap)

	a.setPhase(cycle, PhaseActing)
	outcomes := a.act(ctx, approved)
	failed := 0
	for _, out := range outcomes {
		if !out.Success {
			failed++
		}
	}
	a.breaker.RecordCycle(ctx, time.Now().UTC(), snap.TotalValueUSD, failed, a.gate.Limits())
	if engaged, _ := a.breaker.Engaged(time.Now().UTC()); engaged && !halted {
		a.metrics.BreakerTripped.Inc()
	}

	a.commit(cycle, snap, cond, eval, approved, rejected, outcomes, halted, haltReason)
	a.mu.Lock()
	a.lastCycle = time.Now().UTC()
	a.lastErr = ""
	a.mu.Unlock()
	return nil
}

// observe fetches the snapshot and market signals. Only a missing
// snapshot fails the cycle; degraded signals or opportunities are
// logged and the cycle continues.
func (a *Agent) observe(ctx context.Context) (strategy.PortfolioSnapshot, market.Signals, []strategy.Opportunity, error) {
	obsCtx, cancel := context.WithTimeout(ctx, a.cfg.Agent.PhaseTimeout)
	defer cancel()
	snap, err := a.source.Snapshot(obsCtx)
	if err != nil {
		return strategy.PortfolioSnapshot{}, market.Signals{}, nil, fmt.Errorf("portfolio snapshot: %w", err)
	}
	signals, err := a.source.Signals(obsCtx)
	if err != nil {
		a.log.Warn("market signals unavailable", zap.Error(err))
		signals = market.Signals{}
	}
	opps, err := a.source.Opportunities(obsCtx)
	if err != nil {
		a.log.Warn("opportunities unavailable", zap.Error(err))
		opps = nil
	}
	return snap, signals, opps, nil
}

// orient derives the market condition. The heuristic always runs; a
// configured analyzer may refine trend and confidence on top of it,
// and any analyzer failure falls back silently to the heuristic.
func (a *Agent) orient(ctx context.Context, snap strategy.PortfolioSnapshot, signals market.Signals) strategy.MarketCondition {
	cond := strategy.Assess(signals.Prices)
	if a.analyzer == nil {
		return cond
	}
	anCtx, cancel := context.WithTimeout(ctx, a.cfg.Analysis.Timeout)
	defer cancel()
	req := analysis.Request{
		TotalValueUSD: snap.TotalValueUSD.String(),
		Allocations:   make(map[string]float64, len(snap.Holdings)),
		Volatility:    string(cond.Volatility),
		Trend:         string(cond.Trend),
	}
	for _, h := range snap.Holdings {
		pct, _ := snap.AllocationPct(h.Asset).Float64()
		req.Allocations[h.Asset] = pct
	}
	if !signals.TVLUSD.IsZero() {
		req.TVLUSD = signals.TVLUSD.String()
	}
	if !signals.VolumeUSD.IsZero() {
		req.VolumeUSD = signals.VolumeUSD.String()
	}
	out, err := a.analyzer.Analyze(anCtx, req)
	if err != nil {
		a.log.Warn("analysis collaborator failed, using heuristic", zap.Error(err))
		return cond
	}
	for _, warning := range out.RiskWarnings {
		a.log.Info("analysis risk warning", zap.String("warning", warning))
	}
	return analysis.Apply(cond, out)
}

// decide runs proposals through the risk gate in priority order,
// stopping once the per-cycle approval limit is reached. A proposal
// with no registered adapter is rejected here, before any submission.
func (a *Agent) decide(eval strategy.Evaluation, snap strategy.PortfolioSnapshot) ([]strategy.ProposedAction, []risk.Verdict) {
	for range eval.Actions {
		a.metrics.ActionsProposed.Inc()
	}
	if eval.Confidence < a.cfg.Agent.MinConfidence {
		a.log.Info("confidence below threshold, dropping all proposals",
			zap.Int("confidence", eval.Confidence),
			zap.Int("threshold", a.cfg.Agent.MinConfidence),
			zap.Int("proposed", len(eval.Actions)),
		)
		return nil, nil
	}
	var approved []strategy.ProposedAction
	var rejected []risk.Verdict
	for _, action := range eval.Actions {
		if len(approved) >= a.cfg.Agent.MaxActionsPerCycle {
			break
		}
		if _, ok := a.registry.FindByAction(action.Kind); !ok {
			a.metrics.ActionsRejected.Inc()
			rejected = append(rejected, risk.Verdict{
				ActionID: action.ID,
				Summary:  fmt.Sprintf("rejected: no adapter for %s", action.Kind),
			})
			continue
		}
		verdict := a.gate.Validate(action, snap)
		if verdict.Approved {
			a.metrics.ActionsApproved.Inc()
			approved = append(approved, action)
		} else {
			a.metrics.ActionsRejected.Inc()
			rejected = append(rejected, verdict)
		}
	}
	return approved, rejected
}

// act executes approved actions with bounded concurrency. In advisory
// mode nothing is executed; approvals are logged as recommendations.
func (a *Agent) act(ctx context.Context, approved []strategy.ProposedAction) []engine.Outcome {
	if len(approved) == 0 {
		return nil
	}
	if a.cfg.Agent.Mode == config.ModeAdvisory {
		for _, action := range approved {
			a.log.Info("advisory recommendation",
				zap.String("action_id", action.ID.String()),
				zap.String("kind", string(action.Kind)),
				zap.String("venue", action.Venue),
				zap.String("asset", action.Asset),
				zap.Uint64("amount", action.Amount),
				zap.String("rationale", action.Rationale),
			)
		}
		return nil
	}
	outcomes := make([]engine.Outcome, len(approved))
	sem := make(chan struct{}, a.cfg.Agent.ActingConcurrency)
	var wg sync.WaitGroup
	for i, action := range approved {
		wg.Add(1)
		go func(i int, action strategy.ProposedAction) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			out := a.engine.Execute(ctx, action)
			outcomes[i] = out
			if out.Success {
				a.metrics.ExecutionsConfirmed.Inc()
			} else {
				a.metrics.ExecutionsFailed.Inc()
			}
			a.exporter.EnqueueExecution(export.ExecutionRecord{
				Time:      time.Now().UTC(),
				ActionID:  action.ID.String(),
				Kind:      string(action.Kind),
				Venue:     action.Venue,
				Asset:     action.Asset,
				Amount:    action.Amount,
				Success:   out.Success,
				Signature: out.Signature,
				Retries:   out.Retries,
				Err:       out.Err,
			})
		}(i, action)
	}
	wg.Wait()
	return outcomes
}

func (a *Agent) commit(
	cycle uint64,
	snap strategy.PortfolioSnapshot,
	cond strategy.MarketCondition,
	eval strategy.Evaluation,
	approved []strategy.ProposedAction,
	rejected []risk.Verdict,
	outcomes []engine.Outcome,
	halted bool,
	haltReason string,
) {
	kind := traceDecision
	reasoning := fmt.Sprintf("%s/%s volatility=%s: %s", cond.Strategy, cond.Trend, cond.Volatility, eval.Explanation)
	if halted {
		kind = traceHalt
		reasoning = "circuit breaker engaged: " + haltReason
	}
	trace := ledger.DecisionTrace{
		Kind:         kind,
		Cycle:        cycle,
		Phase:        string(PhaseActing),
		PortfolioUSD: snap.TotalValueUSD.String(),
		Reasoning:    reasoning,
		At:           time.Now().UTC(),
	}
	for _, action := range eval.Actions {
		trace.Proposed = append(trace.Proposed, action.ID.String())
	}
	for _, action := range approved {
		trace.Approved = append(trace.Approved, action.ID.String())
	}
	for _, verdict := range rejected {
		trace.Rejected = append(trace.Rejected, verdict.ActionID.String()+": "+verdict.Summary)
	}
	for _, out := range outcomes {
		status := "failed"
		if out.Success {
			status = "confirmed"
		}
		trace.Reasoning += fmt.Sprintf("; %s %s sig=%s", out.ActionID, status, out.Signature)
	}
	commitment, err := a.ledger.Commit(trace)
	if err != nil {
		a.log.Warn("commitment failed", zap.Error(err))
		return
	}
	a.exporter.EnqueueCommitment(commitment)
	a.events.publish(Event{
		Kind:   EventCommitment,
		Cycle:  cycle,
		Phase:  PhaseActing,
		Detail: commitment.Hash,
		At:     commitment.Committed,
	})
}

// beginCycle increments the cycle count on entry to OBSERVING, so a
// cycle that later fails still counts.
func (a *Agent) beginCycle() uint64 {
	a.mu.Lock()
	a.cycles++
	cycle := a.cycles
	a.phase = PhaseObserving
	a.mu.Unlock()
	a.events.publish(Event{Kind: EventPhase, Cycle: cycle, Phase: PhaseObserving, At: time.Now().UTC()})
	return cycle
}

func (a *Agent) setPhase(cycle uint64, phase Phase) {
	a.mu.Lock()
	a.phase = phase
	a.mu.Unlock()
	a.events.publish(Event{Kind: EventPhase, Cycle: cycle, Phase: phase, At: time.Now().UTC()})
}

func (a *Agent) setError(err error) {
	a.mu.Lock()
	a.lastErr = err.Error()
	cycle := a.cycles
	a.mu.Unlock()
	a.events.publish(Event{Kind: EventError, Cycle: cycle, Detail: err.Error(), At: time.Now().UTC()})
}
