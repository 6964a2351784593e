package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sol-portfolio-agent/internal/config"
	"sol-portfolio-agent/internal/registry"
	"sol-portfolio-agent/internal/state"
	"sol-portfolio-agent/internal/strategy"
)

type Phase string

const (
	PhaseBuilding   Phase = "BUILDING"
	PhaseSimulating Phase = "SIMULATING"
	PhaseSending    Phase = "SENDING"
	PhaseConfirming Phase = "CONFIRMING"
	PhaseConfirmed  Phase = "CONFIRMED"
	PhaseFailed     Phase = "FAILED"
)

// ErrStaleReference marks the expired-block-reference class of send
// failure. Chain clients wrap it so the engine can rebuild and resend.
var ErrStaleReference = errors.New("stale reference")

// Outcome is the terminal result of executing one approved action.
type Outcome struct {
	ActionID      uuid.UUID
	Success       bool
	Signature     string
	UnitsConsumed uint64
	Err           string
	Retries       int
}

type Budget struct {
	UnitLimit   uint32
	PriorityFee uint64
}

// Submission is one fully built attempt: a fresh reference, the
// idempotence ref, the declared budget, and the instruction list with
// the budget instructions prefixed.
type Submission struct {
	Reference    string
	ClientRef    string
	Budget       Budget
	Instructions []registry.Instruction
}

type SimulationResult struct {
	UnitsConsumed uint64
	Err           string
}

type ChainClient interface {
	LatestReference(ctx context.Context) (string, error)
	Simulate(ctx context.Context, sub Submission) (SimulationResult, error)
	Send(ctx context.Context, sub Submission) (string, error)
	Confirm(ctx context.Context, signature string) error
	// LookupReference reports whether a prior submission carrying the
	// client ref already landed, so a retry never double-submits.
	LookupReference(ctx context.Context, clientRef string) (string, bool, error)
}

type Config struct {
	MaxRetries     int
	ConfirmTimeout time.Duration
	RetryBackoff   time.Duration
	Budget         Budget
}

func ConfigFrom(cfg config.ExecutionConfig) Config {
	return Config{
		MaxRetries:     cfg.MaxRetries,
		ConfirmTimeout: cfg.ConfirmTimeout,
		RetryBackoff:   cfg.RetryBackoff,
		Budget:         Budget{UnitLimit: cfg.ComputeUnitLimit, PriorityFee: cfg.PriorityFee},
	}
}

type Engine struct {
	chain ChainClient
	reg   *registry.Registry
	store state.Store
	log   *zap.Logger
	cfg   Config

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	cache map[string]string
}

func New(chain ChainClient, reg *registry.Registry, store state.Store, log *zap.Logger, cfg Config) *Engine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 30 * time.Second
	}
	return &Engine{
		chain: chain,
		reg:   reg,
		store: store,
		log:   log,
		cfg:   cfg,
		locks: make(map[string]*sync.Mutex),
		cache: make(map[string]string),
	}
}

// Execute turns one approved action into a terminal outcome. Calls for
// distinct venue+asset targets may run concurrently; calls for the
// same target serialize.
func (e *Engine) Execute(ctx context.Context, action strategy.ProposedAction) Outcome {
	lock := e.targetLock(action.Venue + "/" + action.Asset)
	lock.Lock()
	defer lock.Unlock()

	clientRef := action.ID.String()
	if sig, ok := e.knownSignature(ctx, clientRef); ok {
		return Outcome{ActionID: action.ID, Success: true, Signature: sig}
	}

	adapter, ok := e.resolveAdapter(action)
	if !ok {
		return Outcome{ActionID: action.ID, Err: fmt.Sprintf("no adapter for venue %q kind %q", action.Venue, action.Kind)}
	}

	instructions, err := adapter.BuildInstructions(ctx, action)
	if err != nil {
		return Outcome{ActionID: action.ID, Err: fmt.Sprintf("build: %v", err)}
	}
	instructions = append(budgetInstructions(e.cfg.Budget), instructions...)

	retries := 0
	backoff := e.cfg.RetryBackoff
	var lastErr error
	for {
		outcome, retryable, err := e.attempt(ctx, action, clientRef, instructions, retries)
		if err == nil {
			return outcome
		}
		if !retryable {
			return Outcome{ActionID: action.ID, Err: err.Error(), Retries: retries}
		}
		lastErr = err
		retries++
		if retries >= e.cfg.MaxRetries {
			return Outcome{ActionID: action.ID, Err: lastErr.Error(), Retries: e.cfg.MaxRetries}
		}
		if e.log != nil {
			e.log.Warn("submission failed; rebuilding",
				zap.String("action_id", clientRef),
				zap.Int("retries", retries),
				zap.Error(lastErr),
			)
		}
		// A prior attempt may have landed before we observed failure.
		if sig, found, lookupErr := e.chain.LookupReference(ctx, clientRef); lookupErr == nil && found {
			e.rememberSignature(ctx, clientRef, sig)
			return Outcome{ActionID: action.ID, Success: true, Signature: sig, Retries: retries}
		}
		select {
		case <-ctx.Done():
			return Outcome{ActionID: action.ID, Err: ctx.Err().Error(), Retries: retries}
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// attempt runs one pass of the per-submission state machine. A nil
// error carries the terminal outcome; retryable distinguishes send
// failures from simulation aborts.
func (e *Engine) attempt(ctx context.Context, action strategy.ProposedAction, clientRef string, instructions []registry.Instruction, retries int) (Outcome, bool, error) {
	ref, err := e.chain.LatestReference(ctx)
	if err != nil {
		return Outcome{}, true, fmt.Errorf("reference: %w", err)
	}
	sub := Submission{
		Reference:    ref,
		ClientRef:    clientRef,
		Budget:       e.cfg.Budget,
		Instructions: instructions,
	}

	sim, err := e.chain.Simulate(ctx, sub)
	if err != nil {
		return Outcome{}, false, fmt.Errorf("simulate: %w", err)
	}
	if sim.Err != "" {
		// The transaction as built is invalid; sending it would only
		// burn fees.
		return Outcome{}, false, fmt.Errorf("simulate: %s", sim.Err)
	}

	sig, err := e.chain.Send(ctx, sub)
	if err != nil {
		return Outcome{}, true, fmt.Errorf("send: %w", err)
	}

	confirmCtx, cancel := context.WithTimeout(ctx, e.cfg.ConfirmTimeout)
	err = e.chain.Confirm(confirmCtx, sig)
	cancel()
	if err != nil {
		return Outcome{}, false, fmt.Errorf("confirm %s: %w", sig, err)
	}

	e.rememberSignature(ctx, clientRef, sig)
	return Outcome{
		ActionID:      action.ID,
		Success:       true,
		Signature:     sig,
		UnitsConsumed: sim.UnitsConsumed,
		Retries:       retries,
	}, false, nil
}

func (e *Engine) resolveAdapter(action strategy.ProposedAction) (registry.Adapter, bool) {
	if action.Venue != "" {
		return e.reg.Get(action.Venue)
	}
	return e.reg.FindByAction(action.Kind)
}

func (e *Engine) targetLock(target string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[target]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[target] = lock
	}
	return lock
}

func (e *Engine) knownSignature(ctx context.Context, clientRef string) (string, bool) {
	e.mu.Lock()
	sig, ok := e.cache[clientRef]
	e.mu.Unlock()
	if ok {
		return sig, true
	}
	if e.store == nil {
		return "", false
	}
	sig, ok, err := e.store.Get(ctx, "execref:"+clientRef)
	if err != nil || !ok {
		return "", false
	}
	e.mu.Lock()
	e.cache[clientRef] = sig
	e.mu.Unlock()
	return sig, true
}

func (e *Engine) rememberSignature(ctx context.Context, clientRef, sig string) {
	e.mu.Lock()
	e.cache[clientRef] = sig
	e.mu.Unlock()
	if e.store == nil {
		return
	}
	if err := e.store.Set(ctx, "execref:"+clientRef, sig); err != nil && e.log != nil {
		e.log.Warn("failed to persist execution ref", zap.Error(err))
	}
}

const computeBudgetProgram = "ComputeBudget111111111111111111111111111111"

// budgetInstructions declares an explicit unit limit and priority fee
// ahead of every submission so execution never fails on an implicit
// default budget.
func budgetInstructions(b Budget) []registry.Instruction {
	limitData := make([]byte, 5)
	limitData[0] = 2 // SetComputeUnitLimit
	binary.LittleEndian.PutUint32(limitData[1:], b.UnitLimit)

	priceData := make([]byte, 9)
	priceData[0] = 3 // SetComputeUnitPrice
	binary.LittleEndian.PutUint64(priceData[1:], b.PriorityFee)

	return []registry.Instruction{
		{Program: computeBudgetProgram, Data: limitData},
		{Program: computeBudgetProgram, Data: priceData},
	}
}
