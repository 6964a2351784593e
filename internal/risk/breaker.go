package risk

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"sol-portfolio-agent/internal/state"
)

const breakerKey = "risk:breaker"

const dayFormat = "2006-01-02"

// BreakerState spans cycles. While Active every proposed action is
// vetoed until an operator reset or the UTC day rolls over; it never
// self-clears mid-day.
type BreakerState struct {
	Active           bool            `json:"active"`
	Reason           string          `json:"reason,omitempty"`
	TrippedAt        time.Time       `json:"tripped_at,omitempty"`
	Day              string          `json:"day"`
	DayStartUSD      decimal.Decimal `json:"day_start_usd"`
	DayLossUSD       decimal.Decimal `json:"day_loss_usd"`
	FailedExecutions int             `json:"failed_executions"`
}

// Breaker owns the circuit-breaker state. Single writer: only the
// control loop's outcome fold mutates it; other readers get copies.
type Breaker struct {
	mu    sync.Mutex
	store state.Store
	log   *zap.Logger
	st    BreakerState
}

func NewBreaker(store state.Store, log *zap.Logger) *Breaker {
	return &Breaker{store: store, log: log}
}

// Load restores persisted state so a restart mid-day cannot bypass an
// engaged breaker.
func (b *Breaker) Load(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	raw, ok, err := b.store.Get(ctx, breakerKey)
	if err != nil || !ok {
		return err
	}
	var st BreakerState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return err
	}
	b.mu.Lock()
	b.st = st
	b.mu.Unlock()
	return nil
}

// Engaged reports whether the breaker vetoes actions right now,
// applying the calendar-day rollover first.
func (b *Breaker) Engaged(now time.Time) (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rolloverLocked(now)
	return b.st.Active, b.st.Reason
}

// RecordCycle folds one cycle's outcomes into the running day state:
// the day's loss is the drop from the first portfolio value seen that
// day, and failed executions accumulate. Trips the breaker past either
// configured threshold.
func (b *Breaker) RecordCycle(ctx context.Context, now time.Time, portfolioUSD decimal.Decimal, failedExecutions int, limits Limits) {
	b.mu.Lock()
	b.rolloverLocked(now)
	if b.st.DayStartUSD.IsZero() && portfolioUSD.Sign() > 0 {
		b.st.DayStartUSD = portfolioUSD
	}
	if b.st.DayStartUSD.Sign() > 0 {
		loss := b.st.DayStartUSD.Sub(portfolioUSD)
		if loss.Sign() > 0 {
			b.st.DayLossUSD = loss
		} else {
			b.st.DayLossUSD = decimal.Zero
		}
	}
	b.st.FailedExecutions += failedExecutions

	if !b.st.Active {
		maxLoss := b.st.DayStartUSD.Mul(limits.MaxDailyLossPct).Div(decimal.NewFromInt(100))
		switch {
		case maxLoss.Sign() > 0 && b.st.DayLossUSD.GreaterThan(maxLoss):
			b.st.Active = true
			b.st.Reason = "daily limit"
			b.st.TrippedAt = now.UTC()
		case limits.MaxFailedExecutions > 0 && b.st.FailedExecutions > limits.MaxFailedExecutions:
			b.st.Active = true
			b.st.Reason = "daily limit"
			b.st.TrippedAt = now.UTC()
		}
		if b.st.Active && b.log != nil {
			b.log.Warn("circuit breaker tripped",
				zap.String("day_loss_usd", b.st.DayLossUSD.StringFixed(2)),
				zap.Int("failed_executions", b.st.FailedExecutions),
			)
		}
	}
	st := b.st
	b.mu.Unlock()
	b.persist(ctx, st)
}

// Reset is the explicit operator override; it clears the active flag
// but keeps the day counters.
func (b *Breaker) Reset(ctx context.Context) {
	b.mu.Lock()
	b.st.Active = false
	b.st.Reason = ""
	b.st.TrippedAt = time.Time{}
	st := b.st
	b.mu.Unlock()
	b.persist(ctx, st)
}

// Snapshot returns a defensive copy for status pollers.
func (b *Breaker) Snapshot() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st
}

func (b *Breaker) rolloverLocked(now time.Time) {
	day := now.UTC().Format(dayFormat)
	if b.st.Day == day {
		return
	}
	if b.st.Active && b.log != nil {
		b.log.Info("circuit breaker cleared on day rollover", zap.String("day", day))
	}
	b.st = BreakerState{Day: day}
}

func (b *Breaker) persist(ctx context.Context, st BreakerState) {
	if b.store == nil {
		return
	}
	raw, err := json.Marshal(st)
	if err == nil {
		err = b.store.Set(ctx, breakerKey, string(raw))
	}
	if err != nil && b.log != nil {
		b.log.Warn("failed to persist breaker state", zap.Error(err))
	}
}
