package risk

import (
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"sol-portfolio-agent/internal/config"
	"sol-portfolio-agent/internal/strategy"
)

const (
	CheckPositionSize  = "position_size_pct"
	CheckSlippage      = "slippage_bps"
	CheckReserve       = "post_action_reserve"
	CheckVenueExposure = "venue_exposure_pct"
)

// RejectedDailyLimit is the verdict summary used for every action
// while the circuit breaker is engaged; operators distinguish it from
// a per-action rejection.
const RejectedDailyLimit = "rejected: daily limit"

type Limits struct {
	MaxPositionSizePct  decimal.Decimal
	MaxSlippageBps      int
	ReserveAsset        string
	MinReserve          uint64
	MaxVenueExposurePct decimal.Decimal
	MaxDailyLossPct     decimal.Decimal
	MaxFailedExecutions int
}

func LimitsFromConfig(cfg config.RiskConfig, reserveAsset string) Limits {
	return Limits{
		MaxPositionSizePct:  decimal.NewFromFloat(cfg.MaxPositionSizePct),
		MaxSlippageBps:      cfg.MaxSlippageBps,
		ReserveAsset:        reserveAsset,
		MinReserve:          cfg.MinReserve,
		MaxVenueExposurePct: decimal.NewFromFloat(cfg.MaxVenueExposurePct),
		MaxDailyLossPct:     decimal.NewFromFloat(cfg.MaxDailyLossPct),
		MaxFailedExecutions: cfg.MaxFailedExecutions,
	}
}

// Check records one named limit evaluation. Every check is recorded
// regardless of pass/fail so the audit trail is complete; only the
// breaker fast path skips them.
type Check struct {
	Name     string
	Passed   bool
	Observed decimal.Decimal
	Limit    decimal.Decimal
}

type Verdict struct {
	ActionID uuid.UUID
	Approved bool
	Score    int
	Checks   []Check
	Summary  string
}

// Gate validates proposed actions against the configured limits and
// the circuit breaker. BeginCycle resets the per-cycle venue exposure
// accumulation; the control loop is the only caller.
type Gate struct {
	limits  Limits
	breaker *Breaker
	log     *zap.Logger

	venueUSD map[string]decimal.Decimal
}

func NewGate(limits Limits, breaker *Breaker, log *zap.Logger) *Gate {
	return &Gate{
		limits:   limits,
		breaker:  breaker,
		log:      log,
		venueUSD: make(map[string]decimal.Decimal),
	}
}

func (g *Gate) Limits() Limits { return g.limits }

func (g *Gate) Breaker() *Breaker { return g.breaker }

func (g *Gate) BeginCycle() {
	g.venueUSD = make(map[string]decimal.Decimal)
}

// Validate runs every check and approves only when all pass. While the
// breaker is engaged it short-circuits to a rejection without running
// the checks.
func (g *Gate) Validate(action strategy.ProposedAction, snap strategy.PortfolioSnapshot) Verdict {
	if g.breaker != nil {
		if engaged, _ := g.breaker.Engaged(time.Now()); engaged {
			return Verdict{
				ActionID: action.ID,
				Approved: false,
				Score:    100,
				Summary:  RejectedDailyLimit,
			}
		}
	}

	holding, _ := snap.Holding(action.Asset)
	actionUSD := strategy.BaseUnitsValueUSD(action.Amount, holding.Decimals, holding.PriceUSD)

	checks := []Check{
		g.checkPositionSize(actionUSD, snap),
		g.checkSlippage(action),
		g.checkReserve(action, snap),
		g.checkVenueExposure(action, actionUSD, snap),
	}

	approved := true
	failed := ""
	for _, c := range checks {
		if !c.Passed {
			approved = false
			if failed == "" {
				failed = c.Name
			}
		}
	}

	summary := "approved"
	if !approved {
		summary = fmt.Sprintf("rejected: %s", failed)
	} else if action.Venue != "" {
		g.venueUSD[action.Venue] = g.venueUSD[action.Venue].Add(actionUSD)
	}

	return Verdict{
		ActionID: action.ID,
		Approved: approved,
		Score:    riskScore(checks),
		Checks:   checks,
		Summary:  summary,
	}
}

func (g *Gate) checkPositionSize(actionUSD decimal.Decimal, snap strategy.PortfolioSnapshot) Check {
	observed := decimal.Zero
	if snap.TotalValueUSD.Sign() > 0 {
		observed = actionUSD.Div(snap.TotalValueUSD).Mul(decimal.NewFromInt(100))
	}
	return Check{
		Name:     CheckPositionSize,
		Passed:   observed.LessThanOrEqual(g.limits.MaxPositionSizePct),
		Observed: observed,
		Limit:    g.limits.MaxPositionSizePct,
	}
}

func (g *Gate) checkSlippage(action strategy.ProposedAction) Check {
	limit := decimal.NewFromInt(int64(g.limits.MaxSlippageBps))
	observed := decimal.NewFromInt(int64(action.MaxSlippageBps))
	return Check{
		Name:     CheckSlippage,
		Passed:   action.MaxSlippageBps <= g.limits.MaxSlippageBps,
		Observed: observed,
		Limit:    limit,
	}
}

// checkReserve projects the reserve-asset balance after the action.
// Non-reserve actions leave the reserve untouched and pass on the
// current balance.
func (g *Gate) checkReserve(action strategy.ProposedAction, snap strategy.PortfolioSnapshot) Check {
	reserve, _ := snap.Holding(g.limits.ReserveAsset)
	projected := reserve.Amount
	if action.Asset == g.limits.ReserveAsset {
		if action.Amount >= projected {
			projected = 0
		} else {
			projected -= action.Amount
		}
	}
	return Check{
		Name:     CheckReserve,
		Passed:   projected >= g.limits.MinReserve,
		Observed: decimal.NewFromBigInt(new(big.Int).SetUint64(projected), 0),
		Limit:    decimal.NewFromBigInt(new(big.Int).SetUint64(g.limits.MinReserve), 0),
	}
}

func (g *Gate) checkVenueExposure(action strategy.ProposedAction, actionUSD decimal.Decimal, snap strategy.PortfolioSnapshot) Check {
	exposure := g.venueUSD[action.Venue].Add(actionUSD)
	observed := decimal.Zero
	if snap.TotalValueUSD.Sign() > 0 {
		observed = exposure.Div(snap.TotalValueUSD).Mul(decimal.NewFromInt(100))
	}
	return Check{
		Name:     CheckVenueExposure,
		Passed:   observed.LessThanOrEqual(g.limits.MaxVenueExposurePct),
		Observed: observed,
		Limit:    g.limits.MaxVenueExposurePct,
	}
}

// riskScore maps limit utilization to 0-100: the hotter the worst
// check runs against its limit, the higher the score.
func riskScore(checks []Check) int {
	worst := decimal.Zero
	for _, c := range checks {
		if c.Limit.Sign() <= 0 {
			continue
		}
		util := c.Observed.Div(c.Limit)
		if c.Name == CheckReserve {
			// Reserve is a floor, not a ceiling: low balance is risky.
			if c.Observed.Sign() <= 0 {
				util = decimal.NewFromInt(1)
			} else {
				util = c.Limit.Div(c.Observed)
			}
		}
		if util.GreaterThan(worst) {
			worst = util
		}
	}
	score := worst.Mul(decimal.NewFromInt(100)).IntPart()
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return int(score)
}
