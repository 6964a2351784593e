package strategy

import (
	"sort"

	"github.com/shopspring/decimal"

	"sol-portfolio-agent/internal/config"
)

type Evaluator struct {
	target      map[string]decimal.Decimal
	tolerance   decimal.Decimal
	reserve     string
	minReserve  uint64
	slippageBps int
	riskCeiling int
}

func NewEvaluator(cfg config.StrategyConfig) *Evaluator {
	target := make(map[string]decimal.Decimal, len(cfg.TargetAllocation))
	for asset, pct := range cfg.TargetAllocation {
		target[asset] = decimal.NewFromFloat(pct)
	}
	return &Evaluator{
		target:      target,
		tolerance:   decimal.NewFromFloat(cfg.DriftTolerancePct),
		reserve:     cfg.ReserveAsset,
		minReserve:  cfg.MinReserve,
		slippageBps: cfg.DefaultSlippageBps,
		riskCeiling: cfg.ConservativeRiskCeiling,
	}
}

// Evaluate is pure with respect to its inputs: no hidden state, no I/O.
// High or extreme volatility and bearish trends route to the
// conservative policy, everything else to the balanced policy.
func (e *Evaluator) Evaluate(snap PortfolioSnapshot, cond MarketCondition, opps []Opportunity) Evaluation {
	if snap.TotalValueUSD.Sign() <= 0 {
		return Evaluation{
			Confidence:  cond.Confidence,
			Explanation: "portfolio has no value; nothing to do",
		}
	}
	if cond.Volatility == VolatilityHigh || cond.Volatility == VolatilityExtreme || cond.Trend == TrendBearish {
		return e.conservative(snap, cond, opps)
	}
	return e.balanced(snap, cond, opps)
}

// Drift is the deviation of current allocation from target allocation,
// in percentage points. Positive means overweight.
type Drift struct {
	Asset  string
	Pct    decimal.Decimal
	Target decimal.Decimal
}

// Drifts returns one entry per asset in the target allocation, sorted
// by descending absolute drift, ties broken by asset name.
func (e *Evaluator) Drifts(snap PortfolioSnapshot) []Drift {
	drifts := make([]Drift, 0, len(e.target))
	for asset, target := range e.target {
		drifts = append(drifts, Drift{
			Asset:  asset,
			Pct:    snap.AllocationPct(asset).Sub(target),
			Target: target,
		})
	}
	sort.Slice(drifts, func(i, j int) bool {
		ai, aj := drifts[i].Pct.Abs(), drifts[j].Pct.Abs()
		if !ai.Equal(aj) {
			return ai.GreaterThan(aj)
		}
		return drifts[i].Asset < drifts[j].Asset
	})
	return drifts
}

// clampToReserve limits an amount of the reserve asset so the held
// balance never drops below the configured minimum reserve.
func (e *Evaluator) clampToReserve(asset string, held, amount uint64) uint64 {
	if asset != e.reserve {
		if amount > held {
			return held
		}
		return amount
	}
	if held <= e.minReserve {
		return 0
	}
	spendable := held - e.minReserve
	if amount > spendable {
		return spendable
	}
	return amount
}

func bestYieldOpportunity(opps []Opportunity, asset string, ceiling int) (Opportunity, bool) {
	var best Opportunity
	found := false
	for _, opp := range opps {
		if opp.Kind != ActionStake && opp.Kind != ActionLend {
			continue
		}
		if asset != "" && opp.Asset != asset {
			continue
		}
		if ceiling > 0 && opp.RiskScore > ceiling {
			continue
		}
		if !found || opp.APYPct.GreaterThan(best.APYPct) {
			best = opp
			found = true
		}
	}
	return best, found
}
