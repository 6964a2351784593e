package strategy

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// balanced corrects allocation drift against the target distribution.
// One corrective action is emitted per overweight asset beyond the
// tolerance, largest drift first; underweight assets are corrected as
// swap counterparties, capped by their remaining shortfall so a
// hypothetical application never pushes any asset past its target.
// When nothing drifts beyond tolerance, at most one yield-improving
// action is proposed, and only if it widens no drift past tolerance.
func (e *Evaluator) balanced(snap PortfolioSnapshot, cond MarketCondition, opps []Opportunity) Evaluation {
	drifts := e.Drifts(snap)
	shortfalls := make(map[string]decimal.Decimal)
	for _, d := range drifts {
		if d.Pct.Sign() < 0 {
			shortfalls[d.Asset] = d.Pct.Neg().Div(hundred).Mul(snap.TotalValueUSD)
		}
	}

	var actions []ProposedAction
	now := time.Now().UTC()
	for _, d := range drifts {
		if d.Pct.LessThanOrEqual(e.tolerance) {
			continue
		}
		holding, ok := snap.Holding(d.Asset)
		if !ok || holding.PriceUSD.Sign() <= 0 {
			continue
		}
		excessUSD := d.Pct.Div(hundred).Mul(snap.TotalValueUSD)

		if opp, ok := bestYieldOpportunity(opps, d.Asset, 0); ok {
			amount := BaseUnitsForValueUSD(excessUSD, holding.Decimals, holding.PriceUSD)
			amount = e.clampToReserve(d.Asset, holding.Amount, amount)
			if amount == 0 {
				continue
			}
			actions = append(actions, ProposedAction{
				ID:             uuid.New(),
				Kind:           opp.Kind,
				Venue:          opp.Venue,
				Rationale:      fmt.Sprintf("%s overweight by %s pts; %s excess at %s%% APY", d.Asset, d.Pct.StringFixed(2), opp.Kind, opp.APYPct.StringFixed(2)),
				Asset:          d.Asset,
				Amount:         amount,
				MaxSlippageBps: e.slippageBps,
				Priority:       len(actions) + 1,
				Created:        now,
			})
			continue
		}

		counter, shortfallUSD := largestShortfall(shortfalls)
		if counter == "" {
			continue
		}
		moveUSD := decimal.Min(excessUSD, shortfallUSD)
		amount := BaseUnitsForValueUSD(moveUSD, holding.Decimals, holding.PriceUSD)
		amount = e.clampToReserve(d.Asset, holding.Amount, amount)
		if amount == 0 {
			continue
		}
		shortfalls[counter] = shortfallUSD.Sub(moveUSD)
		actions = append(actions, ProposedAction{
			ID:             uuid.New(),
			Kind:           ActionSwap,
			Rationale:      fmt.Sprintf("%s overweight by %s pts; swap toward underweight %s", d.Asset, d.Pct.StringFixed(2), counter),
			Asset:          d.Asset,
			CounterAsset:   counter,
			Amount:         amount,
			MaxSlippageBps: e.slippageBps,
			Priority:       len(actions) + 1,
			Created:        now,
		})
	}

	if len(actions) > 0 {
		return Evaluation{
			Actions:     actions,
			Confidence:  cond.Confidence,
			Explanation: fmt.Sprintf("balanced: %d corrective action(s) against target allocation", len(actions)),
			RiskScore:   40,
		}
	}

	if action, yield, ok := e.opportunisticYield(snap, opps, now); ok {
		return Evaluation{
			Actions:          []ProposedAction{action},
			Confidence:       cond.Confidence,
			Explanation:      "balanced: allocation within tolerance; one yield improvement",
			ExpectedYieldPct: yield,
			RiskScore:        30,
		}
	}

	return Evaluation{
		Confidence:  cond.Confidence,
		Explanation: "balanced: allocation within tolerance; no safe improvement available",
		RiskScore:   10,
	}
}

// opportunisticYield proposes at most one stake/lend action sized so
// the asset's allocation cannot drift past tolerance even if staked
// value leaves the measured portfolio.
func (e *Evaluator) opportunisticYield(snap PortfolioSnapshot, opps []Opportunity, now time.Time) (ProposedAction, decimal.Decimal, bool) {
	opp, ok := bestYieldOpportunity(opps, "", 0)
	if !ok {
		return ProposedAction{}, decimal.Zero, false
	}
	holding, ok := snap.Holding(opp.Asset)
	if !ok || holding.PriceUSD.Sign() <= 0 || holding.Amount == 0 {
		return ProposedAction{}, decimal.Zero, false
	}
	drift := decimal.Zero
	if target, ok := e.target[opp.Asset]; ok {
		drift = snap.AllocationPct(opp.Asset).Sub(target)
	}
	headroomUSD := drift.Add(e.tolerance).Div(hundred).Mul(snap.TotalValueUSD)
	if headroomUSD.Sign() <= 0 {
		return ProposedAction{}, decimal.Zero, false
	}
	amount := BaseUnitsForValueUSD(headroomUSD, holding.Decimals, holding.PriceUSD)
	amount = e.clampToReserve(opp.Asset, holding.Amount, amount)
	if amount == 0 {
		return ProposedAction{}, decimal.Zero, false
	}
	return ProposedAction{
		ID:             uuid.New(),
		Kind:           opp.Kind,
		Venue:          opp.Venue,
		Rationale:      fmt.Sprintf("idle %s earns nothing; %s at %s%% APY within drift tolerance", opp.Asset, opp.Kind, opp.APYPct.StringFixed(2)),
		Asset:          opp.Asset,
		Amount:         amount,
		MaxSlippageBps: e.slippageBps,
		Priority:       1,
		Created:        now,
	}, opp.APYPct, true
}

func largestShortfall(shortfalls map[string]decimal.Decimal) (string, decimal.Decimal) {
	var asset string
	best := decimal.Zero
	for a, v := range shortfalls {
		if v.GreaterThan(best) || (v.Equal(best) && v.Sign() > 0 && (asset == "" || a < asset)) {
			asset, best = a, v
		}
	}
	return asset, best
}
