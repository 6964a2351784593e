package strategy

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// conservative restricts proposals to the lowest-risk opportunity
// kinds under the configured risk ceiling and defaults to a no-op when
// no clearly safe improvement exists.
func (e *Evaluator) conservative(snap PortfolioSnapshot, cond MarketCondition, opps []Opportunity) Evaluation {
	confidence := cond.Confidence
	if confidence > 60 {
		confidence = 60
	}

	best, found := lowestRiskOpportunity(opps, e.riskCeiling)
	if !found {
		return Evaluation{
			Confidence:  confidence,
			Explanation: "conservative: no opportunity under the risk ceiling; holding",
			RiskScore:   5,
		}
	}
	holding, ok := snap.Holding(best.Asset)
	if !ok || holding.PriceUSD.Sign() <= 0 || holding.Amount == 0 {
		return Evaluation{
			Confidence:  confidence,
			Explanation: fmt.Sprintf("conservative: %s not held; holding", best.Asset),
			RiskScore:   5,
		}
	}
	amount := e.clampToReserve(best.Asset, holding.Amount, holding.Amount)
	if amount == 0 {
		return Evaluation{
			Confidence:  confidence,
			Explanation: "conservative: reserve floor leaves nothing to deploy; holding",
			RiskScore:   5,
		}
	}

	riskScore := best.RiskScore
	if riskScore > e.riskCeiling {
		riskScore = e.riskCeiling
	}
	return Evaluation{
		Actions: []ProposedAction{{
			ID:             uuid.New(),
			Kind:           best.Kind,
			Venue:          best.Venue,
			Rationale:      fmt.Sprintf("defensive %s of %s at %s%% APY (risk %d)", best.Kind, best.Asset, best.APYPct.StringFixed(2), best.RiskScore),
			Asset:          best.Asset,
			Amount:         amount,
			MaxSlippageBps: e.slippageBps,
			Priority:       1,
			Created:        time.Now().UTC(),
		}},
		Confidence:       confidence,
		Explanation:      "conservative: one low-risk yield position",
		ExpectedYieldPct: best.APYPct,
		RiskScore:        riskScore,
	}
}

func lowestRiskOpportunity(opps []Opportunity, ceiling int) (Opportunity, bool) {
	var best Opportunity
	found := false
	for _, opp := range opps {
		if opp.Kind != ActionStake && opp.Kind != ActionLend {
			continue
		}
		if ceiling > 0 && opp.RiskScore > ceiling {
			continue
		}
		if !found || opp.RiskScore < best.RiskScore ||
			(opp.RiskScore == best.RiskScore && opp.APYPct.GreaterThan(best.APYPct)) {
			best = opp
			found = true
		}
	}
	return best, found
}
