package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"sol-portfolio-agent/internal/config"
)

func testEvaluator() *Evaluator {
	return NewEvaluator(config.StrategyConfig{
		TargetAllocation:        map[string]float64{"SOL": 50, "USDC": 50},
		DriftTolerancePct:       5,
		ReserveAsset:            "SOL",
		MinReserve:              100_000_000, // 0.1 SOL
		DefaultSlippageBps:      50,
		ConservativeRiskCeiling: 30,
	})
}

// snapshotFor builds a snapshot holding SOL and USDC at the given USD
// values, with SOL at $100 and USDC at $1.
func snapshotFor(t *testing.T, solUSD, usdcUSD float64) PortfolioSnapshot {
	t.Helper()
	solPrice := decimal.NewFromInt(100)
	usdcPrice := decimal.NewFromInt(1)
	solVal := decimal.NewFromFloat(solUSD)
	usdcVal := decimal.NewFromFloat(usdcUSD)
	return PortfolioSnapshot{
		Holdings: []Holding{
			{Asset: "SOL", Amount: BaseUnitsForValueUSD(solVal, 9, solPrice), Decimals: 9, PriceUSD: solPrice, ValueUSD: solVal},
			{Asset: "USDC", Amount: BaseUnitsForValueUSD(usdcVal, 6, usdcPrice), Decimals: 6, PriceUSD: usdcPrice, ValueUSD: usdcVal},
		},
		TotalValueUSD: solVal.Add(usdcVal),
		Taken:         time.Now().UTC(),
	}
}

func neutral() MarketCondition {
	return MarketCondition{Volatility: VolatilityModerate, Trend: TrendNeutral, Confidence: 70, Strategy: "balanced"}
}

func TestEvaluateZeroPortfolio(t *testing.T) {
	ev := testEvaluator()
	got := ev.Evaluate(PortfolioSnapshot{TotalValueUSD: decimal.Zero}, neutral(), nil)
	if len(got.Actions) != 0 {
		t.Fatalf("expected no actions for zero portfolio, got %d", len(got.Actions))
	}
	if got.Explanation == "" {
		t.Fatalf("expected explanation for zero portfolio")
	}
}

func TestEvaluateEmptyOpportunities(t *testing.T) {
	ev := testEvaluator()
	got := ev.Evaluate(snapshotFor(t, 500, 500), neutral(), nil)
	if len(got.Actions) != 0 {
		t.Fatalf("expected no actions within tolerance without opportunities, got %d", len(got.Actions))
	}
	if got.Confidence != 70 {
		t.Fatalf("expected confidence from market condition, got %d", got.Confidence)
	}
}

func TestEvaluateRoutesConservativeOnHighVolatility(t *testing.T) {
	ev := testEvaluator()
	cond := MarketCondition{Volatility: VolatilityHigh, Trend: TrendNeutral, Confidence: 90}
	got := ev.Evaluate(snapshotFor(t, 800, 200), cond, nil)
	if len(got.Actions) != 0 {
		t.Fatalf("conservative without safe opportunities should hold, got %d actions", len(got.Actions))
	}
	if got.Confidence > 60 {
		t.Fatalf("conservative confidence should be capped, got %d", got.Confidence)
	}
}

func TestEvaluateRoutesConservativeOnBearishTrend(t *testing.T) {
	ev := testEvaluator()
	cond := MarketCondition{Volatility: VolatilityLow, Trend: TrendBearish, Confidence: 50}
	opps := []Opportunity{
		{Venue: "marinade", Kind: ActionStake, Asset: "SOL", APYPct: decimal.NewFromInt(7), RiskScore: 20},
		{Venue: "degen-farm", Kind: ActionProvideLiquidity, Asset: "SOL", APYPct: decimal.NewFromInt(90), RiskScore: 85},
	}
	got := ev.Evaluate(snapshotFor(t, 800, 200), cond, opps)
	if len(got.Actions) != 1 {
		t.Fatalf("expected one defensive action, got %d", len(got.Actions))
	}
	if got.Actions[0].Kind != ActionStake || got.Actions[0].Venue != "marinade" {
		t.Fatalf("expected the low-risk stake, got %+v", got.Actions[0])
	}
	if got.RiskScore > 30 {
		t.Fatalf("conservative risk score must stay under the ceiling, got %d", got.RiskScore)
	}
}

func TestBalancedProposesSingleStakeForOverweightBase(t *testing.T) {
	ev := testEvaluator()
	opps := []Opportunity{{Venue: "marinade", Kind: ActionStake, Asset: "SOL", APYPct: decimal.NewFromInt(7), RiskScore: 20}}
	got := ev.Evaluate(snapshotFor(t, 800, 200), neutral(), opps)
	if len(got.Actions) != 1 {
		t.Fatalf("expected exactly one action, got %d", len(got.Actions))
	}
	a := got.Actions[0]
	if a.Kind != ActionStake || a.Asset != "SOL" || a.Venue != "marinade" {
		t.Fatalf("expected a SOL stake on marinade, got %+v", a)
	}
	// Excess is 30% of $1000 at $100/SOL = 3 SOL.
	if a.Amount != 3_000_000_000 {
		t.Fatalf("expected 3 SOL of base units, got %d", a.Amount)
	}
}

func TestBalancedSwapsTowardUnderweightWithoutYield(t *testing.T) {
	ev := testEvaluator()
	got := ev.Evaluate(snapshotFor(t, 800, 200), neutral(), nil)
	if len(got.Actions) != 1 {
		t.Fatalf("expected one corrective swap, got %d", len(got.Actions))
	}
	a := got.Actions[0]
	if a.Kind != ActionSwap || a.Asset != "SOL" || a.CounterAsset != "USDC" {
		t.Fatalf("expected SOL->USDC swap, got %+v", a)
	}
}

func TestBalancedCorrectiveActionsReduceMaxDrift(t *testing.T) {
	ev := NewEvaluator(config.StrategyConfig{
		TargetAllocation:  map[string]float64{"SOL": 40, "USDC": 40, "JUP": 20},
		DriftTolerancePct: 5,
		ReserveAsset:      "SOL",
		DefaultSlippageBps: 50,
	})
	jupPrice := decimal.NewFromInt(2)
	solPrice := decimal.NewFromInt(100)
	usdcPrice := decimal.NewFromInt(1)
	snap := PortfolioSnapshot{
		Holdings: []Holding{
			{Asset: "SOL", Amount: 7_000_000_000, Decimals: 9, PriceUSD: solPrice, ValueUSD: decimal.NewFromInt(700)},
			{Asset: "USDC", Amount: 200_000_000, Decimals: 6, PriceUSD: usdcPrice, ValueUSD: decimal.NewFromInt(200)},
			{Asset: "JUP", Amount: 50_000_000, Decimals: 6, PriceUSD: jupPrice, ValueUSD: decimal.NewFromInt(100)},
		},
		TotalValueUSD: decimal.NewFromInt(1000),
	}
	before := maxDriftPct(ev, snap)
	got := ev.Evaluate(snap, neutral(), nil)
	if len(got.Actions) == 0 {
		t.Fatalf("expected corrective actions")
	}
	after := maxDriftPct(ev, applyHypothetically(snap, got.Actions))
	if !after.LessThan(before) {
		t.Fatalf("expected max drift to strictly decrease: before=%s after=%s", before, after)
	}
}

func maxDriftPct(ev *Evaluator, snap PortfolioSnapshot) decimal.Decimal {
	max := decimal.Zero
	for _, d := range ev.Drifts(snap) {
		if d.Pct.Abs().GreaterThan(max) {
			max = d.Pct.Abs()
		}
	}
	return max
}

// applyHypothetically replays swap actions against a copy of the
// snapshot: value leaves the sold asset and lands on the counter
// asset; totals are unchanged.
func applyHypothetically(snap PortfolioSnapshot, actions []ProposedAction) PortfolioSnapshot {
	out := PortfolioSnapshot{TotalValueUSD: snap.TotalValueUSD, Taken: snap.Taken}
	values := make(map[string]decimal.Decimal)
	meta := make(map[string]Holding)
	for _, h := range snap.Holdings {
		values[h.Asset] = h.ValueUSD
		meta[h.Asset] = h
	}
	for _, a := range actions {
		if a.Kind != ActionSwap {
			continue
		}
		h := meta[a.Asset]
		moved := BaseUnitsValueUSD(a.Amount, h.Decimals, h.PriceUSD)
		values[a.Asset] = values[a.Asset].Sub(moved)
		values[a.CounterAsset] = values[a.CounterAsset].Add(moved)
	}
	for asset, val := range values {
		h := meta[asset]
		out.Holdings = append(out.Holdings, Holding{
			Asset: asset, Decimals: h.Decimals, PriceUSD: h.PriceUSD, ValueUSD: val,
			Amount: BaseUnitsForValueUSD(val, h.Decimals, h.PriceUSD),
		})
	}
	return out
}

func TestReserveClampNeverGoesNegative(t *testing.T) {
	ev := testEvaluator()
	// Entire SOL balance is below the excess the drift math wants.
	snap := snapshotFor(t, 800, 200)
	for i := range snap.Holdings {
		if snap.Holdings[i].Asset == "SOL" {
			snap.Holdings[i].Amount = 50_000_000 // below the 0.1 SOL floor
		}
	}
	got := ev.Evaluate(snap, neutral(), nil)
	for _, a := range got.Actions {
		if a.Asset == "SOL" {
			t.Fatalf("expected SOL action dropped by reserve clamp, got %+v", a)
		}
	}
}

func TestOpportunisticYieldRespectsDriftTolerance(t *testing.T) {
	ev := testEvaluator()
	opps := []Opportunity{{Venue: "marinade", Kind: ActionStake, Asset: "SOL", APYPct: decimal.NewFromInt(7), RiskScore: 20}}
	got := ev.Evaluate(snapshotFor(t, 520, 480), neutral(), opps)
	if len(got.Actions) != 1 {
		t.Fatalf("expected one opportunistic stake, got %d", len(got.Actions))
	}
	// Headroom is drift(2) + tolerance(5) = 7% of $1000 at $100/SOL.
	if got.Actions[0].Amount != 700_000_000 {
		t.Fatalf("expected 0.7 SOL, got %d", got.Actions[0].Amount)
	}
}
