package strategy

import (
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type VolatilityRegime string

const (
	VolatilityLow      VolatilityRegime = "low"
	VolatilityModerate VolatilityRegime = "moderate"
	VolatilityHigh     VolatilityRegime = "high"
	VolatilityExtreme  VolatilityRegime = "extreme"
)

type Trend string

const (
	TrendBullish Trend = "bullish"
	TrendNeutral Trend = "neutral"
	TrendBearish Trend = "bearish"
)

type ActionKind string

const (
	ActionSwap             ActionKind = "swap"
	ActionStake            ActionKind = "stake"
	ActionUnstake          ActionKind = "unstake"
	ActionLend             ActionKind = "lend"
	ActionWithdraw         ActionKind = "withdraw"
	ActionProvideLiquidity ActionKind = "provide-liquidity"
)

// Holding quantities are integer base units (lamports, token atoms).
// Display-unit math happens only through decimal conversions so no
// float truncation can leak into sizing.
type Holding struct {
	Asset    string
	Amount   uint64
	Decimals int
	PriceUSD decimal.Decimal
	ValueUSD decimal.Decimal
}

// PortfolioSnapshot is a point-in-time view of holdings. Immutable once
// produced; a fresh one is taken every cycle.
type PortfolioSnapshot struct {
	Holdings      []Holding
	TotalValueUSD decimal.Decimal
	Taken         time.Time
}

func (s PortfolioSnapshot) Holding(asset string) (Holding, bool) {
	for _, h := range s.Holdings {
		if h.Asset == asset {
			return h, true
		}
	}
	return Holding{}, false
}

// AllocationPct returns the asset's share of total portfolio value in
// percentage points. Zero when the portfolio has no value.
func (s PortfolioSnapshot) AllocationPct(asset string) decimal.Decimal {
	if s.TotalValueUSD.IsZero() {
		return decimal.Zero
	}
	h, ok := s.Holding(asset)
	if !ok {
		return decimal.Zero
	}
	return h.ValueUSD.Div(s.TotalValueUSD).Mul(decimal.NewFromInt(100))
}

type MarketCondition struct {
	Volatility VolatilityRegime
	Trend      Trend
	Confidence int
	Strategy   string
}

// Opportunity is a yield or trading venue surfaced by the data source.
type Opportunity struct {
	Venue     string
	Kind      ActionKind
	Asset     string
	APYPct    decimal.Decimal
	RiskScore int
}

// ProposedAction is a candidate operation. Read-only downstream; the
// risk gate wraps it with a verdict, it is never mutated.
type ProposedAction struct {
	ID             uuid.UUID
	Kind           ActionKind
	Venue          string
	Rationale      string
	Asset          string
	CounterAsset   string
	Amount         uint64
	MaxSlippageBps int
	Priority       int
	Created        time.Time
}

type Evaluation struct {
	Actions          []ProposedAction
	Confidence       int
	Explanation      string
	ExpectedYieldPct decimal.Decimal
	RiskScore        int
}

// BaseUnitsValueUSD converts integer base units to a USD value at the
// given unit price.
func BaseUnitsValueUSD(amount uint64, decimals int, priceUSD decimal.Decimal) decimal.Decimal {
	units := decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -int32(decimals))
	return units.Mul(priceUSD)
}

// BaseUnitsForValueUSD converts a USD value to integer base units at
// the given unit price, rounding down. Returns 0 for non-positive
// prices or values.
func BaseUnitsForValueUSD(valueUSD decimal.Decimal, decimals int, priceUSD decimal.Decimal) uint64 {
	if priceUSD.Sign() <= 0 || valueUSD.Sign() <= 0 {
		return 0
	}
	atoms := valueUSD.Div(priceUSD).Shift(int32(decimals)).Floor()
	if !atoms.BigInt().IsUint64() {
		return 0
	}
	return atoms.BigInt().Uint64()
}
