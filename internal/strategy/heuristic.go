package strategy

import (
	"github.com/montanaflynn/stats"
	"github.com/shopspring/decimal"
)

// Per-sample return thresholds for the volatility regimes.
const (
	lowVolStdev      = 0.005
	moderateVolStdev = 0.015
	highVolStdev     = 0.03

	trendThreshold = 0.001
)

// Assess derives a MarketCondition from a recent price series, oldest
// first. This is the deterministic fallback used when the external
// analysis collaborator is absent or failing; it never fails and
// always returns a usable condition.
func Assess(prices []decimal.Decimal) MarketCondition {
	if len(prices) < 3 {
		return MarketCondition{
			Volatility: VolatilityModerate,
			Trend:      TrendNeutral,
			Confidence: 20,
			Strategy:   "balanced",
		}
	}

	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		prev := prices[i-1]
		if prev.Sign() <= 0 {
			continue
		}
		r, _ := prices[i].Sub(prev).Div(prev).Float64()
		returns = append(returns, r)
	}
	if len(returns) < 2 {
		return MarketCondition{
			Volatility: VolatilityModerate,
			Trend:      TrendNeutral,
			Confidence: 20,
			Strategy:   "balanced",
		}
	}

	stdev, err := stats.StandardDeviationSample(returns)
	if err != nil {
		stdev = moderateVolStdev
	}
	mean, err := stats.Mean(returns)
	if err != nil {
		mean = 0
	}

	var regime VolatilityRegime
	switch {
	case stdev < lowVolStdev:
		regime = VolatilityLow
	case stdev < moderateVolStdev:
		regime = VolatilityModerate
	case stdev < highVolStdev:
		regime = VolatilityHigh
	default:
		regime = VolatilityExtreme
	}

	trend := TrendNeutral
	if mean > trendThreshold {
		trend = TrendBullish
	} else if mean < -trendThreshold {
		trend = TrendBearish
	}

	confidence := 50 + len(returns)
	if confidence > 90 {
		confidence = 90
	}
	if regime == VolatilityExtreme {
		confidence = confidence / 2
	}

	recommended := "balanced"
	if regime == VolatilityHigh || regime == VolatilityExtreme || trend == TrendBearish {
		recommended = "conservative"
	}

	return MarketCondition{
		Volatility: regime,
		Trend:      trend,
		Confidence: confidence,
		Strategy:   recommended,
	}
}
