package market

import (
	"context"

	"github.com/shopspring/decimal"

	"sol-portfolio-agent/internal/strategy"
)

// Signals carries the raw per-cycle observations the condition
// heuristic runs over. Prices are ordered oldest first.
type Signals struct {
	Prices    []decimal.Decimal
	TVLUSD    decimal.Decimal
	VolumeUSD decimal.Decimal
}

// DataSource supplies everything the observe phase needs. Implementations
// own their transport; the loop only sees snapshots and signals.
type DataSource interface {
	Snapshot(ctx context.Context) (strategy.PortfolioSnapshot, error)
	Signals(ctx context.Context) (Signals, error)
	Opportunities(ctx context.Context) ([]strategy.Opportunity, error)
}
