package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"sol-portfolio-agent/internal/registry"
	"sol-portfolio-agent/internal/strategy"
)

const signalWindow = 64

// FeedSource assembles portfolio snapshots from venue adapter positions
// priced by the websocket feed. Each Signals call appends the current
// signal-asset price to a bounded window, so the volatility heuristic
// sees one sample per cycle.
type FeedSource struct {
	feed        *Feed
	reg         *registry.Registry
	decimals    map[string]int
	signalAsset string
	log         *zap.Logger

	mu     sync.Mutex
	window []decimal.Decimal
}

func NewFeedSource(feed *Feed, reg *registry.Registry, decimals map[string]int, signalAsset string, log *zap.Logger) *FeedSource {
	return &FeedSource{
		feed:        feed,
		reg:         reg,
		decimals:    decimals,
		signalAsset: signalAsset,
		log:         log,
	}
}

func (s *FeedSource) Snapshot(ctx context.Context) (strategy.PortfolioSnapshot, error) {
	amounts := make(map[string]uint64)
	for _, adapter := range s.reg.Adapters() {
		positions, err := adapter.Positions(ctx)
		if err != nil {
			return strategy.PortfolioSnapshot{}, fmt.Errorf("positions from %s: %w", adapter.VenueID(), err)
		}
		for _, p := range positions {
			amounts[p.Asset] += p.Amount
		}
	}
	snap := strategy.PortfolioSnapshot{Taken: time.Now().UTC()}
	for asset, amount := range amounts {
		price, _, ok := s.feed.Price(asset)
		if !ok {
			s.log.Warn("no feed price for held asset", zap.String("asset", asset))
			continue
		}
		decimals, ok := s.decimals[asset]
		if !ok {
			s.log.Warn("no configured decimals for held asset", zap.String("asset", asset))
			continue
		}
		value := strategy.BaseUnitsValueUSD(amount, decimals, price)
		snap.Holdings = append(snap.Holdings, strategy.Holding{
			Asset:    asset,
			Amount:   amount,
			Decimals: decimals,
			PriceUSD: price,
			ValueUSD: value,
		})
		snap.TotalValueUSD = snap.TotalValueUSD.Add(value)
	}
	return snap, nil
}

func (s *FeedSource) Signals(ctx context.Context) (Signals, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if price, _, ok := s.feed.Price(s.signalAsset); ok {
		s.window = append(s.window, price)
		if len(s.window) > signalWindow {
			s.window = s.window[len(s.window)-signalWindow:]
		}
	}
	prices := make([]decimal.Decimal, len(s.window))
	copy(prices, s.window)
	return Signals{Prices: prices}, nil
}

// Opportunities aggregates nothing yet: yield discovery lives with the
// concrete venue adapters, which surface positions only through the
// capability interface.
func (s *FeedSource) Opportunities(ctx context.Context) ([]strategy.Opportunity, error) {
	_ = ctx
	return nil, nil
}
