package market

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"sol-portfolio-agent/internal/registry"
	"sol-portfolio-agent/internal/strategy"
)

type positionAdapter struct {
	venue     string
	positions []registry.Position
}

func (a *positionAdapter) VenueID() string { return a.venue }

func (a *positionAdapter) Initialize(ctx context.Context, cfg map[string]string) error {
	_ = ctx
	_ = cfg
	return nil
}

func (a *positionAdapter) HealthCheck(ctx context.Context) error {
	_ = ctx
	return nil
}

func (a *positionAdapter) Capabilities() []registry.Capability {
	return []registry.Capability{registry.CapabilityStake}
}

func (a *positionAdapter) SupportsAction(kind strategy.ActionKind) bool {
	return kind == strategy.ActionStake
}

func (a *positionAdapter) Positions(ctx context.Context) ([]registry.Position, error) {
	_ = ctx
	return a.positions, nil
}

func (a *positionAdapter) Quote(ctx context.Context, req registry.QuoteRequest) (registry.Quote, error) {
	_ = ctx
	return registry.Quote{}, nil
}

func (a *positionAdapter) BuildInstructions(ctx context.Context, action strategy.ProposedAction) ([]registry.Instruction, error) {
	_ = ctx
	_ = action
	return nil, nil
}

func seedPrice(f *Feed, asset, price string) {
	f.handleMessage([]byte(`{"channel":"price","data":{"asset":"` + asset + `","price_usd":"` + price + `"}}`))
}

func TestFeedSourceSnapshotPricesPositions(t *testing.T) {
	feed := NewFeed("ws://unused", time.Second, time.Second, zap.NewNop())
	seedPrice(feed, "SOL", "100")
	seedPrice(feed, "USDC", "1")

	reg := registry.New()
	if err := reg.Register(&positionAdapter{
		venue: "marinade",
		positions: []registry.Position{
			{Venue: "marinade", Asset: "SOL", Amount: 2_000_000_000},
			{Venue: "marinade", Asset: "USDC", Amount: 50_000_000},
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	source := NewFeedSource(feed, reg, map[string]int{"SOL": 9, "USDC": 6}, "SOL", zap.NewNop())
	snap, err := source.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Holdings) != 2 {
		t.Fatalf("holdings = %d, want 2", len(snap.Holdings))
	}
	if got := snap.TotalValueUSD.String(); got != "250" {
		t.Fatalf("total value = %s, want 250", got)
	}
	sol, ok := snap.Holding("SOL")
	if !ok || sol.ValueUSD.String() != "200" {
		t.Fatalf("SOL holding = %+v", sol)
	}
}

func TestFeedSourceSignalsWindow(t *testing.T) {
	feed := NewFeed("ws://unused", time.Second, time.Second, zap.NewNop())
	reg := registry.New()
	source := NewFeedSource(feed, reg, map[string]int{"SOL": 9}, "SOL", zap.NewNop())

	// No price yet: empty window.
	signals, err := source.Signals(context.Background())
	if err != nil {
		t.Fatalf("signals: %v", err)
	}
	if len(signals.Prices) != 0 {
		t.Fatalf("prices = %d, want 0", len(signals.Prices))
	}

	seedPrice(feed, "SOL", "100")
	for i := 0; i < 3; i++ {
		if signals, err = source.Signals(context.Background()); err != nil {
			t.Fatalf("signals: %v", err)
		}
	}
	if len(signals.Prices) != 3 {
		t.Fatalf("prices = %d, want 3", len(signals.Prices))
	}
	if signals.Prices[0].String() != "100" {
		t.Fatalf("price = %s, want 100", signals.Prices[0])
	}
}
