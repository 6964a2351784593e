package registry

import (
	"context"
	"errors"
	"testing"

	"sol-portfolio-agent/internal/strategy"
)

type fakeAdapter struct {
	venue     string
	caps      []Capability
	kinds     map[strategy.ActionKind]bool
	initCalls int
	healthErr error
}

func newFakeAdapter(venue string, kinds ...strategy.ActionKind) *fakeAdapter {
	m := make(map[strategy.ActionKind]bool, len(kinds))
	for _, k := range kinds {
		m[k] = true
	}
	return &fakeAdapter{venue: venue, caps: []Capability{CapabilitySwap}, kinds: m}
}

func (f *fakeAdapter) VenueID() string { return f.venue }

func (f *fakeAdapter) Initialize(ctx context.Context, cfg map[string]string) error {
	_ = ctx
	_ = cfg
	f.initCalls++
	return nil
}

func (f *fakeAdapter) HealthCheck(ctx context.Context) error {
	_ = ctx
	return f.healthErr
}

func (f *fakeAdapter) Capabilities() []Capability { return f.caps }

func (f *fakeAdapter) SupportsAction(kind strategy.ActionKind) bool { return f.kinds[kind] }

func (f *fakeAdapter) Positions(ctx context.Context) ([]Position, error) {
	_ = ctx
	return nil, nil
}

func (f *fakeAdapter) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	_ = ctx
	return Quote{InAsset: req.InAsset, OutAsset: req.OutAsset, InAmount: req.InAmount}, nil
}

func (f *fakeAdapter) BuildInstructions(ctx context.Context, action strategy.ProposedAction) ([]Instruction, error) {
	_ = ctx
	_ = action
	return []Instruction{{Program: f.venue}}, nil
}

func TestFindByActionRegistrationOrderWins(t *testing.T) {
	r := New()
	a := newFakeAdapter("jupiter", strategy.ActionSwap)
	b := newFakeAdapter("orca", strategy.ActionSwap)
	if err := r.Register(a); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := r.Register(b); err != nil {
		t.Fatalf("register b: %v", err)
	}

	got, ok := r.FindByAction(strategy.ActionSwap)
	if !ok || got.VenueID() != "jupiter" {
		t.Fatalf("expected first registered adapter, got %v ok=%v", got, ok)
	}
	all := r.FindAllByAction(strategy.ActionSwap)
	if len(all) != 2 || all[0].VenueID() != "jupiter" || all[1].VenueID() != "orca" {
		t.Fatalf("expected [jupiter orca], got %v", all)
	}
}

func TestRegisterAfterInitializeRejected(t *testing.T) {
	r := New()
	a := newFakeAdapter("jupiter", strategy.ActionSwap)
	if err := r.Register(a); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.InitializeAll(context.Background(), nil); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if a.initCalls != 1 {
		t.Fatalf("expected adapter initialized once, got %d", a.initCalls)
	}
	if err := r.Register(newFakeAdapter("orca")); !errors.Is(err, ErrRegistryInitialized) {
		t.Fatalf("expected ErrRegistryInitialized, got %v", err)
	}
	if err := r.InitializeAll(context.Background(), nil); !errors.Is(err, ErrRegistryInitialized) {
		t.Fatalf("expected second initialize rejected, got %v", err)
	}
}

func TestRegisterDuplicateVenueRejected(t *testing.T) {
	r := New()
	if err := r.Register(newFakeAdapter("jupiter")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(newFakeAdapter("jupiter")); !errors.Is(err, ErrDuplicateVenue) {
		t.Fatalf("expected ErrDuplicateVenue, got %v", err)
	}
}

func TestFindByActionMissingKind(t *testing.T) {
	r := New()
	if err := r.Register(newFakeAdapter("jupiter", strategy.ActionSwap)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, ok := r.FindByAction(strategy.ActionLend); ok {
		t.Fatalf("expected no adapter for unsupported kind")
	}
}

func TestHealthCheckAllCapturesFailures(t *testing.T) {
	r := New()
	healthy := newFakeAdapter("jupiter", strategy.ActionSwap)
	sick := newFakeAdapter("orca", strategy.ActionSwap)
	sick.healthErr = errors.New("rpc unreachable")
	_ = r.Register(healthy)
	_ = r.Register(sick)

	results := r.HealthCheckAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("expected results for both adapters, got %d", len(results))
	}
	if !results[0].Healthy || results[0].Venue != "jupiter" {
		t.Fatalf("expected healthy jupiter, got %+v", results[0])
	}
	if results[1].Healthy || results[1].Err != "rpc unreachable" {
		t.Fatalf("expected captured failure, got %+v", results[1])
	}
}

func TestFindByCapability(t *testing.T) {
	r := New()
	a := newFakeAdapter("jupiter", strategy.ActionSwap)
	b := newFakeAdapter("orca", strategy.ActionSwap)
	_ = r.Register(a)
	_ = r.Register(b)
	got := r.FindByCapability(CapabilitySwap)
	if len(got) != 2 {
		t.Fatalf("expected both swap-capable adapters, got %d", len(got))
	}
}
