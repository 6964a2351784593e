package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"sol-portfolio-agent/internal/strategy"
)

type Capability string

const (
	CapabilitySwap      Capability = "swap"
	CapabilityStake     Capability = "stake"
	CapabilityLend      Capability = "lend"
	CapabilityLiquidity Capability = "liquidity"
	CapabilityQuote     Capability = "quote"
)

// Instruction is one venue-built step of a submission. Adapters build
// them; they never decide whether to send them.
type Instruction struct {
	Program  string
	Accounts []string
	Data     []byte
}

type QuoteRequest struct {
	InAsset  string
	OutAsset string
	InAmount uint64
}

type Quote struct {
	InAsset        string
	OutAsset       string
	InAmount       uint64
	OutAmount      uint64
	PriceImpactBps int
}

type Position struct {
	Venue    string
	Asset    string
	Amount   uint64
	ValueUSD decimal.Decimal
}

type Health struct {
	Venue   string
	Healthy bool
	Err     string
	Checked time.Time
}

// Adapter is the fixed capability interface every venue integration
// satisfies. The interface, not any adapter's internals, is the core's
// boundary.
type Adapter interface {
	VenueID() string
	Initialize(ctx context.Context, cfg map[string]string) error
	HealthCheck(ctx context.Context) error
	Capabilities() []Capability
	SupportsAction(kind strategy.ActionKind) bool
	Positions(ctx context.Context) ([]Position, error)
	Quote(ctx context.Context, req QuoteRequest) (Quote, error)
	BuildInstructions(ctx context.Context, action strategy.ProposedAction) ([]Instruction, error)
}

var (
	ErrRegistryInitialized = errors.New("registry already initialized")
	ErrDuplicateVenue      = errors.New("venue already registered")
)

// Registry routes actions to venue adapters. Registration order is a
// deliberate precedence: a primary router registered before a
// secondary one wins single-adapter lookups.
type Registry struct {
	mu          sync.RWMutex
	initialized bool
	order       []Adapter
	byVenue     map[string]Adapter
	byCap       map[Capability][]Adapter
}

func New() *Registry {
	return &Registry{
		byVenue: make(map[string]Adapter),
		byCap:   make(map[Capability][]Adapter),
	}
}

func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return errors.New("adapter is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		return ErrRegistryInitialized
	}
	venue := adapter.VenueID()
	if venue == "" {
		return errors.New("adapter venue id is required")
	}
	if _, exists := r.byVenue[venue]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateVenue, venue)
	}
	r.order = append(r.order, adapter)
	r.byVenue[venue] = adapter
	for _, cap := range adapter.Capabilities() {
		r.byCap[cap] = append(r.byCap[cap], adapter)
	}
	return nil
}

// InitializeAll initializes every adapter once; afterwards no further
// registration is permitted.
func (r *Registry) InitializeAll(ctx context.Context, cfgs map[string]map[string]string) error {
	r.mu.Lock()
	if r.initialized {
		r.mu.Unlock()
		return ErrRegistryInitialized
	}
	r.initialized = true
	adapters := append([]Adapter(nil), r.order...)
	r.mu.Unlock()

	for _, a := range adapters {
		if err := a.Initialize(ctx, cfgs[a.VenueID()]); err != nil {
			return fmt.Errorf("initialize %s: %w", a.VenueID(), err)
		}
	}
	return nil
}

// Adapters returns every registered adapter in registration order.
func (r *Registry) Adapters() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Get(venue string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byVenue[venue]
	return a, ok
}

// FindByAction returns the first registered adapter supporting the
// action kind; registration order is the documented tie-break.
func (r *Registry) FindByAction(kind strategy.ActionKind) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.order {
		if a.SupportsAction(kind) {
			return a, true
		}
	}
	return nil, false
}

func (r *Registry) FindAllByAction(kind strategy.ActionKind) []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Adapter
	for _, a := range r.order {
		if a.SupportsAction(kind) {
			out = append(out, a)
		}
	}
	return out
}

func (r *Registry) FindByCapability(cap Capability) []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Adapter(nil), r.byCap[cap]...)
}

// HealthCheckAll never returns an error for an unhealthy adapter: a
// failing check is captured as a result so one bad venue cannot abort
// the poll over the others.
func (r *Registry) HealthCheckAll(ctx context.Context) []Health {
	r.mu.RLock()
	adapters := append([]Adapter(nil), r.order...)
	r.mu.RUnlock()

	out := make([]Health, 0, len(adapters))
	for _, a := range adapters {
		h := Health{Venue: a.VenueID(), Checked: time.Now().UTC()}
		if err := a.HealthCheck(ctx); err != nil {
			h.Err = err.Error()
		} else {
			h.Healthy = true
		}
		out = append(out, h)
	}
	return out
}
