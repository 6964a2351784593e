package state

import "context"

// Store is the minimal key/value persistence the agent carries across
// restarts: circuit-breaker state and the execution idempotence cache.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
