package sqlite

import (
	"context"
	"path/filepath"
	"testing"
)

func TestStoreRoundTrip(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if _, ok, err := store.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := store.Set(ctx, "risk:breaker", `{"active":true}`); err != nil {
		t.Fatalf("set: %v", err)
	}
	val, ok, err := store.Get(ctx, "risk:breaker")
	if err != nil || !ok || val != `{"active":true}` {
		t.Fatalf("get after set: val=%q ok=%v err=%v", val, ok, err)
	}
	if err := store.Set(ctx, "risk:breaker", `{"active":false}`); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	val, _, _ = store.Get(ctx, "risk:breaker")
	if val != `{"active":false}` {
		t.Fatalf("expected overwrite, got %q", val)
	}
	if err := store.Delete(ctx, "risk:breaker"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "risk:breaker"); ok {
		t.Fatalf("expected delete to remove key")
	}
}
