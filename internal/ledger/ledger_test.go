package ledger

import (
	"testing"
	"time"
)

func sampleTrace() DecisionTrace {
	return DecisionTrace{
		Kind:         "decision",
		Cycle:        7,
		Phase:        "ACTING",
		PortfolioUSD: "1500.00",
		Proposed:     []string{"a1", "a2"},
		Approved:     []string{"a1"},
		Rejected:     []string{"a2"},
		Reasoning:    "balanced: 1 corrective action",
		At:           time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
}

func TestHashDeterministicAndOrderIndependent(t *testing.T) {
	// Two maps with the same content, keys inserted in opposite order.
	m1 := map[string]any{}
	m2 := map[string]any{}
	pairs := []struct {
		k string
		v any
	}{
		{"kind", "decision"},
		{"cycle", uint64(7)},
		{"reasoning", "hold"},
		{"nested", map[string]any{"x": int64(1), "y": "z"}},
	}
	for _, p := range pairs {
		m1[p.k] = p.v
	}
	for i := len(pairs) - 1; i >= 0; i-- {
		m2[pairs[i].k] = pairs[i].v
	}
	b1, err := CanonicalEncode(m1)
	if err != nil {
		t.Fatalf("encode m1: %v", err)
	}
	b2, err := CanonicalEncode(m2)
	if err != nil {
		t.Fatalf("encode m2: %v", err)
	}
	if string(b1) != string(b2) {
		t.Fatalf("canonical encoding must be insertion-order independent")
	}
}

func TestVerifyRoundTripAndMutation(t *testing.T) {
	log := New(10)
	c, err := log.Commit(sampleTrace())
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if c.Seq != 1 || c.Hash == "" {
		t.Fatalf("unexpected commitment %+v", c)
	}
	if !Verify(c.Hash, c.Trace) {
		t.Fatalf("verify must succeed on the committed trace")
	}
	mutated := c.Trace
	mutated.Reasoning = "tampered"
	if Verify(c.Hash, mutated) {
		t.Fatalf("verify must fail after mutating any field")
	}
	mutated = c.Trace
	mutated.Cycle++
	if Verify(c.Hash, mutated) {
		t.Fatalf("verify must fail after mutating the cycle")
	}
}

func TestHashStableAcrossCommits(t *testing.T) {
	log := New(10)
	a, _ := log.Commit(sampleTrace())
	b, _ := log.Commit(sampleTrace())
	if a.Hash != b.Hash {
		t.Fatalf("identical traces must hash identically: %s vs %s", a.Hash, b.Hash)
	}
	if b.Seq != a.Seq+1 {
		t.Fatalf("sequence must advance: %d then %d", a.Seq, b.Seq)
	}
}

func TestRingDropsOldest(t *testing.T) {
	log := New(3)
	for i := 0; i < 5; i++ {
		trace := sampleTrace()
		trace.Cycle = uint64(i)
		if _, err := log.Commit(trace); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
	}
	st := log.Stats()
	if st.Stored != 3 || st.TotalCommitted != 5 || st.Dropped != 2 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if st.OldestSeq != 3 || st.NewestSeq != 5 {
		t.Fatalf("expected seqs [3,5], got [%d,%d]", st.OldestSeq, st.NewestSeq)
	}
	recent := log.Recent(2)
	if len(recent) != 2 || recent[0].Seq != 5 || recent[1].Seq != 4 {
		t.Fatalf("expected newest-first [5 4], got %+v", recent)
	}
}

func TestByKind(t *testing.T) {
	log := New(10)
	for i := 0; i < 4; i++ {
		trace := sampleTrace()
		if i%2 == 0 {
			trace.Kind = "halt"
		}
		if _, err := log.Commit(trace); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}
	if got := log.ByKind("halt"); len(got) != 2 {
		t.Fatalf("expected 2 halt commitments, got %d", len(got))
	}
	if got := log.ByKind("decision"); len(got) != 2 {
		t.Fatalf("expected 2 decision commitments, got %d", len(got))
	}
	if st := log.Stats(); st.ByKind["halt"] != 2 {
		t.Fatalf("stats by kind mismatch: %+v", st.ByKind)
	}
}

func TestCanonicalEncodeRejectsUnknownType(t *testing.T) {
	if _, err := CanonicalEncode(map[string]any{"bad": struct{}{}}); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
}
