package ledger

import (
	"sync"
	"time"
)

// DecisionTrace is the canonicalized record of one cycle's decisions:
// what was proposed, what survived the risk gate, and why.
type DecisionTrace struct {
	Kind         string    `json:"kind"`
	Cycle        uint64    `json:"cycle"`
	Phase        string    `json:"phase"`
	PortfolioUSD string    `json:"portfolio_usd"`
	Proposed     []string  `json:"proposed"`
	Approved     []string  `json:"approved"`
	Rejected     []string  `json:"rejected"`
	Reasoning    string    `json:"reasoning"`
	At           time.Time `json:"at"`
}

func (t DecisionTrace) canonicalMap() map[string]any {
	return map[string]any{
		"kind":          t.Kind,
		"cycle":         t.Cycle,
		"phase":         t.Phase,
		"portfolio_usd": t.PortfolioUSD,
		"proposed":      append([]string{}, t.Proposed...),
		"approved":      append([]string{}, t.Approved...),
		"rejected":      append([]string{}, t.Rejected...),
		"reasoning":     t.Reasoning,
		"at":            t.At,
	}
}

// Commitment seals one trace: hash plus the trace itself and a
// sequence index. Never mutated after append.
type Commitment struct {
	Seq       uint64        `json:"seq"`
	Hash      string        `json:"hash"`
	Trace     DecisionTrace `json:"trace"`
	Committed time.Time     `json:"committed"`
}

type Stats struct {
	TotalCommitted uint64
	Stored         int
	Dropped        uint64
	ByKind         map[string]int
	OldestSeq      uint64
	NewestSeq      uint64
}

// Log is a bounded in-memory ring of commitments. Once the cap is
// exceeded the oldest entries are dropped; callers needing permanence
// persist exported commitments externally.
type Log struct {
	mu      sync.Mutex
	max     int
	seq     uint64
	dropped uint64
	entries []Commitment
}

func New(maxCommitments int) *Log {
	if maxCommitments <= 0 {
		maxCommitments = 1000
	}
	return &Log{max: maxCommitments}
}

func (l *Log) Commit(trace DecisionTrace) (Commitment, error) {
	hash, err := HashTrace(trace)
	if err != nil {
		return Commitment{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	c := Commitment{
		Seq:       l.seq,
		Hash:      hash,
		Trace:     trace,
		Committed: time.Now().UTC(),
	}
	l.entries = append(l.entries, c)
	if over := len(l.entries) - l.max; over > 0 {
		l.entries = append(l.entries[:0:0], l.entries[over:]...)
		l.dropped += uint64(over)
	}
	return c, nil
}

// Verify reports whether recomputing the hash over the trace equals
// the given hash.
func Verify(hash string, trace DecisionTrace) bool {
	computed, err := HashTrace(trace)
	if err != nil {
		return false
	}
	return computed == hash
}

// Recent returns up to n newest commitments, newest first, as copies.
func (l *Log) Recent(n int) []Commitment {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]Commitment, 0, n)
	for i := len(l.entries) - 1; i >= len(l.entries)-n; i-- {
		out = append(out, l.entries[i])
	}
	return out
}

func (l *Log) ByKind(kind string) []Commitment {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Commitment
	for _, c := range l.entries {
		if c.Trace.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func (l *Log) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := Stats{
		TotalCommitted: l.seq,
		Stored:         len(l.entries),
		Dropped:        l.dropped,
		ByKind:         make(map[string]int),
	}
	for _, c := range l.entries {
		st.ByKind[c.Trace.Kind]++
	}
	if len(l.entries) > 0 {
		st.OldestSeq = l.entries[0].Seq
		st.NewestSeq = l.entries[len(l.entries)-1].Seq
	}
	return st
}
