package write

import (
	"sync"

	"github.com/cuemby/ringcoord/internal/metrics"
)

// HintStore records a hint for a mutation a dead endpoint missed, to be
// replayed once that endpoint rejoins. Hint replay itself is out of this
// package's scope; only the decision of when a hint is owed, and whether
// it counts toward consistency, lives here.
type HintStore interface {
	Store(endpoint string, m Mutation)
}

// MemoryHintStore is a process-local stand-in for a durable hint log: it
// is enough to exercise the hint-counts-toward-CL=ANY policy in tests,
// but a deployment that needs hints to survive a coordinator restart
// needs a store backed by something durable instead.
type MemoryHintStore struct {
	mu    sync.Mutex
	hints map[string][]Mutation
}

func NewMemoryHintStore() *MemoryHintStore {
	return &MemoryHintStore{hints: map[string][]Mutation{}}
}

func (s *MemoryHintStore) Store(endpoint string, m Mutation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hints[endpoint] = append(s.hints[endpoint], m)
	metrics.HintsTotal.WithLabelValues(endpoint).Inc()
}

func (s *MemoryHintStore) Pending(endpoint string) []Mutation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Mutation(nil), s.hints[endpoint]...)
}
