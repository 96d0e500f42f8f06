/*
Package ring implements TokenMetadata, the copy-on-write ring snapshot that
tracks which endpoint owns which token, which tokens are reserved by
joining or moving nodes, and the per-keyspace pending ranges those
transitions imply.

Readers take an immutable snapshot pointer with Current; writers serialize
through a single mutex, clone the current snapshot, mutate the clone, and
publish it atomically, so concurrent readers never observe a partially
updated ring.
*/
package ring

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/cuemby/ringcoord/internal/token"
)

// Snapshot is an immutable view of the ring at a point in time. Every
// exported query method on TokenMetadata reads from a Snapshot obtained
// with a single atomic load, so it never observes a write in progress.
type Snapshot struct {
	normal        map[string]string // token wire-key -> endpoint
	bootstrapping map[string]string // token wire-key -> endpoint
	leaving       map[string]bool   // endpoint -> draining
	moving        map[string]string // endpoint -> target token wire-key
	hostIDs       map[uuid.UUID]string
	endpointHosts map[string]uuid.UUID
	generations   map[string]int64 // endpoint -> startup generation, for update_host_id collisions
	sortedTokens  []token.Token     // keys(normal), ascending
	pendingRanges map[string]map[string][]token.TokenRange // keyspace -> endpoint -> ranges
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		normal:        map[string]string{},
		bootstrapping: map[string]string{},
		leaving:       map[string]bool{},
		moving:        map[string]string{},
		hostIDs:       map[uuid.UUID]string{},
		endpointHosts: map[string]uuid.UUID{},
		generations:   map[string]int64{},
		pendingRanges: map[string]map[string][]token.TokenRange{},
	}
}

func (s *Snapshot) clone() *Snapshot {
	c := &Snapshot{
		normal:        make(map[string]string, len(s.normal)),
		bootstrapping: make(map[string]string, len(s.bootstrapping)),
		leaving:       make(map[string]bool, len(s.leaving)),
		moving:        make(map[string]string, len(s.moving)),
		hostIDs:       make(map[uuid.UUID]string, len(s.hostIDs)),
		endpointHosts: make(map[string]uuid.UUID, len(s.endpointHosts)),
		generations:   make(map[string]int64, len(s.generations)),
		pendingRanges: make(map[string]map[string][]token.TokenRange, len(s.pendingRanges)),
	}
	for k, v := range s.normal {
		c.normal[k] = v
	}
	for k, v := range s.bootstrapping {
		c.bootstrapping[k] = v
	}
	for k, v := range s.leaving {
		c.leaving[k] = v
	}
	for k, v := range s.moving {
		c.moving[k] = v
	}
	for k, v := range s.hostIDs {
		c.hostIDs[k] = v
	}
	for k, v := range s.endpointHosts {
		c.endpointHosts[k] = v
	}
	for k, v := range s.generations {
		c.generations[k] = v
	}
	for ks, perEndpoint := range s.pendingRanges {
		cp := make(map[string][]token.TokenRange, len(perEndpoint))
		for ep, ranges := range perEndpoint {
			cp[ep] = append([]token.TokenRange(nil), ranges...)
		}
		c.pendingRanges[ks] = cp
	}
	c.sortedTokens = append([]token.Token(nil), s.sortedTokens...)
	return c
}

func (s *Snapshot) resortTokens() {
	toks := make([]token.Token, 0, len(s.normal))
	for k := range s.normal {
		toks = append(toks, token.FromWire([]byte(k)))
	}
	sort.Slice(toks, func(i, j int) bool { return token.Compare(toks[i], toks[j]) < 0 })
	s.sortedTokens = toks
}

// SortedTokens returns the normal table's tokens in ascending order.
func (s *Snapshot) SortedTokens() []token.Token { return s.sortedTokens }

// GetEndpoint returns the owner of t: the first sorted token >= t,
// wrapping to the first token if none is found.
func (s *Snapshot) GetEndpoint(t token.Token) (string, bool) {
	if len(s.sortedTokens) == 0 {
		return "", false
	}
	idx := sort.Search(len(s.sortedTokens), func(i int) bool {
		return token.Compare(s.sortedTokens[i], t) >= 0
	})
	if idx == len(s.sortedTokens) {
		idx = 0
	}
	ep, ok := s.normal[string(s.sortedTokens[idx].Bytes())]
	return ep, ok
}

// IsLeaving reports whether ep is in the leaving set.
func (s *Snapshot) IsLeaving(ep string) bool { return s.leaving[ep] }

// IsMoving reports whether ep has a move in flight, returning its target token.
func (s *Snapshot) IsMoving(ep string) (token.Token, bool) {
	k, ok := s.moving[ep]
	if !ok {
		return token.Token{}, false
	}
	return token.FromWire([]byte(k)), true
}

// HostID returns the UUID bound to ep, if any.
func (s *Snapshot) HostID(ep string) (uuid.UUID, bool) {
	id, ok := s.endpointHosts[ep]
	return id, ok
}

// EndpointForHostID returns the endpoint bound to id, if any.
func (s *Snapshot) EndpointForHostID(id uuid.UUID) (string, bool) {
	ep, ok := s.hostIDs[id]
	return ep, ok
}

// GetPendingRanges returns the ranges pending for ep in keyspace ks.
func (s *Snapshot) GetPendingRanges(ks, ep string) []token.TokenRange {
	perEndpoint, ok := s.pendingRanges[ks]
	if !ok {
		return nil
	}
	return perEndpoint[ep]
}

// PendingRangeCounts reports, per keyspace, the total number of pending
// range entries across all endpoints — used by the metrics collector.
func (s *Snapshot) PendingRangeCounts() map[string]int {
	out := make(map[string]int, len(s.pendingRanges))
	for ks, perEndpoint := range s.pendingRanges {
		total := 0
		for _, ranges := range perEndpoint {
			total += len(ranges)
		}
		out[ks] = total
	}
	return out
}

// NormalEndpoints returns the distinct endpoints holding at least one
// normal token.
func (s *Snapshot) NormalEndpoints() []string {
	seen := map[string]bool{}
	for _, ep := range s.normal {
		seen[ep] = true
	}
	out := make([]string, 0, len(seen))
	for ep := range seen {
		out = append(out, ep)
	}
	sort.Strings(out)
	return out
}

// TokensOf returns every normal token owned by ep.
func (s *Snapshot) TokensOf(ep string) []token.Token {
	var out []token.Token
	for k, owner := range s.normal {
		if owner == ep {
			out = append(out, token.FromWire([]byte(k)))
		}
	}
	sort.Slice(out, func(i, j int) bool { return token.Compare(out[i], out[j]) < 0 })
	return out
}

// TokenMetadata is the mutable, copy-on-write ring. All mutators serialize
// through mu; all readers load the current Snapshot without blocking on mu.
type TokenMetadata struct {
	mu        sync.Mutex
	current   atomic.Pointer[Snapshot]
	strategy  ReplicationStrategy
	keyspaces map[string]ReplicationStrategy
}

func New(strategy ReplicationStrategy) *TokenMetadata {
	tm := &TokenMetadata{strategy: strategy}
	tm.current.Store(emptySnapshot())
	return tm
}

// Current returns the current immutable snapshot.
func (tm *TokenMetadata) Current() *Snapshot { return tm.current.Load() }

// withWriter serializes f against other writers, hands it a fresh clone of
// the current snapshot to mutate, and publishes the result atomically.
func (tm *TokenMetadata) withWriter(f func(s *Snapshot)) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	next := tm.current.Load().clone()
	f(next)
	next.resortTokens()
	tm.current.Store(next)
}

// UpdateNormalTokens moves ep out of bootstrapping/leaving, records tokens
// in normal, and clears any previous owner of those tokens.
func (tm *TokenMetadata) UpdateNormalTokens(tokens []token.Token, ep string) {
	tm.withWriter(func(s *Snapshot) {
		for k, owner := range s.bootstrapping {
			if owner == ep {
				delete(s.bootstrapping, k)
			}
		}
		delete(s.leaving, ep)
		delete(s.moving, ep)

		for _, t := range tokens {
			key := string(t.Bytes())
			s.normal[key] = ep
		}
	})
	tm.recomputePendingRanges()
}

// ReplaceToken swaps ep's ownership of old for newTok in the normal
// table and clears any move in flight for ep — the single-token move
// path's final step once streaming completes, since UpdateNormalTokens
// only adds tokens and never retires an endpoint's previous ones.
func (tm *TokenMetadata) ReplaceToken(old, newTok token.Token, ep string) {
	tm.withWriter(func(s *Snapshot) {
		delete(s.normal, string(old.Bytes()))
		s.normal[string(newTok.Bytes())] = ep
		delete(s.moving, ep)
	})
	tm.recomputePendingRanges()
}

// AddBootstrapTokens reserves tokens for a joining node.
func (tm *TokenMetadata) AddBootstrapTokens(tokens []token.Token, ep string) {
	tm.withWriter(func(s *Snapshot) {
		for _, t := range tokens {
			s.bootstrapping[string(t.Bytes())] = ep
		}
	})
	tm.recomputePendingRanges()
}

// AddLeavingEndpoint marks ep as draining.
func (tm *TokenMetadata) AddLeavingEndpoint(ep string) {
	tm.withWriter(func(s *Snapshot) { s.leaving[ep] = true })
	tm.recomputePendingRanges()
}

// AddMovingEndpoint records target as ep's destination token for a move.
func (tm *TokenMetadata) AddMovingEndpoint(target token.Token, ep string) {
	tm.withWriter(func(s *Snapshot) { s.moving[ep] = string(target.Bytes()) })
	tm.recomputePendingRanges()
}

// RemoveEndpoint removes ep from every table except the host-id mapping.
func (tm *TokenMetadata) RemoveEndpoint(ep string) {
	tm.withWriter(func(s *Snapshot) {
		for k, owner := range s.normal {
			if owner == ep {
				delete(s.normal, k)
			}
		}
		for k, owner := range s.bootstrapping {
			if owner == ep {
				delete(s.bootstrapping, k)
			}
		}
		delete(s.leaving, ep)
		delete(s.moving, ep)
	})
	tm.recomputePendingRanges()
}

// UpdateHostID resolves collisions by generation: if id is already bound to
// a different endpoint, the endpoint with the later startup generation
// wins and the loser is evicted from the host-id tables.
func (tm *TokenMetadata) UpdateHostID(id uuid.UUID, ep string, generation int64) {
	tm.withWriter(func(s *Snapshot) {
		if existingEp, ok := s.hostIDs[id]; ok && existingEp != ep {
			if s.generations[existingEp] >= generation {
				return
			}
			delete(s.endpointHosts, existingEp)
		}
		if prevID, ok := s.endpointHosts[ep]; ok && prevID != id {
			delete(s.hostIDs, prevID)
		}
		s.hostIDs[id] = ep
		s.endpointHosts[ep] = id
		s.generations[ep] = generation
	})
}

// CloneOnlyTokenMap returns a snapshot retaining only the normal-token
// table, useful for reasoning about the ring's steady state.
func (tm *TokenMetadata) CloneOnlyTokenMap() *Snapshot {
	s := tm.current.Load().clone()
	s.bootstrapping = map[string]string{}
	s.leaving = map[string]bool{}
	s.moving = map[string]string{}
	s.pendingRanges = map[string]map[string][]token.TokenRange{}
	return s
}

// CloneAfterAllLeft returns a snapshot with every leaving endpoint's
// tokens removed, as if all in-flight decommissions had completed.
func (tm *TokenMetadata) CloneAfterAllLeft() *Snapshot {
	s := tm.current.Load().clone()
	for k, owner := range s.normal {
		if s.leaving[owner] {
			delete(s.normal, k)
		}
	}
	s.leaving = map[string]bool{}
	s.resortTokens()
	return s
}

// CloneAfterAllSettled returns a snapshot as if every pending
// bootstrap/leave/move had completed: bootstrapping tokens become normal,
// leaving endpoints' tokens are removed, and moving endpoints' tokens are
// replaced by their target token.
func (tm *TokenMetadata) CloneAfterAllSettled() *Snapshot {
	s := tm.current.Load().clone()
	for k, owner := range s.normal {
		if s.leaving[owner] {
			delete(s.normal, k)
		}
	}
	for ep, targetKey := range s.moving {
		for k, owner := range s.normal {
			if owner == ep {
				delete(s.normal, k)
			}
		}
		s.normal[targetKey] = ep
	}
	for k, owner := range s.bootstrapping {
		s.normal[k] = owner
	}
	s.bootstrapping = map[string]string{}
	s.leaving = map[string]bool{}
	s.moving = map[string]string{}
	s.resortTokens()
	return s
}
