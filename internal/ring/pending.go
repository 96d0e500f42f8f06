package ring

import (
	"sort"

	"github.com/cuemby/ringcoord/internal/token"
)

// RegisterKeyspace binds a keyspace name to the replication strategy used
// when recomputing its pending ranges. Keyspaces not registered use the
// TokenMetadata's default strategy.
func (tm *TokenMetadata) RegisterKeyspace(name string, strategy ReplicationStrategy) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.keyspaces == nil {
		tm.keyspaces = map[string]ReplicationStrategy{}
	}
	tm.keyspaces[name] = strategy
}

func (tm *TokenMetadata) strategyFor(ks string) ReplicationStrategy {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if s, ok := tm.keyspaces[ks]; ok {
		return s
	}
	return tm.strategy
}

// ReplicationFactor returns the configured replication factor for ks,
// independent of how many of those replicas are currently alive.
func (tm *TokenMetadata) ReplicationFactor(ks string) int {
	return tm.strategyFor(ks).ReplicationFactor()
}

// NaturalEndpoints returns the replicas t belongs to in keyspace ks, per
// that keyspace's registered replication strategy, against the current
// snapshot.
func (tm *TokenMetadata) NaturalEndpoints(ks string, t token.Token) []string {
	return tm.strategyFor(ks).NaturalEndpoints(t, tm.Current())
}

// PendingEndpoints returns the endpoints that will gain ownership of t in
// keyspace ks once every in-flight bootstrap/leave/move has settled, but
// don't yet own it in the live snapshot — the "P" set write coordinators
// must write through in addition to the natural replicas.
func (tm *TokenMetadata) PendingEndpoints(ks string, t token.Token) []string {
	snap := tm.Current()
	perEndpoint, ok := snap.pendingRanges[ks]
	if !ok {
		return nil
	}
	var out []string
	for ep, ranges := range perEndpoint {
	search:
		for _, r := range ranges {
			for _, part := range r.Unwrap() {
				if part.Contains(t) {
					out = append(out, ep)
					break search
				}
			}
		}
	}
	sort.Strings(out)
	return out
}

func (tm *TokenMetadata) registeredKeyspaces() []string {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	out := make([]string, 0, len(tm.keyspaces))
	for ks := range tm.keyspaces {
		out = append(out, ks)
	}
	sort.Strings(out)
	return out
}

// recomputePendingRanges materializes, for every registered keyspace, the
// (range, future-owner) pairs implied by the leaving/moving/bootstrapping
// transitions currently in flight: it diffs natural-endpoint ownership
// between the live snapshot and the snapshot produced by
// CloneAfterAllSettled across every ring segment bounded by either
// snapshot's tokens, so a range that only shifts ownership partway through
// its span is still captured at the right boundary.
//
// Concurrent readers keep seeing the table this replaces until the new one
// is published: withWriter only swaps the pointer once recomputation below
// has fully built the replacement.
func (tm *TokenMetadata) recomputePendingRanges() {
	live := tm.current.Load()
	settled := tm.CloneAfterAllSettled()

	boundaries := unionSortedTokens(live.SortedTokens(), settled.SortedTokens())
	if len(boundaries) == 0 {
		tm.withWriter(func(s *Snapshot) { s.pendingRanges = map[string]map[string][]token.TokenRange{} })
		return
	}

	result := map[string]map[string][]token.TokenRange{}
	for _, ks := range tm.registeredKeyspaces() {
		strategy := tm.strategyFor(ks)
		perEndpoint := map[string][]token.TokenRange{}

		for i := range boundaries {
			left := boundaries[i]
			right := boundaries[(i+1)%len(boundaries)]
			rng := token.NewTokenRange(&left, false, &right, true)

			liveOwners := toSet(strategy.NaturalEndpoints(right, live))
			settledOwners := toSet(strategy.NaturalEndpoints(right, settled))

			for ep := range settledOwners {
				if !liveOwners[ep] {
					perEndpoint[ep] = append(perEndpoint[ep], rng)
				}
			}
		}
		result[ks] = perEndpoint
	}

	tm.withWriter(func(s *Snapshot) { s.pendingRanges = result })
}

func unionSortedTokens(a, b []token.Token) []token.Token {
	seen := map[string]token.Token{}
	for _, t := range a {
		seen[string(t.Bytes())] = t
	}
	for _, t := range b {
		seen[string(t.Bytes())] = t
	}
	out := make([]token.Token, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return token.Compare(out[i], out[j]) < 0 })
	return out
}

func toSet(eps []string) map[string]bool {
	out := make(map[string]bool, len(eps))
	for _, ep := range eps {
		out[ep] = true
	}
	return out
}
