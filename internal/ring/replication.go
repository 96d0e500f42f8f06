package ring

import "github.com/cuemby/ringcoord/internal/token"

// ReplicationStrategy maps a token to its natural (replica) endpoints.
// Concrete strategies are looked up by keyspace name rather than through a
// class hierarchy, per the design note on replacing registry-style
// polymorphism with an explicit dispatch table.
type ReplicationStrategy interface {
	NaturalEndpoints(t token.Token, s *Snapshot) []string
	ReplicationFactor() int
}

// SimpleStrategy walks the ring clockwise from a token's first owner,
// collecting distinct endpoints until ReplicationFactor is reached. It is
// the ring-only building block network-topology-aware strategies compose;
// datacenter/rack-aware placement is out of scope for the ring package and
// belongs to the snitch/topology collaborator named in the purpose and
// scope of this module.
type SimpleStrategy struct {
	RF int
}

func (s SimpleStrategy) ReplicationFactor() int { return s.RF }

func (s SimpleStrategy) NaturalEndpoints(t token.Token, snap *Snapshot) []string {
	sorted := snap.SortedTokens()
	if len(sorted) == 0 {
		return nil
	}
	start := 0
	for i, tok := range sorted {
		if token.Compare(tok, t) >= 0 {
			start = i
			break
		}
		if i == len(sorted)-1 {
			start = 0
		}
	}

	seen := map[string]bool{}
	var out []string
	for i := 0; i < len(sorted) && len(out) < s.RF; i++ {
		idx := (start + i) % len(sorted)
		ep, ok := snap.normal[string(sorted[idx].Bytes())]
		if !ok || seen[ep] {
			continue
		}
		seen[ep] = true
		out = append(out, ep)
	}
	return out
}
