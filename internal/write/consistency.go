package write

import "github.com/cuemby/ringcoord/internal/coordfail"

// ConsistencyLevel names one of the tunable per-request consistency
// levels a mutation or read can request.
type ConsistencyLevel string

const (
	CLAny         ConsistencyLevel = "ANY"
	CLOne         ConsistencyLevel = "ONE"
	CLTwo         ConsistencyLevel = "TWO"
	CLThree       ConsistencyLevel = "THREE"
	CLQuorum      ConsistencyLevel = "QUORUM"
	CLAll         ConsistencyLevel = "ALL"
	CLLocalOne    ConsistencyLevel = "LOCAL_ONE"
	CLLocalQuorum ConsistencyLevel = "LOCAL_QUORUM"
	CLEachQuorum  ConsistencyLevel = "EACH_QUORUM"
)

// IsDatacenterLocal reports whether cl only ever counts replicas in the
// coordinator's own datacenter.
func (cl ConsistencyLevel) IsDatacenterLocal() bool {
	return cl == CLLocalOne || cl == CLLocalQuorum
}

// IsEachQuorum reports whether cl requires a quorum in every datacenter
// independently, which under a network-topology-aware strategy drives the
// datacenter-synchronous handler kind.
func (cl ConsistencyLevel) IsEachQuorum() bool { return cl == CLEachQuorum }

// BlockFor computes block_for(K,CL): the number of replicas that must
// acknowledge (write) or respond (read) to satisfy cl against a keyspace
// whose replication factor is rf, or whose local-datacenter replication
// factor is localRF under a datacenter-local level.
func BlockFor(cl ConsistencyLevel, rf, localRF int) int {
	switch cl {
	case CLAny:
		return 1
	case CLOne, CLLocalOne:
		return 1
	case CLTwo:
		return 2
	case CLThree:
		return 3
	case CLQuorum:
		return rf/2 + 1
	case CLLocalQuorum:
		return localRF/2 + 1
	case CLEachQuorum:
		// The local datacenter's quorum only; selectHandlerKind computes
		// every datacenter's own quorum for the handler's per-DC counters.
		return localRF/2 + 1
	case CLAll:
		return rf
	default:
		return rf
	}
}

// AssureSufficientLiveNodes raises Unavailable if the combined set of
// natural-plus-pending endpoints with dead ones removed is smaller than
// block_for(K,CL) plus the number of those endpoints that are only
// pending (not yet natural).
func AssureSufficientLiveNodes(cl ConsistencyLevel, liveCount, blockFor, pendingCount int) error {
	if liveCount < blockFor+pendingCount {
		return &coordfail.Unavailable{
			ConsistencyLevel: string(cl),
			Required:         blockFor + pendingCount,
			Alive:            liveCount,
		}
	}
	return nil
}
