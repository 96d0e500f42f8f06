package read

import (
	"bytes"
	"sort"
)

// replicaVersion is one replica's contribution to a partition
// reconciliation: either its sent rows, or an empty placeholder for a
// replica that was only ever digested, plus the two end flags.
type replicaVersion struct {
	Endpoint            string
	Rows                []Row
	HasData             bool
	ReachedEnd          bool
	ReachedPartitionEnd bool
	ShortRead           bool
	RequestedLimit      int
}

// Resolver accumulates replica versions for one partition read and
// produces the merged result, the per-replica repair diffs, and the
// short-read / incomplete-information signals.
type Resolver struct {
	versions []replicaVersion
}

func NewResolver() *Resolver { return &Resolver{} }

func (r *Resolver) Add(v replicaVersion) { r.versions = append(r.versions, v) }

// ReconcileResult is the outcome of merging every accumulated version.
type ReconcileResult struct {
	Merged   []Row
	LiveCount int

	// PerReplicaDiffs holds, for each replica with data, the rows the
	// merge has that the replica is missing or holds an older version of
	// — these feed asynchronous read-repair writes back to that replica.
	PerReplicaDiffs map[string][]Row

	ShortRead          bool
	ShortReadLiveCount int

	Incomplete bool
}

// Reconcile merges all accumulated replica versions, applying the
// reconciliation steps 1-4.
func (r *Resolver) Reconcile() ReconcileResult {
	best := map[string]Row{} // clustering-key wire form -> winning row
	order := [][]byte{}

	for _, v := range r.versions {
		if !v.HasData {
			continue
		}
		for _, row := range v.Rows {
			key := string(row.ClusteringKey)
			existing, ok := best[key]
			if !ok {
				best[key] = row
				order = append(order, row.ClusteringKey)
				continue
			}
			if row.Timestamp > existing.Timestamp {
				best[key] = row
			}
		}
	}

	sort.Slice(order, func(i, j int) bool { return bytes.Compare(order[i], order[j]) < 0 })

	merged := make([]Row, 0, len(order))
	live := 0
	for _, ck := range order {
		row := best[string(ck)]
		merged = append(merged, row)
		if len(row.Columns) > 0 {
			live++
		}
	}

	diffs := r.diffsPerReplica(best)
	shortRead, shortLive := r.shortReadSignal()
	incomplete := r.incompleteInformation(merged)

	return ReconcileResult{
		Merged:             merged,
		LiveCount:          live,
		PerReplicaDiffs:     diffs,
		ShortRead:          shortRead,
		ShortReadLiveCount: shortLive,
		Incomplete:         incomplete,
	}
}

// diffsPerReplica computes, for every replica that returned data, the
// merged rows it is missing or holds a stale version of.
func (r *Resolver) diffsPerReplica(merged map[string]Row) map[string][]Row {
	out := map[string][]Row{}
	for _, v := range r.versions {
		if !v.HasData {
			continue
		}
		have := map[string]int64{}
		for _, row := range v.Rows {
			have[string(row.ClusteringKey)] = row.Timestamp
		}
		var owed []Row
		for key, row := range merged {
			ts, ok := have[key]
			if !ok || ts < row.Timestamp {
				owed = append(owed, row)
			}
		}
		if len(owed) > 0 {
			sort.Slice(owed, func(i, j int) bool {
				return bytes.Compare(owed[i].ClusteringKey, owed[j].ClusteringKey) < 0
			})
			out[v.Endpoint] = owed
		}
	}
	return out
}

// shortReadSignal implements step 3: among replicas that reported a
// short read (early termination under the requested limit), the lowest
// observed live-row count is the short-read indicator.
func (r *Resolver) shortReadSignal() (bool, int) {
	min := -1
	found := false
	for _, v := range r.versions {
		if !v.HasData || !v.ShortRead || len(v.Rows) >= v.RequestedLimit {
			continue
		}
		found = true
		live := 0
		for _, row := range v.Rows {
			if len(row.Columns) > 0 {
				live++
			}
		}
		if min == -1 || live < min {
			min = live
		}
	}
	return found, min
}

// incompleteInformation implements step 4 for a single-partition read:
// if any replica's last-sent clustering key sorts before the merged
// result's last key, and that replica did not itself report reaching the
// partition end, the merge is missing rows that replica has further out.
func (r *Resolver) incompleteInformation(merged []Row) bool {
	if len(merged) == 0 {
		return false
	}
	lastReconciled := merged[len(merged)-1].ClusteringKey

	for _, v := range r.versions {
		if !v.HasData || v.ReachedPartitionEnd || len(v.Rows) == 0 {
			continue
		}
		lastSent := v.Rows[len(v.Rows)-1].ClusteringKey
		if bytes.Compare(lastSent, lastReconciled) < 0 {
			return true
		}
	}
	return false
}
