package read

import (
	"hash/fnv"
	"sort"
)

// hashRows computes a deterministic digest of rows, the same thing a
// replica's DIGEST reply carries, so a coordinator can compute its own
// copy from a DATA reply to compare against a peer's digest without
// re-requesting the data. Column iteration is sorted since Go map order
// isn't, or two replicas holding identical data would digest differently.
func hashRows(rows []Row) string {
	h := fnv.New128a()
	for _, row := range rows {
		h.Write(row.ClusteringKey)
		h.Write([]byte{0})

		keys := make([]string, 0, len(row.Columns))
		for k := range row.Columns {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			h.Write([]byte(k))
			h.Write(row.Columns[k])
		}
	}
	return string(h.Sum(nil))
}
