package localstate

import (
	"fmt"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"
)

// SaveQuarantine records ep's just-removed expiry, mirroring the
// gossiper's in-memory justRemoved map so a restart doesn't lose track
// of an endpoint that was mid-quarantine when the process died.
func (s *Store) SaveQuarantine(ep string, until time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketQuarantine).Put([]byte(ep), []byte(strconv.FormatInt(until.Unix(), 10)))
	})
}

// ClearQuarantine removes ep's persisted quarantine entry once its
// expiry has passed and the in-memory map has pruned it.
func (s *Store) ClearQuarantine(ep string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketQuarantine).Delete([]byte(ep))
	})
}

// LoadQuarantine returns every persisted endpoint -> expiry pair, to
// seed a freshly constructed Gossiper's quarantine map at startup via
// Gossiper.SeedQuarantine.
func (s *Store) LoadQuarantine() (map[string]time.Time, error) {
	out := map[string]time.Time{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQuarantine)
		return b.ForEach(func(k, v []byte) error {
			sec, err := strconv.ParseInt(string(v), 10, 64)
			if err != nil {
				return fmt.Errorf("localstate: parse quarantine expiry for %s: %w", k, err)
			}
			out[string(k)] = time.Unix(sec, 0).UTC()
			return nil
		})
	})
	return out, err
}
