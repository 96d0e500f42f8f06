/*
Package localstate persists the handful of facts a node must remember
across a restart that gossip alone cannot reconstruct: its own host-id,
startup generation, owned tokens, and how far its bootstrap had gotten —
a `system.local` row — plus the gossip quarantine map's
expiries, so a node doesn't re-admit an endpoint its previous process was
about to forget anyway.

Everything the external StorageEngine owns (system.peers, the data
tables themselves) is out of scope here; this package only ever backs
the two corners of local state the coordinator core is itself
responsible for.
*/
package localstate

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/ringcoord/internal/token"
)

// BootstrapState tracks how far a node's join has progressed, the value
// a `system.local` row calls bootstrap_state.
type BootstrapState string

const (
	BootstrapNeeded         BootstrapState = "NEEDS_BOOTSTRAP"
	BootstrapInProgress     BootstrapState = "IN_PROGRESS"
	BootstrapCompleted      BootstrapState = "COMPLETED"
	BootstrapDecommissioned BootstrapState = "DECOMMISSIONED"
)

// Record is the node's own system.local row.
type Record struct {
	ClusterName     string
	PartitionerName string
	HostID          uuid.UUID
	Generation      int64
	Tokens          []token.Token
	BootstrapState  BootstrapState
	Datacenter      string
	Rack            string
}

// wireRecord is Record's JSON-safe shape: uuid.UUID and token.Token both
// round-trip more predictably through an explicit hex encoding than
// through their own default JSON behavior.
type wireRecord struct {
	ClusterName     string   `json:"cluster_name"`
	PartitionerName string   `json:"partitioner_name"`
	HostID          string   `json:"host_id"`
	Generation      int64    `json:"generation"`
	Tokens          []string `json:"tokens"`
	BootstrapState  string   `json:"bootstrap_state"`
	Datacenter      string   `json:"datacenter"`
	Rack            string   `json:"rack"`
}

func (r Record) toWire() wireRecord {
	toks := make([]string, len(r.Tokens))
	for i, t := range r.Tokens {
		toks[i] = hex.EncodeToString(t.Bytes())
	}
	return wireRecord{
		ClusterName:     r.ClusterName,
		PartitionerName: r.PartitionerName,
		HostID:          r.HostID.String(),
		Generation:      r.Generation,
		Tokens:          toks,
		BootstrapState:  string(r.BootstrapState),
		Datacenter:      r.Datacenter,
		Rack:            r.Rack,
	}
}

func (w wireRecord) toRecord() (Record, error) {
	id, err := uuid.Parse(w.HostID)
	if err != nil {
		return Record{}, fmt.Errorf("localstate: parse host_id: %w", err)
	}
	toks := make([]token.Token, len(w.Tokens))
	for i, s := range w.Tokens {
		b, err := hex.DecodeString(s)
		if err != nil {
			return Record{}, fmt.Errorf("localstate: parse token %d: %w", i, err)
		}
		toks[i] = token.FromWire(b)
	}
	return Record{
		ClusterName:     w.ClusterName,
		PartitionerName: w.PartitionerName,
		HostID:          id,
		Generation:      w.Generation,
		Tokens:          toks,
		BootstrapState:  BootstrapState(w.BootstrapState),
		Datacenter:      w.Datacenter,
		Rack:            w.Rack,
	}, nil
}

var (
	bucketLocal      = []byte("system_local")
	bucketQuarantine = []byte("quarantine")
)

// localKey is the fixed key system.local is stored under: there is
// always exactly one local row per node.
var localKey = []byte("local")

// Store is the bbolt-backed home for a node's own persisted state.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if needed) the local-state database under
// dataDir, and ensures both buckets exist.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "localstate.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("localstate: open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketLocal, bucketQuarantine} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("localstate: create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// LoadLocal returns the persisted system.local row, or ok=false on a
// fresh node that has never saved one.
func (s *Store) LoadLocal() (rec Record, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketLocal).Get(localKey)
		if data == nil {
			return nil
		}
		var w wireRecord
		if jsonErr := json.Unmarshal(data, &w); jsonErr != nil {
			return fmt.Errorf("localstate: unmarshal system.local: %w", jsonErr)
		}
		r, convErr := w.toRecord()
		if convErr != nil {
			return convErr
		}
		rec, ok = r, true
		return nil
	})
	return rec, ok, err
}

// SaveLocal overwrites the persisted system.local row.
func (s *Store) SaveLocal(rec Record) error {
	data, err := json.Marshal(rec.toWire())
	if err != nil {
		return fmt.Errorf("localstate: marshal system.local: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLocal).Put(localKey, data)
	})
}

// SaveBootstrapState updates just the bootstrap_state column of an
// already-saved record, so the state can advance through
// NEEDS_BOOTSTRAP -> IN_PROGRESS -> COMPLETED without re-saving tokens
// that are not decided yet.
func (s *Store) SaveBootstrapState(state BootstrapState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocal)
		data := b.Get(localKey)
		if data == nil {
			return fmt.Errorf("localstate: no system.local row to update")
		}
		var w wireRecord
		if err := json.Unmarshal(data, &w); err != nil {
			return fmt.Errorf("localstate: unmarshal system.local: %w", err)
		}
		w.BootstrapState = string(state)
		out, err := json.Marshal(w)
		if err != nil {
			return err
		}
		return b.Put(localKey, out)
	})
}
