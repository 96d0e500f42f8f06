/*
Package write implements the WriteCoordinator: endpoint resolution,
consistency-level accounting, the foreground/background handler lifecycle,
hinted handoff, counter-write leader selection, and batchlog-backed atomic
batches described in the coordinator specification.

The handler itself is a small state machine keyed by a monotonically
increasing response_id: construct the handler, dispatch the RPCs, and
let inbound MUTATION_DONE replies or a timer resolve it exactly once.
*/
package write

import (
	"encoding/json"
	"time"
)

// WriteType classifies a mutation; it travels in the MUTATION payload and
// names the write in the WriteTimeout error it raises on failure.
type WriteType string

const (
	WriteTypeSimple   WriteType = "SIMPLE"
	WriteTypeCounter  WriteType = "COUNTER"
	WriteTypeBatch    WriteType = "BATCH"
	WriteTypeBatchLog WriteType = "BATCH_LOG"
	WriteTypeView     WriteType = "VIEW"
)

// Mutation is one row-level write: a keyspace/table/key plus its column
// values and the client-supplied write timestamp.
type Mutation struct {
	Keyspace  string
	Table     string
	Key       []byte
	Columns   map[string][]byte
	Timestamp int64
}

// mutationMessage is the MUTATION verb's wire payload.
type mutationMessage struct {
	ResponseID int64
	Mutation   Mutation
	WriteType  WriteType
}

// mutationDoneMessage is the MUTATION_DONE verb's wire payload: an
// acknowledgement keyed back to the response_id the MUTATION carried, or
// a failure reason if the replica could not apply it.
type mutationDoneMessage struct {
	ResponseID int64
	Failed     bool
	Reason     string
}

func encodeMutation(m mutationMessage) ([]byte, error) { return json.Marshal(m) }
func decodeMutation(b []byte) (mutationMessage, error) {
	var m mutationMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

func encodeMutationDone(m mutationDoneMessage) ([]byte, error) { return json.Marshal(m) }
func decodeMutationDone(b []byte) (mutationDoneMessage, error) {
	var m mutationDoneMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// handlerKind selects how a WriteHandler counts acknowledgements.
type handlerKind int

const (
	kindGeneric handlerKind = iota
	kindDatacenterLocal
	kindDatacenterSynchronous
)

// LivenessSource reports whether an endpoint is currently considered
// alive. Satisfied structurally by *gossip.Gossiper, so this package never
// imports gossip directly and the dependency only runs one way.
type LivenessSource interface {
	IsAlive(endpoint string) bool
}

// Snitch resolves which datacenter an endpoint belongs to, the minimum
// topology fact the datacenter-local and datacenter-synchronous handler
// kinds need.
type Snitch interface {
	DatacenterOf(endpoint string) string
}

// SingleDatacenterSnitch treats every endpoint as being in the same
// datacenter; suitable for deployments that never configure
// network-topology replication.
type SingleDatacenterSnitch struct{ Name string }

func (s SingleDatacenterSnitch) DatacenterOf(string) string {
	if s.Name == "" {
		return "dc1"
	}
	return s.Name
}

// StaticSnitch maps specific endpoints to datacenters, falling back to a
// default for anything unlisted.
type StaticSnitch struct {
	Default     string
	Assignments map[string]string
}

func (s StaticSnitch) DatacenterOf(endpoint string) string {
	if dc, ok := s.Assignments[endpoint]; ok {
		return dc
	}
	if s.Default != "" {
		return s.Default
	}
	return "dc1"
}

// deadline bundles the timeout a handler was dispatched with for error
// reporting.
type deadline struct {
	startedAt time.Time
	timeout   time.Duration
}

func (d deadline) expired(now time.Time) bool { return now.Sub(d.startedAt) >= d.timeout }
