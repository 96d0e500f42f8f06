/*
Package transport implements the MessagingTransport contract external to
the coordinator core: a request/response RPC with typed verbs, one-way
messages, timeouts, and per-connection source-address metadata.

Verb payloads travel as opaque bytes so the gossip, write and read
coordinators can each own their own wire structs without a dependency
cycle back into this package; Transport only routes by Verb and endpoint
address. A LoopbackTransport wires any number of named local peers
together for tests, and the grpc-backed Transport speaks the verbs over a
single hand-written service rather than generated protobuf stubs, since no
protoc step runs in this build.
*/
package transport

import (
	"context"
	"time"
)

// Verb names one RPC kind of the coordinator's external interface.
type Verb string

const (
	VerbGossipDigestSyn     Verb = "GOSSIP_DIGEST_SYN"
	VerbGossipDigestAck     Verb = "GOSSIP_DIGEST_ACK"
	VerbGossipDigestAck2    Verb = "GOSSIP_DIGEST_ACK2"
	VerbGossipEcho          Verb = "GOSSIP_ECHO"
	VerbGossipShutdown      Verb = "GOSSIP_SHUTDOWN"
	VerbMutation            Verb = "MUTATION"
	VerbMutationDone        Verb = "MUTATION_DONE"
	VerbCounterMutation     Verb = "COUNTER_MUTATION"
	VerbReadData            Verb = "READ_DATA"
	VerbReadDigest          Verb = "READ_DIGEST"
	VerbReadMutationData    Verb = "READ_MUTATION_DATA"
	VerbTruncate            Verb = "TRUNCATE"
	VerbReplicationFinished Verb = "REPLICATION_FINISHED"
	VerbRepairChecksumRange Verb = "REPAIR_CHECKSUM_RANGE"
)

// Envelope carries the auxiliary metadata every RPC call has alongside its
// verb-specific payload: the broadcast source address and shard, a
// maximum-result-size budget, and an optional trace id.
type Envelope struct {
	SourceAddress  string
	SourceShard    int
	MaxResultBytes int64
	TraceID        string
	Payload        []byte
}

// Handler processes one inbound call for a verb and produces its reply
// payload. A one-way verb's handler return value is ignored by the caller
// but still invoked so local testing can observe it.
type Handler func(ctx context.Context, env Envelope) ([]byte, error)

// Transport sends typed verb calls to a named endpoint and lets local code
// register handlers for inbound calls of a given verb.
type Transport interface {
	// Send dispatches env to target under verb and returns the reply
	// payload. For one-way verbs, callers should not wait on the result
	// path for correctness, only for delivery confirmation.
	Send(ctx context.Context, target string, verb Verb, env Envelope) ([]byte, error)

	// RegisterHandler installs fn as the receiver for verb. Only one
	// handler may be registered per verb.
	RegisterHandler(verb Verb, fn Handler)

	// LocalAddress returns this transport's own address, as it appears in
	// outbound Envelope.SourceAddress fields.
	LocalAddress() string
}

// StreamingRetry is the retry policy for bulk-streaming verbs.
var StreamingRetry = struct {
	Timeout    time.Duration
	MaxRetries int
	Wait       time.Duration
}{
	Timeout:    10 * time.Minute,
	MaxRetries: 10,
	Wait:       30 * time.Second,
}
