package read

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ringcoord/internal/ring"
	"github.com/cuemby/ringcoord/internal/token"
	"github.com/cuemby/ringcoord/internal/transport"
)

type fakeLiveness struct {
	mu   sync.Mutex
	dead map[string]bool
}

func newFakeLiveness() *fakeLiveness { return &fakeLiveness{dead: map[string]bool{}} }

func (f *fakeLiveness) IsAlive(ep string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.dead[ep]
}

func setupThreeNodeRing(t *testing.T) *ring.TokenMetadata {
	t.Helper()
	tm := ring.New(ring.SimpleStrategy{RF: 3})
	tm.RegisterKeyspace("ks1", ring.SimpleStrategy{RF: 3})

	part, err := token.New("murmur3", token.Config{})
	require.NoError(t, err)

	tm.UpdateNormalTokens([]token.Token{part.TokenOf([]byte("node-a"))}, "node-a")
	tm.UpdateNormalTokens([]token.Token{part.TokenOf([]byte("node-b"))}, "node-b")
	tm.UpdateNormalTokens([]token.Token{part.TokenOf([]byte("node-c"))}, "node-c")
	return tm
}

func registerAgreeingReplica(peers map[string]*transport.LoopbackTransport, addr string, rows []Row) {
	peers[addr].RegisterHandler(transport.VerbReadData, func(ctx context.Context, env transport.Envelope) ([]byte, error) {
		return encodeDataReply(dataReply{Rows: rows, ReachedEnd: true, ReachedPartitionEnd: true})
	})
	peers[addr].RegisterHandler(transport.VerbReadDigest, func(ctx context.Context, env transport.Envelope) ([]byte, error) {
		return encodeDigestReply(digestReply{Hash: hashRows(rows)})
	})
	peers[addr].RegisterHandler(transport.VerbReadMutationData, func(ctx context.Context, env transport.Envelope) ([]byte, error) {
		return encodeDataReply(dataReply{Rows: rows, ReachedEnd: true, ReachedPartitionEnd: true})
	})
}

func TestReadQuorumAgreesOnFastPath(t *testing.T) {
	tm := setupThreeNodeRing(t)
	peers := transport.NewLoopbackCluster("node-a", "node-b", "node-c")
	rows := []Row{row("k1", liveCols(), 1)}
	registerAgreeingReplica(peers, "node-a", rows)
	registerAgreeingReplica(peers, "node-b", rows)
	registerAgreeingReplica(peers, "node-c", rows)

	liveness := newFakeLiveness()
	c := New(Config{LocalDatacenter: "dc1", ReadTimeout: time.Second}, tm, liveness, nil, peers["node-a"], nil)

	part, _ := token.New("murmur3", token.Config{})
	key := []byte("row-1")
	tok := part.TokenOf(key)

	got, err := c.Read(context.Background(), "ks1", "t1", tok, Command{Key: key, Limit: 100, CL: CLQuorum})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

type recordingRepair struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingRepair) Repair(ctx context.Context, endpoint, ks, table string, key []byte, rowVal Row) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, endpoint)
}

// TestReadDigestMismatchTriggersRepairS4 is Scenario S4 end to end: three
// replicas disagree on digest because one is missing a row, so the
// coordinator pulls mutation data from all three and repairs the one
// that's behind.
func TestReadDigestMismatchTriggersRepairS4(t *testing.T) {
	tm := setupThreeNodeRing(t)
	peers := transport.NewLoopbackCluster("node-a", "node-b", "node-c")

	full := []Row{row("A", liveCols(), 1), row("B", liveCols(), 1), row("C", liveCols(), 1)}
	partial := []Row{row("A", liveCols(), 1), row("C", liveCols(), 1)}

	registerAgreeingReplica(peers, "node-a", full)
	registerMismatchedReplica(peers, "node-b", partial, full)
	registerAgreeingReplica(peers, "node-c", full)

	liveness := newFakeLiveness()
	repair := &recordingRepair{}
	c := New(Config{LocalDatacenter: "dc1", ReadTimeout: time.Second, ReadRepair: ReadRepairProbabilities{Global: 1}}, tm, liveness, nil, peers["node-a"], repair)

	part, _ := token.New("murmur3", token.Config{})
	key := []byte("row-1")
	tok := part.TokenOf(key)

	got, err := c.Read(context.Background(), "ks1", "t1", tok, Command{Key: key, Limit: 100, CL: CLAll})
	require.NoError(t, err)
	assert.Len(t, got, 3, "reconciliation must recover the row node-b was missing")

	repair.mu.Lock()
	defer repair.mu.Unlock()
	assert.Contains(t, repair.calls, "node-b")
}

// registerMismatchedReplica answers DATA/DIGEST with partial (so its
// digest disagrees with the other replicas) but READ_MUTATION_DATA with
// the same partial set, as the real replica would.
func registerMismatchedReplica(peers map[string]*transport.LoopbackTransport, addr string, partial, full []Row) {
	peers[addr].RegisterHandler(transport.VerbReadData, func(ctx context.Context, env transport.Envelope) ([]byte, error) {
		return encodeDataReply(dataReply{Rows: partial, ReachedEnd: true, ReachedPartitionEnd: true})
	})
	peers[addr].RegisterHandler(transport.VerbReadDigest, func(ctx context.Context, env transport.Envelope) ([]byte, error) {
		return encodeDigestReply(digestReply{Hash: hashRows(partial)})
	})
	peers[addr].RegisterHandler(transport.VerbReadMutationData, func(ctx context.Context, env transport.Envelope) ([]byte, error) {
		return encodeDataReply(dataReply{Rows: partial, ReachedEnd: true, ReachedPartitionEnd: true})
	})
}
