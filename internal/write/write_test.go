package write

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ringcoord/internal/coordfail"
	"github.com/cuemby/ringcoord/internal/ring"
	"github.com/cuemby/ringcoord/internal/token"
	"github.com/cuemby/ringcoord/internal/transport"
)

func TestBlockForQuorum(t *testing.T) {
	assert.Equal(t, 2, BlockFor(CLQuorum, 3, 3))
	assert.Equal(t, 3, BlockFor(CLQuorum, 5, 5))
	assert.Equal(t, 1, BlockFor(CLOne, 3, 3))
	assert.Equal(t, 3, BlockFor(CLAll, 3, 3))
	assert.Equal(t, 2, BlockFor(CLLocalQuorum, 5, 3))
}

func TestAssureSufficientLiveNodesRaisesUnavailable(t *testing.T) {
	err := AssureSufficientLiveNodes(CLQuorum, 1, 2, 0)
	require.Error(t, err)
	var unavail *coordfail.Unavailable
	require.ErrorAs(t, err, &unavail)
	assert.Equal(t, 2, unavail.Required)
}

// fakeLiveness lets tests flip individual endpoints dead without a real
// gossiper.
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

func (f *fakeLiveness) kill(ep string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dead[ep] = true
}

func setupThreeNodeRing(t *testing.T) *ring.TokenMetadata {
	t.Helper()
	tm := ring.New(ring.SimpleStrategy{RF: 3})
	tm.RegisterKeyspace("ks1", ring.SimpleStrategy{RF: 3})

	part, err := token.New("murmur3", token.Config{})
	require.NoError(t, err)

	toks := []token.Token{
		part.TokenOf([]byte("node-a")),
		part.TokenOf([]byte("node-b")),
		part.TokenOf([]byte("node-c")),
	}
	tm.UpdateNormalTokens([]token.Token{toks[0]}, "node-a")
	tm.UpdateNormalTokens([]token.Token{toks[1]}, "node-b")
	tm.UpdateNormalTokens([]token.Token{toks[2]}, "node-c")
	return tm
}

// replicaAck registers a VerbMutation handler on a loopback peer that
// always acks.
func replicaAck(peers map[string]*transport.LoopbackTransport, addr string) {
	peers[addr].RegisterHandler(transport.VerbMutation, func(ctx context.Context, env transport.Envelope) ([]byte, error) {
		msg, err := decodeMutation(env.Payload)
		if err != nil {
			return nil, err
		}
		return encodeMutationDone(mutationDoneMessage{ResponseID: msg.ResponseID})
	})
}

// replicaAckAfter registers a VerbMutation handler that withholds its
// MUTATION_DONE reply until gate is closed, modeling a slow replica whose
// ack arrives well after the coordinator has already moved on.
func replicaAckAfter(peers map[string]*transport.LoopbackTransport, addr string, gate <-chan struct{}) {
	peers[addr].RegisterHandler(transport.VerbMutation, func(ctx context.Context, env transport.Envelope) ([]byte, error) {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		msg, err := decodeMutation(env.Payload)
		if err != nil {
			return nil, err
		}
		return encodeMutationDone(mutationDoneMessage{ResponseID: msg.ResponseID})
	})
}

func TestMutateQuorumSucceedsWithAllReplicasLive(t *testing.T) {
	tm := setupThreeNodeRing(t)
	peers := transport.NewLoopbackCluster("node-a", "node-b", "node-c")
	replicaAck(peers, "node-a")
	replicaAck(peers, "node-b")
	replicaAck(peers, "node-c")

	liveness := newFakeLiveness()
	c := New(Config{LocalDatacenter: "dc1", WriteTimeout: time.Second}, tm, liveness, nil, peers["node-a"], nil)
	c.RegisterHandlers()

	part, _ := token.New("murmur3", token.Config{})
	key := []byte("row-1")
	tok := part.TokenOf(key)

	err := c.Mutate(context.Background(), "ks1", tok, Mutation{Keyspace: "ks1", Key: key}, CLQuorum)
	assert.NoError(t, err)
}

func TestMutateUnavailableWhenNotEnoughLive(t *testing.T) {
	tm := setupThreeNodeRing(t)
	peers := transport.NewLoopbackCluster("node-a", "node-b", "node-c")
	replicaAck(peers, "node-a")

	liveness := newFakeLiveness()
	liveness.kill("node-b")
	liveness.kill("node-c")

	c := New(Config{LocalDatacenter: "dc1", WriteTimeout: time.Second}, tm, liveness, nil, peers["node-a"], nil)
	c.RegisterHandlers()

	part, _ := token.New("murmur3", token.Config{})
	key := []byte("row-1")
	tok := part.TokenOf(key)

	err := c.Mutate(context.Background(), "ks1", tok, Mutation{Keyspace: "ks1", Key: key}, CLQuorum)
	require.Error(t, err)
	var unavail *coordfail.Unavailable
	assert.ErrorAs(t, err, &unavail)
}

// TestMutateBackgroundTransitionS3 exercises Scenario S3: CL=QUORUM over 3
// replicas, block_for=2. Two replicas ack promptly; the third is slow. The
// caller's future resolves as soon as block_for is met, the still-
// outstanding target is tracked as a background handler, and the
// background state clears once the straggler finally acks.
func TestMutateBackgroundTransitionS3(t *testing.T) {
	tm := setupThreeNodeRing(t)
	peers := transport.NewLoopbackCluster("node-a", "node-b", "node-c")
	replicaAck(peers, "node-a")
	replicaAck(peers, "node-b")
	gate := make(chan struct{})
	replicaAckAfter(peers, "node-c", gate)

	liveness := newFakeLiveness()
	c := New(Config{LocalDatacenter: "dc1", WriteTimeout: 5 * time.Second}, tm, liveness, nil, peers["node-a"], nil)
	c.RegisterHandlers()

	part, _ := token.New("murmur3", token.Config{})
	key := []byte("row-1")
	tok := part.TokenOf(key)

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- c.Mutate(context.Background(), "ks1", tok, Mutation{Keyspace: "ks1", Key: key}, CLQuorum)
	}()

	var h *WriteHandler
	require.Eventually(t, func() bool {
		c.slab.mu.Lock()
		defer c.slab.mu.Unlock()
		for _, hh := range c.slab.handlers {
			h = hh
		}
		return h != nil
	}, time.Second, time.Millisecond)

	err := <-done
	assert.NoError(t, err)
	assert.Less(t, time.Since(start), 4*time.Second, "quorum should complete well before the slow replica's timeout")

	require.True(t, h.IsBackground(), "handler should enter background state once CL is met with a straggler still outstanding")
	assert.Equal(t, 1, h.Outstanding())

	close(gate)
	require.Eventually(t, func() bool { return h.Outstanding() == 0 }, time.Second, time.Millisecond)
	assert.False(t, h.IsBackground(), "background state must clear once the straggler's ack arrives")
}

func TestWriteHandlerLateAckAfterTimeoutIsNoOp(t *testing.T) {
	h := newWriteHandler(1, CLQuorum, WriteTypeSimple, kindGeneric, []string{"a", "b", "c"}, 2, nil, 0, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.True(t, h.CheckTimeout(time.Now()))

	err := <-h.Done()
	var wt *coordfail.WriteTimeout
	require.ErrorAs(t, err, &wt)

	resolved := h.Ack("a", "dc1")
	assert.False(t, resolved, "an ack after timeout must not re-resolve the handler")
}

func TestWriteHandlerDatacenterSynchronousRequiresEveryDC(t *testing.T) {
	h := newWriteHandler(1, CLEachQuorum, WriteTypeSimple, kindDatacenterSynchronous,
		[]string{"a1", "a2", "b1", "b2"}, 0, map[string]int{"dc1": 2, "dc2": 2}, 0, time.Second)

	h.Ack("a1", "dc1")
	h.Ack("a2", "dc1")
	resolved := h.Ack("b1", "dc2")
	assert.False(t, resolved, "dc2 still needs a second ack")

	resolved = h.Ack("b2", "dc2")
	assert.True(t, resolved)
}

func TestThrottleQueuesPastBackgroundBudget(t *testing.T) {
	th := NewThrottle(100)
	require.NoError(t, th.Admit(context.Background(), 60))

	admitted := make(chan struct{})
	go func() {
		_ = th.Admit(context.Background(), 60)
		close(admitted)
	}()

	select {
	case <-admitted:
		t.Fatal("second admit should have queued behind the exhausted background budget")
	case <-time.After(50 * time.Millisecond):
	}

	th.Release(60)

	select {
	case <-admitted:
	case <-time.After(time.Second):
		t.Fatal("queued admit should unblock once budget is released")
	}
}

func TestHintCountsTowardAnyConsistency(t *testing.T) {
	tm := setupThreeNodeRing(t)
	peers := transport.NewLoopbackCluster("node-a", "node-b", "node-c")

	liveness := newFakeLiveness()
	liveness.kill("node-a")
	liveness.kill("node-b")
	liveness.kill("node-c")

	hints := NewMemoryHintStore()
	c := New(Config{LocalDatacenter: "dc1", WriteTimeout: time.Second}, tm, liveness, nil, peers["node-a"], hints)
	c.RegisterHandlers()

	part, _ := token.New("murmur3", token.Config{})
	key := []byte("row-1")
	tok := part.TokenOf(key)

	err := c.Mutate(context.Background(), "ks1", tok, Mutation{Keyspace: "ks1", Key: key}, CLAny)
	assert.NoError(t, err, "CL=ANY must succeed purely on a hint when every natural replica is dead")
	assert.NotEmpty(t, hints.Pending("node-a"))
}
