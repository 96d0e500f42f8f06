package control

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ringcoord/internal/events"
	"github.com/cuemby/ringcoord/internal/gossip"
	"github.com/cuemby/ringcoord/internal/phi"
	"github.com/cuemby/ringcoord/internal/ring"
	"github.com/cuemby/ringcoord/internal/token"
	"github.com/cuemby/ringcoord/internal/transport"
	"github.com/cuemby/ringcoord/internal/write"
)

func tok(b byte) token.Token { return token.FromBytes([]byte{b}) }

// newTestController builds a single-node fixture: a real Gossiper (so
// UpdateLocalState/EndpointStateOf behave exactly as in production) wired
// to a loopback transport of one, and a fresh TokenMetadata.
func newTestController(t *testing.T, rf int) (*Controller, *ring.TokenMetadata, *gossip.Gossiper, *events.Broker) {
	t.Helper()
	peers := transport.NewLoopbackCluster("local")
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	gcfg := gossip.Config{
		ClusterName:     "test-cluster",
		PartitionerName: "murmur3",
		LocalAddress:    "local",
		Seeds:           []string{"local"},
		RingDelay:       10 * time.Millisecond,
	}
	g := gossip.New(gcfg, 1000, phi.New(8), broker, peers["local"])
	g.RegisterHandlers()

	tm := ring.New(ring.SimpleStrategy{RF: rf})
	tp, err := token.New("murmur3", token.Config{})
	require.NoError(t, err)

	cfg := Config{
		LocalAddress:    "local",
		LocalDatacenter: "dc1",
		RingDelay:       10 * time.Millisecond,
		BatchlogTimeout: 10 * time.Millisecond,
		NumTokens:       1,
	}
	c := New(cfg, tm, g, broker, peers["local"], NoopStreamer{}, write.NewMemoryHintStore(), tp, write.SingleDatacenterSnitch{Name: "dc1"})
	c.RegisterHandlers()
	return c, tm, g, broker
}

func TestModeTransitionsPublishModeChanged(t *testing.T) {
	c, _, _, broker := newTestController(t, 1)
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	assert.Equal(t, ModeStarting, c.Mode())
	c.setMode(ModeJoining)
	assert.Equal(t, ModeJoining, c.Mode())

	select {
	case ev := <-sub:
		assert.Equal(t, events.TypeModeChanged, ev.Type)
		assert.Equal(t, "JOINING", ev.Message)
	case <-time.After(time.Second):
		t.Fatal("expected a ModeChanged event")
	}
}

func TestSetModeNoopDoesNotRepublish(t *testing.T) {
	c, _, _, broker := newTestController(t, 1)
	c.setMode(ModeJoining)
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	c.setMode(ModeJoining)
	select {
	case ev := <-sub:
		t.Fatalf("unexpected event published for a no-op mode change: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestApplyStatusBootstrappingAddsReservation(t *testing.T) {
	c, tm, _, _ := newTestController(t, 1)
	c.applyStatus("peer-1", gossip.FormatStatus(gossip.StatusBootstrapping, tokensToStatusArg([]token.Token{tok(0x40)})))

	snap := tm.Current()
	assert.Contains(t, snap.TokensOf("peer-1"), tok(0x40))
}

func TestApplyStatusNormalAssignsOwnership(t *testing.T) {
	c, tm, _, _ := newTestController(t, 1)
	c.applyStatus("peer-1", gossip.FormatStatus(gossip.StatusNormal, tokensToStatusArg([]token.Token{tok(0x40)})))

	ep, ok := tm.Current().GetEndpoint(tok(0x40))
	require.True(t, ok)
	assert.Equal(t, "peer-1", ep)
}

func TestApplyStatusLeavingThenLeftRemovesEndpoint(t *testing.T) {
	c, tm, _, _ := newTestController(t, 1)
	tm.UpdateNormalTokens([]token.Token{tok(0x40)}, "peer-1")

	c.applyStatus("peer-1", gossip.FormatStatus(gossip.StatusLeaving, tokensToStatusArg([]token.Token{tok(0x40)})))
	_, ok := tm.Current().GetEndpoint(tok(0x40))
	assert.True(t, ok, "leaving does not remove ownership yet")

	c.applyStatus("peer-1", gossip.FormatStatus(gossip.StatusLeft, tokensToStatusArg([]token.Token{tok(0x40)}), "9999999999"))
	_, ok = tm.Current().GetEndpoint(tok(0x40))
	assert.False(t, ok)
}

func TestApplyStatusMovingReservesNewToken(t *testing.T) {
	c, tm, _, _ := newTestController(t, 1)
	tm.UpdateNormalTokens([]token.Token{tok(0x10)}, "peer-1")

	c.applyStatus("peer-1", gossip.FormatStatus(gossip.StatusMoving, tokensToStatusArg([]token.Token{tok(0x80)})))

	target, moving := tm.Current().IsMoving("peer-1")
	require.True(t, moving)
	assert.True(t, target.Equal(tok(0x80)))
}

func TestApplyStatusRemovingTokenAndRemovedTokenByHostID(t *testing.T) {
	c, tm, _, _ := newTestController(t, 1)
	tm.UpdateNormalTokens([]token.Token{tok(0x40)}, "peer-1")
	id := uuid.New()
	tm.UpdateHostID(id, "peer-1", 1)

	c.applyStatus("local", gossip.FormatStatus(gossip.StatusRemovingToken, id.String()))
	_, ok := tm.Current().GetEndpoint(tok(0x40))
	assert.True(t, ok)

	c.applyStatus("local", gossip.FormatStatus(gossip.StatusRemovedToken, id.String(), "9999999999"))
	_, ok = tm.Current().GetEndpoint(tok(0x40))
	assert.False(t, ok)
}

func TestDecommissionRefusesNonMember(t *testing.T) {
	c, _, _, _ := newTestController(t, 1)
	err := c.Decommission(context.Background(), []string{"ks1"})
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestDecommissionRefusesPendingRangesIncoming(t *testing.T) {
	c, tm, _, _ := newTestController(t, 1)
	tm.RegisterKeyspace("ks1", ring.SimpleStrategy{RF: 1})
	tm.UpdateNormalTokens([]token.Token{tok(0x10)}, "local")
	tm.UpdateNormalTokens([]token.Token{tok(0x50)}, "peer")
	tm.AddLeavingEndpoint("peer")

	err := c.Decommission(context.Background(), []string{"ks1"})
	assert.ErrorIs(t, err, ErrPendingRangesIncoming)
}

func TestDecommissionOverrideSkipsPendingRangesRefusal(t *testing.T) {
	c, tm, _, _ := newTestController(t, 1)
	tm.RegisterKeyspace("ks1", ring.SimpleStrategy{RF: 1})
	tm.UpdateNormalTokens([]token.Token{tok(0x10)}, "local")
	tm.UpdateNormalTokens([]token.Token{tok(0x50)}, "peer")
	tm.AddLeavingEndpoint("peer")
	c.cfg.OverrideDecommission = true

	err := c.Decommission(context.Background(), []string{"ks1"})
	require.NoError(t, err)
	assert.Equal(t, ModeDecommissioned, c.Mode())
	// local's 0x10 is gone, so the lookup resolves to the next token,
	// 0x50, still owned by the leaving peer.
	ep, ok := tm.Current().GetEndpoint(tok(0x10))
	require.True(t, ok)
	assert.Equal(t, "peer", ep)
}

func TestDecommissionSucceedsAndAnnouncesLeft(t *testing.T) {
	c, tm, g, _ := newTestController(t, 1)
	tm.UpdateNormalTokens([]token.Token{tok(0x10)}, "local")

	err := c.Decommission(context.Background(), []string{"ks1"})
	require.NoError(t, err)
	assert.Equal(t, ModeDecommissioned, c.Mode())

	es, ok := g.EndpointStateOf("local")
	require.True(t, ok)
	name, _ := gossip.ParseStatus(es.Status())
	assert.Equal(t, gossip.StatusLeft, name)
}

func TestMoveRefusesMultiToken(t *testing.T) {
	c, tm, _, _ := newTestController(t, 1)
	tm.UpdateNormalTokens([]token.Token{tok(0x10), tok(0x20)}, "local")

	err := c.Move(context.Background(), tok(0x90), []string{"ks1"})
	assert.ErrorIs(t, err, ErrMultiToken)
}

func TestMoveReplacesOwnedToken(t *testing.T) {
	c, tm, _, _ := newTestController(t, 1)
	tm.UpdateNormalTokens([]token.Token{tok(0x10)}, "local")

	err := c.Move(context.Background(), tok(0x90), []string{"ks1"})
	require.NoError(t, err)
	assert.Equal(t, ModeNormal, c.Mode())

	snap := tm.Current()
	_, hasOld := snap.GetEndpoint(tok(0x10))
	ep, hasNew := snap.GetEndpoint(tok(0x90))
	assert.True(t, hasNew)
	assert.Equal(t, "local", ep)
	// Re-querying the old token resolves to whichever token now sorts
	// next, not to "local" at 0x10 anymore, since ReplaceToken deletes it.
	_ = hasOld
}

func TestRemoveNodeRefusesUnknownHostID(t *testing.T) {
	c, _, _, _ := newTestController(t, 1)
	err := c.RemoveNode(context.Background(), uuid.New(), []string{"ks1"}, false)
	assert.ErrorIs(t, err, ErrUnknownHostID)
}

func TestRemoveNodeRefusesLivePeer(t *testing.T) {
	c, tm, g, _ := newTestController(t, 1)
	id := uuid.New()
	tm.UpdateNormalTokens([]token.Token{tok(0x10)}, "local")
	tm.UpdateHostID(id, "local", 1)

	// "local" is the controller's own gossiper's local endpoint, which is
	// always alive to itself.
	require.True(t, g.IsAlive("local"))

	err := c.RemoveNode(context.Background(), id, []string{"ks1"}, false)
	assert.ErrorIs(t, err, ErrPeerAlive)
}

func TestRemoveNodeForceCompletionSkipsAckWait(t *testing.T) {
	c, tm, _, _ := newTestController(t, 2)
	tm.RegisterKeyspace("ks1", ring.SimpleStrategy{RF: 2})
	id := uuid.New()
	// "dead-peer" was never heard from by this node's gossiper, so
	// IsAlive reports false without any special setup.
	tm.UpdateNormalTokens([]token.Token{tok(0x10)}, "dead-peer")
	tm.UpdateHostID(id, "dead-peer", 1)
	tm.UpdateNormalTokens([]token.Token{tok(0x50)}, "other1")
	tm.UpdateNormalTokens([]token.Token{tok(0x90)}, "other2")

	err := c.RemoveNode(context.Background(), id, []string{"ks1"}, true)
	require.NoError(t, err)
	assert.Equal(t, ModeNormal, c.Mode())

	// dead-peer's 0x10 is gone, so the lookup resolves to the next token,
	// 0x50, owned by other1.
	ep, ok := tm.Current().GetEndpoint(tok(0x10))
	require.True(t, ok)
	assert.Equal(t, "other1", ep)
}

func TestRemoveNodeWaitsForReplicationFinishedAcks(t *testing.T) {
	c, tm, _, _ := newTestController(t, 2)
	tm.RegisterKeyspace("ks1", ring.SimpleStrategy{RF: 2})
	id := uuid.New()
	tm.UpdateNormalTokens([]token.Token{tok(0x10)}, "dead-peer")
	tm.UpdateHostID(id, "dead-peer", 1)
	tm.UpdateNormalTokens([]token.Token{tok(0x50)}, "other1")
	tm.UpdateNormalTokens([]token.Token{tok(0x90)}, "other2")

	done := make(chan error, 1)
	go func() {
		done <- c.RemoveNode(context.Background(), id, []string{"ks1"}, false)
	}()

	// Give RemoveNode time to install its removalTracker before acking.
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.removal != nil
	}, time.Second, 5*time.Millisecond)

	c.mu.Lock()
	tracker := c.removal
	c.mu.Unlock()
	require.NotNil(t, tracker)
	for ep := range tracker.expected {
		tracker.ack(ep)
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("RemoveNode did not return after every expected ack")
	}
}

func TestRebuildStreamsFromSourceDatacenterOnly(t *testing.T) {
	c, tm, _, _ := newTestController(t, 1)
	tm.UpdateNormalTokens([]token.Token{tok(0x10)}, "local")
	tm.UpdateNormalTokens([]token.Token{tok(0x80)}, "remote-peer")

	err := c.Rebuild(context.Background(), "dc1", []string{"ks1"})
	require.NoError(t, err)
}

func TestMetricsSourceReportsCurrentState(t *testing.T) {
	c, tm, g, _ := newTestController(t, 1)
	tm.UpdateNormalTokens([]token.Token{tok(0x10)}, "local")
	g.UpdateLocalState(gossip.StateStatus, gossip.FormatStatus(gossip.StatusNormal, tokensToStatusArg([]token.Token{tok(0x10)})))
	c.setMode(ModeNormal)

	counts := c.EndpointCountsByStatus()
	assert.Equal(t, 1, counts[gossip.StatusNormal])
	assert.Equal(t, ModeNormal.Ordinal(), c.ModeOrdinal())
	assert.NotNil(t, c.PendingRangeCounts())
}

func TestTokensToStatusArgRoundTrips(t *testing.T) {
	toks := []token.Token{tok(0x10), tok(0x80), tok(0xF0)}
	arg := tokensToStatusArg(toks)
	got, err := parseStatusTokens(arg)
	require.NoError(t, err)
	require.Len(t, got, len(toks))
	for i := range toks {
		assert.True(t, toks[i].Equal(got[i]))
	}
}

func TestParseStatusTokensEmptyArg(t *testing.T) {
	got, err := parseStatusTokens("")
	require.NoError(t, err)
	assert.Empty(t, got)
}
