package control

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/ringcoord/internal/gossip"
	"github.com/google/uuid"
)

// removalTracker collects REPLICATION_FINISHED acks from the endpoints
// expected to stream an offline peer's ranges during RemoveNode.
type removalTracker struct {
	mu        sync.Mutex
	expected  map[string]bool
	remaining int
	done      chan struct{}
}

func newRemovalTracker(expected []string) *removalTracker {
	m := make(map[string]bool, len(expected))
	for _, ep := range expected {
		m[ep] = false
	}
	t := &removalTracker{expected: m, remaining: len(m), done: make(chan struct{})}
	if t.remaining == 0 {
		close(t.done)
	}
	return t
}

func (t *removalTracker) ack(ep string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	acked, known := t.expected[ep]
	if !known || acked {
		return
	}
	t.expected[ep] = true
	t.remaining--
	if t.remaining == 0 {
		close(t.done)
	}
}

// RemoveNode runs the forced-removal sequence for an offline
// peer named by host-id: it refuses a still-reachable target, announces
// REMOVING_TOKEN about itself (the coordinating node) carrying the
// target's host-id, waits for REPLICATION_FINISHED from every endpoint
// due to inherit one of the target's ranges, then announces
// REMOVED_TOKEN. forceRemoveCompletion skips the wait, per
// force_remove_completion.
func (c *Controller) RemoveNode(ctx context.Context, hostID uuid.UUID, ks []string, forceRemoveCompletion bool) error {
	snap := c.ring.Current()
	endpoint, ok := snap.EndpointForHostID(hostID)
	if !ok {
		return ErrUnknownHostID
	}
	if c.gossiper.IsAlive(endpoint) {
		return ErrPeerAlive
	}
	tokens := snap.TokensOf(endpoint)

	c.setMode(ModeLeaving)
	c.gossiper.UpdateLocalState(gossip.StateStatus, gossip.FormatStatus(gossip.StatusRemovingToken, hostID.String()))
	c.ring.AddLeavingEndpoint(endpoint)

	expectedSet := map[string]bool{}
	for _, keyspace := range ks {
		for _, t := range tokens {
			for _, dest := range c.ring.PendingEndpoints(keyspace, t) {
				if dest != endpoint {
					expectedSet[dest] = true
				}
			}
		}
	}
	expected := make([]string, 0, len(expectedSet))
	for ep := range expectedSet {
		expected = append(expected, ep)
	}

	if !forceRemoveCompletion {
		tracker := newRemovalTracker(expected)
		c.mu.Lock()
		c.removal = tracker
		c.mu.Unlock()

		select {
		case <-tracker.done:
		case <-ctx.Done():
			c.mu.Lock()
			c.removal = nil
			c.mu.Unlock()
			return ctx.Err()
		}

		c.mu.Lock()
		c.removal = nil
		c.mu.Unlock()
	}

	expire := time.Now().Add(leftExpiry)
	c.gossiper.UpdateLocalState(gossip.StateStatus, gossip.FormatStatus(gossip.StatusRemovedToken, hostID.String(), formatUnixSeconds(expire)))
	c.ring.RemoveEndpoint(endpoint)
	c.setMode(ModeNormal)
	return nil
}
