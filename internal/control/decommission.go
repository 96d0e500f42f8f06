package control

import (
	"context"
	"strconv"
	"time"

	"github.com/cuemby/ringcoord/internal/gossip"
	"github.com/cuemby/ringcoord/internal/logging"
	"github.com/cuemby/ringcoord/internal/token"
)

// leftExpiry is how long a LEFT/REMOVED_TOKEN announcement stays in
// gossip before peers are free to forget the endpoint entirely.
const leftExpiry = 3 * 24 * time.Hour

// Decommission runs the graceful-leave sequence: refuse if this
// node isn't a member or still has ranges incoming, announce LEAVING,
// wait out the unbootstrap grace period, stream every owned range to its
// future owner, log how many hints are still queued, then announce LEFT.
// The batchlog is not replayed and queued hints are not streamed here.
//
// Stopping the node's transport once this returns is the caller's
// responsibility — the controller only drives the gossip/ring state
// machine, it doesn't own the process lifecycle.
func (c *Controller) Decommission(ctx context.Context, ks []string) error {
	local := c.cfg.LocalAddress
	snap := c.ring.Current()
	tokens := snap.TokensOf(local)
	if len(tokens) == 0 {
		return ErrNotMember
	}
	if !c.cfg.OverrideDecommission {
		for _, keyspace := range ks {
			if len(snap.GetPendingRanges(keyspace, local)) > 0 {
				return ErrPendingRangesIncoming
			}
		}
	}

	c.setMode(ModeLeaving)
	c.gossiper.UpdateLocalState(gossip.StateStatus, gossip.FormatStatus(gossip.StatusLeaving, tokensToStatusArg(tokens)))
	c.ring.AddLeavingEndpoint(local)

	select {
	case <-time.After(c.cfg.unbootstrapSleep()):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := c.unbootstrap(ctx, ks, local, tokens); err != nil {
		return err
	}

	expire := time.Now().Add(leftExpiry)
	c.gossiper.UpdateLocalState(gossip.StateStatus, gossip.FormatStatus(gossip.StatusLeft, tokensToStatusArg(tokens), formatUnixSeconds(expire)))
	c.ring.RemoveEndpoint(local)
	c.setMode(ModeDecommissioned)
	return nil
}

// unbootstrap computes, per keyspace, which endpoints gain ownership of
// each of local's tokens once it leaves, streams those ranges out to
// them, and logs the number of hints still queued for each normal
// endpoint; those hints are neither replayed nor streamed.
func (c *Controller) unbootstrap(ctx context.Context, ks []string, local string, tokens []token.Token) error {
	for _, keyspace := range ks {
		for _, t := range tokens {
			for _, dest := range c.ring.PendingEndpoints(keyspace, t) {
				if dest == local {
					continue
				}
				if err := c.streamer.StreamRanges(ctx, keyspace, nil, local, dest); err != nil {
					logging.WithComponent("control").Warn().Str("keyspace", keyspace).Str("dest", dest).Err(err).Msg("unbootstrap stream failed")
					return err
				}
			}
		}
	}

	if c.hints != nil {
		for _, ep := range c.ring.Current().NormalEndpoints() {
			if pending := c.hints.Pending(ep); len(pending) > 0 {
				logging.WithComponent("control").Info().Str("endpoint", ep).Int("count", len(pending)).Msg("hints still queued at decommission")
			}
		}
	}
	return nil
}

func formatUnixSeconds(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
