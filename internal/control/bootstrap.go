package control

import (
	"context"
	"time"

	"github.com/cuemby/ringcoord/internal/coordfail"
	"github.com/cuemby/ringcoord/internal/gossip"
	"github.com/cuemby/ringcoord/internal/logging"
	"github.com/cuemby/ringcoord/internal/token"
	"github.com/google/uuid"
)

// Bootstrap runs the new-node-with-data join sequence: shadow
// round until the feature check passes, announce TOKENS+BOOTSTRAPPING,
// sleep ring_delay, stream every keyspace's bootstrap ranges in from its
// natural owners, then announce NORMAL. If tokens is empty, NumTokens
// random tokens are generated by hashing fresh UUIDs through the
// partitioner, mirroring how a real deployment picks initial tokens.
func (c *Controller) Bootstrap(ctx context.Context, ks []string, tokens []token.Token) error {
	c.setMode(ModeJoining)

	if err := c.runShadowRound(ctx); err != nil {
		return err
	}

	if missing := c.gossiper.CheckKnowsRemoteFeatures(); len(missing) > 0 {
		return &coordfail.IncompatibleFeatures{Missing: missing}
	}

	if c.cfg.ConsistentRangeMovement {
		for _, keyspace := range ks {
			if c.ring.Current().PendingRangeCounts()[keyspace] > 0 {
				logging.WithComponent("control").Warn().Str("keyspace", keyspace).Msg("refusing bootstrap, range movement already in progress")
				return ErrRangeMovementInProgress
			}
		}
	}

	if len(tokens) == 0 {
		tokens = c.generateTokens(c.cfg.NumTokens)
	}

	local := c.cfg.LocalAddress
	c.gossiper.UpdateLocalState(gossip.StateTokens, tokensToStatusArg(tokens))
	c.gossiper.UpdateLocalState(gossip.StateStatus, gossip.FormatStatus(gossip.StatusBootstrapping, tokensToStatusArg(tokens)))
	c.ring.AddBootstrapTokens(tokens, local)

	select {
	case <-time.After(c.cfg.RingDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, keyspace := range ks {
		for _, t := range tokens {
			for _, source := range c.ring.NaturalEndpoints(keyspace, t) {
				if source == local {
					continue
				}
				if err := c.streamer.StreamRanges(ctx, keyspace, nil, source, local); err != nil {
					logging.WithComponent("control").Warn().Str("keyspace", keyspace).Str("source", source).Err(err).Msg("bootstrap stream failed")
					return err
				}
			}
		}
	}

	c.gossiper.UpdateLocalState(gossip.StateStatus, gossip.FormatStatus(gossip.StatusNormal, tokensToStatusArg(tokens)))
	c.ring.UpdateNormalTokens(tokens, local)
	c.setMode(ModeNormal)
	return nil
}

// runShadowRound sends empty SYNs to a seed once a second until one comes
// back with state, during the bootstrap-time shadow round.
func (c *Controller) runShadowRound(ctx context.Context) error {
	c.gossiper.BeginShadowRound()
	defer c.gossiper.EndShadowRound()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		got, err := c.gossiper.ShadowRoundSyn(ctx)
		if err == nil && got {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// generateTokens picks n random tokens by hashing freshly generated UUIDs
// through the configured partitioner, the same source of randomness a
// real deployment uses when no initial_token is configured.
func (c *Controller) generateTokens(n int) []token.Token {
	if n <= 0 {
		n = 1
	}
	out := make([]token.Token, n)
	for i := range out {
		id := uuid.New()
		out[i] = c.partitioner.TokenOf(id[:])
	}
	return out
}
