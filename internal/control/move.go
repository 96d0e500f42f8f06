package control

import (
	"context"

	"github.com/cuemby/ringcoord/internal/gossip"
	"github.com/cuemby/ringcoord/internal/logging"
	"github.com/cuemby/ringcoord/internal/token"
)

// Move runs the single-token move sequence: refuse a multi-token
// node, announce MOVING(new_token), stream the ranges the new token
// position gains in from its current natural owners and the ranges it
// gives up out to whoever inherits them, then announce NORMAL(new_token).
func (c *Controller) Move(ctx context.Context, newToken token.Token, ks []string) error {
	local := c.cfg.LocalAddress
	owned := c.ring.Current().TokensOf(local)
	if len(owned) != 1 {
		return ErrMultiToken
	}
	oldToken := owned[0]

	c.setMode(ModeMoving)
	c.gossiper.UpdateLocalState(gossip.StateStatus, gossip.FormatStatus(gossip.StatusMoving, tokensToStatusArg([]token.Token{newToken})))
	c.ring.AddMovingEndpoint(newToken, local)

	for _, keyspace := range ks {
		for _, source := range c.ring.NaturalEndpoints(keyspace, newToken) {
			if source == local {
				continue
			}
			if err := c.streamer.StreamRanges(ctx, keyspace, nil, source, local); err != nil {
				logging.WithComponent("control").Warn().Str("keyspace", keyspace).Str("source", source).Err(err).Msg("move fetch stream failed")
				return err
			}
		}
		for _, dest := range c.ring.PendingEndpoints(keyspace, oldToken) {
			if dest == local {
				continue
			}
			if err := c.streamer.StreamRanges(ctx, keyspace, nil, local, dest); err != nil {
				logging.WithComponent("control").Warn().Str("keyspace", keyspace).Str("dest", dest).Err(err).Msg("move hand-off stream failed")
				return err
			}
		}
	}

	c.gossiper.UpdateLocalState(gossip.StateStatus, gossip.FormatStatus(gossip.StatusNormal, tokensToStatusArg([]token.Token{newToken})))
	c.ring.ReplaceToken(oldToken, newToken, local)
	c.setMode(ModeNormal)
	return nil
}
