package control

import (
	"context"
	"time"

	"github.com/cuemby/ringcoord/internal/gossip"
	"github.com/cuemby/ringcoord/internal/logging"
	"github.com/google/uuid"
)

// Replace runs the in-place replacement sequence: a new node
// takes over a dead address's tokens and host-id, announcing HIBERNATE
// while it streams in and only flipping to NORMAL once that finishes.
func (c *Controller) Replace(ctx context.Context, deadAddress string, ks []string) error {
	c.setMode(ModeJoining)

	es, ok := c.gossiper.EndpointStateOf(deadAddress)
	if !ok {
		return ErrUnknownHostID
	}
	tokens, err := parseStatusTokens(es.States[gossip.StateTokens].Value)
	if err != nil || len(tokens) == 0 {
		return ErrUnknownHostID
	}
	hostID, err := uuid.Parse(es.States[gossip.StateHostID].Value)
	if err != nil {
		return ErrUnknownHostID
	}

	local := c.cfg.LocalAddress
	c.gossiper.UpdateLocalState(gossip.StateStatus, gossip.FormatStatus(gossip.StatusHibernate))

	for _, keyspace := range ks {
		for _, t := range tokens {
			for _, source := range c.ring.NaturalEndpoints(keyspace, t) {
				if source == local || source == deadAddress {
					continue
				}
				if err := c.streamer.StreamRanges(ctx, keyspace, nil, source, local); err != nil {
					logging.WithComponent("control").Warn().Str("keyspace", keyspace).Str("source", source).Err(err).Msg("replace stream failed")
					return err
				}
			}
		}
	}

	c.gossiper.UpdateLocalState(gossip.StateStatus, gossip.FormatStatus(gossip.StatusNormal, tokensToStatusArg(tokens)))
	c.gossiper.UpdateLocalState(gossip.StateHostID, hostID.String())
	c.ring.UpdateNormalTokens(tokens, local)
	c.ring.UpdateHostID(hostID, local, time.Now().Unix())
	c.setMode(ModeNormal)
	return nil
}
