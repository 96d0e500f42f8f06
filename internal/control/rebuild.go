package control

import (
	"context"

	"github.com/cuemby/ringcoord/internal/logging"
)

// Rebuild streams every owned token's ranges in from sourceDC without
// altering membership or mode — used to repopulate a node after a data
// loss or to seed a fresh rack within an existing datacenter.
func (c *Controller) Rebuild(ctx context.Context, sourceDC string, ks []string) error {
	local := c.cfg.LocalAddress
	tokens := c.ring.Current().TokensOf(local)

	for _, keyspace := range ks {
		for _, t := range tokens {
			for _, source := range c.ring.NaturalEndpoints(keyspace, t) {
				if source == local || c.snitch.DatacenterOf(source) != sourceDC {
					continue
				}
				if err := c.streamer.StreamRanges(ctx, keyspace, nil, source, local); err != nil {
					logging.WithComponent("control").Warn().Str("keyspace", keyspace).Str("source", source).Err(err).Msg("rebuild stream failed")
					return err
				}
			}
		}
	}
	return nil
}
