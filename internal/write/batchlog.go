package write

import (
	"context"

	"github.com/cuemby/ringcoord/internal/coordfail"
	"github.com/cuemby/ringcoord/internal/token"
)

// Batch bundles several mutations that must apply atomically across
// partitions via the batchlog.
type Batch struct {
	ID        string
	Mutations []Mutation
}

// batchlogTargets picks the configured DC-local subset (at most two
// endpoints, mirroring the reference's default) a batchlog entry is
// pre-written to.
func (c *Coordinator) batchlogTargets(candidates []string) []string {
	var localLive []string
	for _, ep := range candidates {
		if c.snitch.DatacenterOf(ep) == c.cfg.LocalDatacenter && c.liveness.IsAlive(ep) {
			localLive = append(localLive, ep)
		}
	}
	if len(localLive) > 2 {
		localLive = localLive[:2]
	}
	return localLive
}

// PreWriteBatchlog serializes b as a single mutation to the batchlog
// target set at CL=ONE. An empty target set is only tolerable at CL=ANY,
// where the local endpoint stands in; otherwise it raises
// Unavailable(ONE).
func (c *Coordinator) PreWriteBatchlog(ctx context.Context, b Batch, candidates []string, cl ConsistencyLevel) error {
	targets := c.batchlogTargets(candidates)
	if len(targets) == 0 {
		if cl == CLAny {
			targets = []string{c.transport.LocalAddress()}
		} else {
			return &coordfail.Unavailable{ConsistencyLevel: string(CLOne), Required: 1, Alive: 0}
		}
	}

	payload := batchlogMutation(b)
	h := c.slab.New(CLOne, WriteTypeBatchLog, kindGeneric, targets, 1, nil, 0, c.cfg.WriteTimeout)
	c.dispatch(ctx, h, targets, payload, WriteTypeBatchLog)
	return c.await(ctx, h)
}

// PostWriteBatchlog tombstones the batchlog row at CL=ANY once every main
// write in the batch has been attempted, regardless of their outcome.
func (c *Coordinator) PostWriteBatchlog(ctx context.Context, b Batch, candidates []string) error {
	targets := c.batchlogTargets(candidates)
	if len(targets) == 0 {
		targets = []string{c.transport.LocalAddress()}
	}

	payload := batchlogMutation(b)
	payload.Columns = nil // tombstone: no live column values
	h := c.slab.New(CLAny, WriteTypeBatchLog, kindGeneric, targets, 1, nil, 0, c.cfg.WriteTimeout)
	c.dispatch(ctx, h, targets, payload, WriteTypeBatchLog)
	return c.await(ctx, h)
}

func batchlogMutation(b Batch) Mutation {
	cols := make(map[string][]byte, len(b.Mutations))
	for _, m := range b.Mutations {
		cols[m.Table] = m.Key
	}
	return Mutation{Keyspace: "system", Table: "batchlog", Key: []byte(b.ID), Columns: cols}
}

// ApplyBatch runs the full batchlog-backed atomic-batch path: pre-write,
// the batch's own mutations at their own consistency level, then
// post-write tombstone.
func (c *Coordinator) ApplyBatch(ctx context.Context, ks string, b Batch, resolve func(Mutation) (token.Token, []string), cl ConsistencyLevel, batchlogCandidates []string) error {
	if err := c.PreWriteBatchlog(ctx, b, batchlogCandidates, cl); err != nil {
		return err
	}

	for _, m := range b.Mutations {
		t, natural := resolve(m)
		pending := c.ring.PendingEndpoints(ks, t)
		all := dedupe(append(append([]string(nil), natural...), pending...))
		var live []string
		for _, ep := range all {
			if c.liveness.IsAlive(ep) {
				live = append(live, ep)
			} else {
				c.hints.Store(ep, m)
			}
		}
		rf := c.ring.ReplicationFactor(ks)
		blockFor := BlockFor(cl, rf, rf)
		h := c.slab.New(cl, WriteTypeBatch, kindGeneric, live, blockFor, nil, 0, c.cfg.WriteTimeout)
		c.dispatch(ctx, h, live, m, WriteTypeBatch)
		if err := c.await(ctx, h); err != nil {
			return err
		}
	}

	return c.PostWriteBatchlog(ctx, b, batchlogCandidates)
}
