package write

import "context"

// SelectCounterLeader picks the single coordinator that will apply a
// counter increment locally before replicating the resulting delta,
// the local endpoint if it's a live replica, else a random
// live replica in the local datacenter, else the first live replica in
// snitch-proximity order (here, natural's own order, since this package
// has no separate proximity sort — callers that need one order natural
// accordingly before calling).
func (c *Coordinator) SelectCounterLeader(natural []string, localAddress string) (string, bool) {
	live := make([]string, 0, len(natural))
	for _, ep := range natural {
		if c.liveness.IsAlive(ep) {
			live = append(live, ep)
		}
	}
	if len(live) == 0 {
		return "", false
	}
	for _, ep := range live {
		if ep == localAddress {
			return ep, true
		}
	}

	var localDC []string
	for _, ep := range live {
		if c.snitch.DatacenterOf(ep) == c.cfg.LocalDatacenter {
			localDC = append(localDC, ep)
		}
	}
	if len(localDC) > 0 {
		return localDC[c.rng.Intn(len(localDC))], true
	}

	return live[0], true
}

// ApplyCounterMutation runs the counter-write path: the leader applies m
// locally (by sending it to itself as a MUTATION, exactly like any other
// replica apply) then replicates the resulting delta to the remaining
// natural replicas through the ordinary write path at cl, so the
// replicated write shares its timeout, hinting and handler-kind logic
// with a simple mutation.
func (c *Coordinator) ApplyCounterMutation(ctx context.Context, ks string, natural []string, m Mutation, cl ConsistencyLevel) error {
	leader, ok := c.SelectCounterLeader(natural, c.transport.LocalAddress())
	if !ok {
		return errNoCounterLeader
	}

	rf := c.ring.ReplicationFactor(ks)
	blockFor := BlockFor(cl, rf, rf)

	h := c.slab.New(cl, WriteTypeCounter, kindGeneric, []string{leader}, 1, nil, 0, c.cfg.CounterWriteTimeout)
	c.dispatch(ctx, h, []string{leader}, m, WriteTypeCounter)
	if err := c.await(ctx, h); err != nil {
		return err
	}

	replicas := make([]string, 0, len(natural)-1)
	for _, ep := range natural {
		if ep != leader {
			replicas = append(replicas, ep)
		}
	}
	if len(replicas) == 0 {
		return nil
	}

	var live []string
	for _, ep := range replicas {
		if c.liveness.IsAlive(ep) {
			live = append(live, ep)
		}
	}
	rh := c.slab.New(cl, WriteTypeCounter, kindGeneric, live, blockFor-1, nil, 0, c.cfg.CounterWriteTimeout)
	c.dispatch(ctx, rh, live, m, WriteTypeCounter)
	return c.await(ctx, rh)
}

var errNoCounterLeader = &noLeaderError{}

type noLeaderError struct{}

func (e *noLeaderError) Error() string { return "no live replica available to lead a counter write" }
