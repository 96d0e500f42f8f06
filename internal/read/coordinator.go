package read

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/cuemby/ringcoord/internal/coordfail"
	"github.com/cuemby/ringcoord/internal/logging"
	"github.com/cuemby/ringcoord/internal/metrics"
	"github.com/cuemby/ringcoord/internal/ring"
	"github.com/cuemby/ringcoord/internal/token"
	"github.com/cuemby/ringcoord/internal/transport"
	"github.com/cuemby/ringcoord/internal/write"
)

// LivenessSource and Snitch are write's interfaces, reused so a
// deployment wires one gossiper and one snitch to both coordinators.
type LivenessSource = write.LivenessSource
type Snitch = write.Snitch

// RepairWriter issues an asynchronous read-repair write of row back to
// endpoint. A deployment wires this to its write.Coordinator; this
// package never imports write's dispatch path directly so a repair write
// goes through the same hinting/timeout machinery as any other mutation.
type RepairWriter interface {
	Repair(ctx context.Context, endpoint, keyspace, table string, key []byte, row Row)
}

// Config controls the ReadCoordinator's timeouts, topology and retry
// tuning.
type Config struct {
	LocalDatacenter  string
	ReadTimeout      time.Duration
	ReadRepair       ReadRepairProbabilities
	SpeculativeRetry SpeculativeRetryPolicy
	MaxRows          int
}

// Coordinator implements the singular-partition read path.
type Coordinator struct {
	cfg       Config
	ring      *ring.TokenMetadata
	liveness  LivenessSource
	snitch    Snitch
	transport transport.Transport
	repair    RepairWriter
	rng       *rand.Rand
}

func New(cfg Config, tm *ring.TokenMetadata, liveness LivenessSource, snitch Snitch, tp transport.Transport, repair RepairWriter) *Coordinator {
	if snitch == nil {
		snitch = write.SingleDatacenterSnitch{Name: cfg.LocalDatacenter}
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 100000
	}
	return &Coordinator{
		cfg:       cfg,
		ring:      tm,
		liveness:  liveness,
		snitch:    snitch,
		transport: tp,
		repair:    repair,
		rng:       rand.New(rand.NewSource(1)),
	}
}

// Read executes one singular-partition read at cmd.CL, returning the
// reconciled rows.
func (c *Coordinator) Read(ctx context.Context, ks, table string, t token.Token, cmd Command) ([]Row, error) {
	timer := metrics.NewTimer()
	outcome := "ok"
	defer func() { timer.ObserveDurationVec(metrics.ReadLatency, string(cmd.CL)) }()
	defer func() { metrics.ReadsTotal.WithLabelValues(string(cmd.CL), outcome).Inc() }()

	natural := c.ring.NaturalEndpoints(ks, t)
	var live []string
	for _, ep := range natural {
		if c.liveness.IsAlive(ep) {
			live = append(live, ep)
		}
	}

	rf := c.ring.ReplicationFactor(ks)
	localRF := 0
	for _, ep := range natural {
		if c.snitch.DatacenterOf(ep) == c.cfg.LocalDatacenter {
			localRF++
		}
	}
	blockFor := write.BlockFor(cmd.CL, rf, localRF)

	if err := write.AssureSufficientLiveNodes(cmd.CL, len(live), blockFor, 0); err != nil {
		outcome = "unavailable"
		return nil, err
	}

	decision := ChooseReadRepair(c.cfg.ReadRepair, c.rng)
	candidates := c.candidatesFor(decision, live, blockFor)

	rows, err := c.readOnce(ctx, ks, table, t, cmd, live, candidates, blockFor, rf)
	if err != nil {
		if _, ok := err.(*coordfail.ReadTimeout); ok {
			outcome = "timeout"
		} else {
			outcome = "error"
		}
	}
	return rows, err
}

func (c *Coordinator) candidatesFor(decision ReadRepairDecision, live []string, blockFor int) []string {
	switch decision {
	case ReadRepairGlobal:
		return append([]string(nil), live...)
	case ReadRepairDCLocal:
		var out []string
		for _, ep := range live {
			if c.snitch.DatacenterOf(ep) == c.cfg.LocalDatacenter {
				out = append(out, ep)
			}
		}
		return out
	default:
		if len(live) > blockFor {
			return append([]string(nil), live[:blockFor]...)
		}
		return append([]string(nil), live...)
	}
}

// readOnce dispatches the primary DATA/DIGEST round, resolves agreement
// or disagreement, and fires background verification for any candidates
// beyond block_for that weren't part of the primary round.
func (c *Coordinator) readOnce(ctx context.Context, ks, table string, t token.Token, cmd Command, live, candidates []string, blockFor, rf int) ([]Row, error) {
	if len(candidates) == 0 {
		return nil, &coordfail.Unavailable{ConsistencyLevel: string(cmd.CL), Required: blockFor, Alive: 0}
	}

	primaryGroup := candidates
	if len(primaryGroup) > blockFor {
		primaryGroup = primaryGroup[:blockFor]
	}
	extra := candidates[len(primaryGroup):]

	flavor := SelectExecutorFlavor(c.cfg.SpeculativeRetry, blockFor, rf, len(candidates) == len(live))

	dataTargets := []string{primaryGroup[0]}
	digestTargets := primaryGroup[1:]
	if flavor == ExecutorAlwaysSpeculating && len(primaryGroup) > 1 {
		dataTargets = append(dataTargets, primaryGroup[1])
		digestTargets = primaryGroup[2:]
	}

	type response struct {
		endpoint string
		data     *dataReply
		digest   *digestReply
		err      error
	}
	resultCh := make(chan response, len(primaryGroup))

	send := func(ep string, wantData bool) {
		go func() {
			verb := transport.VerbReadDigest
			if wantData {
				verb = transport.VerbReadData
			}
			payload, _ := encodeDataRequest(dataRequest{Keyspace: ks, Table: table, Key: tokenKeyOf(t), Limit: cmd.Limit, Timestamp: cmd.Timestamp.UnixNano()})
			reply, err := c.transport.Send(ctx, ep, verb, transport.Envelope{SourceAddress: c.transport.LocalAddress(), Payload: payload})
			if err != nil {
				resultCh <- response{endpoint: ep, err: err}
				return
			}
			if wantData {
				dr, derr := decodeDataReply(reply)
				resultCh <- response{endpoint: ep, data: &dr, err: derr}
				return
			}
			gr, gerr := decodeDigestReply(reply)
			resultCh <- response{endpoint: ep, digest: &gr, err: gerr}
		}()
	}

	for _, ep := range dataTargets {
		send(ep, true)
	}
	for _, ep := range digestTargets {
		send(ep, false)
	}

	deadlineTimer := time.NewTimer(c.cfg.ReadTimeout)
	defer deadlineTimer.Stop()

	var primaryData *dataReply
	var primaryEndpoint string
	var digests []string
	received := 0
	want := len(dataTargets) + len(digestTargets)

	for received < want {
		select {
		case r := <-resultCh:
			received++
			if r.err != nil {
				continue
			}
			if r.data != nil && primaryData == nil {
				primaryData = r.data
				primaryEndpoint = r.endpoint
			} else if r.digest != nil {
				digests = append(digests, r.digest.Hash)
			}
		case <-deadlineTimer.C:
			return nil, &coordfail.ReadTimeout{Received: received, BlockFor: blockFor, DataPresent: primaryData != nil}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if primaryData == nil {
		return nil, &coordfail.ReadTimeout{Received: received, BlockFor: blockFor, DataPresent: false}
	}

	digestsAgree := true
	primaryHash := hashRows(primaryData.Rows)
	for _, h := range digests {
		if h != primaryHash {
			digestsAgree = false
		}
	}

	if digestsAgree {
		if len(extra) > 0 {
			go c.backgroundVerify(ks, table, t, cmd, primaryEndpoint, primaryData, extra)
		}
		return primaryData.Rows, nil
	}

	metrics.DigestMismatchesTotal.Inc()
	return c.reconcileMismatch(ctx, ks, table, t, cmd, candidates, primaryData.LastModifiedUnixNano, rf)
}

// backgroundVerify digests the candidates beyond block_for in the
// background; if any disagrees with the primary's answer, it triggers a
// full reconciliation round that stays accounted under
// BackgroundReadsInFlight until it settles, per the background-repair
// clause.
func (c *Coordinator) backgroundVerify(ks, table string, t token.Token, cmd Command, primaryEndpoint string, primary *dataReply, extra []string) {
	metrics.BackgroundReadsInFlight.Inc()
	defer metrics.BackgroundReadsInFlight.Dec()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ReadTimeout)
	defer cancel()

	primaryHash := hashRows(primary.Rows)
	var wg sync.WaitGroup
	mismatch := false
	var mu sync.Mutex

	for _, ep := range extra {
		wg.Add(1)
		go func(ep string) {
			defer wg.Done()
			payload, _ := encodeDataRequest(dataRequest{Keyspace: ks, Table: table, Key: tokenKeyOf(t), Limit: cmd.Limit, Timestamp: cmd.Timestamp.UnixNano()})
			reply, err := c.transport.Send(ctx, ep, transport.VerbReadDigest, transport.Envelope{SourceAddress: c.transport.LocalAddress(), Payload: payload})
			if err != nil {
				return
			}
			gr, err := decodeDigestReply(reply)
			if err != nil {
				return
			}
			if gr.Hash != primaryHash {
				mu.Lock()
				mismatch = true
				mu.Unlock()
			}
		}(ep)
	}
	wg.Wait()

	if !mismatch {
		return
	}
	metrics.DigestMismatchesTotal.Inc()
	all := append([]string{primaryEndpoint}, extra...)
	if _, err := c.reconcileMismatch(ctx, ks, table, t, cmd, all, primary.LastModifiedUnixNano, len(all)); err != nil {
		logging.WithComponent("read").Warn().Str("keyspace", ks).Err(err).Msg("background read repair failed")
	}
}

// reconcileMismatch implements the mismatch path: restricting to DC-local
// replicas when the divergent data is recent enough and the level is
// datacenter-local, issuing READ_MUTATION_DATA, and reconciling.
func (c *Coordinator) reconcileMismatch(ctx context.Context, ks, table string, t token.Token, cmd Command, replicas []string, divergentUnixNano int64, rf int) ([]Row, error) {
	targets := replicas
	age := cmd.Timestamp.Sub(time.Unix(0, divergentUnixNano))
	if age < 0 {
		age = -age
	}
	if cmd.CL.IsDatacenterLocal() && age <= c.cfg.ReadTimeout {
		var dcLocal []string
		for _, ep := range replicas {
			if c.snitch.DatacenterOf(ep) == c.cfg.LocalDatacenter {
				dcLocal = append(dcLocal, ep)
			}
		}
		if len(dcLocal) > 0 {
			targets = dcLocal
		}
	}

	resolver := NewResolver()
	type mutResp struct {
		endpoint string
		reply    dataReply
		err      error
	}
	respCh := make(chan mutResp, len(targets))
	for _, ep := range targets {
		go func(ep string) {
			payload, _ := encodeDataRequest(dataRequest{Keyspace: ks, Table: table, Key: tokenKeyOf(t), Limit: cmd.Limit, Timestamp: cmd.Timestamp.UnixNano()})
			reply, err := c.transport.Send(ctx, ep, transport.VerbReadMutationData, transport.Envelope{SourceAddress: c.transport.LocalAddress(), Payload: payload})
			if err != nil {
				respCh <- mutResp{endpoint: ep, err: err}
				return
			}
			dr, derr := decodeDataReply(reply)
			respCh <- mutResp{endpoint: ep, reply: dr, err: derr}
		}(ep)
	}
	for range targets {
		r := <-respCh
		if r.err != nil {
			continue
		}
		shortRead := !r.reply.ReachedPartitionEnd && len(r.reply.Rows) < cmd.Limit
		resolver.Add(replicaVersion{
			Endpoint:            r.endpoint,
			Rows:                r.reply.Rows,
			HasData:             true,
			ReachedEnd:          r.reply.ReachedEnd,
			ReachedPartitionEnd: r.reply.ReachedPartitionEnd,
			ShortRead:           shortRead,
			RequestedLimit:      cmd.Limit,
		})
	}

	result := resolver.Reconcile()

	if result.ShortRead {
		metrics.ShortReadsTotal.Inc()
	}

	if c.repair != nil {
		for ep, rows := range result.PerReplicaDiffs {
			for _, row := range rows {
				c.repair.Repair(ctx, ep, ks, table, t.Bytes(), row)
			}
		}
	}

	if result.Incomplete && cmd.Limit > 0 {
		maxRows := c.cfg.MaxRows
		if cmd.MaxRows > 0 {
			maxRows = cmd.MaxRows
		}
		newLimit := GrowthLimit(cmd.Limit, result.LiveCount, maxRows)
		if newLimit > cmd.Limit {
			metrics.SpeculativeRetriesTotal.Inc()
			retryCmd := cmd
			retryCmd.Limit = newLimit
			return c.reconcileMismatch(ctx, ks, table, t, retryCmd, targets, divergentUnixNano, rf)
		}
	}

	return result.Merged, nil
}

func tokenKeyOf(t token.Token) []byte { return append([]byte(nil), t.Bytes()...) }
