package write

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
)

// Config controls the WriteCoordinator's timeouts and topology knowledge.
type Config struct {
	LocalDatacenter     string
	WriteTimeout        time.Duration
	CounterWriteTimeout time.Duration
	MaxBackgroundBytes  int64
}

// Coordinator implements the per-request write path: endpoint resolution,
// handler-kind selection, dispatch, hinting and the foreground/background
// lifecycle. It holds no storage of its own — applying a mutation locally
// is the responsibility of whatever handler is registered for
// VerbMutation on the transport, keeping orchestration cleanly separate
// from the state mutation itself.
type Coordinator struct {
	cfg       Config
	ring      *ring.TokenMetadata
	liveness  LivenessSource
	snitch    Snitch
	transport transport.Transport
	slab      *HandlerSlab
	throttle  *Throttle
	hints     HintStore
	rng       *rand.Rand

	pendingBytesMu sync.Mutex
	pendingBytes   map[int64]int64 // response_id -> bytes admitted through throttle

	stopCh chan struct{}
}

func New(cfg Config, tm *ring.TokenMetadata, liveness LivenessSource, snitch Snitch, tp transport.Transport, hints HintStore) *Coordinator {
	if snitch == nil {
		snitch = SingleDatacenterSnitch{Name: cfg.LocalDatacenter}
	}
	if hints == nil {
		hints = NewMemoryHintStore()
	}
	return &Coordinator{
		cfg:          cfg,
		ring:         tm,
		liveness:     liveness,
		snitch:       snitch,
		transport:    tp,
		slab:         NewHandlerSlab(),
		throttle:     NewThrottle(cfg.MaxBackgroundBytes),
		hints:        hints,
		rng:          rand.New(rand.NewSource(1)),
		pendingBytes: map[int64]int64{},
		stopCh:       make(chan struct{}),
	}
}

// RegisterHandlers wires the MUTATION_DONE verb so replies to dispatched
// mutations reach the right handler by response_id. A deployment's own
// storage layer registers VerbMutation itself and is expected to reply
// with MUTATION_DONE back through this same transport.
func (c *Coordinator) RegisterHandlers() {
	c.transport.RegisterHandler(transport.VerbMutationDone, c.handleMutationDone)
}

// Start runs the periodic handler-slab sweep that resolves timed-out
// writes and evicts settled handlers.
func (c *Coordinator) Start() {
	go c.sweepLoop()
}

func (c *Coordinator) Stop() { close(c.stopCh) }

func (c *Coordinator) sweepLoop() {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, id := range c.slab.Sweep(time.Now()) {
				c.releaseBudget(id)
			}
		case <-c.stopCh:
			return
		}
	}
}

// releaseBudget returns responseID's admitted bytes to the throttle, if
// any were admitted for it. Safe to call for a responseID that was never
// admitted (e.g. a CLAny write with no live targets at all).
func (c *Coordinator) releaseBudget(responseID int64) {
	c.pendingBytesMu.Lock()
	nBytes, ok := c.pendingBytes[responseID]
	delete(c.pendingBytes, responseID)
	c.pendingBytesMu.Unlock()
	if ok {
		c.throttle.Release(nBytes)
	}
}

func (c *Coordinator) handleMutationDone(ctx context.Context, env transport.Envelope) ([]byte, error) {
	msg, err := decodeMutationDone(env.Payload)
	if err != nil {
		return nil, err
	}
	h, ok := c.slab.Get(msg.ResponseID)
	if !ok {
		return nil, nil
	}
	if !msg.Failed {
		h.Ack(env.SourceAddress, c.snitch.DatacenterOf(env.SourceAddress))
	}
	return nil, nil
}

// Mutate resolves t's natural and pending replicas in ks, hints any that
// are dead, dispatches the mutation to the live ones, and blocks until
// the consistency level is satisfied or the write times out.
func (c *Coordinator) Mutate(ctx context.Context, ks string, t token.Token, m Mutation, cl ConsistencyLevel) error {
	timer := metrics.NewTimer()
	outcome := "ok"
	defer func() { timer.ObserveDurationVec(metrics.WriteLatency, string(cl)) }()
	defer func() { metrics.WritesTotal.WithLabelValues(string(cl), outcome).Inc() }()

	natural := c.ring.NaturalEndpoints(ks, t)
	pending := c.ring.PendingEndpoints(ks, t)

	all := dedupe(append(append([]string(nil), natural...), pending...))
	var live, dead []string
	for _, ep := range all {
		if c.liveness.IsAlive(ep) {
			live = append(live, ep)
		} else {
			dead = append(dead, ep)
		}
	}

	for _, ep := range dead {
		c.hints.Store(ep, m)
	}

	if cl == CLAny && len(live) == 0 {
		if len(all) == 0 {
			outcome = "unavailable"
			return &coordfail.Unavailable{ConsistencyLevel: string(cl), Required: 1, Alive: 0}
		}
		return nil
	}

	rf := c.ring.ReplicationFactor(ks)
	localRF := 0
	for _, ep := range natural {
		if c.snitch.DatacenterOf(ep) == c.cfg.LocalDatacenter {
			localRF++
		}
	}
	blockFor := BlockFor(cl, rf, localRF)

	livePendingCount := 0
	pendingSet := toSet(pending)
	for _, ep := range live {
		if pendingSet[ep] {
			livePendingCount++
		}
	}

	if err := AssureSufficientLiveNodes(cl, len(live), blockFor, livePendingCount); err != nil {
		outcome = "unavailable"
		return err
	}

	nBytes := mutationBytes(m)
	if err := c.throttle.Admit(ctx, nBytes); err != nil {
		outcome = "unavailable"
		return err
	}

	kind, perDCBlockFor := c.selectHandlerKind(cl, natural)

	h := c.slab.New(cl, WriteTypeSimple, kind, live, blockFor, perDCBlockFor, livePendingCount, c.cfg.WriteTimeout)
	c.pendingBytesMu.Lock()
	c.pendingBytes[h.ResponseID()] = nBytes
	c.pendingBytesMu.Unlock()

	c.dispatch(ctx, h, live, m, WriteTypeSimple)

	err := c.await(ctx, h)
	if err != nil {
		if _, ok := err.(*coordfail.WriteTimeout); ok {
			outcome = "timeout"
		} else {
			outcome = "error"
		}
	}
	if h.Outstanding() == 0 {
		c.releaseBudget(h.ResponseID())
	}
	return err
}

// mutationBytes is the byte size a mutation counts against the
// background-write budget: its key plus every column name and value.
func mutationBytes(m Mutation) int64 {
	n := int64(len(m.Key))
	for k, v := range m.Columns {
		n += int64(len(k)) + int64(len(v))
	}
	return n
}

// selectHandlerKind implements the per-consistency-level handler-kind dispatch.
func (c *Coordinator) selectHandlerKind(cl ConsistencyLevel, natural []string) (handlerKind, map[string]int) {
	if cl.IsEachQuorum() {
		perDC := map[string][]string{}
		for _, ep := range natural {
			dc := c.snitch.DatacenterOf(ep)
			perDC[dc] = append(perDC[dc], ep)
		}
		blockFor := map[string]int{}
		for dc, eps := range perDC {
			blockFor[dc] = len(eps)/2 + 1
		}
		return kindDatacenterSynchronous, blockFor
	}
	if cl.IsDatacenterLocal() {
		return kindDatacenterLocal, nil
	}
	return kindGeneric, nil
}

// dispatch sends m as a MUTATION RPC to every target, keyed under h's
// response_id, and records each send's outcome back onto h as replies
// arrive. Each send runs in its own goroutine so a slow replica never
// blocks the others — the coordinator holds no lock across this
// suspension point.
func (c *Coordinator) dispatch(ctx context.Context, h *WriteHandler, targets []string, m Mutation, wt WriteType) {
	_ = ctx // the RPCs outlive the caller's context so background stragglers keep going after a user-facing timeout
	payload, err := encodeMutation(mutationMessage{ResponseID: h.responseID, Mutation: m, WriteType: wt})
	if err != nil {
		logging.Errorf("write: encode mutation", err)
		return
	}
	for _, target := range targets {
		go func(target string) {
			rpcCtx, cancel := context.WithTimeout(context.Background(), 2*h.dl.timeout)
			defer cancel()
			reply, err := c.transport.Send(rpcCtx, target, transport.VerbMutation, transport.Envelope{
				SourceAddress: c.transport.LocalAddress(),
				Payload:       payload,
			})
			if err != nil {
				logging.WithComponent("write").Warn().Str("endpoint", target).Err(err).Msg("mutation send failed")
				return
			}
			if len(reply) == 0 {
				h.Ack(target, c.snitch.DatacenterOf(target))
				return
			}
			done, err := decodeMutationDone(reply)
			if err != nil {
				return
			}
			if !done.Failed {
				h.Ack(target, c.snitch.DatacenterOf(target))
			}
		}(target)
	}
}

// await blocks until h resolves, the handler's own deadline fires, or ctx
// is canceled, whichever happens first — a timeout vs last-ack race,
// whichever reaches the handler first wins.
func (c *Coordinator) await(ctx context.Context, h *WriteHandler) error {
	timer := time.NewTimer(h.dl.timeout)
	defer timer.Stop()
	select {
	case err := <-h.Done():
		if err == nil && h.Outstanding() > 0 {
			h.EnterBackground()
		}
		return err
	case <-timer.C:
		h.CheckTimeout(time.Now())
		return <-h.Done()
	case <-ctx.Done():
		h.CheckTimeout(time.Now())
		select {
		case err := <-h.Done():
			return err
		default:
			return ctx.Err()
		}
	}
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func toSet(in []string) map[string]bool {
	out := make(map[string]bool, len(in))
	for _, s := range in {
		out[s] = true
	}
	return out
}
