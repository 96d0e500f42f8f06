package gossip

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/cuemby/ringcoord/internal/events"
	"github.com/cuemby/ringcoord/internal/logging"
	"github.com/cuemby/ringcoord/internal/metrics"
	"github.com/cuemby/ringcoord/internal/phi"
	"github.com/cuemby/ringcoord/internal/transport"
)

// MembershipSource answers whether an endpoint currently owns ring
// tokens, letting the gossiper tell a genuine fat client (an address
// that gossips but never joined the ring) from a member mid-transition.
// Satisfied structurally by ring.TokenMetadata's snapshot accessors to
// avoid an import cycle between gossip and ring.
type MembershipSource interface {
	IsRingMember(endpoint string) bool
}

// Config bundles the gossiper's tunables, all derived from ring_delay
// unless overridden.
type Config struct {
	ClusterName     string
	PartitionerName string
	LocalAddress    string
	Seeds           []string
	RingDelay       time.Duration
	Features        []string
}

func (c Config) quarantineDelay() time.Duration { return 2 * c.RingDelay }
func (c Config) fatClientTimeout() time.Duration { return c.quarantineDelay() / 2 }

// Gossiper runs the 1s SYN/ACK/ACK2 loop: heartbeat
// bumping, randomized digest exchange, failure-detector interpretation,
// fat-client and expired-endpoint eviction, and STATUS-driven event
// firing through the shared events.Broker.
type Gossiper struct {
	cfg Config

	mu            sync.RWMutex
	endpoints     map[string]*EndpointState
	live          map[string]bool
	unreachable   map[string]time.Time // marked-dead instant
	expireAt      map[string]time.Time // LEFT/REMOVED_TOKEN expire deadline
	justRemoved   map[string]time.Time // quarantine expiry
	localFeatures map[string]bool

	fd        *phi.Detector
	broker    *events.Broker
	transport transport.Transport
	members   MembershipSource

	shadowRound bool
	rng         *rand.Rand
	stopCh      chan struct{}
	stopped     chan struct{}
}

// New builds a Gossiper. The local endpoint's own EndpointState is
// seeded at the given generation (typically unix-time-at-startup) and
// marked alive immediately.
func New(cfg Config, generation int64, fd *phi.Detector, broker *events.Broker, tp transport.Transport) *Gossiper {
	g := &Gossiper{
		cfg:           cfg,
		endpoints:     map[string]*EndpointState{},
		live:          map[string]bool{},
		unreachable:   map[string]time.Time{},
		expireAt:      map[string]time.Time{},
		justRemoved:   map[string]time.Time{},
		localFeatures: map[string]bool{},
		fd:            fd,
		broker:        broker,
		transport:     tp,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, f := range cfg.Features {
		g.localFeatures[f] = true
	}
	local := NewEndpointState(generation)
	local.IsAlive = true
	local.States[StateSupportedFeatures] = VersionedValue{Value: joinFeatures(cfg.Features), Version: 1}
	g.endpoints[cfg.LocalAddress] = local
	g.live[cfg.LocalAddress] = true

	fd.Subscribe(g.onConviction)
	return g
}

// SetMembershipSource installs the ring-membership oracle used by fat
// client eviction. Optional: without one, fat-client eviction never
// fires, since it is unsafe to evict on no information.
func (g *Gossiper) SetMembershipSource(m MembershipSource) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.members = m
}

// RegisterHandlers wires the gossiper's SYN/ACK2/ECHO/SHUTDOWN handlers
// onto its transport; the ACK travels as the SYN call's reply. Call once
// before Start.
func (g *Gossiper) RegisterHandlers() {
	g.transport.RegisterHandler(transport.VerbGossipDigestSyn, g.handleSyn)
	g.transport.RegisterHandler(transport.VerbGossipDigestAck2, g.handleAck2)
	g.transport.RegisterHandler(transport.VerbGossipEcho, g.handleEcho)
	g.transport.RegisterHandler(transport.VerbGossipShutdown, g.handleShutdown)
}

// Start launches the 1s tick loop in a new goroutine.
func (g *Gossiper) Start() {
	go g.loop()
}

// Stop halts the tick loop and sends GOSSIP_SHUTDOWN to every live peer,
// which marks this node dead on receipt. The local STATUS value is left
// unchanged.
func (g *Gossiper) Stop(ctx context.Context) {
	close(g.stopCh)
	<-g.stopped

	g.mu.RLock()
	peers := make([]string, 0, len(g.live))
	for ep := range g.live {
		if ep != g.cfg.LocalAddress {
			peers = append(peers, ep)
		}
	}
	g.mu.RUnlock()
	for _, p := range peers {
		_, _ = g.transport.Send(ctx, p, transport.VerbGossipShutdown, transport.Envelope{SourceAddress: g.cfg.LocalAddress})
	}
}

func (g *Gossiper) loop() {
	defer close(g.stopped)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-g.stopCh:
			return
		case now := <-ticker.C:
			g.tick(now)
		}
	}
}

// tick runs one iteration of the gossip schedule.
func (g *Gossiper) tick(now time.Time) {
	g.bumpLocalHeartbeat()

	digests := g.buildDigests()
	g.dispatchSyn(digests)

	g.runStatusChecks(now)
}

func (g *Gossiper) bumpLocalHeartbeat() {
	g.mu.Lock()
	defer g.mu.Unlock()
	local := g.endpoints[g.cfg.LocalAddress]
	local.Heartbeat.Version++
	local.UpdatedAt = time.Now()
}

func (g *Gossiper) buildDigests() []GossipDigest {
	g.mu.RLock()
	defer g.mu.RUnlock()
	digests := make([]GossipDigest, 0, len(g.endpoints))
	for ep, es := range g.endpoints {
		digests = append(digests, GossipDigest{Endpoint: ep, Generation: es.Heartbeat.Generation, MaxVersion: es.MaxVersion()})
	}
	perm := g.rng.Perm(len(digests))
	return shuffleDigests(digests, perm)
}

// dispatchSyn implements step 3: one random live peer, probabilistically
// one random unreachable peer, and a seed if due.
func (g *Gossiper) dispatchSyn(digests []GossipDigest) {
	g.mu.RLock()
	live := g.othersOf(g.live)
	unreachable := make([]string, 0, len(g.unreachable))
	for ep := range g.unreachable {
		name, _ := ParseStatus(g.statusOf(ep))
		if name != StatusLeft {
			unreachable = append(unreachable, ep)
		}
	}
	seeds := append([]string(nil), g.cfg.Seeds...)
	liveCount := len(live)
	unreachableCount := len(unreachable)
	g.mu.RUnlock()

	gossipedToSeed := false

	if len(live) > 0 {
		peer := live[g.rng.Intn(len(live))]
		g.sendSyn(peer, digests)
		gossipedToSeed = containsStr(seeds, peer)
	}

	if unreachableCount > 0 {
		p := float64(unreachableCount) / float64(liveCount+1)
		if g.rng.Float64() < p {
			peer := unreachable[g.rng.Intn(len(unreachable))]
			g.sendSyn(peer, digests)
		}
	}

	// Even if this tick already reached a seed via the live-peer pick,
	// a cluster with more seeds than live members still gets an extra
	// seed dispatch, so a freshly-started cluster converges quickly.
	if len(seeds) > 0 && (!gossipedToSeed || len(seeds) > liveCount) {
		peer := seeds[g.rng.Intn(len(seeds))]
		g.sendSyn(peer, digests)
	}
}

// statusOf returns ep's raw STATUS value; callers must hold g.mu.
func (g *Gossiper) statusOf(ep string) string {
	es, ok := g.endpoints[ep]
	if !ok {
		return ""
	}
	return es.Status()
}

func (g *Gossiper) othersOf(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for ep := range set {
		if ep != g.cfg.LocalAddress {
			out = append(out, ep)
		}
	}
	return out
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// sendSyn performs the full client side of one SYN/ACK/ACK2 round-trip
// against peer.
func (g *Gossiper) sendSyn(peer string, digests []GossipDigest) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload, err := encodeSyn(synMessage{ClusterName: g.cfg.ClusterName, PartitionerName: g.cfg.PartitionerName, Digests: digests})
	if err != nil {
		logging.Errorf(fmt.Sprintf("gossip: encode syn to %s", peer), err)
		return
	}
	start := time.Now()
	replyBytes, err := g.transport.Send(ctx, peer, transport.VerbGossipDigestSyn, transport.Envelope{SourceAddress: g.cfg.LocalAddress, Payload: payload})
	metrics.GossipRoundsTotal.Inc()
	metrics.GossipRoundDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		g.markUnreachable(peer)
		return
	}

	ack, err := decodeAck(replyBytes)
	if err != nil {
		logging.Errorf(fmt.Sprintf("gossip: decode ack from %s", peer), err)
		return
	}

	g.notifyFailureDetector(ack.StateDeltas)
	g.applyStates(ack.StateDeltas)

	ack2 := g.buildAck2(ack.RequestedDigests)
	ack2Bytes, err := encodeAck2(ack2)
	if err != nil {
		logging.Errorf(fmt.Sprintf("gossip: encode ack2 to %s", peer), err)
		return
	}
	if _, err := g.transport.Send(ctx, peer, transport.VerbGossipDigestAck2, transport.Envelope{SourceAddress: g.cfg.LocalAddress, Payload: ack2Bytes}); err != nil {
		g.markUnreachable(peer)
	}
}

// handleSyn implements the receiver side of SYN.
func (g *Gossiper) handleSyn(ctx context.Context, env transport.Envelope) ([]byte, error) {
	syn, err := decodeSyn(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("gossip: malformed syn: %w", err)
	}
	if syn.ClusterName != g.cfg.ClusterName {
		return nil, fmt.Errorf("gossip: cluster name mismatch: got %q want %q", syn.ClusterName, g.cfg.ClusterName)
	}
	if syn.PartitionerName != "" && syn.PartitionerName != g.cfg.PartitionerName {
		return nil, fmt.Errorf("gossip: partitioner mismatch: got %q want %q", syn.PartitionerName, g.cfg.PartitionerName)
	}

	g.mu.RLock()
	requested := make([]GossipDigest, 0)
	pushed := map[string]*EndpointState{}
	for _, d := range syn.Digests {
		local, ok := g.endpoints[d.Endpoint]
		switch {
		case !ok || d.Generation > localGeneration(local):
			requested = append(requested, GossipDigest{Endpoint: d.Endpoint})
		case localGeneration(local) > d.Generation:
			pushed[d.Endpoint] = stateAtGeneration(local)
		default:
			localMax := local.MaxVersion()
			if d.MaxVersion > localMax {
				requested = append(requested, GossipDigest{Endpoint: d.Endpoint, Generation: d.Generation, MaxVersion: localMax})
			} else if d.MaxVersion < localMax {
				es := local.Clone()
				es.States = local.StatesAfter(d.MaxVersion)
				pushed[d.Endpoint] = es
			}
		}
	}
	// Endpoints we know about that the sender's digest list omits
	// entirely (the sender just joined, or dropped them) get pushed in
	// full too, so a fresh node converges in one round.
	for ep, local := range g.endpoints {
		if !mentionedIn(syn.Digests, ep) {
			pushed[ep] = stateAtGeneration(local)
		}
	}
	g.mu.RUnlock()

	reply, err := encodeAck(ackMessage{RequestedDigests: requested, StateDeltas: pushed})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

func mentionedIn(digests []GossipDigest, ep string) bool {
	for _, d := range digests {
		if d.Endpoint == ep {
			return true
		}
	}
	return false
}

func localGeneration(es *EndpointState) int64 {
	if es == nil {
		return -1
	}
	return es.Heartbeat.Generation
}

func stateAtGeneration(es *EndpointState) *EndpointState {
	clone := es.Clone()
	clone.States = es.StatesAfter(0)
	return clone
}

// handleAck2 implements the receiver side of ACK2: notify the failure
// detector, apply state, no reply expected by the caller.
func (g *Gossiper) handleAck2(ctx context.Context, env transport.Envelope) ([]byte, error) {
	msg, err := decodeAck2(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("gossip: malformed ack2: %w", err)
	}
	g.notifyFailureDetector(msg.StateDeltas)
	g.applyStates(msg.StateDeltas)
	return nil, nil
}

// handleEcho answers the mark-alive liveness probe.
func (g *Gossiper) handleEcho(ctx context.Context, env transport.Envelope) ([]byte, error) {
	return []byte("ok"), nil
}

// handleShutdown marks the sender dead immediately, without waiting for
// phi to climb.
func (g *Gossiper) handleShutdown(ctx context.Context, env transport.Envelope) ([]byte, error) {
	if env.SourceAddress == "" {
		return nil, nil
	}
	g.markDead(env.SourceAddress)
	return nil, nil
}

// buildAck2 answers each requested digest with local state strictly
// newer than the digest's version (an empty digest means "everything").
func (g *Gossiper) buildAck2(requested []GossipDigest) ack2Message {
	g.mu.RLock()
	defer g.mu.RUnlock()
	deltas := map[string]*EndpointState{}
	for _, d := range requested {
		local, ok := g.endpoints[d.Endpoint]
		if !ok {
			continue
		}
		es := local.Clone()
		es.States = local.StatesAfter(d.MaxVersion)
		deltas[d.Endpoint] = es
	}
	return ack2Message{StateDeltas: deltas}
}

// notifyFailureDetector implements "notify failure detector for each
// carrier state (report/remove as appropriate)".
func (g *Gossiper) notifyFailureDetector(deltas map[string]*EndpointState) {
	now := time.Now()
	g.mu.RLock()
	defer g.mu.RUnlock()
	for ep, remote := range deltas {
		local, ok := g.endpoints[ep]
		if !ok || remote.Heartbeat.Generation > local.Heartbeat.Generation {
			g.fd.Remove(ep)
		} else if remote.Heartbeat.Generation == local.Heartbeat.Generation {
			g.fd.Report(ep, now)
		}
	}
}

// applyStates applies the "state application rules" to each carried
// endpoint state.
func (g *Gossiper) applyStates(deltas map[string]*EndpointState) {
	for ep, remote := range deltas {
		g.applyState(ep, remote)
	}
}

func (g *Gossiper) applyState(ep string, remote *EndpointState) {
	if ep == g.cfg.LocalAddress && !g.shadowRound {
		return
	}

	g.mu.Lock()
	if until, quarantined := g.justRemoved[ep]; quarantined && time.Now().Before(until) {
		g.mu.Unlock()
		return
	}

	local, exists := g.endpoints[ep]
	if !exists {
		g.endpoints[ep] = remote.Clone()
		g.mu.Unlock()
		g.fireOnJoin(ep, remote)
		g.interpretStatus(ep, remote)
		return
	}

	deltaG := remote.Heartbeat.Generation - local.Heartbeat.Generation
	switch {
	case deltaG > MaxGenerationDifference:
		g.mu.Unlock()
		metrics.GenerationRejectionsTotal.WithLabelValues(ep).Inc()
		logging.WithComponent("gossip").Warn().
			Str("endpoint", ep).
			Int64("delta_generation", deltaG).
			Msg("generation jump exceeds MAX_GENERATION_DIFFERENCE, ignoring")
		return
	case deltaG > 0:
		g.endpoints[ep] = remote.Clone()
		g.mu.Unlock()
		g.fd.Remove(ep)
		g.fireOnRestart(ep, remote)
		g.interpretStatus(ep, remote)
		return
	case deltaG == 0:
		wasAlive := local.IsAlive
		var changed map[ApplicationStateTag]VersionedValue
		if remote.MaxVersion() > local.MaxVersion() {
			changed = map[ApplicationStateTag]VersionedValue{}
			for tag, v := range remote.States {
				if cur, ok := local.States[tag]; !ok || v.Version > cur.Version {
					local.States[tag] = v
					changed[tag] = v
				}
			}
			if remote.Heartbeat.Version > local.Heartbeat.Version {
				local.Heartbeat.Version = remote.Heartbeat.Version
			}
			local.UpdatedAt = time.Now()
		}
		status := local.Status()
		g.mu.Unlock()
		if len(changed) > 0 {
			g.fireOnChange(ep, changed)
		}
		if !wasAlive && !IsDeadStatus(status) {
			g.markAlive(ep)
		}
		return
	default:
		g.mu.Unlock()
		return
	}
}

// markAlive implements the mark-alive protocol: an ECHO must succeed
// before the dead->alive flip, to avoid oscillation.
func (g *Gossiper) markAlive(ep string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := g.transport.Send(ctx, ep, transport.VerbGossipEcho, transport.Envelope{SourceAddress: g.cfg.LocalAddress}); err != nil {
		return
	}
	g.mu.Lock()
	es, ok := g.endpoints[ep]
	if !ok {
		g.mu.Unlock()
		return
	}
	es.IsAlive = true
	g.live[ep] = true
	delete(g.unreachable, ep)
	g.mu.Unlock()
	g.broker.Publish(&events.Event{Type: events.TypeEndpointAlive, Endpoint: ep})
}

func (g *Gossiper) markUnreachable(ep string) {
	g.mu.Lock()
	if ep == g.cfg.LocalAddress {
		g.mu.Unlock()
		return
	}
	delete(g.live, ep)
	if _, already := g.unreachable[ep]; !already {
		g.unreachable[ep] = time.Now()
	}
	g.mu.Unlock()
}

func (g *Gossiper) markDead(ep string) {
	g.markUnreachable(ep)
	g.broker.Publish(&events.Event{Type: events.TypeEndpointDead, Endpoint: ep})
}

// onConviction is the phi detector's convict callback.
func (g *Gossiper) onConviction(peer string, phiValue float64) {
	g.markDead(peer)
}

func (g *Gossiper) fireOnJoin(ep string, es *EndpointState) {
	g.broker.Publish(&events.Event{Type: events.TypeEndpointJoin, Endpoint: ep})
	g.interpretStatus(ep, es)
}

func (g *Gossiper) fireOnRestart(ep string, es *EndpointState) {
	g.broker.Publish(&events.Event{Type: events.TypeEndpointRestart, Endpoint: ep})
}

func (g *Gossiper) fireOnChange(ep string, changed map[ApplicationStateTag]VersionedValue) {
	if v, ok := changed[StateStatus]; ok {
		g.broker.Publish(&events.Event{Type: events.TypeStatusChange, Endpoint: ep, Message: v.Value})
	}
	if v, ok := changed[StateSupportedFeatures]; ok {
		g.broker.Publish(&events.Event{Type: events.TypeFeatureEnabled, Endpoint: ep, Message: v.Value})
	}
}

func (g *Gossiper) interpretStatus(ep string, es *EndpointState) {
	status := es.Status()
	if status == "" {
		return
	}
	g.broker.Publish(&events.Event{Type: events.TypeStatusChange, Endpoint: ep, Message: status})

	name, args := ParseStatus(status)
	if (name == StatusLeft || name == StatusRemovedToken) && len(args) > 0 {
		if expireUnix, ok := parseUnixSeconds(args[len(args)-1]); ok {
			g.mu.Lock()
			g.expireAt[ep] = expireUnix
			g.mu.Unlock()
		}
	}
}

func parseUnixSeconds(s string) (time.Time, bool) {
	var sec int64
	if _, err := fmt.Sscanf(s, "%d", &sec); err != nil {
		return time.Time{}, false
	}
	return time.Unix(sec, 0), true
}

func joinFeatures(features []string) string {
	out := ""
	for i, f := range features {
		if i > 0 {
			out += ","
		}
		out += f
	}
	return out
}

// runStatusChecks implements step 4: phi-interpret every peer, evict
// silent fat clients, evict expired-and-no-longer-members, prune the
// just-removed quarantine.
func (g *Gossiper) runStatusChecks(now time.Time) {
	g.mu.RLock()
	peers := make([]string, 0, len(g.endpoints))
	for ep := range g.endpoints {
		if ep != g.cfg.LocalAddress {
			peers = append(peers, ep)
		}
	}
	g.mu.RUnlock()

	for _, ep := range peers {
		g.fd.Interpret(ep, now)
	}

	g.evictFatClients(now)
	g.evictExpired(now)
	g.pruneQuarantine(now)
}

func (g *Gossiper) evictFatClients(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.members == nil {
		return
	}
	timeout := g.cfg.fatClientTimeout()
	for ep, es := range g.endpoints {
		if ep == g.cfg.LocalAddress || g.members.IsRingMember(ep) {
			continue
		}
		if now.Sub(es.UpdatedAt) > timeout {
			delete(g.endpoints, ep)
			delete(g.live, ep)
			delete(g.unreachable, ep)
		}
	}
}

func (g *Gossiper) evictExpired(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for ep, expiry := range g.expireAt {
		if now.Before(expiry) {
			continue
		}
		if g.members != nil && g.members.IsRingMember(ep) {
			continue
		}
		delete(g.endpoints, ep)
		delete(g.live, ep)
		delete(g.unreachable, ep)
		delete(g.expireAt, ep)
		g.justRemoved[ep] = now.Add(g.cfg.quarantineDelay())
	}
}

func (g *Gossiper) pruneQuarantine(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for ep, until := range g.justRemoved {
		if now.After(until) {
			delete(g.justRemoved, ep)
		}
	}
}

// SeedQuarantine restores an endpoint's just-removed quarantine expiry
// after a restart, so a node doesn't forget mid-quarantine state it
// persisted before a crash and immediately re-admit an endpoint that was
// about to be forgotten anyway.
func (g *Gossiper) SeedQuarantine(ep string, until time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.justRemoved[ep] = until
}

// LocalState returns a clone of the local endpoint's own gossip state.
func (g *Gossiper) LocalState() *EndpointState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.endpoints[g.cfg.LocalAddress].Clone()
}

// UpdateLocalState sets a versioned application state on the local
// endpoint, bumping its version past the current maximum.
func (g *Gossiper) UpdateLocalState(tag ApplicationStateTag, value string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	local := g.endpoints[g.cfg.LocalAddress]
	local.States[tag] = VersionedValue{Value: value, Version: local.MaxVersion() + 1}
	local.UpdatedAt = time.Now()
}

// EndpointStateOf returns a clone of ep's current state, if known.
func (g *Gossiper) EndpointStateOf(ep string) (*EndpointState, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	es, ok := g.endpoints[ep]
	if !ok {
		return nil, false
	}
	return es.Clone(), true
}

// LiveEndpoints returns the current live set, excluding the local node.
func (g *Gossiper) LiveEndpoints() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.othersOf(g.live)
}

// AllEndpoints returns every endpoint this node currently holds state for,
// including the local one, regardless of liveness — the control plane
// uses this to report per-STATUS endpoint counts that include dead and
// leaving members, not just the live set.
func (g *Gossiper) AllEndpoints() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.endpoints))
	for ep := range g.endpoints {
		out = append(out, ep)
	}
	return out
}

// IsAlive reports whether ep is currently considered live.
func (g *Gossiper) IsAlive(ep string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.live[ep]
}

// GetSupportedFeatures intersects SUPPORTED_FEATURES across every known
// endpoint, the local one included, per the feature-negotiation rule.
func (g *Gossiper) GetSupportedFeatures() map[string]bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var common map[string]bool
	for _, es := range g.endpoints {
		v, ok := es.States[StateSupportedFeatures]
		if !ok {
			return map[string]bool{}
		}
		peerSet := splitFeatures(v.Value)
		if common == nil {
			common = peerSet
			continue
		}
		for f := range common {
			if !peerSet[f] {
				delete(common, f)
			}
		}
	}
	if common == nil {
		return map[string]bool{}
	}
	return common
}

// CheckKnowsRemoteFeatures fails with the missing feature names when any
// peer advertises a feature this node does not support locally.
func (g *Gossiper) CheckKnowsRemoteFeatures() (missing []string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	seen := map[string]bool{}
	for _, es := range g.endpoints {
		v, ok := es.States[StateSupportedFeatures]
		if !ok {
			continue
		}
		for f := range splitFeatures(v.Value) {
			if !g.localFeatures[f] && !seen[f] {
				missing = append(missing, f)
				seen[f] = true
			}
		}
	}
	return missing
}

func splitFeatures(s string) map[string]bool {
	out := map[string]bool{}
	if s == "" {
		return out
	}
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out[s[start:i]] = true
			}
			start = i + 1
		}
	}
	return out
}

// BeginShadowRound enters shadow-round mode: incoming state is accepted
// but never marks peers alive or applies locally-destined writes.
func (g *Gossiper) BeginShadowRound() {
	g.mu.Lock()
	g.shadowRound = true
	g.mu.Unlock()
}

// EndShadowRound exits shadow-round mode. The controller's bootstrap calls
// it once a seed has answered with state, before the feature check runs.
func (g *Gossiper) EndShadowRound() {
	g.mu.Lock()
	g.shadowRound = false
	g.mu.Unlock()
}

// ShadowRoundSyn sends an empty SYN to a random seed and reports whether
// the ACK carried any state, per the bootstrap shadow-round protocol.
func (g *Gossiper) ShadowRoundSyn(ctx context.Context) (bool, error) {
	g.mu.RLock()
	seeds := append([]string(nil), g.cfg.Seeds...)
	g.mu.RUnlock()
	if len(seeds) == 0 {
		return false, fmt.Errorf("gossip: no seeds configured for shadow round")
	}
	peer := seeds[g.rng.Intn(len(seeds))]

	payload, err := encodeSyn(synMessage{ClusterName: g.cfg.ClusterName, PartitionerName: g.cfg.PartitionerName})
	if err != nil {
		return false, err
	}
	replyBytes, err := g.transport.Send(ctx, peer, transport.VerbGossipDigestSyn, transport.Envelope{SourceAddress: g.cfg.LocalAddress, Payload: payload})
	if err != nil {
		return false, err
	}
	ack, err := decodeAck(replyBytes)
	if err != nil {
		return false, err
	}
	g.applyStates(ack.StateDeltas)
	return len(ack.StateDeltas) > 0, nil
}
