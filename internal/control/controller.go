package control

import (
	"context"
	"sync"

	"github.com/cuemby/ringcoord/internal/events"
	"github.com/cuemby/ringcoord/internal/gossip"
	"github.com/cuemby/ringcoord/internal/logging"
	"github.com/cuemby/ringcoord/internal/ring"
	"github.com/cuemby/ringcoord/internal/token"
	"github.com/cuemby/ringcoord/internal/transport"
	"github.com/cuemby/ringcoord/internal/write"
	"github.com/google/uuid"
)

// HintSource exposes a node's outstanding hints for an endpoint, the
// subset of write.HintStore the decommission path needs to drain before
// announcing STATUS=LEFT.
type HintSource interface {
	Pending(endpoint string) []write.Mutation
}

// Controller is the StorageServiceController: it owns the
// local node's Mode, drives the bootstrap/replace/decommission/remove/
// move/rebuild operations, and is the sole ring.TokenMetadata writer,
// translating gossiped STATUS transitions into ring mutations as they
// arrive on the shared events.Broker.
type Controller struct {
	cfg         Config
	ring        *ring.TokenMetadata
	gossiper    *gossip.Gossiper
	broker      *events.Broker
	transport   transport.Transport
	streamer    Streamer
	hints       HintSource
	partitioner token.Partitioner
	snitch      write.Snitch

	mu   sync.Mutex
	mode Mode

	removal *removalTracker

	sub    events.Subscriber
	stopCh chan struct{}
}

func New(cfg Config, tm *ring.TokenMetadata, g *gossip.Gossiper, broker *events.Broker, tp transport.Transport, streamer Streamer, hints HintSource, partitioner token.Partitioner, snitch write.Snitch) *Controller {
	if streamer == nil {
		streamer = NoopStreamer{}
	}
	if snitch == nil {
		snitch = write.SingleDatacenterSnitch{Name: cfg.LocalDatacenter}
	}
	return &Controller{
		cfg:         cfg,
		ring:        tm,
		gossiper:    g,
		broker:      broker,
		transport:   tp,
		streamer:    streamer,
		hints:       hints,
		partitioner: partitioner,
		snitch:      snitch,
		mode:        ModeStarting,
		stopCh:      make(chan struct{}),
	}
}

// RegisterHandlers wires REPLICATION_FINISHED onto the transport. Call
// once before Start.
func (c *Controller) RegisterHandlers() {
	c.transport.RegisterHandler(transport.VerbReplicationFinished, c.handleReplicationFinished)
}

// Start launches the event-bus consumer loop that keeps TokenMetadata in
// sync with gossip.
func (c *Controller) Start() {
	c.sub = c.broker.Subscribe()
	go c.loop()
}

func (c *Controller) Stop() {
	close(c.stopCh)
}

func (c *Controller) loop() {
	for {
		select {
		case ev, ok := <-c.sub:
			if !ok {
				return
			}
			c.handleEvent(ev)
		case <-c.stopCh:
			c.broker.Unsubscribe(c.sub)
			return
		}
	}
}

// handleEvent implements the "on every topology-changing
// gossip event ... the controller updates TokenMetadata, recomputes
// pending ranges, and replicates the updated view" clause. Pending-range
// recomputation itself happens inside each TokenMetadata mutator, so this
// only needs to translate the event into the right mutator call and then
// announce the result.
func (c *Controller) handleEvent(ev *events.Event) {
	switch ev.Type {
	case events.TypeStatusChange:
		c.applyStatus(ev.Endpoint, ev.Message)
	case events.TypeEndpointRemove:
		c.ring.RemoveEndpoint(ev.Endpoint)
	default:
		return
	}
	c.broker.Publish(&events.Event{Type: events.TypeRingChanged, Endpoint: ev.Endpoint})
}

// applyStatus maps a STATUS value onto the matching TokenMetadata
// mutator, per the gossip state machine table.
func (c *Controller) applyStatus(ep, status string) {
	name, args := gossip.ParseStatus(status)
	switch name {
	case gossip.StatusBootstrapping:
		toks, err := parseStatusTokens(argOrEmpty(args, 0))
		if err != nil {
			logging.WithComponent("control").Warn().Str("endpoint", ep).Err(err).Msg("malformed BOOTSTRAPPING tokens")
			return
		}
		c.ring.AddBootstrapTokens(toks, ep)
	case gossip.StatusNormal:
		toks, err := parseStatusTokens(argOrEmpty(args, 0))
		if err != nil {
			logging.WithComponent("control").Warn().Str("endpoint", ep).Err(err).Msg("malformed NORMAL tokens")
			return
		}
		c.ring.UpdateNormalTokens(toks, ep)
	case gossip.StatusLeaving:
		c.ring.AddLeavingEndpoint(ep)
	case gossip.StatusLeft:
		c.ring.RemoveEndpoint(ep)
	case gossip.StatusMoving:
		toks, err := parseStatusTokens(argOrEmpty(args, 0))
		if err != nil || len(toks) != 1 {
			logging.WithComponent("control").Warn().Str("endpoint", ep).Msg("malformed MOVING token")
			return
		}
		c.ring.AddMovingEndpoint(toks[0], ep)
	case gossip.StatusRemovingToken:
		if target, ok := c.endpointForHostIDArg(argOrEmpty(args, 0)); ok {
			c.ring.AddLeavingEndpoint(target)
		}
	case gossip.StatusRemovedToken:
		if target, ok := c.endpointForHostIDArg(argOrEmpty(args, 0)); ok {
			c.ring.RemoveEndpoint(target)
		}
	}
}

func (c *Controller) endpointForHostIDArg(arg string) (string, bool) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return "", false
	}
	return c.ring.Current().EndpointForHostID(id)
}

func argOrEmpty(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func (c *Controller) setMode(m Mode) {
	c.mu.Lock()
	prev := c.mode
	c.mode = m
	c.mu.Unlock()
	if prev != m {
		c.broker.Publish(&events.Event{Type: events.TypeModeChanged, Endpoint: c.cfg.LocalAddress, Message: m.String()})
	}
}

// Mode reports the controller's current lifecycle mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *Controller) handleReplicationFinished(ctx context.Context, env transport.Envelope) ([]byte, error) {
	c.mu.Lock()
	tracker := c.removal
	c.mu.Unlock()
	if tracker != nil {
		tracker.ack(env.SourceAddress)
	}
	return nil, nil
}
