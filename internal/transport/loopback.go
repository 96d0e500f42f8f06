package transport

import (
	"context"
	"fmt"
	"sync"
)

// registry wires a set of named LoopbackTransports together so tests can
// build a small cluster without any network I/O.
type registry struct {
	mu    sync.RWMutex
	peers map[string]*LoopbackTransport
}

func newRegistry() *registry { return &registry{peers: map[string]*LoopbackTransport{}} }

func (r *registry) add(t *LoopbackTransport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[t.address] = t
}

func (r *registry) get(address string) (*LoopbackTransport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.peers[address]
	return t, ok
}

// LoopbackTransport is an in-memory Transport for tests: Send on one peer
// invokes the target peer's registered handler directly, without
// serialization or a network hop.
type LoopbackTransport struct {
	address  string
	registry *registry

	mu       sync.RWMutex
	handlers map[Verb]Handler
}

// NewLoopbackCluster builds a set of LoopbackTransports, one per address,
// all wired to the same in-memory registry.
func NewLoopbackCluster(addresses ...string) map[string]*LoopbackTransport {
	reg := newRegistry()
	out := make(map[string]*LoopbackTransport, len(addresses))
	for _, addr := range addresses {
		t := &LoopbackTransport{address: addr, registry: reg, handlers: map[Verb]Handler{}}
		reg.add(t)
		out[addr] = t
	}
	return out
}

func (t *LoopbackTransport) LocalAddress() string { return t.address }

func (t *LoopbackTransport) RegisterHandler(verb Verb, fn Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[verb] = fn
}

func (t *LoopbackTransport) Send(ctx context.Context, target string, verb Verb, env Envelope) ([]byte, error) {
	peer, ok := t.registry.get(target)
	if !ok {
		return nil, fmt.Errorf("transport: no loopback peer registered for %q", target)
	}
	peer.mu.RLock()
	fn, ok := peer.handlers[verb]
	peer.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("transport: peer %q has no handler for verb %q", target, verb)
	}
	if env.SourceAddress == "" {
		env.SourceAddress = t.address
	}
	return fn(ctx, env)
}
