package events

import (
	"sync"
	"time"
)

// Type identifies the kind of ring event being published. The gossiper,
// TokenMetadata and the control plane publish these instead of holding
// direct references to each other's subscriber lists.
type Type string

const (
	TypeEndpointJoin     Type = "endpoint.join"
	TypeEndpointAlive    Type = "endpoint.alive"
	TypeEndpointDead     Type = "endpoint.dead"
	TypeEndpointRestart  Type = "endpoint.restart"
	TypeEndpointRemove   Type = "endpoint.remove"
	TypeStatusChange     Type = "endpoint.status_change"
	TypeFeatureEnabled   Type = "feature.enabled"
	TypeRingChanged      Type = "ring.changed"
	TypePendingRanges    Type = "ring.pending_ranges_changed"
	TypeModeChanged      Type = "control.mode_changed"
)

// Event is a single published occurrence.
type Event struct {
	ID        string
	Type      Type
	Timestamp time.Time
	Endpoint  string
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker distributes published events to every current subscriber. It
// replaces the cyclic pointer graph between the gossiper, TokenMetadata
// and the storage-service controller: each component only ever holds the
// broker, never a reference to a concrete peer.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]bool
	eventCh     chan *Event
	stopCh      chan struct{}
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 256),
		stopCh:      make(chan struct{}),
	}
}

func (b *Broker) Start() { go b.run() }

func (b *Broker) Stop() { close(b.stopCh) }

// Subscribe returns a new buffered channel registered with the broker.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := make(Subscriber, 64)
	b.subscribers[sub] = true
	return sub
}

func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, sub)
	close(sub)
}

// Publish enqueues event for broadcast; it does not block on a slow
// subscriber.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
		}
	}
}

func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
