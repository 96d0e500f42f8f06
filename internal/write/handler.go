package write

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/ringcoord/internal/coordfail"
)

// WriteHandler tracks one in-flight mutation from dispatch to completion.
// It holds no lock across a suspension point: inbound MUTATION_DONE
// replies and the timeout goroutine both reach it only through the
// HandlerSlab, keyed by response_id, the way any handler that spans
// multiple outstanding network sends needs to be reachable from.
type WriteHandler struct {
	mu sync.Mutex

	responseID int64
	writeType  WriteType
	kind       handlerKind
	cl         ConsistencyLevel

	blockFor      int
	perDCBlockFor map[string]int
	pendingLocal  int

	targets   map[string]bool // endpoint -> still outstanding
	acksByDC  map[string]int
	totalAcks int

	dl deadline

	resolved   bool
	background bool
	result     chan error
}

func newWriteHandler(responseID int64, cl ConsistencyLevel, writeType WriteType, kind handlerKind, targets []string, blockFor int, perDCBlockFor map[string]int, pendingLocal int, timeout time.Duration) *WriteHandler {
	outstanding := make(map[string]bool, len(targets))
	for _, t := range targets {
		outstanding[t] = true
	}
	return &WriteHandler{
		responseID:    responseID,
		writeType:     writeType,
		kind:          kind,
		cl:            cl,
		blockFor:      blockFor,
		perDCBlockFor: perDCBlockFor,
		pendingLocal:  pendingLocal,
		targets:       outstanding,
		acksByDC:      map[string]int{},
		dl:            deadline{startedAt: time.Now(), timeout: timeout},
		result:        make(chan error, 1),
	}
}

// Ack records a MUTATION_DONE from endpoint, in datacenter dc, and reports
// whether this ack caused the handler to resolve successfully. A late ack
// arriving after the handler already resolved (by timeout or a prior
// success) is a no-op: replay after completion is a no-op.
func (h *WriteHandler) Ack(endpoint, dc string) (justResolved bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.targets[endpoint] {
		return false
	}
	delete(h.targets, endpoint)
	h.totalAcks++
	h.acksByDC[dc]++

	if h.resolved {
		if len(h.targets) == 0 && h.background {
			h.background = false
		}
		return false
	}

	if h.satisfied() {
		h.resolved = true
		h.result <- nil
		return true
	}
	return false
}

// satisfied reports whether the accumulated acks meet this handler's
// kind-specific completion rule. Must be called with mu held.
func (h *WriteHandler) satisfied() bool {
	switch h.kind {
	case kindDatacenterSynchronous:
		for dc, need := range h.perDCBlockFor {
			if h.acksByDC[dc] < need {
				return false
			}
		}
		return true
	default:
		return h.totalAcks >= h.blockFor+h.pendingLocal
	}
}

// CheckTimeout resolves the handler with a WriteTimeout if its deadline
// has passed and it hasn't already resolved, transitioning it to the
// background state on the way so later stragglers can still be tallied.
// Returns true if this call caused the timeout resolution.
func (h *WriteHandler) CheckTimeout(now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.resolved || !h.dl.expired(now) {
		return false
	}
	h.resolved = true
	h.background = len(h.targets) > 0
	h.result <- &coordfail.WriteTimeout{
		Received:  h.totalAcks,
		BlockFor:  h.blockFor,
		WriteType: string(h.writeType),
	}
	return true
}

// EnterBackground marks a handler that completed its consistency level
// but still has outstanding targets as background, as IsBackground then
// reports. No metric or gauge is updated here.
func (h *WriteHandler) EnterBackground() (entered bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.background || len(h.targets) == 0 {
		return false
	}
	h.background = true
	return true
}

// Done returns the channel the caller waits on. It is sent to exactly
// once.
func (h *WriteHandler) Done() <-chan error { return h.result }

// IsBackground reports whether the handler has transitioned to the
// background accounting state.
func (h *WriteHandler) IsBackground() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.background
}

// Outstanding returns the number of targets yet to ack.
func (h *WriteHandler) Outstanding() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.targets)
}

// ResponseID returns the response_id this handler is registered under.
func (h *WriteHandler) ResponseID() int64 { return h.responseID }

// HandlerSlab is the response_id-keyed table of in-flight write handlers.
// response_id is monotonic per-shard, not globally; this slab
// models one shard's table.
type HandlerSlab struct {
	mu       sync.Mutex
	handlers map[int64]*WriteHandler
	nextID   atomic.Int64
}

func NewHandlerSlab() *HandlerSlab {
	return &HandlerSlab{handlers: map[int64]*WriteHandler{}}
}

// New allocates the next response_id, constructs a handler for it, and
// registers it in the slab.
func (s *HandlerSlab) New(cl ConsistencyLevel, writeType WriteType, kind handlerKind, targets []string, blockFor int, perDCBlockFor map[string]int, pendingLocal int, timeout time.Duration) *WriteHandler {
	id := s.nextID.Add(1)
	h := newWriteHandler(id, cl, writeType, kind, targets, blockFor, perDCBlockFor, pendingLocal, timeout)

	s.mu.Lock()
	s.handlers[id] = h
	s.mu.Unlock()
	return h
}

func (s *HandlerSlab) Get(responseID int64) (*WriteHandler, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handlers[responseID]
	return h, ok
}

func (s *HandlerSlab) Delete(responseID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, responseID)
}

// Sweep runs CheckTimeout against every still-registered handler and
// removes ones that are resolved and no longer carrying background
// stragglers, so the slab doesn't grow unbounded. It returns the
// response_ids removed this pass, so a caller tracking per-handler
// resources (like background-write budget) knows when to release them.
func (s *HandlerSlab) Sweep(now time.Time) []int64 {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.handlers))
	for id := range s.handlers {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var removed []int64
	for _, id := range ids {
		s.mu.Lock()
		h, ok := s.handlers[id]
		s.mu.Unlock()
		if !ok {
			continue
		}
		h.CheckTimeout(now)
		if h.Outstanding() == 0 {
			s.Delete(id)
			removed = append(removed, id)
		}
	}
	return removed
}
