package write

import (
	"container/list"
	"context"
	"sync"

	"github.com/cuemby/ringcoord/internal/metrics"
)

const defaultMaxQueuedBytes int64 = 6 * 1024 * 1024 // 6 MiB

// Throttle implements the write-admission budget: a write is
// admitted immediately while background_write_bytes stays under its
// configured ceiling (10% of process memory in the deployed default);
// once that's exhausted, writes wait in a FIFO queue until Release frees
// room. queuedBytes feeds the queued-bytes gauge; the 6 MiB
// maxQueuedBytes is stored but no admission decision reads it.
//
// Queued waiters are list.List elements rather than a slice so that a
// canceled waiter can remove itself by pointer without shifting everyone
// behind it.
type Throttle struct {
	mu sync.Mutex

	maxBackgroundBytes int64
	backgroundBytes    int64

	maxQueuedBytes int64
	queuedBytes    int64
	queue          *list.List
}

type waiter struct {
	bytes   int64
	admit   chan struct{}
	dropped bool
}

// NewThrottle builds a Throttle whose background-byte ceiling is
// maxBackgroundBytes (the caller computes 10% of process memory once at
// startup and passes it in, since this package has no business sampling
// process memory itself).
func NewThrottle(maxBackgroundBytes int64) *Throttle {
	return &Throttle{
		maxBackgroundBytes: maxBackgroundBytes,
		maxQueuedBytes:     defaultMaxQueuedBytes,
		queue:              list.New(),
	}
}

// Admit blocks until nBytes of background write budget is available,
// queueing FIFO if the background budget is currently exhausted. It
// returns an error only if ctx is canceled while queued. A Throttle built
// with maxBackgroundBytes <= 0 has no configured ceiling and admits
// immediately, since a zero-value Config means the deployment never set
// one, not that it wants to block every write forever.
func (t *Throttle) Admit(ctx context.Context, nBytes int64) error {
	t.mu.Lock()
	if t.maxBackgroundBytes <= 0 || (t.backgroundBytes+nBytes <= t.maxBackgroundBytes && t.queue.Len() == 0) {
		t.backgroundBytes += nBytes
		t.mu.Unlock()
		metrics.BackgroundWriteBytes.Set(float64(t.currentBackground()))
		return nil
	}

	w := &waiter{bytes: nBytes, admit: make(chan struct{})}
	t.queuedBytes += nBytes
	elem := t.queue.PushBack(w)
	t.mu.Unlock()
	metrics.QueuedWriteBytes.Set(float64(t.currentQueued()))

	select {
	case <-w.admit:
		return nil
	case <-ctx.Done():
		t.mu.Lock()
		if !w.dropped {
			t.queue.Remove(elem)
			t.queuedBytes -= nBytes
		}
		t.mu.Unlock()
		metrics.QueuedWriteBytes.Set(float64(t.currentQueued()))
		return ctx.Err()
	}
}

// Release returns nBytes of background budget, admitting queued waiters
// in FIFO order while room remains.
func (t *Throttle) Release(nBytes int64) {
	t.mu.Lock()
	t.backgroundBytes -= nBytes
	if t.backgroundBytes < 0 {
		t.backgroundBytes = 0
	}

	for t.queue.Len() > 0 {
		front := t.queue.Front()
		w := front.Value.(*waiter)
		if t.backgroundBytes+w.bytes > t.maxBackgroundBytes {
			break
		}
		t.queue.Remove(front)
		t.queuedBytes -= w.bytes
		t.backgroundBytes += w.bytes
		w.dropped = true
		close(w.admit)
	}
	t.mu.Unlock()
	metrics.BackgroundWriteBytes.Set(float64(t.currentBackground()))
	metrics.QueuedWriteBytes.Set(float64(t.currentQueued()))
}

func (t *Throttle) currentBackground() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.backgroundBytes
}

func (t *Throttle) currentQueued() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queuedBytes
}
