package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrQueueEmpty is returned when no item arrived before the timeout.
	ErrQueueEmpty = errors.New("queue is empty")

	// ErrQueueClosed is returned when operations are attempted on a closed queue
	ErrQueueClosed = errors.New("queue is closed")

	// ErrQueueFull is returned when a bounded queue has no room before the
	// timeout.
	ErrQueueFull = errors.New("queue is full")
)

// Queue is a thread-safe FIFO, unbounded unless created with NewBounded.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	closed   bool
	stats    Stats

	// notify holds at most one wake-up token for blocked consumers, space
	// one for blocked producers.
	notify chan struct{}
	space  chan struct{}
}

// Stats tracks queue activity.
type Stats struct {
	TotalEnqueued int64
	TotalDequeued int64
	TotalDrained  int64
	CurrentSize   int
	PeakSize      int
	LastEnqueue   time.Time
	LastDequeue   time.Time
}

// New creates an empty unbounded queue.
func New[T any]() *Queue[T] {
	return NewBounded[T](0)
}

// NewBounded creates an empty queue holding at most capacity items. A
// capacity of zero or less means unbounded.
func NewBounded[T any](capacity int) *Queue[T] {
	return &Queue[T]{
		capacity: max(capacity, 0),
		notify:   make(chan struct{}, 1),
		space:    make(chan struct{}, 1),
	}
}

// Push appends item to the tail of the queue. A full bounded queue returns
// ErrQueueFull immediately.
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.items = append(q.items, item)
	q.stats.TotalEnqueued++
	q.stats.LastEnqueue = time.Now()
	q.stats.CurrentSize = len(q.items)
	if q.stats.CurrentSize > q.stats.PeakSize {
		q.stats.PeakSize = q.stats.CurrentSize
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
		// A wake-up is already pending.
	}
	return nil
}

// Pop removes the head of the queue, waiting up to timeout for an item; a
// zero timeout does not wait. It returns ErrQueueEmpty on timeout,
// ErrQueueClosed once the queue is closed and drained, or the context error.
func (q *Queue[T]) Pop(ctx context.Context, timeout time.Duration) (T, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		item, ok := q.popLocked()
		closed := q.closed
		q.mu.Unlock()

		if ok {
			return item, nil
		}
		var zero T
		if closed {
			return zero, ErrQueueClosed
		}

		select {
		case <-q.notify:
		case <-timer.C:
			return zero, ErrQueueEmpty
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// PushTimeout is Push that waits up to timeout for room in a full queue.
func (q *Queue[T]) PushTimeout(ctx context.Context, item T, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		err := q.Push(item)
		if !errors.Is(err, ErrQueueFull) {
			return err
		}
		select {
		case <-q.space:
		case <-timer.C:
			return ErrQueueFull
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *Queue[T]) signalSpace() {
	select {
	case q.space <- struct{}{}:
	default:
	}
}

func (q *Queue[T]) popLocked() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	q.stats.TotalDequeued++
	q.stats.LastDequeue = time.Now()
	q.stats.CurrentSize = len(q.items)
	q.signalSpace()
	return item, true
}

// Drain discards every queued item and returns how many were removed.
func (q *Queue[T]) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	q.stats.TotalDrained += int64(n)
	q.stats.CurrentSize = 0
	if n > 0 {
		q.signalSpace()
	}
	return n
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats returns a snapshot of queue statistics.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Close stops the queue from accepting new items and wakes blocked
// consumers. Items already queued can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
	q.signalSpace()
}
