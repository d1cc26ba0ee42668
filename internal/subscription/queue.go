package subscription

import (
	"context"
	"sync"
	"sync/atomic"

	"tagstream/internal/tag"
)

// Queue is the output queue of a subscription. Push never blocks: when a
// bounded queue is full one value is discarded according to the drop policy.
// A slow consumer therefore loses values instead of stalling the publisher.
type Queue struct {
	mu       sync.Mutex
	items    []tag.Value
	capacity int
	policy   DropPolicy
	closed   bool

	dropped atomic.Uint64

	notify    chan struct{}
	closeChan chan struct{}
}

// NewQueue creates a queue. A capacity <= 0 makes it unbounded.
func NewQueue(capacity int, policy DropPolicy) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	initial := capacity
	if initial == 0 || initial > 64 {
		initial = 64
	}
	return &Queue{
		items:     make([]tag.Value, 0, initial),
		capacity:  capacity,
		policy:    policy,
		notify:    make(chan struct{}, 1),
		closeChan: make(chan struct{}),
	}
}

// Push appends a value without blocking. It returns false if a value had to
// be discarded to honour the capacity, or if the queue is closed.
func (q *Queue) Push(v tag.Value) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}

	ok := true
	if q.capacity > 0 && len(q.items) >= q.capacity {
		ok = false
		q.dropped.Add(1)
		if q.policy == DropNewest {
			q.mu.Unlock()
			return false
		}
		q.items[0] = tag.Value{}
		q.items = q.items[1:]
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	q.signal()
	return ok
}

// Pop removes the oldest value, waiting until one is available. It returns
// ErrQueueClosed once the queue is closed and empty.
func (q *Queue) Pop(ctx context.Context) (tag.Value, error) {
	for {
		v, ok, closed := q.take()
		if ok {
			return v, nil
		}
		if closed {
			return tag.Value{}, ErrQueueClosed
		}

		select {
		case <-q.notify:
		case <-q.closeChan:
		case <-ctx.Done():
			return tag.Value{}, ctx.Err()
		}
	}
}

// TryPop removes the oldest value if one is available
func (q *Queue) TryPop() (tag.Value, bool) {
	v, ok, _ := q.take()
	return v, ok
}

// take pops under the lock and re-signals if more values remain so that a
// second waiting consumer is not left asleep
func (q *Queue) take() (tag.Value, bool, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		closed := q.closed
		q.mu.Unlock()
		return tag.Value{}, false, closed
	}
	v := q.items[0]
	q.items[0] = tag.Value{}
	q.items = q.items[1:]
	more := len(q.items) > 0
	q.mu.Unlock()

	if more {
		q.signal()
	}
	return v, true, false
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Close stops accepting values. Values already queued can still be popped.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.closeChan)
}

// Closed returns true once Close was called
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of queued values
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Capacity returns the configured capacity, 0 meaning unbounded
func (q *Queue) Capacity() int {
	return q.capacity
}

// Dropped returns how many values were discarded because the queue was full
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
