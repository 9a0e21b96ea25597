// Package queue hands decoded commands from the background worker to the
// simulation tick.
package queue

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Push after Close.
var ErrClosed = errors.New("queue closed")

// Policy decides what Push does when a bounded queue is full.
type Policy int

const (
	// Unbounded never rejects a push.
	Unbounded Policy = iota
	// DropOldest discards the head to make room.
	DropOldest
	// BlockProducer waits until the consumer pops or the queue closes.
	BlockProducer
)

// ParsePolicy maps a configuration string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "unbounded":
		return Unbounded, nil
	case "drop_oldest":
		return DropOldest, nil
	case "block_producer":
		return BlockProducer, nil
	}
	return Unbounded, errors.New("unknown queue policy: " + s)
}

func (p Policy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case BlockProducer:
		return "block_producer"
	default:
		return "unbounded"
	}
}

// Queue is a FIFO safe for one producer and one consumer (or more).
// The consumer side never blocks.
type Queue[T any] struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	items    []T
	capacity int
	policy   Policy
	closed   bool
	dropped  uint64
}

// New creates a queue. capacity is ignored for Unbounded and must be
// positive otherwise; a non-positive capacity falls back to Unbounded.
func New[T any](policy Policy, capacity int) *Queue[T] {
	if capacity <= 0 {
		policy = Unbounded
	}
	q := &Queue[T]{capacity: capacity, policy: policy}
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// NewUnbounded creates a queue with no capacity limit.
func NewUnbounded[T any]() *Queue[T] {
	return New[T](Unbounded, 0)
}

// Push appends v.
func (q *Queue[T]) Push(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if q.policy != Unbounded {
		for len(q.items) >= q.capacity {
			if q.policy == DropOldest {
				var zero T
				q.items[0] = zero
				q.items = q.items[1:]
				q.dropped++
				break
			}
			q.notFull.Wait()
			if q.closed {
				return ErrClosed
			}
		}
	}
	q.items = append(q.items, v)
	return nil
}

// TryPop removes the head without blocking. ok is false when empty.
func (q *Queue[T]) TryPop() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return v, false
	}
	v = q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	q.notFull.Signal()
	return v, true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many items DropOldest has discarded.
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close rejects further pushes and releases blocked producers. Items
// already queued can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notFull.Broadcast()
}
