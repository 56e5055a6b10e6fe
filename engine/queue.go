// Package engine implements the audio graph: a UI side façade that owns the
// topology and an audio side renderer that only ever sees immutable render
// plans, handed over through a single producer, single consumer queue.
package engine

import (
	"sync/atomic"
)

type (
	// Action is a mutation of audio side state. Actions are created on the UI
	// goroutine and run on the audio goroutine, in the order they were
	// enqueued. An action must not block and should not allocate.
	Action func()

	// Queue is a lock-free ring of actions with exactly one producer (the UI
	// goroutine) and one consumer (the audio goroutine). Enqueue never blocks
	// and never drops: when the ring is full, actions wait in an overflow list
	// owned by the producer and are moved into the ring, oldest first, on the
	// next Enqueue or Flush.
	Queue struct {
		ring []Action
		mask uint64
		head atomic.Uint64 // next slot to read; written by the consumer
		tail atomic.Uint64 // next slot to write; written by the producer

		spill     []Action // producer only
		overflows atomic.Int64
	}
)

const DefaultQueueCapacity = 64

// NewQueue returns a queue whose ring holds capacity actions, rounded up to
// a power of two. A non-positive capacity gives DefaultQueueCapacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	size := 1
	for size < capacity {
		size <<= 1
	}
	return &Queue{ring: make([]Action, size), mask: uint64(size - 1)}
}

// Cap returns the number of actions the ring holds.
func (q *Queue) Cap() int { return len(q.ring) }

// Len returns the number of actions in the ring, not counting the overflow
// list.
func (q *Queue) Len() int { return int(q.tail.Load() - q.head.Load()) }

// Pending returns the number of actions waiting in the overflow list. Only
// the producer may call it.
func (q *Queue) Pending() int { return len(q.spill) }

// Overflows returns how many actions have been spilled into the overflow
// list since the queue was created.
func (q *Queue) Overflows() int64 { return q.overflows.Load() }

// Enqueue adds an action. It reports whether the action had to be spilled
// into the overflow list. Producer only.
func (q *Queue) Enqueue(a Action) (spilled bool) {
	if a == nil {
		return false
	}
	if q.Flush() > 0 || !q.push(a) {
		q.spill = append(q.spill, a)
		q.overflows.Add(1)
		return true
	}
	return false
}

// Flush moves as many spilled actions into the ring as fit and returns how
// many are still waiting. Producer only.
func (q *Queue) Flush() int {
	n := 0
	for n < len(q.spill) && q.push(q.spill[n]) {
		q.spill[n] = nil
		n++
	}
	if n > 0 {
		q.spill = append(q.spill[:0], q.spill[n:]...)
	}
	return len(q.spill)
}

func (q *Queue) push(a Action) bool {
	tail := q.tail.Load()
	if tail-q.head.Load() == uint64(len(q.ring)) {
		return false
	}
	q.ring[tail&q.mask] = a
	q.tail.Store(tail + 1)
	return true
}

// Drain runs every action in the ring in FIFO order and returns how many
// were run. Consumer only.
func (q *Queue) Drain() int {
	head := q.head.Load()
	n := 0
	for head != q.tail.Load() {
		slot := &q.ring[head&q.mask]
		a := *slot
		*slot = nil
		head++
		q.head.Store(head)
		a()
		n++
	}
	return n
}
