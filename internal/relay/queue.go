// Package relay provides the bounded audio relay queue that bridges the
// non-blocking inbound receive loop to the blocking recognizer send loop.
package relay

import (
	"sync"
	"sync/atomic"
)

// DefaultByteBudget is the default retained-bytes cap for a queue.
const DefaultByteBudget = 10 << 20 // 10 MiB

// Queue is a bounded, byte-budgeted FIFO of audio chunks.
//
// The producer side never blocks: a chunk that would push the retained total
// past the budget is dropped. The consumer side blocks in Dequeue until a
// chunk is available or the queue is closed. Dropping audio under overload is
// acceptable; stalling the inbound connection is not.
type Queue struct {
	mu          sync.Mutex
	cond        *sync.Cond
	chunks      [][]byte
	queuedBytes int64
	byteBudget  int64
	closed      bool

	dropped  atomic.Int64
	accepted atomic.Int64
}

// NewQueue creates a queue with the given byte budget.
// A non-positive budget falls back to DefaultByteBudget.
func NewQueue(byteBudget int64) *Queue {
	if byteBudget <= 0 {
		byteBudget = DefaultByteBudget
	}
	q := &Queue{byteBudget: byteBudget}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends a chunk to the tail. It never blocks and never fails
// loudly: a chunk that exceeds the remaining budget, or arrives after Close,
// is silently dropped. The return value reports whether the chunk was kept.
func (q *Queue) Enqueue(chunk []byte) bool {
	if len(chunk) == 0 {
		return false
	}

	q.mu.Lock()
	if q.closed || q.queuedBytes+int64(len(chunk)) > q.byteBudget {
		q.mu.Unlock()
		q.dropped.Add(1)
		return false
	}

	q.chunks = append(q.chunks, chunk)
	q.queuedBytes += int64(len(chunk))
	q.mu.Unlock()

	q.accepted.Add(1)
	q.cond.Signal()
	return true
}

// Dequeue removes and returns the head chunk, blocking until one is
// available. The second return value is false once the queue has been closed
// and fully drained; that is the consumer's signal to terminate.
func (q *Queue) Dequeue() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.chunks) == 0 && !q.closed {
		q.cond.Wait()
	}

	if len(q.chunks) == 0 {
		// closed and drained
		return nil, false
	}

	chunk := q.chunks[0]
	q.chunks[0] = nil
	q.chunks = q.chunks[1:]
	q.queuedBytes -= int64(len(chunk))
	return chunk, true
}

// Close marks the queue as closed and wakes any blocked consumer.
// Chunks already accepted are still delivered in order. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.cond.Broadcast()
}

// QueuedBytes returns the currently retained byte total.
func (q *Queue) QueuedBytes() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queuedBytes
}

// Len returns the number of queued chunks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks)
}

// Dropped returns the number of chunks discarded over budget or after close.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

// Accepted returns the number of chunks accepted since creation.
func (q *Queue) Accepted() int64 { return q.accepted.Load() }
