// Package mpsc implements the multi-producer single-consumer queue backing
// the channel types in the parent package.
//
// Go channels cannot express the required semantics directly: unbounded
// buffering, a non-blocking pop that distinguishes "empty" from "no
// producers left", and pushes that fail once the consumer end is closed.
package mpsc

import (
	"errors"
	"sync"
)

// chunkSize is the number of values per node in the chunked linked list.
// 128 slots amortise allocation without holding large buffers captive in
// the pool for small payload types.
const chunkSize = 128

var (
	// ErrEmpty is returned by TryPop when the queue is drained but at least
	// one producer handle is still live.
	ErrEmpty = errors.New("mpsc: queue empty")
	// ErrFull is returned by TryPush on a bounded queue at capacity.
	ErrFull = errors.New("mpsc: queue full")
	// ErrDisconnected is returned by TryPop once the queue is drained and no
	// producer handles remain, and by every push after CloseRecv.
	ErrDisconnected = errors.New("mpsc: queue disconnected")
)

// chunk is a fixed-size node in the chunked linked list. It uses readPos/pos
// cursors for O(1) push/pop without shifting.
type chunk[T any] struct {
	values  [chunkSize]T
	next    *chunk[T]
	readPos int // first unread slot
	pos     int // first unused slot
}

// Queue is a FIFO queue with refcounted producers and a single consumer.
//
// Producer handles are tracked via AddSender/RemoveSender. Once the count
// drops to zero the consumer drains any buffered values and then observes
// ErrDisconnected; values pushed before the last release are never lost.
// Closing the consumer end (CloseRecv) discards buffered values, wakes
// blocked producers, and fails every subsequent push with ErrDisconnected.
//
// All methods are safe for concurrent use, though TryPop and CloseRecv are
// intended for the single consumer.
type Queue[T any] struct {
	_ [0]func()

	mu      sync.Mutex
	notFull sync.Cond // producers blocked in PushWait

	head   *chunk[T]
	tail   *chunk[T]
	length int

	capacity   int // 0 = unbounded
	senders    int
	recvClosed bool

	pool sync.Pool // chunk recycling, see returnChunk
}

// New creates an unbounded queue with no registered producers. Callers must
// AddSender before handing the queue to a producer.
func New[T any]() *Queue[T] {
	return newQueue[T](0)
}

// NewBounded creates a queue holding at most capacity buffered values.
// Panics if capacity is less than 1.
func NewBounded[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		panic(`mpsc: capacity must be at least 1`)
	}
	return newQueue[T](capacity)
}

func newQueue[T any](capacity int) *Queue[T] {
	q := &Queue[T]{capacity: capacity}
	q.notFull.L = &q.mu
	q.pool.New = func() any { return new(chunk[T]) }
	return q
}

// AddSender registers one producer handle.
func (q *Queue[T]) AddSender() {
	q.mu.Lock()
	q.senders++
	q.mu.Unlock()
}

// RemoveSender releases one producer handle. Releasing the last handle
// disconnects the queue for the consumer once it drains.
func (q *Queue[T]) RemoveSender() {
	q.mu.Lock()
	if q.senders <= 0 {
		q.mu.Unlock()
		panic(`mpsc: sender refcount underflow`)
	}
	q.senders--
	q.mu.Unlock()
}

// TryPush enqueues v without blocking.
//
// Returns ErrFull if a bounded queue is at capacity, or ErrDisconnected if
// the consumer end was closed.
func (q *Queue[T]) TryPush(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.recvClosed {
		return ErrDisconnected
	}
	if q.capacity > 0 && q.length >= q.capacity {
		return ErrFull
	}
	q.pushLocked(v)
	return nil
}

// PushWait enqueues v, blocking while the queue is at capacity. Returns
// ErrDisconnected if the consumer end is closed before space frees up.
func (q *Queue[T]) PushWait(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.recvClosed {
			return ErrDisconnected
		}
		if q.capacity == 0 || q.length < q.capacity {
			q.pushLocked(v)
			return nil
		}
		q.notFull.Wait()
	}
}

// TryPop dequeues the oldest value without blocking.
//
// ErrEmpty means drained but still connected. ErrDisconnected means drained
// with no producers left, or the consumer end itself was closed.
func (q *Queue[T]) TryPop() (T, error) {
	var zero T
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.length == 0 {
		if q.recvClosed || q.senders == 0 {
			return zero, ErrDisconnected
		}
		return zero, ErrEmpty
	}
	v := q.popLocked()
	if q.capacity > 0 {
		q.notFull.Signal()
	}
	return v, nil
}

// CloseRecv closes the consumer end. Buffered values are discarded, blocked
// producers wake, and every subsequent push fails with ErrDisconnected.
// Idempotent.
func (q *Queue[T]) CloseRecv() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.recvClosed {
		return
	}
	q.recvClosed = true
	for c := q.head; c != nil; {
		next := c.next
		q.returnChunk(c)
		c = next
	}
	q.head, q.tail = nil, nil
	q.length = 0
	q.notFull.Broadcast()
}

// Len returns the number of buffered values.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.length
}

// Cap returns the capacity, or 0 if unbounded.
func (q *Queue[T]) Cap() int { return q.capacity }

// pushLocked appends v. Caller holds mu.
func (q *Queue[T]) pushLocked(v T) {
	if q.tail == nil {
		q.tail = q.newChunk()
		q.head = q.tail
	}
	if q.tail.pos == len(q.tail.values) {
		next := q.newChunk()
		q.tail.next = next
		q.tail = next
	}
	q.tail.values[q.tail.pos] = v
	q.tail.pos++
	q.length++
}

// popLocked removes and returns the oldest value. Caller holds mu and has
// checked length > 0.
func (q *Queue[T]) popLocked() T {
	if q.head.readPos >= q.head.pos && q.head != q.tail {
		old := q.head
		q.head = old.next
		q.returnChunk(old)
	}

	var zero T
	v := q.head.values[q.head.readPos]
	q.head.values[q.head.readPos] = zero
	q.head.readPos++
	q.length--

	if q.head.readPos >= q.head.pos {
		if q.head == q.tail {
			// sole chunk drained: reset cursors for reuse
			q.head.pos = 0
			q.head.readPos = 0
		} else {
			old := q.head
			q.head = old.next
			q.returnChunk(old)
		}
	}
	return v
}

func (q *Queue[T]) newChunk() *chunk[T] {
	c := q.pool.Get().(*chunk[T])
	c.pos = 0
	c.readPos = 0
	c.next = nil
	return c
}

// returnChunk zeroes live slots so the pool does not retain references.
func (q *Queue[T]) returnChunk(c *chunk[T]) {
	var zero T
	for i := c.readPos; i < c.pos; i++ {
		c.values[i] = zero
	}
	c.pos = 0
	c.readPos = 0
	c.next = nil
	q.pool.Put(c)
}
