package pollchan

import (
	"errors"
	"sync/atomic"

	"github.com/joeycumines/go-pollchan/internal/mpsc"
)

var (
	// ErrDisconnected indicates the receiving end of the channel no longer
	// exists: every consumer-side handle was closed, or the payload can no
	// longer be delivered. Matched through [SendError] via [errors.Is].
	ErrDisconnected = errors.New("pollchan: channel disconnected")
	// ErrFull indicates a bounded channel is at capacity. Matched through
	// [SendError] via [errors.Is].
	ErrFull = errors.New("pollchan: channel full")
)

// SendError reports a value that could not be enqueued, carrying the value
// back to the caller. Err is one of [ErrDisconnected] or [ErrFull]; use
// [errors.Is] to distinguish them and [errors.As] to recover the value.
type SendError[T any] struct {
	Value T
	Err   error
}

func (e *SendError[T]) Error() string {
	if e.Err == nil {
		return "pollchan: send failed"
	}
	return e.Err.Error()
}

func (e *SendError[T]) Unwrap() error { return e.Err }

// Event is a single occurrence delivered to the channel consumer: either a
// message carrying a payload, or a closed marker reporting that every sender
// was closed.
type Event[T any] struct {
	value  T
	closed bool
}

// Message makes an Event carrying v.
func Message[T any](v T) Event[T] {
	return Event[T]{value: v}
}

// ClosedEvent makes the terminal Event reporting that all senders are gone.
func ClosedEvent[T any]() Event[T] {
	return Event[T]{closed: true}
}

// Closed reports whether this is the terminal closed marker.
func (e Event[T]) Closed() bool { return e.closed }

// Value returns the message payload, which is the zero value for the closed
// marker.
func (e Event[T]) Value() T { return e.value }

// Sender is the sending end of an unbounded channel. Handles are clonable
// and every clone is safe for concurrent use from any goroutine.
type Sender[T any] struct {
	_      [0]func()
	queue  *mpsc.Queue[T]
	ping   *Ping
	closed atomic.Bool
}

// Send enqueues v and signals the consumer's wakeup source. It never blocks
// and never fails on capacity.
//
// If the receiving end is gone, returns a [*SendError] wrapping
// [ErrDisconnected] with the value. Any other error is an I/O failure from
// the wake descriptor, passed through unchanged; in that case the value was
// enqueued and will surface on the next successful wakeup.
//
// Panics if this handle is already closed.
func (x *Sender[T]) Send(v T) error {
	if x.closed.Load() {
		panic(`pollchan: send on closed sender`)
	}
	if err := x.queue.TryPush(v); err != nil {
		return &SendError[T]{Value: v, Err: ErrDisconnected}
	}
	return x.signalSent(v)
}

// Clone returns a new independent sending handle. Messages from concurrent
// handles interleave, but each handle's own messages stay in send order.
// Panics if this handle is already closed.
func (x *Sender[T]) Clone() *Sender[T] {
	if x.closed.Load() {
		panic(`pollchan: clone of closed sender`)
	}
	x.queue.AddSender()
	return &Sender[T]{queue: x.queue, ping: x.ping.Clone()}
}

// Close releases this handle, always signalling the consumer's wakeup source
// so closing the last handle is observed promptly as a closed event.
// Idempotent. Returns nil once the receiving end is gone.
func (x *Sender[T]) Close() error {
	if x.closed.Swap(true) {
		return nil
	}
	return closeSender(x.queue, x.ping)
}

// signalSent signals after a successful enqueue. A closed ping means the
// consumer went away in between and discarded the value.
func (x *Sender[T]) signalSent(v T) error {
	if err := x.ping.Signal(); err != nil {
		if errors.Is(err, ErrPingClosed) {
			return &SendError[T]{Value: v, Err: ErrDisconnected}
		}
		return err
	}
	return nil
}

// SyncSender is the sending end of a bounded channel. Handles are clonable
// and every clone is safe for concurrent use from any goroutine.
type SyncSender[T any] struct {
	_      [0]func()
	queue  *mpsc.Queue[T]
	ping   *Ping
	closed atomic.Bool
}

// Send enqueues v, blocking while the channel is at capacity until the
// consumer drains space, and signals the consumer's wakeup source once the
// value is in. Returns a [*SendError] wrapping [ErrDisconnected] with the
// value if the receiving end is gone.
//
// Never call Send from the goroutine that drains the channel: with the
// channel full, the drain that would free space can then never run.
//
// Panics if this handle is already closed.
func (x *SyncSender[T]) Send(v T) error {
	err := x.TrySend(v)
	if err == nil || !errors.Is(err, ErrFull) {
		return err
	}
	if werr := x.queue.PushWait(v); werr != nil {
		return &SendError[T]{Value: v, Err: ErrDisconnected}
	}
	return x.signalSent(v)
}

// TrySend enqueues v without blocking.
//
// At capacity it returns a [*SendError] wrapping [ErrFull] with the value,
// and still signals the wakeup source: a full channel means there is
// pending work, and the consumer should wake and drain. If the receiving
// end is gone it returns a [*SendError] wrapping [ErrDisconnected] without
// signalling.
//
// Panics if this handle is already closed.
func (x *SyncSender[T]) TrySend(v T) error {
	if x.closed.Load() {
		panic(`pollchan: send on closed sender`)
	}
	err := x.queue.TryPush(v)
	switch {
	case err == nil:
		return x.signalSent(v)
	case errors.Is(err, mpsc.ErrFull):
		_ = x.ping.Signal()
		return &SendError[T]{Value: v, Err: ErrFull}
	default:
		return &SendError[T]{Value: v, Err: ErrDisconnected}
	}
}

// Clone returns a new independent sending handle. Panics if this handle is
// already closed.
func (x *SyncSender[T]) Clone() *SyncSender[T] {
	if x.closed.Load() {
		panic(`pollchan: clone of closed sender`)
	}
	x.queue.AddSender()
	return &SyncSender[T]{queue: x.queue, ping: x.ping.Clone()}
}

// Close releases this handle, always signalling the consumer's wakeup source
// so closing the last handle is observed promptly as a closed event.
// Idempotent. Returns nil once the receiving end is gone.
func (x *SyncSender[T]) Close() error {
	if x.closed.Swap(true) {
		return nil
	}
	return closeSender(x.queue, x.ping)
}

func (x *SyncSender[T]) signalSent(v T) error {
	if err := x.ping.Signal(); err != nil {
		if errors.Is(err, ErrPingClosed) {
			return &SendError[T]{Value: v, Err: ErrDisconnected}
		}
		return err
	}
	return nil
}

// closeSender releases one producer handle: the refcount drops first so a
// consumer woken by the signal observes the disconnection, then the ping
// clone is released.
func closeSender[T any](queue *mpsc.Queue[T], ping *Ping) error {
	queue.RemoveSender()
	err := ping.Signal()
	if errors.Is(err, ErrPingClosed) {
		err = nil
	}
	if cerr := ping.Close(); err == nil {
		err = cerr
	}
	return err
}

// Channel is the receiving end: an event source that reports readiness
// whenever senders enqueue messages or close, and drains the queue when
// dispatched.
//
// There is exactly one consumer; Channel is not clonable. It may be moved
// between goroutines only before registration with a loop. After
// registration it must be touched only from the loop's dispatch goroutine.
//
// Channel implements [Source] with [Event] events.
type Channel[T any] struct {
	_      [0]func()
	queue  *mpsc.Queue[T]
	source *PingSource
	closed atomic.Bool
}

// ProcessEvents drains the wakeup source, and if it was signalled drains
// the queue to exhaustion, invoking fn with a message event per value in
// FIFO order per sender. If the drain finds the queue disconnected, fn is
// invoked once with the closed event.
//
// The channel stays registered after the closed event; subsequent dispatches
// are no-ops unless signalled again. Spurious wakeups invoke nothing.
func (x *Channel[T]) ProcessEvents(r Readiness, token Token, fn func(Event[T])) (PostAction, error) {
	return x.source.ProcessEvents(r, token, func(struct{}) {
		for {
			v, err := x.queue.TryPop()
			switch {
			case err == nil:
				fn(Message(v))
			case errors.Is(err, mpsc.ErrDisconnected):
				fn(ClosedEvent[T]())
				return
			default: // empty, but still connected
				return
			}
		}
	})
}

// Register registers the channel's wakeup source with the poll.
func (x *Channel[T]) Register(p *Poll, token Token) error {
	return x.source.Register(p, token)
}

// Reregister updates the channel's registration token.
func (x *Channel[T]) Reregister(p *Poll, token Token) error {
	return x.source.Reregister(p, token)
}

// Unregister removes the channel's wakeup source from the poll.
func (x *Channel[T]) Unregister(p *Poll) error {
	return x.source.Unregister(p)
}

// Close destroys the receiving end: buffered messages are discarded, blocked
// bounded senders wake and fail, and subsequent sends report disconnection.
// Unregister the channel (or remove it from its loop) before closing.
// Idempotent.
func (x *Channel[T]) Close() error {
	if x.closed.Swap(true) {
		return nil
	}
	x.queue.CloseRecv()
	return x.source.Close()
}

// New creates an unbounded channel, returning the initial sending handle and
// the receiving end to register with a loop. Sends never block.
func New[T any]() (*Sender[T], *Channel[T], error) {
	ping, source, err := NewPing()
	if err != nil {
		return nil, nil, err
	}
	queue := mpsc.New[T]()
	queue.AddSender()
	return &Sender[T]{queue: queue, ping: ping},
		&Channel[T]{queue: queue, source: source},
		nil
}

// NewSync creates a bounded channel buffering at most capacity messages,
// returning the initial sending handle and the receiving end to register
// with a loop. Panics if capacity is less than 1: a zero-capacity rendezvous
// cannot work with a consumer that only drains on wakeups.
func NewSync[T any](capacity int) (*SyncSender[T], *Channel[T], error) {
	if capacity < 1 {
		panic(`pollchan: capacity must be at least 1`)
	}
	ping, source, err := NewPing()
	if err != nil {
		return nil, nil, err
	}
	queue := mpsc.NewBounded[T](capacity)
	queue.AddSender()
	return &SyncSender[T]{queue: queue, ping: ping},
		&Channel[T]{queue: queue, source: source},
		nil
}
