package pollchan

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

var (
	// ErrLoopClosed is returned by loop operations after Close.
	ErrLoopClosed = errors.New("pollchan: loop closed")
	// ErrUnknownToken is returned when a token does not name a registered
	// source.
	ErrUnknownToken = errors.New("pollchan: unknown token")
)

// sourceEntry binds a registered source's typed callback into the loop's
// untyped dispatch path.
type sourceEntry struct {
	process    func(Readiness, Token) (PostAction, error)
	reregister func(*Poll, Token) error
	unregister func(*Poll) error
}

// Loop is a single-goroutine readiness dispatch loop. Registered sources
// report readiness through the platform poller; each Dispatch cycle waits
// once and hands every reported event to its source.
//
// Insert, Remove, Reregister, Dispatch, Run, and Close belong to the
// goroutine driving the loop (callbacks may insert and remove sources during
// dispatch). Only Stop and Wake are safe from other goroutines.
type Loop struct {
	_         [0]func()
	poll      *Poll
	logger    *logiface.Logger[logiface.Event]
	sources   map[Token]*sourceEntry
	nextToken Token
	events    []pollEvent
	wake      *Ping
	wakeSrc   *PingSource
	stopped   atomic.Bool
	closed    atomic.Bool
}

// NewLoop creates a loop with its platform poller and an internal wakeup
// source backing [Loop.Stop], [Loop.Wake], and context cancellation.
func NewLoop(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	poll, err := newPoll()
	if err != nil {
		return nil, err
	}

	l := &Loop{
		poll:      poll,
		logger:    cfg.logger,
		sources:   make(map[Token]*sourceEntry),
		nextToken: 1,
		events:    make([]pollEvent, cfg.pollEventBufferSize),
	}

	wake, wakeSrc, err := NewPing()
	if err != nil {
		_ = poll.close()
		return nil, err
	}
	l.wake, l.wakeSrc = wake, wakeSrc

	if _, err := Insert(l, wakeSrc, func(struct{}) {}); err != nil {
		_ = wake.Close()
		_ = wakeSrc.Close()
		_ = poll.close()
		return nil, err
	}

	return l, nil
}

// Insert registers src with the loop and binds fn as its event callback.
// The returned token identifies the registration for [Loop.Remove] and
// [Loop.Reregister].
//
// Insert is a function rather than a method so each source keeps its own
// event type.
func Insert[E any](l *Loop, src Source[E], fn func(E)) (Token, error) {
	if l.closed.Load() {
		return 0, ErrLoopClosed
	}

	token := l.nextToken
	if err := src.Register(l.poll, token); err != nil {
		return 0, err
	}
	l.nextToken++
	l.sources[token] = &sourceEntry{
		process: func(r Readiness, t Token) (PostAction, error) {
			return src.ProcessEvents(r, t, fn)
		},
		reregister: src.Reregister,
		unregister: src.Unregister,
	}

	l.logger.Trace().
		Uint64("token", uint64(token)).
		Log("source registered")

	return token, nil
}

// Remove unregisters the source identified by token and forgets it. The
// source itself is not closed.
func (l *Loop) Remove(token Token) error {
	entry, ok := l.sources[token]
	if !ok {
		return ErrUnknownToken
	}
	delete(l.sources, token)

	l.logger.Trace().
		Uint64("token", uint64(token)).
		Log("source removed")

	return entry.unregister(l.poll)
}

// Reregister re-applies the registration of the source identified by token,
// e.g. after the source changed which descriptor or interest it needs.
func (l *Loop) Reregister(token Token) error {
	entry, ok := l.sources[token]
	if !ok {
		return ErrUnknownToken
	}
	return entry.reregister(l.poll, token)
}

// Dispatch runs one poll/dispatch cycle: wait up to timeout for readiness,
// then hand each reported event to its source. A negative timeout blocks
// until readiness; zero polls without blocking.
//
// Source errors abort the cycle and are returned unchanged. A source
// returning [PostActionRemove] is unregistered after its callback returns.
func (l *Loop) Dispatch(timeout time.Duration) error {
	if l.closed.Load() {
		return ErrLoopClosed
	}

	n, err := l.poll.wait(l.events, timeout)
	if err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		ev := l.events[i]
		entry, ok := l.sources[ev.token]
		if !ok {
			// Removed by an earlier callback in this same cycle.
			continue
		}

		action, perr := entry.process(ev.ready, ev.token)
		if perr != nil {
			l.logger.Err().
				Uint64("token", uint64(ev.token)).
				Err(perr).
				Log("source dispatch failed")
			return perr
		}
		if action == PostActionRemove {
			if rerr := l.Remove(ev.token); rerr != nil && !errors.Is(rerr, ErrUnknownToken) {
				return rerr
			}
		}
	}
	return nil
}

// Run dispatches until Stop is called or ctx ends, whichever comes first,
// returning nil or the context error respectively. The stop flag is consumed
// so the loop can be run again.
func (l *Loop) Run(ctx context.Context) error {
	if l.closed.Load() {
		return ErrLoopClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Wake the loop when the context ends so a blocked Dispatch unwinds
	// promptly.
	watchStop := make(chan struct{})
	watchExit := make(chan struct{})
	go func() {
		defer close(watchExit)
		select {
		case <-ctx.Done():
			_ = l.wake.Signal()
		case <-watchStop:
		}
	}()
	defer func() {
		close(watchStop)
		<-watchExit
	}()

	for {
		if l.stopped.Swap(false) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.Dispatch(-1); err != nil {
			return err
		}
	}
}

// Stop makes a concurrent [Loop.Run] return after its current cycle. Safe
// from any goroutine. If the loop is not running, the next Run consumes the
// flag and returns immediately.
func (l *Loop) Stop() {
	l.stopped.Store(true)
	if !l.closed.Load() {
		_ = l.wake.Signal()
	}
	l.logger.Trace().Log("loop stop requested")
}

// Wake interrupts a blocked [Loop.Dispatch] without stopping the loop. Safe
// from any goroutine.
func (l *Loop) Wake() error {
	if l.closed.Load() {
		return ErrLoopClosed
	}
	l.logger.Trace().Log("loop wake requested")
	return l.wake.Signal()
}

// Close unregisters every remaining source, releases the internal wakeup
// pair, and closes the poller. Registered sources are not closed, only
// unregistered. Idempotent.
func (l *Loop) Close() error {
	if l.closed.Swap(true) {
		return nil
	}

	var err error
	for token, entry := range l.sources {
		delete(l.sources, token)
		if uerr := entry.unregister(l.poll); uerr != nil && err == nil {
			err = uerr
		}
	}

	if cerr := l.wake.Close(); err == nil {
		err = cerr
	}
	if cerr := l.wakeSrc.Close(); err == nil {
		err = cerr
	}
	if cerr := l.poll.close(); err == nil {
		err = cerr
	}

	l.logger.Trace().Log("loop closed")

	return err
}
