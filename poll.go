package pollchan

import (
	"errors"
	"time"
)

var (
	ErrPollClosed          = errors.New("pollchan: poll closed")
	ErrFDOutOfRange        = errors.New("pollchan: fd out of range (max 100000000)")
	ErrFDAlreadyRegistered = errors.New("pollchan: fd already registered")
	ErrFDNotRegistered     = errors.New("pollchan: fd not registered")
)

// pollEvent is one readiness report produced by a wait.
type pollEvent struct {
	token Token
	ready Readiness
}

// Poll is the file-descriptor registration surface handed to
// [Source.Register] and friends. It wraps the platform poller (epoll on
// Linux, kqueue on Darwin).
//
// Registration methods are safe for concurrent use; waiting belongs to the
// loop's dispatch goroutine.
type Poll struct {
	_      [0]func()
	poller poller
}

func newPoll() (*Poll, error) {
	p := &Poll{}
	if err := p.poller.init(); err != nil {
		return nil, err
	}
	return p, nil
}

// Register adds fd with the given interest, keyed by token.
func (p *Poll) Register(fd int, interest Readiness, token Token) error {
	return p.poller.add(fd, interest, token)
}

// Reregister updates the interest and token of an already registered fd.
func (p *Poll) Reregister(fd int, interest Readiness, token Token) error {
	return p.poller.mod(fd, interest, token)
}

// Unregister removes fd from monitoring.
func (p *Poll) Unregister(fd int) error {
	return p.poller.del(fd)
}

// wait blocks until readiness is available or the timeout elapses, filling
// events and returning the count. A negative timeout blocks indefinitely;
// zero polls without blocking. Interrupted waits report zero events.
func (p *Poll) wait(events []pollEvent, timeout time.Duration) (int, error) {
	return p.poller.wait(events, timeout)
}

func (p *Poll) close() error {
	return p.poller.close()
}
