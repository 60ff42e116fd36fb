//go:build darwin

package pollchan

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// Initial size of the fd table, direct-indexed by fd.
const initialFDs = 65536

// maxFDLimit is the maximum fd value supported by dynamic growth.
const maxFDLimit = 100000000

// fdEntry stores per-fd registration state.
type fdEntry struct {
	token  Token
	events Readiness
	active bool
}

// poller manages fd registration using kqueue (Darwin).
//
// The fds table maps fd to its registration under an RWMutex. Unlike the
// epoll backend, kevent changelist updates happen while holding the lock to
// avoid racing concurrent registration changes for the same fd. eventBuf is
// touched only by wait, which belongs to a single goroutine.
type poller struct {
	kq       int32
	eventBuf [256]unix.Kevent_t
	fds      []fdEntry
	fdMu     sync.RWMutex
	closed   atomic.Bool
}

func (p *poller) init() error {
	kq, err := unix.Kqueue()
	if err != nil {
		return err
	}
	unix.CloseOnExec(kq)
	p.kq = int32(kq)
	p.fds = make([]fdEntry, initialFDs)
	return nil
}

func (p *poller) close() error {
	if p.closed.Swap(true) {
		return nil
	}
	if p.kq > 0 {
		return unix.Close(int(p.kq))
	}
	return nil
}

func (p *poller) add(fd int, events Readiness, token Token) error {
	if p.closed.Load() {
		return ErrPollClosed
	}
	if fd < 0 || fd >= maxFDLimit {
		return ErrFDOutOfRange
	}

	p.fdMu.Lock()
	if fd >= len(p.fds) {
		newSize := fd*2 + 1
		if newSize > maxFDLimit {
			newSize = maxFDLimit + 1
		}
		newFds := make([]fdEntry, newSize)
		copy(newFds, p.fds)
		p.fds = newFds
	}
	if p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrFDAlreadyRegistered
	}
	p.fds[fd] = fdEntry{token: token, events: events, active: true}

	kevents := readinessToKevents(fd, events, unix.EV_ADD|unix.EV_ENABLE)
	if len(kevents) > 0 {
		if _, err := unix.Kevent(int(p.kq), kevents, nil, nil); err != nil {
			p.fds[fd] = fdEntry{} // rollback
			p.fdMu.Unlock()
			return err
		}
	}
	p.fdMu.Unlock()
	return nil
}

func (p *poller) mod(fd int, events Readiness, token Token) error {
	if fd < 0 {
		return ErrFDOutOfRange
	}

	p.fdMu.Lock()
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrFDNotRegistered
	}
	oldEvents := p.fds[fd].events
	p.fds[fd] = fdEntry{token: token, events: events, active: true}

	if removed := oldEvents &^ events; removed != 0 {
		delKevents := readinessToKevents(fd, removed, unix.EV_DELETE)
		if len(delKevents) > 0 {
			unix.Kevent(int(p.kq), delKevents, nil, nil) // ignore errors on delete
		}
	}
	if added := events &^ oldEvents; added != 0 {
		addKevents := readinessToKevents(fd, added, unix.EV_ADD|unix.EV_ENABLE)
		if len(addKevents) > 0 {
			if _, err := unix.Kevent(int(p.kq), addKevents, nil, nil); err != nil {
				p.fdMu.Unlock()
				return err
			}
		}
	}
	p.fdMu.Unlock()
	return nil
}

func (p *poller) del(fd int) error {
	if fd < 0 {
		return ErrFDOutOfRange
	}

	p.fdMu.Lock()
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrFDNotRegistered
	}
	events := p.fds[fd].events

	kevents := readinessToKevents(fd, events, unix.EV_DELETE)
	if len(kevents) > 0 {
		unix.Kevent(int(p.kq), kevents, nil, nil) // ignore errors on delete
	}
	p.fds[fd] = fdEntry{}
	p.fdMu.Unlock()
	return nil
}

// wait polls for readiness, translating fd-keyed kernel events into
// token-keyed pollEvents. Events for fds unregistered since the kernel
// queued them are dropped.
func (p *poller) wait(out []pollEvent, timeout time.Duration) (int, error) {
	if p.closed.Load() {
		return 0, ErrPollClosed
	}

	max := len(out)
	if max > len(p.eventBuf) {
		max = len(p.eventBuf)
	}

	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(int64(timeout))
		ts = &t
	}

	n, err := unix.Kevent(int(p.kq), nil, p.eventBuf[:max], ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	k := 0
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Ident)
		if fd < 0 {
			continue
		}

		p.fdMu.RLock()
		var entry fdEntry
		if fd < len(p.fds) {
			entry = p.fds[fd]
		}
		p.fdMu.RUnlock()

		if !entry.active {
			continue
		}
		out[k] = pollEvent{token: entry.token, ready: keventToReadiness(&p.eventBuf[i])}
		k++
	}
	return k, nil
}

func readinessToKevents(fd int, events Readiness, flags uint16) []unix.Kevent_t {
	var kevents []unix.Kevent_t
	if events&ReadyRead != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_READ,
			Flags:  flags,
		})
	}
	if events&ReadyWrite != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_WRITE,
			Flags:  flags,
		})
	}
	return kevents
}

func keventToReadiness(kev *unix.Kevent_t) Readiness {
	var events Readiness
	switch kev.Filter {
	case unix.EVFILT_READ:
		events |= ReadyRead
	case unix.EVFILT_WRITE:
		events |= ReadyWrite
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		events |= ReadyError
	}
	if kev.Flags&unix.EV_EOF != 0 {
		events |= ReadyHangup
	}
	return events
}
