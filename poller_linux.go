//go:build linux

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
// 100M is enough for production with ulimit -n > 1M.
const maxFDLimit = 100000000

// fdEntry stores per-fd registration state.
type fdEntry struct {
	token  Token
	events Readiness
	active bool
}

// poller manages fd registration using epoll (Linux).
//
// The fds table maps fd to its registration under an RWMutex held only
// briefly; the epoll_wait syscall itself runs without any lock. eventBuf is
// touched only by wait, which belongs to a single goroutine.
type poller struct {
	epfd     int32
	eventBuf [256]unix.EpollEvent
	fds      []fdEntry
	fdMu     sync.RWMutex
	closed   atomic.Bool
}

func (p *poller) init() error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	p.epfd = int32(epfd)
	p.fds = make([]fdEntry, initialFDs)
	return nil
}

func (p *poller) close() error {
	if p.closed.Swap(true) {
		return nil
	}
	if p.epfd > 0 {
		return unix.Close(int(p.epfd))
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
	p.fdMu.Unlock()

	ev := &unix.EpollEvent{
		Events: readinessToEpoll(events),
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		p.fdMu.Lock()
		p.fds[fd] = fdEntry{} // rollback
		p.fdMu.Unlock()
		return err
	}
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
	p.fds[fd] = fdEntry{token: token, events: events, active: true}
	p.fdMu.Unlock()

	ev := &unix.EpollEvent{
		Events: readinessToEpoll(events),
		Fd:     int32(fd),
	}
	return unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_MOD, fd, ev)
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
	p.fds[fd] = fdEntry{}
	p.fdMu.Unlock()

	return unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_DEL, fd, nil)
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

	n, err := unix.EpollWait(int(p.epfd), p.eventBuf[:max], timeoutMs(timeout))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	k := 0
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Fd)
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
		out[k] = pollEvent{token: entry.token, ready: epollToReadiness(p.eventBuf[i].Events)}
		k++
	}
	return k, nil
}

// timeoutMs converts a Duration to epoll_wait milliseconds: negative blocks
// indefinitely, and positive sub-millisecond values round up rather than
// degrading to a busy poll.
func timeoutMs(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	ms := int(timeout / time.Millisecond)
	if ms == 0 && timeout > 0 {
		ms = 1
	}
	return ms
}

func readinessToEpoll(events Readiness) uint32 {
	var epollEvents uint32
	if events&ReadyRead != 0 {
		epollEvents |= unix.EPOLLIN
	}
	if events&ReadyWrite != 0 {
		epollEvents |= unix.EPOLLOUT
	}
	return epollEvents
}

func epollToReadiness(epollEvents uint32) Readiness {
	var events Readiness
	if epollEvents&unix.EPOLLIN != 0 {
		events |= ReadyRead
	}
	if epollEvents&unix.EPOLLOUT != 0 {
		events |= ReadyWrite
	}
	if epollEvents&unix.EPOLLERR != 0 {
		events |= ReadyError
	}
	if epollEvents&unix.EPOLLHUP != 0 {
		events |= ReadyHangup
	}
	return events
}
