package pollchan

import (
	"errors"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrPingClosed is returned by [Ping.Signal] once the receiving end of the
// wake pair is gone, and by ping-source operations after Close.
var ErrPingClosed = errors.New("pollchan: ping closed")

// wakePair owns the platform wake mechanism: a single eventfd on Linux, a
// self-pipe on Darwin. The descriptors are shared by every Ping clone (write
// end) and the PingSource (read end), and are released only once the source
// is closed and no clones remain.
type wakePair struct {
	mu         sync.Mutex
	readFD     int
	writeFD    int
	pings      int // live Ping clones
	sourceOpen bool
	released   bool
}

func newWakePair() (*wakePair, error) {
	readFD, writeFD, err := createWakeFD()
	if err != nil {
		return nil, err
	}
	return &wakePair{
		readFD:     readFD,
		writeFD:    writeFD,
		pings:      1,
		sourceOpen: true,
	}, nil
}

// signal makes the read end report readiness. Multiple signals coalesce:
// an EAGAIN from a saturated eventfd counter or a full pipe means readiness
// is already pending, which is success.
func (w *wakePair) signal() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.released || !w.sourceOpen {
		return ErrPingClosed
	}

	// Native endianness: eventfd expects a host-order uint64, and the pipe
	// backend does not care about content.
	var one uint64 = 1
	buf := (*[8]byte)(unsafe.Pointer(&one))[:]

	if _, err := unix.Write(w.writeFD, buf); err != nil {
		if err == unix.EAGAIN {
			return nil
		}
		return err
	}
	return nil
}

// drain consumes all pending signals, reporting whether there were any.
func (w *wakePair) drain() (signaled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.released {
		return false
	}
	var buf [8]byte
	for {
		n, err := unix.Read(w.readFD, buf[:])
		if n > 0 {
			signaled = true
		}
		if err != nil || n <= 0 {
			break
		}
	}
	return signaled
}

// sourceFD returns the read end for registration with a Poll.
func (w *wakePair) sourceFD() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.released || !w.sourceOpen {
		return -1, ErrPingClosed
	}
	return w.readFD, nil
}

func (w *wakePair) addPing() {
	w.mu.Lock()
	w.pings++
	w.mu.Unlock()
}

func (w *wakePair) removePing() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pings <= 0 {
		panic(`pollchan: ping refcount underflow`)
	}
	w.pings--
	return w.maybeReleaseLocked()
}

func (w *wakePair) closeSource() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.sourceOpen {
		return nil
	}
	w.sourceOpen = false
	return w.maybeReleaseLocked()
}

// maybeReleaseLocked closes the descriptors once nothing references them.
// On Linux read and write are the same eventfd and are closed once.
func (w *wakePair) maybeReleaseLocked() error {
	if w.released || w.pings > 0 || w.sourceOpen {
		return nil
	}
	w.released = true
	err := unix.Close(w.readFD)
	if w.writeFD != w.readFD {
		if cerr := unix.Close(w.writeFD); err == nil {
			err = cerr
		}
	}
	w.readFD, w.writeFD = -1, -1
	return err
}

// Ping is a clonable handle that makes its paired [PingSource] report
// readiness. Signal is safe to call from any goroutine and coalesces: any
// number of signals before the next drain produce a single wakeup.
//
// Create pairs with [NewPing].
type Ping struct {
	_      [0]func()
	pair   *wakePair
	closed atomic.Bool
}

// Signal wakes the paired source. Returns ErrPingClosed once this handle or
// the receiving end is closed; other errors are I/O failures from the wake
// descriptor, passed through unchanged.
func (x *Ping) Signal() error {
	if x.closed.Load() {
		return ErrPingClosed
	}
	return x.pair.signal()
}

// Clone returns a new independent handle to the same wake pair. Panics if
// this handle is already closed.
func (x *Ping) Clone() *Ping {
	if x.closed.Load() {
		panic(`pollchan: clone of closed ping`)
	}
	x.pair.addPing()
	return &Ping{pair: x.pair}
}

// Close releases this handle. The underlying descriptors are freed once the
// paired source and every clone are closed. Idempotent.
func (x *Ping) Close() error {
	if x.closed.Swap(true) {
		return nil
	}
	return x.pair.removePing()
}

// PingSource is the receiving end of a [Ping]: an event source that becomes
// ready whenever any clone of the paired handle signals, however many times,
// and produces at most one event per drain.
//
// PingSource implements [Source] with struct{} events.
type PingSource struct {
	_    [0]func()
	pair *wakePair
}

// Register registers the wake descriptor for read readiness.
func (x *PingSource) Register(p *Poll, token Token) error {
	fd, err := x.pair.sourceFD()
	if err != nil {
		return err
	}
	return p.Register(fd, ReadyRead, token)
}

// Reregister updates the registration token.
func (x *PingSource) Reregister(p *Poll, token Token) error {
	fd, err := x.pair.sourceFD()
	if err != nil {
		return err
	}
	return p.Reregister(fd, ReadyRead, token)
}

// Unregister removes the wake descriptor from monitoring.
func (x *PingSource) Unregister(p *Poll) error {
	fd, err := x.pair.sourceFD()
	if err != nil {
		return err
	}
	return p.Unregister(fd)
}

// ProcessEvents drains pending signals and invokes fn once if there were
// any. Spurious calls with nothing pending invoke nothing. The source always
// stays registered.
func (x *PingSource) ProcessEvents(_ Readiness, _ Token, fn func(struct{})) (PostAction, error) {
	if x.pair.drain() {
		fn(struct{}{})
	}
	return PostActionContinue, nil
}

// Close releases the receiving end. Subsequent signals on paired handles
// return ErrPingClosed; the descriptors are freed once every handle is also
// closed. Idempotent.
func (x *PingSource) Close() error {
	return x.pair.closeSource()
}

// NewPing creates a connected wakeup pair: a signal handle and the event
// source observing it.
func NewPing() (*Ping, *PingSource, error) {
	pair, err := newWakePair()
	if err != nil {
		return nil, nil, err
	}
	return &Ping{pair: pair}, &PingSource{pair: pair}, nil
}
