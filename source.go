package pollchan

// Readiness is a bitmask describing which I/O conditions a file descriptor
// reported.
type Readiness uint32

const (
	// ReadyRead indicates the file descriptor is ready for reading.
	ReadyRead Readiness = 1 << iota
	// ReadyWrite indicates the file descriptor is ready for writing.
	ReadyWrite
	// ReadyError indicates an error condition on the file descriptor.
	ReadyError
	// ReadyHangup indicates the peer closed its end of the connection.
	ReadyHangup
)

// Token identifies a source registration within a [Loop]. Tokens are
// assigned by [Insert] and passed back to the source on every dispatch.
type Token uint64

// PostAction is the directive a source returns from ProcessEvents, telling
// the loop what to do with the registration.
type PostAction int

const (
	// PostActionContinue leaves the source registered as-is.
	PostActionContinue PostAction = iota
	// PostActionRemove unregisters and forgets the source.
	PostActionRemove
)

// Source is an event source that can be registered with a [Loop]. E is the
// type of event the source produces; the loop delivers events through the
// callback bound at insertion time.
//
// Register, Reregister, and Unregister manage the source's file-descriptor
// interest on the given [Poll]. ProcessEvents is invoked by the loop
// whenever a registered descriptor reports readiness for the source's
// token; implementations consume whatever is pending and invoke the
// callback zero or more times. Sources must tolerate spurious calls where
// nothing is actually pending.
//
// All four methods are called from the loop's dispatch goroutine only.
type Source[E any] interface {
	Register(p *Poll, token Token) error
	Reregister(p *Poll, token Token) error
	Unregister(p *Poll) error
	ProcessEvents(r Readiness, token Token, fn func(E)) (PostAction, error)
}
