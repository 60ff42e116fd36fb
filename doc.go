// Package pollchan provides a multi-producer single-consumer channel whose
// receiving end is a pollable event source, bridging goroutine-style message
// passing into readiness-based event loops.
//
// # Channels
//
// [New] creates an unbounded channel: a clonable [Sender] whose Send never
// blocks, paired with a [Channel] to register with a loop. [NewSync] creates
// a bounded variant whose [SyncSender.Send] blocks at capacity while
// [SyncSender.TrySend] fails fast. Every send signals the channel's wakeup
// descriptor; the loop dispatches the channel, which drains all pending
// messages in one pass and delivers them to the consumer callback as
// [Event] values. Closing the last sending handle is delivered as a closed
// event after any buffered messages.
//
// # Event loop
//
// [NewLoop] builds a single-goroutine dispatch loop over the platform poller
// (epoll on Linux, kqueue on Darwin). [Insert] registers any [Source];
// [Loop.Dispatch] runs one wait/dispatch cycle and [Loop.Run] cycles until
// [Loop.Stop] or context cancellation. The standalone wakeup primitive is
// available directly via [NewPing].
//
// # Thread safety
//
// Sending handles and [Ping] are safe for concurrent use from any goroutine
// and may be cloned freely. The receiving [Channel] and the [Loop] belong to
// the single goroutine driving dispatch; only [Loop.Stop] and [Loop.Wake]
// may be called from elsewhere.
package pollchan
