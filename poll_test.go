package pollchan

import (
	"errors"
	"os"
	"testing"
	"time"
)

func newTestPoll(t *testing.T) *Poll {
	t.Helper()
	poll, err := newPoll()
	if err != nil {
		t.Fatalf("newPoll: %v", err)
	}
	t.Cleanup(func() { _ = poll.close() })
	return poll
}

func newTestPipe(t *testing.T) (r, w *os.File) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	t.Cleanup(func() {
		_ = r.Close()
		_ = w.Close()
	})
	return r, w
}

func TestPoll_PipeReadReadiness(t *testing.T) {
	poll := newTestPoll(t)
	r, w := newTestPipe(t)
	rfd := int(r.Fd())

	const token = Token(7)
	if err := poll.Register(rfd, ReadyRead, token); err != nil {
		t.Fatalf("Register: %v", err)
	}

	events := make([]pollEvent, 8)

	n, err := poll.wait(events, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if n != 0 {
		t.Fatalf("wait on idle pipe = %d events, want 0", n)
	}

	if _, err := w.Write([]byte{'x'}); err != nil {
		t.Fatal(err)
	}
	n, err = poll.wait(events, time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if n != 1 || events[0].token != token || events[0].ready&ReadyRead == 0 {
		t.Fatalf("wait = %d events, %+v", n, events[:n])
	}

	// Level-triggered: readiness persists until the data is consumed.
	n, err = poll.wait(events, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("second wait = %d events, want 1 (pending data)", n)
	}

	var buf [1]byte
	if _, err := r.Read(buf[:]); err != nil {
		t.Fatal(err)
	}
	n, err = poll.wait(events, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("wait after drain = %d events, want 0", n)
	}

	if err := poll.Unregister(rfd); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
}

func TestPoll_WriteReadiness(t *testing.T) {
	poll := newTestPoll(t)
	_, w := newTestPipe(t)
	wfd := int(w.Fd())

	if err := poll.Register(wfd, ReadyWrite, Token(3)); err != nil {
		t.Fatal(err)
	}

	// An empty pipe is immediately writable.
	events := make([]pollEvent, 4)
	n, err := poll.wait(events, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || events[0].token != Token(3) || events[0].ready&ReadyWrite == 0 {
		t.Fatalf("wait = %d events, %+v", n, events[:n])
	}
}

func TestPoll_PeerCloseReportsHangup(t *testing.T) {
	poll := newTestPoll(t)
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if err := poll.Register(int(r.Fd()), ReadyRead, Token(1)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	events := make([]pollEvent, 4)
	n, err := poll.wait(events, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || events[0].ready&ReadyHangup == 0 {
		t.Fatalf("wait = %d events, %+v, want hangup", n, events[:n])
	}
}

func TestPoll_ReregisterChangesTokenAndInterest(t *testing.T) {
	poll := newTestPoll(t)
	r, w := newTestPipe(t)
	rfd := int(r.Fd())

	if err := poll.Register(rfd, ReadyRead, Token(1)); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte{'x'}); err != nil {
		t.Fatal(err)
	}

	events := make([]pollEvent, 4)
	n, err := poll.wait(events, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || events[0].token != Token(1) {
		t.Fatalf("wait = %d events, %+v", n, events[:n])
	}

	// Same fd, new token: pending readiness is reported under the new key.
	if err := poll.Reregister(rfd, ReadyRead, Token(2)); err != nil {
		t.Fatalf("Reregister: %v", err)
	}
	n, err = poll.wait(events, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || events[0].token != Token(2) {
		t.Fatalf("wait after Reregister = %d events, %+v", n, events[:n])
	}

	// Clearing interest silences the fd despite pending data.
	if err := poll.Reregister(rfd, 0, Token(2)); err != nil {
		t.Fatal(err)
	}
	n, err = poll.wait(events, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("wait without read interest = %d events, %+v", n, events[:n])
	}
}

func TestPoll_MultipleFDs(t *testing.T) {
	poll := newTestPoll(t)

	r1, w1 := newTestPipe(t)
	r2, w2 := newTestPipe(t)

	if err := poll.Register(int(r1.Fd()), ReadyRead, Token(10)); err != nil {
		t.Fatal(err)
	}
	if err := poll.Register(int(r2.Fd()), ReadyRead, Token(20)); err != nil {
		t.Fatal(err)
	}

	if _, err := w1.Write([]byte{'a'}); err != nil {
		t.Fatal(err)
	}
	if _, err := w2.Write([]byte{'b'}); err != nil {
		t.Fatal(err)
	}

	events := make([]pollEvent, 8)
	n, err := poll.wait(events, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	seen := make(map[Token]Readiness, n)
	for _, ev := range events[:n] {
		seen[ev.token] = ev.ready
	}
	for _, token := range []Token{10, 20} {
		if seen[token]&ReadyRead == 0 {
			t.Fatalf("token %d not reported readable: %v", token, seen)
		}
	}
}

func TestPoll_RegistrationErrors(t *testing.T) {
	poll := newTestPoll(t)
	r, _ := newTestPipe(t)
	rfd := int(r.Fd())

	if err := poll.Register(rfd, ReadyRead, Token(1)); err != nil {
		t.Fatal(err)
	}
	if err := poll.Register(rfd, ReadyRead, Token(2)); !errors.Is(err, ErrFDAlreadyRegistered) {
		t.Fatalf("duplicate Register = %v, want ErrFDAlreadyRegistered", err)
	}

	other, _ := newTestPipe(t)
	if err := poll.Unregister(int(other.Fd())); !errors.Is(err, ErrFDNotRegistered) {
		t.Fatalf("Unregister unknown fd = %v, want ErrFDNotRegistered", err)
	}
	if err := poll.Reregister(int(other.Fd()), ReadyRead, Token(3)); !errors.Is(err, ErrFDNotRegistered) {
		t.Fatalf("Reregister unknown fd = %v, want ErrFDNotRegistered", err)
	}

	if err := poll.Register(-1, ReadyRead, Token(4)); !errors.Is(err, ErrFDOutOfRange) {
		t.Fatalf("Register(-1) = %v, want ErrFDOutOfRange", err)
	}
	if err := poll.Unregister(-1); !errors.Is(err, ErrFDOutOfRange) {
		t.Fatalf("Unregister(-1) = %v, want ErrFDOutOfRange", err)
	}
	if err := poll.Reregister(-1, ReadyRead, Token(5)); !errors.Is(err, ErrFDOutOfRange) {
		t.Fatalf("Reregister(-1) = %v, want ErrFDOutOfRange", err)
	}
}

func TestPoll_Closed(t *testing.T) {
	poll, err := newPoll()
	if err != nil {
		t.Fatal(err)
	}

	if err := poll.close(); err != nil {
		t.Fatal(err)
	}
	if err := poll.close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	r, _ := newTestPipe(t)
	if err := poll.Register(int(r.Fd()), ReadyRead, Token(1)); !errors.Is(err, ErrPollClosed) {
		t.Fatalf("Register on closed poll = %v, want ErrPollClosed", err)
	}
	if _, err := poll.wait(make([]pollEvent, 1), 0); !errors.Is(err, ErrPollClosed) {
		t.Fatalf("wait on closed poll = %v, want ErrPollClosed", err)
	}
}

func TestPoll_WaitTimeout(t *testing.T) {
	poll := newTestPoll(t)

	start := time.Now()
	n, err := poll.wait(make([]pollEvent, 1), 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("wait = %d events, want 0", n)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("wait returned after %v, want ~50ms", elapsed)
	}
}
