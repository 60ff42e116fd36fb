package pollchan

import (
	"errors"

	"github.com/joeycumines/logiface"
)

// defaultPollEventBufferSize is the per-dispatch readiness batch size.
const defaultPollEventBufferSize = 256

// loopOptions holds configuration options for Loop creation.
type loopOptions struct {
	logger              *logiface.Logger[logiface.Event]
	pollEventBufferSize int
}

// LoopOption configures a Loop instance.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

// loopOptionImpl implements LoopOption.
type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithLogger attaches a logger to the Loop, used for source lifecycle and
// dispatch diagnostics. A nil logger disables logging, which is the default.
func WithLogger(logger *logiface.Logger[logiface.Event]) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithPollEventBufferSize sets how many readiness events a single dispatch
// cycle can collect. The default is 256. Values below 1 are rejected.
func WithPollEventBufferSize(size int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if size < 1 {
			return errors.New("pollchan: poll event buffer size must be at least 1")
		}
		opts.pollEventBufferSize = size
		return nil
	}}
}

// resolveLoopOptions applies LoopOption instances to loopOptions.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{
		pollEventBufferSize: defaultPollEventBufferSize,
	}
	for _, opt := range opts {
		if opt == nil {
			continue // skip nil options gracefully
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
