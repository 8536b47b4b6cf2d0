package tabs

import "context"

// Signal is the cancellation handle for one generation attempt.
type Signal struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSignal derives a cancellable signal from parent.
func NewSignal(parent context.Context) *Signal {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Signal{ctx: ctx, cancel: cancel}
}

// Context returns the context providers should observe.
func (s *Signal) Context() context.Context {
	return s.ctx
}

// Cancel aborts the attempt. Safe to call more than once.
func (s *Signal) Cancel() {
	s.cancel()
}

// Cancelled reports whether Cancel was called or the parent context ended.
func (s *Signal) Cancelled() bool {
	return s.ctx.Err() != nil
}
