package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ashureev/focusforge/internal/domain"
	"github.com/ashureev/focusforge/internal/vision"
)

// Replay serves a fixed sequence of frames, one every interval.
type Replay struct {
	frames   []vision.Frame
	interval time.Duration
	denied   string

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// ReplayOption configures a Replay source.
type ReplayOption func(*Replay)

// WithDenied makes Initialize fail as if camera access was refused.
func WithDenied(reason string) ReplayOption {
	return func(r *Replay) {
		r.denied = reason
	}
}

// NewReplay creates a source that replays frames.
func NewReplay(frames []vision.Frame, interval time.Duration, opts ...ReplayOption) *Replay {
	r := &Replay{frames: frames, interval: interval}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Initialize starts replaying. The stream closes after the last frame or on Stop.
func (r *Replay) Initialize(ctx context.Context) (Stream, error) {
	if r.denied != "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrCaptureUnavailable, r.denied)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return nil, fmt.Errorf("%w: device busy", domain.ErrCaptureUnavailable)
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream := &chanStream{frames: make(chan vision.Frame)}
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done

	go func() {
		defer close(done)
		defer close(stream.frames)
		for i, f := range r.frames {
			if i > 0 && r.interval > 0 {
				select {
				case <-time.After(r.interval):
				case <-ctx.Done():
					return
				}
			}
			select {
			case stream.frames <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	return stream, nil
}

// Stop ends the replay and waits for the feeder to exit.
func (r *Replay) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// HasPermission reports false for denied replays.
func (r *Replay) HasPermission() bool {
	return r.denied == ""
}
