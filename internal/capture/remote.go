package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/focusforge/internal/domain"
	"github.com/ashureev/focusforge/internal/vision"
)

// DefaultPermissionTimeout bounds how long Initialize waits for the browser
// to grant camera access.
const DefaultPermissionTimeout = 30 * time.Second

var errStopped = errors.New("capture stopped while awaiting permission")

// Requester asks the remote client to open its camera.
type Requester func(ctx context.Context) error

// Remote is a camera that lives in the browser. Frames are pushed by the
// transport; permission is granted or denied by client messages.
type Remote struct {
	request Requester
	timeout time.Duration
	logger  *slog.Logger

	mu         sync.Mutex
	permission bool
	pending    chan error
	stream     *chanStream
	dropped    int
}

// NewRemote creates a remote capture source.
func NewRemote(request Requester, timeout time.Duration, logger *slog.Logger) *Remote {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultPermissionTimeout
	}
	return &Remote{request: request, timeout: timeout, logger: logger}
}

// Initialize requests the camera and waits for the client's answer.
func (r *Remote) Initialize(ctx context.Context) (Stream, error) {
	r.mu.Lock()
	if r.stream != nil || r.pending != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: device busy", domain.ErrCaptureUnavailable)
	}
	pending := make(chan error, 1)
	r.pending = pending
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if r.request != nil {
		if err := r.request(ctx); err != nil {
			r.clearPending(pending)
			return nil, fmt.Errorf("%w: request camera: %v", domain.ErrCaptureUnavailable, err)
		}
	}

	select {
	case err := <-pending:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		r.clearPending(pending)
		return nil, fmt.Errorf("%w: %v", domain.ErrCaptureUnavailable, ctx.Err())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stream = &chanStream{frames: make(chan vision.Frame, 1)}
	r.dropped = 0
	r.logger.Debug("Remote camera opened")
	return r.stream, nil
}

func (r *Remote) clearPending(pending chan error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == pending {
		r.pending = nil
	}
}

// Grant records that the client opened its camera.
func (r *Remote) Grant() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.permission = true
	if r.pending != nil {
		r.pending <- nil
		r.pending = nil
	}
}

// Deny records that the client could not open its camera.
func (r *Remote) Deny(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.permission = false
	if reason == "" {
		reason = "permission denied"
	}
	if r.pending != nil {
		r.pending <- fmt.Errorf("%w: %s", domain.ErrCaptureUnavailable, reason)
		r.pending = nil
	}
}

// Push delivers a frame. When the consumer is behind, the queued frame is
// replaced so analysis always sees the latest one. Frames pushed while the
// device is closed are dropped and Push returns false.
func (r *Remote) Push(f vision.Frame) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream == nil {
		return false
	}

	select {
	case r.stream.frames <- f:
		return true
	default:
	}

	select {
	case <-r.stream.frames:
		r.dropped++
	default:
	}
	select {
	case r.stream.frames <- f:
	default:
		r.dropped++
	}
	return true
}

// Dropped returns how many stale frames were replaced since the device opened.
func (r *Remote) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Stop closes the stream and fails any pending Initialize.
func (r *Remote) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending != nil {
		r.pending <- fmt.Errorf("%w: %v", domain.ErrCaptureUnavailable, errStopped)
		r.pending = nil
	}
	if r.stream != nil {
		close(r.stream.frames)
		r.stream = nil
		r.logger.Debug("Remote camera released", "dropped_frames", r.dropped)
	}
}

// Active reports whether the device is open.
func (r *Remote) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stream != nil
}

// HasPermission reports the last permission answer from the client.
func (r *Remote) HasPermission() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.permission
}
