// Package capture owns the camera lifecycle for a monitoring session.
package capture

import (
	"context"

	"github.com/ashureev/focusforge/internal/vision"
)

// Source acquires and releases a camera device.
type Source interface {
	// Initialize opens the device and returns its frame stream. It fails with
	// domain.ErrCaptureUnavailable when the device cannot be opened.
	Initialize(ctx context.Context) (Stream, error)

	// Stop releases the device. It is idempotent.
	Stop()

	// HasPermission reports whether camera access is known to be granted.
	// Unknown or failed checks report false.
	HasPermission() bool
}

// Stream delivers live frames until the source stops.
type Stream interface {
	// Frames is closed when the source is stopped.
	Frames() <-chan vision.Frame
}

type chanStream struct {
	frames chan vision.Frame
}

func (s *chanStream) Frames() <-chan vision.Frame {
	return s.frames
}
