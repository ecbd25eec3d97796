package telemetry

import (
	"context"
	"time"
)

// NoOp is a recorder that does nothing.
type NoOp struct{}

// NewNoOp creates a no-op recorder for when export is disabled.
func NewNoOp() *NoOp {
	return &NoOp{}
}

func (NoOp) SessionStarted(string) {}
func (NoOp) FrameAnalyzed(bool) {}
func (NoOp) AlertRaised(string) {}
func (NoOp) SessionEnded(string, time.Duration, int) {}

// Close does nothing.
func (NoOp) Close(context.Context) error {
	return nil
}
