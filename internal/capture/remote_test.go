package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ashureev/focusforge/internal/domain"
	"github.com/ashureev/focusforge/internal/vision"
)

func frameOf(w int) vision.Frame {
	return vision.Frame{Width: w, Height: 1, Pix: make([]byte, w*vision.BytesPerPixel)}
}

func TestRemote_GrantOpensStream(t *testing.T) {
	requested := make(chan struct{}, 1)
	r := NewRemote(func(context.Context) error {
		requested <- struct{}{}
		return nil
	}, time.Second, nil)

	type result struct {
		stream Stream
		err    error
	}
	done := make(chan result, 1)
	go func() {
		s, err := r.Initialize(context.Background())
		done <- result{s, err}
	}()

	<-requested
	r.Grant()

	res := <-done
	if res.err != nil {
		t.Fatalf("Initialize failed: %v", res.err)
	}
	if !r.HasPermission() || !r.Active() {
		t.Fatal("Expected permission granted and active device")
	}

	if !r.Push(frameOf(3)) {
		t.Fatal("Expected push to succeed")
	}
	got := <-res.stream.Frames()
	if got.Width != 3 {
		t.Errorf("Expected frame width 3, got %d", got.Width)
	}

	r.Stop()
	r.Stop()
	if _, ok := <-res.stream.Frames(); ok {
		t.Error("Expected closed stream after Stop")
	}
	if r.Push(frameOf(1)) {
		t.Error("Expected push after Stop to be dropped")
	}
}

func TestRemote_DenyFails(t *testing.T) {
	requested := make(chan struct{}, 1)
	r := NewRemote(func(context.Context) error {
		requested <- struct{}{}
		return nil
	}, time.Second, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := r.Initialize(context.Background())
		errCh <- err
	}()

	<-requested
	r.Deny("NotAllowedError")

	err := <-errCh
	if !errors.Is(err, domain.ErrCaptureUnavailable) {
		t.Fatalf("Expected ErrCaptureUnavailable, got %v", err)
	}
	if r.HasPermission() {
		t.Error("Expected permission to be false after deny")
	}
	if r.Active() {
		t.Error("Expected device to stay closed")
	}
}

func TestRemote_TimeoutFails(t *testing.T) {
	r := NewRemote(nil, 20*time.Millisecond, nil)

	_, err := r.Initialize(context.Background())
	if !errors.Is(err, domain.ErrCaptureUnavailable) {
		t.Fatalf("Expected ErrCaptureUnavailable, got %v", err)
	}

	// A late grant must not leave a stale waiter behind.
	r.Grant()
	if r.Active() {
		t.Error("Late grant should not open the device")
	}
}

func TestRemote_RequestErrorFails(t *testing.T) {
	r := NewRemote(func(context.Context) error {
		return errors.New("socket closed")
	}, time.Second, nil)

	_, err := r.Initialize(context.Background())
	if !errors.Is(err, domain.ErrCaptureUnavailable) {
		t.Fatalf("Expected ErrCaptureUnavailable, got %v", err)
	}
}

func TestRemote_BusyWhileActive(t *testing.T) {
	r := NewRemote(func(context.Context) error { return nil }, time.Second, nil)
	go func() {
		for !r.hasPending() {
			time.Sleep(time.Millisecond)
		}
		r.Grant()
	}()
	if _, err := r.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer r.Stop()

	_, err := r.Initialize(context.Background())
	if !errors.Is(err, domain.ErrCaptureUnavailable) {
		t.Fatalf("Expected busy ErrCaptureUnavailable, got %v", err)
	}
}

func TestRemote_StopWhilePendingFails(t *testing.T) {
	r := NewRemote(nil, time.Second, nil)
	errCh := make(chan error, 1)
	go func() {
		_, err := r.Initialize(context.Background())
		errCh <- err
	}()

	for !r.hasPending() {
		time.Sleep(time.Millisecond)
	}
	r.Stop()

	if err := <-errCh; !errors.Is(err, domain.ErrCaptureUnavailable) {
		t.Fatalf("Expected ErrCaptureUnavailable, got %v", err)
	}
}

func TestRemote_PushKeepsLatestFrame(t *testing.T) {
	r := NewRemote(func(context.Context) error { return nil }, time.Second, nil)
	go func() {
		for !r.hasPending() {
			time.Sleep(time.Millisecond)
		}
		r.Grant()
	}()
	stream, err := r.Initialize(context.Background())
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer r.Stop()

	for w := 1; w <= 5; w++ {
		r.Push(frameOf(w))
	}

	got := <-stream.Frames()
	if got.Width != 5 {
		t.Errorf("Expected latest frame (width 5), got width %d", got.Width)
	}
	if r.Dropped() != 4 {
		t.Errorf("Expected 4 dropped frames, got %d", r.Dropped())
	}
}

func TestRemote_HasPermissionDefaultsFalse(t *testing.T) {
	r := NewRemote(nil, 0, nil)
	if r.HasPermission() {
		t.Error("Expected fail-closed permission")
	}
}

func (r *Remote) hasPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending != nil
}
