package focus

import (
	"context"
	"testing"
	"time"
)

func TestManager_RegisterReplacesPreviousController(t *testing.T) {
	first := newHarness(t)
	first.start(t)
	second := newHarness(t)

	m := NewManager(nil)
	var reasons []string
	m.Register(context.Background(), testUser, first.ctrl, func(reason string) { reasons = append(reasons, reason) })
	if m.Monitoring() != 1 {
		t.Fatalf("Expected 1 monitoring controller, got %d", m.Monitoring())
	}

	m.Register(context.Background(), testUser, second.ctrl, nil)

	if first.ctrl.State() != StateIdle {
		t.Errorf("Expected displaced controller stopped, got %s", first.ctrl.State())
	}
	if len(reasons) != 1 || reasons[0] != "session replaced" {
		t.Errorf("Expected one 'session replaced' close, got %v", reasons)
	}
	if m.Get(testUser) != second.ctrl {
		t.Error("Expected second controller to be live")
	}
	if m.Count() != 1 {
		t.Errorf("Expected 1 registration, got %d", m.Count())
	}
}

func TestManager_UnregisterIgnoresStaleController(t *testing.T) {
	first := newHarness(t)
	second := newHarness(t)

	m := NewManager(nil)
	m.Register(context.Background(), testUser, first.ctrl, nil)
	m.Register(context.Background(), testUser, second.ctrl, nil)

	m.Unregister(testUser, first.ctrl)
	if m.Get(testUser) != second.ctrl {
		t.Fatal("Expected stale unregister to keep the live controller")
	}

	m.Unregister(testUser, second.ctrl)
	if m.Get(testUser) != nil || m.Count() != 0 {
		t.Error("Expected registry empty")
	}
}

func TestManager_CloseAllFinalizesSessions(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.feed(true, 3*time.Second)

	m := NewManager(nil)
	closed := false
	m.Register(context.Background(), testUser, h.ctrl, func(string) { closed = true })

	if err := m.CloseAll(context.Background()); err != nil {
		t.Fatalf("CloseAll failed: %v", err)
	}
	if !closed {
		t.Error("Expected closer called")
	}

	session, err := h.mem.GetSession(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if session.IsActive || session.Duration != 3 {
		t.Errorf("Expected finalized 3s session, got %+v", session)
	}
	if m.Count() != 0 {
		t.Errorf("Expected empty registry, got %d", m.Count())
	}
}
