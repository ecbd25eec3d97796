package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/focusforge/internal/alert"
	"github.com/ashureev/focusforge/internal/focus"
	"github.com/coder/websocket"
)

type fakeConn struct {
	mu      sync.Mutex
	msgs    []string
	writing chan struct{}
	release chan struct{}
}

func (c *fakeConn) Write(_ context.Context, typ websocket.MessageType, p []byte) error {
	if c.writing != nil {
		c.writing <- struct{}{}
		<-c.release
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var msg struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(p, &msg)
	c.msgs = append(c.msgs, msg.Type)
	return nil
}

func (c *fakeConn) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...)
}

func TestEventWriter_DeliversInOrder(t *testing.T) {
	conn := &fakeConn{}
	w := NewEventWriter(conn, "u1", 8, nil)

	w.Emit(focus.Event{Type: focus.EventSessionStarted})
	w.SendAlertCommand(alert.Command{Type: alert.CommandTone})
	w.Send(serverMessage{Type: MsgPong})
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	got := conn.types()
	want := []string{"session_started", "alert_tone", "pong"}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Message %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	w.Send(serverMessage{Type: MsgPong})
	if len(conn.types()) != len(want) {
		t.Error("Expected sends after Close to be discarded")
	}
}

func TestEventWriter_DropsOldestWhenFull(t *testing.T) {
	conn := &fakeConn{writing: make(chan struct{}), release: make(chan struct{})}
	w := NewEventWriter(conn, "u1", 2, nil)

	w.Send(serverMessage{Type: "m1"})
	select {
	case <-conn.writing:
	case <-time.After(2 * time.Second):
		t.Fatal("Writer did not pick up first message")
	}

	w.Send(serverMessage{Type: "m2"})
	w.Send(serverMessage{Type: "m3"})
	w.Send(serverMessage{Type: "m4"})
	if w.Dropped() != 1 {
		t.Errorf("Expected 1 dropped message, got %d", w.Dropped())
	}

	go func() {
		for range conn.writing {
		}
	}()
	close(conn.release)
	_ = w.Close()
	close(conn.writing)

	got := conn.types()
	want := []string{"m1", "m3", "m4"}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Message %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}
