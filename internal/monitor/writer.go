package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/focusforge/internal/alert"
	"github.com/ashureev/focusforge/internal/focus"
	"github.com/coder/websocket"
)

const (
	defaultQueueSize = 64
	writeTimeout     = 5 * time.Second
	closeTimeout     = 5 * time.Second
)

// messageWriter is the write side of a WebSocket connection.
type messageWriter interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
}

// EventWriter sends JSON messages to the client from a background
// goroutine so engine callbacks never block on the network. When the queue
// is full the oldest message is dropped.
type EventWriter struct {
	conn   messageWriter
	queue  chan []byte
	stop   chan struct{}
	wg     sync.WaitGroup
	userID string
	logger *slog.Logger

	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewEventWriter starts a writer for conn.
func NewEventWriter(conn messageWriter, userID string, queueSize int, logger *slog.Logger) *EventWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	w := &EventWriter{
		conn:   conn,
		queue:  make(chan []byte, queueSize),
		stop:   make(chan struct{}),
		userID: userID,
		logger: logger,
	}

	w.wg.Add(1)
	go w.process()

	return w
}

// Emit implements focus.Sink.
func (w *EventWriter) Emit(ev focus.Event) {
	w.Send(ev)
}

// SendAlertCommand implements alert.Sink.
func (w *EventWriter) SendAlertCommand(cmd alert.Command) {
	w.Send(cmd)
}

// Send queues v for delivery as a JSON text message.
func (w *EventWriter) Send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.logger.Error("Failed to encode message", "user_id", w.userID, "error", err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	select {
	case w.queue <- data:
		return
	default:
	}

	// Queue full: drop the oldest message to make room.
	select {
	case <-w.queue:
		w.dropped++
	default:
	}
	select {
	case w.queue <- data:
	default:
		w.dropped++
	}
	w.logger.Warn("Event queue full, dropped oldest message", "user_id", w.userID, "dropped", w.dropped)
}

func (w *EventWriter) process() {
	defer w.wg.Done()
	for {
		select {
		case data := <-w.queue:
			w.write(data)
		case <-w.stop:
			// Flush what is left so the final session_ended reaches the client.
			for {
				select {
				case data := <-w.queue:
					w.write(data)
				default:
					return
				}
			}
		}
	}
}

func (w *EventWriter) write(data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := w.conn.Write(ctx, websocket.MessageText, data); err != nil {
		w.logger.Debug("WebSocket write error", "user_id", w.userID, "error", err)
	}
}

// Dropped returns how many messages were discarded for backpressure.
func (w *EventWriter) Dropped() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

// Close flushes queued messages and stops the writer. Later sends are
// discarded.
func (w *EventWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.stop)
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(closeTimeout):
		w.logger.Warn("Event writer shutdown timeout", "user_id", w.userID, "queue_remaining", len(w.queue))
	}
	return nil
}
