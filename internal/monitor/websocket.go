package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/focusforge/internal/capture"
	"github.com/ashureev/focusforge/internal/domain"
	"github.com/ashureev/focusforge/internal/focus"
	"github.com/ashureev/focusforge/internal/identity"
	"github.com/coder/websocket"
)

const defaultLastSeenInterval = 30 * time.Second

// LastSeenStore records user activity.
type LastSeenStore interface {
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error
}

// ControllerFactory builds the controller for one connection. Engine events
// and alert commands must be sent to out.
type ControllerFactory func(userID string, source capture.Source, out *EventWriter) *focus.Controller

// Options tunes the WebSocket handler.
type Options struct {
	AllowedOrigin    string
	IsDev            bool
	CameraTimeout    time.Duration
	MaxFrameBytes    int
	LastSeenInterval time.Duration
}

// WebSocketHandler serves focus sessions over WebSocket.
type WebSocketHandler struct {
	repo          LastSeenStore
	manager       *focus.Manager
	newController ControllerFactory
	opts          Options
	logger        *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(repo LastSeenStore, manager *focus.Manager, factory ControllerFactory, opts Options, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.CameraTimeout <= 0 {
		opts.CameraTimeout = capture.DefaultPermissionTimeout
	}
	if opts.LastSeenInterval <= 0 {
		opts.LastSeenInterval = defaultLastSeenInterval
	}
	return &WebSocketHandler{
		repo:          repo,
		manager:       manager,
		newController: factory,
		opts:          opts,
		logger:        logger,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	h.logger.Info("WebSocket connection request", "user_id", userID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()
	if h.opts.MaxFrameBytes > 0 {
		ws.SetReadLimit(int64(h.opts.MaxFrameBytes))
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := NewEventWriter(ws, userID, 0, h.logger)
	remote := capture.NewRemote(func(context.Context) error {
		out.Send(serverMessage{Type: MsgCameraRequest})
		return nil
	}, h.opts.CameraTimeout, h.logger)
	ctrl := h.newController(userID, remote, out)

	h.manager.Register(ctx, userID, ctrl, func(reason string) {
		// Close waits for the peer's close frame; do not hold up the caller.
		go func() { _ = ws.Close(websocket.StatusNormalClosure, reason) }()
	})
	defer func() {
		h.manager.Unregister(userID, ctrl)
		if err := ctrl.Stop(context.Background()); err != nil {
			h.logger.Error("Failed to stop session on disconnect", "user_id", userID, "error", err)
		}
		if err := out.Close(); err != nil {
			h.logger.Debug("Failed to close event writer", "error", err, "user_id", userID)
		}
	}()

	h.readLoop(ctx, ws, ctrl, remote, out, userID)
	h.logger.Info("Focus connection ended", "user_id", userID, "dropped_frames", remote.Dropped())
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.opts.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.opts.AllowedOrigin == "*" {
		return true
	}
	if origin == h.opts.AllowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.opts.AllowedOrigin)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, ctrl *focus.Controller, remote *capture.Remote, out *EventWriter, userID string) {
	var lastTouch time.Time
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				h.logger.Debug("WebSocket closed", "user_id", userID)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		if now := time.Now(); now.Sub(lastTouch) >= h.opts.LastSeenInterval {
			lastTouch = now
			h.touch(userID, now)
		}

		if typ == websocket.MessageBinary {
			frame, err := DecodeFrame(data, h.opts.MaxFrameBytes)
			if err != nil {
				h.logger.Debug("Discarding frame", "user_id", userID, "error", err)
				continue
			}
			remote.Push(frame)
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("Discarding malformed message", "user_id", userID, "error", err)
			continue
		}

		switch msg.Type {
		case MsgStart:
			// Start waits for camera_ready, which arrives on this loop.
			go h.start(ctx, ctrl, out, userID)
		case MsgStop:
			if err := ctrl.Stop(ctx); err != nil {
				h.logger.Error("Failed to stop session", "user_id", userID, "error", err)
			}
		case MsgCameraReady:
			remote.Grant()
		case MsgCameraDenied:
			remote.Deny(msg.Reason)
		case MsgPing:
			out.Send(serverMessage{Type: MsgPong})
		default:
			h.logger.Debug("Unknown message type", "user_id", userID, "type", msg.Type)
		}
	}
}

func (h *WebSocketHandler) start(ctx context.Context, ctrl *focus.Controller, out *EventWriter, userID string) {
	err := ctrl.Start(ctx, userID)
	if err == nil {
		return
	}

	code := "start_failed"
	switch {
	case errors.Is(err, domain.ErrCaptureUnavailable):
		code = "capture_unavailable"
	case errors.Is(err, domain.ErrAlreadyMonitoring):
		code = "already_monitoring"
	case errors.Is(err, domain.ErrStartAborted):
		code = "start_aborted"
	}
	h.logger.Info("Focus session not started", "user_id", userID, "reason", code, "error", err)
	out.Send(serverMessage{Type: MsgError, Error: code})
}

// touch updates last seen asynchronously with timeout.
func (h *WebSocketHandler) touch(userID string, at time.Time) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.repo.UpdateLastSeen(ctx, userID, at); err != nil {
			h.logger.Warn("Failed to update last seen", "user_id", userID, "error", err)
		}
	}()
}
