package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/focusforge/internal/domain"
	"github.com/ashureev/focusforge/internal/focus"
	"github.com/ashureev/focusforge/internal/identity"
	"github.com/go-chi/chi/v5"
)

const (
	defaultSessionLimit = 20
	maxSessionLimit     = 200
)

// FocusHandler serves read-only views of focus sessions and statistics.
type FocusHandler struct {
	*Handler
}

// NewFocusHandler creates a new focus handler.
func NewFocusHandler(base *Handler) *FocusHandler {
	return &FocusHandler{Handler: base}
}

// RegisterRoutes registers focus routes.
func (h *FocusHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/sessions", h.ListSessions)
		r.Get("/sessions/{id}", h.GetSession)
		r.Get("/status", h.GetStatus)
		r.Get("/config", h.GetConfig)
		r.Get("/health", h.Health)
	})
}

// GetMe returns the current user and their cumulative statistics.
func (h *FocusHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to get user", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load user")
		return
	}
	if user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	totals, err := h.stats.Totals(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to read totals", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load statistics")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":    user.UserID,
		"username":   user.Username,
		"stats":      totals,
		"focus_time": domain.FormatClock(totals.TotalFocusTime),
		"created_at": user.CreatedAt,
	})
}

// ListSessions returns the user's sessions, newest first.
func (h *FocusHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := defaultSessionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxSessionLimit)
	}

	sessions, err := h.repo.ListSessions(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("Failed to list sessions", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*domain.FocusSession{}
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
	})
}

// GetSession returns one of the user's sessions.
func (h *FocusHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessionID := chi.URLParam(r, "id")
	session, err := h.repo.GetSession(r.Context(), sessionID)
	if errors.Is(err, domain.ErrSessionNotFound) || (err == nil && session.UserID != userID) {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to get session", "user_id", userID, "session_id", sessionID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	JSON(w, http.StatusOK, session)
}

// GetStatus reports the live controller state of the user's connection.
func (h *FocusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	ctrl := h.manager.Get(userID)
	if ctrl == nil {
		JSON(w, http.StatusOK, map[string]interface{}{
			"connected":        false,
			"state":            focus.StateIdle.String(),
			"cameraPermission": false,
		})
		return
	}

	status := ctrl.Snapshot()
	resp := map[string]interface{}{
		"connected":        true,
		"state":            status.State,
		"cameraPermission": ctrl.HasPermission(),
		"inCooldown":       status.InCooldown,
		"closedDuration":   status.ClosedDuration,
	}
	if status.Session != nil {
		resp["session"] = status.Session
		resp["clock"] = domain.FormatClock(status.Elapsed)
	}
	if status.AlertMessage != "" {
		resp["alertMessage"] = status.AlertMessage
	}
	JSON(w, http.StatusOK, resp)
}

// GetConfig returns the engine thresholds for the frontend.
func (h *FocusHandler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"closed_threshold":        h.engine.ClosedThreshold.Seconds(),
		"cooldown_release":        h.engine.CooldownRelease.Seconds(),
		"sleep_time_per_incident": h.engine.SleepTimePerIncident.Seconds(),
		"alert_auto_stop":         h.engine.AlertAutoStop.Seconds(),
		"tick_interval":           h.engine.TickInterval.Seconds(),
	})
}

// Health reports database connectivity.
func (h *FocusHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.repo.Ping(ctx); err != nil {
		h.logger.Warn("Health check failed", "error", err)
		JSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unavailable",
			"error":  "database unreachable",
		})
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": h.manager.Count(),
	})
}
