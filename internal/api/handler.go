// Package api provides HTTP handlers for the FocusForge API.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ashureev/focusforge/internal/config"
	"github.com/ashureev/focusforge/internal/focus"
	"github.com/ashureev/focusforge/internal/stats"
	"github.com/ashureev/focusforge/internal/store"
)

// Handler provides common handler utilities.
type Handler struct {
	repo    store.Repository
	stats   *stats.Aggregator
	manager *focus.Manager
	engine  config.EngineConfig
	logger  *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, agg *stats.Aggregator, manager *focus.Manager, engine config.EngineConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		repo:    repo,
		stats:   agg,
		manager: manager,
		engine:  engine,
		logger:  logger,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
