// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/focusforge/internal/domain"
)

// Repository defines the interface for persisting users and focus sessions.
type Repository interface {
	// GetUser retrieves a user by their user ID. It returns nil, nil when the
	// user does not exist.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user's profile fields. Statistics are
	// never overwritten by an upsert; use ApplyUserStatsDelta.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// ApplyUserStatsDelta atomically adds delta to the user's totals.
	ApplyUserStatsDelta(ctx context.Context, userID string, delta domain.StatsDelta) error

	// CreateSession inserts a new focus session.
	CreateSession(ctx context.Context, session *domain.FocusSession) error

	// UpdateSession applies a partial update to a focus session.
	UpdateSession(ctx context.Context, sessionID string, update domain.SessionUpdate) error

	// GetSession retrieves a focus session by ID. It returns
	// domain.ErrSessionNotFound when it does not exist.
	GetSession(ctx context.Context, sessionID string) (*domain.FocusSession, error)

	// ListSessions returns a user's sessions, newest first. A limit <= 0
	// returns all sessions.
	ListSessions(ctx context.Context, userID string, limit int) ([]*domain.FocusSession, error)

	// CloseOrphanedSessions marks sessions left active by a previous process
	// as ended. User totals are not touched.
	CloseOrphanedSessions(ctx context.Context) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
