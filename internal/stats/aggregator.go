// Package stats maintains cumulative per-user focus statistics.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/focusforge/internal/domain"
	"github.com/ashureev/focusforge/internal/shared"
)

// Store is the storage surface the aggregator needs.
type Store interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	ApplyUserStatsDelta(ctx context.Context, userID string, delta domain.StatsDelta) error
}

// Aggregator serializes every mutation and read of user totals.
type Aggregator struct {
	mu     sync.Mutex
	store  Store
	retry  shared.RetryPolicy
	logger *slog.Logger
}

// NewAggregator creates an aggregator over store.
func NewAggregator(store Store, retry shared.RetryPolicy, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if retry.MaxRetries <= 0 {
		retry = shared.DefaultRetryPolicy()
	}
	return &Aggregator{store: store, retry: retry, logger: logger}
}

// Apply adds delta to the user's totals. Zero deltas are skipped.
func (a *Aggregator) Apply(ctx context.Context, userID string, delta domain.StatsDelta) error {
	if err := delta.Validate(); err != nil {
		return fmt.Errorf("apply stats for %s: %w", userID, err)
	}
	if delta.IsZero() {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	err := shared.RetryOnConflict(ctx, a.retry, "apply_stats_delta", func() error {
		return a.store.ApplyUserStatsDelta(ctx, userID, delta)
	})
	if err != nil {
		a.logger.Error("Failed to apply stats delta", "user_id", userID, "error", err)
		return fmt.Errorf("apply stats for %s: %w", userID, err)
	}

	a.logger.Debug("Stats delta applied",
		"user_id", userID,
		"focus_time", delta.FocusTimeDelta,
		"sleep_incidents", delta.SleepIncidentsDelta,
		"sleep_time", delta.SleepTimeDelta)
	return nil
}

// Totals returns the user's current totals.
func (a *Aggregator) Totals(ctx context.Context, userID string) (domain.Totals, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	user, err := a.store.GetUser(ctx, userID)
	if err != nil {
		return domain.Totals{}, fmt.Errorf("read totals for %s: %w", userID, err)
	}
	if user == nil {
		return domain.Totals{}, fmt.Errorf("read totals for %s: %w", userID, domain.ErrUserNotFound)
	}
	return user.Totals(), nil
}

// Fold returns t with delta applied.
func Fold(t domain.Totals, delta domain.StatsDelta) domain.Totals {
	t.TotalFocusTime += delta.FocusTimeDelta
	t.SleepIncidents += delta.SleepIncidentsDelta
	t.TotalSleepTime += delta.SleepTimeDelta
	return t
}

// FoldSessions recomputes totals from finished session history, charging
// perIncident of sleep time for every detection. Active sessions are skipped.
func FoldSessions(sessions []*domain.FocusSession, perIncident time.Duration) domain.Totals {
	var t domain.Totals
	for _, s := range sessions {
		if s == nil || s.IsActive {
			continue
		}
		t = Fold(t, domain.StatsDelta{
			FocusTimeDelta:      s.Duration,
			SleepIncidentsDelta: s.SleepDetections,
			SleepTimeDelta:      float64(s.SleepDetections) * perIncident.Seconds(),
		})
	}
	return t
}
