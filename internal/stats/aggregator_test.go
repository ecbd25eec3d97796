package stats

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/focusforge/internal/domain"
	"github.com/ashureev/focusforge/internal/shared"
	"github.com/ashureev/focusforge/internal/store"
)

type flakyStore struct {
	*store.MemoryStore
	mu        sync.Mutex
	conflicts int
	calls     int
}

func (f *flakyStore) ApplyUserStatsDelta(ctx context.Context, userID string, delta domain.StatsDelta) error {
	f.mu.Lock()
	f.calls++
	if f.conflicts > 0 {
		f.conflicts--
		f.mu.Unlock()
		return errors.New("database is locked")
	}
	f.mu.Unlock()
	return f.MemoryStore.ApplyUserStatsDelta(ctx, userID, delta)
}

func newMemoryWithUser(t *testing.T, userID string) *store.MemoryStore {
	t.Helper()
	mem := store.NewMemory()
	now := time.Now()
	if err := mem.UpsertUser(context.Background(), &domain.User{UserID: userID, Username: userID, CreatedAt: now, UpdatedAt: now, LastSeenAt: now}); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	return mem
}

func TestAggregator_ApplyAndTotals(t *testing.T) {
	agg := NewAggregator(newMemoryWithUser(t, "u1"), shared.RetryPolicy{}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := agg.Apply(ctx, "u1", domain.StatsDelta{SleepIncidentsDelta: 1, SleepTimeDelta: 5}); err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
	}
	if err := agg.Apply(ctx, "u1", domain.StatsDelta{FocusTimeDelta: 61}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	got, err := agg.Totals(ctx, "u1")
	if err != nil {
		t.Fatalf("Totals failed: %v", err)
	}
	want := domain.Totals{TotalFocusTime: 61, SleepIncidents: 3, TotalSleepTime: 15}
	if got != want {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
}

func TestAggregator_RejectsNegativeDelta(t *testing.T) {
	agg := NewAggregator(newMemoryWithUser(t, "u1"), shared.RetryPolicy{}, nil)
	err := agg.Apply(context.Background(), "u1", domain.StatsDelta{SleepTimeDelta: -5})
	if !errors.Is(err, domain.ErrNegativeDelta) {
		t.Errorf("Expected ErrNegativeDelta, got %v", err)
	}
}

func TestAggregator_UnknownUser(t *testing.T) {
	agg := NewAggregator(store.NewMemory(), shared.RetryPolicy{}, nil)
	ctx := context.Background()

	if err := agg.Apply(ctx, "ghost", domain.StatsDelta{FocusTimeDelta: 1}); !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound from Apply, got %v", err)
	}
	if _, err := agg.Totals(ctx, "ghost"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound from Totals, got %v", err)
	}
}

func TestAggregator_RetriesConflicts(t *testing.T) {
	fs := &flakyStore{MemoryStore: newMemoryWithUser(t, "u1"), conflicts: 2}
	agg := NewAggregator(fs, shared.RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}, nil)

	if err := agg.Apply(context.Background(), "u1", domain.StatsDelta{FocusTimeDelta: 10}); err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}
	if fs.calls != 3 {
		t.Errorf("Expected 3 store calls, got %d", fs.calls)
	}

	got, _ := agg.Totals(context.Background(), "u1")
	if got.TotalFocusTime != 10 {
		t.Errorf("Expected focus time 10, got %v", got.TotalFocusTime)
	}
}

func TestAggregator_ZeroDeltaSkipsStore(t *testing.T) {
	fs := &flakyStore{MemoryStore: newMemoryWithUser(t, "u1")}
	agg := NewAggregator(fs, shared.RetryPolicy{}, nil)

	if err := agg.Apply(context.Background(), "u1", domain.StatsDelta{}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if fs.calls != 0 {
		t.Errorf("Expected no store calls for zero delta, got %d", fs.calls)
	}
}

func TestAggregator_ConcurrentApply(t *testing.T) {
	agg := NewAggregator(newMemoryWithUser(t, "u1"), shared.RetryPolicy{}, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = agg.Apply(ctx, "u1", domain.StatsDelta{SleepIncidentsDelta: 1, SleepTimeDelta: 5})
		}()
	}
	wg.Wait()

	got, err := agg.Totals(ctx, "u1")
	if err != nil {
		t.Fatalf("Totals failed: %v", err)
	}
	if got.SleepIncidents != 50 || got.TotalSleepTime != 250 {
		t.Errorf("Expected 50 incidents and 250s, got %+v", got)
	}
}

func TestFold(t *testing.T) {
	start := domain.Totals{TotalFocusTime: 10, SleepIncidents: 1, TotalSleepTime: 5}
	got := Fold(start, domain.StatsDelta{FocusTimeDelta: 2.5, SleepIncidentsDelta: 2, SleepTimeDelta: 10})
	want := domain.Totals{TotalFocusTime: 12.5, SleepIncidents: 3, TotalSleepTime: 15}
	if got != want {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
}

func TestFoldSessions(t *testing.T) {
	sessions := []*domain.FocusSession{
		{ID: "a", Duration: 14, SleepDetections: 1},
		{ID: "b", Duration: 30, SleepDetections: 0},
		{ID: "c", Duration: 99, SleepDetections: 4, IsActive: true},
		nil,
	}
	got := FoldSessions(sessions, 5*time.Second)
	want := domain.Totals{TotalFocusTime: 44, SleepIncidents: 1, TotalSleepTime: 5}
	if got != want {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
}
