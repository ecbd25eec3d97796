//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashureev/focusforge/internal/alert"
	"github.com/ashureev/focusforge/internal/capture"
	"github.com/ashureev/focusforge/internal/clock"
	"github.com/ashureev/focusforge/internal/config"
	"github.com/ashureev/focusforge/internal/domain"
	"github.com/ashureev/focusforge/internal/focus"
	"github.com/ashureev/focusforge/internal/identity"
	"github.com/ashureev/focusforge/internal/shared"
	"github.com/ashureev/focusforge/internal/stats"
	"github.com/ashureev/focusforge/internal/store"
	"github.com/ashureev/focusforge/internal/vision"
	"github.com/go-chi/chi/v5"
)

const (
	testUser  = "anon_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	otherUser = "anon_bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

var epoch = time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	mem     *store.MemoryStore
	agg     *stats.Aggregator
	manager *focus.Manager
	router  chi.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	for _, id := range []string{testUser, otherUser} {
		if err := identity.EnsureUser(ctx, mem, id); err != nil {
			t.Fatalf("EnsureUser failed: %v", err)
		}
	}
	agg := stats.NewAggregator(mem, shared.DefaultRetryPolicy(), nil)
	manager := focus.NewManager(nil)
	engine := config.EngineConfig{
		ClosedThreshold:      5 * time.Second,
		CooldownRelease:      time.Second,
		SleepTimePerIncident: 5 * time.Second,
		AlertAutoStop:        20 * time.Second,
		TickInterval:         time.Second,
	}

	r := chi.NewRouter()
	NewFocusHandler(NewHandler(mem, agg, manager, engine, nil)).RegisterRoutes(r)
	return &fixture{mem: mem, agg: agg, manager: manager, router: r}
}

func (f *fixture) get(t *testing.T, userID, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if userID != "" {
		req = req.WithContext(identity.WithUser(req.Context(), userID))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func (f *fixture) addSession(t *testing.T, id, userID string, start time.Time, seconds float64) {
	t.Helper()
	ctx := context.Background()
	if err := f.mem.CreateSession(ctx, &domain.FocusSession{ID: id, UserID: userID, StartTime: start, IsActive: true}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	end := start.Add(time.Duration(seconds * float64(time.Second)))
	if err := f.mem.UpdateSession(ctx, id, domain.Finalize(end, seconds, 0)); err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %q", ct)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusTeapot, "short and stout")

	if w.Code != http.StatusTeapot {
		t.Errorf("Expected status 418, got %d", w.Code)
	}
	var got map[string]string
	decode(t, w, &got)
	if got["error"] != "short and stout" {
		t.Errorf("Unexpected error body: %v", got)
	}
}

func TestGetMe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.agg.Apply(ctx, testUser, domain.StatsDelta{FocusTimeDelta: 125, SleepIncidentsDelta: 2, SleepTimeDelta: 10}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	rec := f.get(t, testUser, "/api/me")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var got struct {
		UserID    string        `json:"user_id"`
		Stats     domain.Totals `json:"stats"`
		FocusTime string        `json:"focus_time"`
	}
	decode(t, rec, &got)

	if got.UserID != testUser {
		t.Errorf("Expected %s, got %s", testUser, got.UserID)
	}
	want := domain.Totals{TotalFocusTime: 125, SleepIncidents: 2, TotalSleepTime: 10}
	if got.Stats != want {
		t.Errorf("Expected %+v, got %+v", want, got.Stats)
	}
	if got.FocusTime != "02:05" {
		t.Errorf("Expected 02:05, got %s", got.FocusTime)
	}
}

func TestGetMe_Unauthorized(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		userID string
	}{
		{"no identity", ""},
		{"unknown user", "anon_cccccccccccccccccccccccccccccccc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.get(t, tt.userID, "/api/me")
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("Expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestListSessions(t *testing.T) {
	f := newFixture(t)
	f.addSession(t, "s1", testUser, epoch, 10)
	f.addSession(t, "s2", testUser, epoch.Add(time.Hour), 20)
	f.addSession(t, "s3", testUser, epoch.Add(2*time.Hour), 30)
	f.addSession(t, "x1", otherUser, epoch, 40)

	tests := []struct {
		name     string
		path     string
		wantCode int
		wantIDs  []string
	}{
		{"default limit", "/api/sessions", http.StatusOK, []string{"s3", "s2", "s1"}},
		{"explicit limit", "/api/sessions?limit=2", http.StatusOK, []string{"s3", "s2"}},
		{"zero limit", "/api/sessions?limit=0", http.StatusBadRequest, nil},
		{"garbage limit", "/api/sessions?limit=abc", http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.get(t, testUser, tt.path)
			if rec.Code != tt.wantCode {
				t.Fatalf("Expected %d, got %d", tt.wantCode, rec.Code)
			}
			if tt.wantIDs == nil {
				return
			}
			var got struct {
				Sessions []domain.FocusSession `json:"sessions"`
			}
			decode(t, rec, &got)
			if len(got.Sessions) != len(tt.wantIDs) {
				t.Fatalf("Expected %d sessions, got %d", len(tt.wantIDs), len(got.Sessions))
			}
			for i, id := range tt.wantIDs {
				if got.Sessions[i].ID != id {
					t.Errorf("Session %d: expected %s, got %s", i, id, got.Sessions[i].ID)
				}
			}
		})
	}
}

func TestListSessions_EmptyIsArray(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, testUser, "/api/sessions")

	var got map[string]json.RawMessage
	decode(t, rec, &got)
	if string(got["sessions"]) != "[]" {
		t.Errorf("Expected empty array, got %s", got["sessions"])
	}
}

func TestGetSession(t *testing.T) {
	f := newFixture(t)
	f.addSession(t, "mine", testUser, epoch, 42)
	f.addSession(t, "theirs", otherUser, epoch, 7)

	rec := f.get(t, testUser, "/api/sessions/mine")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var got domain.FocusSession
	decode(t, rec, &got)
	if got.Duration != 42 || got.IsActive {
		t.Errorf("Unexpected session: %+v", got)
	}

	for _, path := range []string{"/api/sessions/theirs", "/api/sessions/missing"} {
		if rec := f.get(t, testUser, path); rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, rec.Code)
		}
	}
}

func TestGetStatus_NoConnection(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, testUser, "/api/status")

	var got map[string]any
	decode(t, rec, &got)
	if got["connected"] != false || got["state"] != "idle" || got["cameraPermission"] != false {
		t.Errorf("Unexpected status: %v", got)
	}
}

func TestGetStatus_Monitoring(t *testing.T) {
	f := newFixture(t)
	clk := clock.NewFake(epoch)
	frame := vision.Frame{Width: 4, Height: 4, Pix: make([]byte, 4*4*vision.BytesPerPixel)}
	ctrl := focus.NewController(focus.DefaultConfig(), focus.Dependencies{
		Source:   capture.NewReplay([]vision.Frame{frame, frame}, time.Hour),
		Analyzer: vision.NewAnalyzer(vision.DefaultThresholds()),
		Alerter:  alert.NewNotifier(clk, alert.SinkFunc(func(alert.Command) {})),
		Sessions: f.mem,
		Stats:    f.agg,
		Clock:    clk,
	})
	f.manager.Register(context.Background(), testUser, ctrl, func(string) {})
	if err := ctrl.Start(context.Background(), testUser); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = ctrl.Stop(context.Background()) })
	clk.Advance(3 * time.Second)

	rec := f.get(t, testUser, "/api/status")
	var got map[string]any
	decode(t, rec, &got)
	if got["connected"] != true || got["state"] != "monitoring" || got["cameraPermission"] != true {
		t.Errorf("Unexpected status: %v", got)
	}
	if got["clock"] != "00:03" {
		t.Errorf("Expected clock 00:03, got %v", got["clock"])
	}
}

func TestGetConfig(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "", "/api/config")

	var got map[string]float64
	decode(t, rec, &got)
	if got["closed_threshold"] != 5 || got["cooldown_release"] != 1 || got["sleep_time_per_incident"] != 5 {
		t.Errorf("Unexpected config: %v", got)
	}
}

type downRepo struct {
	*store.MemoryStore
}

func (downRepo) Ping(context.Context) error { return context.DeadlineExceeded }

func TestHealth(t *testing.T) {
	f := newFixture(t)
	if rec := f.get(t, "", "/api/health"); rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}

	r := chi.NewRouter()
	NewFocusHandler(NewHandler(downRepo{store.NewMemory()}, f.agg, f.manager, config.EngineConfig{}, nil)).RegisterRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
}
