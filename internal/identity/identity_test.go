package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/focusforge/internal/domain"
	"github.com/ashureev/focusforge/internal/store"
)

func TestMiddleware_IssuesCookieAndCreatesUser(t *testing.T) {
	repo := store.NewMemory()

	var seen string
	h := Middleware(repo, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
		if UsernameFromContext(r.Context()) != DeriveUsername(seen) {
			t.Errorf("Expected derived username in context")
		}
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))

	if !isValidAnonID(seen) {
		t.Fatalf("Expected anonymous ID in context, got %q", seen)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != AnonCookieName || cookies[0].Value != seen {
		t.Fatalf("Expected identity cookie for %s, got %+v", seen, cookies)
	}

	user, err := repo.GetUser(context.Background(), seen)
	if err != nil || user == nil {
		t.Fatalf("Expected user created, got %v, %v", user, err)
	}
}

func TestMiddleware_ReusesValidCookie(t *testing.T) {
	repo := store.NewMemory()
	id := "anon_0123456789abcdef0123456789abcdef"

	var seen string
	h := Middleware(repo, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: id})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != id {
		t.Errorf("Expected %s, got %s", id, seen)
	}
	if c := rec.Result().Cookies(); len(c) != 1 || !c[0].Secure {
		t.Errorf("Expected refreshed secure cookie, got %+v", c)
	}
}

func TestMiddleware_RejectsForgedCookie(t *testing.T) {
	repo := store.NewMemory()

	var seen string
	h := Middleware(repo, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "admin"})
	h.ServeHTTP(httptest.NewRecorder(), req)

	if seen == "admin" || !isValidAnonID(seen) {
		t.Errorf("Expected a fresh anonymous ID, got %q", seen)
	}
}

func TestEnsureUser_KeepsTotals(t *testing.T) {
	repo := store.NewMemory()
	ctx := context.Background()
	id := "anon_ffffffffffffffffffffffffffffffff"

	if err := EnsureUser(ctx, repo, id); err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}
	if err := repo.ApplyUserStatsDelta(ctx, id, domain.StatsDelta{FocusTimeDelta: 30}); err != nil {
		t.Fatalf("ApplyUserStatsDelta failed: %v", err)
	}
	if err := EnsureUser(ctx, repo, id); err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}

	user, _ := repo.GetUser(ctx, id)
	if user.TotalFocusTime != 30 {
		t.Errorf("Expected totals preserved, got %v", user.TotalFocusTime)
	}
	if user.Username != "anon-ffffffff" {
		t.Errorf("Expected derived username, got %s", user.Username)
	}
}
