package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"qms/lane-service/internal/models"
)

func TestParseTokenRoundTrip(t *testing.T) {
	secret := []byte(testSecret)
	token, err := IssueToken(secret, testStaffID, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	subject, err := ParseToken(secret, token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if subject != testStaffID {
		t.Fatalf("expected subject %s, got %s", testStaffID, subject)
	}
}

func TestParseTokenRejects(t *testing.T) {
	secret := []byte(testSecret)
	expired, err := IssueToken(secret, testStaffID, time.Minute, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := ParseToken(secret, expired); err == nil {
		t.Fatal("expected expired token to be rejected")
	}

	valid, _ := IssueToken(secret, testStaffID, time.Hour, time.Now())
	if _, err := ParseToken([]byte("other-secret"), valid); err == nil {
		t.Fatal("expected wrong secret to be rejected")
	}
	if _, err := ParseToken(secret, "not-a-token"); err == nil {
		t.Fatal("expected garbage to be rejected")
	}
	if _, err := IssueToken(nil, testStaffID, time.Hour, time.Now()); err == nil {
		t.Fatal("expected empty secret to fail")
	}
}

func TestAuthMiddlewareRejectsInactiveActor(t *testing.T) {
	svc := fakeService{
		actorFn: func(ctx context.Context, actorID string) (models.Actor, error) {
			return models.Actor{ActorID: actorID, Role: models.RoleStaff, IsActive: false}, nil
		},
	}
	called := false
	handler := AuthMiddleware([]byte(testSecret), svc, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/queue/operations", nil)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, testStaffID))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized || called {
		t.Fatalf("expected 401 without reaching handler, got %d called=%v", rec.Code, called)
	}
}

func TestAuthMiddlewareUnknownActor(t *testing.T) {
	handler := AuthMiddleware([]byte(testSecret), fakeService{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/users/assigned-lanes", nil)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, "5b7f1a52-8f0e-4d43-9d57-0a4fbcb2f2aa"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"":           "",
		"Bearer abc": "abc",
		"bearer abc": "abc",
		"Basic abc":  "",
		"Bearer":     "",
		"Bearer a b": "",
	}
	for header, want := range tests {
		if got := bearerToken(header); got != want {
			t.Fatalf("bearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}

func TestPublicEndpoints(t *testing.T) {
	tests := []struct {
		method string
		path   string
		public bool
	}{
		{http.MethodPost, "/api/queue/reservation", true},
		{http.MethodGet, "/api/queue/status", true},
		{http.MethodGet, "/api/queue/recent-operations", true},
		{http.MethodGet, "/api/queue/events", true},
		{http.MethodGet, "/realtime/info", true},
		{http.MethodPost, "/api/queue/operations", false},
		{http.MethodGet, "/api/lanes", false},
		{http.MethodPost, "/api/queue/status", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		if got := isPublicEndpoint(req); got != tt.public {
			t.Fatalf("%s %s public=%v, want %v", tt.method, tt.path, got, tt.public)
		}
	}
}
