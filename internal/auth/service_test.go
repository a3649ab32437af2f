package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newJWTService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(Config{Mode: ModeJWT, JWT: JWTOptions{Secret: "s3cret", Issuer: "deafhub", Audience: []string{"admin"}}})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestIssueAndAuthenticate(t *testing.T) {
	svc := newJWTService(t)
	tok, err := svc.Issue("ops", []string{PermEventsRead}, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if tok.TokenType != "Bearer" || tok.ExpiresIn != 60 {
		t.Fatalf("unexpected token %+v", tok)
	}
	subject, err := svc.AuthenticateRequest(context.Background(), "Bearer "+tok.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if subject.Name != "ops" || !subject.HasPermission(PermEventsRead) || subject.HasPermission(PermConnectorsWrite) {
		t.Fatalf("unexpected subject %+v", subject)
	}
	if err := subject.Authorize(PermConnectorsWrite); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	svc := newJWTService(t)
	if _, err := svc.AuthenticateRequest(context.Background(), ""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected missing token, got %v", err)
	}
	if _, err := svc.AuthenticateRequest(context.Background(), "Bearer not.a.jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}

	other, err := NewService(Config{Mode: ModeJWT, JWT: JWTOptions{Secret: "different", Issuer: "deafhub", Audience: []string{"admin"}}})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	forged, _ := other.Issue("ops", AllPermissions(), time.Minute)
	if _, err := svc.AuthenticateRequest(context.Background(), "Bearer "+forged.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("token signed with another secret must fail, got %v", err)
	}

	svc.jwt.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, _ := svc.Issue("ops", AllPermissions(), time.Minute)
	svc.jwt.now = time.Now
	if _, err := svc.AuthenticateRequest(context.Background(), "Bearer "+stale.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token must fail, got %v", err)
	}
}

func TestNewServiceValidation(t *testing.T) {
	if _, err := NewService(Config{Mode: ModeJWT}); err == nil {
		t.Fatalf("jwt mode without secret should fail")
	}
	if _, err := NewService(Config{Mode: "oauth"}); err == nil {
		t.Fatalf("unknown mode should fail")
	}
	svc, err := NewService(Config{})
	if err != nil || svc.Mode() != ModeDisabled {
		t.Fatalf("empty mode should disable auth, got %v %v", svc.Mode(), err)
	}
	if _, err := svc.Issue("ops", nil, 0); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled service cannot issue, got %v", err)
	}
}

func TestGuard(t *testing.T) {
	svc := newJWTService(t)
	var seen *Subject
	handler := svc.Guard("connectors", Rule{
		http.MethodGet: {PermConnectorsRead},
		"*":            {PermConnectorsWrite},
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	reader, _ := svc.Issue("reader", []string{PermConnectorsRead}, time.Minute)
	cases := []struct {
		method, token string
		want          int
	}{
		{http.MethodGet, "", http.StatusUnauthorized},
		{http.MethodGet, reader.AccessToken, http.StatusNoContent},
		{http.MethodPatch, reader.AccessToken, http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, "/api/v1/connectors", nil)
		if tc.token != "" {
			req.Header.Set("Authorization", "Bearer "+tc.token)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s with token=%t: got %d, want %d", tc.method, tc.token != "", rec.Code, tc.want)
		}
	}
	if seen == nil || seen.Name != "reader" {
		t.Fatalf("subject should be stored in the request context, got %+v", seen)
	}

	disabled, _ := NewService(Config{Mode: ModeDisabled})
	rec := httptest.NewRecorder()
	disabled.Guard("events", nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("disabled auth should pass through, got %d", rec.Code)
	}
}
