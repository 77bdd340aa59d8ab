package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"chatrelay/pkg/models"
)

func TestJWTRoundTrip(t *testing.T) {
	ident := NewJWTIdentity("secret")
	tok, err := ident.IssueToken("alice", map[string]any{"name": "alice"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	id, err := ident.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id != "alice" {
		t.Fatalf("wrong subject: %s", id)
	}
}

func TestJWTRejectsBadTokens(t *testing.T) {
	ident := NewJWTIdentity("secret")

	if _, err := ident.Verify(""); err != ErrNoToken {
		t.Fatalf("empty token: expected ErrNoToken, got %v", err)
	}
	if _, err := ident.Verify("not.a.jwt"); err != ErrInvalidToken {
		t.Fatalf("garbage token: expected ErrInvalidToken, got %v", err)
	}

	other := NewJWTIdentity("different-secret")
	tok, err := other.IssueToken("alice", nil)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := ident.Verify(tok); err != ErrInvalidToken {
		t.Fatalf("wrong key: expected ErrInvalidToken, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	if got := BearerToken("Bearer abc"); got != "abc" {
		t.Fatalf("got %q", got)
	}
	if got := BearerToken("bearer abc"); got != "abc" {
		t.Fatalf("lowercase scheme: got %q", got)
	}
	if got := BearerToken("Basic abc"); got != "" {
		t.Fatalf("wrong scheme must yield empty, got %q", got)
	}
	if got := BearerToken(""); got != "" {
		t.Fatalf("empty header must yield empty, got %q", got)
	}
}

func TestGatewayInjectsUser(t *testing.T) {
	ident := NewJWTIdentity("secret")
	var seen models.UserID
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(GatewayMiddleware(SecConfig{RPS: 100, Burst: 100}, ident)(inner))
	defer srv.Close()

	tok, _ := ident.IssueToken("bob", nil)
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/poll/ping", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if seen != "bob" {
		t.Fatalf("handler saw user %q", seen)
	}
}

func TestGatewayRejectsUnauthenticated(t *testing.T) {
	ident := NewJWTIdentity("secret")
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	srv := httptest.NewServer(GatewayMiddleware(SecConfig{}, ident)(inner))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/poll/ping")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	// health probes pass without credentials
	resp, err = srv.Client().Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz should bypass auth, got %d", resp.StatusCode)
	}
}

func TestGatewayRateLimits(t *testing.T) {
	ident := NewJWTIdentity("secret")
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	srv := httptest.NewServer(GatewayMiddleware(SecConfig{RPS: 1, Burst: 2}, ident)(inner))
	defer srv.Close()

	tok, _ := ident.IssueToken("carol", nil)
	limited := false
	for i := 0; i < 5; i++ {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/poll/ping", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatal("burst exceeded without a 429")
	}
}

func TestGatewayCORSPreflight(t *testing.T) {
	ident := NewJWTIdentity("secret")
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	srv := httptest.NewServer(GatewayMiddleware(SecConfig{AllowedOrigins: []string{"https://app.example.com"}}, ident)(inner))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/poll/register", nil)
	req.Header.Set("Origin", "https://app.example.com")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight: expected 204, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("allow-origin wrong: %q", got)
	}
}
