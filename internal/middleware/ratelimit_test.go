package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterFixedWindow(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	rl := NewRateLimiter(3, 60*time.Second)
	rl.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		if !rl.Allow("u1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("u1") {
		t.Fatal("fourth request in window should be rejected")
	}

	// Other callers are independent.
	if !rl.Allow("u2") {
		t.Fatal("different key must not share the window")
	}

	// 59s in: still the same window.
	current = base.Add(59 * time.Second)
	if rl.Allow("u1") {
		t.Fatal("request before window elapses should be rejected")
	}

	current = base.Add(60 * time.Second)
	if !rl.Allow("u1") {
		t.Fatal("window elapsed, request should be allowed again")
	}
}

func TestRateLimiterDefaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	if rl.max != 10 || rl.per != 60*time.Second {
		t.Fatalf("defaults = %d/%s, want 10/60s", rl.max, rl.per)
	}
}

func TestRateLimitHandlerKeysOnUser(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	var hits int
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))

	do := func(userID string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/customizations/x", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		req = req.WithContext(ContextWithUserID(req.Context(), userID))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := do("alice"); code != http.StatusOK {
		t.Fatalf("first request: %d", code)
	}
	if code := do("alice"); code != http.StatusTooManyRequests {
		t.Fatalf("second request for same user: %d, want 429", code)
	}
	if code := do("bob"); code != http.StatusOK {
		t.Fatalf("other user should not be limited: %d", code)
	}
	if hits != 2 {
		t.Fatalf("handler hits = %d, want 2", hits)
	}
}

func TestRateLimitHandlerFallsBackToIP(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	do := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := do("10.0.0.1:1111"); code != http.StatusOK {
		t.Fatalf("first request: %d", code)
	}
	if code := do("10.0.0.1:2222"); code != http.StatusTooManyRequests {
		t.Fatalf("same ip different port: %d, want 429", code)
	}
	if code := do("10.0.0.2:1111"); code != http.StatusOK {
		t.Fatalf("different ip: %d", code)
	}
}

func TestAuthJWTRoundTrip(t *testing.T) {
	token, err := SignJWT("secret", TokenClaims{Sub: "u1", Exp: time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}

	var gotUser string
	h := AuthJWT("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/customizations/x", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if gotUser != "u1" {
		t.Fatalf("user id = %q", gotUser)
	}
}

func TestAuthJWTRejectsBadTokens(t *testing.T) {
	h := AuthJWT("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	cases := []struct {
		name  string
		setup func(r *http.Request)
	}{
		{"missing header", func(r *http.Request) {}},
		{"wrong scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") }},
		{"garbage token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer not.a.jwt") }},
		{"wrong secret", func(r *http.Request) {
			token, _ := SignJWT("other", TokenClaims{Sub: "u1"})
			r.Header.Set("Authorization", "Bearer "+token)
		}},
		{"expired", func(r *http.Request) {
			token, _ := SignJWT("secret", TokenClaims{Sub: "u1", Exp: time.Now().Add(-time.Hour).Unix()})
			r.Header.Set("Authorization", "Bearer "+token)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/customizations/x", nil)
			tc.setup(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
		})
	}
}
