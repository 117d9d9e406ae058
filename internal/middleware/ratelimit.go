package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"atelier/internal/domain"
)

type window struct {
	count int
	start time.Time
}

// RateLimiter counts requests per caller in fixed windows. The first request
// of a window sets its start; once max requests land inside the window every
// further one is rejected until the window elapses.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	max     int
	per     time.Duration

	now func() time.Time
}

func NewRateLimiter(max int, per time.Duration) *RateLimiter {
	if max <= 0 {
		max = 10
	}
	if per <= 0 {
		per = 60 * time.Second
	}
	return &RateLimiter{
		windows: make(map[string]*window),
		max:     max,
		per:     per,
		now:     time.Now,
	}
}

// Allow records one request for the key and reports whether it fits the
// current window.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[key]
	if !ok || now.Sub(w.start) >= rl.per {
		rl.windows[key] = &window{count: 1, start: now}
		return true
	}
	if w.count >= rl.max {
		return false
	}
	w.count++
	return true
}

// Handler keys the limit on the authenticated user, falling back to the
// client IP for unauthenticated routes.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := UserIDFromContext(r.Context())
		if key == "" {
			key = clientIP(r)
		}
		if !rl.Allow(key) {
			http.Error(w, domain.ErrRateLimited.Error(), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		for _, part := range strings.Split(xf, ",") {
			ip := strings.TrimSpace(part)
			if ip == "" {
				continue
			}
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		if net.ParseIP(host) != nil {
			return host
		}
	} else if net.ParseIP(r.RemoteAddr) != nil {
		return r.RemoteAddr
	}

	return r.RemoteAddr
}
