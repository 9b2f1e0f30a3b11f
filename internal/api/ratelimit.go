package api

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// perClientLimiter hands out one token bucket per tenant (falling back to the
// client IP when no tenant header is present). Idle limiters are never evicted;
// tenant cardinality is low enough that this is fine.
type perClientLimiter struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rps   rate.Limit
	burst int
}

func newPerClientLimiter(rps float64, burst int) *perClientLimiter {
	return &perClientLimiter{m: map[string]*rate.Limiter{}, rps: rate.Limit(rps), burst: burst}
}

func (l *perClientLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.m[key]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.m[key] = lim
	}
	return lim
}

// RateLimitMiddleware rejects requests over the configured budget with 429.
// Health and metrics endpoints are exempt so probes keep working under load.
func (s *Server) RateLimitMiddleware(next http.Handler) http.Handler {
	lim := newPerClientLimiter(s.Cfg.RateRPS, s.Cfg.RateBurst)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		key := strings.TrimSpace(r.Header.Get("X-Tenant-Id"))
		if key == "" {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			key = host
		}
		if !lim.get(key).Allow() {
			writeProblem(w, http.StatusTooManyRequests, "Rate limited", "request budget exhausted", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}
