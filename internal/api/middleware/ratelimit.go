package middleware

import (
	"encoding/json"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// maxTrackedIPs bounds the limiter map; past it the map is reset wholesale.
// Per-IP eviction is not worth the bookkeeping for a single-user deployment.
const maxTrackedIPs = 10000

// ipLimiters hands out one token bucket per client IP.
type ipLimiters struct {
	mu    sync.Mutex
	byIP  map[string]*rate.Limiter
	rps   rate.Limit
	burst int
}

func (l *ipLimiters) allow(ip string) bool {
	l.mu.Lock()
	lim, ok := l.byIP[ip]
	if !ok {
		if len(l.byIP) >= maxTrackedIPs {
			l.byIP = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(l.rps, l.burst)
		l.byIP[ip] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// RateLimit caps requests per client IP. The IP comes from chi's RealIP
// middleware when set, the raw remote address otherwise.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	limiters := &ipLimiters{
		byIP:  make(map[string]*rate.Limiter),
		rps:   rate.Limit(rps),
		burst: burst,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.Header.Get("X-Real-IP")
			if ip == "" {
				ip = r.RemoteAddr
			}
			if !limiters.allow(ip) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
