package middleware

import (
	"net/http"
	"sync/atomic"
)

// MetricsCollector feeds the /metrics endpoint: one counter for requests
// served, one for responses that left with a 4xx/5xx status.
type MetricsCollector struct {
	requests *atomic.Int64
	errors   *atomic.Int64
}

func NewMetricsCollector(requests, errors *atomic.Int64) *MetricsCollector {
	return &MetricsCollector{requests: requests, errors: errors}
}

func (mc *MetricsCollector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mc.requests.Add(1)
		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)
		if rw.statusCode >= http.StatusBadRequest {
			mc.errors.Add(1)
		}
	})
}
