package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"

	"playshelf/internal/common/logging"
	clientlimit "playshelf/internal/common/ratelimit"
	"playshelf/internal/metrics"
)

// RateLimit rejects clients over their request budget with 429. Paths in
// exempt are never limited.
func RateLimit(limiter clientlimit.Limiter, logger logging.Logger, exempt ...string) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	skip := make(map[string]bool, len(exempt))
	for _, p := range exempt {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			decision, err := limiter.Allow(r.Context(), clientKey(r))
			if err != nil {
				logger.WithContext(r.Context()).Warn("Client rate limit check failed, allowing request",
					logging.String("error", err.Error()))
			}
			if !decision.Allowed {
				metrics.ClientRejections.Inc()
				secs := int(math.Ceil(decision.RetryAfter.Seconds()))
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate_limit","message":"too many requests","retry_after_seconds":` + strconv.Itoa(secs) + `}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientKey identifies the caller by remote IP
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
