package httpapi

import (
	"math"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const rateLimitLogInterval = 10 * time.Second

// NewRateLimitMiddleware applies a shared token bucket to every request it wraps.
// Rejections are logged at most once per rateLimitLogInterval.
func NewRateLimitMiddleware(r rate.Limit, b int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(r, b)
	logSometimes := rate.Sometimes{
		First:    1,
		Interval: rateLimitLogInterval,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			res := limiter.Reserve()
			ok, delay := res.OK(), res.Delay()
			if ok && delay > 0 || !ok {
				// Hand the token back; this request is rejected, not queued.
				res.Cancel()
				logSometimes.Do(func() {
					log.WithField("path", req.URL.Path).Warn("Too many requests.")
				})

				// If not ok, delay is infinite.
				if ok {
					w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
				}
				writeAPIError(w, req, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}

			next.ServeHTTP(w, req)
		})
	}
}
