package httpapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	idempotencyport "github.com/Harborline-Auto/vehicle-gallery-api/internal/ports/out/idempotency"
)

const (
	idempotencyKeyHeader      = "Idempotency-Key"
	idempotencyReplayedHeader = "Idempotency-Replayed"
	maxIdempotencyKeyLen      = 255
)

// NewIdempotencyMiddleware replays the stored response for a retried request that
// carries the same Idempotency-Key, route and body. Requests without the header pass
// through untouched. Responses with a 5xx status are not stored so the client may retry.
//
// Store failures are logged and the request proceeds as if no key was sent.
func NewIdempotencyMiddleware(store idempotencyport.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKeyLen {
				writeAPIError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", "Idempotency-Key is too long",
					map[string]any{"parameter": idempotencyKeyHeader})
				return
			}

			var body []byte
			if r.Body != nil {
				b, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
				if err != nil {
					writeAPIError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "could not read request body", nil)
					return
				}
				_ = r.Body.Close()
				body = b
				r.Body = io.NopCloser(bytes.NewReader(b))
			}
			sum := sha256.Sum256(body)

			fp := idempotencyport.Fingerprint{
				Key:      idempotencyport.Key(key),
				Method:   r.Method,
				Route:    idempotencyRoute(r),
				BodyHash: hex.EncodeToString(sum[:]),
			}
			logger := log.WithFields(log.Fields{
				"requestID":      middleware.GetReqID(r.Context()),
				"idempotencyKey": key,
				"route":          fp.Route,
			})

			rec, ok, err := store.Get(r.Context(), fp)
			if err != nil {
				logger.WithError(err).Warn("Idempotency lookup failed.")
				next.ServeHTTP(w, r)
				return
			}
			if ok {
				logger.Debug("Replaying stored response.")
				if rec.ContentType != "" {
					w.Header().Set("Content-Type", rec.ContentType)
				}
				w.Header().Set(idempotencyReplayedHeader, "true")
				w.WriteHeader(rec.StatusCode)
				_, _ = w.Write(rec.Body)
				return
			}

			var buf bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&buf)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status >= http.StatusInternalServerError {
				return
			}
			if err := store.Put(r.Context(), fp, idempotencyport.Record{
				StatusCode:  status,
				ContentType: ww.Header().Get("Content-Type"),
				Body:        buf.Bytes(),
			}); err != nil {
				logger.WithError(err).Warn("Idempotency store failed.")
			}
		})
	}
}

func idempotencyRoute(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
