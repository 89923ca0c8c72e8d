package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	idempotencyport "github.com/Harborline-Auto/vehicle-gallery-api/internal/ports/out/idempotency"
)

type RouterOptions struct {
	// AdminToken guards the staff routes. Empty disables them.
	AdminToken string

	// RateLimit is the sustained request rate allowed on /api. Zero disables limiting.
	RateLimit      rate.Limit
	RateLimitBurst int

	// Idempotency enables Idempotency-Key replay on POST /api/images. Nil disables it.
	Idempotency idempotencyport.Store

	// Metrics serves /metrics. Nil uses the default Prometheus registry.
	Metrics http.Handler
}

// NewRouter constructs the API HTTP router.
func NewRouter(s *Server, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeAPIError(w, req, http.StatusNotFound, "NOT_FOUND", "not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeAPIError(w, req, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})

	// Health and metrics are out-of-band and never rate limited.
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	metrics := opts.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metrics)

	r.Route("/api", func(api chi.Router) {
		if opts.RateLimit > 0 {
			api.Use(NewRateLimitMiddleware(opts.RateLimit, opts.RateLimitBurst))
		}

		api.Get("/images", s.ListImages)

		api.Group(func(staff chi.Router) {
			staff.Use(NewAdminTokenMiddleware(opts.AdminToken))

			if opts.Idempotency != nil {
				staff.With(NewIdempotencyMiddleware(opts.Idempotency)).Post("/images", s.AddImage)
			} else {
				staff.Post("/images", s.AddImage)
			}
			staff.Delete("/images/{id}", s.DeleteImage)
			staff.Put("/images/{id}/priority", s.SetImagePriority)

			staff.Get("/admin/image-cache", s.GetCacheStats)
			staff.Delete("/admin/image-cache", s.ClearCache)
			staff.Delete("/admin/image-cache/{vin}", s.ClearCacheForVIN)
		})
	})

	return r
}
