package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/merchkit/discount-engine/internal/service"
	"github.com/merchkit/discount-engine/pkg/health"
	"github.com/merchkit/discount-engine/pkg/middleware"
)

// NewRouter creates a chi router with all discount engine routes registered.
func NewRouter(
	discountService *service.DiscountService,
	healthHandler *health.Handler,
	logger *slog.Logger,
	pprofAllowedCIDRs []string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.Tracing("discount-engine"))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics("discount"))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// Debug endpoints, gated to the allowed networks.
	if len(pprofAllowedCIDRs) > 0 {
		middleware.RegisterPprof(r, pprofAllowedCIDRs, logger)
	}

	discountHandler := NewDiscountHandler(discountService, logger)

	r.Route("/api/v1/discounts", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(StoreIDFromHeader)

		r.Post("/", discountHandler.CreateDiscount)
		r.Get("/", discountHandler.ListDiscounts)

		// Storefront endpoints.
		r.Post("/evaluate", discountHandler.EvaluateDiscount)
		r.Post("/redeem", discountHandler.RedeemDiscount)
		r.With(middleware.CacheControl(60)).Get("/code/{code}", discountHandler.GetDiscountByCode)

		r.Get("/{id}", discountHandler.GetDiscount)
		r.Put("/{id}", discountHandler.UpdateDiscount)
		r.Post("/{id}/deactivate", discountHandler.DeactivateDiscount)
	})

	return r
}
