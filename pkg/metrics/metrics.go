// Package metrics provides the Prometheus registry and the small HTTP surface
// (/metrics and /health) exposed while a fetch run is in progress.
//
// Metrics are defined in their respective packages (client, cache, fetch)
// and registered through promauto, so importing this package never creates
// an import cycle.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registry.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - et_requests_total{endpoint, status} (Counter): requests by endpoint and HTTP status
//   - et_request_duration_seconds{endpoint} (Histogram): request duration
//   - et_errors_total{class} (Counter): errors by class (client, server, network)
//   - et_retries_total{error_class} (Counter): retry attempts
//   - et_retry_backoff_seconds{error_class} (Histogram): backoff durations
//   - et_retry_exhausted_total{error_class} (Counter): bounded retry cycles that ran out
//   - et_decisions_total{decision} (Counter): operator decisions after exhaustion
//
// Cache Metrics (pkg/cache):
//   - et_cache_hits_total (Counter), et_cache_misses_total (Counter)
//   - et_cache_errors_total{operation} (Counter)
//
// Fetch Metrics (pkg/fetch):
//   - et_fields_total{outcome} (Counter): committed or discarded fields
//   - et_fields_remaining (Gauge): fields left in the current queue
//
// Example Prometheus Queries:
//
//   # Field failure ratio
//   sum(rate(et_fields_total{outcome="discarded"}[1h])) / sum(rate(et_fields_total[1h]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(et_request_duration_seconds_bucket[5m]))

// Health is the body served on /health.
type Health struct {
	Status string    `json:"status"`
	Since  time.Time `json:"since"`
}

// NewRouter returns a chi router serving /metrics and /health.
func NewRouter(started time.Time) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, Health{Status: "ok", Since: started})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

// Serve runs the metrics router on addr until ctx is done.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(time.Now()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("Serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
