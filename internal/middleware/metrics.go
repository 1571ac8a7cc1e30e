package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"media-archive/internal/metrics"

	"github.com/gorilla/mux"
)

// MetricsConfig holds configuration for the metrics middleware
type MetricsConfig struct {
	// SkipPaths are path prefixes that are never recorded.
	SkipPaths []string
}

// DefaultMetricsConfig leaves out the scrape endpoint and probes.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		SkipPaths: []string{"/metrics", "/health", "/livez", "/readyz"},
	}
}

// Metrics records request counts, latency and in-flight requests. It must
// be installed with router.Use so the matched route is known.
func Metrics(config MetricsConfig) mux.MiddlewareFunc {
	skip := func(path string) bool {
		return slices.ContainsFunc(config.SkipPaths, func(p string) bool { return strings.HasPrefix(path, p) })
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			metrics.HTTPRequestsInFlight.Inc()
			defer metrics.HTTPRequestsInFlight.Dec()

			aw := newAccessWriter(w)
			start := time.Now()
			next.ServeHTTP(aw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(aw.status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// routeLabel returns the route template ("/api/assets/{digest}/{kind}")
// so digests and session ids never become label values.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}
