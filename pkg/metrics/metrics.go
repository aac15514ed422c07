// Package metrics exposes the Prometheus collectors of the service:
// HTTP request metrics, listing-cache hit rates, archive job outcomes,
// and antivirus verdicts. All collectors live on one dedicated registry
// so the /metrics endpoint never leaks Go runtime metrics twice when
// embedded into a larger process.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the metrics registry with the standard process
// and Go collectors. Safe to call more than once.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return registry != nil
}

// GetRegistry returns the registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// Handler returns the /metrics HTTP handler. With metrics disabled it
// serves 404.
func Handler() http.Handler {
	if registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
