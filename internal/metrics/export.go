package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewServerRegistry returns a registry pre-populated with the Go runtime and process collectors.
// The agent is short lived so it uses a bare registry instead.
func NewServerRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// Configure configures router with a /metrics endpoint serving registry. Errors encountered
// while gathering are counted on registry itself.
func Configure(router gin.IRouter, registry *prometheus.Registry) {
	handler := promhttp.InstrumentMetricHandler(
		registry,
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{
			Registry:          registry,
			EnableOpenMetrics: true,
		}),
	)
	router.GET("/metrics", gin.WrapH(handler))
}

// WriteTextfile writes every metric gathered by g to path in the text exposition format, for
// pickup by the node exporter's textfile collector. The file is replaced atomically.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}
