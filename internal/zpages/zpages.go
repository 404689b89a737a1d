// Package zpages configures the operational endpoints of the metadata emulator.
package zpages

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tinkerbell/sprout/internal/healthcheck"
	"github.com/tinkerbell/sprout/internal/metrics"
)

// Configure configures router with /metrics served from registry and /healthz backed by backend.
func Configure(router gin.IRouter, registry *prometheus.Registry, backend healthcheck.Client) {
	metrics.Configure(router, registry)
	healthcheck.Configure(router, backend)
}
