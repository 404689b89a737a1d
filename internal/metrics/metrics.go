// Package metrics provides the prometheus metrics of the agent and the request instrumentation
// of the emulator's HTTP server.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	routeLabel      = "route"
	methodLabel     = "method"
	statusCodeLabel = "status_code"
)

// InstrumentRequestCount adds a CounterVec to registrar and returns a handler that increments
// the count with every request.
func InstrumentRequestCount(registrar prometheus.Registerer) gin.HandlerFunc {
	m := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imds_requests_total",
			Help: "Count of metadata requests",
		},
		[]string{routeLabel, methodLabel, statusCodeLabel},
	)

	registrar.MustRegister(m)

	return func(ctx *gin.Context) {
		ctx.Next()
		m.WithLabelValues(
			ctx.FullPath(),
			ctx.Request.Method,
			strconv.Itoa(ctx.Writer.Status()),
		).Inc()
	}
}

// InstrumentRequestDuration adds a HistogramVec to registrar and returns a handler that records
// request durations with every request.
func InstrumentRequestDuration(registrar prometheus.Registerer) gin.HandlerFunc {
	m := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imds_request_duration_seconds",
			Help:    "Histogram of metadata request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{routeLabel, methodLabel},
	)

	registrar.MustRegister(m)

	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		m.WithLabelValues(ctx.FullPath(), ctx.Request.Method).Observe(time.Since(start).Seconds())
	}
}
