package healthcheck

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tinkerbell/sprout/internal/build"
)

//go:generate mockgen -destination mock.go -package healthcheck . Client

// Client defines health check behavior for a service.
type Client interface {
	// IsHealthy returns true if the backend is healthy, else false.
	IsHealthy(context.Context) bool
}

// NewHandler returns a gin.HandlerFunc that provides a health check endpoint behavior. On each
// request it queries client.IsHealthy and returns a 200 if the backend is healthy, else a 500.
// Uptime is reported relative to start.
func NewHandler(client Client, start time.Time) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		isHealthy := client.IsHealthy(ctx)

		res := struct {
			GitRev         string  `json:"git_rev"`
			Version        string  `json:"version"`
			Uptime         float64 `json:"uptime"`
			Goroutines     int     `json:"goroutines"`
			BackendHealthy bool    `json:"backend_status"`
		}{
			GitRev:         build.GetGitRevision(),
			Version:        build.GetVersion(),
			Uptime:         time.Since(start).Seconds(),
			Goroutines:     runtime.NumGoroutine(),
			BackendHealthy: isHealthy,
		}

		status := http.StatusOK
		if !isHealthy {
			status = http.StatusInternalServerError
		}

		ctx.JSON(status, res)
	}
}

// Configure configures router with a /healthz endpoint. Uptime is reported from the moment
// Configure is called.
func Configure(router gin.IRouter, client Client) {
	router.GET("/healthz", NewHandler(client, time.Now()))
}
