package logger

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
)

// sessionTokenHeader carries the IMDSv2 session token. Only its presence is logged.
const sessionTokenHeader = "X-aws-ec2-metadata-token"

// Middleware creates a gin middleware that logs every request served by the emulator.
// Successful requests are logged at V(1) so a guest polling metadata doesn't flood the log,
// client errors at info and server errors as errors.
func Middleware(logger logr.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path += "?" + c.Request.URL.RawQuery
		}

		status := c.Writer.Status()
		event := logger.WithValues(
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"path", path,
			"status_code", status,
			"bytes", c.Writer.Size(),
			"session_token", c.GetHeader(sessionTokenHeader) != "",
			"latency", latency,
		)

		switch {
		case status >= 500:
			errs := c.Errors.Errors()
			msg := "no error recorded"
			if len(errs) > 0 {
				msg = errs[0]
			}
			event.Error(errors.New(msg), "Request failed", "all_errors", strings.Join(errs, "; "))
		case status >= 400:
			event.Info("Request rejected")
		default:
			event.V(1).Info("Request served")
		}
	}
}
