// Package ginutil holds gin helpers shared by the emulator routes.
package ginutil

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// SlashAgnosticRouter wraps a gin.IRouter so every endpoint is reachable with and without a
// trailing slash. Metadata clients disagree on whether directory listings end in a slash, and
// gin's own redirect answers PUT and HEAD requests with a 307 that clients don't follow.
type SlashAgnosticRouter struct {
	gin.IRouter
}

// Handle registers handlers for method on endpoint and on its alternate form.
func (r SlashAgnosticRouter) Handle(method, endpoint string, handlers ...gin.HandlerFunc) gin.IRoutes {
	return r.IRouter.
		Handle(method, endpoint, handlers...).
		Handle(method, Alternate(endpoint), handlers...)
}

// GET registers handlers for GET and HEAD requests on endpoint and its alternate form.
func (r SlashAgnosticRouter) GET(endpoint string, handlers ...gin.HandlerFunc) gin.IRoutes {
	r.Handle(http.MethodHead, endpoint, handlers...)
	return r.Handle(http.MethodGet, endpoint, handlers...)
}

// PUT registers handlers for PUT requests on endpoint and its alternate form.
func (r SlashAgnosticRouter) PUT(endpoint string, handlers ...gin.HandlerFunc) gin.IRoutes {
	return r.Handle(http.MethodPut, endpoint, handlers...)
}

// Alternate returns endpoint with its trailing slash toggled. Only a single slash is ever
// added or removed so /meta-data/instance-id/ never becomes /meta-data/instance-id//.
func Alternate(endpoint string) string {
	if strings.HasSuffix(endpoint, "/") {
		return strings.TrimSuffix(endpoint, "/")
	}
	return endpoint + "/"
}
