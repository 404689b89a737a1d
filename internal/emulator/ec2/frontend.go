package ec2

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	"github.com/tinkerbell/sprout/internal/emulator/ec2/internal/staticroute"
	"github.com/tinkerbell/sprout/internal/ginutil"
	"github.com/tinkerbell/sprout/internal/http/httperror"
)

// ErrInstanceNotFound indicates an instance could not be found for the given identifier.
var ErrInstanceNotFound = errors.New("instance not found")

//go:generate mockgen -destination mock.go -package ec2 . Client

// Client is a backend for retrieving EC2 Instance data.
type Client interface {
	// GetEC2Instance retrieves an Instance associated with ip. If no Instance can be
	// found, it should return ErrInstanceNotFound.
	GetEC2Instance(_ context.Context, ip string) (Instance, error)
}

// Frontend is an EC2 HTTP API frontend. It is responsible for configuring routers with handlers
// for the AWS EC2 instance metadata API including the IMDSv2 session token endpoint.
type Frontend struct {
	log          logr.Logger
	client       Client
	tokens       *Tokens
	requireToken bool
}

// Option configures a Frontend.
type Option func(*Frontend)

// WithTokenRequired rejects metadata requests that do not carry a session token, mirroring an
// instance configured with HttpTokens=required.
func WithTokenRequired(required bool) Option {
	return func(f *Frontend) {
		f.requireToken = required
	}
}

// WithClock sets the clock used to expire session tokens.
func WithClock(c clock.Clock) Option {
	return func(f *Frontend) {
		f.tokens = NewTokens(c)
	}
}

// New creates a new Frontend.
func New(logger logr.Logger, client Client, opts ...Option) Frontend {
	f := Frontend{
		log:    logger,
		client: client,
		tokens: NewTokens(clock.New()),
	}
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

// Configure configures router with the supported AWS EC2 instance metadata API endpoints. Data is
// served under both the latest and the 2009-04-04 API versions.
func (f Frontend) Configure(router gin.IRouter) {
	ginutil.SlashAgnosticRouter{IRouter: router}.PUT(tokenEndpoint, f.issueToken)

	for _, version := range []string{"/latest", "/2009-04-04"} {
		group := router.Group(version, f.authorize)
		f.configureVersion(group)
	}
}

func (f Frontend) configureVersion(group *gin.RouterGroup) {
	router := ginutil.SlashAgnosticRouter{IRouter: group}
	builder := staticroute.NewBuilder()

	for _, route := range dataRoutes {
		f.bindData(router, route.Endpoint, route.Filter)
		builder.Add(route.Endpoint)
	}

	// Key endpoints are parameterised so they're bound outside of the listing builder.
	builder.Add(publicKeysEndpoint)
	f.bindData(router, publicKeysEndpoint, publicKeyIndex)
	f.bindKey(router, publicKeysEndpoint+"/:index", func(PublicKey) string { return "openssh-key" })
	f.bindKey(router, publicKeysEndpoint+"/:index/openssh-key", func(k PublicKey) string { return k.Key })

	for _, route := range builder.Build() {
		body := join(route.Children)
		router.GET(route.Endpoint, func(ctx *gin.Context) {
			ctx.String(http.StatusOK, body)
		})
	}
}

func (f Frontend) bindData(router gin.IRouter, endpoint string, filter filterFunc) {
	router.GET(endpoint, func(ctx *gin.Context) {
		instance, ok := f.instance(ctx)
		if !ok {
			return
		}
		ctx.String(http.StatusOK, filter(instance))
	})
}

func (f Frontend) bindKey(router gin.IRouter, endpoint string, filter func(PublicKey) string) {
	router.GET(endpoint, func(ctx *gin.Context) {
		instance, ok := f.instance(ctx)
		if !ok {
			return
		}

		key, err := lookupKey(instance, ctx.Param("index"))
		if err != nil {
			abort(ctx, err)
			return
		}
		ctx.String(http.StatusOK, filter(key))
	})
}

// instance retrieves the Instance for the requesting client aborting the request on failure.
func (f Frontend) instance(ctx *gin.Context) (Instance, bool) {
	instance, err := f.getInstance(ctx, ctx.Request)
	if err != nil {
		abort(ctx, err)
		return Instance{}, false
	}
	return instance, true
}

// getInstance is a framework agnostic method for retrieving Instance data based on a remote
// address.
func (f Frontend) getInstance(ctx context.Context, r *http.Request) (Instance, error) {
	ip, err := remoteAddrIP(r)
	if err != nil {
		f.log.Info("Invalid remote address", "error", err)
		return Instance{}, httperror.New(http.StatusBadRequest, "invalid remote addr")
	}

	instance, err := f.client.GetEC2Instance(ctx, ip)
	if err != nil {
		if errors.Is(err, ErrInstanceNotFound) {
			return Instance{}, httperror.New(http.StatusNotFound, "no instance found for source ip")
		}
		return Instance{}, httperror.Wrap(http.StatusInternalServerError, err)
	}

	return instance, nil
}

// abort ends the request with the status code carried by err, or a 500 if it carries none.
func abort(ctx *gin.Context, err error) {
	var httpErr *httperror.E
	if errors.As(err, &httpErr) {
		_ = ctx.AbortWithError(httpErr.StatusCode, err)
		ctx.String(httpErr.StatusCode, httpErr.Error())
		return
	}
	_ = ctx.AbortWithError(http.StatusInternalServerError, err)
}

// remoteAddrIP parses r.RemoteAddr and returns the IP address. It expects the address to
// contain a port.
func remoteAddrIP(r *http.Request) (string, error) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "", err
	}

	if net.ParseIP(host) == nil {
		return "", errors.New("invalid ip")
	}

	return host, nil
}

func join(v []string) string {
	return strings.Join(v, "\n")
}
