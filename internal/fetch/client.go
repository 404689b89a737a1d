// Package fetch implements the HTTP client used to talk to instance metadata services. Every
// request is bounded by a retry Policy and failures are classified as transient or not
// applicable so callers can decide whether a datasource exists at all.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxBodySize caps the size of any metadata document.
const maxBodySize = 32 << 20

var errEmptyToken = errors.New("empty token")

// Request describes a single metadata request.
type Request struct {
	Method string
	URL    string
	Header http.Header
}

// Client fetches metadata documents. A Client is scoped to one datasource probe; token state
// lives for the lifetime of the Client.
type Client struct {
	log      logr.Logger
	policy   Policy
	http     *http.Client
	clock    clock.Clock
	newTimer func() backoff.Timer
	header   http.Header
	check    func(*http.Response) error
	observe  func(outcome string)
	tokens   *tokenSource
	tokenCfg *TokenConfig
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) { client.http = c }
}

// WithClock replaces the real clock. Backoff intervals and token expiry follow it.
func WithClock(c clock.Clock) Option {
	return func(client *Client) { client.clock = c }
}

// WithTimer replaces the timer used to wait between attempts.
func WithTimer(fn func() backoff.Timer) Option {
	return func(client *Client) { client.newTimer = fn }
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(client *Client) { client.header.Add(key, value) }
}

// WithResponseCheck validates successful responses. A non-nil error from fn marks the response
// not applicable.
func WithResponseCheck(fn func(*http.Response) error) Option {
	return func(client *Client) { client.check = fn }
}

// WithObserver is called after every attempt with "success", "not_applicable" or "transient".
func WithObserver(fn func(outcome string)) Option {
	return func(client *Client) { client.observe = fn }
}

// WithToken enables the session token protocol described by cfg.
func WithToken(cfg TokenConfig) Option {
	return func(client *Client) { client.tokenCfg = &cfg }
}

// New creates a Client bounded by policy.
func New(logger logr.Logger, policy Policy, opts ...Option) *Client {
	c := &Client{
		log:     logger,
		policy:  policy,
		http:    &http.Client{Transport: defaultTransport()},
		clock:   clock.New(),
		header:  make(http.Header),
		observe: func(string) {},
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.newTimer == nil {
		clk := c.clock
		c.newTimer = func() backoff.Timer { return &clockTimer{clock: clk} }
	}

	if c.tokenCfg != nil {
		c.tokens = newTokenSource(*c.tokenCfg, c)
	}

	return c
}

func defaultTransport() http.RoundTripper {
	t := http.DefaultTransport.(*http.Transport).Clone()

	// Link-local metadata services must never be reached through a proxy.
	t.Proxy = nil

	return otelhttp.NewTransport(t)
}

// Get fetches url with GET.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	return c.Fetch(ctx, Request{Method: http.MethodGet, URL: url})
}

// Fetch performs req, retrying transient failures until the policy is exhausted. Errors are
// always *Error.
func (c *Client) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if c.policy.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.policy.Budget)
		defer cancel()
	}

	var (
		body     []byte
		lastErr  error
		attempts int
	)

	operation := func() error {
		attempts++

		b, err := c.attempt(ctx, req)
		if err != nil {
			lastErr = err
			if IsNotApplicable(err) {
				c.observe(ClassNotApplicable.String())
				return backoff.Permanent(err)
			}
			c.observe(ClassTransient.String())
			return err
		}

		c.observe("success")
		body = b
		return nil
	}

	notify := func(err error, next time.Duration) {
		c.log.V(1).Info("Retrying fetch", "url", req.URL, "attempt", attempts, "backoff", next, "error", err.Error())
	}

	err := backoff.RetryNotifyWithTimer(operation, c.policy.backOff(ctx, c.clock), notify, c.newTimer())
	if err == nil {
		return body, nil
	}

	if IsNotApplicable(err) {
		return nil, err
	}

	if lastErr == nil {
		lastErr = err
	}

	return nil, &Error{
		Class:      ClassTransient,
		StatusCode: StatusCode(lastErr),
		URL:        req.URL,
		Err:        fmt.Errorf("%w after %d attempt(s): %v", ErrBudgetExhausted, attempts, lastErr),
	}
}

// attempt performs a single request including any token negotiation.
func (c *Client) attempt(ctx context.Context, req Request) ([]byte, error) {
	var token string
	if c.tokens != nil {
		var err error
		if token, err = c.tokens.current(ctx); err != nil {
			return nil, err
		}
	}

	resp, body, err := c.do(ctx, req, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && c.tokens != nil {
		c.log.V(1).Info("Request unauthorized, obtaining a new token", "url", req.URL, "had_token", token != "")

		if token, err = c.tokens.challenged(ctx); err != nil {
			return nil, err
		}

		if resp, body, err = c.do(ctx, req, token); err != nil {
			return nil, err
		}
	}

	if err := classify(req.URL, resp.StatusCode); err != nil {
		return nil, err
	}

	if c.check != nil {
		if err := c.check(resp); err != nil {
			return nil, &Error{Class: ClassNotApplicable, StatusCode: resp.StatusCode, URL: req.URL, Err: err}
		}
	}

	return body, nil
}

func (c *Client) do(ctx context.Context, r Request, token string) (*http.Response, []byte, error) {
	ctx, cancel := c.attemptContext(ctx)
	defer cancel()

	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, r.URL, nil)
	if err != nil {
		return nil, nil, &Error{Class: ClassNotApplicable, URL: r.URL, Err: err}
	}

	for k, v := range c.header {
		req.Header[k] = v
	}
	for k, v := range r.Header {
		req.Header[k] = v
	}
	if token != "" {
		req.Header.Set(c.tokens.cfg.Header, token)
	}

	resp, err := c.roundTrip(req)
	if err != nil {
		return nil, nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	resp.Body.Close()
	if err != nil {
		return nil, nil, &Error{Class: ClassTransient, StatusCode: resp.StatusCode, URL: r.URL, Err: err}
	}

	return resp, body, nil
}

// send performs req reading the full body. It is used for token requests.
func (c *Client) send(req *http.Request) ([]byte, int, error) {
	resp, err := c.roundTrip(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, resp.StatusCode, &Error{Class: ClassTransient, StatusCode: resp.StatusCode, URL: req.URL.String(), Err: err}
	}

	return body, resp.StatusCode, nil
}

func (c *Client) roundTrip(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		// Refused connections, resets, DNS failures and timeouts are all worth retrying.
		return nil, &Error{Class: ClassTransient, URL: req.URL.String(), Err: err}
	}
	return resp, nil
}

func (c *Client) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.policy.Timeout > 0 {
		return context.WithTimeout(ctx, c.policy.Timeout)
	}
	return context.WithCancel(ctx)
}
