package fetch

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// TokenMode controls when a session token is first obtained.
type TokenMode string

const (
	// TokenEager obtains a token before the first request.
	TokenEager TokenMode = "eager"

	// TokenChallenge sends requests unauthenticated until the service answers 401.
	TokenChallenge TokenMode = "challenge"
)

// TokenConfig describes a token protected metadata protocol such as EC2 IMDSv2.
type TokenConfig struct {
	// URL is the token issuing endpoint. Tokens are requested with PUT.
	URL string

	// TTL is the lifetime requested for each token.
	TTL time.Duration

	// Skew refreshes a token this long before it expires.
	Skew time.Duration

	// TTLHeader carries the requested TTL in seconds on the token request.
	TTLHeader string

	// Header carries the token on authenticated requests.
	Header string

	Mode TokenMode

	// AllowFallback degrades the session to unauthenticated requests when the token
	// endpoint answers that it doesn't issue tokens (403, 404 or 405). Transient token
	// failures are retried like any other request.
	AllowFallback bool
}

// tokenSource caches a single token and its expiry. It is safe for concurrent use.
type tokenSource struct {
	cfg    TokenConfig
	client *Client

	mu       sync.Mutex
	token    string
	expiry   time.Time
	required bool
	fallback bool
}

func newTokenSource(cfg TokenConfig, c *Client) *tokenSource {
	if cfg.Mode == "" {
		cfg.Mode = TokenEager
	}
	return &tokenSource{
		cfg:      cfg,
		client:   c,
		required: cfg.Mode == TokenEager,
	}
}

// current returns the token to present on the next request. An empty token means the request
// should be sent unauthenticated.
func (s *tokenSource) current(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fallback || !s.required {
		return "", nil
	}

	if s.token != "" && s.client.clock.Now().Before(s.expiry.Add(-s.cfg.Skew)) {
		return s.token, nil
	}

	return s.refreshLocked(ctx, s.cfg.AllowFallback)
}

// challenged handles a 401. It discards any cached token and obtains a new one. A session
// that fell back to unauthenticated requests gets a single chance to obtain a token.
func (s *tokenSource) challenged(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.required = true
	s.token = ""

	if s.fallback {
		s.fallback = false
		return s.refreshLocked(ctx, false)
	}

	return s.refreshLocked(ctx, s.cfg.AllowFallback)
}

func (s *tokenSource) refreshLocked(ctx context.Context, allowFallback bool) (string, error) {
	issued := s.client.clock.Now()

	token, err := s.request(ctx)
	if err != nil {
		if allowFallback && tokensUnsupported(err) {
			s.client.log.Info("Token endpoint does not issue tokens, continuing unauthenticated", "url", s.cfg.URL, "error", err.Error())
			s.fallback = true
			return "", nil
		}
		return "", err
	}

	s.token = token
	s.expiry = issued.Add(s.cfg.TTL)
	s.client.log.V(1).Info("Obtained session token", "url", s.cfg.URL, "expiry", s.expiry)

	return s.token, nil
}

func (s *tokenSource) request(ctx context.Context) (string, error) {
	ctx, cancel := s.client.attemptContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.cfg.URL, nil)
	if err != nil {
		return "", &Error{Class: ClassNotApplicable, URL: s.cfg.URL, Err: err}
	}
	if s.cfg.TTLHeader != "" {
		req.Header.Set(s.cfg.TTLHeader, strconv.Itoa(int(s.cfg.TTL.Seconds())))
	}

	body, status, err := s.client.send(req)
	if err != nil {
		return "", err
	}
	if err := classify(s.cfg.URL, status); err != nil {
		return "", err
	}

	token := strings.TrimSpace(string(body))
	if token == "" {
		return "", Malformed(s.cfg.URL, errEmptyToken)
	}

	return token, nil
}

// tokensUnsupported reports whether err is the token endpoint refusing the protocol rather
// than failing to answer.
func tokensUnsupported(err error) bool {
	switch StatusCode(err) {
	case http.StatusForbidden, http.StatusNotFound, http.StatusMethodNotAllowed:
		return IsNotApplicable(err)
	}
	return false
}
