package ec2

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tinkerbell/sprout/internal/http/httperror"
)

const (
	tokenEndpoint = "/latest/api/token"

	// TokenHeader carries a session token on metadata requests.
	TokenHeader = "X-aws-ec2-metadata-token"

	// TokenTTLHeader carries the requested token lifetime in seconds.
	TokenTTLHeader = "X-aws-ec2-metadata-token-ttl-seconds"

	maxTokenTTL = 6 * time.Hour
)

// Tokens issues and validates IMDSv2 session tokens.
type Tokens struct {
	clock clock.Clock

	mu     sync.Mutex
	issued map[string]time.Time
}

// NewTokens returns an empty token store using c to expire tokens.
func NewTokens(c clock.Clock) *Tokens {
	return &Tokens{
		clock:  c,
		issued: make(map[string]time.Time),
	}
}

// Issue creates a token valid for ttl.
func (t *Tokens) Issue(ttl time.Duration) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	token := uuid.NewString()
	t.issued[token] = t.clock.Now().Add(ttl)
	return token
}

// Valid reports whether token was issued and has not expired. Expired tokens are forgotten.
func (t *Tokens) Valid(token string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	expiry, ok := t.issued[token]
	if !ok {
		return false
	}
	if !t.clock.Now().Before(expiry) {
		delete(t.issued, token)
		return false
	}
	return true
}

func (f Frontend) issueToken(ctx *gin.Context) {
	raw := ctx.GetHeader(TokenTTLHeader)
	if raw == "" {
		abort(ctx, httperror.Newf(http.StatusBadRequest, "missing %v header", TokenTTLHeader))
		return
	}

	seconds, err := strconv.Atoi(raw)
	ttl := time.Duration(seconds) * time.Second
	if err != nil || ttl < time.Second || ttl > maxTokenTTL {
		abort(ctx, httperror.Newf(http.StatusBadRequest, "invalid token ttl: %q", raw))
		return
	}

	token := f.tokens.Issue(ttl)
	f.log.V(1).Info("Issued session token", "ttl", ttl)

	ctx.Header(TokenTTLHeader, raw)
	ctx.String(http.StatusOK, token)
}

// authorize rejects requests carrying an unknown or expired token. Requests without a token are
// rejected only when tokens are required.
func (f Frontend) authorize(ctx *gin.Context) {
	token := ctx.GetHeader(TokenHeader)

	switch {
	case token == "" && f.requireToken:
		abort(ctx, httperror.New(http.StatusUnauthorized, "session token required"))
		return
	case token != "" && !f.tokens.Valid(token):
		abort(ctx, httperror.New(http.StatusUnauthorized, "invalid session token"))
		return
	}

	ctx.Next()
}
