package fetch_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-logr/logr"
	. "github.com/tinkerbell/sprout/internal/fetch"
)

const (
	tokenHeader    = "X-aws-ec2-metadata-token"
	tokenTTLHeader = "X-aws-ec2-metadata-token-ttl-seconds"
)

// tokenServer emulates a token protected metadata service. Each token request issues a new
// token and only the most recently issued token is accepted.
type tokenServer struct {
	mu           sync.Mutex
	tokenStatus  int
	tokenFails   int
	tokenPuts    int
	requireToken bool
	issued       []string
	requests     []string
}

func (s *tokenServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Method == http.MethodPut && r.URL.Path == "/latest/api/token" {
		s.tokenPuts++
		if s.tokenStatus != 0 && (s.tokenFails == 0 || s.tokenPuts <= s.tokenFails) {
			w.WriteHeader(s.tokenStatus)
			return
		}
		if r.Header.Get(tokenTTLHeader) == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		token := fmt.Sprintf("token-%d", len(s.issued)+1)
		s.issued = append(s.issued, token)
		fmt.Fprint(w, token)
		return
	}

	presented := r.Header.Get(tokenHeader)
	s.requests = append(s.requests, presented)

	if presented != "" && (len(s.issued) == 0 || presented != s.issued[len(s.issued)-1]) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if presented == "" && s.requireToken {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	fmt.Fprint(w, "i-1234")
}

func (s *tokenServer) counts() (int, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.issued), append([]string(nil), s.requests...)
}

func tokenConfig(url string, mode TokenMode, fallback bool) TokenConfig {
	return TokenConfig{
		URL:           url + "/latest/api/token",
		TTL:           time.Minute,
		Skew:          5 * time.Second,
		TTLHeader:     tokenTTLHeader,
		Header:        tokenHeader,
		Mode:          mode,
		AllowFallback: fallback,
	}
}

func TestTokenRefreshedBeforeExpiry(t *testing.T) {
	ts := &tokenServer{requireToken: true}
	server := httptest.NewServer(ts)
	defer server.Close()

	mock := clock.NewMock()
	client := New(logr.Discard(), testPolicy(),
		WithClock(mock),
		WithToken(tokenConfig(server.URL, TokenEager, false)),
	)

	ctx := context.Background()
	url := server.URL + "/latest/meta-data/instance-id"

	for i := 0; i < 3; i++ {
		if _, err := client.Get(ctx, url); err != nil {
			t.Fatal(err)
		}
	}

	issued, _ := ts.counts()
	if issued != 1 {
		t.Fatalf("Expected 1 token; Received: %d", issued)
	}

	// Within the skew window the cached token must not be used.
	mock.Add(56 * time.Second)

	if _, err := client.Get(ctx, url); err != nil {
		t.Fatal(err)
	}

	issued, requests := ts.counts()
	if issued != 2 {
		t.Fatalf("Expected exactly one refresh; Received tokens: %d", issued)
	}

	if last := requests[len(requests)-1]; last != "token-2" {
		t.Fatalf("Expected refreshed token; Received: %q", last)
	}
}

func TestTokenChallenge(t *testing.T) {
	ts := &tokenServer{requireToken: true}
	server := httptest.NewServer(ts)
	defer server.Close()

	client := New(logr.Discard(), testPolicy(), WithToken(tokenConfig(server.URL, TokenChallenge, false)))

	body, err := client.Get(context.Background(), server.URL+"/latest/meta-data/instance-id")
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "i-1234" {
		t.Fatalf("Expected: i-1234;\nReceived: %v", string(body))
	}

	issued, requests := ts.counts()
	if issued != 1 {
		t.Fatalf("Expected 1 token; Received: %d", issued)
	}

	expect := []string{"", "token-1"}
	if fmt.Sprint(expect) != fmt.Sprint(requests) {
		t.Fatalf("Expected: %q;\nReceived: %q", expect, requests)
	}

	// Once challenged the session stays authenticated.
	if _, err := client.Get(context.Background(), server.URL+"/latest/meta-data/instance-id"); err != nil {
		t.Fatal(err)
	}
	_, requests = ts.counts()
	if last := requests[len(requests)-1]; last != "token-1" {
		t.Fatalf("Expected cached token; Received: %q", last)
	}
}

func TestTokenFallback(t *testing.T) {
	cases := []struct {
		Name          string
		TokenStatus   int
		TokenFails    int
		RequireToken  bool
		AllowFallback bool
		ExpectErr     bool
		ExpectPuts    int
		ExpectTokens  []string
	}{
		{
			Name:          "FallbackAllowed",
			TokenStatus:   http.StatusForbidden,
			AllowFallback: true,
			ExpectPuts:    1,
			ExpectTokens:  []string{""},
		},
		{
			Name:        "FallbackDenied",
			TokenStatus: http.StatusForbidden,
			ExpectErr:   true,
			ExpectPuts:  1,
		},
		{
			Name:          "TokenEndpointUnavailable",
			TokenStatus:   http.StatusServiceUnavailable,
			AllowFallback: true,
			ExpectErr:     true,
			ExpectPuts:    3,
		},
		{
			Name:          "TokenEndpointRecovers",
			TokenStatus:   http.StatusServiceUnavailable,
			TokenFails:    1,
			RequireToken:  true,
			AllowFallback: true,
			ExpectPuts:    2,
			ExpectTokens:  []string{"token-1"},
		},
		{
			Name:          "FallbackThenChallenged",
			TokenStatus:   http.StatusNotFound,
			TokenFails:    1,
			RequireToken:  true,
			AllowFallback: true,
			ExpectPuts:    2,
			ExpectTokens:  []string{"", "token-1"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.Name, func(t *testing.T) {
			ts := &tokenServer{tokenStatus: tc.TokenStatus, tokenFails: tc.TokenFails, requireToken: tc.RequireToken}
			server := httptest.NewServer(ts)
			defer server.Close()

			policy := testPolicy()
			policy.InitialInterval = time.Millisecond
			policy.MaxInterval = time.Millisecond

			client := New(logr.Discard(), policy,
				WithToken(tokenConfig(server.URL, TokenEager, tc.AllowFallback)),
			)

			_, err := client.Get(context.Background(), server.URL+"/latest/meta-data/instance-id")

			ts.mu.Lock()
			puts := ts.tokenPuts
			ts.mu.Unlock()
			if puts != tc.ExpectPuts {
				t.Fatalf("Expected token requests: %d;\nReceived: %d", tc.ExpectPuts, puts)
			}

			if tc.ExpectErr {
				if err == nil {
					t.Fatal("Expected an error")
				}
				if tc.TokenStatus >= 500 && !IsTransient(err) {
					t.Fatalf("Expected a transient error;\nReceived: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}

			_, requests := ts.counts()
			if fmt.Sprint(tc.ExpectTokens) != fmt.Sprint(requests) {
				t.Fatalf("Expected: %q;\nReceived: %q", tc.ExpectTokens, requests)
			}
		})
	}
}

func TestTokenRejectedTriggersSingleRefresh(t *testing.T) {
	ts := &tokenServer{requireToken: true}
	server := httptest.NewServer(ts)
	defer server.Close()

	client := New(logr.Discard(), testPolicy(), WithToken(tokenConfig(server.URL, TokenEager, false)))

	url := server.URL + "/latest/meta-data/instance-id"
	if _, err := client.Get(context.Background(), url); err != nil {
		t.Fatal(err)
	}

	// Revoke the cached token by issuing a new one behind the client's back.
	ts.mu.Lock()
	ts.issued = append(ts.issued, "token-revoker")
	ts.mu.Unlock()

	if _, err := client.Get(context.Background(), url); err != nil {
		t.Fatal(err)
	}

	issued, requests := ts.counts()
	if issued != 3 {
		t.Fatalf("Expected 3 tokens; Received: %d", issued)
	}

	expect := []string{"token-1", "token-1", "token-3"}
	if fmt.Sprint(expect) != fmt.Sprint(requests) {
		t.Fatalf("Expected: %q;\nReceived: %q", expect, requests)
	}
}
