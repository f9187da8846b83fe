package replication

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/Veraticus/hearth/internal/common"
)

// TokenProvider hands out the identity provider's bearer token. An empty
// token means the user is not signed in.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider that always returns the same token.
type StaticToken string

// Token returns the token.
func (s StaticToken) Token(context.Context) (string, error) {
	return string(s), nil
}

// providerSource adapts a TokenProvider to oauth2.TokenSource.
type providerSource struct {
	ctx      context.Context
	provider TokenProvider
}

func (p providerSource) Token() (*oauth2.Token, error) {
	tok, err := p.provider.Token(p.ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrAuthToken, err)
	}
	if tok == "" {
		return nil, fmt.Errorf("%w: no token", common.ErrAuthToken)
	}
	return &oauth2.Token{AccessToken: tok, TokenType: "Bearer"}, nil
}

// authTransport adds credentials to every request: basic auth when
// configured, otherwise the bearer token. A token that cannot be obtained
// leaves the request unauthenticated.
type authTransport struct {
	base     http.RoundTripper
	source   oauth2.TokenSource
	username string
	password string
}

func newAuthTransport(ctx context.Context, base http.RoundTripper, endpoint *Endpoint, tokens TokenProvider) *authTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	t := &authTransport{base: base, username: endpoint.Username, password: endpoint.Password}
	if !endpoint.HasBasicAuth() && tokens != nil {
		t.source = oauth2.ReuseTokenSource(nil, providerSource{ctx: ctx, provider: tokens})
	}
	return t
}

// RoundTrip implements http.RoundTripper.
func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	switch {
	case t.username != "" || t.password != "":
		req.SetBasicAuth(t.username, t.password)
	case t.source != nil:
		tok, err := t.source.Token()
		if err != nil {
			slog.Debug("Sending unauthenticated sync request", "error", err)
			break
		}
		tok.SetAuthHeader(req)
	}
	return t.base.RoundTrip(req)
}
