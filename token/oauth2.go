package token

import (
	"context"

	"golang.org/x/oauth2"

	"github.com/jrsteele09/go-auth-client/oauthmodel"
)

// OAuth2Token converts a stored token set to the x/oauth2 representation,
// for handing to libraries built on oauth2.Token. Returns nil for nil.
func OAuth2Token(tokens *oauthmodel.AuthTokens) *oauth2.Token {
	if tokens == nil {
		return nil
	}
	return &oauth2.Token{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenType:    tokens.TokenType,
		Expiry:       tokens.ExpiresAt(),
	}
}

// SourceFunc yields the session's current token set, refreshing it first
// when needed. session.Controller.Tokens satisfies it.
type SourceFunc func(ctx context.Context) (*oauthmodel.AuthTokens, error)

type tokenSource struct {
	ctx   context.Context
	fetch SourceFunc
}

// TokenSource adapts fetch into an oauth2.TokenSource so the session can
// back oauth2.NewClient and anything else that speaks that interface.
func TokenSource(ctx context.Context, fetch SourceFunc) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, fetch: fetch}
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	tokens, err := s.fetch(s.ctx)
	if err != nil {
		return nil, err
	}
	return OAuth2Token(tokens), nil
}
