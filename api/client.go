// Package api talks to the authorization server: code exchange, refresh,
// revocation, userinfo and introspection. The session controller consumes
// the Client interface; HTTPClient is the wire implementation.
package api

import (
	"context"
	"fmt"

	"github.com/jrsteele09/go-auth-client/oauthmodel"
	"github.com/pkg/errors"
)

// ErrNetworkFailure marks transport-level failures (connection refused, DNS,
// timeout) as opposed to a response the server actively rejected. Check with
// errors.Is.
var ErrNetworkFailure = errors.New("network failure")

// ServerError is a rejected (non-2xx) response carrying the OAuth2 error
// body. Check with errors.As.
type ServerError struct {
	// Code is the OAuth2 error code, e.g. "invalid_grant". Falls back to
	// the HTTP status text when the server sent no body.
	Code string `json:"error"`

	// Description is the human-readable detail, when provided.
	Description string `json:"error_description"`

	// Status is the HTTP status code of the response.
	Status int `json:"-"`
}

func (e *ServerError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("server rejected request (%d): %s", e.Status, e.Code)
	}
	return fmt.Sprintf("server rejected request (%d): %s: %s", e.Status, e.Code, e.Description)
}

// Client performs the network operations of the authorization code flow.
// All methods distinguish transport failures (ErrNetworkFailure) from
// rejected responses (*ServerError).
type Client interface {
	// ExchangeCode redeems an authorization code for tokens. codeVerifier
	// and clientSecret are passed through when non-empty.
	ExchangeCode(ctx context.Context, code, clientID, redirectURI, codeVerifier, clientSecret string) (*oauthmodel.AuthTokens, error)

	// Refresh obtains a new token set from a refresh token.
	Refresh(ctx context.Context, refreshToken, clientID, clientSecret string) (*oauthmodel.AuthTokens, error)

	// Revoke invalidates an access token server-side. Best-effort: callers
	// treat failure as non-fatal.
	Revoke(ctx context.Context, accessToken string) error

	// FetchUser retrieves the profile for the token's subject.
	FetchUser(ctx context.Context, accessToken string) (*oauthmodel.User, error)

	// Validate introspects an access token and reports whether it is active.
	Validate(ctx context.Context, accessToken string) (bool, error)
}
