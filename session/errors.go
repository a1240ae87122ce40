package session

import "github.com/pkg/errors"

var (
	// ErrAuthorizationDenied means the authorization server rejected the
	// request and redirected back with an error parameter.
	ErrAuthorizationDenied = errors.New("authorization denied")

	// ErrStateMismatch means the callback's state did not equal the saved
	// one. This is the CSRF defence firing.
	ErrStateMismatch = errors.New("state mismatch")

	// ErrNoPendingAuthorization means a callback arrived with no matching
	// in-flight flow: the session expired, storage was cleared, or the
	// callback URL was replayed.
	ErrNoPendingAuthorization = errors.New("no pending authorization")

	// ErrMissingCodeVerifier means PKCE is enabled but no verifier could
	// be recovered from storage.
	ErrMissingCodeVerifier = errors.New("missing code verifier")

	// ErrNoRefreshToken means a refresh was requested without a persisted
	// refresh token.
	ErrNoRefreshToken = errors.New("no refresh token")

	// ErrTokenExchangeFailed wraps a failed code exchange.
	ErrTokenExchangeFailed = errors.New("token exchange failed")

	// ErrUserFetchFailed wraps a failed userinfo fetch.
	ErrUserFetchFailed = errors.New("user fetch failed")

	// ErrNoTokens means no token set is persisted for this session.
	ErrNoTokens = errors.New("no tokens held")
)
