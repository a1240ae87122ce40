package oauthmodel

import (
	"encoding/json"
	"time"
)

// AuthTokens is the token set issued by the authorization server, together
// with the IssuedAt timestamp the session controller captured when the tokens
// were received. IssuedAt is always stamped client-side; a clock embedded in
// the token itself is never trusted for expiry scheduling.
//
// Lifecycle: created on a successful code exchange or refresh, replaced in
// full on refresh, destroyed on logout or unrecoverable refresh failure.
type AuthTokens struct {
	// AccessToken is the bearer token presented to resource servers.
	AccessToken string `json:"access_token"`

	// RefreshToken obtains new access tokens. Absent for servers that do
	// not issue one.
	RefreshToken string `json:"refresh_token,omitempty"`

	// TokenType is how the access token is used, normally "Bearer".
	TokenType string `json:"token_type,omitempty"`

	// ExpiresIn is the relative access token lifetime in seconds, as
	// reported by the server at issuance.
	ExpiresIn int `json:"expires_in,omitempty"`

	// Scope is the granted scope set, space-joined. May be narrower than
	// what was requested.
	Scope string `json:"scope,omitempty"`

	// IssuedAt is when the client received the tokens.
	IssuedAt time.Time `json:"issued_at,omitempty"`
}

// ExpiresAt returns the computed absolute expiry (IssuedAt + ExpiresIn).
// Returns the zero time when IssuedAt or ExpiresIn is unset.
func (t *AuthTokens) ExpiresAt() time.Time {
	if t.IssuedAt.IsZero() || t.ExpiresIn <= 0 {
		return time.Time{}
	}
	return t.IssuedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// Expired reports whether the access token is past, or within margin of,
// its computed expiry. Tokens without a known issuance time or lifetime are
// treated as expired so callers fall through to a refresh or re-login.
func (t *AuthTokens) Expired(now time.Time, margin time.Duration) bool {
	expiresAt := t.ExpiresAt()
	if expiresAt.IsZero() {
		return true
	}
	return !now.Add(margin).Before(expiresAt)
}

// PendingAuthorization is the ephemeral record of one in-flight login
// attempt. It is persisted so it survives the full-page redirect to the
// authorization server, and deleted the moment it is consumed, whether the
// callback validates or not.
type PendingAuthorization struct {
	// State is the opaque anti-forgery value echoed back on the callback.
	State string `json:"state"`

	// CodeVerifier is the PKCE secret, present iff PKCE is enabled.
	CodeVerifier string `json:"code_verifier,omitempty"`

	// CodeChallenge is the verifier's one-way derivation sent in the
	// authorization request.
	CodeChallenge string `json:"code_challenge,omitempty"`

	// CreatedAt is when the login attempt started, used to expire stale
	// records.
	CreatedAt time.Time `json:"created_at"`
}

// User is the profile record fetched from the userinfo endpoint once per
// session establishment. Provider-defined fields beyond the standard claims
// are preserved in Extra.
type User struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name,omitempty"`
	Picture       string `json:"picture,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`

	// Extra holds any provider-defined fields outside the standard set.
	Extra map[string]any `json:"-"`
}

// userAlias avoids recursing into the custom JSON methods below.
type userAlias User

// UnmarshalJSON decodes the standard fields and collects everything else
// into Extra.
func (u *User) UnmarshalJSON(data []byte) error {
	var known userAlias
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, field := range []string{"id", "email", "name", "picture", "email_verified"} {
		delete(raw, field)
	}

	*u = User(known)
	if len(raw) == 0 {
		return nil
	}
	u.Extra = make(map[string]any, len(raw))
	for key, value := range raw {
		var decoded any
		if err := json.Unmarshal(value, &decoded); err != nil {
			return err
		}
		u.Extra[key] = decoded
	}
	return nil
}

// MarshalJSON encodes the standard fields merged with Extra. Standard fields
// win on key collision.
func (u User) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(userAlias(u))
	if err != nil {
		return nil, err
	}
	if len(u.Extra) == 0 {
		return known, nil
	}

	merged := make(map[string]json.RawMessage, len(u.Extra)+5)
	for key, value := range u.Extra {
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		merged[key] = encoded
	}

	var knownFields map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownFields); err != nil {
		return nil, err
	}
	for key, value := range knownFields {
		merged[key] = value
	}
	return json.Marshal(merged)
}

// AuthState is a snapshot of the session for application code.
type AuthState struct {
	IsAuthenticated bool
	User            *User
	Tokens          *AuthTokens
}
