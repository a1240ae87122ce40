package oauthmodel

import (
	"strings"

	"github.com/pkg/errors"
)

// CodeMethodType specifies how a PKCE code challenge is derived from its verifier.
type CodeMethodType string

const (
	// CodeMethodS256 derives the challenge as BASE64URL(SHA256(code_verifier)).
	// This is the default and should be used unless the authorization server
	// only supports "plain".
	CodeMethodS256 CodeMethodType = "S256"

	// CodeMethodPlain sends the verifier unchanged as the challenge.
	CodeMethodPlain CodeMethodType = "plain"
)

var (
	ErrMissingClientID            = errors.New("client id is required")
	ErrMissingRedirectURI         = errors.New("redirect uri is required")
	ErrMissingAuthServerBaseURL   = errors.New("auth server base url is required")
	ErrInvalidCodeChallengeMethod = errors.New("invalid code challenge method")
)

// SessionConfig holds the configuration for a client-side OAuth2 session.
// Construct it with NewSessionConfig, which resolves defaults once and
// validates the required fields; the resolved value is never mutated afterwards.
type SessionConfig struct {
	// ClientID identifies the application at the authorization server.
	// Required: Yes
	ClientID string

	// ClientSecret authenticates a confidential client at the token endpoint.
	// Required: No
	// Security: Leave empty for public clients (SPAs, mobile and CLI apps).
	// A secret embedded in a distributed binary or browser bundle is not a
	// secret; PKCE is the code-interception defence for those clients.
	ClientSecret string

	// RedirectURI is where the authorization server sends the callback.
	// Required: Yes
	// Must exactly match a URI registered with the authorization server.
	RedirectURI string

	// AuthServerBaseURL is the base URL of the authorization server,
	// e.g. "https://auth.example.com". Trailing slashes are stripped.
	// Required: Yes
	AuthServerBaseURL string

	// Scope lists the requested permissions. Semantically a set, but order
	// is preserved and the list is space-joined on the wire so the built
	// authorization URL is deterministic.
	// Default: ["openid", "profile"]
	Scope []string

	// DisablePKCE turns off the PKCE extension. PKCE is on by default and
	// should stay on for every public client.
	DisablePKCE bool

	// CodeChallengeMethod selects the challenge derivation when PKCE is on.
	// Default: CodeMethodS256
	CodeChallengeMethod CodeMethodType
}

// NewSessionConfig validates cfg, resolves defaults and returns the fully
// populated configuration.
func NewSessionConfig(cfg SessionConfig) (*SessionConfig, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.Wrap(ErrMissingClientID, "[NewSessionConfig]")
	}
	if strings.TrimSpace(cfg.RedirectURI) == "" {
		return nil, errors.Wrap(ErrMissingRedirectURI, "[NewSessionConfig]")
	}
	if strings.TrimSpace(cfg.AuthServerBaseURL) == "" {
		return nil, errors.Wrap(ErrMissingAuthServerBaseURL, "[NewSessionConfig]")
	}
	cfg.AuthServerBaseURL = strings.TrimRight(cfg.AuthServerBaseURL, "/")

	if len(cfg.Scope) == 0 {
		cfg.Scope = []string{"openid", "profile"}
	}
	cfg.Scope = append([]string(nil), cfg.Scope...)

	if cfg.CodeChallengeMethod == "" {
		cfg.CodeChallengeMethod = CodeMethodS256
	}
	switch cfg.CodeChallengeMethod {
	case CodeMethodS256, CodeMethodPlain:
	default:
		return nil, errors.Wrapf(ErrInvalidCodeChallengeMethod, "[NewSessionConfig] %q", cfg.CodeChallengeMethod)
	}

	return &cfg, nil
}

// UsePKCE reports whether the PKCE extension is enabled.
func (c *SessionConfig) UsePKCE() bool {
	return !c.DisablePKCE
}

// ScopeString returns the scope list space-joined, as sent on the wire.
func (c *SessionConfig) ScopeString() string {
	return strings.Join(c.Scope, " ")
}
