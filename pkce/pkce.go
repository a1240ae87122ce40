// Package pkce generates the random material of an authorization code flow:
// state parameters and PKCE verifier/challenge pairs (RFC 7636).
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"

	"github.com/jrsteele09/go-auth-client/oauthmodel"
	"github.com/pkg/errors"
)

const (
	// stateLength is the number of random bytes in a state parameter.
	// 16 bytes = 128 bits of entropy, hex encoded to 32 characters.
	stateLength = 16

	// verifierLength is the number of random bytes in a code verifier.
	// 96 bytes base64url-encode to exactly 128 characters, the RFC 7636
	// maximum, all drawn from the unreserved set.
	verifierLength = 96
)

var ErrUnsupportedCodeChallengeMethod = errors.New("unsupported code challenge method")

// NewState returns a fresh unpredictable state parameter. It fails rather
// than degrade when the secure random source is unavailable.
func NewState() (string, error) {
	buf := make([]byte, stateLength)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "[NewState] rand.Read")
	}
	return hex.EncodeToString(buf), nil
}

// NewCodeVerifier returns a 128-character code verifier drawn from the PKCE
// unreserved character set [A-Za-z0-9-._~].
func NewCodeVerifier() (string, error) {
	buf := make([]byte, verifierLength)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "[NewCodeVerifier] rand.Read")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// CodeChallenge derives the code challenge for a verifier. S256 yields
// BASE64URL(SHA256(verifier)) without padding; plain yields the verifier
// unchanged. Deterministic: the same verifier and method always produce the
// same challenge.
func CodeChallenge(verifier string, method oauthmodel.CodeMethodType) (string, error) {
	switch method {
	case oauthmodel.CodeMethodS256:
		hash := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(hash[:]), nil
	case oauthmodel.CodeMethodPlain:
		return verifier, nil
	}
	return "", errors.Wrapf(ErrUnsupportedCodeChallengeMethod, "[CodeChallenge] %q", method)
}
