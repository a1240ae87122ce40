// Package token offers client-side helpers over the token material a
// session holds: unverified JWT inspection for UI and diagnostic use, and
// adapters into golang.org/x/oauth2 for code that consumes its interfaces.
package token

import (
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// ErrNotAJWT means the raw token does not parse as a JWT. Opaque access
// tokens are valid OAuth2 tokens, so callers typically treat this as "no
// claims available" rather than a failure.
var ErrNotAJWT = errors.New("token is not a JWT")

// Inspect decodes rawToken's claims without verifying its signature. The
// client never holds the server's keys, so these claims are display-grade
// only; authorization decisions belong to the server's introspection
// endpoint.
func Inspect(rawToken string) (jwtlib.MapClaims, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, errors.Wrap(ErrNotAJWT, "[Inspect] empty token")
	}

	parsed, _, err := jwtlib.NewParser().ParseUnverified(rawToken, jwtlib.MapClaims{})
	if err != nil {
		return nil, errors.Wrapf(ErrNotAJWT, "[Inspect] %v", err)
	}
	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, errors.Wrap(ErrNotAJWT, "[Inspect] unexpected claims type")
	}
	return claims, nil
}

// Expired reports whether rawToken's exp claim has passed at now. Tokens
// that do not parse count as expired; tokens without an exp claim do not
// expire.
func Expired(rawToken string, now time.Time) bool {
	claims, err := Inspect(rawToken)
	if err != nil {
		return true
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return err != nil
	}
	return now.After(exp.Time)
}
