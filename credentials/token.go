package credentials

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenExpired reports whether an access token is already past its expiry
// by local inspection of its claims. The signature is not verified; the
// server remains authoritative. Tokens that are not parseable JWTs, or
// that carry no expiry claim, are assumed live.
func TokenExpired(token string, now time.Time) bool {
	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return now.After(claims.ExpiresAt.Time)
}
