package credentials_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hostpanel/panelclient/credentials"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestTokenExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	testCases := []struct {
		name    string
		token   string
		expired bool
	}{
		{
			name: "live token",
			token: signedToken(t, jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
			}),
			expired: false,
		},
		{
			name: "expired token",
			token: signedToken(t, jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
			}),
			expired: true,
		},
		{
			name:    "no expiry claim assumed live",
			token:   signedToken(t, jwt.RegisteredClaims{Subject: "user-1"}),
			expired: false,
		},
		{
			name:    "opaque token assumed live",
			token:   "not-a-jwt",
			expired: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expired, credentials.TokenExpired(tc.token, now))
		})
	}
}
