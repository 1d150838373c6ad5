package apierror_test

import (
	"net/http"
	"testing"

	"github.com/hostpanel/panelclient/apierror"
	"github.com/stretchr/testify/require"
)

func TestFromStatus(t *testing.T) {
	testCases := []struct {
		name       string
		statusCode int
		kind       error
	}{
		{name: "unauthorized", statusCode: http.StatusUnauthorized, kind: apierror.ErrAuthenticationFailed},
		{name: "forbidden", statusCode: http.StatusForbidden, kind: apierror.ErrAuthenticationFailed},
		{name: "rate limited", statusCode: http.StatusTooManyRequests, kind: apierror.ErrRateLimited},
		{name: "internal error", statusCode: http.StatusInternalServerError, kind: apierror.ErrServer},
		{name: "bad gateway", statusCode: http.StatusBadGateway, kind: apierror.ErrServer},
		{name: "not found", statusCode: http.StatusNotFound, kind: apierror.ErrBadRequest},
		{name: "conflict", statusCode: http.StatusConflict, kind: apierror.ErrBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := apierror.FromStatus(tc.statusCode, "boom")
			require.ErrorIs(t, err, tc.kind)

			var statusErr *apierror.StatusError
			require.ErrorAs(t, err, &statusErr)
			require.Equal(t, tc.statusCode, statusErr.StatusCode)
			require.Equal(t, "boom", statusErr.Message)
		})
	}
}

func TestStatusErrorMessageFormatting(t *testing.T) {
	withMessage := apierror.FromStatus(http.StatusInternalServerError, "database down")
	require.Equal(t, "server error (status 500): database down", withMessage.Error())

	withoutMessage := apierror.FromStatus(http.StatusUnauthorized, "")
	require.Equal(t, "authentication failed (status 401)", withoutMessage.Error())
}
