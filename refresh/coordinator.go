// Package refresh serializes credential refreshes so that N concurrent
// discoveries of an expired access token produce exactly one network call.
package refresh

import (
	"context"

	"github.com/hostpanel/panelclient/apierror"
	"github.com/hostpanel/panelclient/authapi"
	"github.com/hostpanel/panelclient/credentials"
	"github.com/hostpanel/panelclient/internal/utils"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// AuthAPI is the slice of the auth endpoint bindings the coordinator needs.
type AuthAPI interface {
	Refresh(ctx context.Context, refreshToken string) (*authapi.RefreshResult, error)
}

// there is one session per coordinator, so one flight key suffices
const flightKey = "refresh"

// Coordinator guarantees at most one in-flight refresh at a time. Callers
// that arrive while a refresh is running share its outcome rather than
// issuing their own network call.
//
// A refresh failure, including a network failure, is terminal for the
// session: the credential store is cleared and the failure is not retried.
type Coordinator struct {
	store *credentials.Store
	api   AuthAPI
	group singleflight.Group
}

// NewCoordinator creates a Coordinator over the given store and auth API.
func NewCoordinator(store *credentials.Store, api AuthAPI) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("[NewCoordinator] store is required")
	}
	if api == nil {
		return nil, errors.New("[NewCoordinator] api is required")
	}
	return &Coordinator{store: store, api: api}, nil
}

// Refresh returns a currently valid access credential, minting one from
// the stored refresh credential if necessary. Concurrent callers observe
// and share exactly one underlying operation.
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	token, err, shared := c.group.Do(flightKey, func() (any, error) {
		return c.doRefresh(ctx)
	})
	if err != nil {
		return "", err
	}
	if shared {
		log.Debug().Msg("refresh result shared with concurrent caller")
	}
	return token.(string), nil
}

func (c *Coordinator) doRefresh(ctx context.Context) (string, error) {
	session := c.store.Get()
	if session.RefreshToken == "" {
		c.store.Clear(ctx)
		return "", errors.WithMessage(apierror.ErrSessionExpired, "no refresh credential held")
	}

	result, err := c.api.Refresh(ctx, session.RefreshToken)
	if err != nil {
		c.store.Clear(ctx)
		log.Warn().Err(err).Msg("credential refresh failed, session cleared")
		return "", errors.WithMessage(apierror.ErrSessionExpired, err.Error())
	}

	// Refresh credential and principal are carried over unless the server
	// rotated them.
	refreshToken := session.RefreshToken
	if utils.Value(result.RefreshToken) != "" {
		refreshToken = *result.RefreshToken
	}
	principal := session.Principal
	if result.Principal != nil {
		principal = result.Principal
	}
	if principal == nil {
		c.store.Clear(ctx)
		return "", errors.WithMessage(apierror.ErrSessionExpired, "refresh response carried no principal for a principal-less session")
	}

	c.store.Set(ctx, result.AccessToken, refreshToken, *principal)
	return result.AccessToken, nil
}
