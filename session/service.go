// Package session composes the credential store, refresh coordinator,
// request gateway and realtime channel into the login / second-factor /
// logout lifecycle. It is the single source of truth for whether a
// principal is currently authenticated.
package session

import (
	"context"
	"net/http"

	"github.com/hostpanel/panelclient/authapi"
	"github.com/hostpanel/panelclient/credentials"
	"github.com/hostpanel/panelclient/gateway"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrNoPendingSecondFactor is returned by VerifySecondFactor when no
// second-factor challenge is outstanding.
var ErrNoPendingSecondFactor = errors.New("no pending second-factor challenge")

// AuthAPI is the slice of the raw auth bindings the facade needs.
type AuthAPI interface {
	Login(ctx context.Context, email, password string) (*authapi.LoginResult, error)
	VerifySecondFactor(ctx context.Context, tempToken, code string) (*authapi.LoginResult, error)
	Logout(ctx context.Context, accessToken string) error
}

// Gateway sends authenticated requests with refresh-and-retry handling.
type Gateway interface {
	Do(ctx context.Context, req gateway.Request, out any) error
}

// Channel is the realtime event channel lifecycle the facade drives.
type Channel interface {
	Connect(ctx context.Context) error
	Disconnect()
}

// Deps holds all collaborator dependencies for the Service.
type Deps struct {
	Store   *credentials.Store
	AuthAPI AuthAPI
	Gateway Gateway
	Channel Channel
}

// Service is the session facade.
type Service struct {
	deps Deps
}

// NewService initializes a Service with required dependencies.
func NewService(deps Deps) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("[NewService] Store is required")
	}
	if deps.AuthAPI == nil {
		return nil, errors.New("[NewService] AuthAPI is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("[NewService] Gateway is required")
	}
	if deps.Channel == nil {
		return nil, errors.New("[NewService] Channel is required")
	}
	return &Service{deps: deps}, nil
}

// LoginResult reports the outcome of a login attempt: either a durable
// session was established for Principal, or a second factor is required
// before one can be.
type LoginResult struct {
	RequiresSecondFactor bool
	Principal            *credentials.Principal
}

// Login authenticates with email and password. On plain success the
// credential store is populated and the realtime channel connected. When
// the account requires a second factor, only the temporary challenge
// credential is recorded and the durable session stays empty.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	result, err := s.deps.AuthAPI.Login(ctx, email, password)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Login]")
	}

	if result.RequiresSecondFactor {
		s.deps.Store.SetPendingSecondFactor(result.TempToken)
		return &LoginResult{RequiresSecondFactor: true}, nil
	}

	if result.AccessToken == "" || result.Principal == nil {
		return nil, errors.New("[Service.Login] malformed login response")
	}

	s.deps.Store.Set(ctx, result.AccessToken, result.RefreshToken, *result.Principal)
	s.connectChannel(ctx)
	return &LoginResult{Principal: result.Principal}, nil
}

// VerifySecondFactor exchanges the pending challenge credential plus the
// one-time code for a durable session.
func (s *Service) VerifySecondFactor(ctx context.Context, code string) (*credentials.Principal, error) {
	pending := s.deps.Store.Get().Pending
	if pending == nil || !pending.Required {
		return nil, errors.Wrap(ErrNoPendingSecondFactor, "[Service.VerifySecondFactor]")
	}

	result, err := s.deps.AuthAPI.VerifySecondFactor(ctx, pending.TempToken, code)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.VerifySecondFactor]")
	}
	if result.AccessToken == "" || result.Principal == nil {
		return nil, errors.New("[Service.VerifySecondFactor] malformed verification response")
	}

	// Set discards the pending challenge along with populating the
	// durable session.
	s.deps.Store.Set(ctx, result.AccessToken, result.RefreshToken, *result.Principal)
	s.connectChannel(ctx)
	return result.Principal, nil
}

// Logout notifies the server best-effort, then unconditionally clears the
// local session and disconnects the realtime channel. It never leaves
// stale local credentials behind, whatever the server said.
func (s *Service) Logout(ctx context.Context) error {
	if token := s.deps.Store.Get().AccessToken; token != "" {
		if err := s.deps.AuthAPI.Logout(ctx, token); err != nil {
			log.Warn().Err(err).Msg("server logout failed, clearing local session anyway")
		}
	}
	s.deps.Store.Clear(ctx)
	s.deps.Channel.Disconnect()
	return nil
}

// Restore loads a persisted session into memory without contacting the
// server. It returns whether one was found.
func (s *Service) Restore(ctx context.Context) (bool, error) {
	found, err := s.deps.Store.Restore(ctx)
	if err != nil {
		return false, errors.Wrap(err, "[Service.Restore]")
	}
	return found, nil
}

type principalEnvelope struct {
	Principal *credentials.Principal `json:"principal"`
}

// CheckAuth restores any persisted session and validates it against the
// server. The gateway transparently refreshes an expired access
// credential; a terminal authorization failure leaves the session cleared
// and reports false. Network and server failures are returned with the
// restored session intact.
func (s *Service) CheckAuth(ctx context.Context) (bool, error) {
	found, err := s.Restore(ctx)
	if err != nil || !found {
		return false, err
	}

	var out principalEnvelope
	err = s.deps.Gateway.Do(ctx, gateway.Request{Method: http.MethodGet, Path: "/auth/me"}, &out)
	if err != nil {
		if !s.deps.Store.Get().IsAuthenticated() {
			// The gateway already cleared the session terminally.
			return false, nil
		}
		return false, errors.Wrap(err, "[Service.CheckAuth]")
	}

	if out.Principal != nil {
		s.deps.Store.SetPrincipal(ctx, *out.Principal)
	}
	s.connectChannel(ctx)
	return true, nil
}

// ProfileUpdate carries the caller-editable principal fields.
type ProfileUpdate struct {
	DisplayName string `json:"displayName"`
}

// UpdateProfile replaces the stored principal wholesale with the server's
// view after the update. Last writer wins; no field-level merge.
func (s *Service) UpdateProfile(ctx context.Context, update ProfileUpdate) (*credentials.Principal, error) {
	var out principalEnvelope
	err := s.deps.Gateway.Do(ctx, gateway.Request{Method: http.MethodPut, Path: "/auth/profile", Body: update}, &out)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.UpdateProfile]")
	}
	if out.Principal == nil {
		return nil, errors.New("[Service.UpdateProfile] response carried no principal")
	}
	s.deps.Store.SetPrincipal(ctx, *out.Principal)
	return out.Principal, nil
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ChangePassword changes the account password.
func (s *Service) ChangePassword(ctx context.Context, currentPassword, newPassword string) error {
	req := gateway.Request{
		Method: http.MethodPut,
		Path:   "/auth/password",
		Body:   changePasswordRequest{CurrentPassword: currentPassword, NewPassword: newPassword},
	}
	if err := s.deps.Gateway.Do(ctx, req, nil); err != nil {
		return errors.Wrap(err, "[Service.ChangePassword]")
	}
	return nil
}

// SecondFactorSetup is the enrollment material for a new second factor.
type SecondFactorSetup struct {
	Secret string `json:"secret"`
	QRCode string `json:"qrCode"`
}

// EnableSecondFactor starts second-factor enrollment and returns the
// shared secret and QR code to present to the user.
func (s *Service) EnableSecondFactor(ctx context.Context) (*SecondFactorSetup, error) {
	var out SecondFactorSetup
	err := s.deps.Gateway.Do(ctx, gateway.Request{Method: http.MethodPost, Path: "/auth/2fa/enable"}, &out)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.EnableSecondFactor]")
	}
	return &out, nil
}

type secondFactorCodeRequest struct {
	Code string `json:"code"`
}

// DisableSecondFactor turns the second factor off, then updates the
// stored principal to match.
func (s *Service) DisableSecondFactor(ctx context.Context, code string) error {
	req := gateway.Request{
		Method: http.MethodPost,
		Path:   "/auth/2fa/disable",
		Body:   secondFactorCodeRequest{Code: code},
	}
	if err := s.deps.Gateway.Do(ctx, req, nil); err != nil {
		return errors.Wrap(err, "[Service.DisableSecondFactor]")
	}

	if principal := s.deps.Store.Get().Principal; principal != nil {
		updated := *principal
		updated.SecondFactorEnabled = false
		s.deps.Store.SetPrincipal(ctx, updated)
	}
	return nil
}

// Current returns a snapshot of the session state.
func (s *Service) Current() credentials.Session {
	return s.deps.Store.Get()
}

// IsAuthenticated reports whether a durable session is established.
func (s *Service) IsAuthenticated() bool {
	return s.deps.Store.Get().IsAuthenticated()
}

// A channel failure is not a login failure: the session stands, the
// channel keeps its own reconnect loop.
func (s *Service) connectChannel(ctx context.Context) {
	if err := s.deps.Channel.Connect(ctx); err != nil {
		log.Warn().Err(err).Msg("realtime channel connect failed")
	}
}
