package session_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hostpanel/panelclient/apierror"
	"github.com/hostpanel/panelclient/authapi"
	"github.com/hostpanel/panelclient/credentials"
	fakecredentialrepo "github.com/hostpanel/panelclient/credentials/repofake"
	"github.com/hostpanel/panelclient/gateway"
	"github.com/hostpanel/panelclient/session"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeAuthAPI struct {
	loginResult  *authapi.LoginResult
	loginErr     error
	verifyResult *authapi.LoginResult
	verifyErr    error
	logoutErr    error

	loginCalls   int
	verifyCalls  int
	logoutCalls  int
	gotTempToken string
	gotCode      string
}

func (f *fakeAuthAPI) Login(_ context.Context, _, _ string) (*authapi.LoginResult, error) {
	f.loginCalls++
	return f.loginResult, f.loginErr
}

func (f *fakeAuthAPI) VerifySecondFactor(_ context.Context, tempToken, code string) (*authapi.LoginResult, error) {
	f.verifyCalls++
	f.gotTempToken = tempToken
	f.gotCode = code
	return f.verifyResult, f.verifyErr
}

func (f *fakeAuthAPI) Logout(_ context.Context, _ string) error {
	f.logoutCalls++
	return f.logoutErr
}

type fakeGateway struct {
	handler func(req gateway.Request, out any) error
	calls   []gateway.Request
}

func (f *fakeGateway) Do(_ context.Context, req gateway.Request, out any) error {
	f.calls = append(f.calls, req)
	if f.handler == nil {
		return nil
	}
	return f.handler(req, out)
}

type fakeChannel struct {
	connects    int
	disconnects int
	connectErr  error
}

func (f *fakeChannel) Connect(context.Context) error {
	f.connects++
	return f.connectErr
}

func (f *fakeChannel) Disconnect() {
	f.disconnects++
}

type fixture struct {
	store   *credentials.Store
	api     *fakeAuthAPI
	gateway *fakeGateway
	channel *fakeChannel
	service *session.Service
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := credentials.NewStore(fakecredentialrepo.NewFakeCredentialRepo())
	require.NoError(t, err)

	f := &fixture{
		store:   store,
		api:     &fakeAuthAPI{},
		gateway: &fakeGateway{},
		channel: &fakeChannel{},
	}
	f.service, err = session.NewService(session.Deps{
		Store:   store,
		AuthAPI: f.api,
		Gateway: f.gateway,
		Channel: f.channel,
	})
	require.NoError(t, err)
	return f
}

func testPrincipal() *credentials.Principal {
	return &credentials.Principal{ID: "user-1", DisplayName: "John Doe", Role: credentials.RoleAdmin}
}

func TestLoginPopulatesStoreAndConnectsChannel(t *testing.T) {
	f := setupFixture(t)
	f.api.loginResult = &authapi.LoginResult{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Principal:    testPrincipal(),
	}

	result, err := f.service.Login(context.Background(), "john.doe@example.com", "password123")
	require.NoError(t, err)
	require.False(t, result.RequiresSecondFactor)
	require.Equal(t, "user-1", result.Principal.ID)

	require.True(t, f.service.IsAuthenticated())
	require.Equal(t, "access-1", f.store.Get().AccessToken)
	require.Equal(t, 1, f.channel.connects)
}

func TestLoginWithSecondFactorKeepsDurableSessionEmpty(t *testing.T) {
	f := setupFixture(t)
	f.api.loginResult = &authapi.LoginResult{RequiresSecondFactor: true, TempToken: "t1"}

	result, err := f.service.Login(context.Background(), "john.doe@example.com", "password123")
	require.NoError(t, err)
	require.True(t, result.RequiresSecondFactor)

	current := f.service.Current()
	require.False(t, current.IsAuthenticated())
	require.Empty(t, current.AccessToken)
	require.NotNil(t, current.Pending)
	require.Equal(t, "t1", current.Pending.TempToken)
	require.Zero(t, f.channel.connects)
}

func TestLoginFailureIsSurfacedTyped(t *testing.T) {
	f := setupFixture(t)
	f.api.loginErr = apierror.FromStatus(401, "Invalid credentials")

	_, err := f.service.Login(context.Background(), "john.doe@example.com", "wrong")
	require.ErrorIs(t, err, apierror.ErrAuthenticationFailed)
	require.False(t, f.service.IsAuthenticated())
	require.Zero(t, f.channel.connects)
}

func TestVerifySecondFactorEstablishesSession(t *testing.T) {
	f := setupFixture(t)
	f.api.loginResult = &authapi.LoginResult{RequiresSecondFactor: true, TempToken: "t1"}
	f.api.verifyResult = &authapi.LoginResult{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Principal:    testPrincipal(),
	}

	_, err := f.service.Login(context.Background(), "john.doe@example.com", "password123")
	require.NoError(t, err)

	principal, err := f.service.VerifySecondFactor(context.Background(), "123456")
	require.NoError(t, err)
	require.Equal(t, "user-1", principal.ID)
	require.Equal(t, "t1", f.api.gotTempToken)
	require.Equal(t, "123456", f.api.gotCode)

	current := f.service.Current()
	require.True(t, current.IsAuthenticated())
	require.Nil(t, current.Pending)
	require.Equal(t, 1, f.channel.connects)
}

func TestVerifySecondFactorWithoutPendingChallenge(t *testing.T) {
	f := setupFixture(t)

	_, err := f.service.VerifySecondFactor(context.Background(), "123456")
	require.ErrorIs(t, err, session.ErrNoPendingSecondFactor)
	require.Zero(t, f.api.verifyCalls)
}

func TestVerifySecondFactorBadCodeKeepsChallenge(t *testing.T) {
	f := setupFixture(t)
	f.api.loginResult = &authapi.LoginResult{RequiresSecondFactor: true, TempToken: "t1"}
	f.api.verifyErr = apierror.FromStatus(401, "Invalid verification code")

	_, err := f.service.Login(context.Background(), "john.doe@example.com", "password123")
	require.NoError(t, err)

	_, err = f.service.VerifySecondFactor(context.Background(), "000000")
	require.ErrorIs(t, err, apierror.ErrAuthenticationFailed)
	// The challenge stays pending so the user can retry.
	require.NotNil(t, f.service.Current().Pending)
}

func TestLogoutClearsSessionAndDisconnects(t *testing.T) {
	f := setupFixture(t)
	f.store.Set(context.Background(), "access-1", "refresh-1", *testPrincipal())

	require.NoError(t, f.service.Logout(context.Background()))

	require.False(t, f.service.IsAuthenticated())
	require.Equal(t, 1, f.api.logoutCalls)
	require.Equal(t, 1, f.channel.disconnects)
}

func TestLogoutClearsEvenWhenServerCallFails(t *testing.T) {
	f := setupFixture(t)
	f.store.Set(context.Background(), "access-1", "refresh-1", *testPrincipal())
	f.api.logoutErr = errors.Wrap(apierror.ErrNetwork, "connection refused")

	require.NoError(t, f.service.Logout(context.Background()))

	current := f.service.Current()
	require.False(t, current.IsAuthenticated())
	require.Empty(t, current.AccessToken)
	require.Empty(t, current.RefreshToken)
	require.Equal(t, 1, f.channel.disconnects)
}

func TestLogoutWithoutSessionSkipsServerCall(t *testing.T) {
	f := setupFixture(t)

	require.NoError(t, f.service.Logout(context.Background()))
	require.Zero(t, f.api.logoutCalls)
	require.Equal(t, 1, f.channel.disconnects)
}

func TestRestorePassesThrough(t *testing.T) {
	f := setupFixture(t)
	f.store.Set(context.Background(), "access-1", "refresh-1", *testPrincipal())
	f.store.Clear(context.Background())

	found, err := f.service.Restore(context.Background())
	require.NoError(t, err)
	require.False(t, found)
}

func TestCheckAuthValidatesRestoredSession(t *testing.T) {
	f := setupFixture(t)
	f.store.Set(context.Background(), "access-1", "refresh-1", *testPrincipal())

	refreshed := testPrincipal()
	refreshed.DisplayName = "John Q. Doe"
	f.gateway.handler = func(req gateway.Request, out any) error {
		payload, _ := json.Marshal(map[string]any{"principal": refreshed})
		return json.Unmarshal(payload, out)
	}

	ok, err := f.service.CheckAuth(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "John Q. Doe", f.service.Current().Principal.DisplayName)
	require.Equal(t, 1, f.channel.connects)
	require.Len(t, f.gateway.calls, 1)
	require.Equal(t, "/auth/me", f.gateway.calls[0].Path)
}

func TestCheckAuthWithoutPersistedSession(t *testing.T) {
	f := setupFixture(t)

	ok, err := f.service.CheckAuth(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, len(f.gateway.calls))
}

func TestCheckAuthTerminalExpiryReportsFalse(t *testing.T) {
	f := setupFixture(t)
	f.store.Set(context.Background(), "access-1", "refresh-1", *testPrincipal())

	f.gateway.handler = func(req gateway.Request, out any) error {
		// The gateway clears the store when refresh fails terminally.
		f.store.Clear(context.Background())
		return errors.WithMessage(apierror.ErrSessionExpired, "refresh token revoked")
	}

	ok, err := f.service.CheckAuth(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, f.service.IsAuthenticated())
}

func TestCheckAuthNetworkFailureKeepsSession(t *testing.T) {
	f := setupFixture(t)
	f.store.Set(context.Background(), "access-1", "refresh-1", *testPrincipal())

	f.gateway.handler = func(req gateway.Request, out any) error {
		return errors.Wrap(apierror.ErrNetwork, "connection refused")
	}

	ok, err := f.service.CheckAuth(context.Background())
	require.ErrorIs(t, err, apierror.ErrNetwork)
	require.False(t, ok)
	// Offline is not logged out: the restored session survives.
	require.True(t, f.service.IsAuthenticated())
}

func TestUpdateProfileReplacesPrincipalWholesale(t *testing.T) {
	f := setupFixture(t)
	f.store.Set(context.Background(), "access-1", "refresh-1", *testPrincipal())

	f.gateway.handler = func(req gateway.Request, out any) error {
		payload, _ := json.Marshal(map[string]any{"principal": &credentials.Principal{
			ID:          "user-1",
			DisplayName: "Johnny",
			Role:        credentials.RoleAdmin,
		}})
		return json.Unmarshal(payload, out)
	}

	principal, err := f.service.UpdateProfile(context.Background(), session.ProfileUpdate{DisplayName: "Johnny"})
	require.NoError(t, err)
	require.Equal(t, "Johnny", principal.DisplayName)
	require.Equal(t, "Johnny", f.service.Current().Principal.DisplayName)
}

func TestDisableSecondFactorUpdatesPrincipal(t *testing.T) {
	f := setupFixture(t)
	principal := testPrincipal()
	principal.SecondFactorEnabled = true
	f.store.Set(context.Background(), "access-1", "refresh-1", *principal)

	require.NoError(t, f.service.DisableSecondFactor(context.Background(), "123456"))
	require.False(t, f.service.Current().Principal.SecondFactorEnabled)
}

func TestChannelFailureDoesNotFailLogin(t *testing.T) {
	f := setupFixture(t)
	f.api.loginResult = &authapi.LoginResult{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Principal:    testPrincipal(),
	}
	f.channel.connectErr = errors.New("dial tcp: connection refused")

	result, err := f.service.Login(context.Background(), "john.doe@example.com", "password123")
	require.NoError(t, err)
	require.NotNil(t, result.Principal)
	require.True(t, f.service.IsAuthenticated())
}
