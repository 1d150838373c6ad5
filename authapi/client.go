// Package authapi provides the raw HTTP bindings for the authentication
// endpoints. These calls deliberately bypass the request gateway: a 401
// from a bad password must never trigger a credential refresh, and the
// refresh call itself must not recurse through the retry machinery.
package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hostpanel/panelclient/apierror"
	"github.com/hostpanel/panelclient/credentials"
	"github.com/pkg/errors"
)

// Client issues requests against the /auth endpoint family.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client. timeout is the fixed per-call ceiling; a request
// exceeding it is classified as a network failure.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("[authapi.New] baseURL is required")
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// LoginResult is the outcome of a login or second-factor exchange. Either
// the credential triple is populated, or RequiresSecondFactor is true and
// TempToken carries the challenge credential.
type LoginResult struct {
	AccessToken          string                 `json:"accessToken"`
	RefreshToken         string                 `json:"refreshToken"`
	Principal            *credentials.Principal `json:"principal"`
	RequiresSecondFactor bool                   `json:"requiresSecondFactor"`
	TempToken            string                 `json:"tempToken"`
}

// RefreshResult is the outcome of a credential refresh. RefreshToken and
// Principal are nil unless the server rotated them.
type RefreshResult struct {
	AccessToken  string                 `json:"accessToken"`
	RefreshToken *string                `json:"refreshToken"`
	Principal    *credentials.Principal `json:"principal"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyRequest struct {
	TempToken string `json:"tempToken"`
	Code      string `json:"code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Login exchanges credentials for a session, or for a second-factor
// challenge when the account has 2FA enabled.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var result LoginResult
	if err := c.post(ctx, "/auth/login", loginRequest{Email: email, Password: password}, "", &result); err != nil {
		return nil, errors.Wrap(err, "[Client.Login]")
	}
	return &result, nil
}

// VerifySecondFactor exchanges a pending temp token plus a one-time code
// for a durable session.
func (c *Client) VerifySecondFactor(ctx context.Context, tempToken, code string) (*LoginResult, error) {
	var result LoginResult
	if err := c.post(ctx, "/auth/2fa/verify", verifyRequest{TempToken: tempToken, Code: code}, "", &result); err != nil {
		return nil, errors.Wrap(err, "[Client.VerifySecondFactor]")
	}
	return &result, nil
}

// Refresh mints a new access credential from the refresh credential.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	var result RefreshResult
	if err := c.post(ctx, "/auth/refresh", refreshRequest{RefreshToken: refreshToken}, "", &result); err != nil {
		return nil, errors.Wrap(err, "[Client.Refresh]")
	}
	return &result, nil
}

// Logout notifies the server that the session is ending.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	if err := c.post(ctx, "/auth/logout", nil, accessToken, nil); err != nil {
		return errors.Wrap(err, "[Client.Logout]")
	}
	return nil
}

type errorBody struct {
	Error string `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, bearer string, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshal request body")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(apierror.ErrNetwork, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(apierror.ErrNetwork, err.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		return apierror.FromStatus(resp.StatusCode, eb.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Wrap(err, "decode response body")
	}
	return nil
}
