// Package gateway wraps all authenticated HTTP traffic to the panel API:
// it attaches the current access credential, recovers exactly one class of
// failure locally (a single authorization failure, via one refresh and one
// resend) and classifies everything else for the caller.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hostpanel/panelclient/apierror"
	"github.com/hostpanel/panelclient/credentials"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Refresher mints a new access credential. Implemented by
// refresh.Coordinator.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// Request describes one outbound call. The retry bookkeeping lives in the
// gateway, scoped to a single Send; a Request value can be reused.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// Response is the raw outcome of a successful call.
type Response struct {
	StatusCode int
	Body       []byte
}

// pendingRequest scopes the retried flag to one Send invocation so retry
// state is never smuggled between requests.
type pendingRequest struct {
	req     Request
	retried bool
}

// Gateway sends authenticated requests with a single-retry-after-refresh
// policy on authorization failures.
type Gateway struct {
	baseURL          string
	httpClient       *http.Client
	store            *credentials.Store
	refresher        Refresher
	nowTime          func() time.Time
	onSessionExpired []func()
}

// Option modifies a Gateway at construction.
type Option func(*Gateway)

// WithNowTime sets the clock used for local token expiry checks
// (primarily for testing).
func WithNowTime(nowFunc func() time.Time) Option {
	return func(g *Gateway) {
		g.nowTime = nowFunc
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) {
		g.httpClient = client
	}
}

// New creates a Gateway. timeout is the fixed per-call ceiling; exceeding
// it classifies as a network failure and never triggers a refresh.
func New(baseURL string, timeout time.Duration, store *credentials.Store, refresher Refresher, options ...Option) (*Gateway, error) {
	if baseURL == "" {
		return nil, errors.New("[gateway.New] baseURL is required")
	}
	if store == nil {
		return nil, errors.New("[gateway.New] store is required")
	}
	if refresher == nil {
		return nil, errors.New("[gateway.New] refresher is required")
	}

	g := &Gateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		store:      store,
		refresher:  refresher,
		nowTime:    time.Now,
	}
	for _, opt := range options {
		opt(g)
	}
	return g, nil
}

// OnSessionExpired registers a handler fired when a refresh ultimately
// fails on an authenticated request. Consumers use it as the
// redirect-to-login signal. The local session is already cleared by the
// time the handler runs.
func (g *Gateway) OnSessionExpired(handler func()) {
	g.onSessionExpired = append(g.onSessionExpired, handler)
}

// Do sends the request and decodes a JSON response body into out. A nil
// out discards the body.
func (g *Gateway) Do(ctx context.Context, req Request, out any) error {
	resp, err := g.Send(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return errors.Wrap(err, "[Gateway.Do] decode response body")
	}
	return nil
}

// Send transmits the request, attaching the current access credential when
// present. An access token that is already expired by local inspection is
// refreshed before transmission; a 401 response on a not-yet-retried
// request triggers one refresh and one resend. Every other failure class
// passes through to the caller.
func (g *Gateway) Send(ctx context.Context, req Request) (*Response, error) {
	pending := pendingRequest{req: req}

	token := g.store.Get().AccessToken
	if token != "" && credentials.TokenExpired(token, g.nowTime()) {
		log.Debug().Str("path", req.Path).Msg("access token expired locally, refreshing before send")
		newToken, err := g.refresher.Refresh(ctx)
		if err != nil {
			g.signalSessionExpired()
			return nil, errors.Wrap(err, "[Gateway.Send] pre-send refresh")
		}
		token = newToken
	}

	for {
		resp, err := g.transmit(ctx, pending.req, token)
		if err != nil {
			return nil, errors.Wrap(err, "[Gateway.Send]")
		}

		if resp.StatusCode != http.StatusUnauthorized {
			if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
				return resp, nil
			}
			return nil, apierror.FromStatus(resp.StatusCode, serverMessage(resp.Body))
		}

		// 401 on an unauthenticated request: nothing to refresh.
		if token == "" {
			return nil, apierror.FromStatus(resp.StatusCode, serverMessage(resp.Body))
		}

		// 401 on the already-retried request: the freshly minted
		// credential was rejected, so the session is not salvageable.
		if pending.retried {
			g.store.Clear(ctx)
			g.signalSessionExpired()
			return nil, apierror.FromStatus(resp.StatusCode, serverMessage(resp.Body))
		}

		newToken, err := g.refresher.Refresh(ctx)
		if err != nil {
			g.signalSessionExpired()
			return nil, errors.Wrap(err, "[Gateway.Send] refresh after 401")
		}
		pending.retried = true
		token = newToken
	}
}

func (g *Gateway) transmit(ctx context.Context, req Request, token string) (*Response, error) {
	var reader io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, errors.Wrap(err, "marshal request body")
		}
		reader = bytes.NewReader(payload)
	}

	target := g.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, reader)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	httpReq.Header.Set("X-Request-ID", uuid.New().String())

	httpResp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(apierror.ErrNetwork, err.Error())
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errors.Wrap(apierror.ErrNetwork, err.Error())
	}

	return &Response{StatusCode: httpResp.StatusCode, Body: body}, nil
}

func (g *Gateway) signalSessionExpired() {
	for _, handler := range g.onSessionExpired {
		handler()
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func serverMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return ""
	}
	return eb.Error
}
