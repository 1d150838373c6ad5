// Package realtime maintains the authenticated bidirectional event
// channel to the panel server: one websocket connection that
// re-authenticates on every (re)connect, replays topic subscriptions
// after reconnects and fans inbound events out to registered handlers.
package realtime

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/hostpanel/panelclient/credentials"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// State is the connection lifecycle state of the channel.
type State int32

const (
	Disconnected State = iota
	Connecting
	Authenticating
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// Envelope is the wire frame for every message in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	typeAuth        = "auth"
	typeAuthOK      = "auth_ok"
	typeAuthError   = "auth_error"
	typeSubscribe   = "subscribe"
	typeUnsubscribe = "unsubscribe"
)

type authPayload struct {
	Token string `json:"token"`
}

type topicsPayload struct {
	Topics []string `json:"topics"`
}

var (
	// ErrNoCredential is returned by Connect when no access credential
	// is held.
	ErrNoCredential = errors.New("no access credential for realtime channel")

	// errAuthRejected is an internal handshake outcome that drives a
	// credential refresh inside the reconnect loop.
	errAuthRejected = errors.New("realtime handshake rejected")
)

const handshakeTimeout = 10 * time.Second

// Refresher mints a new access credential. Implemented by
// refresh.Coordinator.
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// Channel is the realtime event channel. The topic subscription set
// survives disconnects, explicit or not, and is replayed to the server
// after every successful handshake.
type Channel struct {
	url       string
	store     *credentials.Store
	refresher Refresher
	dialer    *websocket.Dialer
	registry  *registry

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	topics     []string
	cancelLoop context.CancelFunc

	writeMu sync.Mutex
}

// NewChannel creates a Channel against the given websocket URL.
func NewChannel(url string, store *credentials.Store, refresher Refresher) (*Channel, error) {
	if url == "" {
		return nil, errors.New("[NewChannel] url is required")
	}
	if store == nil {
		return nil, errors.New("[NewChannel] store is required")
	}
	if refresher == nil {
		return nil, errors.New("[NewChannel] refresher is required")
	}
	return &Channel{
		url:       url,
		store:     store,
		refresher: refresher,
		dialer:    websocket.DefaultDialer,
		registry:  newRegistry(),
	}, nil
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the transport and authenticates with the current access
// credential. It is a no-op when a connection attempt is already underway
// or established, and fails when no credential is held.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case Connected, Connecting, Authenticating, Reconnecting:
		c.mu.Unlock()
		return nil
	}
	if c.store.Get().AccessToken == "" {
		c.mu.Unlock()
		return errors.Wrap(ErrNoCredential, "[Channel.Connect]")
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancelLoop = cancel
	c.state = Connecting
	c.mu.Unlock()

	if err := c.establish(ctx, loopCtx); err != nil {
		c.mu.Lock()
		c.state = Disconnected
		c.cancelLoop = nil
		c.mu.Unlock()
		cancel()
		return errors.Wrap(err, "[Channel.Connect]")
	}
	return nil
}

// Disconnect tears the transport down and stops any reconnect attempt,
// immediately and permanently until the next Connect. The subscription
// set is preserved so a later Connect resumes the same topics.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	if c.cancelLoop != nil {
		c.cancelLoop()
		c.cancelLoop = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = Disconnected
	c.mu.Unlock()
	log.Debug().Msg("realtime channel disconnected")
}

// Subscribe adds the topic to the subscription set and registers the
// handler for its events. When connected, the subscribe control message is
// sent immediately; otherwise it is deferred to the next successful
// connect.
func (c *Channel) Subscribe(topic string, handler Handler) {
	c.registry.add(topic, handler)

	c.mu.Lock()
	added := c.addTopicLocked(topic)
	conn := c.conn
	connected := c.state == Connected
	c.mu.Unlock()

	if added && connected {
		c.writeEnvelope(conn, typeSubscribe, topicsPayload{Topics: []string{topic}})
	}
}

// Unsubscribe removes the handler registration. When no handlers remain
// for the topic it is dropped from the subscription set and, if connected,
// an unsubscribe control message is sent.
func (c *Channel) Unsubscribe(topic string, handler Handler) {
	if c.registry.remove(topic, handler) {
		return
	}

	c.mu.Lock()
	removed := c.removeTopicLocked(topic)
	conn := c.conn
	connected := c.state == Connected
	c.mu.Unlock()

	if removed && connected {
		c.writeEnvelope(conn, typeUnsubscribe, topicsPayload{Topics: []string{topic}})
	}
}

// On registers a handler for an event type without touching the server
// subscription set.
func (c *Channel) On(eventType string, handler Handler) {
	c.registry.add(eventType, handler)
}

// Off removes a handler registered with On.
func (c *Channel) Off(eventType string, handler Handler) {
	c.registry.remove(eventType, handler)
}

// Send transmits an application message. Outbound messages are never
// queued across disconnects: when the channel is not connected the message
// is dropped with a log line.
func (c *Channel) Send(eventType string, payload any) {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == Connected
	c.mu.Unlock()

	if !connected {
		log.Warn().Str("event", eventType).Msg("realtime channel not connected, message dropped")
		return
	}

	c.writeEnvelope(conn, eventType, payload)
}

// establish dials, authenticates and replays the subscription set, then
// hands the connection to the read loop.
func (c *Channel) establish(dialCtx, loopCtx context.Context) error {
	token := c.store.Get().AccessToken
	if token == "" {
		return ErrNoCredential
	}

	conn, _, err := c.dialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		return errors.Wrap(err, "dial")
	}

	c.setState(Authenticating)
	if err := c.handshake(conn, token); err != nil {
		_ = conn.Close()
		return err
	}

	c.mu.Lock()
	if loopCtx.Err() != nil {
		// Disconnect raced the handshake; drop the fresh connection.
		c.mu.Unlock()
		_ = conn.Close()
		return errors.Wrap(loopCtx.Err(), "disconnected during handshake")
	}
	c.conn = conn
	c.state = Connected
	topics := make([]string, len(c.topics))
	copy(topics, c.topics)
	c.mu.Unlock()

	if len(topics) > 0 {
		c.writeEnvelope(conn, typeSubscribe, topicsPayload{Topics: topics})
	}
	log.Info().Int("topics", len(topics)).Msg("realtime channel connected")

	go c.readLoop(loopCtx, conn)
	return nil
}

func (c *Channel) handshake(conn *websocket.Conn, token string) error {
	payload, err := json.Marshal(authPayload{Token: token})
	if err != nil {
		return errors.Wrap(err, "marshal auth payload")
	}
	if err := conn.WriteJSON(Envelope{Type: typeAuth, Payload: payload}); err != nil {
		return errors.Wrap(err, "send auth frame")
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	var ack Envelope
	if err := conn.ReadJSON(&ack); err != nil {
		return errors.Wrap(err, "read auth ack")
	}
	switch ack.Type {
	case typeAuthOK:
		return nil
	case typeAuthError:
		return errAuthRejected
	default:
		return errors.Errorf("unexpected handshake ack %q", ack.Type)
	}
}

func (c *Channel) readLoop(loopCtx context.Context, conn *websocket.Conn) {
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if loopCtx.Err() != nil {
				return
			}
			c.mu.Lock()
			if c.conn != conn {
				// A newer connection took over; this loop is stale.
				c.mu.Unlock()
				return
			}
			c.conn = nil
			c.state = Reconnecting
			c.mu.Unlock()

			log.Warn().Err(err).Msg("realtime transport dropped, reconnecting")
			c.reconnect(loopCtx)
			return
		}
		c.registry.dispatch(env.Type, env.Payload)
	}
}

// reconnect re-establishes the connection under exponential backoff until
// it succeeds, the session becomes unrefreshable, or Disconnect cancels
// the loop.
func (c *Channel) reconnect(loopCtx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0

	operation := func() error {
		err := c.establish(loopCtx, loopCtx)
		if err == nil {
			return nil
		}
		if errors.Is(err, errAuthRejected) {
			log.Debug().Msg("realtime handshake rejected, refreshing credential")
			if _, refreshErr := c.refresher.Refresh(loopCtx); refreshErr != nil {
				return backoff.Permanent(errors.Wrap(refreshErr, "re-authentication refresh"))
			}
			return err
		}
		if errors.Is(err, ErrNoCredential) {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(operation, backoff.WithContext(bo, loopCtx)); err != nil {
		if loopCtx.Err() != nil {
			// Explicit Disconnect already set the terminal state.
			return
		}
		c.setState(Disconnected)
		log.Warn().Err(err).Msg("realtime reconnect abandoned")
	}
}

func (c *Channel) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

// addTopicLocked inserts the topic keeping the set sorted, so subscription
// replay order is deterministic. Reports whether the topic was new.
func (c *Channel) addTopicLocked(topic string) bool {
	i := sort.SearchStrings(c.topics, topic)
	if i < len(c.topics) && c.topics[i] == topic {
		return false
	}
	c.topics = append(c.topics, "")
	copy(c.topics[i+1:], c.topics[i:])
	c.topics[i] = topic
	return true
}

func (c *Channel) removeTopicLocked(topic string) bool {
	i := sort.SearchStrings(c.topics, topic)
	if i >= len(c.topics) || c.topics[i] != topic {
		return false
	}
	c.topics = append(c.topics[:i], c.topics[i+1:]...)
	return true
}

// writeEnvelope serializes writes; the websocket permits one concurrent
// writer.
func (c *Channel) writeEnvelope(conn *websocket.Conn, envType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Warn().Err(err).Str("type", envType).Msg("failed to marshal envelope payload")
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(Envelope{Type: envType, Payload: raw}); err != nil {
		log.Warn().Err(err).Str("type", envType).Msg("realtime write failed")
	}
}
