// Package channel implements the reconnecting push channel client.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"expo-booking-backend/internal/wire"
)

// Dialer opens websocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Config holds the connection settings.
type Config struct {
	URL   string
	Token string
	// Heartbeat is the ping interval while connected.
	Heartbeat time.Duration
	// ReconnectBase is the first reconnect delay; each attempt doubles it.
	ReconnectBase time.Duration
	// MaxAttempts bounds automatic reconnects before reconnect_failed.
	MaxAttempts int
	// DialTimeout bounds a single handshake.
	DialTimeout time.Duration
}

type entry struct {
	id HandlerID
	fn Handler
}

// Client is one long-lived push connection. It survives transport loss by
// reconnecting with exponential backoff and replays its subscriptions after
// every reconnect. The zero value is not usable; call New.
type Client struct {
	cfg    Config
	dialer Dialer
	log    *zap.Logger
	now    func() time.Time

	mu             sync.Mutex
	state          State
	attempt        int
	conn           *websocket.Conn
	connDone       chan struct{}
	stopSession    context.CancelFunc
	subs           map[string]struct{}
	closedByCaller bool
	reconnecting   bool
	stop           chan struct{}
	delays         *backoff.ExponentialBackOff

	writeMu sync.Mutex

	handlersMu sync.RWMutex
	handlers   map[Key][]entry
	nextID     HandlerID
}

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New creates a disconnected client.
func New(cfg Config, opts ...Option) *Client {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 30 * time.Second
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	delays := backoff.NewExponentialBackOff()
	delays.InitialInterval = cfg.ReconnectBase
	delays.RandomizationFactor = 0
	delays.Multiplier = 2
	delays.MaxInterval = cfg.ReconnectBase << min(cfg.MaxAttempts, 16)
	delays.Reset()

	c := &Client{
		cfg:      cfg,
		dialer:   websocket.DefaultDialer,
		log:      zap.NewNop(),
		now:      time.Now,
		state:    StateDisconnected,
		subs:     make(map[string]struct{}),
		handlers: make(map[Key][]entry),
		delays:   delays,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempt returns the reconnect attempt counter; it is 0 while connected.
func (c *Client) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// Subscriptions returns the subscribed topics, sorted.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	topics := make([]string, 0, len(c.subs))
	for t := range c.subs {
		topics = append(topics, t)
	}
	slices.Sort(topics)
	return topics
}

// Connect opens the connection. If the first handshake fails the error is
// returned and reconnects continue in the background. Calling Connect while
// connecting or connected is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected || c.reconnecting {
		c.mu.Unlock()
		return nil
	}
	c.closedByCaller = false
	c.stop = make(chan struct{})
	c.delays.Reset()
	c.mu.Unlock()

	err := c.dial(ctx)
	if err != nil {
		c.emit(Message{Key: KeyError, Err: err})
		c.scheduleReconnect()
	}
	return err
}

// Close disconnects without reconnecting. It waits for the read loop to exit.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closedByCaller && c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.closedByCaller = true
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	conn, done := c.conn, c.connDone
	if conn == nil {
		c.state = StateDisconnected
		c.mu.Unlock()
		return
	}
	c.state = StateClosing
	c.mu.Unlock()

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(time.Second))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	conn.Close()
	<-done
}

// On registers h for messages with key k.
func (c *Client) On(k Key, h Handler) HandlerID {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.nextID++
	c.handlers[k] = append(c.handlers[k], entry{id: c.nextID, fn: h})
	return c.nextID
}

// Off removes a registration made with On.
func (c *Client) Off(k Key, id HandlerID) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[k] = slices.DeleteFunc(c.handlers[k], func(e entry) bool { return e.id == id })
	if len(c.handlers[k]) == 0 {
		delete(c.handlers, k)
	}
}

// Subscribe adds topics. They are sent now if connected and replayed after
// every reconnect.
func (c *Client) Subscribe(topics ...string) {
	c.mu.Lock()
	for _, t := range topics {
		c.subs[t] = struct{}{}
	}
	c.mu.Unlock()
	if c.State() == StateConnected {
		c.Send(wire.TypeSubscribe, wire.Topics{Topics: topics})
	}
}

// Unsubscribe removes topics.
func (c *Client) Unsubscribe(topics ...string) {
	c.mu.Lock()
	for _, t := range topics {
		delete(c.subs, t)
	}
	c.mu.Unlock()
	if c.State() == StateConnected {
		c.Send(wire.TypeUnsubscribe, wire.Topics{Topics: topics})
	}
}

// Send writes a frame if connected. Otherwise it logs a warning and drops the
// frame; nothing is queued for later. It reports whether the frame was written.
func (c *Client) Send(t wire.Type, data any) bool {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()
	if state != StateConnected || conn == nil {
		c.log.Warn("not connected, dropping outbound frame",
			zap.String("type", string(t)), zap.Stringer("state", state))
		return false
	}

	raw, err := wire.EncodeClient(t, data, c.now())
	if err != nil {
		c.log.Error("failed to encode outbound frame", zap.String("type", string(t)), zap.Error(err))
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		c.log.Warn("write failed", zap.String("type", string(t)), zap.Error(err))
		return false
	}
	return true
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid channel url: %w", err)
	}
	if c.cfg.Token != "" {
		q := u.Query()
		q.Set("token", c.cfg.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// dial performs one handshake and, on success, starts the session.
func (c *Client) dial(ctx context.Context) error {
	c.mu.Lock()
	c.state = StateConnecting
	c.mu.Unlock()

	endpoint, err := c.endpoint()
	if err == nil {
		dctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
		var conn *websocket.Conn
		var resp *http.Response
		conn, resp, err = c.dialer.DialContext(dctx, endpoint, nil)
		cancel()
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err == nil {
			if c.open(conn) {
				return nil
			}
			conn.Close()
			return errors.New("closed while connecting")
		}
	}

	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
	return err
}

// open installs conn as the live connection unless Close raced the handshake.
func (c *Client) open(conn *websocket.Conn) bool {
	c.mu.Lock()
	if c.closedByCaller {
		c.state = StateDisconnected
		c.mu.Unlock()
		return false
	}
	session, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.conn, c.connDone, c.stopSession = conn, done, cancel
	c.state = StateConnected
	c.reconnecting = false
	c.attempt = 0
	c.delays.Reset()
	topics := make([]string, 0, len(c.subs))
	for t := range c.subs {
		topics = append(topics, t)
	}
	c.mu.Unlock()

	slices.Sort(topics)
	if len(topics) > 0 {
		c.Send(wire.TypeSubscribe, wire.Topics{Topics: topics})
	}
	c.log.Info("push channel connected", zap.String("url", c.cfg.URL))
	c.emit(Message{Key: KeyConnected, Timestamp: c.now()})

	go c.readLoop(conn, done)
	go c.heartbeat(session)
	return true
}

func (c *Client) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Send(wire.TypePing, nil)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.dropped(conn, err)
			return
		}
		c.dispatch(raw)
	}
}

// dropped handles the end of a connection's read loop.
func (c *Client) dropped(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.stopSession()
	byCaller := c.closedByCaller
	c.state = StateDisconnected
	c.mu.Unlock()

	conn.Close()
	if byCaller {
		c.log.Info("push channel closed")
		c.emit(Message{Key: KeyDisconnected, Timestamp: c.now()})
		return
	}

	c.log.Warn("push channel lost", zap.Error(err))
	c.emit(Message{Key: KeyDisconnected, Err: err, Timestamp: c.now()})
	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.closedByCaller || c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	stop := c.stop
	c.mu.Unlock()

	go c.reconnectLoop(stop)
}

// reconnectLoop retries the handshake until it succeeds, the attempt cap is
// hit, or the caller closes the client. The reconnecting flag is cleared under
// c.mu before any exit becomes visible, so handlers may call Connect.
func (c *Client) reconnectLoop(stop <-chan struct{}) {
	for {
		c.mu.Lock()
		if c.closedByCaller {
			c.reconnecting = false
			c.mu.Unlock()
			return
		}
		if c.attempt >= c.cfg.MaxAttempts {
			attempts := c.attempt
			c.state = StateDisconnected
			c.reconnecting = false
			c.mu.Unlock()
			c.log.Error("giving up reconnecting", zap.Int("attempts", attempts))
			c.emit(Message{Key: KeyReconnectFailed, Attempt: attempts, Timestamp: c.now()})
			return
		}
		c.attempt++
		attempt := c.attempt
		delay := c.delays.NextBackOff()
		c.mu.Unlock()

		c.log.Info("reconnecting", zap.Int("attempt", attempt), zap.Duration("delay", delay))
		c.emit(Message{Key: KeyReconnecting, Attempt: attempt, Delay: delay, Timestamp: c.now()})

		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-stop:
			t.Stop()
			c.mu.Lock()
			c.reconnecting = false
			c.mu.Unlock()
			return
		}

		// open clears the flag on success.
		err := c.dial(context.Background())
		if err == nil {
			return
		}
		c.emit(Message{Key: KeyError, Err: err, Attempt: attempt, Timestamp: c.now()})
	}
}

// dispatch demultiplexes one inbound frame. Malformed frames and unknown
// types are logged and dropped.
func (c *Client) dispatch(raw []byte) {
	f, err := wire.DecodeServer(raw)
	if err != nil {
		c.log.Warn("dropping malformed frame", zap.Error(err))
		return
	}
	if !wire.IsServerType(f.Type) {
		c.log.Warn("dropping frame of unknown type", zap.String("type", string(f.Type)))
		return
	}

	msg := Message{
		Key:       FrameKey(f.Type),
		Type:      f.Type,
		Payload:   f.Payload,
		Timestamp: time.UnixMilli(f.Timestamp),
	}
	if f.Type != wire.TypeBoothUpdate && f.Type != wire.TypeSessionUpdate {
		c.emit(msg)
		return
	}

	u, err := f.Update()
	if err != nil {
		c.log.Warn("dropping malformed update", zap.String("type", string(f.Type)), zap.Error(err))
		return
	}
	msg.Update = &u
	c.emit(msg)
	msg.Key = EventKey(u.Kind)
	c.emit(msg)
}

func (c *Client) emit(m Message) {
	c.handlersMu.RLock()
	hs := slices.Clone(c.handlers[m.Key])
	c.handlersMu.RUnlock()

	for _, h := range hs {
		c.call(h.fn, m)
	}
}

func (c *Client) call(fn Handler, m Message) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("handler panicked", zap.String("key", string(m.Key)), zap.Any("panic", r))
		}
	}()
	fn(m)
}
