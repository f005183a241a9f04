package channel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/careline/rtc/internal/application/constant"
	"github.com/careline/rtc/internal/application/metric"
	"github.com/careline/rtc/internal/domain/events"
)

const (
	// readTimeout must outlast the relay heartbeat period. Absence of
	// any traffic for this long is what triggers a reconnect; there is
	// no protocol-level ping beyond the transport's own.
	readTimeout = 60 * time.Second

	writeWait = 10 * time.Second
)

var ErrNotConnected = errors.New("event channel is not connected")

// Dialer is satisfied by *websocket.Dialer; tests inject failing ones.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// ReconnectPolicy makes the retry behaviour explicit and test-drivable.
type ReconnectPolicy struct {
	// MaxAttempts per outage; 0 retries forever.
	MaxAttempts int

	// Delay returns how long to wait before the given 1-based attempt.
	Delay func(attempt int) time.Duration
}

// DefaultReconnectPolicy backs off exponentially from base, capped at max.
func DefaultReconnectPolicy(base, max time.Duration, maxAttempts int) ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts: maxAttempts,
		Delay: func(attempt int) time.Duration {
			d := base << (attempt - 1)
			if d > max || d <= 0 {
				return max
			}
			return d
		},
	}
}

type Handler func(data json.RawMessage)

// Client maintains the single long-lived event channel of a logged-in
// user: it dials, reads, dispatches typed events to subscribers and
// reconnects on its own after transport failures.
type Client struct {
	url    string
	token  string
	dialer Dialer
	policy ReconnectPolicy

	mu       sync.RWMutex
	handlers map[string][]Handler
	stateFns []func(connected bool)

	connMu sync.Mutex
	conn   *websocket.Conn

	connected atomic.Bool

	kick chan struct{}
	done chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup
}

func New(url, token string, policy ReconnectPolicy) *Client {
	return &Client{
		url:      url,
		token:    token,
		dialer:   websocket.DefaultDialer,
		policy:   policy,
		handlers: make(map[string][]Handler),
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// SetDialer replaces the websocket dialer. Call before Connect.
func (c *Client) SetDialer(d Dialer) {
	c.dialer = d
}

// On registers a handler for one event type. Handlers run on the read
// loop, in delivery order: that loop is the single ordering point for
// everything the channel delivers.
func (c *Client) On(eventType string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers[eventType] = append(c.handlers[eventType], handler)
}

// OnStateChange registers a callback for connectivity flips.
func (c *Client) OnStateChange(fn func(connected bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stateFns = append(c.stateFns, fn)
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Connect performs the initial dial and starts the read/reconnect loop.
// Only the first dial can fail the call; later outages are handled
// internally by the reconnect policy.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	c.setConn(conn)
	c.setConnected(true)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(conn)
	}()

	return nil
}

// ForceReconnect kicks the reconnect loop immediately, skipping any
// pending backoff delay. It returns right away; use WaitConnected to
// block for the result.
func (c *Client) ForceReconnect() {
	if c.IsConnected() {
		return
	}

	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// WaitConnected blocks until the channel is connected, the timeout
// elapses or ctx is cancelled.
func (c *Client) WaitConnected(ctx context.Context, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		if c.IsConnected() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return ErrNotConnected
		case <-ticker.C:
		}
	}
}

// Disconnect stops the client for good. It does not trigger reconnects.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		close(c.done)

		c.connMu.Lock()
		if c.conn != nil {
			_ = c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			_ = c.conn.Close()
		}
		c.connMu.Unlock()

		c.setConnected(false)
	})

	c.wg.Wait()
}

func (c *Client) run(conn *websocket.Conn) {
	for {
		c.readLoop(conn)

		c.setConnected(false)

		if c.isClosed() {
			return
		}

		next, ok := c.reconnect()
		if !ok {
			return
		}

		conn = next
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				slog.Warn("event channel read failed", slog.Any(constant.Error, err))
			}
			_ = conn.Close()
			return
		}

		// Any inbound traffic, heartbeats included, counts as liveness.
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		c.dispatch(raw)
	}
}

func (c *Client) dispatch(raw []byte) {
	var envelope events.Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		slog.Error("unmarshal channel event", slog.Any(constant.Error, err))
		return
	}

	metric.RecordChannelEvent(envelope.Type)

	c.mu.RLock()
	handlers := c.handlers[envelope.Type]
	c.mu.RUnlock()

	if len(handlers) == 0 && envelope.Type != events.TypeHeartbeat {
		// Unknown or unsubscribed event types are ignored, not fatal.
		slog.Debug("unhandled channel event", slog.String(constant.EventType, envelope.Type))
		return
	}

	for _, handler := range handlers {
		handler(envelope.Data)
	}
}

// reconnect dials until it succeeds, the policy gives up or the client
// is closed. It never terminates the process.
func (c *Client) reconnect() (*websocket.Conn, bool) {
	attempt := 0

	for {
		attempt++

		if c.policy.MaxAttempts > 0 && attempt > c.policy.MaxAttempts {
			slog.Error(
				"event channel reconnect attempts exhausted",
				slog.Int(constant.Attempt, attempt-1),
			)

			// Stay alive: a ForceReconnect starts a fresh cycle.
			select {
			case <-c.done:
				return nil, false
			case <-c.kick:
				attempt = 0
				continue
			}
		}

		select {
		case <-c.done:
			return nil, false
		case <-c.kick:
		case <-time.After(c.policy.Delay(attempt)):
		}

		metric.IncrementChannelReconnects()

		conn, err := c.dial(context.Background())
		if err != nil {
			slog.Warn(
				"event channel reconnect failed",
				slog.Any(constant.Error, err),
				slog.Int(constant.Attempt, attempt),
			)
			continue
		}

		c.setConn(conn)
		c.setConnected(true)

		slog.Info("event channel reconnected", slog.Int(constant.Attempt, attempt))

		return conn, true
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Cookie", "jwt="+c.token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	return conn, nil
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.conn = conn
}

func (c *Client) setConnected(connected bool) {
	if c.connected.Swap(connected) == connected {
		return
	}

	c.mu.RLock()
	stateFns := c.stateFns
	c.mu.RUnlock()

	for _, fn := range stateFns {
		fn(connected)
	}
}
