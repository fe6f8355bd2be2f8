// Package transport maintains one WebSocket session to a Nanit camera, over
// the cloud relay or directly on the LAN. It keeps the channel alive with
// protocol keepalives and WebSocket pings, reconnects with backoff after an
// established session drops, and hands inbound binary frames to a callback.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ethan/nanit-relay/pkg/metrics"
	"github.com/ethan/nanit-relay/pkg/protocol"
	"github.com/ethan/nanit-relay/pkg/state"
)

const (
	handshakeTimeout = 15 * time.Second

	// keepaliveInterval paces the empty protobuf envelope the camera expects;
	// pingInterval paces the WebSocket-level heartbeat.
	keepaliveInterval = 25 * time.Second
	pingInterval      = 60 * time.Second

	readTimeout  = 150 * time.Second
	writeTimeout = 10 * time.Second

	backoffBase   = 1850 * time.Millisecond
	backoffFactor = 1.618
	backoffMax    = 60 * time.Second
)

// ConnectionChange is delivered on every transport state transition.
type ConnectionChange struct {
	State     state.ConnectionState
	Transport state.TransportKind
	Err       error
	Attempts  int
}

// Conn is a single-use connection manager: Connect once, Close once. All
// other methods are safe for concurrent use.
type Conn struct {
	kind   state.TransportKind
	target TargetFunc
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	ws        *websocket.Conn
	closed    bool
	attempts  int
	onMessage func([]byte)
	onChange  func(ConnectionChange)

	writeMu sync.Mutex
}

// New builds a connection manager for one target. OnMessage must be installed
// before Connect; OnConnectionChange may be attached later at the cost of
// missing the transitions emitted up to that point.
func New(kind state.TransportKind, target TargetFunc, log *slog.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		kind:   kind,
		target: target,
		logger: log.With("component", "ws", "transport", string(kind)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Kind reports which path this connection uses.
func (c *Conn) Kind() state.TransportKind { return c.kind }

// OnMessage installs the handler for inbound binary frames. Text and other
// frame types are dropped, as are binary frames that arrive while no handler
// is installed, so install it before Connect.
func (c *Conn) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// OnConnectionChange installs the handler for state transitions.
func (c *Conn) OnConnectionChange(fn func(ConnectionChange)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Connected reports whether a WebSocket session is currently established.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

// Connect dials the target once. On failure the error is returned and no
// reconnect is attempted; on success the session is maintained, with
// automatic reconnect, until Close.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return &Error{Op: "connect", Err: ErrClosed}
	}
	c.mu.Unlock()

	c.notify(state.StateConnecting, nil)
	ws, err := c.dial(ctx)
	if err != nil {
		c.notify(state.StateDisconnected, err)
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ws.Close()
		return &Error{Op: "connect", Err: ErrClosed}
	}
	c.ws = ws
	c.attempts = 0
	c.mu.Unlock()

	c.logger.Info("connected")
	c.notify(state.StateConnected, nil)

	c.wg.Add(1)
	go c.run(ws)
	return nil
}

// Send writes one binary frame.
func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	ws := c.ws
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return &Error{Op: "send", Err: ErrClosed}
	}
	if ws == nil {
		return &Error{Op: "send", Err: ErrNotConnected}
	}
	if err := c.write(ws, websocket.BinaryMessage, data); err != nil {
		return &Error{Op: "send", Err: err}
	}
	metrics.Frames.WithLabelValues(string(c.kind), "out").Inc()
	return nil
}

// Close tears the connection down. It is idempotent; the first call emits a
// final disconnected notification with no transport.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ws := c.ws
	c.ws = nil
	fn := c.onChange
	c.mu.Unlock()

	c.cancel()
	if ws != nil {
		c.writeMu.Lock()
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		ws.Close()
	}
	c.wg.Wait()

	c.logger.Info("closed")
	if fn != nil {
		fn(ConnectionChange{State: state.StateDisconnected, Transport: state.TransportNone})
	}
	return nil
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	t, err := c.target(ctx)
	if err != nil {
		return nil, &Error{Op: "dial", Err: err}
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		TLSClientConfig:  t.TLSConfig,
		Proxy:            nil,
	}
	ws, resp, err := dialer.DialContext(ctx, t.URL, t.Header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, &Error{Op: "dial", Err: fmt.Errorf("%w (status %d)", err, resp.StatusCode)}
		}
		return nil, &Error{Op: "dial", Err: err}
	}
	return ws, nil
}

// run owns the session lifecycle: read until failure, then reconnect with
// backoff, repeating until Close.
func (c *Conn) run(ws *websocket.Conn) {
	defer c.wg.Done()
	for {
		err := c.session(ws)

		c.mu.Lock()
		closed := c.closed
		c.ws = nil
		c.mu.Unlock()
		if closed {
			return
		}

		c.logger.Warn("connection lost", "err", err)
		next, ok := c.reconnect(err)
		if !ok {
			return
		}
		ws = next
	}
}

// session reads frames until the connection fails, running heartbeats in the
// background. It returns the read error that ended the session.
func (c *Conn) session(ws *websocket.Conn) error {
	done := make(chan struct{})
	c.wg.Add(1)
	go c.heartbeat(ws, done)
	defer close(done)

	ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			ws.Close()
			return err
		}
		ws.SetReadDeadline(time.Now().Add(readTimeout))

		if messageType != websocket.BinaryMessage {
			continue
		}
		metrics.Frames.WithLabelValues(string(c.kind), "in").Inc()

		c.mu.Lock()
		fn := c.onMessage
		c.mu.Unlock()
		if fn != nil {
			fn(data)
		}
	}
}

func (c *Conn) heartbeat(ws *websocket.Conn, done <-chan struct{}) {
	defer c.wg.Done()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.ctx.Done():
			return
		case <-keepalive.C:
			if err := c.write(ws, websocket.BinaryMessage, protocol.BuildKeepalive()); err != nil {
				c.logger.Debug("keepalive failed", "err", err)
				return
			}
		case <-ping.C:
			if err := c.write(ws, websocket.PingMessage, nil); err != nil {
				c.logger.Debug("ping failed", "err", err)
				return
			}
		}
	}
}

// reconnect loops dial attempts with backoff until a session is established
// or the connection is closed.
func (c *Conn) reconnect(cause error) (*websocket.Conn, bool) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, false
		}
		c.attempts++
		attempt := c.attempts
		c.mu.Unlock()

		metrics.Reconnects.WithLabelValues(string(c.kind)).Inc()
		c.notify(state.StateReconnecting, cause)

		delay := backoffDelay(attempt)
		c.logger.Info("reconnecting", "attempt", attempt, "delay", delay)
		select {
		case <-c.ctx.Done():
			return nil, false
		case <-time.After(delay):
		}

		ws, err := c.dial(c.ctx)
		if err != nil {
			cause = err
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			ws.Close()
			return nil, false
		}
		c.ws = ws
		c.attempts = 0
		c.mu.Unlock()

		c.logger.Info("reconnected")
		c.notify(state.StateConnected, nil)
		return ws, true
	}
}

func (c *Conn) write(ws *websocket.Conn, messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return ws.WriteMessage(messageType, data)
}

func (c *Conn) notify(s state.ConnectionState, err error) {
	c.mu.Lock()
	fn := c.onChange
	attempts := c.attempts
	c.mu.Unlock()
	if fn == nil {
		return
	}
	fn(ConnectionChange{
		State:     s,
		Transport: c.kind,
		Err:       err,
		Attempts:  attempts,
	})
}

// backoffDelay grows geometrically from the base and caps out. Only the first
// retry of a sequence carries jitter; attempts reset to zero on a successful
// connect.
func backoffDelay(attempt int) time.Duration {
	d := float64(backoffBase) * math.Pow(backoffFactor, float64(attempt-1))
	if d > float64(backoffMax) {
		d = float64(backoffMax)
	}
	delay := time.Duration(d)
	if attempt == 1 {
		delay += time.Duration(rand.Float64() * float64(time.Second))
	}
	return delay
}
