// Package realtime owns the single live WebSocket transport to the chat
// server. It runs the connection state machine, performs the authenticate
// handshake, measures heartbeat latency, reconnects with exponential
// backoff, queues outbound traffic across disconnects, and publishes decoded
// inbound frames and lifecycle events onto the event bus for independent
// consumers.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/gobwas/ws"

	"github.com/beacon/chat-app/internal/eventbus"
	"github.com/beacon/chat-app/internal/metrics"
	"github.com/beacon/chat-app/internal/protocol"
)

// maxReconnectDelay caps the exponential backoff schedule.
const maxReconnectDelay = 30 * time.Second

// Config holds tunable parameters for the connection manager. Storing it is
// pure configuration; no transport is opened until Connect.
type Config struct {
	URL                   string        // WebSocket URL, e.g. "ws://localhost:8080/ws"
	Debug                 bool          // verbose connection logging
	MaxReconnectAttempts  int           // consecutive failures before giving up
	BaseReconnectInterval time.Duration // backoff base (attempt 1 delay)
	HeartbeatInterval     time.Duration // ping cadence while connected
	Dialer                Dialer        // transport factory; nil means DialWebSocket
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		URL:                   "ws://localhost:8080/ws",
		MaxReconnectAttempts:  10,
		BaseReconnectInterval: 1 * time.Second,
		HeartbeatInterval:     30 * time.Second,
	}
}

// queuedMessage is one outbound message held while the connection is not in
// the Connected state. The encoded bytes are kept so the flush preserves the
// exact frames in enqueue order.
type queuedMessage struct {
	msgType    string
	data       []byte
	enqueuedAt time.Time
}

// Conn is the connection manager. One instance owns at most one live
// transport for the lifetime of the page session; overlapping Connect calls
// are rejected by the state guard.
type Conn struct {
	config Config
	bus    *eventbus.Bus

	mu        sync.Mutex
	state     State
	transport Transport
	gen       int // connection generation; read loops and timers from older gens are stale
	token     string
	userID    string
	attempt   int
	latency   time.Duration
	hasLat    bool
	queue     []queuedMessage

	pingSentAt time.Time

	// Timer owners. Each timer kind has exactly one field, and every
	// transition that creates a timer stops the previous handle first.
	heartbeatDone  chan struct{}
	reconnectTimer *time.Timer
}

// New creates a connection manager publishing onto the given bus. It does
// not open a transport.
func New(config Config, bus *eventbus.Bus) *Conn {
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 30 * time.Second
	}
	if config.BaseReconnectInterval <= 0 {
		config.BaseReconnectInterval = 1 * time.Second
	}
	return &Conn{
		config: config,
		bus:    bus,
		state:  StateDisconnected,
	}
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Latency returns the last measured heartbeat round-trip time. The second
// return value is false until the first pong of the current connection.
func (c *Conn) Latency() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latency, c.hasLat
}

// UserID returns the user id from the last successful handshake, or an empty
// string.
func (c *Conn) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// QueueLen returns the current outbound queue depth.
func (c *Conn) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// SetToken stores the auth token supplied by the session provider. The next
// Connect (or Authenticate) uses it for the handshake.
func (c *Conn) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// ClearToken removes the auth token and the associated user id, typically on
// an "unauthenticated" signal from the session provider.
func (c *Conn) ClearToken() {
	c.mu.Lock()
	c.token = ""
	c.userID = ""
	c.mu.Unlock()
}

// Connect opens the transport. It is a no-op if the connection is already
// Connecting or Connected. On open the reconnect attempt counter resets and
// the heartbeat starts; if a token is set the authenticate handshake is sent
// and the state stays Connecting until the server answers, otherwise the
// connection transitions directly to Connected and the outbound queue is
// flushed.
func (c *Conn) Connect() error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.stopReconnectLocked()
	c.state = StateConnecting
	attempt := c.attempt
	c.mu.Unlock()

	c.publishState(StateDisconnected, StateConnecting, attempt)
	c.debugf("connecting to %s", c.config.URL)

	dialer := c.config.Dialer
	if dialer == nil {
		dialer = DialWebSocket
	}

	t, err := dialer(context.Background(), c.config.URL)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		attempt = c.attempt
		c.mu.Unlock()
		c.publishState(StateConnecting, StateDisconnected, attempt)
		c.scheduleReconnect(err)
		return err
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		// Disconnect raced the dial; drop the fresh socket.
		c.mu.Unlock()
		_ = t.Close()
		return nil
	}
	c.gen++
	gen := c.gen
	c.transport = t
	c.attempt = 0
	c.hasLat = false
	c.pingSentAt = time.Time{}
	c.startHeartbeatLocked(gen)
	token := c.token
	c.mu.Unlock()

	go c.readLoop(gen, t)

	if token != "" {
		if err := c.writeAuthenticate(t, token); err != nil {
			log.Printf("realtime: failed to send authenticate: %v", err)
		}
		// Remain Connecting until auth_success or auth_error arrives.
		return nil
	}

	c.becomeConnected(gen, "")
	return nil
}

// Disconnect deliberately closes the connection. It cancels any pending
// reconnect timer and the heartbeat, closes the transport with the normal
// closure code so the close is not treated as a failure, and transitions to
// Disconnected. It is the single cancellation point for connection-scoped
// timers.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.stopReconnectLocked()
	c.stopHeartbeatLocked()
	c.gen++ // invalidate the read loop of the closing transport
	t := c.transport
	c.transport = nil
	prev := c.state
	c.state = StateDisconnected
	attempt := c.attempt
	c.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}
	if prev != StateDisconnected {
		c.debugf("disconnected")
		c.publishState(prev, StateDisconnected, attempt)
	}
}

// Reconnect forces a fresh connection immediately, bypassing backoff:
// disconnect, reset the attempt counter, connect.
func (c *Conn) Reconnect() error {
	c.Disconnect()
	c.mu.Lock()
	c.attempt = 0
	c.mu.Unlock()
	return c.Connect()
}

// SendMessage encodes and sends a message. An empty msgType is a programmer
// error and fails fast without queueing. While Connected the message is sent
// immediately and queued=false is returned; otherwise it is appended to the
// FIFO outbound queue (queued=true) and sent on the next flush.
func (c *Conn) SendMessage(msgType string, payload interface{}) (queued bool, err error) {
	data, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	if c.state == StateConnected && c.transport != nil {
		t := c.transport
		c.mu.Unlock()
		metrics.MessagesTotal.WithLabelValues("sent").Inc()
		return false, t.WriteMessage(data)
	}
	c.queue = append(c.queue, queuedMessage{msgType: msgType, data: data, enqueuedAt: time.Now()})
	depth := len(c.queue)
	c.mu.Unlock()

	metrics.MessagesTotal.WithLabelValues("queued").Inc()
	metrics.QueuedMessages.Set(float64(depth))
	c.debugf("queued %s message (%d pending)", msgType, depth)
	return true, nil
}

// TrySend encodes and sends a message only if the connection is Connected at
// the moment of the call. Unlike SendMessage it never queues: the state check
// and the queue decision happen under one lock acquisition, so a concurrent
// disconnect cannot slip the message into the outbound queue. When the
// connection is in any other state the message is dropped and sent=false is
// returned. Use it for signals that are only meaningful in real time, such as
// typing indicators, where a replay after reconnection would be stale.
func (c *Conn) TrySend(msgType string, payload interface{}) (sent bool, err error) {
	data, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	t := c.transport
	if c.state != StateConnected || t == nil {
		c.mu.Unlock()
		return false, nil
	}
	c.mu.Unlock()

	metrics.MessagesTotal.WithLabelValues("sent").Inc()
	return true, t.WriteMessage(data)
}

// Authenticate re-sends the authenticate handshake on the live transport.
// Used for caller-driven remediation after an auth_error (set a fresh token
// first).
func (c *Conn) Authenticate() error {
	c.mu.Lock()
	t := c.transport
	token := c.token
	c.mu.Unlock()

	if t == nil {
		return fmt.Errorf("realtime: no live transport")
	}
	if token == "" {
		return fmt.Errorf("realtime: no auth token set")
	}
	return c.writeAuthenticate(t, token)
}

// BackoffDelay returns the reconnect delay for the given attempt (1-based):
// min(30s, base * 1.5^(attempt-1)). The schedule is non-decreasing until the
// cap.
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(base) * math.Pow(1.5, float64(attempt-1))
	if d > float64(maxReconnectDelay) {
		return maxReconnectDelay
	}
	return time.Duration(d)
}

// ---------------------------------------------------------------------------
// Internal: read loop and frame handling
// ---------------------------------------------------------------------------

// readLoop reads frames until the transport fails or is superseded. It runs
// in its own goroutine; all event publishing happens synchronously from here,
// so inbound dispatch preserves transport delivery order.
func (c *Conn) readLoop(gen int, t Transport) {
	for {
		data, err := t.ReadMessage()
		if err != nil {
			c.handleReadError(gen, err)
			return
		}
		metrics.MessagesTotal.WithLabelValues("received").Inc()
		c.handleFrame(gen, data)
	}
}

// handleFrame decodes one inbound frame and routes it. Handshake and
// heartbeat replies are consumed here; everything else is published on the
// inbound topic as a typed message. Malformed frames are logged and dropped
// without touching connection state.
func (c *Conn) handleFrame(gen int, data []byte) {
	_, msg, err := protocol.ParseServerMessage(data)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("dropped").Inc()
		log.Printf("realtime: dropping malformed frame: %v", err)
		return
	}

	switch m := msg.(type) {
	case protocol.AuthSuccessMsg:
		c.debugf("handshake accepted user_id=%s", m.UserID)
		c.becomeConnected(gen, m.UserID)

	case protocol.AuthErrorMsg:
		// The connection stays open; the caller refreshes the token and
		// calls Authenticate again.
		log.Printf("realtime: handshake rejected: %s", m.Error)
		c.bus.Publish(eventbus.TopicAuthError, AuthError{Reason: m.Error})

	case protocol.PongMsg:
		c.handlePong(gen)

	default:
		c.bus.Publish(eventbus.TopicInbound, msg)
	}
}

// becomeConnected finishes the transition into Connected: publishes the
// state change (and the authenticated event when a handshake completed) and
// flushes the outbound queue exactly once, in enqueue order.
func (c *Conn) becomeConnected(gen int, userID string) {
	c.mu.Lock()
	if c.gen != gen || c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	c.state = StateConnected
	if userID != "" {
		c.userID = userID
	}
	pending := c.queue
	c.queue = nil
	t := c.transport
	attempt := c.attempt
	c.mu.Unlock()

	c.publishState(StateConnecting, StateConnected, attempt)
	if userID != "" {
		c.bus.Publish(eventbus.TopicAuthenticated, Authenticated{UserID: userID})
	}

	for _, qm := range pending {
		if err := t.WriteMessage(qm.data); err != nil {
			log.Printf("realtime: flush of queued %s message failed: %v", qm.msgType, err)
			continue
		}
		metrics.MessagesTotal.WithLabelValues("sent").Inc()
	}
	metrics.QueuedMessages.Set(0)
	if len(pending) > 0 {
		c.debugf("flushed %d queued messages", len(pending))
	}
}

// handleReadError tears down the failed transport and, unless the close was
// a deliberate normal closure, schedules a reconnect.
func (c *Conn) handleReadError(gen int, err error) {
	c.mu.Lock()
	if c.gen != gen {
		// A newer connection superseded this one; nothing to do.
		c.mu.Unlock()
		return
	}
	c.stopHeartbeatLocked()
	c.transport = nil
	prev := c.state
	c.state = StateDisconnected
	attempt := c.attempt
	c.mu.Unlock()

	if prev != StateDisconnected {
		c.publishState(prev, StateDisconnected, attempt)
	}

	var closed *CloseError
	if errors.As(err, &closed) && closed.Code == int(ws.StatusNormalClosure) {
		c.debugf("server closed the connection normally")
		return
	}

	c.debugf("transport failed: %v", err)
	c.scheduleReconnect(err)
}

// handlePong computes round-trip latency from the recorded ping send time
// and publishes a state-changed event carrying it.
func (c *Conn) handlePong(gen int) {
	c.mu.Lock()
	if c.gen != gen || c.pingSentAt.IsZero() {
		c.mu.Unlock()
		return
	}
	c.latency = time.Since(c.pingSentAt)
	c.hasLat = true
	state := c.state
	attempt := c.attempt
	lat := c.latency
	c.mu.Unlock()

	metrics.HeartbeatLatency.Observe(lat.Seconds())
	c.debugf("heartbeat latency=%s", lat)
	c.publishState(state, state, attempt)
}

// ---------------------------------------------------------------------------
// Internal: timers
// ---------------------------------------------------------------------------

// scheduleReconnect increments the attempt counter and arms the backoff
// timer. Once the attempt budget is exhausted it publishes a single terminal
// error instead; everything before that is retried silently (surfaced only
// as non-terminal events for the error reporter).
func (c *Conn) scheduleReconnect(cause error) {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.attempt++
	attempt := c.attempt

	if c.config.MaxReconnectAttempts > 0 && attempt > c.config.MaxReconnectAttempts {
		c.mu.Unlock()
		log.Printf("realtime: giving up after %d reconnect attempts: %v", attempt-1, cause)
		c.bus.Publish(eventbus.TopicConnError, ConnError{
			Terminal: true,
			Attempt:  attempt - 1,
			Err:      fmt.Errorf("realtime: reconnect attempts exhausted: %w", cause),
		})
		return
	}

	delay := BackoffDelay(c.config.BaseReconnectInterval, attempt)
	c.stopReconnectLocked()
	c.reconnectTimer = time.AfterFunc(delay, func() {
		_ = c.Connect()
	})
	c.mu.Unlock()

	metrics.ReconnectsTotal.Inc()
	c.debugf("reconnect attempt %d scheduled in %s", attempt, delay)
	c.bus.Publish(eventbus.TopicConnError, ConnError{Attempt: attempt, Err: cause})
}

// stopReconnectLocked cancels a pending reconnect timer. Caller holds c.mu.
func (c *Conn) stopReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// startHeartbeatLocked starts the heartbeat goroutine for the given
// connection generation, stopping any previous one first. Caller holds c.mu.
func (c *Conn) startHeartbeatLocked(gen int) {
	c.stopHeartbeatLocked()
	done := make(chan struct{})
	c.heartbeatDone = done
	interval := c.config.HeartbeatInterval

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				c.sendPing(gen)
			}
		}
	}()
}

// stopHeartbeatLocked stops the heartbeat goroutine. Caller holds c.mu.
func (c *Conn) stopHeartbeatLocked() {
	if c.heartbeatDone != nil {
		close(c.heartbeatDone)
		c.heartbeatDone = nil
	}
}

// sendPing records the send timestamp and writes a ping frame on the current
// transport. Stale generations are ignored.
func (c *Conn) sendPing(gen int) {
	c.mu.Lock()
	if c.gen != gen || c.transport == nil {
		c.mu.Unlock()
		return
	}
	t := c.transport
	c.pingSentAt = time.Now()
	c.mu.Unlock()

	data, err := protocol.NewMessage(protocol.TypePing, protocol.PingMsg{})
	if err != nil {
		return
	}
	if err := t.WriteMessage(data); err != nil {
		c.debugf("heartbeat ping failed: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Internal: helpers
// ---------------------------------------------------------------------------

func (c *Conn) writeAuthenticate(t Transport, token string) error {
	data, err := protocol.NewMessage(protocol.TypeAuthenticate, protocol.AuthenticateMsg{Token: token})
	if err != nil {
		return err
	}
	c.debugf("sending authenticate handshake")
	return t.WriteMessage(data)
}

// publishState emits a StateChange on the bus with the latest latency
// snapshot and updates the state gauge.
func (c *Conn) publishState(prev, cur State, attempt int) {
	c.mu.Lock()
	lat, has := c.latency, c.hasLat
	c.mu.Unlock()

	metrics.ConnectionState.Set(float64(cur))
	c.bus.Publish(eventbus.TopicStateChanged, StateChange{
		Previous:   prev,
		Current:    cur,
		Attempt:    attempt,
		Latency:    lat,
		HasLatency: has,
	})
}

func (c *Conn) debugf(format string, args ...interface{}) {
	if c.config.Debug {
		log.Printf("realtime: "+format, args...)
	}
}
