// Package syncchan implements the reconnecting client for the remote
// thread-persistence service. A channel owns one physical websocket
// connection, performs the auth handshake, multiplexes concurrent
// request/response pairs, and reconnects with exponential backoff.
package syncchan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// State names a channel connection state.
type State string

// Channel states. A closed channel whose attempt budget is spent stays
// closed until a new channel is constructed.
const (
	StateDisconnected   State = "disconnected"
	StateConnecting     State = "connecting"
	StateAuthenticating State = "authenticating"
	StateAuthenticated  State = "authenticated"
	StateClosed         State = "closed"
	StateClosedError    State = "closed-with-error"
	StateReconnectWait  State = "reconnect-scheduled"
)

// Sentinel errors returned by channel operations.
var (
	// ErrDisposed is returned after Close.
	ErrDisposed = errors.New("channel disposed")

	// ErrClosed is returned once the reconnect attempt budget is spent.
	ErrClosed = errors.New("channel permanently closed")

	// ErrConnectionClosed rejects pending requests when the socket closes.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrTimeout is returned when a request sees no response in time.
	ErrTimeout = errors.New("request timed out")
)

// AuthError reports a rejected handshake. It is not retried
// automatically; the caller must re-invoke Connect.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	if e.Reason == "" {
		return "authentication rejected"
	}
	return "authentication rejected: " + e.Reason
}

// RemoteError reports a request the service answered with success=false.
type RemoteError struct {
	Action string
	Reason string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s failed: %s", e.Action, e.Reason)
}

// Defaults applied by New.
const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultReconnectBase  = time.Second
	DefaultReconnectMax   = 30 * time.Second
	DefaultMaxAttempts    = 5
)

// Config configures a Channel.
type Config struct {
	// URL is the websocket endpoint of the persistence service.
	URL string

	// APIKey is sent in the auth handshake.
	APIKey string

	// RequestTimeout bounds each remote call. Default 10s.
	RequestTimeout time.Duration

	// ReconnectBase is the first backoff delay. Default 1s.
	ReconnectBase time.Duration

	// ReconnectMax caps the backoff delay. Default 30s.
	ReconnectMax time.Duration

	// MaxAttempts bounds automatic reconnection. Default 5.
	MaxAttempts int

	// Metrics receives channel observations. Optional.
	Metrics *Metrics

	// Dialer overrides the websocket dialer. Optional.
	Dialer *websocket.Dialer
}

// pendingRequest is an in-flight remote call awaiting a correlated
// response or timeout, whichever comes first.
type pendingRequest struct {
	id        string
	ch        chan callResult
	createdAt time.Time
}

type callResult struct {
	resp response
	err  error
}

// connectAttempt is shared by all callers awaiting one dial; err is
// readable after done is closed.
type connectAttempt struct {
	done chan struct{}
	err  error
}

// Channel is the reconnecting remote-sync client. All methods are safe
// for concurrent use.
type Channel struct {
	cfg    Config
	dialer *websocket.Dialer

	// writeMu serializes frame writes; gorilla permits one writer.
	writeMu sync.Mutex

	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	connGen        int
	pending        map[string]*pendingRequest
	attempt        int
	disposed       bool
	exhausted      bool
	inflight       *connectAttempt
	reconnectTimer *time.Timer
}

// New creates a channel. The channel does not connect until Connect is
// called (directly or by the first operation).
func New(cfg Config) *Channel {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = DefaultReconnectBase
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = DefaultReconnectMax
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	return &Channel{
		cfg:     cfg,
		dialer:  dialer,
		state:   StateDisconnected,
		pending: make(map[string]*pendingRequest),
	}
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect establishes and authenticates the connection. Concurrent
// calls share a single outstanding attempt. Returns nil immediately if
// already authenticated.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	if c.exhausted {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == StateAuthenticated {
		c.mu.Unlock()
		return nil
	}
	if att := c.inflight; att != nil {
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-att.done:
			return att.err
		}
	}

	// A manual connect preempts any scheduled reconnect.
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}

	att := &connectAttempt{done: make(chan struct{})}
	c.inflight = att
	c.state = StateConnecting
	c.mu.Unlock()

	err := c.dial(ctx)

	c.mu.Lock()
	att.err = err
	c.inflight = nil
	close(att.done)
	c.mu.Unlock()

	return err
}

// dial opens the socket, performs the handshake, and on success starts
// the read loop.
func (c *Channel) dial(ctx context.Context) error {
	conn, httpResp, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if httpResp != nil && httpResp.Body != nil {
		_ = httpResp.Body.Close()
	}
	if err != nil {
		c.mu.Lock()
		c.state = StateClosedError
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return fmt.Errorf("dialing sync service: %w", err)
	}

	c.mu.Lock()
	c.state = StateAuthenticating
	c.mu.Unlock()

	ack, err := c.handshake(conn)
	if err != nil {
		_ = conn.Close()
		c.mu.Lock()
		c.state = StateClosedError
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return err
	}
	if !ack.Success {
		// Auth rejection is not retried automatically.
		_ = conn.Close()
		c.mu.Lock()
		c.state = StateClosedError
		c.mu.Unlock()
		return &AuthError{Reason: ack.Error}
	}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrDisposed
	}
	c.conn = conn
	c.state = StateAuthenticated
	c.attempt = 0
	c.connGen++
	gen := c.connGen
	c.mu.Unlock()

	slog.Debug("syncchan: authenticated", "url", c.cfg.URL)
	go c.readLoop(conn, gen)
	return nil
}

// handshake sends the auth frame and reads the acknowledgement under
// the request timeout.
func (c *Channel) handshake(conn *websocket.Conn) (authResponse, error) {
	deadline := time.Now().Add(c.cfg.RequestTimeout)
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(authRequest{Authorization: c.cfg.APIKey}); err != nil {
		return authResponse{}, fmt.Errorf("sending auth handshake: %w", err)
	}

	_ = conn.SetReadDeadline(deadline)
	var ack authResponse
	if err := conn.ReadJSON(&ack); err != nil {
		return authResponse{}, fmt.Errorf("reading auth handshake: %w", err)
	}

	_ = conn.SetWriteDeadline(time.Time{})
	_ = conn.SetReadDeadline(time.Time{})
	return ack, nil
}

// readLoop consumes frames until the socket closes, routing responses
// to their pending requests.
func (c *Channel) readLoop(conn *websocket.Conn, gen int) {
	for {
		var resp response
		if err := conn.ReadJSON(&resp); err != nil {
			_ = conn.Close()
			c.handleClose(gen, err)
			return
		}
		c.dispatch(resp)
	}
}

// dispatch resolves the pending request matching the response id. A
// response for an unknown or already-timed-out id is dropped.
func (c *Channel) dispatch(resp response) {
	c.mu.Lock()
	p, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()

	if !ok {
		slog.Debug("syncchan: dropping late or unknown response", "id", resp.ID)
		c.cfg.Metrics.lateResponse()
		return
	}
	c.cfg.Metrics.pendingRemoved()
	p.ch <- callResult{resp: resp}
}

// handleClose runs when the socket closes: all pending requests are
// rejected before any reconnect is scheduled.
func (c *Channel) handleClose(gen int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connGen != gen {
		// A newer connection superseded this read loop.
		return
	}
	c.conn = nil
	if c.disposed {
		c.state = StateClosed
		return
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.state = StateClosed
	} else {
		c.state = StateClosedError
	}
	slog.Warn("syncchan: connection closed", "error", err, "pending", len(c.pending))

	c.rejectPendingLocked(ErrConnectionClosed)
	c.scheduleReconnectLocked()
}

// rejectPendingLocked fails every pending request with err. Caller
// holds c.mu.
func (c *Channel) rejectPendingLocked(err error) {
	for id, p := range c.pending {
		delete(c.pending, id)
		c.cfg.Metrics.pendingRemoved()
		p.ch <- callResult{err: err}
	}
}

// scheduleReconnectLocked arms the backoff timer for the next attempt,
// or marks the channel permanently closed once the budget is spent.
// Caller holds c.mu.
func (c *Channel) scheduleReconnectLocked() {
	if c.disposed || c.exhausted {
		return
	}
	if c.attempt >= c.cfg.MaxAttempts {
		c.exhausted = true
		c.state = StateClosed
		slog.Warn("syncchan: reconnect attempts exhausted", "attempts", c.attempt)
		return
	}

	delay := min(c.cfg.ReconnectBase<<c.attempt, c.cfg.ReconnectMax)
	c.attempt++
	c.state = StateReconnectWait
	c.cfg.Metrics.reconnectScheduled()
	slog.Info("syncchan: reconnect scheduled", "attempt", c.attempt, "delay", delay)

	c.reconnectTimer = time.AfterFunc(delay, func() {
		if err := c.Connect(context.Background()); err != nil {
			slog.Debug("syncchan: reconnect attempt failed", "error", err)
		}
	})
}

// Restore fetches the serialized state for threadID. An empty string
// with nil error means the service holds no state for the thread.
func (c *Channel) Restore(ctx context.Context, threadID string) (string, error) {
	resp, err := c.call(ctx, ActionRestore, threadID, "")
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return "", &RemoteError{Action: ActionRestore, Reason: resp.Error}
	}
	return resp.Data, nil
}

// Save persists the serialized state for threadID.
func (c *Channel) Save(ctx context.Context, threadID, userData string) error {
	resp, err := c.call(ctx, ActionSave, threadID, userData)
	if err != nil {
		return err
	}
	if !resp.Success {
		return &RemoteError{Action: ActionSave, Reason: resp.Error}
	}
	return nil
}

// Delete removes the persisted state for threadID.
func (c *Channel) Delete(ctx context.Context, threadID string) error {
	resp, err := c.call(ctx, ActionDelete, threadID, "")
	if err != nil {
		return err
	}
	if !resp.Success {
		return &RemoteError{Action: ActionDelete, Reason: resp.Error}
	}
	return nil
}

// call sends one correlated request and waits for its response, the
// request timeout, or context cancellation. Any in-flight connection
// attempt is awaited first.
func (c *Channel) call(ctx context.Context, action, threadID, userData string) (response, error) {
	if err := c.Connect(ctx); err != nil {
		c.cfg.Metrics.requestObserved(action, outcomeError)
		return response{}, err
	}

	p := &pendingRequest{
		id:        uuid.NewString(),
		ch:        make(chan callResult, 1),
		createdAt: time.Now(),
	}

	c.mu.Lock()
	if c.state != StateAuthenticated || c.conn == nil {
		c.mu.Unlock()
		c.cfg.Metrics.requestObserved(action, outcomeError)
		return response{}, ErrConnectionClosed
	}
	conn := c.conn
	c.pending[p.id] = p
	// Gauge moves with the map while the lock is held, so a racing
	// close cannot decrement before this increment lands.
	c.cfg.Metrics.pendingAdded()
	c.mu.Unlock()

	req := request{
		ID:     p.id,
		Action: action,
		Data:   requestData{ThreadID: threadID, UserData: userData},
	}
	c.writeMu.Lock()
	err := conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.removePending(p.id)
		c.cfg.Metrics.requestObserved(action, outcomeError)
		return response{}, fmt.Errorf("sending %s request: %w", action, err)
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case res := <-p.ch:
		if res.err != nil {
			c.cfg.Metrics.requestObserved(action, outcomeError)
			return response{}, res.err
		}
		c.cfg.Metrics.requestObserved(action, outcomeOK)
		return res.resp, nil
	case <-timer.C:
		c.removePending(p.id)
		c.cfg.Metrics.requestObserved(action, outcomeTimeout)
		return response{}, fmt.Errorf("%s request %s: %w", action, p.id, ErrTimeout)
	case <-ctx.Done():
		c.removePending(p.id)
		c.cfg.Metrics.requestObserved(action, outcomeError)
		return response{}, ctx.Err()
	}
}

// removePending drops a pending request so a late response for it is
// ignored.
func (c *Channel) removePending(id string) {
	c.mu.Lock()
	_, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok {
		c.cfg.Metrics.pendingRemoved()
	}
}

// Close disposes the channel: cancels any scheduled reconnect, closes
// the socket, rejects pending requests, and resets counters. No
// automatic reconnection occurs after Close.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	c.disposed = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.rejectPendingLocked(ErrDisposed)
	c.state = StateClosed
	c.attempt = 0
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	return nil
}
