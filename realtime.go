package chatapp

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"nhooyr.io/websocket"
)

// ============================================================================
// Connection state
// ============================================================================

// ConnState is the realtime connection lifecycle state. Only Conn mutates
// it; everything else observes it through State or a state-change handler.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateOpen         ConnState = "open"
	StateClosing      ConnState = "closing"
	StateClosed       ConnState = "closed"
)

// CloseReason qualifies a Closed state.
type CloseReason string

const (
	ReasonNone         CloseReason = ""
	ReasonConnectError CloseReason = "connect-error"
	ReasonClientClose  CloseReason = "client-close"
	ReasonRemoteClose  CloseReason = "remote-close"
	ReasonError        CloseReason = "error"
)

// StateChange is delivered to state subscribers on every transition.
// Reason is meaningful only when State is StateClosed.
type StateChange struct {
	State  ConnState
	Reason CloseReason
}

// EnvelopeHandler receives every inbound envelope, in arrival order.
type EnvelopeHandler func(Envelope)

// StateHandler receives connection state transitions.
type StateHandler func(StateChange)

// ============================================================================
// Conn
// ============================================================================

// Conn owns the single duplex connection for a session. It is the only
// component allowed to write to or close the underlying socket; consumers
// interact through Connect, Send, Subscribe and Close.
//
// There is no automatic reconnection and no buffering of sends while
// disconnected: a dropped connection stays Closed until Connect is called
// again, and Send outside Open returns ErrNotConnected.
type Conn struct {
	baseURL string
	token   string
	logger  *slog.Logger

	mu      sync.Mutex
	sock    *websocket.Conn
	state   ConnState
	reason  CloseReason
	session *Session
	cancel  context.CancelFunc
	closing bool
	gen     int

	subs    []subscriber
	nextSub int
}

type subscriber struct {
	id         int
	onEnvelope EnvelopeHandler
	onState    StateHandler
}

func newConn(baseURL, token string, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		baseURL: baseURL,
		token:   token,
		logger:  logger,
		state:   StateDisconnected,
	}
}

// State returns the current connection state.
func (c *Conn) State() StateChange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return StateChange{State: c.state, Reason: c.reason}
}

// Session returns the session for the current connection, or nil when no
// connection has been established.
func (c *Conn) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Subscribe registers a consumer. Both handlers are optional. Handlers are
// invoked synchronously from the connection's event turn, so inbound
// envelopes arrive exactly once and in arrival order. The returned function
// unsubscribes; it never closes the connection or clears any state, so UI
// consumers can mount and unmount freely.
func (c *Conn) Subscribe(onEnvelope EnvelopeHandler, onState StateHandler) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs = append(c.subs, subscriber{id: id, onEnvelope: onEnvelope, onState: onState})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.subs {
			if s.id == id {
				c.subs = append(c.subs[:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

func (c *Conn) wsURL(userID int64) string {
	u := strings.Replace(c.baseURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	u += "/ws/" + strconv.FormatInt(userID, 10)
	if c.token != "" {
		u += "?token=" + c.token
	}
	return u
}

// Connect opens the connection for the given session and, on success,
// announces the user online. Connecting while a connection is already live
// closes the prior one first; there are never two sockets for one session.
// Failure is returned to the caller and is also observable as a transition
// to Closed(connect-error).
func (c *Conn) Connect(ctx context.Context, session *Session) error {
	if session == nil {
		return fmt.Errorf("connect: nil session")
	}

	c.mu.Lock()
	if c.state == StateOpen || c.state == StateConnecting {
		c.teardownLocked(websocket.StatusNormalClosure, "superseded")
	}
	c.session = session
	c.closing = false
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.setState(StateConnecting, ReasonNone)

	sock, _, err := websocket.Dial(ctx, c.wsURL(session.UserID), nil)
	if err != nil {
		c.mu.Lock()
		stale := gen != c.gen
		c.mu.Unlock()
		if !stale {
			c.setState(StateClosed, ReasonConnectError)
		}
		return fmt.Errorf("websocket dial: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if gen != c.gen {
		// A newer Connect or a Close won while we were dialing; whoever won
		// owns the state now.
		c.mu.Unlock()
		cancel()
		sock.Close(websocket.StatusNormalClosure, "superseded")
		return fmt.Errorf("connect: superseded")
	}
	c.sock = sock
	c.cancel = cancel
	c.mu.Unlock()

	c.setState(StateOpen, ReasonNone)

	if err := c.Send(ctx, StatusEnvelope(session.UserID, StatusOnline)); err != nil {
		c.logger.Warn("online announcement failed", "error", err)
	}

	go c.readLoop(loopCtx, sock, gen)
	return nil
}

// Send transmits an envelope. Valid only in Open: in any other state it
// leaves all state untouched and returns ErrNotConnected.
func (c *Conn) Send(ctx context.Context, env Envelope) error {
	c.mu.Lock()
	sock := c.sock
	open := c.state == StateOpen
	c.mu.Unlock()

	if !open || sock == nil {
		return ErrNotConnected
	}

	data, err := env.Encode()
	if err != nil {
		return err
	}
	if err := sock.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Close announces the user offline (best effort), then closes the
// connection. Closing an already-closed or never-opened connection is a
// no-op. If the offline announcement cannot be flushed, the server-side
// disconnect acts as the fallback offline signal.
func (c *Conn) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	wasOpen := c.state == StateOpen
	session := c.session
	c.mu.Unlock()

	// Flush the offline announcement while still Open.
	if wasOpen && session != nil {
		if err := c.Send(ctx, StatusEnvelope(session.UserID, StatusOffline)); err != nil {
			c.logger.Warn("offline announcement failed", "error", err)
		}
	}

	c.setState(StateClosing, ReasonNone)

	c.mu.Lock()
	c.closing = true
	// Invalidate any Connect still dialing so it cannot reopen the
	// connection after this Close completes.
	c.gen++
	c.teardownLocked(websocket.StatusNormalClosure, "client close")
	c.mu.Unlock()

	c.setState(StateClosed, ReasonClientClose)
	return nil
}

// teardownLocked cancels the read loop and closes the socket. Callers hold
// c.mu and are responsible for the resulting state transition.
func (c *Conn) teardownLocked(code websocket.StatusCode, reason string) {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.sock != nil {
		c.sock.Close(code, reason)
		c.sock = nil
	}
}

func (c *Conn) readLoop(ctx context.Context, sock *websocket.Conn, gen int) {
	for {
		_, data, err := sock.Read(ctx)
		if err != nil {
			c.mu.Lock()
			if gen != c.gen || c.closing || ctx.Err() != nil {
				// Local close or a newer connection already owns the state.
				c.mu.Unlock()
				return
			}
			reason := ReasonError
			if websocket.CloseStatus(err) != -1 {
				reason = ReasonRemoteClose
			}
			c.sock = nil
			if c.cancel != nil {
				c.cancel()
				c.cancel = nil
			}
			c.mu.Unlock()

			c.logger.Info("connection lost", "reason", string(reason), "error", err)
			c.setState(StateClosed, reason)
			return
		}

		env := ParseEnvelope(data)
		c.dispatch(env)
	}
}

// setState records the transition and notifies state subscribers
// synchronously, matching the delivery discipline of envelopes. Remote and
// local closes both pass through here, so consumers see one notification
// path for every transition.
func (c *Conn) setState(state ConnState, reason CloseReason) {
	c.mu.Lock()
	c.state = state
	c.reason = reason
	subs := make([]subscriber, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	change := StateChange{State: state, Reason: reason}
	for _, s := range subs {
		if s.onState != nil {
			invoke(func() { s.onState(change) })
		}
	}
}

func (c *Conn) dispatch(env Envelope) {
	c.mu.Lock()
	subs := make([]subscriber, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, s := range subs {
		if s.onEnvelope != nil {
			invoke(func() { s.onEnvelope(env) })
		}
	}
}

// invoke isolates consumer callbacks: a panic in one subscriber must not
// take down the read loop or starve other subscribers.
func invoke(fn func()) {
	defer func() { recover() }()
	fn()
}
