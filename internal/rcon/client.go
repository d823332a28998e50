package rcon

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// State describes the connection lifecycle of a client.
type State int

// Connection states. Transitions are Disconnected -> Connecting ->
// Authenticated, with any failure dropping back to Disconnected.
const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticated
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "disconnected"
	}
}

// Request slot ids cycle through this window. Ids below the window are
// reserved for protocol bookkeeping and the auth sentinel.
const (
	slotMin = 20
	slotMax = 80
)

// Default timings, matching the upstream server's expectations.
const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultExecuteTimeout = 2 * time.Second
	DefaultAuthWait       = 2 * time.Second
)

// Options configures a Client.
type Options struct {
	// Addr is the host:port of the remote console.
	Addr string
	// Password authenticates the connection.
	Password string
	// ReconnectDelay is the pause between connection attempts.
	ReconnectDelay time.Duration
	// ExecuteTimeout bounds the wait for a command response.
	ExecuteTimeout time.Duration
	// AuthWait bounds how long Execute waits for authentication before
	// failing with ErrNotConnected.
	AuthWait time.Duration
	// Dial overrides the connection factory. Defaults to a TCP dial of
	// Addr.
	Dial func(ctx context.Context) (net.Conn, error)
	// OnServerMessage receives server-message frames (chat packets).
	// Called from the read goroutine; handlers must not block.
	OnServerMessage func(Frame)
	// Logger is the parent logger; the client derives a module child.
	Logger zerolog.Logger
}

// Client owns one authenticated remote-console connection. It
// reconnects on failure, correlates command responses to request slots
// and reassembles responses split across frames.
type Client struct {
	addr           string
	password       string
	reconnectDelay time.Duration
	executeTimeout time.Duration
	authWait       time.Duration
	dial           func(ctx context.Context) (net.Conn, error)
	onServerMsg    func(Frame)
	log            zerolog.Logger
	tracer         trace.Tracer

	mu       sync.Mutex
	conn     net.Conn
	state    State
	authCh   chan struct{}
	subs     map[int]chan State
	nextSub  int
	pending  map[int32]chan execResult
	assembly map[int32]string
	nextSlot int32
	closed   bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewClient builds a client from options. Connect must be called before
// Execute can succeed.
func NewClient(opts Options) *Client {
	c := &Client{
		addr:           opts.Addr,
		password:       opts.Password,
		reconnectDelay: opts.ReconnectDelay,
		executeTimeout: opts.ExecuteTimeout,
		authWait:       opts.AuthWait,
		dial:           opts.Dial,
		onServerMsg:    opts.OnServerMessage,
		log:            opts.Logger.With().Str("module", "rcon").Logger(),
		tracer:         otel.Tracer("rcon"),
		authCh:         make(chan struct{}),
		subs:           map[int]chan State{},
		pending:        map[int32]chan execResult{},
		assembly:       map[int32]string{},
		nextSlot:       slotMin,
	}
	if c.reconnectDelay <= 0 {
		c.reconnectDelay = DefaultReconnectDelay
	}
	if c.executeTimeout <= 0 {
		c.executeTimeout = DefaultExecuteTimeout
	}
	if c.authWait <= 0 {
		c.authWait = DefaultAuthWait
	}
	if c.dial == nil {
		c.dial = func(ctx context.Context) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", c.addr)
		}
	}
	return c
}

// Connect starts the connect-and-retry loop. It returns immediately;
// callers that need an authenticated connection wait via Execute's auth
// window or a state subscription. Connect is idempotent.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil || c.closed {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(runCtx)
}

// Close tears the connection down, cancels the retry loop and fails all
// in-flight requests.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	conn := c.conn
	done := c.done
	c.failPendingLocked()
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}
	c.setState(StateDisconnected)
	return nil
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers for connection-state transitions. The channel
// coalesces: a slow consumer sees the latest state, not every
// intermediate one. The returned cancel releases the subscription.
func (c *Client) Subscribe() (<-chan State, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	ch := make(chan State, 1)
	c.subs[id] = ch
	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// Execute sends a command and returns its reassembled response body.
// When the client is not yet authenticated it waits a short window for
// authentication before failing with ErrNotConnected. Responses slower
// than the execute timeout fail with ErrTimeout; the late frames are
// dropped when they eventually arrive.
func (c *Client) Execute(ctx context.Context, body string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "rcon.execute",
		trace.WithAttributes(attribute.Int("rcon.body_len", len(body))))
	defer span.End()

	if len(body) > MaxBodyLen {
		return "", fmt.Errorf("%w: %d > %d bytes", ErrOversize, len(body), MaxBodyLen)
	}
	if err := c.waitAuthenticated(ctx); err != nil {
		return "", err
	}

	slot, ch, conn, err := c.reserveSlot()
	if err != nil {
		return "", err
	}

	if _, err := conn.Write(Encode(TypeCommand, slot, body)); err != nil {
		c.releaseSlot(slot)
		return "", fmt.Errorf("%w: write: %v", ErrNotConnected, err)
	}
	if _, err := conn.Write(Encode(TypeCommand, slot+2, "")); err != nil {
		c.releaseSlot(slot)
		return "", fmt.Errorf("%w: write: %v", ErrNotConnected, err)
	}

	timer := time.NewTimer(c.executeTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res.body, res.err
	case <-timer.C:
		c.releaseSlot(slot)
		c.log.Warn().Int32("slot", slot).Msg("rcon response timed out")
		return "", ErrTimeout
	case <-ctx.Done():
		c.releaseSlot(slot)
		return "", ctx.Err()
	}
}

func (c *Client) waitAuthenticated(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == StateAuthenticated {
		c.mu.Unlock()
		return nil
	}
	authCh := c.authCh
	c.mu.Unlock()

	timer := time.NewTimer(c.authWait)
	defer timer.Stop()
	select {
	case <-authCh:
		return nil
	case <-timer.C:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// execResult resolves one in-flight request, either with the
// reassembled body or with a transport error on teardown.
type execResult struct {
	body string
	err  error
}

// reserveSlot allocates the next free slot in the cyclic id window. A
// slot still awaiting its response is skipped rather than reused, so a
// slow response can never be delivered to a later request.
func (c *Client) reserveSlot() (int32, chan execResult, net.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.state != StateAuthenticated {
		return 0, nil, nil, ErrNotConnected
	}
	for i := 0; i <= slotMax-slotMin; i++ {
		slot := c.nextSlot
		c.nextSlot++
		if c.nextSlot > slotMax {
			c.nextSlot = slotMin
		}
		if _, busy := c.pending[slot]; busy {
			continue
		}
		ch := make(chan execResult, 1)
		c.pending[slot] = ch
		return slot, ch, c.conn, nil
	}
	return 0, nil, nil, ErrSlotsBusy
}

func (c *Client) releaseSlot(slot int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, slot)
	delete(c.assembly, slot)
}

// run is the connect-or-retry loop: attempt immediately, then every
// reconnect delay, pausing while a connection is being read.
func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := c.dial(ctx)
		if err != nil {
			c.log.Warn().Err(err).Str("addr", c.addr).Msg("rcon connect failed")
		} else {
			c.serve(ctx, conn)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.reconnectDelay):
		}
	}
}

// serve authenticates on a fresh connection and reads frames until the
// connection fails or the context is cancelled.
func (c *Client) serve(ctx context.Context, conn net.Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()
	c.setState(StateConnecting)

	if _, err := conn.Write(Encode(TypeAuth, authSentinelID, c.password)); err != nil {
		c.log.Error().Err(err).Msg("rcon auth write failed")
		c.teardown(conn)
		return
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	decoder := &Decoder{}
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			decoder.Feed(buf[:n])
			c.drain(decoder)
		}
		if err != nil {
			if ctx.Err() == nil {
				c.log.Warn().Err(err).Msg("rcon connection lost")
			}
			c.teardown(conn)
			return
		}
	}
}

func (c *Client) drain(decoder *Decoder) {
	for {
		frame, ok, err := decoder.Next()
		if err != nil {
			c.log.Error().Msg("bad rcon frame, clearing receive buffer")
			c.mu.Lock()
			c.assembly = map[int32]string{}
			c.mu.Unlock()
			continue
		}
		if !ok {
			return
		}
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(frame Frame) {
	switch {
	case frame.SoH:
		c.markAuthenticated()
	case frame.Type == TypeCommand:
		// The server echoes a command-type frame to acknowledge auth.
		c.markAuthenticated()
	case frame.Type == TypeResponse:
		c.handleResponse(frame)
	case frame.Type == TypeServerMessage:
		if c.onServerMsg != nil {
			c.onServerMsg(frame)
		}
	}
}

// handleResponse accumulates response fragments per request id. The
// empty-body response echoed for id+2 marks the end of the response for
// id and releases the waiting caller.
func (c *Client) handleResponse(frame Frame) {
	c.mu.Lock()
	if frame.Body != "" {
		c.assembly[frame.ID] += frame.Body
		c.mu.Unlock()
		return
	}
	slot := frame.ID - 2
	body := c.assembly[slot]
	delete(c.assembly, slot)
	ch := c.pending[slot]
	delete(c.pending, slot)
	c.mu.Unlock()

	if ch != nil {
		ch <- execResult{body: body}
	}
}

func (c *Client) markAuthenticated() {
	c.mu.Lock()
	if c.state == StateAuthenticated {
		c.mu.Unlock()
		return
	}
	c.state = StateAuthenticated
	close(c.authCh)
	c.mu.Unlock()
	c.log.Info().Str("addr", c.addr).Msg("rcon connected")
	c.notify(StateAuthenticated)
}

func (c *Client) teardown(conn net.Conn) {
	_ = conn.Close()
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.authCh = make(chan struct{})
	c.assembly = map[int32]string{}
	c.failPendingLocked()
	c.mu.Unlock()
	c.setState(StateDisconnected)
}

// failPendingLocked resolves every in-flight request with a connection
// error. Must be called with mu held.
func (c *Client) failPendingLocked() {
	for slot, ch := range c.pending {
		ch <- execResult{err: ErrNotConnected}
		delete(c.pending, slot)
	}
}

func (c *Client) setState(state State) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()
	c.notify(state)
}

// notify delivers a state transition to subscribers, coalescing when a
// subscriber has not consumed the previous one.
func (c *Client) notify(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- state:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- state:
			default:
			}
		}
	}
}
