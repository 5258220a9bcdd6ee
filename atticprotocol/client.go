package atticprotocol

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

// DisconnectHandler is called once when a connection ends, with the reason.
type DisconnectHandler func(err error)

// ConnState is the connection lifecycle state of a Client.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// ClientOptions tunes a Client. Zero values select the package defaults.
type ClientOptions struct {
	Logger *slog.Logger

	DialTimeout    time.Duration // default ConnectionTimeout
	PingTimeout    time.Duration // handshake ping; default PingTimeout
	CommandTimeout time.Duration // applied when the caller's context has no deadline

	// HeartbeatInterval is the period between liveness pings. Negative
	// disables the heartbeat.
	HeartbeatInterval    time.Duration
	HeartbeatStaleAfter  time.Duration
	HeartbeatPingTimeout time.Duration

	// EventBuffer is the capacity of the Events channel; default 16.
	EventBuffer int
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = ConnectionTimeout
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = PingTimeout
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = CommandTimeout
	}
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = HeartbeatInterval
	}
	if o.HeartbeatStaleAfter <= 0 {
		o.HeartbeatStaleAfter = HeartbeatStaleAfter
	}
	if o.HeartbeatPingTimeout <= 0 {
		o.HeartbeatPingTimeout = HeartbeatPingTimeout
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 16
	}
	return o
}

// Client is a Unix domain socket client for AtticServer.
//
// One goroutine per connection reads the socket continuously. Response
// lines complete the single in-flight request; event lines are queued and
// delivered on the Events channel. At most one request is on the wire at a
// time: concurrent senders queue for the request slot and give up with
// ErrTimeout when their context expires first.
//
// A request that times out after reaching the wire is remembered so its
// late response is dropped. If the next request also times out, the
// responses can no longer be matched to requests and the connection is
// closed with a ConnectionError.
//
// A Client may be connected, disconnected and reconnected any number of
// times. Close releases it for good.
type Client struct {
	opts ClientOptions
	log  *slog.Logger
	dial func(ctx context.Context, network, address string) (net.Conn, error)

	mu                sync.Mutex
	state             ConnState
	sess              *session
	disconnectHandler DisconnectHandler
	lostHandler       DisconnectHandler

	// slot is held by whoever has a request on the wire.
	slot chan struct{}

	queue     *eventQueue
	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once
}

// session is the state of one connection.
type session struct {
	conn net.Conn
	path string

	mu        sync.Mutex
	pending   *request
	late      *request // timed out on the wire; its response is discarded
	lastPong  time.Time
	ended     bool
	reason    error
	announced bool // handshake succeeded; disconnect handler applies

	done       chan struct{}
	readerDone chan struct{}
	lostOnce   sync.Once
}

type request struct {
	text   string
	ping   bool
	result chan result
}

type result struct {
	response Response
	err      error
}

// NewClient creates a client with default options.
func NewClient() *Client {
	return NewClientWithOptions(ClientOptions{})
}

// NewClientWithOptions creates a client. It starts the goroutine that feeds
// Events; call Close when done with the client.
func NewClientWithOptions(opts ClientOptions) *Client {
	opts = opts.withDefaults()
	c := &Client{
		opts:   opts,
		log:    opts.Logger.With("component", "atticprotocol.client"),
		dial:   (&net.Dialer{}).DialContext,
		slot:   make(chan struct{}, 1),
		queue:  newEventQueue(),
		events: make(chan Event, opts.EventBuffer),
		closed: make(chan struct{}),
	}
	go c.pumpEvents()
	return c
}

// SetDisconnectHandler sets the callback invoked once per connection when
// it ends, including deliberate disconnects (reason ErrClosedByCaller).
func (c *Client) SetDisconnectHandler(handler DisconnectHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectHandler = handler
}

// SetConnectionLostHandler sets the callback invoked once per connection
// when the heartbeat finds the server unresponsive. The reason is
// ErrConnectionLost. The connection is left open; the handler decides
// whether to Disconnect.
func (c *Client) SetConnectionLostHandler(handler DisconnectHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lostHandler = handler
}

// Events delivers server events in arrival order for the lifetime of the
// client. The channel is never closed; select on Closed to stop.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Closed is closed when Close is called.
func (c *Client) Closed() <-chan struct{} {
	return c.closed
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected returns true if the client is currently connected.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// ConnectedPath returns the socket path of the current connection, or ""
// when not connected.
func (c *Client) ConnectedPath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return ""
	}
	return c.sess.path
}

// LastPong returns when the last pong was received on the current
// connection, or the zero time.
func (c *Client) LastPong() time.Time {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return time.Time{}
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.lastPong
}

// Connect connects to an AtticServer socket.
func (c *Client) Connect(path string) error {
	return c.ConnectWithContext(context.Background(), path)
}

// ConnectWithContext dials the socket, starts the reader and requires a
// ping/pong exchange before reporting success.
func (c *Client) ConnectWithContext(ctx context.Context, path string) error {
	select {
	case <-c.closed:
		return ErrNotConnected
	default:
	}

	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	conn, err := c.dial(dialCtx, "unix", path)
	if err != nil {
		c.setState(StateDisconnected)
		return NewConnectionError("failed to connect", err)
	}

	sess := &session{
		conn:       conn,
		path:       path,
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	c.mu.Lock()
	select {
	case <-c.closed:
		c.state = StateDisconnected
		c.mu.Unlock()
		_ = conn.Close()
		return ErrNotConnected
	default:
	}
	c.sess = sess
	c.mu.Unlock()

	go c.readLoop(sess)

	pingCtx, pingCancel := context.WithTimeout(ctx, c.opts.PingTimeout)
	defer pingCancel()

	resp, err := c.exchange(pingCtx, sess, "ping", true, true)
	if err == nil && (!resp.IsOK() || resp.Data != "pong") {
		err = &ProtocolError{Line: resp.Format(), Reason: "unexpected ping reply"}
	}
	if err != nil {
		c.endSession(sess, NewConnectionError("handshake failed", err))
		<-sess.readerDone
		return NewConnectionError("ping failed", err)
	}

	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return NewConnectionError("connection closed during handshake", sessionErr(sess))
	}
	c.state = StateConnected
	c.mu.Unlock()

	sess.mu.Lock()
	ended := sess.ended
	sess.announced = !ended
	sess.mu.Unlock()
	if ended {
		return NewConnectionError("connection closed during handshake", sessionErr(sess))
	}

	c.log.Debug("connected", "path", path)
	if c.opts.HeartbeatInterval > 0 {
		go c.heartbeat(sess)
	}
	return nil
}

// Disconnect closes the current connection. The reader exits, the
// heartbeat stops, a pending request fails with a connection error, and
// the disconnect handler runs with ErrClosedByCaller. Calling it again, or
// when not connected, does nothing.
func (c *Client) Disconnect() {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return
	}
	c.endSession(sess, ErrClosedByCaller)
	<-sess.readerDone
}

// Close disconnects and stops event delivery. The client cannot be used
// afterwards.
func (c *Client) Close() error {
	// Closed under mu so a Connect still dialing sees it.
	c.mu.Lock()
	c.closeOnce.Do(func() { close(c.closed) })
	c.mu.Unlock()
	c.Disconnect()
	return nil
}

// Send sends a command and waits up to the command timeout for its
// response.
func (c *Client) Send(cmd Command) (Response, error) {
	return c.SendWithContext(context.Background(), cmd)
}

// SendWithTimeout sends a command with a custom timeout.
func (c *Client) SendWithTimeout(cmd Command, timeout time.Duration) (Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.SendWithContext(ctx, cmd)
}

// SendWithContext sends a command and waits for its response. Event lines
// that arrive meanwhile go to Events and never complete the wait. ERR:
// replies are returned as a Response, not an error.
func (c *Client) SendWithContext(ctx context.Context, cmd Command) (Response, error) {
	return c.SendRawWithContext(ctx, cmd.Format())
}

// SendRaw sends pre-formatted command text, without the CMD: prefix or
// newline.
func (c *Client) SendRaw(text string) (Response, error) {
	return c.SendRawWithContext(context.Background(), text)
}

// SendRawWithTimeout sends raw command text with a custom timeout.
func (c *Client) SendRawWithTimeout(text string, timeout time.Duration) (Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.SendRawWithContext(ctx, text)
}

// SendRawWithContext sends raw command text and waits for its response.
func (c *Client) SendRawWithContext(ctx context.Context, text string) (Response, error) {
	if len(text) > MaxLineLength {
		return Response{}, ErrLineTooLong
	}
	if strings.ContainsAny(text, "\r\n") {
		return Response{}, &ProtocolError{Line: text, Reason: "command text contains a line break"}
	}

	sess, err := c.connected()
	if err != nil {
		return Response{}, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.CommandTimeout)
		defer cancel()
	}
	return c.exchange(ctx, sess, text, text == "ping", true)
}

// SendSequence sends each command text in order, waiting for every
// response before sending the next. It stops at the first ERR: response or
// transport error and returns the responses received so far.
func (c *Client) SendSequence(ctx context.Context, texts []string) ([]Response, error) {
	responses := make([]Response, 0, len(texts))
	for _, text := range texts {
		resp, err := c.SendRawWithContext(ctx, text)
		if err != nil {
			return responses, err
		}
		responses = append(responses, resp)
		if resp.IsError() {
			break
		}
	}
	return responses, nil
}

func (c *Client) connected() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return nil, ErrNotConnected
	}
	return c.sess, nil
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

var errSlotBusy = errors.New("request slot busy")

// exchange performs one request/response round trip on sess. With wait
// false it returns errSlotBusy instead of queueing behind another request.
func (c *Client) exchange(ctx context.Context, sess *session, text string, ping, wait bool) (Response, error) {
	if wait {
		select {
		case c.slot <- struct{}{}:
		case <-ctx.Done():
			return Response{}, ErrTimeout
		case <-sess.done:
			return Response{}, NewConnectionError("disconnected", sessionErr(sess))
		}
	} else {
		select {
		case c.slot <- struct{}{}:
		default:
			return Response{}, errSlotBusy
		}
	}
	defer func() { <-c.slot }()

	req := &request{text: text, ping: ping, result: make(chan result, 1)}

	sess.mu.Lock()
	if sess.ended {
		sess.mu.Unlock()
		return Response{}, NewConnectionError("disconnected", sessionErr(sess))
	}
	sess.pending = req
	sess.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = sess.conn.SetWriteDeadline(deadline)
	}
	if _, err := sess.conn.Write([]byte(EncodeRaw(text))); err != nil {
		sess.mu.Lock()
		if sess.pending == req {
			sess.pending = nil
		}
		sess.mu.Unlock()
		c.endSession(sess, NewConnectionError("write failed", err))
		return Response{}, NewConnectionError("failed to send command", err)
	}

	select {
	case r := <-req.result:
		return r.response, r.err
	case <-ctx.Done():
	}

	sess.mu.Lock()
	if sess.pending == req {
		sess.pending = nil
		if sess.late != nil {
			// The reply to the earlier request never came, so the one
			// we are waiting for may already have been discarded in its
			// place.
			sess.mu.Unlock()
			err := NewConnectionError("responses out of step with requests", ErrTimeout)
			c.endSession(sess, err)
			return Response{}, err
		}
		sess.late = req
		sess.mu.Unlock()
		c.log.Debug("request timed out", "command", text)
		return Response{}, ErrTimeout
	}
	sess.mu.Unlock()

	// The result was delivered while the context expired.
	r := <-req.result
	return r.response, r.err
}

func (c *Client) readLoop(sess *session) {
	defer close(sess.readerDone)

	reader := bufio.NewReader(sess.conn)
	for {
		line, err := reader.ReadString('\n')
		if err == nil {
			c.dispatch(sess, line)
			continue
		}
		if isExpectedClose(err) {
			c.endSession(sess, NewConnectionError("server closed the connection", err))
		} else {
			c.endSession(sess, NewConnectionError("read failed", err))
		}
		return
	}
}

// dispatch routes one wire line. A single server write may carry several
// lines; each is handled here independently.
func (c *Client) dispatch(sess *session, line string) {
	if strings.TrimSpace(line) == "" {
		return
	}

	msg, err := Decode(line)
	if err != nil {
		c.log.Warn("malformed line from server", "error", err)
		return
	}
	if msg.IsEvent {
		c.queue.push(msg.Event)
		return
	}

	resp := msg.Response
	isPong := resp.IsOK() && resp.Data == "pong"

	sess.mu.Lock()
	if late := sess.late; late != nil {
		sess.late = nil
		if late.ping && isPong {
			sess.lastPong = time.Now()
		}
		sess.mu.Unlock()
		c.log.Debug("discarding late response", "command", late.text, "response", resp.Format())
		return
	}
	req := sess.pending
	sess.pending = nil
	if req != nil && req.ping && isPong {
		sess.lastPong = time.Now()
	}
	sess.mu.Unlock()

	if req == nil {
		c.log.Warn("unsolicited response from server", "response", resp.Format())
		return
	}
	req.result <- result{response: resp}
}

// endSession tears down sess once. Later calls are no-ops.
func (c *Client) endSession(sess *session, reason error) {
	sess.mu.Lock()
	if sess.ended {
		sess.mu.Unlock()
		return
	}
	sess.ended = true
	sess.reason = reason
	pending := sess.pending
	sess.pending = nil
	sess.late = nil
	announced := sess.announced
	sess.mu.Unlock()

	close(sess.done)
	_ = sess.conn.Close()

	if pending != nil {
		pending.result <- result{err: NewConnectionError("disconnected", reason)}
	}

	c.mu.Lock()
	if c.sess == sess {
		c.sess = nil
		c.state = StateDisconnected
	}
	handler := c.disconnectHandler
	c.mu.Unlock()

	if errors.Is(reason, ErrClosedByCaller) {
		c.log.Debug("disconnected", "path", sess.path)
	} else {
		c.log.Info("connection ended", "path", sess.path, "reason", reason)
	}
	if announced && handler != nil {
		handler(reason)
	}
}

// awaitingLate reports whether a timed-out request is still owed a response.
func (s *session) awaitingLate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.late != nil
}

func sessionErr(sess *session) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.reason
}

func (c *Client) pumpEvents() {
	for {
		ev, ok := c.queue.pop(c.closed)
		if !ok {
			return
		}
		select {
		case c.events <- ev:
		case <-c.closed:
			return
		}
	}
}

// eventQueue is an unbounded FIFO so the reader never blocks on a slow
// event consumer.
type eventQueue struct {
	mu     sync.Mutex
	items  []Event
	notify chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{notify: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *eventQueue) pop(stop <-chan struct{}) (Event, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = Event{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return ev, true
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-stop:
			return Event{}, false
		}
	}
}
