// Package client implements the proxy side of the protocol: a
// reconnecting connection to another SEC node with request/reply
// matching, heartbeat probing and update fan-in.
package client

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/SampleEnvironment/frappy-go/errors"
	"github.com/SampleEnvironment/frappy-go/logging"
	"github.com/SampleEnvironment/frappy-go/transport"
	"github.com/SampleEnvironment/frappy-go/wire"
)

// identityPattern accepts any conforming identity line; the vendor
// part must mention ISSE before the literal SECoP.
var identityPattern = regexp.MustCompile(`^[^,]*?ISSE[^,]*,SECoP,`)

// UpdateFunc receives asynchronous updates. err is non-nil for
// error_update messages, including the synthetic CommunicationFailed
// updates emitted during an outage.
type UpdateFunc func(module, param string, value any, timestamp float64, err error)

// Options configure a client connection.
type Options struct {
	// URI of the peer node, e.g. "tcp://host:10767".
	URI string
	// Activate subscribes to updates and enables automatic reconnect.
	Activate bool
	// ReconnectTimeout throttles reconnect attempts. Default 10s.
	ReconnectTimeout time.Duration
	// RequestTimeout bounds a request/reply wait. The in-flight
	// operation is not cancelled on expiry. Default 10s.
	RequestTimeout time.Duration
	// HeartbeatTicks is the number of idle 1s receive ticks before a
	// ping probes liveness. Default 3.
	HeartbeatTicks int
}

func (o *Options) withDefaults() {
	if o.ReconnectTimeout <= 0 {
		o.ReconnectTimeout = 10 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
	if o.HeartbeatTicks <= 0 {
		o.HeartbeatTicks = 3
	}
}

// Client is a connection to a remote SEC node.
type Client struct {
	log      *slog.Logger
	opts     Options
	onUpdate UpdateFunc

	mu        sync.Mutex
	conn      transport.Conn
	online    bool
	closing   bool
	reconning bool
	describe  map[string]any
	// params lists the known module:param pairs for synthetic
	// error updates during an outage.
	params  [][2]string
	pending map[string]chan wire.Message
	pingCtr uint64
	// loggedErrors dedups connect error text between attempts.
	loggedErrors map[string]bool
}

// New creates a client; Connect establishes the connection.
func New(opts Options, onUpdate UpdateFunc, log *slog.Logger) *Client {
	if log == nil {
		log = logging.Default()
	}
	opts.withDefaults()
	return &Client{
		log:          logging.WithURI(log, opts.URI),
		opts:         opts,
		onUpdate:     onUpdate,
		pending:      map[string]chan wire.Message{},
		loggedErrors: map[string]bool{},
	}
}

// Connect dials the peer and performs the handshake: identity check,
// describe and, if configured, activate. Later disconnections trigger
// automatic reconnects when Activate is set.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return errors.Internal("client is closed")
	}
	c.mu.Unlock()
	return c.connect()
}

// Close shuts the client down; no reconnect is attempted.
func (c *Client) Close() {
	c.mu.Lock()
	c.closing = true
	conn := c.conn
	c.conn = nil
	c.online = false
	c.mu.Unlock()
	if conn != nil {
		conn.Disconnect()
	}
}

// Online reports whether the connection is currently established.
func (c *Client) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// Describe returns the descriptive data received at connect.
func (c *Client) Describe() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.describe
}

// Read requests a parameter read from the peer.
func (c *Client) Read(module, param string) (any, float64, error) {
	reply, err := c.request(wire.ActionRead, spec(module, param), nil, false)
	if err != nil {
		return nil, 0, err
	}
	return splitReport(reply.Data)
}

// Change writes a parameter on the peer and returns the readback.
func (c *Client) Change(module, param string, value any) (any, float64, error) {
	reply, err := c.request(wire.ActionChange, spec(module, param), value, true)
	if err != nil {
		return nil, 0, err
	}
	return splitReport(reply.Data)
}

// Do invokes a command on the peer.
func (c *Client) Do(module, cmd string, arg any) (any, float64, error) {
	reply, err := c.request(wire.ActionDo, spec(module, cmd), arg, arg != nil)
	if err != nil {
		return nil, 0, err
	}
	return splitReport(reply.Data)
}

// connect performs one connection attempt including the handshake.
func (c *Client) connect() error {
	conn, err := transport.Dial(c.opts.URI, c.opts.RequestTimeout)
	if err != nil {
		return err
	}
	if err := c.checkIdentity(conn); err != nil {
		conn.Disconnect()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.online = true
	c.loggedErrors = map[string]bool{}
	c.mu.Unlock()

	go c.rxLoop(conn)

	desc, err := c.request(wire.ActionDescribe, "", nil, false)
	if err != nil {
		conn.Disconnect()
		return err
	}
	c.storeDescribe(desc)

	if c.opts.Activate {
		if _, err := c.request(wire.ActionActivate, "", nil, false); err != nil {
			conn.Disconnect()
			return err
		}
	}
	c.log.Info("connected")
	return nil
}

// checkIdentity sends *IDN? and vets the identity line before the
// receive loop starts. A legacy identifier logs a warning but is
// accepted.
func (c *Client) checkIdentity(conn transport.Conn) error {
	if _, err := conn.FlushRecv(); err != nil {
		return err
	}
	if err := conn.WriteLine([]byte(wire.ActionIdentify)); err != nil {
		return err
	}
	line, err := conn.ReadLine(c.opts.RequestTimeout)
	if err != nil {
		return errors.CommunicationFailed("no identity reply: %v", err)
	}
	if !identityPattern.Match(line) {
		if !strings.Contains(string(line), "SECoP") {
			return errors.ProtocolError("%q does not identify a SECoP node", line)
		}
		c.log.Warn("peer sends a legacy identifier", "identity", string(line))
	}
	return nil
}

// storeDescribe extracts the known parameters from descriptive data.
func (c *Client) storeDescribe(msg wire.Message) {
	desc, _ := msg.Data.(map[string]any)
	var params [][2]string
	if modules, ok := desc["modules"].(map[string]any); ok {
		for modName, m := range modules {
			md, _ := m.(map[string]any)
			acc, _ := md["accessibles"].(map[string]any)
			for name, a := range acc {
				ad, _ := a.(map[string]any)
				info, _ := ad["datainfo"].(map[string]any)
				if t, _ := info["type"].(string); t == "command" {
					continue
				}
				params = append(params, [2]string{modName, name})
			}
		}
	}
	c.mu.Lock()
	c.describe = desc
	c.params = params
	c.mu.Unlock()
}

// rxLoop reads replies and updates until the connection dies.
func (c *Client) rxLoop(conn transport.Conn) {
	idle := 0
	for {
		line, err := conn.ReadLine(time.Second)
		switch err {
		case nil:
			idle = 0
			if len(line) > 0 {
				c.handleLine(line)
			}
			continue
		case transport.ErrTimeout:
			idle++
			if idle >= c.opts.HeartbeatTicks {
				idle = 0
				if herr := c.heartbeat(conn); herr != nil {
					c.log.Warn("heartbeat failed", "err", herr)
					c.onDisconnect(conn, herr)
					return
				}
			}
			continue
		}
		// ErrClosed or a hard failure
		c.onDisconnect(conn, err)
		return
	}
}

// heartbeat sends a ping on the idle connection. A send failure means
// the connection is dead.
func (c *Client) heartbeat(conn transport.Conn) error {
	c.mu.Lock()
	c.pingCtr++
	ctr := c.pingCtr
	c.mu.Unlock()
	line := fmt.Sprintf("%s %d", wire.ActionPing, ctr)
	return conn.WriteLine([]byte(line))
}

func (c *Client) handleLine(line []byte) {
	msg, err := wire.Decode(line)
	if err != nil {
		c.log.Warn("undecodable line from peer", "line", string(line), "err", err)
		return
	}
	switch msg.Action {
	case wire.ActionUpdate:
		c.deliverUpdate(msg)
		// a read reply arrives as an update matching its specifier
		if ch, ok := c.takePending(wire.ActionRead, msg.Specifier); ok {
			ch <- msg
		}
		return
	case wire.ActionErrorUpdate:
		c.deliverUpdate(msg)
		return
	case wire.ActionPong:
		if ch, ok := c.takePending(wire.ActionPing, msg.Specifier); ok {
			ch <- msg
		}
		return
	}

	action := msg.Action
	isErr := strings.HasPrefix(action, wire.ErrorPrefix)
	if isErr {
		action = strings.TrimPrefix(action, wire.ErrorPrefix)
	}
	req := requestAction(action)
	ch, ok := c.takePending(req, msg.Specifier)
	if !ok {
		// a bare describe request is answered with specifier "."
		ch, ok = c.takePending(req, "")
	}
	if !ok {
		c.log.Debug("unmatched reply", "action", msg.Action, "spec", msg.Specifier)
		return
	}
	ch <- msg
}

// deliverUpdate forwards one update message to the callback. A
// missing accessible part is tolerated with a warning, defaulting to
// value; no further guessing is done.
func (c *Client) deliverUpdate(msg wire.Message) {
	if c.onUpdate == nil {
		return
	}
	modName, param := msg.Module(), msg.Accessible()
	if param == "" {
		c.log.Warn("update without accessible, assuming value", "spec", msg.Specifier)
		param = "value"
	}
	if msg.Action == wire.ActionErrorUpdate {
		c.onUpdate(modName, param, nil, nowSeconds(), wire.ParseError(msg.Data))
		return
	}
	value, ts, err := splitReport(msg.Data)
	if err != nil {
		c.log.Warn("malformed value report", "spec", msg.Specifier, "err", err)
		return
	}
	c.onUpdate(modName, param, value, ts, nil)
}

// replyActions maps a request action to its reply action.
var replyActions = map[string]string{
	wire.ActionDescribe:   wire.ActionDescribing,
	wire.ActionActivate:   wire.ActionActive,
	wire.ActionDeactivate: wire.ActionInactive,
	wire.ActionRead:       wire.ActionUpdate,
	wire.ActionChange:     wire.ActionChanged,
	wire.ActionDo:         wire.ActionDone,
	wire.ActionPing:       wire.ActionPong,
}

// requestAction inverts replyActions.
func requestAction(replyOrRequest string) string {
	for req, rep := range replyActions {
		if rep == replyOrRequest || req == replyOrRequest {
			return req
		}
	}
	return replyOrRequest
}

// request sends one request and waits for the matching reply.
func (c *Client) request(action, specifier string, data any, hasData bool) (wire.Message, error) {
	c.mu.Lock()
	conn := c.conn
	online := c.online
	c.mu.Unlock()
	if !online || conn == nil {
		return wire.Message{}, errors.CommunicationFailed("not connected to %s", c.opts.URI)
	}

	// read replies arrive as update messages, matched by specifier
	key := pendingKey(action, specifier)
	ch := make(chan wire.Message, 1)
	c.mu.Lock()
	if _, busy := c.pending[key]; busy {
		c.mu.Unlock()
		return wire.Message{}, errors.New(errors.KindIsBusy, "request %q already in flight", key)
	}
	c.pending[key] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
	}()

	raw, err := wire.Encode(wire.Message{
		Action: action, Specifier: specifier, Data: data, HasData: hasData,
	})
	if err != nil {
		return wire.Message{}, err
	}
	if err := conn.Send(raw); err != nil {
		return wire.Message{}, errors.CommunicationFailed("send failed: %v", err)
	}

	select {
	case reply := <-ch:
		if reply.IsError() {
			return wire.Message{}, wire.ParseError(reply.Data)
		}
		return reply, nil
	case <-time.After(c.opts.RequestTimeout):
		return wire.Message{}, errors.New(errors.KindTimeout,
			"no reply to %s within %s", key, c.opts.RequestTimeout)
	}
}

func (c *Client) takePending(action, specifier string) (chan wire.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := pendingKey(action, specifier)
	ch, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	return ch, ok
}

func pendingKey(action, specifier string) string {
	if specifier == "" {
		return action
	}
	return action + " " + specifier
}

// onDisconnect transitions to offline: pending requests fail, every
// known parameter gets one synthetic CommunicationFailed update, and
// the reconnect loop starts when activation was requested.
func (c *Client) onDisconnect(conn transport.Conn, cause error) {
	conn.Disconnect()

	c.mu.Lock()
	if c.conn != conn {
		// an old connection's reader lost a race with reconnect
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.online = false
	closing := c.closing
	params := c.params
	pending := c.pending
	c.pending = map[string]chan wire.Message{}
	startReconnect := c.opts.Activate && !c.closing && !c.reconning
	if startReconnect {
		c.reconning = true
	}
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- wire.ErrorReply(wire.Message{Action: "request"},
			errors.CommunicationFailed("connection lost"))
	}
	if closing {
		return
	}
	c.log.Warn("connection lost", "cause", cause)

	if c.onUpdate != nil {
		ts := nowSeconds()
		err := errors.CommunicationFailed("disconnected")
		for _, p := range params {
			c.onUpdate(p[0], p[1], nil, ts, err)
		}
	}
	if startReconnect {
		go c.reconnectLoop()
	}
}

// reconnectLoop retries the connection, throttled to the reconnect
// timeout, logging only error text it has not logged before.
func (c *Client) reconnectLoop() {
	defer func() {
		c.mu.Lock()
		c.reconning = false
		c.mu.Unlock()
	}()
	for {
		c.mu.Lock()
		if c.closing {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		err := c.connect()
		if err == nil {
			return
		}
		c.mu.Lock()
		text := err.Error()
		logIt := !c.loggedErrors[text]
		c.loggedErrors[text] = true
		c.mu.Unlock()
		if logIt {
			c.log.Warn("reconnect failed", "err", err)
		}
		time.Sleep(c.opts.ReconnectTimeout)
	}
}

func spec(module, accessible string) string {
	return module + ":" + accessible
}

// splitReport unpacks a [value, {"t": ts}] report.
func splitReport(data any) (any, float64, error) {
	report, ok := data.([]any)
	if !ok || len(report) == 0 {
		return nil, 0, errors.ProtocolError("malformed value report: %v", data)
	}
	var ts float64
	if len(report) > 1 {
		if q, ok := report[1].(map[string]any); ok {
			ts, _ = q["t"].(float64)
		}
	}
	return report[0], ts, nil
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
