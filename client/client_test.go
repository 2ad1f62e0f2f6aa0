package client

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SampleEnvironment/frappy-go/datatype"
	"github.com/SampleEnvironment/frappy-go/errors"
	"github.com/SampleEnvironment/frappy-go/module"
	"github.com/SampleEnvironment/frappy-go/server"
	"github.com/SampleEnvironment/frappy-go/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startNode(t *testing.T, addr string) *server.Node {
	t.Helper()
	log := testLogger()

	cryo := module.NewDrivable("cryo", datatype.NewFloat(-10, 10), log)
	cryo.Properties().Set("description", "cryostat") //nolint:errcheck
	require.NoError(t, cryo.Runtime().FinishInit())

	reg := module.NewRegistry(log)
	require.NoError(t, reg.Add(cryo))

	n := server.NewNode(reg, server.NodeInfo{
		EquipmentID: "test.psi.ch",
		Description: "test node",
	}, addr, log)
	require.NoError(t, n.Start(context.Background()))
	return n
}

// updateLog collects delivered updates.
type updateLog struct {
	mu      sync.Mutex
	entries []updateEntry
}

type updateEntry struct {
	module, param string
	value         any
	err           error
}

func (u *updateLog) add(module, param string, value any, ts float64, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.entries = append(u.entries, updateEntry{module, param, value, err})
}

func (u *updateLog) count(match func(updateEntry) bool) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for _, e := range u.entries {
		if match(e) {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestClientSession(t *testing.T) {
	n := startNode(t, "127.0.0.1:0")
	defer n.Shutdown()

	updates := &updateLog{}
	c := New(Options{
		URI:            n.Addr(),
		Activate:       true,
		RequestTimeout: 2 * time.Second,
	}, updates.add, testLogger())
	require.NoError(t, c.Connect())
	defer c.Close()

	assert.True(t, c.Online())
	desc := c.Describe()
	mods, ok := desc["modules"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, mods, "cryo")

	v, ts, err := c.Change("cryo", "target", 3)
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)
	assert.Greater(t, ts, 0.0)

	// the broadcast update for the write arrives as well
	waitFor(t, 2*time.Second, func() bool {
		return updates.count(func(e updateEntry) bool {
			return e.module == "cryo" && e.param == "target" && e.value == 3.0
		}) > 0
	})

	v, _, err = c.Read("cryo", "target")
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)

	res, _, err := c.Do("cryo", "stop", nil)
	require.NoError(t, err)
	assert.Nil(t, res)

	_, _, err = c.Change("cryo", "target", 99)
	assert.True(t, errors.IsKind(err, errors.KindRangeError))

	_, _, err = c.Read("ghost", "value")
	assert.True(t, errors.IsKind(err, errors.KindNoSuchModule))
}

func TestClientReconnect(t *testing.T) {
	n := startNode(t, "127.0.0.1:0")
	addr := n.Addr()

	updates := &updateLog{}
	c := New(Options{
		URI:              addr,
		Activate:         true,
		RequestTimeout:   2 * time.Second,
		ReconnectTimeout: 100 * time.Millisecond,
	}, updates.add, testLogger())
	require.NoError(t, c.Connect())
	defer c.Close()

	n.Shutdown()

	// one synthetic CommunicationFailed per known parameter
	waitFor(t, 2*time.Second, func() bool { return !c.Online() })
	waitFor(t, 2*time.Second, func() bool {
		return updates.count(func(e updateEntry) bool {
			return errors.IsKind(e.err, errors.KindCommunicationFailed)
		}) >= 4
	})
	for _, param := range []string{"value", "status", "target", "pollinterval"} {
		p := param
		assert.Equal(t, 1, updates.count(func(e updateEntry) bool {
			return e.param == p && errors.IsKind(e.err, errors.KindCommunicationFailed)
		}), "exactly one synthetic error update for %s", p)
	}

	// peer comes back on the same address; the client resumes
	n2 := startNode(t, addr)
	defer n2.Shutdown()

	waitFor(t, 5*time.Second, func() bool { return c.Online() })
	v, _, err := c.Change("cryo", "target", -2)
	require.NoError(t, err)
	assert.Equal(t, -2.0, v)
}

// scriptedServer accepts one client and serves canned handshake
// replies; requests listed in mute are left unanswered.
func scriptedServer(t *testing.T, identity string, mute map[string]bool) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		br := bufio.NewReader(conn)
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				return
			}
			action := strings.Fields(strings.TrimSpace(line))[0]
			if mute[action] {
				continue
			}
			switch action {
			case "*IDN?":
				conn.Write([]byte(identity + "\n")) //nolint:errcheck
			case "describe":
				conn.Write([]byte(`describing . {"modules":{}}` + "\n")) //nolint:errcheck
			case "read":
				conn.Write([]byte(`update m:value [1,{"t":1}]` + "\n")) //nolint:errcheck
			}
		}
	}()
	return ln.Addr().String()
}

func TestClientRequestTimeout(t *testing.T) {
	addr := scriptedServer(t, "ISSE&SINE2020,SECoP,V2019-09-16,v1.0",
		map[string]bool{"read": true})

	c := New(Options{
		URI:            addr,
		RequestTimeout: 200 * time.Millisecond,
	}, nil, testLogger())
	require.NoError(t, c.Connect())
	defer c.Close()

	_, _, err := c.Read("m", "value")
	assert.True(t, errors.IsKind(err, errors.KindTimeout), "%v", err)
}

func TestClientIdentityCheck(t *testing.T) {
	addr := scriptedServer(t, "some random banner", nil)
	c := New(Options{URI: addr, RequestTimeout: time.Second}, nil, testLogger())
	err := c.Connect()
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindProtocolError))

	// a legacy identifier mentioning SECoP is accepted with a warning
	addr = scriptedServer(t, "legacy gadget,SECoP,0.9", nil)
	c = New(Options{URI: addr, RequestTimeout: time.Second}, nil, testLogger())
	require.NoError(t, c.Connect())
	c.Close()
}

// silentConn times out on every receive and fails every send, like a
// peer that vanished without closing the socket.
type silentConn struct {
	disconnected sync.Once
	closed       chan struct{}
}

func newSilentConn() *silentConn {
	return &silentConn{closed: make(chan struct{})}
}

func (s *silentConn) Send([]byte) error      { return errors.CommunicationFailed("send failed") }
func (s *silentConn) WriteLine([]byte) error { return errors.CommunicationFailed("send failed") }
func (s *silentConn) Recv() ([]byte, error)  { return nil, nil }
func (s *silentConn) ReadLine(time.Duration) ([]byte, error) {
	select {
	case <-s.closed:
		return nil, transport.ErrClosed
	case <-time.After(time.Millisecond):
		return nil, transport.ErrTimeout
	}
}
func (s *silentConn) ReadBytes(int, time.Duration) ([]byte, error) {
	return nil, transport.ErrTimeout
}
func (s *silentConn) FlushRecv() ([]byte, error) { return nil, nil }
func (s *silentConn) Disconnect()                { s.disconnected.Do(func() { close(s.closed) }) }
func (s *silentConn) URI() string                { return "test://silent" }

func TestHeartbeatFailureGoesOffline(t *testing.T) {
	c := New(Options{URI: "test://silent", HeartbeatTicks: 1}, nil, testLogger())
	conn := newSilentConn()
	c.mu.Lock()
	c.conn = conn
	c.online = true
	c.mu.Unlock()

	go c.rxLoop(conn)

	// the first idle tick triggers a ping; the failed send must tear
	// the connection down instead of leaving a dead session online
	waitFor(t, 2*time.Second, func() bool { return !c.Online() })
	select {
	case <-conn.closed:
	default:
		t.Fatal("connection not disconnected")
	}
}

func TestClientNotConnected(t *testing.T) {
	c := New(Options{URI: "127.0.0.1:1"}, nil, testLogger())
	_, _, err := c.Read("m", "value")
	assert.True(t, errors.IsKind(err, errors.KindCommunicationFailed))
}
