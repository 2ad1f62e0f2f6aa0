// Package transport provides the line-oriented byte streams used to
// talk to hardware and to other nodes: a TCP backend and a serial
// backend behind one Conn interface with timeout-aware receives.
package transport

import (
	"bufio"
	"bytes"
	stderrors "errors"
	"io"
	"net"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SampleEnvironment/frappy-go/errors"
)

// Sentinels distinguishing a graceful close from a silent line.
var (
	ErrClosed  = stderrors.New("connection closed")
	ErrTimeout = stderrors.New("receive timeout")
)

// RecvTimeout bounds a single Recv call.
const RecvTimeout = time.Second

// Conn is a connected line transport. All methods are safe for one
// reader plus any number of writers.
type Conn interface {
	// Send writes data as is.
	Send(data []byte) error
	// Recv returns whatever bytes arrive within RecvTimeout; an empty
	// slice means nothing arrived. ErrClosed reports a graceful close.
	Recv() ([]byte, error)
	// ReadLine returns one LF-terminated line without the terminator.
	ReadLine(timeout time.Duration) ([]byte, error)
	// ReadBytes returns exactly n bytes.
	ReadBytes(n int, timeout time.Duration) ([]byte, error)
	// FlushRecv drains and returns any pending input.
	FlushRecv() ([]byte, error)
	// WriteLine sends line with a LF appended.
	WriteLine(line []byte) error
	// Disconnect closes the connection; a blocked reader gets ErrClosed.
	Disconnect()
	// URI returns the endpoint this connection was dialed with.
	URI() string
}

// Dial connects to a transport URI: "tcp://host:port" or
// "serial://device?baudrate=9600&...". A bare "host:port" is treated
// as TCP.
func Dial(uri string, timeout time.Duration) (Conn, error) {
	scheme, rest, err := splitURI(uri)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "tcp":
		c, err := net.DialTimeout("tcp", rest, timeout)
		if err != nil {
			return nil, errors.CommunicationFailed("connect %s: %v", uri, err)
		}
		return newConn(c, uri), nil
	case "serial":
		return dialSerial(uri)
	}
	return nil, errors.Config("unsupported transport scheme %q in %q", scheme, uri)
}

func splitURI(uri string) (scheme, rest string, err error) {
	if !strings.Contains(uri, "://") {
		return "tcp", uri, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", errors.Config("invalid transport uri %q: %v", uri, err)
	}
	switch u.Scheme {
	case "tcp":
		return "tcp", u.Host, nil
	case "serial":
		return "serial", u.Path, nil
	}
	return u.Scheme, "", nil
}

// deadlineRW is the common surface of net.Conn and a pollable os.File.
type deadlineRW interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// conn implements Conn over any deadline-capable stream.
type conn struct {
	rw  deadlineRW
	br  *bufio.Reader
	uri string

	wmu    sync.Mutex
	closed atomic.Bool
}

func newConn(rw deadlineRW, uri string) *conn {
	return &conn{rw: rw, br: bufio.NewReader(rw), uri: uri}
}

// NewConn wraps an established net.Conn; used by the server side and
// by tests over net.Pipe-like transports.
func NewConn(c net.Conn, uri string) Conn {
	return newConn(c, uri)
}

func (c *conn) URI() string { return c.uri }

func (c *conn) Send(data []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.rw.SetWriteDeadline(time.Now().Add(10 * time.Second)) //nolint:errcheck
	if _, err := c.rw.Write(data); err != nil {
		return c.mapErr(err)
	}
	return nil
}

func (c *conn) WriteLine(line []byte) error {
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	return c.Send(buf)
}

func (c *conn) Recv() ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	c.rw.SetReadDeadline(time.Now().Add(RecvTimeout)) //nolint:errcheck
	buf := make([]byte, 4096)
	n, err := c.br.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err != nil {
		if isTimeout(err) {
			return nil, nil
		}
		return nil, c.mapErr(err)
	}
	return nil, nil
}

func (c *conn) ReadLine(timeout time.Duration) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	c.rw.SetReadDeadline(time.Now().Add(timeout)) //nolint:errcheck
	line, err := c.br.ReadBytes('\n')
	if err != nil {
		return nil, c.mapErr(err)
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

func (c *conn) ReadBytes(n int, timeout time.Duration) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	c.rw.SetReadDeadline(time.Now().Add(timeout)) //nolint:errcheck
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.br, buf); err != nil {
		return nil, c.mapErr(err)
	}
	return buf, nil
}

func (c *conn) FlushRecv() ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	var drained []byte
	for {
		// a strictly positive deadline is required: an already expired
		// one fails without attempting the read, skipping buffered data
		c.rw.SetReadDeadline(time.Now().Add(10 * time.Millisecond)) //nolint:errcheck
		buf := make([]byte, 4096)
		n, err := c.br.Read(buf)
		drained = append(drained, buf[:n]...)
		if err != nil {
			if isTimeout(err) {
				return drained, nil
			}
			return drained, c.mapErr(err)
		}
		if n == 0 {
			return drained, nil
		}
	}
}

func (c *conn) Disconnect() {
	if c.closed.Swap(true) {
		return
	}
	c.rw.Close() //nolint:errcheck
}

func (c *conn) mapErr(err error) error {
	if c.closed.Load() {
		return ErrClosed
	}
	switch {
	case stderrors.Is(err, io.EOF), stderrors.Is(err, net.ErrClosed),
		stderrors.Is(err, io.ErrUnexpectedEOF):
		return ErrClosed
	case isTimeout(err):
		return ErrTimeout
	}
	return errors.CommunicationFailed("%s: %v", c.uri, err)
}

func isTimeout(err error) bool {
	if stderrors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return stderrors.As(err, &ne) && ne.Timeout()
}
