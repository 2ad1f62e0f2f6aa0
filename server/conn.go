package server

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/SampleEnvironment/frappy-go/logging"
	"github.com/SampleEnvironment/frappy-go/metrics"
	"github.com/SampleEnvironment/frappy-go/transport"
)

// txQueueDepth bounds the per-connection send queue. A client that
// cannot drain 30 pending messages is considered slow and dropped.
const txQueueDepth = 30

// ClientConn owns one client connection: a receive loop parsing
// request lines and a transmit loop draining the bounded send queue.
type ClientConn struct {
	d   *Dispatcher
	t   transport.Conn
	log *slog.Logger

	tx     chan []byte
	closed atomic.Bool
	done   chan struct{}
}

func newClientConn(d *Dispatcher, t transport.Conn, log *slog.Logger) *ClientConn {
	return &ClientConn{
		d:    d,
		t:    t,
		log:  logging.WithConnection(log, t.URI()),
		tx:   make(chan []byte, txQueueDepth),
		done: make(chan struct{}),
	}
}

func (c *ClientConn) remote() string { return c.t.URI() }

// enqueue adds a message to the send queue without blocking. It
// reports false when the queue is full; an already closed connection
// swallows the message instead.
func (c *ClientConn) enqueue(msg []byte) bool {
	if c.closed.Load() {
		return true
	}
	select {
	case c.tx <- msg:
		return true
	default:
		return false
	}
}

// serve runs the receive loop until the peer disconnects. It blocks;
// the caller runs it in its own goroutine.
func (c *ClientConn) serve() {
	metrics.Connections.Inc()
	c.log.Info("client connected")
	go c.transmit()
	defer c.close()

	for {
		line, err := c.t.ReadLine(time.Hour)
		if err != nil {
			switch err {
			case transport.ErrTimeout:
				continue
			case transport.ErrClosed:
				c.log.Info("client disconnected")
			default:
				c.log.Warn("receive failed", "err", err)
			}
			return
		}
		if len(line) == 0 {
			continue
		}
		c.d.Handle(c, line)
	}
}

func (c *ClientConn) transmit() {
	for {
		select {
		case msg := <-c.tx:
			if err := c.t.Send(msg); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// close tears the connection down once: unsubscribes, stops the
// transmit loop and closes the transport.
func (c *ClientConn) close() {
	if c.closed.Swap(true) {
		return
	}
	close(c.done)
	c.d.remove(c)
	c.t.Disconnect()
	metrics.Connections.Dec()
}
