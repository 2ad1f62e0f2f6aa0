package server

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/SampleEnvironment/frappy-go/logging"
	"github.com/SampleEnvironment/frappy-go/module"
	"github.com/SampleEnvironment/frappy-go/poller"
	"github.com/SampleEnvironment/frappy-go/transport"
)

// Node is one SEC node: a module registry, its pollers, the request
// dispatcher and the TCP listener for clients.
type Node struct {
	log        *slog.Logger
	info       NodeInfo
	addr       string
	registry   *module.Registry
	dispatcher *Dispatcher

	mu      sync.Mutex
	pollers []*poller.Poller
	ln      net.Listener
	conns   map[*ClientConn]bool
	stopped bool

	wg sync.WaitGroup
}

// NewNode assembles a node around an already populated registry.
func NewNode(reg *module.Registry, info NodeInfo, addr string, log *slog.Logger) *Node {
	if log == nil {
		log = logging.Default()
	}
	n := &Node{
		log:      log,
		info:     info,
		addr:     addr,
		registry: reg,
		conns:    map[*ClientConn]bool{},
	}
	n.dispatcher = NewDispatcher(reg, info, log)
	n.dispatcher.setDropHandler(n.dropSlow)
	return n
}

// Dispatcher exposes the request dispatcher, mainly for tests.
func (n *Node) Dispatcher() *Dispatcher { return n.dispatcher }

// Addr returns the bound listen address, valid after Start.
func (n *Node) Addr() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ln == nil {
		return n.addr
	}
	return n.ln.Addr().String()
}

// Start initializes the modules, launches the pollers and begins
// accepting clients. It returns once the listener is bound.
func (n *Node) Start(ctx context.Context) error {
	if err := n.registry.Init(ctx); err != nil {
		return err
	}
	if err := n.registry.Start(); err != nil {
		return err
	}

	for _, p := range n.pollerGroups() {
		p.Start()
	}

	ln, err := net.Listen("tcp", n.addr)
	if err != nil {
		n.Shutdown()
		return err
	}
	n.mu.Lock()
	n.ln = ln
	n.mu.Unlock()
	n.log.Info("node listening", "addr", ln.Addr().String(),
		"equipment_id", n.info.EquipmentID)

	n.wg.Add(1)
	go n.acceptLoop(ln)
	return nil
}

// Wait blocks until the accept loop and all connections are done.
func (n *Node) Wait() {
	n.wg.Wait()
}

// pollerGroups builds one poller per attachment group: a module
// attached to another shares its poller, standalone modules get their
// own.
func (n *Node) pollerGroups() []*poller.Poller {
	mods := n.registry.Modules()
	parent := map[string]string{}
	var find func(name string) string
	find = func(name string) string {
		root, ok := parent[name]
		if !ok || root == name {
			return name
		}
		root = find(root)
		parent[name] = root
		return root
	}
	for _, m := range mods {
		b := m.Runtime()
		for _, slot := range b.AttachmentSlots() {
			if t := b.Attached(slot); t != nil {
				parent[find(m.Name())] = find(t.Name())
			}
		}
	}

	groups := map[string]*poller.Poller{}
	var order []*poller.Poller
	for _, m := range mods {
		root := find(m.Name())
		p, ok := groups[root]
		if !ok {
			p = poller.New(root, n.log)
			groups[root] = p
			order = append(order, p)
		}
		p.AddModule(m)
	}
	n.mu.Lock()
	n.pollers = order
	n.mu.Unlock()
	return order
}

func (n *Node) acceptLoop(ln net.Listener) {
	defer n.wg.Done()
	for {
		c, err := ln.Accept()
		if err != nil {
			n.mu.Lock()
			stopped := n.stopped
			n.mu.Unlock()
			if !stopped {
				n.log.Error("accept failed", "err", err)
			}
			return
		}
		conn := newClientConn(n.dispatcher,
			transport.NewConn(c, "tcp://"+c.RemoteAddr().String()), n.log)
		n.mu.Lock()
		if n.stopped {
			n.mu.Unlock()
			conn.close()
			continue
		}
		n.conns[conn] = true
		n.mu.Unlock()
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			conn.serve()
			n.mu.Lock()
			delete(n.conns, conn)
			n.mu.Unlock()
		}()
	}
}

// dropSlow disconnects a listener whose send queue overflowed.
func (n *Node) dropSlow(l listener) {
	c, ok := l.(*ClientConn)
	if !ok {
		return
	}
	n.log.Warn("dropping slow client", "conn", c.remote())
	c.close()
}

// Shutdown stops accepting, closes all client connections, stops the
// pollers and shuts the modules down in reverse order.
func (n *Node) Shutdown() {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	n.stopped = true
	ln := n.ln
	conns := make([]*ClientConn, 0, len(n.conns))
	for c := range n.conns {
		conns = append(conns, c)
	}
	pollers := n.pollers
	n.mu.Unlock()

	if ln != nil {
		ln.Close() //nolint:errcheck
	}
	for _, c := range conns {
		c.close()
	}
	for _, p := range pollers {
		p.Stop()
	}
	n.registry.Shutdown()
	n.log.Info("node stopped")
}
