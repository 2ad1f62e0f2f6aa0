// Package server implements the SEC node side: the request dispatcher,
// the per-client connection loops and the TCP listener tying modules,
// pollers and transport together.
package server

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/SampleEnvironment/frappy-go/errors"
	"github.com/SampleEnvironment/frappy-go/logging"
	"github.com/SampleEnvironment/frappy-go/metrics"
	"github.com/SampleEnvironment/frappy-go/module"
	"github.com/SampleEnvironment/frappy-go/wire"
)

// listener receives encoded messages. enqueue reports false when the
// receiver cannot keep up; the caller then drops the connection.
type listener interface {
	enqueue(msg []byte) bool
	remote() string
}

// NodeInfo is the identity of the node in descriptive data.
type NodeInfo struct {
	EquipmentID string
	Description string
	Firmware    string
	Implementor string
}

// Dispatcher routes protocol requests to modules and fans module
// updates out to subscribed connections.
type Dispatcher struct {
	log      *slog.Logger
	registry *module.Registry
	info     NodeInfo

	// reqMu serializes request handling; broadcasts happen through the
	// non-blocking enqueue path and never wait under it.
	reqMu sync.Mutex

	subMu  sync.RWMutex
	active map[listener]bool
	// subscriptions are keyed by "module" or "module:param".
	subscriptions map[string]map[listener]bool
	dropped       func(l listener)
}

// NewDispatcher wires the dispatcher into every module's update path.
func NewDispatcher(reg *module.Registry, info NodeInfo, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = logging.Default()
	}
	if info.Firmware == "" {
		info.Firmware = "frappy-go"
	}
	d := &Dispatcher{
		log:           log,
		registry:      reg,
		info:          info,
		active:        map[listener]bool{},
		subscriptions: map[string]map[listener]bool{},
	}
	for _, m := range reg.Modules() {
		m.Runtime().SetUpdateFunc(d.broadcast)
	}
	return d
}

// setDropHandler registers the callback invoked when a slow listener
// must be disconnected.
func (d *Dispatcher) setDropHandler(f func(l listener)) {
	d.dropped = f
}

// remove forgets a connection and all its subscriptions.
func (d *Dispatcher) remove(l listener) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	delete(d.active, l)
	for key, set := range d.subscriptions {
		delete(set, l)
		if len(set) == 0 {
			delete(d.subscriptions, key)
		}
	}
}

// broadcast fans one accepted cache update out to the union of the
// parameter's subscribers, the module's subscribers and the active
// connections. Called from announce with the module's update lock
// held, so it must not block.
func (d *Dispatcher) broadcast(modName string, p *module.Parameter) {
	raw, err := wire.Encode(updateMessage(modName, p))
	if err != nil {
		d.log.Error("cannot encode update", "module", modName, "param", p.Name, "err", err)
		return
	}
	metrics.Updates.Inc()

	d.subMu.RLock()
	targets := map[listener]bool{}
	for l := range d.active {
		targets[l] = true
	}
	for l := range d.subscriptions[modName] {
		targets[l] = true
	}
	for l := range d.subscriptions[modName+":"+p.Name] {
		targets[l] = true
	}
	d.subMu.RUnlock()

	for l := range targets {
		if !l.enqueue(raw) && d.dropped != nil {
			d.dropped(l)
		}
	}
}

// updateMessage renders the cache state of a parameter as an update or
// error_update message.
func updateMessage(modName string, p *module.Parameter) wire.Message {
	spec := modName + ":" + p.Name
	value, ts, rerr := p.Cache()
	if rerr != nil {
		class, text, extra := errors.Report(rerr)
		return wire.Reply(wire.ActionErrorUpdate, spec, []any{class, text, extra})
	}
	return wire.Reply(wire.ActionUpdate, spec, wire.ValueReport(p.Datatype.Export(value), ts))
}

// Handle processes one request line and enqueues all resulting
// messages on l, the terminal reply last.
func (d *Dispatcher) Handle(l listener, raw []byte) {
	req, err := wire.Decode(raw)
	if err != nil {
		d.reply(l, wire.ErrorReply(req, err))
		return
	}
	metrics.Requests.WithLabelValues(req.Action).Inc()

	d.reqMu.Lock()
	defer d.reqMu.Unlock()

	var reply wire.Message
	switch req.Action {
	case wire.ActionIdentify:
		reply = wire.Message{Action: wire.Identity}
	case wire.ActionDescribe:
		reply, err = d.describe()
	case wire.ActionActivate:
		reply, err = d.activate(l, req.Specifier)
	case wire.ActionDeactivate:
		reply, err = d.deactivate(l, req.Specifier)
	case wire.ActionRead:
		reply, err = d.read(req)
	case wire.ActionChange:
		reply, err = d.change(req)
	case wire.ActionDo:
		reply, err = d.do(req)
	case wire.ActionPing:
		reply = wire.Reply(wire.ActionPong, req.Specifier, wire.ValueReport(nil, now()))
	case wire.ActionLogging:
		reply, err = d.logging(req)
	default:
		err = errors.ProtocolError("unsupported action %q", req.Action)
	}
	if err != nil {
		d.reply(l, wire.ErrorReply(req, err))
		return
	}
	d.reply(l, reply)
}

func (d *Dispatcher) reply(l listener, msg wire.Message) {
	raw, err := wire.Encode(msg)
	if err != nil {
		d.log.Error("cannot encode reply", "action", msg.Action, "err", err)
		return
	}
	if !l.enqueue(raw) && d.dropped != nil {
		d.dropped(l)
	}
}

// describe assembles the node descriptor.
func (d *Dispatcher) describe() (wire.Message, error) {
	modules := map[string]any{}
	for _, m := range d.registry.Modules() {
		modules[m.Name()] = m.Runtime().Describe()
	}
	desc := map[string]any{
		"equipment_id": d.info.EquipmentID,
		"description":  d.info.Description,
		"firmware":     d.info.Firmware,
		"modules":      modules,
	}
	if d.info.Implementor != "" {
		desc["implementor"] = d.info.Implementor
	}
	return wire.Reply(wire.ActionDescribing, "", desc), nil
}

// activate subscribes l and flushes the covered cached values as
// synthetic updates before the active reply.
func (d *Dispatcher) activate(l listener, spec string) (wire.Message, error) {
	mods, err := d.coveredModules(spec)
	if err != nil {
		return wire.Message{}, err
	}
	_, param := splitSpec(spec)

	d.subMu.Lock()
	if spec == "" {
		d.active[l] = true
	} else {
		set := d.subscriptions[spec]
		if set == nil {
			set = map[listener]bool{}
			d.subscriptions[spec] = set
		}
		set[l] = true
	}
	d.subMu.Unlock()

	for _, m := range mods {
		b := m.Runtime()
		for _, name := range b.ParameterNames() {
			if param != "" && name != param {
				continue
			}
			p := b.Parameter(name)
			if _, _, rerr := p.Cache(); !p.HasValue() && rerr == nil {
				continue
			}
			d.reply(l, updateMessage(m.Name(), p))
		}
	}
	return wire.Message{Action: wire.ActionActive, Specifier: spec}, nil
}

func (d *Dispatcher) deactivate(l listener, spec string) (wire.Message, error) {
	d.subMu.Lock()
	if spec == "" {
		delete(d.active, l)
	} else if set := d.subscriptions[spec]; set != nil {
		delete(set, l)
		if len(set) == 0 {
			delete(d.subscriptions, spec)
		}
	}
	d.subMu.Unlock()
	return wire.Message{Action: wire.ActionInactive, Specifier: spec}, nil
}

// coveredModules resolves an activate specifier to the modules it
// covers, validating that the named module and parameter exist.
func (d *Dispatcher) coveredModules(spec string) ([]module.Module, error) {
	if spec == "" {
		return d.registry.Modules(), nil
	}
	modName, param := splitSpec(spec)
	m, err := d.registry.Get(modName)
	if err != nil {
		return nil, err
	}
	if param != "" && m.Runtime().Parameter(param) == nil {
		return nil, errors.NoSuchParameter(modName, param)
	}
	return []module.Module{m}, nil
}

// read triggers a parameter read; a bare module specifier defaults to
// the value parameter.
func (d *Dispatcher) read(req wire.Message) (wire.Message, error) {
	m, param, err := d.resolve(req.Specifier, "value")
	if err != nil {
		return wire.Message{}, err
	}
	b := m.Runtime()
	if _, _, err := b.ReadParam(param); err != nil {
		return wire.Message{}, err
	}
	msg := updateMessage(m.Name(), b.Parameter(param))
	msg.Specifier = m.Name() + ":" + param
	return msg, nil
}

// change validates and writes; a bare module specifier defaults to the
// target parameter. The readback update is broadcast from within
// WriteParam, before this reply is enqueued.
func (d *Dispatcher) change(req wire.Message) (wire.Message, error) {
	if !req.HasData {
		return wire.Message{}, errors.ProtocolError("change needs a value")
	}
	m, param, err := d.resolve(req.Specifier, "target")
	if err != nil {
		return wire.Message{}, err
	}
	b := m.Runtime()
	v, ts, err := b.WriteParam(param, req.Data)
	if err != nil {
		return wire.Message{}, err
	}
	p := b.Parameter(param)
	return wire.Reply(wire.ActionChanged, m.Name()+":"+param,
		wire.ValueReport(p.Datatype.Export(v), ts)), nil
}

func (d *Dispatcher) do(req wire.Message) (wire.Message, error) {
	modName, cmd := splitSpec(req.Specifier)
	if modName == "" || cmd == "" {
		return wire.Message{}, errors.ProtocolError("do needs a module:command specifier")
	}
	m, err := d.registry.Get(modName)
	if err != nil {
		return wire.Message{}, err
	}
	var arg any
	if req.HasData {
		arg = req.Data
	}
	res, ts, err := m.Runtime().DoCommand(cmd, arg)
	if err != nil {
		return wire.Message{}, err
	}
	return wire.Reply(wire.ActionDone, req.Specifier, wire.ValueReport(res, ts)), nil
}

// logging adjusts log forwarding: `logging [module] "level"`. The
// level is applied to the default logger; "off" restores info.
func (d *Dispatcher) logging(req wire.Message) (wire.Message, error) {
	if req.Specifier != "" {
		if _, err := d.registry.Get(req.Specifier); err != nil {
			return wire.Message{}, err
		}
	}
	if req.HasData {
		level, ok := req.Data.(string)
		if !ok {
			return wire.Message{}, errors.ProtocolError("logging needs a level string")
		}
		if level == "off" {
			level = "info"
		}
		if err := logging.SetLevel(level); err != nil {
			return wire.Message{}, errors.ProtocolError("unknown log level %q", level)
		}
	}
	return wire.Message{
		Action:    wire.ActionLogging,
		Specifier: req.Specifier,
		Data:      req.Data,
		HasData:   req.HasData,
	}, nil
}

// resolve splits module[:param], applying the default accessible for
// requests that omit it. The lenient form is accepted with a debug
// log, matching established client behavior.
func (d *Dispatcher) resolve(spec, defaultParam string) (module.Module, string, error) {
	modName, param := splitSpec(spec)
	if modName == "" {
		return nil, "", errors.ProtocolError("missing module specifier")
	}
	m, err := d.registry.Get(modName)
	if err != nil {
		return nil, "", err
	}
	if param == "" {
		d.log.Debug("specifier without accessible, assuming default",
			"spec", spec, "default", defaultParam)
		param = defaultParam
	}
	if m.Runtime().Parameter(param) == nil {
		return nil, "", errors.NoSuchParameter(modName, param)
	}
	return m, param, nil
}

func splitSpec(spec string) (modName, param string) {
	modName, param, _ = strings.Cut(spec, ":")
	return modName, param
}

func now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// String describes the dispatcher state for diagnostics.
func (d *Dispatcher) String() string {
	d.subMu.RLock()
	defer d.subMu.RUnlock()
	return fmt.Sprintf("dispatcher(%d active, %d subscriptions)", len(d.active), len(d.subscriptions))
}
