// Package poller drives the periodic hardware polls of a group of
// modules: main polls at each module's pollinterval, slow polls for
// the remaining parameters, startup writes of configured values.
package poller

import (
	"log/slog"
	"sync"
	"time"

	"github.com/SampleEnvironment/frappy-go/errors"
	"github.com/SampleEnvironment/frappy-go/logging"
	"github.com/SampleEnvironment/frappy-go/metrics"
	"github.com/SampleEnvironment/frappy-go/module"
)

// joinTimeout bounds how long Stop waits for the loop to exit.
const joinTimeout = 5 * time.Second

// initialReader is implemented by modules that need a hardware preread
// before the regular poll cycle starts.
type initialReader interface {
	InitialReads() error
}

// pollInfo is the per-module scheduling state.
type pollInfo struct {
	mod      module.Module
	lastMain float64
	lastSlow float64
	// slowParams are the readable parameters outside the main poll,
	// visited round-robin by the slow cycle.
	slowParams []string
	slowIdx    int
	// pendingErrors maps a read name to the last logged error text, so
	// repeated failures log once and recovery logs an o.k. line.
	pendingErrors map[string]string
}

// Poller runs one goroutine polling a group of modules. Modules
// sharing an I/O channel share a poller; standalone modules get their
// own.
type Poller struct {
	log  *slog.Logger
	name string

	mu      sync.Mutex
	infos   []*pollInfo
	started bool

	trigger chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

// New creates a poller for the named module group.
func New(name string, log *slog.Logger) *Poller {
	if log == nil {
		log = logging.Default()
	}
	return &Poller{
		log:     log.With("poller", name),
		name:    name,
		trigger: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// AddModule registers a module with this poller. Must be called before
// Start.
func (p *Poller) AddModule(m module.Module) {
	b := m.Runtime()
	info := &pollInfo{
		mod:           m,
		pendingErrors: map[string]string{},
	}
	for _, name := range b.ParameterNames() {
		if name == "value" || name == "status" {
			continue // covered by the main poll
		}
		if b.HasReader(name) {
			info.slowParams = append(info.slowParams, name)
		}
	}
	b.SetPollTrigger(p.Trigger)
	p.mu.Lock()
	p.infos = append(p.infos, info)
	p.mu.Unlock()
}

// Trigger wakes the poll loop before its timeout expires. Safe to call
// from any goroutine; extra triggers coalesce.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Start runs the startup sequence synchronously (configured writes,
// prereads, one full read sweep) and then launches the poll loop.
// A CommunicationFailed during the initial sweep is reported but does
// not abort: subsequent polls retry.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	infos := append([]*pollInfo(nil), p.infos...)
	p.mu.Unlock()

	p.writeInitParams(infos)
	p.initialReads(infos)
	p.initialSweep(infos)

	go p.loop(infos)
}

// Stop terminates the poll loop and joins it.
func (p *Poller) Stop() {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	select {
	case <-p.stop:
		return // already stopped
	default:
	}
	close(p.stop)
	p.Trigger()
	if !started {
		return
	}
	select {
	case <-p.done:
	case <-time.After(joinTimeout):
		p.log.Warn("poll loop did not stop in time")
	}
}

// writeInitParams pushes every configured startup value through the
// module's write path, in canonical parameter order.
func (p *Poller) writeInitParams(infos []*pollInfo) {
	for _, info := range infos {
		b := info.mod.Runtime()
		for _, name := range b.GivenParams() {
			v, _, _ := b.Parameter(name).Cache()
			if _, _, err := b.WriteParam(name, v); err != nil {
				p.log.Error("startup write failed",
					"module", info.mod.Name(), "param", name, "err", err)
			}
		}
	}
}

func (p *Poller) initialReads(infos []*pollInfo) {
	for _, info := range infos {
		if ir, ok := info.mod.(initialReader); ok {
			if err := ir.InitialReads(); err != nil {
				p.log.Error("initial reads failed",
					"module", info.mod.Name(), "err", err)
			}
		}
	}
}

// initialSweep reads every polled parameter once so the cache is
// populated before clients activate.
func (p *Poller) initialSweep(infos []*pollInfo) {
	start := now()
	for _, info := range infos {
		b := info.mod.Runtime()
		failed := false
		for _, name := range b.ParameterNames() {
			if !b.HasReader(name) {
				continue
			}
			if err := p.callPollFunc(info, name); err != nil {
				if errors.IsKind(err, errors.KindCommunicationFailed) {
					failed = true
				}
			}
		}
		if failed {
			p.log.Error("module not reachable at startup, polls will retry",
				"module", info.mod.Name())
		}
		info.lastMain = start
		info.lastSlow = start
	}
}

// loop is the scheduler: main polls when a module's interval elapsed,
// then one slow parameter per due module, then wait until the next
// deadline or a trigger.
func (p *Poller) loop(infos []*pollInfo) {
	defer close(p.done)
	for {
		wait := p.pollDue(infos)
		if wait <= 0 {
			// work is still pending, just yield to the trigger channel
			select {
			case <-p.stop:
				return
			case <-p.trigger:
			default:
			}
			continue
		}
		select {
		case <-p.stop:
			return
		case <-p.trigger:
		case <-time.After(secondsToDuration(wait)):
		}
	}
}

// pollDue performs all currently due polls and returns the time in
// seconds until the next deadline.
func (p *Poller) pollDue(infos []*pollInfo) float64 {
	t := now()
	next := 60.0
	for _, info := range infos {
		interval := p.mainInterval(info)
		if due := info.lastMain + interval - t; due <= 0 {
			info.mod.DoPoll()
			info.lastMain = now()
			next = min(next, interval)
		} else {
			next = min(next, due)
		}
	}
	for _, info := range infos {
		slow := info.mod.Runtime().SlowInterval()
		if slow <= 0 {
			slow = 15
		}
		if due := info.lastSlow + slow - t; due <= 0 {
			p.slowPoll(info)
			next = min(next, slow)
		} else {
			next = min(next, due)
		}
	}
	return next
}

// mainInterval resolves the effective main poll interval, honoring a
// fast poll override while the module is busy.
func (p *Poller) mainInterval(info *pollInfo) float64 {
	b := info.mod.Runtime()
	if active, fast := b.FastPoll(); active && fast > 0 {
		return fast
	}
	if iv := b.PollInterval(); iv > 0 {
		return iv
	}
	return 5
}

// slowPoll reads the next parameter of the round-robin cycle; the slow
// timestamp advances when the cycle wraps, so every parameter gets its
// turn within one slow interval per parameter.
func (p *Poller) slowPoll(info *pollInfo) {
	if len(info.slowParams) == 0 {
		info.lastSlow = now()
		return
	}
	name := info.slowParams[info.slowIdx]
	p.callPollFunc(info, name) //nolint:errcheck // logged and retried
	info.slowIdx++
	if info.slowIdx >= len(info.slowParams) {
		info.slowIdx = 0
		info.lastSlow = now()
	}
}

// callPollFunc runs one poll read, logging each distinct error once
// and an o.k. line on recovery. Silent communication errors log at
// debug level only.
func (p *Poller) callPollFunc(info *pollInfo, name string) error {
	b := info.mod.Runtime()
	_, _, err := b.ReadParam(name)
	key := info.mod.Name() + ":" + name
	if err == nil {
		if _, ok := info.pendingErrors[key]; ok {
			delete(info.pendingErrors, key)
			p.log.Info("o.k.", "read", key)
		}
		return nil
	}
	metrics.PollErrors.Inc()
	text := err.Error()
	if info.pendingErrors[key] != text {
		info.pendingErrors[key] = text
		if se := errors.AsSECoP(err); se.Silent {
			p.log.Debug("poll failed", "read", key, "err", err)
		} else {
			p.log.Error("poll failed", "read", key, "err", err)
		}
	}
	return err
}

func now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
