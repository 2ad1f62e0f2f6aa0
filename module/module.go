package module

import (
	"context"
	"log/slog"
	"math"
	"reflect"
	"sync"
	"time"

	"github.com/SampleEnvironment/frappy-go/datatype"
	"github.com/SampleEnvironment/frappy-go/errors"
	"github.com/SampleEnvironment/frappy-go/logging"
	"github.com/SampleEnvironment/frappy-go/property"
)

// Config is the flat option map for one module as produced by the
// configuration loader. Keys are property names or accessible names.
type Config map[string]any

// UpdateFunc receives every accepted cache update. The dispatcher
// registers itself here to fan out update messages.
type UpdateFunc func(module string, p *Parameter)

// Module is the interface every SECoP module implements. Base provides
// defaults for the whole lifecycle; concrete modules embed Readable,
// Writable or Drivable and override what they need.
type Module interface {
	Name() string
	// Runtime exposes the shared per-instance state.
	Runtime() *Base

	// EarlyInit opens resources that peer modules may need.
	EarlyInit(ctx context.Context) error
	// InitModule wires attachments and runs final consistency checks.
	InitModule() error
	// StartModule begins I/O; started is called when ready.
	StartModule(started func()) error
	// ShutdownModule releases resources.
	ShutdownModule()

	// DoPoll is invoked at every main poll tick.
	DoPoll()
}

// now returns the wall clock as float64 UNIX seconds, the timestamp
// format used on the wire.
func now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// Base carries the per-instance runtime state of a module: property
// values, cloned accessibles with their caches, the wrapped
// read/write/command paths and the update announcement machinery.
type Base struct {
	name  string
	props *property.Bag
	acc   *accessibleSet
	log   *slog.Logger

	readers  map[string]ReadFunc
	writers  map[string]WriteFunc
	checkers map[string][]CheckFunc
	commands map[string]CommandFunc

	// accessLock serializes client writes against poller reads.
	// Handlers run with it held; nested reads go through ReadNow.
	accessLock sync.Mutex
	// updateLock guards the cache mutation in announce.
	updateLock sync.Mutex

	updates UpdateFunc

	attachments map[string]string // attachment name -> module name
	attachOrder []string
	attached    map[string]Module

	interfaceClasses []string
	features         []string

	cfgErrors []error

	fastMu       sync.Mutex
	fastActive   bool
	fastInterval float64
	pollTrigger  func()
}

// NewBase creates the runtime for a module. The concrete constructor
// adds its accessibles afterwards, then the registry applies the
// configuration.
func NewBase(name string, log *slog.Logger) *Base {
	if log == nil {
		log = logging.Default()
	}
	b := &Base{
		name:        name,
		props:       property.NewBag(),
		acc:         newAccessibleSet(),
		log:         logging.WithModule(log, name),
		readers:     map[string]ReadFunc{},
		writers:     map[string]WriteFunc{},
		checkers:    map[string][]CheckFunc{},
		commands:    map[string]CommandFunc{},
		attachments: map[string]string{},
		attached:    map[string]Module{},
	}
	b.defineModuleProperties()
	return b
}

func (b *Base) defineModuleProperties() {
	b.props.Define(&property.Property{
		Name:        "description",
		Description: "human readable description of the module",
		Datatype:    &datatype.String{MaxChars: 1000, IsUTF8: true},
		Mandatory:   true,
		Export:      true,
	})
	b.props.Define(&property.Property{
		Name:       "group",
		Datatype:   datatype.NewString(0, 100),
		Default:    "",
		HasDefault: true,
		Export:     true,
	})
	b.props.Define(&property.Property{
		Name:       "visibility",
		Datatype:   datatype.NewString(0, 20),
		Default:    VisibilityUser,
		HasDefault: true,
		Export:     true,
	})
	b.props.Define(&property.Property{
		Name:        "meaning",
		Description: "tuple (importance, quantity) of this module within the setup",
		Datatype:    &datatype.ValueType{},
		Export:      true,
	})
	b.props.Define(&property.Property{
		Name:       "pollinterval",
		Datatype:   datatype.NewFloat(0.1, 120),
		Default:    5.0,
		HasDefault: true,
	})
	b.props.Define(&property.Property{
		Name:       "slowinterval",
		Datatype:   datatype.NewFloat(0.1, 600),
		Default:    15.0,
		HasDefault: true,
	})
	b.props.Define(&property.Property{
		Name:       "omit_unchanged_within",
		Datatype:   datatype.NewFloat(0, 60),
		Default:    0.1,
		HasDefault: true,
	})
}

// Name returns the module name.
func (b *Base) Name() string { return b.name }

// Runtime returns b itself; embedding modules inherit this.
func (b *Base) Runtime() *Base { return b }

// Log returns the module-scoped logger.
func (b *Base) Log() *slog.Logger { return b.log }

// Properties exposes the module property bag.
func (b *Base) Properties() *property.Bag { return b.props }

// Default lifecycle: nothing to do.

func (b *Base) EarlyInit(ctx context.Context) error { return nil }

func (b *Base) InitModule() error { return nil }

func (b *Base) StartModule(started func()) error {
	if started != nil {
		started()
	}
	return nil
}

func (b *Base) ShutdownModule() {}

// DoPoll is the default main poll: read value, then status.
func (b *Base) DoPoll() {
	for _, name := range []string{"value", "status"} {
		if b.readers[name] != nil {
			b.ReadParam(name) //nolint:errcheck // announce path records the error
		}
	}
}

// AddParameter registers a parameter descriptor. A same-named existing
// parameter is merged, not replaced (the datatype may narrow, the
// description may change, other properties inherit).
func (b *Base) AddParameter(p *Parameter, opts ...ParamOption) {
	if existing := b.acc.param(p.Name); existing != nil {
		if err := existing.merge(p); err != nil {
			b.cfgErrors = append(b.cfgErrors, err)
		}
	} else {
		if p.Visibility == "" {
			p.Visibility = VisibilityUser
		}
		b.acc.add(p.Name, p)
	}
	for _, opt := range opts {
		opt(b, p.Name)
	}
}

// AddCommand registers a command descriptor and its implementation.
func (b *Base) AddCommand(c *Command, fn CommandFunc) {
	if existing := b.acc.command(c.Name); existing != nil {
		existing.merge(c)
	} else {
		if c.Datatype == nil {
			c.Datatype = &datatype.CommandType{}
		}
		b.acc.add(c.Name, c)
	}
	if fn != nil {
		b.commands[c.Name] = fn
	}
}

// RemoveAccessible drops an optional inherited accessible.
func (b *Base) RemoveAccessible(name string) {
	b.acc.remove(name)
	delete(b.readers, name)
	delete(b.writers, name)
	delete(b.checkers, name)
	delete(b.commands, name)
}

// ParamOption attaches a handler to a parameter at registration.
type ParamOption func(b *Base, name string)

// WithRead sets the hardware read handler.
func WithRead(r ReadFunc) ParamOption {
	return func(b *Base, name string) { b.readers[name] = r }
}

// WithWrite sets the hardware write handler.
func WithWrite(w WriteFunc) ParamOption {
	return func(b *Base, name string) { b.writers[name] = w }
}

// WithCheck appends a check to the parameter's check chain.
func WithCheck(c CheckFunc) ParamOption {
	return func(b *Base, name string) { b.checkers[name] = append(b.checkers[name], c) }
}

// Attach declares an attachment slot resolved by the registry in the
// second init phase.
func (b *Base) Attach(slot string) {
	if _, ok := b.attachments[slot]; !ok {
		b.attachOrder = append(b.attachOrder, slot)
	}
	b.attachments[slot] = ""
}

// Attached returns the resolved module of an attachment slot.
func (b *Base) Attached(slot string) Module {
	return b.attached[slot]
}

// AttachmentSlots returns the declared attachment slot names in
// declaration order.
func (b *Base) AttachmentSlots() []string {
	return append([]string(nil), b.attachOrder...)
}

// Parameter returns the descriptor for name, or nil.
func (b *Base) Parameter(name string) *Parameter {
	return b.acc.param(name)
}

// Command returns the descriptor for name, or nil.
func (b *Base) Command(name string) *Command {
	return b.acc.command(name)
}

// ParameterNames returns the exported parameter names in canonical
// order.
func (b *Base) ParameterNames() []string {
	var out []string
	for _, name := range b.acc.names() {
		if p := b.acc.param(name); p != nil && p.exported() {
			out = append(out, name)
		}
	}
	return out
}

// GivenParams returns the names of writable parameters with a
// configured startup value, in canonical order.
func (b *Base) GivenParams() []string {
	var out []string
	for _, name := range b.acc.names() {
		if p := b.acc.param(name); p != nil && p.given && p.writable() {
			out = append(out, name)
		}
	}
	return out
}

// HasReader reports whether a hardware read handler exists for name.
func (b *Base) HasReader(name string) bool {
	return b.readers[name] != nil
}

// SetUpdateFunc registers the dispatcher callback receiving accepted
// cache updates.
func (b *Base) SetUpdateFunc(f UpdateFunc) {
	b.updates = f
}

// PollInterval returns the configured main poll interval in seconds.
func (b *Base) PollInterval() float64 { return b.props.GetFloat("pollinterval") }

// SlowInterval returns the configured slow poll interval in seconds.
func (b *Base) SlowInterval() float64 { return b.props.GetFloat("slowinterval") }

// SetFastPoll switches the main poll to interval seconds until
// cleared. Used by drivables while busy.
func (b *Base) SetFastPoll(active bool, interval float64) {
	b.fastMu.Lock()
	b.fastActive = active
	b.fastInterval = interval
	trigger := b.pollTrigger
	b.fastMu.Unlock()
	if active && trigger != nil {
		trigger()
	}
}

// FastPoll returns the current fast poll override.
func (b *Base) FastPoll() (active bool, interval float64) {
	b.fastMu.Lock()
	defer b.fastMu.Unlock()
	return b.fastActive, b.fastInterval
}

// SetPollTrigger registers the poller wakeup.
func (b *Base) SetPollTrigger(f func()) {
	b.fastMu.Lock()
	b.pollTrigger = f
	b.fastMu.Unlock()
}

// IsBusy reports whether the cached status is within [BUSY, ERROR).
func (b *Base) IsBusy() bool {
	p := b.acc.param("status")
	if p == nil || !p.hasValue {
		return false
	}
	return datatype.IsBusyCode(datatype.StatusCode(p.value))
}

// ReadParam runs the wrapped read path for a parameter: call the
// hardware read handler if one exists, validate, announce and return
// the cached result. Without a handler the cached value is returned
// without I/O.
func (b *Base) ReadParam(name string) (any, float64, error) {
	b.accessLock.Lock()
	defer b.accessLock.Unlock()
	return b.ReadNow(name)
}

// ReadNow is ReadParam without taking the access lock. It must only be
// called from within a read/write/command handler, where the lock is
// already held.
func (b *Base) ReadNow(name string) (any, float64, error) {
	p := b.acc.param(name)
	if p == nil {
		return nil, 0, errors.NoSuchParameter(b.name, name)
	}
	r := b.readers[name]
	if r == nil {
		if !p.hasValue {
			// cache entry born from the declared default
			b.announce(name, b.initialValue(p), nil, 0, true)
		}
		return p.value, p.timestamp, nil
	}
	v, err := r()
	if err != nil {
		b.announce(name, nil, err, 0, false)
		return nil, 0, errors.AsSECoP(err)
	}
	if aerr := b.announce(name, v, nil, 0, true); aerr != nil {
		return nil, 0, aerr
	}
	return p.value, p.timestamp, nil
}

func (b *Base) initialValue(p *Parameter) any {
	if p.HasConstant {
		return p.Constant
	}
	if p.HasDefault {
		return p.Default
	}
	return p.Datatype.Default()
}

// WriteParam runs the wrapped write path: validate, run the check
// chain, call the hardware write handler, announce the final value.
// The readback update is announced before this returns, so the
// dispatcher emits it before the changed reply.
func (b *Base) WriteParam(name string, v any) (any, float64, error) {
	b.accessLock.Lock()
	defer b.accessLock.Unlock()
	return b.WriteNow(name, v)
}

// WriteNow is WriteParam without taking the access lock; for use from
// within handlers.
func (b *Base) WriteNow(name string, v any) (any, float64, error) {
	p := b.acc.param(name)
	if p == nil {
		return nil, 0, errors.NoSuchParameter(b.name, name)
	}
	if !p.writable() {
		return nil, 0, errors.ReadOnly(b.name, name)
	}
	v, err := p.Datatype.Validate(v)
	if err != nil {
		return nil, 0, errors.AsSECoP(err)
	}
	for _, check := range b.checkers[name] {
		done, err := check(v)
		if err != nil {
			return nil, 0, errors.AsSECoP(err)
		}
		if done {
			break
		}
	}
	if w := b.writers[name]; w != nil {
		outcome, err := w(v)
		if err != nil {
			b.announce(name, nil, err, 0, false)
			return nil, 0, errors.AsSECoP(err)
		}
		switch outcome.kind {
		case outcomeValue:
			v = outcome.value
		case outcomeDone:
			// setter already fired; announce the current cache
			v = p.value
		}
	}
	if aerr := b.announce(name, v, nil, 0, true); aerr != nil {
		return nil, 0, aerr
	}
	return p.value, p.timestamp, nil
}

// DoCommand validates the argument, invokes the command and validates
// the result through the result type.
func (b *Base) DoCommand(name string, arg any) (any, float64, error) {
	b.accessLock.Lock()
	defer b.accessLock.Unlock()
	c := b.acc.command(name)
	if c == nil {
		return nil, 0, errors.NoSuchCommand(b.name, name)
	}
	arg, err := c.Datatype.Validate(arg)
	if err != nil {
		return nil, 0, errors.AsSECoP(err)
	}
	fn := b.commands[name]
	if fn == nil {
		return nil, 0, errors.New(errors.KindCommandFailed, "%s:%s is not implemented", b.name, name)
	}
	res, err := fn(arg)
	if err != nil {
		return nil, 0, errors.AsSECoP(err)
	}
	res, err = c.Datatype.ValidateResult(res)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.KindInternal, "%s:%s returned an invalid result", b.name, name)
	}
	if c.Datatype.Result != nil {
		res = c.Datatype.Result.Export(res)
	}
	return res, now(), nil
}

// AnnounceUpdate is the single entry point mutating cache state. A
// zero timestamp means now; future timestamps are clamped to now.
func (b *Base) AnnounceUpdate(name string, value any, err error, timestamp float64) {
	b.announce(name, value, err, timestamp, true) //nolint:errcheck
}

// SetStatus announces a new status tuple.
func (b *Base) SetStatus(code int64, text string) {
	b.announce("status", datatype.Status(code, text), nil, 0, true) //nolint:errcheck
}

func (b *Base) announce(name string, value any, err error, timestamp float64, validate bool) error {
	p := b.acc.param(name)
	if p == nil {
		return errors.NoSuchParameter(b.name, name)
	}
	b.updateLock.Lock()
	defer b.updateLock.Unlock()

	ts := timestamp
	wall := now()
	if ts <= 0 || ts > wall {
		ts = wall
	}

	if err != nil {
		// identical repeated errors are a no-op, preventing floods
		if errors.SameError(p.readErr, err) {
			return nil
		}
		p.readErr = errors.AsSECoP(err)
		p.timestamp = ts
		b.emit(p)
		return nil
	}

	if validate {
		valid, verr := p.Datatype.Validate(value)
		if verr != nil {
			return errors.AsSECoP(verr)
		}
		value = valid
	}

	changed := !p.hasValue || p.readErr != nil || !reflect.DeepEqual(p.value, value)
	if !changed && ts-p.timestamp < b.omitWindow(p) {
		return nil
	}
	p.value = value
	p.hasValue = true
	p.readErr = nil
	p.timestamp = ts
	b.emit(p)
	return nil
}

// omitWindow resolves the effective unchanged-update suppression
// window for a parameter.
func (b *Base) omitWindow(p *Parameter) float64 {
	switch p.UpdateUnchanged.Mode {
	case UpdateUnchangedAlways:
		return 0
	case UpdateUnchangedNever:
		return math.Inf(1)
	case UpdateUnchangedWithin:
		return p.UpdateUnchanged.Within
	}
	return b.props.GetFloat("omit_unchanged_within")
}

func (b *Base) emit(p *Parameter) {
	if b.updates != nil {
		b.updates(b.name, p)
	}
}

// ApplyConfig consumes the option map: property names set properties,
// accessible names set startup values (bare form) or inner accessible
// properties (map form). Errors are collected so the node can emit a
// consolidated report.
func (b *Base) ApplyConfig(cfg Config) {
	for key, raw := range cfg {
		if key == "class" {
			continue
		}
		if _, ok := b.attachments[key]; ok {
			target, ok := raw.(string)
			if !ok {
				b.cfgErrors = append(b.cfgErrors, errors.Config("%s: attachment %q needs a module name", b.name, key))
				continue
			}
			b.attachments[key] = target
			continue
		}
		if b.props.Has(key) {
			if err := b.props.Set(key, raw); err != nil {
				b.cfgErrors = append(b.cfgErrors, errors.Wrap(err, errors.KindConfig, "%s", b.name))
			}
			continue
		}
		if p := b.acc.param(key); p != nil {
			if inner, ok := raw.(map[string]any); ok {
				for ik, iv := range inner {
					if err := b.setParamProperty(p, ik, iv); err != nil {
						b.cfgErrors = append(b.cfgErrors, err)
					}
				}
			} else if err := b.setParamValue(p, raw); err != nil {
				b.cfgErrors = append(b.cfgErrors, err)
			}
			continue
		}
		if b.acc.command(key) != nil {
			b.cfgErrors = append(b.cfgErrors, errors.Config("%s: command %q can not be configured", b.name, key))
			continue
		}
		b.cfgErrors = append(b.cfgErrors, errors.Config("%s: unknown option %q", b.name, key))
	}
}

func (b *Base) setParamValue(p *Parameter, raw any) error {
	v, err := p.Datatype.Validate(raw)
	if err != nil {
		return errors.Wrap(err, errors.KindConfig, "%s:%s", b.name, p.Name)
	}
	p.value = v
	p.hasValue = true
	p.timestamp = now()
	p.given = true
	return nil
}

// setParamProperty handles the map form of an accessible option,
// forwarding datatype properties like unit or min/max to the
// parameter's datatype.
func (b *Base) setParamProperty(p *Parameter, key string, raw any) error {
	wrongType := func() error {
		return errors.Config("%s:%s: invalid value for %q", b.name, p.Name, key)
	}
	switch key {
	case "value":
		return b.setParamValue(p, raw)
	case "default":
		v, err := p.Datatype.Validate(raw)
		if err != nil {
			return errors.Wrap(err, errors.KindConfig, "%s:%s default", b.name, p.Name)
		}
		p.Default = v
		p.HasDefault = true
		return nil
	case "description":
		s, ok := raw.(string)
		if !ok {
			return wrongType()
		}
		p.Description = s
		return nil
	case "group":
		s, ok := raw.(string)
		if !ok {
			return wrongType()
		}
		p.Group = s
		return nil
	case "visibility":
		s, ok := raw.(string)
		if !ok {
			return wrongType()
		}
		p.Visibility = s
		return nil
	case "unit":
		s, ok := raw.(string)
		if !ok {
			return wrongType()
		}
		switch dt := p.Datatype.(type) {
		case *datatype.Float:
			dt.Unit = s
		case *datatype.Scaled:
			dt.Unit = s
		default:
			return errors.Config("%s:%s has no unit", b.name, p.Name)
		}
		return nil
	case "fmtstr":
		s, ok := raw.(string)
		if !ok {
			return wrongType()
		}
		switch dt := p.Datatype.(type) {
		case *datatype.Float:
			dt.FmtStr = s
		case *datatype.Scaled:
			dt.FmtStr = s
		default:
			return errors.Config("%s:%s has no fmtstr", b.name, p.Name)
		}
		return nil
	case "min", "max":
		f, ok := asFloat(raw)
		if !ok {
			return wrongType()
		}
		switch dt := p.Datatype.(type) {
		case *datatype.Float:
			if key == "min" {
				dt.Min = f
			} else {
				dt.Max = f
			}
		case *datatype.Scaled:
			if key == "min" {
				dt.Min = f
			} else {
				dt.Max = f
			}
		case *datatype.Int:
			if key == "min" {
				dt.Min = int64(f)
			} else {
				dt.Max = int64(f)
			}
		default:
			return errors.Config("%s:%s has no numeric range", b.name, p.Name)
		}
		return nil
	case "readonly":
		v, ok := raw.(bool)
		if !ok {
			return wrongType()
		}
		p.Readonly = v
		return nil
	case "constant":
		v, err := p.Datatype.Validate(raw)
		if err != nil {
			return errors.Wrap(err, errors.KindConfig, "%s:%s constant", b.name, p.Name)
		}
		p.Constant = v
		p.HasConstant = true
		return nil
	case "influences":
		items, ok := raw.([]any)
		if !ok {
			if names, sok := raw.([]string); sok {
				p.Influences = append([]string(nil), names...)
				return nil
			}
			return wrongType()
		}
		names := make([]string, len(items))
		for i, item := range items {
			s, sok := item.(string)
			if !sok {
				return wrongType()
			}
			names[i] = s
		}
		p.Influences = names
		return nil
	case "update_unchanged":
		switch v := raw.(type) {
		case string:
			switch v {
			case "always":
				p.UpdateUnchanged = UpdateUnchanged{Mode: UpdateUnchangedAlways}
			case "never":
				p.UpdateUnchanged = UpdateUnchanged{Mode: UpdateUnchangedNever}
			default:
				return wrongType()
			}
			return nil
		default:
			f, ok := asFloat(raw)
			if !ok || f < 0 {
				return wrongType()
			}
			p.UpdateUnchanged = UpdateUnchanged{Mode: UpdateUnchangedWithin, Within: f}
			return nil
		}
	}
	return errors.Config("%s:%s: unknown property %q", b.name, p.Name, key)
}

// FinishInit completes construction: limit checks are installed, the
// main unit is substituted and all properties are checked. The
// accumulated configuration errors are consolidated into one
// ConfigError.
func (b *Base) FinishInit() error {
	b.installLimitChecks()
	b.applyMainUnit()
	errs := append([]error(nil), b.cfgErrors...)
	errs = append(errs, b.props.Check()...)
	for _, name := range b.acc.names() {
		p := b.acc.param(name)
		if p == nil {
			continue
		}
		if p.Datatype == nil {
			errs = append(errs, errors.Config("%s:%s has no datatype", b.name, name))
			continue
		}
		if p.NeedsCfg && !p.given {
			errs = append(errs, errors.Config("%s:%s needs a configured value", b.name, name))
		}
		if p.HasDefault {
			if _, err := p.Datatype.Validate(p.Default); err != nil {
				errs = append(errs, errors.Wrap(err, errors.KindConfig, "%s:%s default", b.name, name))
			}
		}
	}
	if len(errs) == 0 {
		return nil
	}
	report := ""
	for i, e := range errs {
		if i > 0 {
			report += "; "
		}
		report += e.Error()
	}
	return errors.Config("%s: %s", b.name, report)
}

// applyMainUnit substitutes "$" in member units with the unit of the
// value parameter.
func (b *Base) applyMainUnit() {
	p := b.acc.param("value")
	if p == nil {
		return
	}
	var main string
	switch dt := p.Datatype.(type) {
	case *datatype.Float:
		main = dt.Unit
	case *datatype.Scaled:
		main = dt.Unit
	}
	if main == "" || main == "$" {
		return
	}
	for _, name := range b.acc.names() {
		if q := b.acc.param(name); q != nil && q != p {
			q.Datatype.SetMainUnit(main)
		} else if c := b.acc.command(name); c != nil {
			c.Datatype.SetMainUnit(main)
		}
	}
}

// installLimitChecks synthesizes the default range check for every
// parameter X with a companion X_min/X_max/X_limits parameter.
func (b *Base) installLimitChecks() {
	for _, name := range append([]string(nil), b.acc.order...) {
		base, kind := limitBase(name)
		if kind == "" {
			continue
		}
		limit := b.acc.param(name)
		target := b.acc.param(base)
		if limit == nil || target == nil || !target.writable() {
			continue
		}
		b.completeLimit(limit, target, kind)
	}
	for _, name := range b.acc.order {
		target := b.acc.param(name)
		if target == nil || !target.writable() {
			continue
		}
		minP := b.acc.param(name + "_min")
		maxP := b.acc.param(name + "_max")
		limP := b.acc.param(name + "_limits")
		if minP == nil && maxP == nil && limP == nil {
			continue
		}
		pname := name
		b.checkers[pname] = append(b.checkers[pname], func(v any) (bool, error) {
			return false, b.checkLimits(pname, v, minP, maxP, limP)
		})
	}
}

// limitBase splits "X_min" into ("X", "min") etc.
func limitBase(name string) (base, kind string) {
	for _, suffix := range []string{"_min", "_max", "_limits"} {
		if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
			return name[:len(name)-len(suffix)], suffix[1:]
		}
	}
	return "", ""
}

// completeLimit fills a limit parameter's datatype and default from
// the range of its base parameter.
func (b *Base) completeLimit(limit, target *Parameter, kind string) {
	lo, hi := numericRange(target.Datatype)
	if limit.Datatype == nil {
		if kind == "limits" {
			limit.Datatype = datatype.NewTuple(target.Datatype.Clone(), target.Datatype.Clone())
		} else {
			limit.Datatype = target.Datatype.Clone()
		}
	}
	if !limit.HasDefault {
		switch kind {
		case "min":
			limit.Default = lo
		case "max":
			limit.Default = hi
		case "limits":
			limit.Default = []any{lo, hi}
		}
		limit.HasDefault = true
	}
	if limit.Description == "" {
		limit.Description = kind + " limit for " + target.Name
	}
}

// checkLimits enforces I5: reject writes outside the configured
// limits.
func (b *Base) checkLimits(name string, v any, minP, maxP, limP *Parameter) error {
	f, ok := asFloat(v)
	if !ok {
		return nil // non-numeric targets are not limit checked
	}
	lo, hi := math.Inf(-1), math.Inf(1)
	if limP != nil {
		if tup, ok := b.limitValue(limP).([]any); ok && len(tup) == 2 {
			if x, ok := asFloat(tup[0]); ok {
				lo = x
			}
			if x, ok := asFloat(tup[1]); ok {
				hi = x
			}
		}
	}
	if minP != nil {
		if x, ok := asFloat(b.limitValue(minP)); ok {
			lo = x
		}
	}
	if maxP != nil {
		if x, ok := asFloat(b.limitValue(maxP)); ok {
			hi = x
		}
	}
	if f < lo || f > hi {
		return errors.RangeError("%s:%s: %v outside [%v, %v]", b.name, name, v, lo, hi)
	}
	return nil
}

func (b *Base) limitValue(p *Parameter) any {
	if p.hasValue {
		return p.value
	}
	if p.HasDefault {
		return p.Default
	}
	return nil
}

// Describe assembles the descriptive data of this module.
func (b *Base) Describe() map[string]any {
	accessibles := map[string]any{}
	for _, name := range b.acc.names() {
		a := b.acc.items[name]
		if !a.exported() {
			continue
		}
		accessibles[a.exportName()] = a.describe()
	}
	d := b.props.Export()
	d["accessibles"] = accessibles
	if len(b.interfaceClasses) > 0 {
		classes := make([]any, len(b.interfaceClasses))
		for i, c := range b.interfaceClasses {
			classes[i] = c
		}
		d["interface_classes"] = classes
	}
	if len(b.features) > 0 {
		features := make([]any, len(b.features))
		for i, f := range b.features {
			features[i] = f
		}
		d["features"] = features
	}
	return d
}

// addInterfaceClass records the most-derived interface class first.
func (b *Base) addInterfaceClass(name string) {
	b.interfaceClasses = append([]string{name}, b.interfaceClasses...)
}

// AddFeature advertises a SECoP feature.
func (b *Base) AddFeature(name string) {
	b.features = append(b.features, name)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}
