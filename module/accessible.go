// Package module implements the SECoP module runtime: accessibles
// (parameters and commands), the per-instance cache, the update
// announcement path and the module registry.
package module

import (
	"sort"

	"github.com/SampleEnvironment/frappy-go/datatype"
	"github.com/SampleEnvironment/frappy-go/errors"
)

// Visibility levels of accessibles and modules.
const (
	VisibilityUser     = "user"
	VisibilityAdvanced = "advanced"
	VisibilityExpert   = "expert"
)

// predefinedOrder lists the standard accessibles in their canonical
// export order. Accessibles not in this list append in declaration
// order after the predefined ones.
var predefinedOrder = []string{
	"value", "status", "target", "pollinterval", "ramp", "use_ramp",
	"setpoint", "time_to_target", "controlled_by", "control_active",
	"unit", "loglevel", "mode", "ctrlpars", "stop", "reset", "go",
	"abort", "shutdown", "communicate",
}

var predefinedIndex = func() map[string]int {
	m := map[string]int{}
	for i, name := range predefinedOrder {
		m[name] = i
	}
	return m
}()

// UpdateUnchangedMode controls when unchanged values are re-announced.
type UpdateUnchangedMode int

const (
	// UpdateUnchangedDefault uses the module's omit_unchanged_within.
	UpdateUnchangedDefault UpdateUnchangedMode = iota
	// UpdateUnchangedAlways re-announces every unchanged value.
	UpdateUnchangedAlways
	// UpdateUnchangedNever suppresses all unchanged announcements.
	UpdateUnchangedNever
	// UpdateUnchangedWithin suppresses unchanged announcements closer
	// together than Within seconds.
	UpdateUnchangedWithin
)

// UpdateUnchanged is the update_unchanged parameter property.
type UpdateUnchanged struct {
	Mode   UpdateUnchangedMode
	Within float64
}

// Parameter describes a named, typed, cached value with optional
// writability. The cached state (value, timestamp, read error) lives
// on the per-instance clone.
type Parameter struct {
	Name        string
	Description string
	Datatype    datatype.Datatype
	Readonly    bool
	Group       string
	Visibility  string
	// Constant makes the parameter truly read-only with a fixed value.
	Constant    any
	HasConstant bool
	// Default is the initial value; distinguished from the datatype
	// default by HasDefault.
	Default    any
	HasDefault bool
	// NoExport hides the parameter from descriptive data; ExportName
	// overrides the exported name (default: Name).
	NoExport   bool
	ExportName string
	// NeedsCfg requires a configured value.
	NeedsCfg        bool
	UpdateUnchanged UpdateUnchanged
	// Influences lists parameters whose value may change as a side
	// effect of writing this one.
	Influences []string

	// cached state, per module instance
	value     any
	hasValue  bool
	timestamp float64
	readErr   error
	given     bool
}

// Cache returns the cached value, its timestamp and the read error.
func (p *Parameter) Cache() (value any, timestamp float64, err error) {
	return p.value, p.timestamp, p.readErr
}

// HasValue reports whether the cache entry was born already.
func (p *Parameter) HasValue() bool { return p.hasValue }

// Given reports whether the configuration provided a startup value.
func (p *Parameter) Given() bool { return p.given }

func (p *Parameter) exportName() string {
	if p.ExportName != "" {
		return p.ExportName
	}
	return p.Name
}

func (p *Parameter) exported() bool { return !p.NoExport }

// writable reports whether write requests are allowed.
func (p *Parameter) writable() bool {
	return !p.Readonly && !p.HasConstant
}

func (p *Parameter) describe() map[string]any {
	d := map[string]any{
		"description": p.Description,
		"datainfo":    p.Datatype.Info(),
		"readonly":    !p.writable(),
	}
	if p.Group != "" {
		d["group"] = p.Group
	}
	if p.Visibility != "" && p.Visibility != VisibilityUser {
		d["visibility"] = p.Visibility
	}
	if p.HasConstant {
		d["constant"] = p.Datatype.Export(p.Constant)
	}
	if len(p.Influences) > 0 {
		inf := make([]any, len(p.Influences))
		for i, name := range p.Influences {
			inf[i] = name
		}
		d["influences"] = inf
	}
	return d
}

// merge folds an overriding definition into p, keeping unset fields.
// The datatype may narrow: the new type must be compatible with the
// inherited one.
func (p *Parameter) merge(over *Parameter) error {
	if over.Description != "" {
		p.Description = over.Description
	}
	if over.Datatype != nil {
		if p.Datatype != nil {
			if err := over.Datatype.CompatibleWith(p.Datatype); err != nil {
				return errors.Wrap(err, errors.KindConfig, "parameter %s datatype may only narrow", p.Name)
			}
		}
		p.Datatype = over.Datatype
	}
	if over.Group != "" {
		p.Group = over.Group
	}
	if over.Visibility != "" {
		p.Visibility = over.Visibility
	}
	if over.HasConstant {
		p.Constant = over.Constant
		p.HasConstant = true
	}
	if over.HasDefault {
		p.Default = over.Default
		p.HasDefault = true
	}
	if over.ExportName != "" {
		p.ExportName = over.ExportName
	}
	p.Readonly = p.Readonly || over.Readonly
	p.NoExport = p.NoExport || over.NoExport
	p.NeedsCfg = p.NeedsCfg || over.NeedsCfg
	if over.UpdateUnchanged.Mode != UpdateUnchangedDefault {
		p.UpdateUnchanged = over.UpdateUnchanged
	}
	if len(over.Influences) > 0 {
		p.Influences = over.Influences
	}
	return nil
}

// Command describes a named, typed RPC endpoint on a module.
type Command struct {
	Name        string
	Description string
	Datatype    *datatype.CommandType
	Group       string
	Visibility  string
	NoExport    bool
	ExportName  string
}

func (c *Command) exportName() string {
	if c.ExportName != "" {
		return c.ExportName
	}
	return c.Name
}

func (c *Command) exported() bool { return !c.NoExport }

func (c *Command) describe() map[string]any {
	d := map[string]any{
		"description": c.Description,
		"datainfo":    c.Datatype.Info(),
	}
	if c.Group != "" {
		d["group"] = c.Group
	}
	if c.Visibility != "" && c.Visibility != VisibilityUser {
		d["visibility"] = c.Visibility
	}
	return d
}

func (c *Command) merge(over *Command) {
	if over.Description != "" {
		c.Description = over.Description
	}
	if over.Datatype != nil {
		c.Datatype = over.Datatype
	}
	if over.Group != "" {
		c.Group = over.Group
	}
	if over.Visibility != "" {
		c.Visibility = over.Visibility
	}
	if over.ExportName != "" {
		c.ExportName = over.ExportName
	}
	c.NoExport = c.NoExport || over.NoExport
}

// accessible is the closed union of Parameter and Command.
type accessible interface {
	exportName() string
	exported() bool
	describe() map[string]any
}

// accessibleSet holds accessibles keyed by name, remembering the
// declaration order.
type accessibleSet struct {
	order []string
	items map[string]accessible
}

func newAccessibleSet() *accessibleSet {
	return &accessibleSet{items: map[string]accessible{}}
}

func (s *accessibleSet) add(name string, a accessible) {
	if _, ok := s.items[name]; !ok {
		s.order = append(s.order, name)
	}
	s.items[name] = a
}

func (s *accessibleSet) remove(name string) {
	if _, ok := s.items[name]; !ok {
		return
	}
	delete(s.items, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *accessibleSet) param(name string) *Parameter {
	p, _ := s.items[name].(*Parameter)
	return p
}

func (s *accessibleSet) command(name string) *Command {
	c, _ := s.items[name].(*Command)
	return c
}

// names returns all accessible names: predefined ones first in their
// canonical order, then the rest in declaration order.
func (s *accessibleSet) names() []string {
	out := append([]string(nil), s.order...)
	sort.SliceStable(out, func(i, j int) bool {
		pi, iok := predefinedIndex[out[i]]
		pj, jok := predefinedIndex[out[j]]
		switch {
		case iok && jok:
			return pi < pj
		case iok:
			return true
		case jok:
			return false
		}
		return false // stable: keep declaration order
	})
	return out
}

// WriteOutcome is the explicit result of a write handler, replacing
// the Done sentinel of older implementations.
type WriteOutcome struct {
	kind  int
	value any
}

const (
	outcomeUnchanged = iota
	outcomeValue
	outcomeDone
)

// WriteValue reports that the handler adjusted the written value; the
// returned value replaces it.
func WriteValue(v any) WriteOutcome { return WriteOutcome{kind: outcomeValue, value: v} }

// Done reports that the setter already fired: the cached value is
// announced instead of the written one.
var Done = WriteOutcome{kind: outcomeDone}

// Unchanged reports that the written value is to be kept as is.
var Unchanged = WriteOutcome{kind: outcomeUnchanged}

// Handler signatures used by the read/write/command wrappers.
type (
	// ReadFunc reads a parameter from the hardware.
	ReadFunc func() (any, error)
	// WriteFunc writes a parameter to the hardware.
	WriteFunc func(v any) (WriteOutcome, error)
	// CheckFunc vets a value before writing; returning done stops the
	// remaining checks in the chain.
	CheckFunc func(v any) (done bool, err error)
	// CommandFunc executes a command with a validated argument.
	CommandFunc func(arg any) (any, error)
)
