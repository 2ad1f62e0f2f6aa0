// Package property implements typed, inheritable metadata attached to
// datatypes, parameters, commands and modules.
//
// A Property is a descriptor validated against its own datatype. A Bag
// is an ordered set of properties plus their per-instance values; bags
// are cloned per module instance, so configured overrides never touch
// the class-level definitions.
package property

import (
	"reflect"
	"strings"
	"sync"

	"github.com/SampleEnvironment/frappy-go/datatype"
	"github.com/SampleEnvironment/frappy-go/errors"
)

// Property is a single metadata descriptor.
type Property struct {
	// Name is the external name of the property.
	Name string
	// Description documents the property.
	Description string
	// Datatype validates assigned values.
	Datatype datatype.Datatype
	// Default applies when no value is given. Only meaningful with
	// HasDefault set.
	Default    any
	HasDefault bool
	// Export includes the property in descriptive data.
	Export bool
	// Mandatory requires a configured value.
	Mandatory bool
	// Settable allows changes after init (e.g. via logging requests).
	Settable bool
}

// Bag holds properties and their values in declaration order. Values
// may be read by the poll loop while a client request writes a
// settable property, so access is guarded.
type Bag struct {
	mu     sync.RWMutex
	order  []string
	props  map[string]*Property
	values map[string]any
	given  map[string]bool
}

// NewBag creates an empty property bag.
func NewBag() *Bag {
	return &Bag{
		props:  map[string]*Property{},
		values: map[string]any{},
		given:  map[string]bool{},
	}
}

// Define adds a property. A same-named property is merged, not
// replaced: non-zero fields of the new definition override, the rest
// inherits. This mirrors property inheritance across base classes.
func (b *Bag) Define(p *Property) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.props[p.Name]; ok {
		merged := *old
		if p.Description != "" {
			merged.Description = p.Description
		}
		if p.Datatype != nil {
			merged.Datatype = p.Datatype
		}
		if p.HasDefault {
			merged.Default = p.Default
			merged.HasDefault = true
		}
		merged.Export = merged.Export || p.Export
		merged.Mandatory = merged.Mandatory || p.Mandatory
		merged.Settable = merged.Settable || p.Settable
		b.props[p.Name] = &merged
		return
	}
	b.props[p.Name] = p
	b.order = append(b.order, p.Name)
}

// Has reports whether the bag defines key.
func (b *Bag) Has(key string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.props[key]
	return ok
}

// Keys returns the property names in declaration order.
func (b *Bag) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.order...)
}

// Set validates and stores a value for key.
func (b *Bag) Set(key string, v any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.props[key]
	if !ok {
		return errors.Config("unknown property %q", key)
	}
	if p.Datatype != nil {
		valid, err := p.Datatype.Validate(v)
		if err != nil {
			return errors.Wrap(err, errors.KindConfig, "property %q", key)
		}
		v = valid
	}
	b.values[key] = v
	b.given[key] = true
	return nil
}

// Get returns the value of key, falling back to the default.
func (b *Bag) Get(key string) any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.get(key)
}

// get is Get without locking. Caller holds mu.
func (b *Bag) get(key string) any {
	if v, ok := b.values[key]; ok {
		return v
	}
	if p, ok := b.props[key]; ok && p.HasDefault {
		return p.Default
	}
	return nil
}

// GetString returns a string-typed property value.
func (b *Bag) GetString(key string) string {
	s, _ := b.Get(key).(string)
	return s
}

// GetFloat returns a numeric property value as float64.
func (b *Bag) GetFloat(key string) float64 {
	switch n := b.Get(key).(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}

// Given reports whether key was explicitly set.
func (b *Bag) Given(key string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.given[key]
}

// Check enforces mandatory-without-value errors and min <= max for any
// paired min*/max* properties. All violations are collected.
func (b *Bag) Check() []error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var errs []error
	for _, name := range b.order {
		p := b.props[name]
		if p.Mandatory && !p.HasDefault && !b.given[name] {
			errs = append(errs, errors.Config("mandatory property %q not given", name))
		}
	}
	for _, name := range b.order {
		if !strings.HasPrefix(name, "min") {
			continue
		}
		maxName := "max" + name[3:]
		if _, ok := b.props[maxName]; !ok {
			continue
		}
		lo, hi := b.get(name), b.get(maxName)
		flo, okLo := toFloat(lo)
		fhi, okHi := toFloat(hi)
		if okLo && okHi && flo > fhi {
			errs = append(errs, errors.Config("%s (%v) greater than %s (%v)", name, lo, maxName, hi))
		}
	}
	return errs
}

// Export emits the subset of exported properties whose value is given,
// mandatory, or differs from the default.
func (b *Bag) Export() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := map[string]any{}
	for _, name := range b.order {
		p := b.props[name]
		if !p.Export {
			continue
		}
		v := b.get(name)
		if !p.Mandatory && !b.given[name] && reflect.DeepEqual(v, p.Default) {
			continue
		}
		if p.Datatype != nil {
			out[name] = p.Datatype.Export(v)
		} else {
			out[name] = v
		}
	}
	return out
}

// Clone returns an independent copy sharing the descriptors but not
// the values.
func (b *Bag) Clone() *Bag {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c := NewBag()
	c.order = append(c.order, b.order...)
	for name, p := range b.props {
		cp := *p
		if p.Datatype != nil {
			cp.Datatype = p.Datatype.Clone()
		}
		c.props[name] = &cp
	}
	for name, v := range b.values {
		c.values[name] = v
	}
	for name, g := range b.given {
		c.given[name] = g
	}
	return c
}

func toFloat(v any) (float64, bool) {
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
