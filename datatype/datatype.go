// Package datatype implements the closed algebra of SECoP data types.
//
// Every datatype offers validation into the internal representation,
// bidirectional wire conversion (internal <-> transport JSON), textual
// formatting, configuration parsing and a compatibility predicate.
//
// Internal representations: double/scaled -> float64, int/enum -> int64,
// bool -> bool, string -> string, blob -> []byte, array/tuple -> []any,
// struct -> map[string]any.
package datatype

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/SampleEnvironment/frappy-go/errors"
)

// Datatype is the contract every SECoP data type fulfills.
type Datatype interface {
	// Validate converts v into the internal representation. It fails
	// with WrongType if v has the wrong shape and with RangeError if it
	// is out of the declared range.
	Validate(v any) (any, error)

	// Export converts an internal value to its transport form. It is
	// total on values accepted by Validate.
	Export(v any) any

	// Import converts a transport value to its internal form.
	Import(v any) (any, error)

	// Format renders an internal value human readable, including the
	// unit when one is declared.
	Format(v any) string

	// FromString parses the textual representation used in
	// configuration files.
	FromString(s string) (any, error)

	// CompatibleWith succeeds iff every value this type accepts is
	// accepted by other. It is reflexive but not symmetric.
	CompatibleWith(other Datatype) error

	// Default returns the canonical zero value within the range.
	Default() any

	// Info exports the datainfo JSON description.
	Info() map[string]any

	// SetMainUnit substitutes "$" in unit properties of self and all
	// members. Applied once before the module starts.
	SetMainUnit(unit string)

	// Clone returns an independent copy, so per-instance property
	// overrides never touch the class-level datatype.
	Clone() Datatype
}

// toFloat coerces the numeric shapes a JSON or TOML decoder can
// produce into float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// toInt coerces v into int64, rejecting non-whole floats.
func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case float32:
		return toInt(float64(n))
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

// substUnit replaces the "$" placeholder with the main unit.
func substUnit(unit, main string) string {
	return strings.ReplaceAll(unit, "$", main)
}

// fromStringJSON is the shared FromString fallback: parse the text as
// JSON, then validate; if that fails, validate the raw string (this
// covers enum names and unquoted string values).
func fromStringJSON(t Datatype, s string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		if res, verr := t.Validate(v); verr == nil {
			return res, nil
		} else if res, serr := t.Validate(s); serr == nil {
			return res, nil
		} else {
			return nil, verr
		}
	}
	return t.Validate(strings.TrimSpace(s))
}

// ValueType accepts any JSON-representable value, optionally narrowed
// by a validator. It is internal only, used for property defaults
// before the real type exists.
type ValueType struct {
	// Validator narrows the accepted set; nil accepts everything.
	Validator func(v any) (any, error)
}

func (t *ValueType) Validate(v any) (any, error) {
	if t.Validator != nil {
		return t.Validator(v)
	}
	return v, nil
}

func (t *ValueType) Export(v any) any { return v }

func (t *ValueType) Import(v any) (any, error) { return t.Validate(v) }

func (t *ValueType) Format(v any) string { return fmt.Sprintf("%v", v) }

func (t *ValueType) FromString(s string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return t.Validate(v)
	}
	return t.Validate(s)
}

func (t *ValueType) CompatibleWith(other Datatype) error {
	if _, ok := other.(*ValueType); ok {
		return nil
	}
	return errors.New(errors.KindBadValue, "ValueType is only compatible with ValueType")
}

func (t *ValueType) Default() any { return nil }

func (t *ValueType) Info() map[string]any { return map[string]any{"type": "value"} }

func (t *ValueType) SetMainUnit(string) {}

func (t *ValueType) Clone() Datatype { c := *t; return &c }

// NoneOr wraps a datatype, additionally accepting null.
type NoneOr struct {
	Member Datatype
}

func (t *NoneOr) Validate(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return t.Member.Validate(v)
}

func (t *NoneOr) Export(v any) any {
	if v == nil {
		return nil
	}
	return t.Member.Export(v)
}

func (t *NoneOr) Import(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return t.Member.Import(v)
}

func (t *NoneOr) Format(v any) string {
	if v == nil {
		return "none"
	}
	return t.Member.Format(v)
}

func (t *NoneOr) FromString(s string) (any, error) {
	if s == "none" || s == "null" {
		return nil, nil
	}
	return t.Member.FromString(s)
}

func (t *NoneOr) CompatibleWith(other Datatype) error {
	o, ok := other.(*NoneOr)
	if !ok {
		return errors.New(errors.KindBadValue, "incompatible: other does not accept null")
	}
	return t.Member.CompatibleWith(o.Member)
}

func (t *NoneOr) Default() any { return nil }

func (t *NoneOr) Info() map[string]any { return t.Member.Info() }

func (t *NoneOr) SetMainUnit(unit string) { t.Member.SetMainUnit(unit) }

func (t *NoneOr) Clone() Datatype { return &NoneOr{Member: t.Member.Clone()} }

// OrType accepts a value valid for any of its member types, trying
// them in order.
type OrType struct {
	Members []Datatype
}

func (t *OrType) match(v any) (Datatype, any, error) {
	var firstErr error
	for _, m := range t.Members {
		res, err := m.Validate(v)
		if err == nil {
			return m, res, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = errors.WrongType("no member type given")
	}
	return nil, nil, firstErr
}

func (t *OrType) Validate(v any) (any, error) {
	_, res, err := t.match(v)
	return res, err
}

func (t *OrType) Export(v any) any {
	if m, res, err := t.match(v); err == nil {
		return m.Export(res)
	}
	return v
}

func (t *OrType) Import(v any) (any, error) {
	var firstErr error
	for _, m := range t.Members {
		if res, err := m.Import(v); err == nil {
			return res, nil
		} else if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

func (t *OrType) Format(v any) string {
	if m, res, err := t.match(v); err == nil {
		return m.Format(res)
	}
	return fmt.Sprintf("%v", v)
}

func (t *OrType) FromString(s string) (any, error) {
	return fromStringJSON(t, s)
}

func (t *OrType) CompatibleWith(other Datatype) error {
	for _, m := range t.Members {
		if err := m.CompatibleWith(other); err != nil {
			return err
		}
	}
	return nil
}

func (t *OrType) Default() any {
	if len(t.Members) == 0 {
		return nil
	}
	return t.Members[0].Default()
}

func (t *OrType) Info() map[string]any {
	if len(t.Members) == 0 {
		return map[string]any{"type": "value"}
	}
	return t.Members[0].Info()
}

func (t *OrType) SetMainUnit(unit string) {
	for _, m := range t.Members {
		m.SetMainUnit(unit)
	}
}

func (t *OrType) Clone() Datatype {
	members := make([]Datatype, len(t.Members))
	for i, m := range t.Members {
		members[i] = m.Clone()
	}
	return &OrType{Members: members}
}

// FromInfo rebuilds a datatype from its datainfo description. Used by
// the client side when interpreting descriptive data.
func FromInfo(info map[string]any) (Datatype, error) {
	kind, _ := info["type"].(string)
	getf := func(key string, def float64) float64 {
		if f, ok := toFloat(info[key]); ok {
			return f
		}
		return def
	}
	geti := func(key string, def int64) int64 {
		if i, ok := toInt(info[key]); ok {
			return i
		}
		return def
	}
	switch kind {
	case "double":
		t := NewFloat(getf("min", negInf), getf("max", posInf))
		t.Unit, _ = info["unit"].(string)
		if s, ok := info["fmtstr"].(string); ok {
			t.FmtStr = s
		}
		t.AbsoluteResolution = getf("absolute_resolution", t.AbsoluteResolution)
		t.RelativeResolution = getf("relative_resolution", t.RelativeResolution)
		return t, nil
	case "int":
		return NewInt(geti("min", DefaultMinInt), geti("max", DefaultMaxInt)), nil
	case "scaled":
		scale := getf("scale", 1)
		t := NewScaled(scale, getf("min", 0)*scale, getf("max", 0)*scale)
		t.Unit, _ = info["unit"].(string)
		return t, nil
	case "bool":
		return &Bool{}, nil
	case "string":
		t := &String{MaxChars: geti("maxchars", DefaultMaxChars)}
		t.MinChars = geti("minchars", 0)
		t.IsUTF8, _ = info["isUTF8"].(bool)
		return t, nil
	case "blob":
		return &Blob{MinBytes: geti("minbytes", 0), MaxBytes: geti("maxbytes", DefaultMaxBytes)}, nil
	case "enum":
		members, _ := info["members"].(map[string]any)
		e := &Enum{}
		for name, val := range members {
			code, ok := toInt(val)
			if !ok {
				return nil, errors.WrongType("enum member %s has non-integer value", name)
			}
			e.Add(name, code)
		}
		e.sort()
		return e, nil
	case "array":
		memberInfo, _ := info["members"].(map[string]any)
		member, err := FromInfo(memberInfo)
		if err != nil {
			return nil, err
		}
		return &Array{Member: member, MinLen: geti("minlen", 0), MaxLen: geti("maxlen", DefaultMaxLen)}, nil
	case "tuple":
		raw, _ := info["members"].([]any)
		members := make([]Datatype, 0, len(raw))
		for _, mi := range raw {
			m, ok := mi.(map[string]any)
			if !ok {
				return nil, errors.WrongType("tuple member is not a datainfo object")
			}
			dt, err := FromInfo(m)
			if err != nil {
				return nil, err
			}
			members = append(members, dt)
		}
		return &Tuple{Members: members}, nil
	case "struct":
		raw, _ := info["members"].(map[string]any)
		st := &Struct{Members: map[string]Datatype{}}
		for name, mi := range raw {
			m, ok := mi.(map[string]any)
			if !ok {
				return nil, errors.WrongType("struct member %s is not a datainfo object", name)
			}
			dt, err := FromInfo(m)
			if err != nil {
				return nil, err
			}
			st.Members[name] = dt
			st.Order = append(st.Order, name)
		}
		if opt, ok := info["optional"].([]any); ok {
			for _, o := range opt {
				if name, ok := o.(string); ok {
					st.Optional = append(st.Optional, name)
				}
			}
		}
		return st, nil
	case "command":
		var arg, res Datatype
		var err error
		if ai, ok := info["argument"].(map[string]any); ok {
			if arg, err = FromInfo(ai); err != nil {
				return nil, err
			}
		}
		if ri, ok := info["result"].(map[string]any); ok {
			if res, err = FromInfo(ri); err != nil {
				return nil, err
			}
		}
		return &CommandType{Argument: arg, Result: res}, nil
	}
	return nil, errors.ProtocolError("unknown datainfo type %q", kind)
}
