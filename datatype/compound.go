package datatype

import (
	"fmt"
	"strings"

	"github.com/SampleEnvironment/frappy-go/errors"
)

// Array is the SECoP array type: a sequence of a single member type.
type Array struct {
	Member         Datatype
	MinLen, MaxLen int64
}

// NewArray creates an array type.
func NewArray(member Datatype, minLen, maxLen int64) *Array {
	return &Array{Member: member, MinLen: minLen, MaxLen: maxLen}
}

func (t *Array) maxLen() int64 {
	if t.MaxLen == 0 {
		return DefaultMaxLen
	}
	return t.MaxLen
}

func (t *Array) each(v any, f func(any) (any, error)) (any, error) {
	seq, ok := v.([]any)
	if !ok {
		return nil, errors.WrongType("%v is not an array", v)
	}
	n := int64(len(seq))
	if n < t.MinLen || n > t.maxLen() {
		return nil, errors.RangeError("array length %d outside [%d, %d]", n, t.MinLen, t.maxLen())
	}
	out := make([]any, len(seq))
	for i, item := range seq {
		res, err := f(item)
		if err != nil {
			return nil, errors.AsSECoP(err)
		}
		out[i] = res
	}
	return out, nil
}

func (t *Array) Validate(v any) (any, error) {
	return t.each(v, t.Member.Validate)
}

func (t *Array) Export(v any) any {
	seq, _ := v.([]any)
	out := make([]any, len(seq))
	for i, item := range seq {
		out[i] = t.Member.Export(item)
	}
	return out
}

func (t *Array) Import(v any) (any, error) {
	return t.each(v, t.Member.Import)
}

func (t *Array) Format(v any) string {
	seq, _ := v.([]any)
	parts := make([]string, len(seq))
	for i, item := range seq {
		parts[i] = t.Member.Format(item)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (t *Array) FromString(s string) (any, error) {
	return fromStringJSON(t, s)
}

func (t *Array) CompatibleWith(other Datatype) error {
	o, ok := other.(*Array)
	if !ok {
		return errors.New(errors.KindBadValue, "incompatible: not an array type")
	}
	if o.MinLen > t.MinLen || o.maxLen() < t.maxLen() {
		return errors.New(errors.KindBadValue, "incompatible: array length windows")
	}
	return t.Member.CompatibleWith(o.Member)
}

func (t *Array) Default() any {
	out := make([]any, t.MinLen)
	for i := range out {
		out[i] = t.Member.Default()
	}
	return out
}

func (t *Array) Info() map[string]any {
	info := map[string]any{
		"type":    "array",
		"maxlen":  t.maxLen(),
		"members": t.Member.Info(),
	}
	if t.MinLen > 0 {
		info["minlen"] = t.MinLen
	}
	return info
}

func (t *Array) SetMainUnit(unit string) { t.Member.SetMainUnit(unit) }

func (t *Array) Clone() Datatype {
	return &Array{Member: t.Member.Clone(), MinLen: t.MinLen, MaxLen: t.MaxLen}
}

// Tuple is the SECoP tuple type: a fixed-length sequence of
// heterogeneous member types.
type Tuple struct {
	Members []Datatype
}

// NewTuple creates a tuple type.
func NewTuple(members ...Datatype) *Tuple {
	return &Tuple{Members: members}
}

func (t *Tuple) each(v any, f func(Datatype, any) (any, error)) (any, error) {
	seq, ok := v.([]any)
	if !ok {
		return nil, errors.WrongType("%v is not a tuple", v)
	}
	if len(seq) != len(t.Members) {
		return nil, errors.WrongType("tuple needs %d items, got %d", len(t.Members), len(seq))
	}
	out := make([]any, len(seq))
	for i, item := range seq {
		res, err := f(t.Members[i], item)
		if err != nil {
			return nil, errors.AsSECoP(err)
		}
		out[i] = res
	}
	return out, nil
}

func (t *Tuple) Validate(v any) (any, error) {
	return t.each(v, func(m Datatype, item any) (any, error) { return m.Validate(item) })
}

func (t *Tuple) Export(v any) any {
	seq, _ := v.([]any)
	out := make([]any, len(seq))
	for i, item := range seq {
		if i < len(t.Members) {
			out[i] = t.Members[i].Export(item)
		}
	}
	return out
}

func (t *Tuple) Import(v any) (any, error) {
	return t.each(v, func(m Datatype, item any) (any, error) { return m.Import(item) })
}

func (t *Tuple) Format(v any) string {
	seq, _ := v.([]any)
	parts := make([]string, 0, len(seq))
	for i, item := range seq {
		if i < len(t.Members) {
			parts = append(parts, t.Members[i].Format(item))
		}
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func (t *Tuple) FromString(s string) (any, error) {
	return fromStringJSON(t, s)
}

func (t *Tuple) CompatibleWith(other Datatype) error {
	o, ok := other.(*Tuple)
	if !ok {
		return errors.New(errors.KindBadValue, "incompatible: not a tuple type")
	}
	if len(o.Members) != len(t.Members) {
		return errors.New(errors.KindBadValue, "incompatible: tuple lengths differ")
	}
	for i, m := range t.Members {
		if err := m.CompatibleWith(o.Members[i]); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tuple) Default() any {
	out := make([]any, len(t.Members))
	for i, m := range t.Members {
		out[i] = m.Default()
	}
	return out
}

func (t *Tuple) Info() map[string]any {
	members := make([]any, len(t.Members))
	for i, m := range t.Members {
		members[i] = m.Info()
	}
	return map[string]any{"type": "tuple", "members": members}
}

func (t *Tuple) SetMainUnit(unit string) {
	for _, m := range t.Members {
		m.SetMainUnit(unit)
	}
}

func (t *Tuple) Clone() Datatype {
	members := make([]Datatype, len(t.Members))
	for i, m := range t.Members {
		members[i] = m.Clone()
	}
	return &Tuple{Members: members}
}

// Struct is the SECoP struct type: named members, some of which may be
// optional.
type Struct struct {
	Members  map[string]Datatype
	Order    []string
	Optional []string
}

// NewStruct creates a struct type; members keep the given order.
func NewStruct(names []string, types []Datatype, optional ...string) *Struct {
	st := &Struct{Members: map[string]Datatype{}, Optional: optional}
	for i, name := range names {
		st.Members[name] = types[i]
		st.Order = append(st.Order, name)
	}
	return st
}

func (t *Struct) isOptional(name string) bool {
	for _, o := range t.Optional {
		if o == name {
			return true
		}
	}
	return false
}

func (t *Struct) each(v any, f func(Datatype, any) (any, error)) (any, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errors.WrongType("%v is not a struct", v)
	}
	for name := range obj {
		if _, ok := t.Members[name]; !ok {
			return nil, errors.WrongType("superfluous struct member %q", name)
		}
	}
	out := map[string]any{}
	for name, member := range t.Members {
		item, present := obj[name]
		if !present {
			if t.isOptional(name) {
				continue
			}
			return nil, errors.WrongType("missing struct member %q", name)
		}
		res, err := f(member, item)
		if err != nil {
			return nil, errors.AsSECoP(err)
		}
		out[name] = res
	}
	return out, nil
}

func (t *Struct) Validate(v any) (any, error) {
	return t.each(v, func(m Datatype, item any) (any, error) { return m.Validate(item) })
}

func (t *Struct) Export(v any) any {
	obj, _ := v.(map[string]any)
	out := map[string]any{}
	for name, item := range obj {
		if m, ok := t.Members[name]; ok {
			out[name] = m.Export(item)
		}
	}
	return out
}

func (t *Struct) Import(v any) (any, error) {
	return t.each(v, func(m Datatype, item any) (any, error) { return m.Import(item) })
}

func (t *Struct) Format(v any) string {
	obj, _ := v.(map[string]any)
	parts := make([]string, 0, len(obj))
	for _, name := range t.Order {
		if item, ok := obj[name]; ok {
			parts = append(parts, fmt.Sprintf("%s=%s", name, t.Members[name].Format(item)))
		}
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (t *Struct) FromString(s string) (any, error) {
	return fromStringJSON(t, s)
}

// CompatibleWith: structural and recursive; every mandatory member of
// other must be present here.
func (t *Struct) CompatibleWith(other Datatype) error {
	o, ok := other.(*Struct)
	if !ok {
		return errors.New(errors.KindBadValue, "incompatible: not a struct type")
	}
	for name, member := range t.Members {
		om, ok := o.Members[name]
		if !ok {
			return errors.New(errors.KindBadValue, "incompatible: member %q not accepted", name)
		}
		if t.isOptional(name) && !o.isOptional(name) {
			return errors.New(errors.KindBadValue, "incompatible: member %q may be omitted here", name)
		}
		if err := member.CompatibleWith(om); err != nil {
			return err
		}
	}
	for name := range o.Members {
		if o.isOptional(name) {
			continue
		}
		if _, ok := t.Members[name]; !ok {
			return errors.New(errors.KindBadValue, "incompatible: mandatory member %q missing", name)
		}
	}
	return nil
}

func (t *Struct) Default() any {
	out := map[string]any{}
	for name, member := range t.Members {
		if !t.isOptional(name) {
			out[name] = member.Default()
		}
	}
	return out
}

func (t *Struct) Info() map[string]any {
	members := map[string]any{}
	for name, member := range t.Members {
		members[name] = member.Info()
	}
	info := map[string]any{"type": "struct", "members": members}
	if len(t.Optional) > 0 {
		opt := make([]any, len(t.Optional))
		for i, name := range t.Optional {
			opt[i] = name
		}
		info["optional"] = opt
	}
	return info
}

func (t *Struct) SetMainUnit(unit string) {
	for _, member := range t.Members {
		member.SetMainUnit(unit)
	}
}

func (t *Struct) Clone() Datatype {
	c := &Struct{Members: map[string]Datatype{}}
	c.Order = append(c.Order, t.Order...)
	c.Optional = append(c.Optional, t.Optional...)
	for name, member := range t.Members {
		c.Members[name] = member.Clone()
	}
	return c
}

// CommandType describes the argument and result of a command. Either
// may be nil for "no argument" / "no result".
type CommandType struct {
	Argument Datatype
	Result   Datatype
}

// NewCommand creates a command type.
func NewCommand(argument, result Datatype) *CommandType {
	return &CommandType{Argument: argument, Result: result}
}

// Validate checks a command argument.
func (t *CommandType) Validate(v any) (any, error) {
	if t.Argument == nil {
		if v != nil {
			return nil, errors.WrongType("command takes no argument")
		}
		return nil, nil
	}
	return t.Argument.Validate(v)
}

// ValidateResult checks a command result; a nil result type ignores
// the returned value.
func (t *CommandType) ValidateResult(v any) (any, error) {
	if t.Result == nil {
		return nil, nil
	}
	return t.Result.Validate(v)
}

func (t *CommandType) Export(v any) any {
	if t.Argument == nil {
		return nil
	}
	return t.Argument.Export(v)
}

func (t *CommandType) Import(v any) (any, error) {
	if t.Argument == nil {
		if v != nil {
			return nil, errors.WrongType("command takes no argument")
		}
		return nil, nil
	}
	return t.Argument.Import(v)
}

func (t *CommandType) Format(v any) string {
	if t.Argument == nil {
		return "()"
	}
	return "(" + t.Argument.Format(v) + ")"
}

func (t *CommandType) FromString(s string) (any, error) {
	if t.Argument == nil {
		return nil, nil
	}
	return t.Argument.FromString(s)
}

func (t *CommandType) CompatibleWith(other Datatype) error {
	o, ok := other.(*CommandType)
	if !ok {
		return errors.New(errors.KindBadValue, "incompatible: not a command type")
	}
	if t.Argument != nil {
		if o.Argument == nil {
			return errors.New(errors.KindBadValue, "incompatible: argument not accepted")
		}
		if err := t.Argument.CompatibleWith(o.Argument); err != nil {
			return err
		}
	}
	if o.Result != nil {
		if t.Result == nil {
			return errors.New(errors.KindBadValue, "incompatible: result not provided")
		}
		return o.Result.CompatibleWith(t.Result)
	}
	return nil
}

func (t *CommandType) Default() any { return nil }

func (t *CommandType) Info() map[string]any {
	info := map[string]any{"type": "command"}
	if t.Argument != nil {
		info["argument"] = t.Argument.Info()
	}
	if t.Result != nil {
		info["result"] = t.Result.Info()
	}
	return info
}

func (t *CommandType) SetMainUnit(unit string) {
	if t.Argument != nil {
		t.Argument.SetMainUnit(unit)
	}
	if t.Result != nil {
		t.Result.SetMainUnit(unit)
	}
}

func (t *CommandType) Clone() Datatype {
	c := &CommandType{}
	if t.Argument != nil {
		c.Argument = t.Argument.Clone()
	}
	if t.Result != nil {
		c.Result = t.Result.Clone()
	}
	return c
}
