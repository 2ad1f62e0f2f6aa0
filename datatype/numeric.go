package datatype

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/SampleEnvironment/frappy-go/errors"
)

var (
	negInf = math.Inf(-1)
	posInf = math.Inf(1)
)

// Default limits mirroring the SECoP recommendations.
const (
	DefaultMinInt = -16777216
	DefaultMaxInt = 16777216
	// DefaultRelativeResolution is the rounding tolerance of a double
	// transferred as a decimal string.
	DefaultRelativeResolution = 1.2e-7
)

// Float is the SECoP double type.
type Float struct {
	Min, Max           float64
	Unit               string
	FmtStr             string
	AbsoluteResolution float64
	RelativeResolution float64
}

// NewFloat creates a double with the given range. Use -Inf/+Inf for an
// unbounded side.
func NewFloat(min, max float64) *Float {
	return &Float{
		Min:                min,
		Max:                max,
		FmtStr:             "%g",
		RelativeResolution: DefaultRelativeResolution,
	}
}

// tolerance is the acceptable overshoot at value v.
func (t *Float) tolerance(v float64) float64 {
	return math.Max(t.AbsoluteResolution, math.Abs(v)*t.RelativeResolution)
}

func (t *Float) Validate(v any) (any, error) {
	f, ok := toFloat(v)
	if !ok {
		return nil, errors.WrongType("can not convert %v to a float", v)
	}
	if math.IsNaN(f) {
		return nil, errors.WrongType("NaN is not a valid float value")
	}
	// Tolerate overshoot within the resolution by silently clamping.
	if f < t.Min {
		if t.Min-f > t.tolerance(t.Min) {
			return nil, errors.RangeError("%v below minimum %v", f, t.Min)
		}
		f = t.Min
	}
	if f > t.Max {
		if f-t.Max > t.tolerance(t.Max) {
			return nil, errors.RangeError("%v above maximum %v", f, t.Max)
		}
		f = t.Max
	}
	return f, nil
}

func (t *Float) Export(v any) any { return v }

func (t *Float) Import(v any) (any, error) {
	if f, ok := toFloat(v); ok {
		// Clamp infinities coming from the wire.
		if math.IsInf(f, 1) {
			f = math.MaxFloat64
		} else if math.IsInf(f, -1) {
			f = -math.MaxFloat64
		}
		return t.Validate(f)
	}
	return t.Validate(v)
}

func (t *Float) Format(v any) string {
	f, _ := toFloat(v)
	s := fmt.Sprintf(t.fmtstr(), f)
	if t.Unit != "" {
		return s + " " + t.Unit
	}
	return s
}

func (t *Float) fmtstr() string {
	if t.FmtStr == "" {
		return "%g"
	}
	return t.FmtStr
}

func (t *Float) FromString(s string) (any, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil, errors.WrongType("%q is not a float", s)
	}
	return t.Validate(f)
}

// CompatibleWith succeeds if other accepts both ends of this range.
func (t *Float) CompatibleWith(other Datatype) error {
	return numericCompatible(t.Min, t.Max, other)
}

func (t *Float) Default() any {
	return clampFloat(0, t.Min, t.Max)
}

func (t *Float) Info() map[string]any {
	info := map[string]any{"type": "double"}
	if !math.IsInf(t.Min, -1) {
		info["min"] = t.Min
	}
	if !math.IsInf(t.Max, 1) {
		info["max"] = t.Max
	}
	if t.Unit != "" {
		info["unit"] = t.Unit
	}
	if t.FmtStr != "" && t.FmtStr != "%g" {
		info["fmtstr"] = t.FmtStr
	}
	if t.AbsoluteResolution != 0 {
		info["absolute_resolution"] = t.AbsoluteResolution
	}
	if t.RelativeResolution != DefaultRelativeResolution {
		info["relative_resolution"] = t.RelativeResolution
	}
	return info
}

func (t *Float) SetMainUnit(unit string) {
	t.Unit = substUnit(t.Unit, unit)
}

func (t *Float) Clone() Datatype { c := *t; return &c }

// Int is the SECoP integer type.
type Int struct {
	Min, Max int64
}

// NewInt creates an integer type with the given inclusive range.
func NewInt(min, max int64) *Int {
	return &Int{Min: min, Max: max}
}

func (t *Int) Validate(v any) (any, error) {
	i, ok := toInt(v)
	if !ok {
		return nil, errors.WrongType("can not convert %v to an integer", v)
	}
	if i < t.Min || i > t.Max {
		return nil, errors.RangeError("%d outside [%d, %d]", i, t.Min, t.Max)
	}
	return i, nil
}

func (t *Int) Export(v any) any { return v }

func (t *Int) Import(v any) (any, error) { return t.Validate(v) }

func (t *Int) Format(v any) string {
	i, _ := toInt(v)
	return strconv.FormatInt(i, 10)
}

func (t *Int) FromString(s string) (any, error) {
	i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return nil, errors.WrongType("%q is not an integer", s)
	}
	return t.Validate(i)
}

func (t *Int) CompatibleWith(other Datatype) error {
	return numericCompatible(float64(t.Min), float64(t.Max), other)
}

func (t *Int) Default() any {
	if t.Min > 0 {
		return t.Min
	}
	if t.Max < 0 {
		return t.Max
	}
	return int64(0)
}

func (t *Int) Info() map[string]any {
	return map[string]any{"type": "int", "min": t.Min, "max": t.Max}
}

func (t *Int) SetMainUnit(string) {}

func (t *Int) Clone() Datatype { c := *t; return &c }

// Scaled is the SECoP scaled integer type: the wire value is an integer
// count, the internal value is count*scale.
type Scaled struct {
	Scale              float64
	Min, Max           float64 // range in internal (scaled) units
	Unit               string
	FmtStr             string
	AbsoluteResolution float64
	RelativeResolution float64
}

// NewScaled creates a scaled integer. min and max are given in internal
// (scaled) units and rounded onto the scale grid.
func NewScaled(scale, min, max float64) *Scaled {
	t := &Scaled{
		Scale:              scale,
		RelativeResolution: DefaultRelativeResolution,
	}
	t.AbsoluteResolution = scale
	t.Min = t.round(min)
	t.Max = t.round(max)
	return t
}

// round snaps an internal value onto the scale grid.
func (t *Scaled) round(v float64) float64 {
	return math.Round(v/t.Scale) * t.Scale
}

func (t *Scaled) tolerance(v float64) float64 {
	return math.Max(t.AbsoluteResolution, math.Abs(v)*t.RelativeResolution)
}

func (t *Scaled) Validate(v any) (any, error) {
	f, ok := toFloat(v)
	if !ok {
		return nil, errors.WrongType("can not convert %v to a float", v)
	}
	if f < t.Min {
		if t.Min-f > t.tolerance(t.Min) {
			return nil, errors.RangeError("%v below minimum %v", f, t.Min)
		}
		f = t.Min
	}
	if f > t.Max {
		if f-t.Max > t.tolerance(t.Max) {
			return nil, errors.RangeError("%v above maximum %v", f, t.Max)
		}
		f = t.Max
	}
	return t.round(f), nil
}

// Export emits the integer count.
func (t *Scaled) Export(v any) any {
	f, _ := toFloat(v)
	return int64(math.Round(f / t.Scale))
}

// Import converts an integer count back to the internal value.
func (t *Scaled) Import(v any) (any, error) {
	count, ok := toInt(v)
	if !ok {
		return nil, errors.WrongType("scaled transport value %v is not an integer", v)
	}
	return t.Validate(float64(count) * t.Scale)
}

func (t *Scaled) Format(v any) string {
	f, _ := toFloat(v)
	s := fmt.Sprintf(t.fmtstr(), f)
	if t.Unit != "" {
		return s + " " + t.Unit
	}
	return s
}

func (t *Scaled) fmtstr() string {
	if t.FmtStr != "" {
		return t.FmtStr
	}
	// Derive digits from the scale, e.g. 0.1 -> %.1f.
	digits := max(0, int(math.Ceil(-math.Log10(t.Scale))))
	return "%." + strconv.Itoa(digits) + "f"
}

func (t *Scaled) FromString(s string) (any, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil, errors.WrongType("%q is not a number", s)
	}
	return t.Validate(f)
}

func (t *Scaled) CompatibleWith(other Datatype) error {
	return numericCompatible(t.Min, t.Max, other)
}

func (t *Scaled) Default() any {
	return t.round(clampFloat(0, t.Min, t.Max))
}

func (t *Scaled) Info() map[string]any {
	info := map[string]any{
		"type":  "scaled",
		"scale": t.Scale,
		// min/max are given in wire integer units
		"min": int64(math.Round(t.Min / t.Scale)),
		"max": int64(math.Round(t.Max / t.Scale)),
	}
	if t.Unit != "" {
		info["unit"] = t.Unit
	}
	if t.FmtStr != "" {
		info["fmtstr"] = t.FmtStr
	}
	return info
}

func (t *Scaled) SetMainUnit(unit string) {
	t.Unit = substUnit(t.Unit, unit)
}

func (t *Scaled) Clone() Datatype { c := *t; return &c }

// Bool is the SECoP boolean type. Validation accepts the literal set
// {0, 1, true, false, "on", "off", "yes", "no"} case-insensitively;
// the transport form is a strict 0/1.
type Bool struct{}

func (t *Bool) Validate(v any) (any, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(b) {
		case "1", "true", "on", "yes":
			return true, nil
		case "0", "false", "off", "no":
			return false, nil
		}
		return nil, errors.WrongType("%q is not a boolean value", b)
	}
	if i, ok := toInt(v); ok {
		switch i {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
	}
	return nil, errors.WrongType("%v is not a boolean value", v)
}

func (t *Bool) Export(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return int64(1)
		}
		return int64(0)
	}
	return v
}

func (t *Bool) Import(v any) (any, error) { return t.Validate(v) }

func (t *Bool) Format(v any) string {
	if b, ok := v.(bool); ok && b {
		return "true"
	}
	return "false"
}

func (t *Bool) FromString(s string) (any, error) { return t.Validate(s) }

func (t *Bool) CompatibleWith(other Datatype) error {
	for _, probe := range []any{false, true} {
		if _, err := other.Validate(probe); err != nil {
			return errors.New(errors.KindBadValue, "incompatible: %v", err)
		}
	}
	return nil
}

func (t *Bool) Default() any { return false }

func (t *Bool) Info() map[string]any { return map[string]any{"type": "bool"} }

func (t *Bool) SetMainUnit(string) {}

func (t *Bool) Clone() Datatype { c := *t; return &c }

// numericCompatible checks that other accepts both range ends.
func numericCompatible(min, max float64, other Datatype) error {
	for _, probe := range []float64{min, max} {
		if _, err := other.Validate(probe); err != nil {
			return errors.New(errors.KindBadValue, "incompatible: %v", err)
		}
	}
	return nil
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
