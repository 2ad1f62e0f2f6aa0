package datatype

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SampleEnvironment/frappy-go/errors"
)

func TestIntRange(t *testing.T) {
	dt := NewInt(-3, 3)

	v, err := dt.Validate(0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	v, err = dt.Validate(3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	_, err = dt.Validate(4)
	assert.True(t, errors.IsKind(err, errors.KindRangeError))

	_, err = dt.Validate("2")
	assert.True(t, errors.IsKind(err, errors.KindWrongType))

	_, err = dt.Validate(1.5)
	assert.True(t, errors.IsKind(err, errors.KindWrongType))

	// whole floats are accepted
	v, err = dt.Validate(2.0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestFloat(t *testing.T) {
	dt := NewFloat(-10, 10)
	dt.Unit = "K"
	dt.FmtStr = "%.2f"

	v, err := dt.Validate(3.25)
	require.NoError(t, err)
	assert.Equal(t, 3.25, v)

	_, err = dt.Validate(11)
	assert.True(t, errors.IsKind(err, errors.KindRangeError))

	_, err = dt.Validate("3")
	assert.True(t, errors.IsKind(err, errors.KindWrongType))

	// overshoot within resolution clamps silently
	v, err = dt.Validate(10 + 1e-7)
	require.NoError(t, err)
	assert.Equal(t, 10.0, v)

	assert.Equal(t, "3.25 K", dt.Format(3.25))

	// infinities clamp on import
	v, err = NewFloat(negInf, posInf).Import(math.Inf(1))
	require.NoError(t, err)
	assert.Equal(t, math.MaxFloat64, v)
}

func TestScaledRoundTrip(t *testing.T) {
	dt := NewScaled(0.1, 0, 10)

	v, err := dt.Validate(0.7)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, v.(float64), 1e-12)

	assert.Equal(t, int64(7), dt.Export(v))

	back, err := dt.Import(int64(7))
	require.NoError(t, err)
	assert.InDelta(t, 0.7, back.(float64), 1e-12)

	// silent clamp within tolerance
	v, err = dt.Validate(10.001)
	require.NoError(t, err)
	assert.Equal(t, 10.0, v)

	_, err = dt.Validate(11)
	assert.True(t, errors.IsKind(err, errors.KindRangeError))

	// internal values snap onto the scale grid
	for _, raw := range []float64{0, 1.23, 5.55, 9.99, 10} {
		v, err := dt.Validate(raw)
		require.NoError(t, err)
		f := v.(float64)
		assert.InDelta(t, math.Round(raw/0.1)*0.1, f, 1e-12)
		back, err := dt.Import(dt.Export(f))
		require.NoError(t, err)
		assert.Equal(t, f, back)
	}

	// wire units in datainfo
	info := dt.Info()
	assert.Equal(t, int64(0), info["min"])
	assert.Equal(t, int64(100), info["max"])
}

func TestEnum(t *testing.T) {
	dt := NewEnum("S", EnumMember{"IDLE", 100}, EnumMember{"BUSY", 300})

	v, err := dt.Validate("IDLE")
	require.NoError(t, err)
	assert.Equal(t, int64(100), v)

	v, err = dt.Validate(300)
	require.NoError(t, err)
	assert.Equal(t, int64(300), v)

	assert.Equal(t, "BUSY<300>", dt.Format(int64(300)))

	_, err = dt.Validate("x")
	assert.True(t, errors.IsKind(err, errors.KindRangeError))

	_, err = dt.Validate(101)
	assert.True(t, errors.IsKind(err, errors.KindRangeError))

	_, err = dt.Validate(1.5)
	assert.True(t, errors.IsKind(err, errors.KindWrongType))
}

func TestBool(t *testing.T) {
	dt := &Bool{}
	for _, truthy := range []any{true, 1, "on", "ON", "yes", "True"} {
		v, err := dt.Validate(truthy)
		require.NoError(t, err, "value %v", truthy)
		assert.Equal(t, true, v)
	}
	for _, falsy := range []any{false, 0, "off", "no", "FALSE"} {
		v, err := dt.Validate(falsy)
		require.NoError(t, err, "value %v", falsy)
		assert.Equal(t, false, v)
	}
	_, err := dt.Validate(2)
	assert.True(t, errors.IsKind(err, errors.KindWrongType))
	_, err = dt.Validate("maybe")
	assert.True(t, errors.IsKind(err, errors.KindWrongType))

	// transported as 0/1, never as a JSON bool
	assert.Equal(t, int64(1), dt.Export(true))
	assert.Equal(t, int64(0), dt.Export(false))
}

func TestString(t *testing.T) {
	dt := NewString(2, 5)

	v, err := dt.Validate("abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", v)

	_, err = dt.Validate("a")
	assert.True(t, errors.IsKind(err, errors.KindRangeError))

	_, err = dt.Validate("toolong")
	assert.True(t, errors.IsKind(err, errors.KindRangeError))

	_, err = dt.Validate("a\x00b")
	assert.True(t, errors.IsKind(err, errors.KindWrongType))

	_, err = dt.Validate("héllo")
	assert.True(t, errors.IsKind(err, errors.KindWrongType))

	utf := &String{MaxChars: 5, IsUTF8: true}
	v, err = utf.Validate("héllo")
	require.NoError(t, err)
	assert.Equal(t, "héllo", v)
}

func TestBlob(t *testing.T) {
	dt := NewBlob(0, 8)

	v, err := dt.Validate([]byte{1, 2, 3})
	require.NoError(t, err)

	exported := dt.Export(v)
	assert.Equal(t, "AQID", exported)

	back, err := dt.Import(exported)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, back)

	_, err = dt.Import("not base64!!!")
	assert.True(t, errors.IsKind(err, errors.KindWrongType))
}

func TestStructWithOptional(t *testing.T) {
	dt := NewStruct(
		[]string{"a", "b"},
		[]Datatype{NewInt(0, 10), &Bool{}},
		"b",
	)

	v, err := dt.Validate(map[string]any{"a": 3})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": int64(3)}, v)

	v, err = dt.Validate(map[string]any{"a": 3, "b": true})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": int64(3), "b": true}, v)

	_, err = dt.Validate(map[string]any{"a": 3, "c": 1})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindWrongType))
	assert.Contains(t, err.Error(), "superfluous")

	_, err = dt.Validate(map[string]any{"b": true})
	assert.True(t, errors.IsKind(err, errors.KindWrongType))
}

func TestArrayTuple(t *testing.T) {
	arr := NewArray(NewInt(0, 5), 1, 3)

	v, err := arr.Validate([]any{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2)}, v)

	_, err = arr.Validate([]any{})
	assert.True(t, errors.IsKind(err, errors.KindRangeError))

	_, err = arr.Validate([]any{1, 2, 3, 4})
	assert.True(t, errors.IsKind(err, errors.KindRangeError))

	_, err = arr.Validate([]any{9})
	assert.True(t, errors.IsKind(err, errors.KindRangeError))

	tup := NewTuple(NewInt(0, 500), NewString(0, 20))
	v, err = tup.Validate([]any{100, "idle"})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(100), "idle"}, v)

	_, err = tup.Validate([]any{100})
	assert.True(t, errors.IsKind(err, errors.KindWrongType))
}

// roundTrip asserts the universal law
// validate(import(export(validate(v)))) == validate(v).
func roundTrip(t *testing.T, dt Datatype, v any) {
	t.Helper()
	w, err := dt.Validate(v)
	require.NoError(t, err)
	back, err := dt.Import(dt.Export(w))
	require.NoError(t, err)
	final, err := dt.Validate(back)
	require.NoError(t, err)
	assert.Equal(t, w, final)
}

func TestRoundTripLaw(t *testing.T) {
	tests := []struct {
		name string
		dt   Datatype
		v    any
	}{
		{"float", NewFloat(-10, 10), 3.5},
		{"int", NewInt(-3, 3), 2},
		{"scaled", NewScaled(0.25, -2, 2), 1.1},
		{"bool", &Bool{}, "on"},
		{"enum", NewEnum("E", EnumMember{"A", 1}, EnumMember{"B", 2}), "B"},
		{"string", NewString(0, 10), "hello"},
		{"blob", NewBlob(0, 10), []byte("abc")},
		{"array", NewArray(NewFloat(0, 1), 0, 5), []any{0.25, 0.5}},
		{"tuple", StatusType(), []any{StatusIdle, "idle"}},
		{"struct", NewStruct([]string{"x"}, []Datatype{NewInt(0, 9)}), map[string]any{"x": 7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			roundTrip(t, tt.dt, tt.v)
		})
	}
}

func TestCompatibility(t *testing.T) {
	// reflexive on identity
	types := []Datatype{
		NewFloat(-1, 1),
		NewInt(0, 5),
		NewScaled(0.1, 0, 10),
		&Bool{},
		NewEnum("E", EnumMember{"A", 1}),
		NewString(1, 4),
		NewBlob(0, 4),
		NewArray(NewInt(0, 3), 0, 4),
		NewTuple(&Bool{}, NewInt(0, 1)),
		NewStruct([]string{"a"}, []Datatype{&Bool{}}),
	}
	for _, dt := range types {
		assert.NoError(t, dt.CompatibleWith(dt), "%T should be self-compatible", dt)
	}

	// narrow.compatible(wide) passes, wide.compatible(narrow) fails
	pairs := []struct {
		name         string
		narrow, wide Datatype
	}{
		{"float", NewFloat(-1, 1), NewFloat(-10, 10)},
		{"int", NewInt(0, 3), NewInt(-5, 5)},
		{"int in float", NewInt(0, 3), NewFloat(0, 5)},
		{"string", NewString(2, 4), NewString(1, 8)},
		{"enum", NewEnum("E", EnumMember{"A", 1}), NewEnum("E", EnumMember{"A", 1}, EnumMember{"B", 2})},
		{"array", NewArray(NewInt(0, 3), 1, 2), NewArray(NewInt(0, 5), 0, 4)},
		{
			"struct optional",
			NewStruct([]string{"a", "b"}, []Datatype{&Bool{}, &Bool{}}),
			NewStruct([]string{"a", "b"}, []Datatype{&Bool{}, &Bool{}}, "b"),
		},
	}
	for _, tt := range pairs {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, tt.narrow.CompatibleWith(tt.wide))
			err := tt.wide.CompatibleWith(tt.narrow)
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindBadValue))
		})
	}
}

func TestSetMainUnit(t *testing.T) {
	f := NewFloat(0, 100)
	f.Unit = "$"
	f.SetMainUnit("K")
	assert.Equal(t, "K", f.Unit)

	g := NewFloat(0, 100)
	g.Unit = "$/min"
	tup := NewTuple(g)
	tup.SetMainUnit("K")
	assert.Equal(t, "K/min", g.Unit)
}

func TestFromString(t *testing.T) {
	v, err := NewFloat(-10, 10).FromString(" 2.5 ")
	require.NoError(t, err)
	assert.Equal(t, 2.5, v)

	v, err = NewEnum("E", EnumMember{"IDLE", 100}).FromString("IDLE")
	require.NoError(t, err)
	assert.Equal(t, int64(100), v)

	v, err = NewArray(NewInt(0, 9), 0, 5).FromString("[1, 2, 3]")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, v)

	v, err = NewStruct([]string{"a"}, []Datatype{NewInt(0, 9)}).FromString(`{"a": 3}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": int64(3)}, v)

	_, err = NewInt(0, 5).FromString("banana")
	assert.True(t, errors.IsKind(err, errors.KindWrongType))
}

func TestFromInfoRoundTrip(t *testing.T) {
	f := NewFloat(-10, 10)
	f.Unit = "K"
	orig := []Datatype{
		f,
		NewInt(-3, 3),
		NewScaled(0.1, 0, 10),
		&Bool{},
		NewEnum("E", EnumMember{"A", 1}, EnumMember{"B", 2}),
		NewString(1, 9),
		NewBlob(0, 16),
		NewArray(NewInt(0, 3), 0, 4),
		StatusType(),
		NewStruct([]string{"a"}, []Datatype{&Bool{}}),
		NewCommand(NewFloat(0, 1), StatusType()),
	}
	for _, dt := range orig {
		rebuilt, err := FromInfo(dt.Info())
		require.NoError(t, err, "%T", dt)
		// both directions must accept the default value
		def := dt.Default()
		if _, isCmd := dt.(*CommandType); isCmd {
			continue
		}
		_, err = rebuilt.Validate(def)
		assert.NoError(t, err, "%T default after rebuild", dt)
	}
}

func TestStatusHelpers(t *testing.T) {
	assert.True(t, IsBusyCode(StatusBusy))
	assert.True(t, IsBusyCode(StatusRamping))
	assert.False(t, IsBusyCode(StatusIdle))
	assert.False(t, IsBusyCode(StatusError))

	st := Status(StatusBusy, "moving")
	assert.Equal(t, int64(StatusBusy), StatusCode(st))
	assert.Equal(t, int64(StatusUnknown), StatusCode("junk"))

	_, err := StatusType().Validate(Status(StatusIdle, "idle"))
	assert.NoError(t, err)
}
