package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind_WireName(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{KindNoSuchModule, "NoSuchModule"},
		{KindNoSuchParameter, "NoSuchParameter"},
		{KindNoSuchCommand, "NoSuchCommand"},
		{KindReadOnly, "ReadOnly"},
		{KindWrongType, "WrongType"},
		{KindRangeError, "RangeError"},
		{KindBadValue, "BadValue"},
		{KindProtocolError, "ProtocolError"},
		{KindCommandFailed, "CommandFailed"},
		{KindCommandRunning, "CommandRunning"},
		{KindCommunicationFailed, "CommunicationFailed"},
		{KindIsBusy, "IsBusy"},
		{KindIsError, "IsError"},
		{KindDisabled, "Disabled"},
		{KindHardwareError, "HardwareError"},
		{KindTimeout, "TimeoutError"},
		{KindConfig, "ConfigError"},
		{KindInternal, "InternalError"},
		{Kind(999), "InternalError"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.kind.WireName())
		})
	}
}

func TestSECoPError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *SECoPError
		expected string
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: "<nil>",
		},
		{
			name:     "kind and message",
			err:      RangeError("3 outside [-1, 1]"),
			expected: "RangeError: 3 outside [-1, 1]",
		},
		{
			name:     "wrapped error",
			err:      Wrap(fmt.Errorf("broken pipe"), KindCommunicationFailed, "send failed"),
			expected: "CommunicationFailed: send failed: broken pipe",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestBadValueHierarchy(t *testing.T) {
	// BadValue is the parent class of WrongType and RangeError.
	assert.True(t, IsKind(WrongType("not a number"), KindBadValue))
	assert.True(t, IsKind(RangeError("out of range"), KindBadValue))
	assert.True(t, IsKind(New(KindBadValue, "bad"), KindBadValue))
	assert.False(t, IsKind(ProtocolError("junk"), KindBadValue))

	assert.True(t, Is(RangeError("x"), New(KindBadValue, "")))
	assert.False(t, Is(RangeError("x"), New(KindWrongType, "")))
}

func TestAsSECoP(t *testing.T) {
	assert.Nil(t, AsSECoP(nil))

	// Plain errors degrade to InternalError.
	se := AsSECoP(fmt.Errorf("boom"))
	require.NotNil(t, se)
	assert.Equal(t, KindInternal, se.Kind)
	assert.Equal(t, "boom", se.Message)

	// Classified errors survive wrapping.
	wrapped := fmt.Errorf("while reading: %w", NoSuchParameter("cryo", "ramp"))
	se = AsSECoP(wrapped)
	assert.Equal(t, KindNoSuchParameter, se.Kind)
}

func TestWireRoundTrip(t *testing.T) {
	orig := RangeError("7 outside [-5, 5]")
	class, text, extra := Report(orig)
	assert.Equal(t, "RangeError", class)
	assert.Equal(t, "7 outside [-5, 5]", text)
	require.NotNil(t, extra)

	back := FromWire(class, text, extra)
	assert.Equal(t, orig.Kind, back.Kind)
	assert.Equal(t, orig.Message, back.Message)
}

func TestFromWire_UnknownClass(t *testing.T) {
	e := FromWire("FancyVendorError", "whatever", nil)
	assert.Equal(t, KindInternal, e.Kind)
	assert.Equal(t, "FancyVendorError", e.Extra["origin_class"])
}

func TestSameError(t *testing.T) {
	a := CommunicationFailed("disconnected")
	b := CommunicationFailed("disconnected")
	c := CommunicationFailed("timeout")

	assert.True(t, SameError(a, b))
	assert.False(t, SameError(a, c))
	assert.False(t, SameError(a, nil))
	assert.True(t, SameError(nil, nil))

	// Kind matters, not just the text.
	assert.False(t, SameError(New(KindHardwareError, "disconnected"), a))
}

func TestSilentCommunicationFailed(t *testing.T) {
	e := SilentCommunicationFailed("no reply")
	assert.True(t, e.Silent)
	assert.Equal(t, KindCommunicationFailed, e.Kind)
	assert.False(t, CommunicationFailed("no reply").Silent)
}
