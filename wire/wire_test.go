package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SampleEnvironment/frappy-go/errors"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Message
	}{
		{
			name: "bare action",
			line: "describe",
			want: Message{Action: "describe"},
		},
		{
			name: "idn",
			line: "*IDN?",
			want: Message{Action: "*IDN?"},
		},
		{
			name: "action and specifier",
			line: "read cryo:value",
			want: Message{Action: "read", Specifier: "cryo:value"},
		},
		{
			name: "action specifier data",
			line: `change cryo:target 3.5`,
			want: Message{Action: "change", Specifier: "cryo:target", Data: 3.5, HasData: true},
		},
		{
			name: "dot specifier",
			line: `describing . {"modules":{}}`,
			want: Message{Action: "describing", Data: map[string]any{"modules": map[string]any{}}, HasData: true},
		},
		{
			name: "compound data",
			line: `do cryo:stop`,
			want: Message{Action: "do", Specifier: "cryo:stop"},
		},
		{
			name: "explicit null",
			line: `pong 7 null`,
			want: Message{Action: "pong", Specifier: "7", Data: nil, HasData: false},
		},
		{
			name: "trailing crlf",
			line: "read cryo\r\n",
			want: Message{Action: "read", Specifier: "cryo"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.line))
			require.NoError(t, err)
			if tt.name == "explicit null" {
				// json null decodes to nil data but still counts as payload
				assert.True(t, got.HasData)
				got.HasData = false
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode([]byte(""))
	assert.True(t, errors.IsKind(err, errors.KindProtocolError))

	_, err = Decode([]byte("change cryo:target {broken"))
	assert.True(t, errors.IsKind(err, errors.KindProtocolError))
}

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{
			name: "bare action",
			msg:  Message{Action: "active"},
			want: "active\n",
		},
		{
			name: "with specifier",
			msg:  Message{Action: "inactive", Specifier: "cryo"},
			want: "inactive cryo\n",
		},
		{
			name: "with data",
			msg:  Reply("update", "cryo:value", []any{1.5, map[string]any{"t": 1000.0}}),
			want: `update cryo:value [1.5,{"t":1000}]` + "\n",
		},
		{
			name: "data without specifier gets dot",
			msg:  Reply("describing", "", map[string]any{}),
			want: "describing . {}\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.msg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestRoundTrip(t *testing.T) {
	msg := Reply("changed", "cryo:target", ValueReport(3.0, 1234.5))
	raw, err := Encode(msg)
	require.NoError(t, err)
	back, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "changed", back.Action)
	assert.Equal(t, "cryo:target", back.Specifier)
	report, ok := back.Data.([]any)
	require.True(t, ok)
	assert.Equal(t, 3.0, report[0])
}

func TestSpecifierParts(t *testing.T) {
	m := Message{Specifier: "cryo:target"}
	assert.Equal(t, "cryo", m.Module())
	assert.Equal(t, "target", m.Accessible())

	m = Message{Specifier: "cryo"}
	assert.Equal(t, "cryo", m.Module())
	assert.Equal(t, "", m.Accessible())
}

func TestErrorReply(t *testing.T) {
	req := Message{Action: "change", Specifier: "cryo:target"}
	reply := ErrorReply(req, errors.RangeError("7 outside [-5, 5]"))
	assert.Equal(t, "error_change", reply.Action)
	assert.Equal(t, "cryo:target", reply.Specifier)

	report := reply.Data.([]any)
	assert.Equal(t, "RangeError", report[0])

	// Client side reconstruction.
	err := ParseError(reply.Data)
	assert.True(t, errors.IsKind(err, errors.KindRangeError))
	assert.True(t, errors.IsKind(err, errors.KindBadValue))
}
