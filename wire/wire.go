// Package wire implements the SECoP line codec.
//
// A wire frame is `<action> SP [<specifier> [SP <json-data>]] LF`. The
// specifier addresses a module or a module:accessible pair; a bare "."
// stands for "no specifier".
package wire

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/SampleEnvironment/frappy-go/errors"
)

// Request actions.
const (
	ActionIdentify   = "*IDN?"
	ActionDescribe   = "describe"
	ActionActivate   = "activate"
	ActionDeactivate = "deactivate"
	ActionRead       = "read"
	ActionChange     = "change"
	ActionDo         = "do"
	ActionPing       = "ping"
	ActionLogging    = "logging"
)

// Reply actions.
const (
	ActionDescribing  = "describing"
	ActionActive      = "active"
	ActionInactive    = "inactive"
	ActionUpdate      = "update"
	ActionChanged     = "changed"
	ActionDone        = "done"
	ActionPong        = "pong"
	ActionErrorUpdate = "error_update"
	ErrorPrefix       = "error_"
)

// Identity is the identification line sent in response to *IDN?.
// The prefix before the first comma must contain "ISSE" and be
// followed by the literal "SECoP,".
const Identity = "ISSE&SINE2020,SECoP,V2019-09-16,v1.0"

// Message is a decoded protocol frame.
type Message struct {
	// Action is the protocol verb.
	Action string
	// Specifier addresses a module or module:accessible; empty means
	// no specifier (encoded as "." when data follows).
	Specifier string
	// Data is the decoded JSON payload, nil if absent.
	Data any
	// HasData distinguishes an explicit JSON null from an absent payload.
	HasData bool
}

// Module returns the module part of the specifier.
func (m Message) Module() string {
	mod, _, _ := strings.Cut(m.Specifier, ":")
	return mod
}

// Accessible returns the accessible part of the specifier, or "".
func (m Message) Accessible() string {
	_, acc, _ := strings.Cut(m.Specifier, ":")
	return acc
}

// IsError reports whether the action is an error reply.
func (m Message) IsError() bool {
	return strings.HasPrefix(m.Action, ErrorPrefix)
}

// Decode parses one frame (without the trailing LF).
func Decode(line []byte) (Message, error) {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) == 0 {
		return Message{}, errors.ProtocolError("empty line")
	}
	action, rest, _ := bytes.Cut(line, []byte{' '})
	msg := Message{Action: string(action)}
	if len(rest) == 0 {
		return msg, nil
	}
	spec, data, hasData := bytes.Cut(rest, []byte{' '})
	if s := string(spec); s != "." {
		msg.Specifier = s
	}
	if hasData && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &msg.Data); err != nil {
			return msg, errors.Wrap(err, errors.KindProtocolError, "invalid JSON data")
		}
		msg.HasData = true
	}
	return msg, nil
}

// Encode serializes a message into a frame including the trailing LF.
func Encode(m Message) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(m.Action)
	spec := m.Specifier
	if spec == "" && m.HasData {
		spec = "."
	}
	if spec != "" {
		buf.WriteByte(' ')
		buf.WriteString(spec)
	}
	if m.HasData {
		data, err := json.Marshal(m.Data)
		if err != nil {
			return nil, errors.Wrap(err, errors.KindInternal, "unencodable payload")
		}
		buf.WriteByte(' ')
		buf.Write(data)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Reply builds a reply message carrying a payload.
func Reply(action, specifier string, data any) Message {
	return Message{Action: action, Specifier: specifier, Data: data, HasData: true}
}

// ValueReport builds the standard [value, {"t": timestamp}] payload.
func ValueReport(value any, timestamp float64) []any {
	return []any{value, map[string]any{"t": timestamp}}
}

// ErrorReply builds the error_<action> reply for a failed request.
// The payload is [<error report>] with the original line as extra hint.
func ErrorReply(req Message, err error) Message {
	class, text, extra := errors.Report(err)
	action := req.Action
	if action == "" {
		action = "syntax"
	}
	return Message{
		Action:    ErrorPrefix + action,
		Specifier: req.Specifier,
		Data:      []any{class, text, extra},
		HasData:   true,
	}
}

// ParseError decodes an error reply payload back into a typed error.
func ParseError(data any) error {
	report, ok := data.([]any)
	if !ok || len(report) < 2 {
		return errors.Internal("unparseable error report: %v", data)
	}
	class, _ := report[0].(string)
	text, _ := report[1].(string)
	var extra map[string]any
	if len(report) > 2 {
		extra, _ = report[2].(map[string]any)
	}
	return errors.FromWire(class, text, extra)
}
