// Package errors provides typed error handling for the frappy-go SEC node.
//
// This package defines the SECoP error taxonomy. Every error that crosses
// the wire is classified by a Kind, serialized as ["<class>", "<text>",
// {<extra>}] and reconstructed on the client side. All errors support the
// standard errors.Is() and errors.As() functions for error inspection.
package errors

import (
	"errors"
	"fmt"
)

// Kind represents the SECoP error class of an error.
type Kind int

const (
	// KindNoSuchModule indicates a lookup of an unknown module.
	KindNoSuchModule Kind = iota
	// KindNoSuchParameter indicates a lookup of an unknown parameter.
	KindNoSuchParameter
	// KindNoSuchCommand indicates a lookup of an unknown command.
	KindNoSuchCommand
	// KindReadOnly indicates a write to a constant or readonly parameter.
	KindReadOnly
	// KindWrongType indicates a value rejected by shape.
	KindWrongType
	// KindRangeError indicates a value rejected by bounds.
	KindRangeError
	// KindBadValue is the parent class of WrongType and RangeError.
	// It is accepted in instance checks but never raised directly.
	KindBadValue
	// KindProtocolError indicates a malformed frame or unsupported action.
	KindProtocolError
	// KindCommandFailed indicates a command that reported failure.
	KindCommandFailed
	// KindCommandRunning indicates a command rejected while still running.
	KindCommandRunning
	// KindCommunicationFailed indicates transport or hardware I/O failure.
	KindCommunicationFailed
	// KindIsBusy indicates an operation rejected while the module is busy.
	KindIsBusy
	// KindIsError indicates an operation rejected while the module is in
	// an error state.
	KindIsError
	// KindDisabled indicates an operation rejected on a disabled module.
	KindDisabled
	// KindHardwareError indicates a generic device fault.
	KindHardwareError
	// KindTimeout indicates an expired client-side request wait.
	KindTimeout
	// KindConfig indicates an invalid module or node configuration.
	KindConfig
	// KindInternal indicates a programming error or unexpected exception.
	KindInternal
)

// WireName returns the SECoP error class name used on the wire.
func (k Kind) WireName() string {
	switch k {
	case KindNoSuchModule:
		return "NoSuchModule"
	case KindNoSuchParameter:
		return "NoSuchParameter"
	case KindNoSuchCommand:
		return "NoSuchCommand"
	case KindReadOnly:
		return "ReadOnly"
	case KindWrongType:
		return "WrongType"
	case KindRangeError:
		return "RangeError"
	case KindBadValue:
		return "BadValue"
	case KindProtocolError:
		return "ProtocolError"
	case KindCommandFailed:
		return "CommandFailed"
	case KindCommandRunning:
		return "CommandRunning"
	case KindCommunicationFailed:
		return "CommunicationFailed"
	case KindIsBusy:
		return "IsBusy"
	case KindIsError:
		return "IsError"
	case KindDisabled:
		return "Disabled"
	case KindHardwareError:
		return "HardwareError"
	case KindTimeout:
		return "TimeoutError"
	case KindConfig:
		return "ConfigError"
	default:
		return "InternalError"
	}
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	return k.WireName()
}

// kindByName maps wire class names back to kinds. Unknown names
// degrade to KindInternal on reconstruction.
var kindByName = map[string]Kind{
	"NoSuchModule":        KindNoSuchModule,
	"NoSuchParameter":     KindNoSuchParameter,
	"NoSuchCommand":       KindNoSuchCommand,
	"ReadOnly":            KindReadOnly,
	"WrongType":           KindWrongType,
	"RangeError":          KindRangeError,
	"BadValue":            KindBadValue,
	"ProtocolError":       KindProtocolError,
	"CommandFailed":       KindCommandFailed,
	"CommandRunning":      KindCommandRunning,
	"CommunicationFailed": KindCommunicationFailed,
	"IsBusy":              KindIsBusy,
	"IsError":             KindIsError,
	"Disabled":            KindDisabled,
	"HardwareError":       KindHardwareError,
	"TimeoutError":        KindTimeout,
	"ConfigError":         KindConfig,
	"InternalError":       KindInternal,
}

// SECoPError represents a classified error within the SEC node.
type SECoPError struct {
	// Kind is the SECoP error class.
	Kind Kind
	// Message is the human readable error text.
	Message string
	// Extra carries origin trace hints serialized into the error report.
	Extra map[string]any
	// Silent suppresses repeated logging for communication errors.
	Silent bool
	// Err is the underlying error, if any.
	Err error
}

// Error returns the error message.
func (e *SECoPError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Kind.WireName()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *SECoPError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether the error matches the target. It matches if the
// target is a *SECoPError with the same kind. KindBadValue matches
// WrongType and RangeError as well, mirroring the class hierarchy.
func (e *SECoPError) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	t, ok := target.(*SECoPError)
	if !ok {
		return false
	}
	if t.Kind == KindBadValue {
		return e.Kind == KindBadValue || e.Kind == KindWrongType || e.Kind == KindRangeError
	}
	return e.Kind == t.Kind
}

// New creates a new SECoPError with the given kind and formatted message.
func New(kind Kind, format string, args ...any) *SECoPError {
	return &SECoPError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an error under the given kind, keeping its text.
func Wrap(err error, kind Kind, format string, args ...any) *SECoPError {
	return &SECoPError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Convenience constructors for the common kinds.

// NoSuchModule reports an unknown module name.
func NoSuchModule(name string) *SECoPError {
	return New(KindNoSuchModule, "no such module: %s", name)
}

// NoSuchParameter reports an unknown parameter on a module.
func NoSuchParameter(module, param string) *SECoPError {
	return New(KindNoSuchParameter, "%s has no parameter %s", module, param)
}

// NoSuchCommand reports an unknown command on a module.
func NoSuchCommand(module, cmd string) *SECoPError {
	return New(KindNoSuchCommand, "%s has no command %s", module, cmd)
}

// ReadOnly reports a write to a non-writable parameter.
func ReadOnly(module, param string) *SECoPError {
	return New(KindReadOnly, "%s:%s is not writable", module, param)
}

// WrongType reports a value rejected by shape.
func WrongType(format string, args ...any) *SECoPError {
	return New(KindWrongType, format, args...)
}

// RangeError reports a value rejected by bounds.
func RangeError(format string, args ...any) *SECoPError {
	return New(KindRangeError, format, args...)
}

// ProtocolError reports a malformed frame or unsupported action.
func ProtocolError(format string, args ...any) *SECoPError {
	return New(KindProtocolError, format, args...)
}

// CommunicationFailed reports a transport or hardware I/O failure.
func CommunicationFailed(format string, args ...any) *SECoPError {
	return New(KindCommunicationFailed, format, args...)
}

// SilentCommunicationFailed is a CommunicationFailed whose repetitions
// are logged at debug level only.
func SilentCommunicationFailed(format string, args ...any) *SECoPError {
	e := New(KindCommunicationFailed, format, args...)
	e.Silent = true
	return e
}

// CommandFailed reports a failed command invocation.
func CommandFailed(format string, args ...any) *SECoPError {
	return New(KindCommandFailed, format, args...)
}

// Config reports an invalid configuration; the dispatcher consolidates
// these into a single report at startup.
func Config(format string, args ...any) *SECoPError {
	return New(KindConfig, format, args...)
}

// Internal reports a programming error or unexpected exception.
func Internal(format string, args ...any) *SECoPError {
	return New(KindInternal, format, args...)
}

// AsSECoP normalizes any error into a *SECoPError. Errors without a
// SECoP classification become KindInternal.
func AsSECoP(err error) *SECoPError {
	if err == nil {
		return nil
	}
	var se *SECoPError
	if errors.As(err, &se) {
		return se
	}
	return &SECoPError{Kind: KindInternal, Message: err.Error(), Err: err}
}

// IsKind checks if an error is of a specific kind.
func IsKind(err error, kind Kind) bool {
	var se *SECoPError
	if errors.As(err, &se) {
		if kind == KindBadValue {
			return se.Kind == KindBadValue || se.Kind == KindWrongType || se.Kind == KindRangeError
		}
		return se.Kind == kind
	}
	return false
}

// Report serializes an error into its wire triple [class, text, extra].
func Report(err error) (class, text string, extra map[string]any) {
	se := AsSECoP(err)
	extra = se.Extra
	if extra == nil {
		extra = map[string]any{}
	}
	return se.Kind.WireName(), se.Message, extra
}

// FromWire reconstructs an error from its wire triple. Unknown classes
// degrade to KindInternal, keeping the original class name in Extra.
func FromWire(class, text string, extra map[string]any) *SECoPError {
	kind, ok := kindByName[class]
	if !ok {
		kind = KindInternal
		if extra == nil {
			extra = map[string]any{}
		}
		extra["origin_class"] = class
	}
	return &SECoPError{Kind: kind, Message: text, Extra: extra}
}

// SameError reports whether two errors repeat the same failure: same
// kind and same message. Used for error flood suppression.
func SameError(a, b error) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ea, eb := AsSECoP(a), AsSECoP(b)
	return ea.Kind == eb.Kind && ea.Message == eb.Message
}

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
)
