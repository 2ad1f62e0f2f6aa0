package datatype

import (
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/SampleEnvironment/frappy-go/errors"
)

// Default size limits.
const (
	DefaultMaxChars = 255
	DefaultMaxBytes = 255
	DefaultMaxLen   = 100
)

// String is the SECoP string type. Lengths are counted in bytes for
// ASCII strings and in code points when IsUTF8 is set. Embedded NUL
// characters are rejected.
type String struct {
	MinChars, MaxChars int64
	IsUTF8             bool
}

// NewString creates an ASCII string type with the given length bounds.
func NewString(minChars, maxChars int64) *String {
	return &String{MinChars: minChars, MaxChars: maxChars}
}

func (t *String) length(s string) int64 {
	if t.IsUTF8 {
		return int64(utf8.RuneCountInString(s))
	}
	return int64(len(s))
}

func (t *String) Validate(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, errors.WrongType("%v is not a string", v)
	}
	if strings.ContainsRune(s, 0) {
		return nil, errors.WrongType("string contains embedded NUL")
	}
	if !t.IsUTF8 {
		for _, r := range s {
			if r > 127 {
				return nil, errors.WrongType("non-ASCII character in non-UTF8 string")
			}
		}
	}
	n := t.length(s)
	if n < t.MinChars || n > t.maxChars() {
		return nil, errors.RangeError("string length %d outside [%d, %d]", n, t.MinChars, t.maxChars())
	}
	return s, nil
}

func (t *String) maxChars() int64 {
	if t.MaxChars == 0 {
		return DefaultMaxChars
	}
	return t.MaxChars
}

func (t *String) Export(v any) any { return v }

func (t *String) Import(v any) (any, error) { return t.Validate(v) }

func (t *String) Format(v any) string { return fmt.Sprintf("%q", v) }

func (t *String) FromString(s string) (any, error) { return t.Validate(s) }

// CompatibleWith: other must allow at least this length window and the
// same or a larger character set.
func (t *String) CompatibleWith(other Datatype) error {
	o, ok := other.(*String)
	if !ok {
		return errors.New(errors.KindBadValue, "incompatible: not a string type")
	}
	if o.MinChars > t.MinChars || o.maxChars() < t.maxChars() {
		return errors.New(errors.KindBadValue, "incompatible: string length windows")
	}
	if t.IsUTF8 && !o.IsUTF8 {
		return errors.New(errors.KindBadValue, "incompatible: UTF8 not accepted")
	}
	return nil
}

func (t *String) Default() any {
	return strings.Repeat(" ", int(t.MinChars))
}

func (t *String) Info() map[string]any {
	info := map[string]any{"type": "string"}
	if t.MinChars > 0 {
		info["minchars"] = t.MinChars
	}
	info["maxchars"] = t.maxChars()
	if t.IsUTF8 {
		info["isUTF8"] = true
	}
	return info
}

func (t *String) SetMainUnit(string) {}

func (t *String) Clone() Datatype { c := *t; return &c }

// Blob is the SECoP binary type; the transport encoding is base64.
type Blob struct {
	MinBytes, MaxBytes int64
}

// NewBlob creates a blob type with the given size bounds.
func NewBlob(minBytes, maxBytes int64) *Blob {
	return &Blob{MinBytes: minBytes, MaxBytes: maxBytes}
}

func (t *Blob) maxBytes() int64 {
	if t.MaxBytes == 0 {
		return DefaultMaxBytes
	}
	return t.MaxBytes
}

func (t *Blob) Validate(v any) (any, error) {
	var b []byte
	switch raw := v.(type) {
	case []byte:
		b = raw
	case string:
		b = []byte(raw)
	default:
		return nil, errors.WrongType("%v is not a byte string", v)
	}
	n := int64(len(b))
	if n < t.MinBytes || n > t.maxBytes() {
		return nil, errors.RangeError("blob length %d outside [%d, %d]", n, t.MinBytes, t.maxBytes())
	}
	return b, nil
}

func (t *Blob) Export(v any) any {
	b, _ := v.([]byte)
	return base64.StdEncoding.EncodeToString(b)
}

func (t *Blob) Import(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, errors.WrongType("blob transport value is not a base64 string")
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.WrongType("invalid base64: %v", err)
	}
	return t.Validate(b)
}

func (t *Blob) Format(v any) string {
	b, _ := v.([]byte)
	return fmt.Sprintf("%d bytes", len(b))
}

func (t *Blob) FromString(s string) (any, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return t.Validate(b)
	}
	return t.Validate([]byte(s))
}

func (t *Blob) CompatibleWith(other Datatype) error {
	o, ok := other.(*Blob)
	if !ok {
		return errors.New(errors.KindBadValue, "incompatible: not a blob type")
	}
	if o.MinBytes > t.MinBytes || o.maxBytes() < t.maxBytes() {
		return errors.New(errors.KindBadValue, "incompatible: blob size windows")
	}
	return nil
}

func (t *Blob) Default() any {
	return make([]byte, t.MinBytes)
}

func (t *Blob) Info() map[string]any {
	info := map[string]any{"type": "blob", "maxbytes": t.maxBytes()}
	if t.MinBytes > 0 {
		info["minbytes"] = t.MinBytes
	}
	return info
}

func (t *Blob) SetMainUnit(string) {}

func (t *Blob) Clone() Datatype { c := *t; return &c }
