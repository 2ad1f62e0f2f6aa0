package datatype

import (
	"fmt"
	"sort"

	"github.com/SampleEnvironment/frappy-go/errors"
)

// EnumMember is one name/code pair of an enum.
type EnumMember struct {
	Name string
	Code int64
}

// Enum is the SECoP enum type: an ordered mapping name -> integer.
type Enum struct {
	// EnumName is an optional label used in formatting error texts.
	EnumName string
	Members  []EnumMember

	byName map[string]int64
	byCode map[int64]string
}

// NewEnum creates an enum from name/code pairs in the given order.
func NewEnum(name string, members ...EnumMember) *Enum {
	e := &Enum{EnumName: name}
	for _, m := range members {
		e.Add(m.Name, m.Code)
	}
	return e
}

// Add appends a member, replacing an existing one of the same name.
func (t *Enum) Add(name string, code int64) {
	if t.byName == nil {
		t.byName = map[string]int64{}
		t.byCode = map[int64]string{}
	}
	if old, ok := t.byName[name]; ok {
		delete(t.byCode, old)
		for i, m := range t.Members {
			if m.Name == name {
				t.Members[i].Code = code
			}
		}
	} else {
		t.Members = append(t.Members, EnumMember{Name: name, Code: code})
	}
	t.byName[name] = code
	t.byCode[code] = name
}

// sort orders members by code; used when rebuilding from datainfo
// where JSON objects lose their order.
func (t *Enum) sort() {
	sort.Slice(t.Members, func(i, j int) bool { return t.Members[i].Code < t.Members[j].Code })
}

// Validate accepts a member name or a member code.
func (t *Enum) Validate(v any) (any, error) {
	if s, ok := v.(string); ok {
		if code, ok := t.byName[s]; ok {
			return code, nil
		}
		return nil, errors.RangeError("%q is not a member of enum %s", s, t.label())
	}
	if code, ok := toInt(v); ok {
		if _, ok := t.byCode[code]; ok {
			return code, nil
		}
		return nil, errors.RangeError("%d is not a member of enum %s", code, t.label())
	}
	return nil, errors.WrongType("%v is not an enum member", v)
}

func (t *Enum) label() string {
	if t.EnumName != "" {
		return t.EnumName
	}
	return "<anonymous>"
}

func (t *Enum) Export(v any) any { return v }

func (t *Enum) Import(v any) (any, error) { return t.Validate(v) }

// Format renders a member as "NAME<code>".
func (t *Enum) Format(v any) string {
	code, _ := toInt(v)
	if name, ok := t.byCode[code]; ok {
		return fmt.Sprintf("%s<%d>", name, code)
	}
	return fmt.Sprintf("<%d>", code)
}

func (t *Enum) FromString(s string) (any, error) {
	return fromStringJSON(t, s)
}

// CompatibleWith: every member of this enum must be accepted by other.
func (t *Enum) CompatibleWith(other Datatype) error {
	for _, m := range t.Members {
		if _, err := other.Validate(m.Code); err != nil {
			return errors.New(errors.KindBadValue, "incompatible: %v", err)
		}
	}
	return nil
}

// Default returns the code of the member with the lowest value.
func (t *Enum) Default() any {
	if len(t.Members) == 0 {
		return int64(0)
	}
	min := t.Members[0].Code
	for _, m := range t.Members[1:] {
		if m.Code < min {
			min = m.Code
		}
	}
	return min
}

func (t *Enum) Info() map[string]any {
	members := map[string]any{}
	for _, m := range t.Members {
		members[m.Name] = m.Code
	}
	return map[string]any{"type": "enum", "members": members}
}

func (t *Enum) SetMainUnit(string) {}

func (t *Enum) Clone() Datatype {
	c := NewEnum(t.EnumName)
	for _, m := range t.Members {
		c.Add(m.Name, m.Code)
	}
	return c
}

// Standard status codes. The main states are IDLE=100, WARN=200,
// BUSY=300 and ERROR=400; sub-states refine them within their century.
const (
	StatusDisabled    = 0
	StatusIdle        = 100
	StatusStandby     = 130
	StatusPrepared    = 150
	StatusWarn        = 200
	StatusUnstable    = 270
	StatusBusy        = 300
	StatusPreparing   = 340
	StatusRamping     = 370
	StatusStabilizing = 380
	StatusFinalizing  = 390
	StatusError       = 400
	StatusUnknown     = 401
)

// StatusEnum returns the standard status code alphabet.
func StatusEnum() *Enum {
	return NewEnum("Status",
		EnumMember{"DISABLED", StatusDisabled},
		EnumMember{"IDLE", StatusIdle},
		EnumMember{"STANDBY", StatusStandby},
		EnumMember{"PREPARED", StatusPrepared},
		EnumMember{"WARN", StatusWarn},
		EnumMember{"UNSTABLE", StatusUnstable},
		EnumMember{"BUSY", StatusBusy},
		EnumMember{"PREPARING", StatusPreparing},
		EnumMember{"RAMPING", StatusRamping},
		EnumMember{"STABILIZING", StatusStabilizing},
		EnumMember{"FINALIZING", StatusFinalizing},
		EnumMember{"ERROR", StatusError},
		EnumMember{"UNKNOWN", StatusUnknown},
	)
}

// StatusType returns the standard status tuple (code, text).
func StatusType() *Tuple {
	return &Tuple{Members: []Datatype{StatusEnum(), &String{MaxChars: DefaultMaxChars, IsUTF8: true}}}
}

// Status builds a status tuple value.
func Status(code int64, text string) []any {
	return []any{code, text}
}

// StatusCode extracts the code from a status tuple value.
func StatusCode(v any) int64 {
	tup, ok := v.([]any)
	if !ok || len(tup) == 0 {
		return StatusUnknown
	}
	code, ok := toInt(tup[0])
	if !ok {
		return StatusUnknown
	}
	return code
}

// IsBusyCode reports whether a status code means busy: within
// [BUSY, ERROR).
func IsBusyCode(code int64) bool {
	return code >= StatusBusy && code < StatusError
}
