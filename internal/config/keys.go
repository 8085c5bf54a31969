package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Keys with side effects in the control core.
const (
	KeyMachineOn   = "app.machine_on"
	KeyStartHour   = "app.start_hour"
	KeyStartMinute = "app.start_minute"
	KeyEndHour     = "app.end_hour"
	KeyEndMinute   = "app.end_minute"
	KeyTimezone    = "app.timezone"
)

// ErrUnknownKey is returned for keys that are not in the settable table.
var ErrUnknownKey = errors.New("unknown or read-only config key")

// Entry is a single key/value update from an untyped remote request.
type Entry struct {
	Key   string
	Value string
}

// IsString reports whether Value is a string literal rather than a numeric
// one: it is numeric only if every character is a digit, '.' or '-'.
func (e Entry) IsString() bool {
	for _, r := range e.Value {
		if (r < '0' || r > '9') && r != '.' && r != '-' {
			return true
		}
	}
	return false
}

// Kind is the value type a setting accepts.
type Kind int

const (
	KindBool Kind = iota
	KindInt
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	}
	return "unknown"
}

// setting is a typed setter for one remotely settable key.
type setting struct {
	kind  Kind
	parse func(Entry) (any, error)
}

func boolSetting() setting {
	return setting{kind: KindBool, parse: func(e Entry) (any, error) {
		b, err := strconv.ParseBool(strings.TrimSpace(e.Value))
		if err != nil {
			return nil, fmt.Errorf("expected true or false")
		}
		return b, nil
	}}
}

func intSetting(min, max int) setting {
	return setting{kind: KindInt, parse: func(e Entry) (any, error) {
		if e.Value == "" || e.IsString() {
			return nil, fmt.Errorf("expected a numeric literal")
		}
		n, err := strconv.Atoi(e.Value)
		if err != nil {
			return nil, fmt.Errorf("expected an integer")
		}
		if n < min || n > max {
			return nil, fmt.Errorf("must be between %d and %d", min, max)
		}
		return n, nil
	}}
}

func stringSetting(check func(string) error) setting {
	return setting{kind: KindString, parse: func(e Entry) (any, error) {
		if err := check(e.Value); err != nil {
			return nil, err
		}
		return e.Value, nil
	}}
}

func validTimezone(s string) error {
	_, err := loadLocation(s)
	return err
}

func validTopic(s string) error {
	if s == "" {
		return fmt.Errorf("topic must not be empty")
	}
	if strings.ContainsAny(s, "+#") {
		return fmt.Errorf("topic must not contain wildcards")
	}
	return nil
}

// settable is the table of keys remote callers may change.
var settable = map[string]setting{
	KeyMachineOn:             boolSetting(),
	KeyStartHour:             intSetting(0, 23),
	KeyStartMinute:           intSetting(0, 59),
	KeyEndHour:               intSetting(0, 23),
	KeyEndMinute:             intSetting(0, 59),
	"app.check_interval_ms":  intSetting(1, math.MaxInt32),
	"app.report_interval_ms": intSetting(1, math.MaxInt32),
	KeyTimezone:              stringSetting(validTimezone),
	"mqtt.status_topic":      stringSetting(validTopic),
}

// SettableKeys returns the remotely settable keys and their kinds.
func SettableKeys() map[string]Kind {
	out := make(map[string]Kind, len(settable))
	for k, s := range settable {
		out[k] = s.kind
	}
	return out
}

// ParseError is returned when a key is unknown or its value is malformed.
// No state has changed when it is returned.
type ParseError struct {
	Key   string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("config %s=%q: %v", e.Key, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ApplyError is returned when the update could not be fully applied.
// Stage "persist" means the in-memory value was rolled back. Stage "effect"
// means the config was applied and saved but a side effect failed, so the
// file and the machine may disagree until the next successful update.
type ApplyError struct {
	Key   string
	Stage string
	Err   error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply %s (%s): %v", e.Key, e.Stage, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}
