package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Key identifies one consistency sequence. Events sharing a key are
// serialized by the bus and sticky-routed to a single instance per
// client type.
type Key = string

// Value is the consistency value carried by an event: either implicit
// ("give me the next value") or an explicit sequence number that must be
// exactly the next expected value for its key.
//
// On the wire an implicit value is the string "*"; an explicit value is a
// JSON number (numeric strings are accepted too). The zero Value is
// implicit, which is also the default when the field is omitted.
type Value struct {
	explicit bool
	n        uint32
}

// Implicit returns the implicit consistency value.
func Implicit() Value { return Value{} }

// Explicit returns an explicit consistency value.
func Explicit(n uint32) Value { return Value{explicit: true, n: n} }

// IsImplicit reports whether the value is the implicit marker.
func (v Value) IsImplicit() bool { return !v.explicit }

// Uint32 returns the explicit sequence number. It reports false for
// implicit values, which carry no number.
func (v Value) Uint32() (uint32, bool) { return v.n, v.explicit }

func (v Value) String() string {
	if !v.explicit {
		return "implicit"
	}
	return strconv.FormatUint(uint64(v.n), 10)
}

// MarshalJSON encodes implicit values as "*" and explicit values as numbers.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.explicit {
		return []byte(`"*"`), nil
	}
	return []byte(strconv.FormatUint(uint64(v.n), 10)), nil
}

// UnmarshalJSON accepts a JSON number, the string "*", or a numeric string.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch value := raw.(type) {
	case float64:
		if value < 0 || value != float64(uint32(value)) {
			return fmt.Errorf("consistency value out of range: %v", value)
		}
		*v = Explicit(uint32(value))
		return nil
	case string:
		parsed, err := ParseValue(value)
		if err != nil {
			return err
		}
		*v = parsed
		return nil
	default:
		return fmt.Errorf("consistency value must be a number or string, got %T", raw)
	}
}

// ParseValue parses the string form of a consistency value: "*" for
// implicit, otherwise an unsigned integer.
func ParseValue(s string) (Value, error) {
	if s == "*" {
		return Implicit(), nil
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return Value{}, fmt.Errorf("parse consistency value %q: %w", s, err)
	}
	return Explicit(uint32(n)), nil
}

// Consistency is the (key, value) pair carried by every event.
type Consistency struct {
	Key   Key   `json:"key"`
	Value Value `json:"value"`
}
