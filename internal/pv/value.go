package pv

import (
	"fmt"
	"strconv"
)

// Value is a tagged union carrying one PV element: a ScalarKind plus the
// payload for that kind. Callers construct Values with the typed
// constructors and take payloads back out with the typed accessors, which
// fail with ErrEncodingMismatch instead of silently converting.
type Value struct {
	kind ScalarKind
	v    any
}

// Double returns a Value of kind KindDouble.
func Double(v float64) Value { return Value{KindDouble, v} }

// Float returns a Value of kind KindFloat.
func Float(v float32) Value { return Value{KindFloat, v} }

// Enum returns a Value of kind KindEnum.
func Enum(v uint16) Value { return Value{KindEnum, v} }

// Short returns a Value of kind KindShort.
func Short(v int16) Value { return Value{KindShort, v} }

// Char returns a Value of kind KindChar.
func Char(v byte) Value { return Value{KindChar, v} }

// Long returns a Value of kind KindLong.
func Long(v int32) Value { return Value{KindLong, v} }

// ULong returns a Value of kind KindULong.
func ULong(v uint32) Value { return Value{KindULong, v} }

// Text returns a Value of kind KindText. The string is truncated to
// TextWidth bytes on the wire.
func Text(v string) Value { return Value{KindText, v} }

// Kind returns the value's scalar kind.
func (v Value) Kind() ScalarKind { return v.kind }

func (v Value) mismatch(want ScalarKind) error {
	return fmt.Errorf("%w: value is %s, want %s", ErrEncodingMismatch, v.kind, want)
}

// AsDouble returns the float64 payload, or ErrEncodingMismatch.
func (v Value) AsDouble() (float64, error) {
	if v.kind != KindDouble {
		return 0, v.mismatch(KindDouble)
	}
	return v.v.(float64), nil
}

// AsFloat returns the float32 payload, or ErrEncodingMismatch.
func (v Value) AsFloat() (float32, error) {
	if v.kind != KindFloat {
		return 0, v.mismatch(KindFloat)
	}
	return v.v.(float32), nil
}

// AsEnum returns the uint16 payload, or ErrEncodingMismatch.
func (v Value) AsEnum() (uint16, error) {
	if v.kind != KindEnum {
		return 0, v.mismatch(KindEnum)
	}
	return v.v.(uint16), nil
}

// AsShort returns the int16 payload, or ErrEncodingMismatch.
func (v Value) AsShort() (int16, error) {
	if v.kind != KindShort {
		return 0, v.mismatch(KindShort)
	}
	return v.v.(int16), nil
}

// AsChar returns the byte payload, or ErrEncodingMismatch.
func (v Value) AsChar() (byte, error) {
	if v.kind != KindChar {
		return 0, v.mismatch(KindChar)
	}
	return v.v.(byte), nil
}

// AsLong returns the int32 payload, or ErrEncodingMismatch.
func (v Value) AsLong() (int32, error) {
	if v.kind != KindLong {
		return 0, v.mismatch(KindLong)
	}
	return v.v.(int32), nil
}

// AsULong returns the uint32 payload, or ErrEncodingMismatch.
func (v Value) AsULong() (uint32, error) {
	if v.kind != KindULong {
		return 0, v.mismatch(KindULong)
	}
	return v.v.(uint32), nil
}

// AsText returns the string payload, or ErrEncodingMismatch.
func (v Value) AsText() (string, error) {
	if v.kind != KindText {
		return "", v.mismatch(KindText)
	}
	return v.v.(string), nil
}

// Float64 returns the payload widened to float64 for any numeric kind.
// Used by integrations that record samples without caring about the exact
// kind. Fails with ErrEncodingMismatch for KindText.
func (v Value) Float64() (float64, error) {
	switch v.kind {
	case KindDouble:
		return v.v.(float64), nil
	case KindFloat:
		return float64(v.v.(float32)), nil
	case KindEnum:
		return float64(v.v.(uint16)), nil
	case KindShort:
		return float64(v.v.(int16)), nil
	case KindChar:
		return float64(v.v.(byte)), nil
	case KindLong:
		return float64(v.v.(int32)), nil
	case KindULong:
		return float64(v.v.(uint32)), nil
	default:
		return 0, fmt.Errorf("%w: %s value is not numeric", ErrEncodingMismatch, v.kind)
	}
}

// String returns the canonical decimal text form of the value: the shortest
// representation that round-trips for float kinds, base-10 for integer
// kinds, the payload itself for text.
func (v Value) String() string {
	switch v.kind {
	case KindDouble:
		return strconv.FormatFloat(v.v.(float64), 'g', -1, 64)
	case KindFloat:
		return strconv.FormatFloat(float64(v.v.(float32)), 'g', -1, 32)
	case KindEnum:
		return strconv.FormatUint(uint64(v.v.(uint16)), 10)
	case KindShort:
		return strconv.FormatInt(int64(v.v.(int16)), 10)
	case KindChar:
		return strconv.FormatUint(uint64(v.v.(byte)), 10)
	case KindLong:
		return strconv.FormatInt(int64(v.v.(int32)), 10)
	case KindULong:
		return strconv.FormatUint(uint64(v.v.(uint32)), 10)
	case KindText:
		return v.v.(string)
	default:
		return ""
	}
}

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(o Value) bool {
	return v.kind == o.kind && v.v == o.v
}

// ParseValue parses the canonical text form of a value of the given kind.
// It is the inverse of String for every kind and is used where values cross
// a text boundary (MQTT commands, the HTTP API).
func ParseValue(kind ScalarKind, text string) (Value, error) {
	switch kind {
	case KindDouble:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a double", ErrEncodingMismatch, text)
		}
		return Double(f), nil
	case KindFloat:
		f, err := strconv.ParseFloat(text, 32)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a float", ErrEncodingMismatch, text)
		}
		return Float(float32(f)), nil
	case KindEnum:
		u, err := strconv.ParseUint(text, 10, 16)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not an enum ordinal", ErrEncodingMismatch, text)
		}
		return Enum(uint16(u)), nil
	case KindShort:
		i, err := strconv.ParseInt(text, 10, 16)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a short", ErrEncodingMismatch, text)
		}
		return Short(int16(i)), nil
	case KindChar:
		u, err := strconv.ParseUint(text, 10, 8)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a char", ErrEncodingMismatch, text)
		}
		return Char(byte(u)), nil
	case KindLong:
		i, err := strconv.ParseInt(text, 10, 32)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a long", ErrEncodingMismatch, text)
		}
		return Long(int32(i)), nil
	case KindULong:
		u, err := strconv.ParseUint(text, 10, 32)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a ulong", ErrEncodingMismatch, text)
		}
		return ULong(uint32(u)), nil
	case KindText:
		return Text(text), nil
	default:
		return Value{}, fmt.Errorf("%w: %s", ErrUnsupportedType, kind)
	}
}
