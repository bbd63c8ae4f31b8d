package pv

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Wire codec: one fixed big-endian encoding per ScalarKind. The kind is the
// single source of truth for layout; the codec never inspects a payload to
// guess its shape.

// Encode appends the wire form of v to dst and returns the extended slice.
func Encode(dst []byte, v Value) ([]byte, error) {
	switch v.kind {
	case KindDouble:
		return binary.BigEndian.AppendUint64(dst, math.Float64bits(v.v.(float64))), nil
	case KindFloat:
		return binary.BigEndian.AppendUint32(dst, math.Float32bits(v.v.(float32))), nil
	case KindEnum:
		return binary.BigEndian.AppendUint16(dst, v.v.(uint16)), nil
	case KindShort:
		return binary.BigEndian.AppendUint16(dst, uint16(v.v.(int16))), nil
	case KindChar:
		return append(dst, v.v.(byte)), nil
	case KindLong:
		return binary.BigEndian.AppendUint32(dst, uint32(v.v.(int32))), nil
	case KindULong:
		return binary.BigEndian.AppendUint32(dst, v.v.(uint32)), nil
	case KindText:
		return appendText(dst, v.v.(string)), nil
	default:
		return dst, fmt.Errorf("%w: %s", ErrUnsupportedType, v.kind)
	}
}

func appendText(dst []byte, s string) []byte {
	var buf [TextWidth]byte
	copy(buf[:], s)
	return append(dst, buf[:]...)
}

// Decode parses one element of the given kind from the front of data.
// data must hold at least kind.ByteSize() bytes.
func Decode(kind ScalarKind, data []byte) (Value, error) {
	if size := kind.ByteSize(); size == 0 || len(data) < size {
		return Value{}, fmt.Errorf("%w: %d bytes for %s (need %d)",
			ErrEncodingMismatch, len(data), kind, kind.ByteSize())
	}
	switch kind {
	case KindDouble:
		return Double(math.Float64frombits(binary.BigEndian.Uint64(data))), nil
	case KindFloat:
		return Float(math.Float32frombits(binary.BigEndian.Uint32(data))), nil
	case KindEnum:
		return Enum(binary.BigEndian.Uint16(data)), nil
	case KindShort:
		return Short(int16(binary.BigEndian.Uint16(data))), nil
	case KindChar:
		return Char(data[0]), nil
	case KindLong:
		return Long(int32(binary.BigEndian.Uint32(data))), nil
	case KindULong:
		return ULong(binary.BigEndian.Uint32(data)), nil
	case KindText:
		s := string(data[:TextWidth])
		if i := strings.IndexByte(s, 0); i >= 0 {
			s = s[:i]
		}
		return Text(s), nil
	default:
		return Value{}, fmt.Errorf("%w: %s", ErrUnsupportedType, kind)
	}
}

// DecodeSlice parses count consecutive elements of the given kind.
func DecodeSlice(kind ScalarKind, count int, data []byte) ([]Value, error) {
	size := kind.ByteSize()
	if len(data) < count*size {
		return nil, fmt.Errorf("%w: %d bytes for %d %s elements",
			ErrEncodingMismatch, len(data), count, kind)
	}
	out := make([]Value, 0, count)
	for i := 0; i < count; i++ {
		v, err := Decode(kind, data[i*size:])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
