package pv

import "fmt"

// ScalarKind identifies one of the fixed wire-level value encodings.
//
// The set is closed: it mirrors the field types the remote control system
// can report for a PV. Kind resolution happens exactly once per operation,
// through ResolveKind or the generic type mapping; nothing in this package
// dispatches on runtime type names.
type ScalarKind uint8

const (
	// KindDouble is a 64-bit IEEE float (tag "d").
	KindDouble ScalarKind = iota
	// KindFloat is a 32-bit IEEE float (tag "f").
	KindFloat
	// KindEnum is an enumerated value carried as a 16-bit unsigned integer
	// (tag "t").
	KindEnum
	// KindShort is a 16-bit signed integer (tag "s").
	KindShort
	// KindChar is an 8-bit character (tag "h").
	KindChar
	// KindLong is a 32-bit signed integer (tag "l").
	KindLong
	// KindULong is a 32-bit unsigned integer (tag "ul").
	KindULong
	// KindText is a fixed-width 40-byte text field (tag "A40_c").
	KindText
)

// TextWidth is the fixed wire width of a KindText value, in bytes.
// Shorter strings are NUL padded; longer strings are truncated.
const TextWidth = 40

// kindTable drives tag resolution and wire sizing. One row per kind.
var kindTable = [...]struct {
	tag  string
	name string
	size int
}{
	KindDouble: {"d", "double", 8},
	KindFloat:  {"f", "float", 4},
	KindEnum:   {"t", "enum", 2},
	KindShort:  {"s", "short", 2},
	KindChar:   {"h", "char", 1},
	KindLong:   {"l", "long", 4},
	KindULong:  {"ul", "ulong", 4},
	KindText:   {"A40_c", "text", TextWidth},
}

// ResolveKind maps an external field-type tag to its ScalarKind.
//
// Recognised tags: "d", "f", "t", "s", "h", "l", "ul", "A40_c".
// Any other tag fails with ErrUnsupportedType carrying the offending tag.
func ResolveKind(tag string) (ScalarKind, error) {
	for k := range kindTable {
		if kindTable[k].tag == tag {
			return ScalarKind(k), nil
		}
	}
	return 0, fmt.Errorf("%w: tag %q", ErrUnsupportedType, tag)
}

// Valid reports whether k is one of the defined kinds.
func (k ScalarKind) Valid() bool {
	return int(k) < len(kindTable)
}

// Tag returns the external field-type tag for k.
func (k ScalarKind) Tag() string {
	if !k.Valid() {
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
	return kindTable[k].tag
}

// ByteSize returns the wire size of one element of kind k.
func (k ScalarKind) ByteSize() int {
	if !k.Valid() {
		return 0
	}
	return kindTable[k].size
}

// String returns a human-readable kind name for logs and error messages.
func (k ScalarKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
	return kindTable[k].name
}
