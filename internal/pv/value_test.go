package pv

import (
	"errors"
	"testing"
)

func TestValueString(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want string
	}{
		{"double", Double(3.14), "3.14"},
		{"double integral", Double(42), "42"},
		{"double negative", Double(-0.5), "-0.5"},
		{"float", Float(2.5), "2.5"},
		{"enum", Enum(3), "3"},
		{"short", Short(-12), "-12"},
		{"char", Char(7), "7"},
		{"long", Long(-100000), "-100000"},
		{"ulong", ULong(4000000000), "4000000000"},
		{"text", Text("READY"), "READY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValueAccessorMismatch(t *testing.T) {
	v := Double(1.0)
	if _, err := v.AsLong(); !errors.Is(err, ErrEncodingMismatch) {
		t.Errorf("AsLong on double: error = %v, want ErrEncodingMismatch", err)
	}
	if _, err := v.AsText(); !errors.Is(err, ErrEncodingMismatch) {
		t.Errorf("AsText on double: error = %v, want ErrEncodingMismatch", err)
	}
	if got, err := v.AsDouble(); err != nil || got != 1.0 {
		t.Errorf("AsDouble = (%v, %v), want (1, nil)", got, err)
	}
}

func TestValueFloat64(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want float64
	}{
		{"double", Double(1.5), 1.5},
		{"float", Float(0.25), 0.25},
		{"enum", Enum(9), 9},
		{"short", Short(-3), -3},
		{"char", Char(255), 255},
		{"long", Long(-7), -7},
		{"ulong", ULong(12), 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.v.Float64()
			if err != nil || got != tt.want {
				t.Errorf("Float64() = (%v, %v), want (%v, nil)", got, err, tt.want)
			}
		})
	}

	if _, err := Text("x").Float64(); !errors.Is(err, ErrEncodingMismatch) {
		t.Errorf("Float64 on text: error = %v, want ErrEncodingMismatch", err)
	}
}

func TestParseValueRoundTrip(t *testing.T) {
	values := []Value{
		Double(3.14), Float(1.5), Enum(2), Short(-8), Char(65),
		Long(123456), ULong(7), Text("axis ready"),
	}
	for _, v := range values {
		got, err := ParseValue(v.Kind(), v.String())
		if err != nil {
			t.Fatalf("ParseValue(%s, %q) error = %v", v.Kind(), v.String(), err)
		}
		if !got.Equal(v) {
			t.Errorf("ParseValue(%s, %q) = %v, want %v", v.Kind(), v.String(), got, v)
		}
	}
}

func TestParseValueRejectsGarbage(t *testing.T) {
	tests := []struct {
		kind ScalarKind
		text string
	}{
		{KindDouble, "not-a-number"},
		{KindEnum, "-1"},
		{KindShort, "40000"},
		{KindChar, "256"},
		{KindLong, "abc"},
		{KindULong, "-2"},
	}
	for _, tt := range tests {
		if _, err := ParseValue(tt.kind, tt.text); !errors.Is(err, ErrEncodingMismatch) {
			t.Errorf("ParseValue(%s, %q) error = %v, want ErrEncodingMismatch",
				tt.kind, tt.text, err)
		}
	}
}
