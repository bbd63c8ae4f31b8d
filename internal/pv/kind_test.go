package pv

import (
	"errors"
	"strings"
	"testing"
)

func TestResolveKind(t *testing.T) {
	tests := []struct {
		tag  string
		want ScalarKind
	}{
		{"d", KindDouble},
		{"f", KindFloat},
		{"t", KindEnum},
		{"s", KindShort},
		{"h", KindChar},
		{"l", KindLong},
		{"ul", KindULong},
		{"A40_c", KindText},
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			got, err := ResolveKind(tt.tag)
			if err != nil {
				t.Fatalf("ResolveKind(%q) error = %v", tt.tag, err)
			}
			if got != tt.want {
				t.Errorf("ResolveKind(%q) = %v, want %v", tt.tag, got, tt.want)
			}
		})
	}
}

func TestResolveKindUnsupported(t *testing.T) {
	for _, tag := range []string{"blob", "", "D", "A41_c"} {
		_, err := ResolveKind(tag)
		if !errors.Is(err, ErrUnsupportedType) {
			t.Errorf("ResolveKind(%q) error = %v, want ErrUnsupportedType", tag, err)
		}
		if tag != "" && !strings.Contains(err.Error(), tag) {
			t.Errorf("ResolveKind(%q) error %q does not name the tag", tag, err)
		}
	}
}

func TestKindRoundTrip(t *testing.T) {
	for k := KindDouble; k <= KindText; k++ {
		got, err := ResolveKind(k.Tag())
		if err != nil {
			t.Fatalf("ResolveKind(%s.Tag()) error = %v", k, err)
		}
		if got != k {
			t.Errorf("ResolveKind(%q) = %v, want %v", k.Tag(), got, k)
		}
		if k.ByteSize() == 0 {
			t.Errorf("%s.ByteSize() = 0", k)
		}
	}
}
