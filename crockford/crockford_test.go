package crockford

import (
	"errors"
	"math"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	for _, n := range []uint64{0, 1, 31, 32, 1 << 40, math.MaxInt64, math.MaxUint64} {
		s := Encode(n)
		got, err := Decode(s)
		if err != nil {
			t.Fatalf("Decode(%q): %v", s, err)
		}
		if got != n {
			t.Errorf("Decode(Encode(%d)) = %d", n, got)
		}
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
		err  error
	}{
		{"z", 31, nil},
		{"Z", 31, nil},
		{"10", 32, nil},
		{"1-0", 32, nil},
		{"iLo", 1<<10 | 1<<5, nil},
		{"", 0, ErrEmpty},
		{"--", 0, ErrEmpty},
		{"u", 0, ErrInvalid},
		{"é", 0, ErrInvalid},
		{"g000000000000", 0, ErrOverflow},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Decode(tt.in)
			if !errors.Is(err, tt.err) {
				t.Fatalf("Decode(%q) error = %v, want %v", tt.in, err, tt.err)
			}
			if err == nil && got != tt.want {
				t.Errorf("Decode(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}
