package snowflake

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
)

// testID is a sample ID for codec testing: offset 294347, worker 1012, sequence 789.
var testID = ID(294347<<22 | 1012<<12 | 789)

func TestID(t *testing.T) {
	t.Run("IsNil", func(t *testing.T) {
		var id ID
		if !id.IsNil() || !Nil.IsNil() {
			t.Error("zero ID.IsNil() = false, want true")
		}
		if testID.IsNil() {
			t.Error("testID.IsNil() = true, want false")
		}
	})
	t.Run("Fields", func(t *testing.T) {
		if got := testID.Offset(); got != 294347 {
			t.Errorf("Offset() = %d", got)
		}
		if got := testID.WorkerID(); got != 1012 {
			t.Errorf("WorkerID() = %d", got)
		}
		if got := testID.Sequence(); got != 789 {
			t.Errorf("Sequence() = %d", got)
		}
	})
	t.Run("Bytes", func(t *testing.T) {
		id := ID(0x1122334455667788)
		want := []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}
		if got := id.Bytes(); !bytes.Equal(got, want) {
			t.Errorf("Bytes() = %x, want %x", got, want)
		}
	})
}

func TestComposeDecompose(t *testing.T) {
	p := Decompose(testID)
	want := Parts{Offset: 294347, WorkerID: 1012, Sequence: 789}
	if p != want {
		t.Fatalf("Decompose() = %+v, want %+v", p, want)
	}
	id, err := Compose(p)
	if err != nil {
		t.Fatal(err)
	}
	if id != testID {
		t.Errorf("Compose(Decompose(id)) = %d, want %d", id, testID)
	}

	bad := []struct {
		name string
		p    Parts
		want error
	}{
		{"NegativeOffset", Parts{Offset: -1}, ErrTimestampOverflow},
		{"OffsetTooLarge", Parts{Offset: MaxOffset + 1}, ErrTimestampOverflow},
		{"Worker", Parts{WorkerID: MaxWorkerID + 1}, ErrInvalidWorkerID},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Compose(tt.p); !errors.Is(err, tt.want) {
				t.Errorf("Compose(%+v) err = %v, want %v", tt.p, err, tt.want)
			}
		})
	}
	if _, err := Compose(Parts{Sequence: MaxSequence + 1}); err == nil {
		t.Error("Compose with sequence 4096 succeeded")
	}
}

func TestFromBytes(t *testing.T) {
	got, err := FromBytes(testID.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if got != testID {
		t.Errorf("FromBytes() = %v, want %v", got, testID)
	}
	for _, b := range [][]byte{{}, {1, 2, 3}, {1, 2, 3, 4, 5, 6, 7, 8, 9}, {0x80, 0, 0, 0, 0, 0, 0, 0}} {
		if _, err := FromBytes(b); err == nil {
			t.Errorf("FromBytes(%x): want error", b)
		}
	}
}

func TestIDFormat(t *testing.T) {
	tests := []struct {
		format Format
		parse  func(string) (ID, error)
	}{
		{FormatDecimal, ParseDecimal},
		{FormatBase58, ParseBase58},
		{FormatBase64, ParseBase64},
		{FormatHex, ParseHex},
		{FormatCrockford, ParseCrockford},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			s := testID.Format(tt.format)
			got, err := tt.parse(s)
			if err != nil {
				t.Fatalf("parse(%q): %v", s, err)
			}
			if got != testID {
				t.Errorf("parse(%q) = %v, want %v", s, got, testID)
			}
			got, err = ParseFormat(s, tt.format)
			if err != nil || got != testID {
				t.Errorf("ParseFormat(%q, %s) = %v, %v", s, tt.format, got, err)
			}
		})
	}

	if got, want := testID.String(), strconv.FormatInt(int64(testID), 10); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestParseErrors(t *testing.T) {
	fns := map[string]func(string) (ID, error){
		"Decimal":   ParseDecimal,
		"Base58":    ParseBase58,
		"Base64":    ParseBase64,
		"Hex":       ParseHex,
		"Crockford": ParseCrockford,
	}
	for name, fn := range fns {
		t.Run(name, func(t *testing.T) {
			if _, err := fn(""); err == nil {
				t.Error("empty input: want error")
			}
			if _, err := fn("!!not-an-id!!"); err == nil {
				t.Error("garbage input: want error")
			}
		})
	}
	if _, err := Parse(""); err == nil {
		t.Error("Parse(empty): want error")
	}
	if _, err := ParseHex("11223344556677889"); err == nil {
		t.Error("ParseHex(17 chars): want error")
	}
	if _, err := ParseHex("8000000000000000"); err == nil {
		t.Error("ParseHex(sign bit): want error")
	}
}

func TestIDText(t *testing.T) {
	b, err := testID.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	var got ID
	if err := got.UnmarshalText(b); err != nil {
		t.Fatal(err)
	}
	if got != testID {
		t.Errorf("text round trip = %v, want %v", got, testID)
	}
}

func TestIDJSON(t *testing.T) {
	type doc struct {
		ID ID `json:"id"`
	}
	b, err := json.Marshal(doc{ID: testID})
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"id":"` + testID.String() + `"}`; string(b) != want {
		t.Errorf("json.Marshal = %s, want %s", b, want)
	}

	tests := []struct {
		name string
		in   string
		want ID
	}{
		{"String", `"` + testID.String() + `"`, testID},
		{"Numeric", testID.Format(FormatDecimal), testID},
		{"Null", "null", Nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got ID
			if err := got.UnmarshalJSON([]byte(tt.in)); err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("UnmarshalJSON(%s) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}

	var got ID
	if err := got.UnmarshalJSON([]byte("not-json")); err == nil {
		t.Errorf("UnmarshalJSON(invalid): want error, got %v", got)
	}
}

func TestMust(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Must did not panic on error")
		}
	}()
	if got := Must(testID, nil); got != testID {
		t.Errorf("Must() = %v", got)
	}
	Must(Nil, errors.New("boom"))
}

func BenchmarkIDString(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = testID.String()
	}
}

func BenchmarkParseBase58(b *testing.B) {
	s := testID.Format(FormatBase58)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = ParseBase58(s)
	}
}
