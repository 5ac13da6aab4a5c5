package snowflake

import (
	"database/sql"
	"database/sql/driver"
	"encoding"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/paraglidehq/snowflake/base58"
	"github.com/paraglidehq/snowflake/crockford"
)

// Bit layout, most significant first: sign (always 0) | 41 bits of
// milliseconds since the epoch | 10 bits worker | 12 bits sequence.
const (
	TimestampBits = 41
	WorkerBits    = 10
	SequenceBits  = 12

	WorkerShift = SequenceBits
	TimeShift   = SequenceBits + WorkerBits

	MaxWorkerID = 1<<WorkerBits - 1
	MaxSequence = 1<<SequenceBits - 1
	MaxOffset   = 1<<TimestampBits - 1
)

// DefaultEpoch is 2018-01-01T00:00:00+08:00 in Unix milliseconds.
const DefaultEpoch int64 = 1514736000000

// Compile-time interface checks for ID
var (
	_ fmt.Stringer             = ID(0)
	_ driver.Valuer            = ID(0)
	_ sql.Scanner              = (*ID)(nil)
	_ encoding.TextMarshaler   = ID(0)
	_ encoding.TextUnmarshaler = (*ID)(nil)
	_ json.Marshaler           = ID(0)
	_ json.Unmarshaler         = (*ID)(nil)
)

type Format string

const (
	FormatDecimal   Format = "decimal"
	FormatBase58    Format = "base58"
	FormatBase64    Format = "base64"
	FormatHex       Format = "hex"
	FormatCrockford Format = "crockford"
)

// DefaultFormat controls String, MarshalText and Parse.
var DefaultFormat = FormatDecimal

// ID is a 63-bit snowflake identifier.
type ID int64

var Nil ID = 0

func (id ID) Int64() int64 { return int64(id) }

func (id ID) IsNil() bool { return id == Nil }

// Offset returns the milliseconds elapsed between the epoch and issue time.
func (id ID) Offset() int64 { return int64(id) >> TimeShift }

func (id ID) WorkerID() uint16 { return uint16((int64(id) >> WorkerShift) & MaxWorkerID) }

func (id ID) Sequence() uint16 { return uint16(int64(id) & MaxSequence) }

// Time returns the issue time assuming DefaultEpoch.
func (id ID) Time() time.Time { return id.TimeAt(DefaultEpoch) }

// TimeAt returns the issue time for IDs generated against epoch.
func (id ID) TimeAt(epoch int64) time.Time {
	return time.UnixMilli(id.Offset() + epoch)
}

// Parts is the decoded form of an ID.
type Parts struct {
	Offset   int64
	WorkerID uint16
	Sequence uint16
}

// Decompose splits id into its fields.
func Decompose(id ID) Parts {
	return Parts{Offset: id.Offset(), WorkerID: id.WorkerID(), Sequence: id.Sequence()}
}

// Compose builds an ID from its fields, rejecting values that do not fit.
func Compose(p Parts) (ID, error) {
	switch {
	case p.Offset < 0 || p.Offset > MaxOffset:
		return Nil, fmt.Errorf("%w: offset %d", ErrTimestampOverflow, p.Offset)
	case p.WorkerID > MaxWorkerID:
		return Nil, fmt.Errorf("%w: %d", ErrInvalidWorkerID, p.WorkerID)
	case p.Sequence > MaxSequence:
		return Nil, fmt.Errorf("snowflake: sequence %d out of range", p.Sequence)
	}
	l := lane{sequence: p.Sequence, workerID: p.WorkerID}
	return ID(l.pack(p.Offset, 0)), nil
}

// Bytes returns the ID as an 8-byte big-endian slice.
func (id ID) Bytes() []byte {
	return binary.BigEndian.AppendUint64(make([]byte, 0, 8), uint64(id))
}

// FromBytes returns an ID from an 8-byte big-endian slice.
func FromBytes(b []byte) (ID, error) {
	if len(b) != 8 {
		return Nil, fmt.Errorf("snowflake: ID must be exactly 8 bytes, got %d", len(b))
	}
	return fromUint(binary.BigEndian.Uint64(b))
}

func (id ID) String() string {
	return id.Format(DefaultFormat)
}

func (id ID) Format(f Format) string {
	switch f {
	case FormatBase58:
		return base58.Encode(uint64(id))
	case FormatBase64:
		return base64.RawURLEncoding.EncodeToString(id.Bytes())
	case FormatHex:
		return strconv.FormatUint(uint64(id), 16)
	case FormatCrockford:
		return crockford.Encode(uint64(id))
	default:
		return strconv.FormatInt(int64(id), 10)
	}
}

// Parse parses a string into an ID using DefaultFormat.
func Parse(s string) (ID, error) {
	return ParseFormat(s, DefaultFormat)
}

// ParseFormat parses s as produced by id.Format(f).
func ParseFormat(s string, f Format) (ID, error) {
	if len(s) == 0 {
		return Nil, errors.New("snowflake: empty string")
	}
	switch f {
	case FormatBase58:
		return ParseBase58(s)
	case FormatBase64:
		return ParseBase64(s)
	case FormatHex:
		return ParseHex(s)
	case FormatCrockford:
		return ParseCrockford(s)
	default:
		return ParseDecimal(s)
	}
}

func ParseDecimal(s string) (ID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Nil, fmt.Errorf("snowflake: invalid decimal: %w", err)
	}
	return ID(n), nil
}

func ParseBase58(s string) (ID, error) {
	n, err := base58.Decode(s)
	if err != nil {
		return Nil, err
	}
	return fromUint(n)
}

func ParseCrockford(s string) (ID, error) {
	n, err := crockford.Decode(s)
	if err != nil {
		return Nil, err
	}
	return fromUint(n)
}

func ParseBase64(s string) (ID, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Nil, fmt.Errorf("snowflake: invalid base64: %w", err)
	}
	return FromBytes(b)
}

func ParseHex(s string) (ID, error) {
	if len(s) > 16 {
		return Nil, errors.New("snowflake: hex string must be 1-16 characters")
	}
	n, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return Nil, fmt.Errorf("snowflake: invalid hex: %w", err)
	}
	return fromUint(n)
}

// fromUint rejects values with the sign bit set; no generator issues them.
func fromUint(n uint64) (ID, error) {
	if n > math.MaxInt64 {
		return Nil, fmt.Errorf("snowflake: value %d exceeds 63 bits", n)
	}
	return ID(n), nil
}

// MarshalText implements encoding.TextMarshaler
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// MarshalJSON encodes the ID as a string; 63-bit integers do not survive
// JavaScript number parsing.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON accepts null, a JSON number, or a string in DefaultFormat.
func (id *ID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = Nil
		return nil
	}
	if len(b) > 0 && b[0] != '"' {
		n, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return errors.New("snowflake: invalid JSON value")
		}
		*id = ID(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("snowflake: invalid JSON string: %w", err)
	}
	return id.UnmarshalText([]byte(s))
}

// Value implements driver.Valuer; IDs are stored as BIGINT.
func (id ID) Value() (driver.Value, error) {
	return int64(id), nil
}

// Scan implements sql.Scanner
func (id *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*id = Nil
	case ID:
		*id = v
	case int64:
		*id = ID(v)
	case []byte:
		// MySQL returns BIGINT as text unless the column is scanned into a number.
		return id.scanText(string(v))
	case string:
		return id.scanText(v)
	default:
		return fmt.Errorf("snowflake: cannot scan %T", src)
	}
	return nil
}

func (id *ID) scanText(s string) error {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*id = ID(n)
		return nil
	}
	return id.UnmarshalText([]byte(s))
}

// Must panics if err is not nil
func Must(id ID, err error) ID {
	if err != nil {
		panic(err)
	}
	return id
}
