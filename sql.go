package snowflake

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
)

// NullID represents an ID column that may be NULL.
type NullID struct {
	ID    ID
	Valid bool
}

var (
	_ driver.Valuer    = NullID{}
	_ sql.Scanner      = (*NullID)(nil)
	_ json.Marshaler   = NullID{}
	_ json.Unmarshaler = (*NullID)(nil)
)

// NewNullID wraps id, treating Nil as NULL.
func NewNullID(id ID) NullID {
	return NullID{ID: id, Valid: !id.IsNil()}
}

// Value implements the driver.Valuer interface.
func (n NullID) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	return n.ID.Value()
}

// Scan implements the sql.Scanner interface.
func (n *NullID) Scan(src any) error {
	if src == nil {
		n.ID, n.Valid = Nil, false
		return nil
	}
	if err := n.ID.Scan(src); err != nil {
		n.Valid = false
		return err
	}
	n.Valid = true
	return nil
}

func (n NullID) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return n.ID.MarshalJSON()
}

func (n *NullID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		n.ID, n.Valid = Nil, false
		return nil
	}
	err := n.ID.UnmarshalJSON(b)
	n.Valid = err == nil
	return err
}
