package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringList is stored as JSON text, e.g. `["a","b"]`.
type StringList []string

// IndexList is stored as JSON text, e.g. `[0,2]`.
type IndexList []int

func (l StringList) Value() (driver.Value, error) {
	return encodeColumn([]string(l))
}

func (l *StringList) Scan(src any) error {
	var out []string
	if err := decodeColumn(src, &out); err != nil {
		return fmt.Errorf("scan string list: %w", err)
	}
	*l = out
	return nil
}

func (l IndexList) Value() (driver.Value, error) {
	return encodeColumn([]int(l))
}

func (l *IndexList) Scan(src any) error {
	var out []int
	if err := decodeColumn(src, &out); err != nil {
		return fmt.Errorf("scan index list: %w", err)
	}
	*l = out
	return nil
}

func encodeColumn[T any](v []T) (driver.Value, error) {
	if v == nil {
		v = []T{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeColumn(src any, dst any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported column type %T", src)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
