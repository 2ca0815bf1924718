package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// marshalStringMap converts a string map to JSON TEXT for storage.
// Nil and empty maps both store as "{}" so the column is never NULL.
// Go's json.Marshal sorts map keys, so output is deterministic.
func marshalStringMap(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal map: %w", err)
	}
	return string(data), nil
}

// unmarshalStringMap parses JSON TEXT back to a string map.
// Empty JSON yields nil so round-tripped records compare equal to their
// zero-value originals.
func unmarshalStringMap(data string) (map[string]string, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("unmarshal map: %w", err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

// nullString maps an empty string to NULL for optional TEXT columns.
func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// nullInt maps a nil pointer to NULL for optional INTEGER columns.
func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

// fromNullString converts a scanned NULL-able TEXT back to a pointer.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// fromNullInt converts a scanned NULL-able INTEGER back to a pointer.
func fromNullInt(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	i := int(ni.Int64)
	return &i
}

// boolToInt stores booleans as 0/1 INTEGER columns.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
