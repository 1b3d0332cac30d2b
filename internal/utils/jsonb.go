package utils

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONB stores any JSON-encodable value in a Postgres JSONB column.
type JSONB[T any] struct {
	V T
}

func NewJSONB[T any](v T) JSONB[T] {
	return JSONB[T]{V: v}
}

func (j JSONB[T]) Value() (driver.Value, error) {
	return json.Marshal(j.V)
}

func (j *JSONB[T]) Scan(value any) error {
	var zero T
	j.V = zero
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, &j.V)
	case string:
		return json.Unmarshal([]byte(v), &j.V)
	default:
		return fmt.Errorf("JSONB: Scan failed, expected []byte but got %T", value)
	}
}
