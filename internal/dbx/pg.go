package dbx

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolation is the SQLSTATE of unique_violation.
const uniqueViolation = "23505"

// IsUniqueViolation reports whether err carries a PostgreSQL unique_violation.
// Repositories use it to turn partial-unique-index hits into ErrConflict.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// NullTime converts an optional timestamp into a nullable column value.
func NullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// TimePtr is the inverse of NullTime.
func TimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// JSON marshals v for a JSONB column.
func JSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// ScanJSON decodes a JSONB column into v. NULL and empty values leave v untouched.
func ScanJSON(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
