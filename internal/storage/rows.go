package storage

import (
	"database/sql"
	"encoding/base64"
	"fmt"
	"time"
)

// TimeLayout is the timestamp format persisted in the database: UTC at
// millisecond precision, compatible with SQLite date functions, and ordered
// lexicographically.
const TimeLayout = "2006-01-02 15:04:05.000"

// FormatTime renders a timestamp in the persisted layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a timestamp in the persisted layout.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}

// ResultSet is a fully materialized query result: column names plus rows of
// JSON-friendly values (int64, float64, bool, string, nil; blobs become
// base64 strings, timestamps RFC 3339 strings).
type ResultSet struct {
	Columns []string
	Rows    [][]any
}

// collectRows drains rows into a ResultSet, normalizing driver values.
func collectRows(rows *sql.Rows) (*ResultSet, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	rs := &ResultSet{Columns: cols}

	for rows.Next() {
		values := make([]any, len(cols))
		scanTargets := make([]any, len(cols))

		for i := range values {
			scanTargets[i] = &values[i]
		}

		if err := rows.Scan(scanTargets...); err != nil {
			return nil, err
		}

		for i, v := range values {
			values[i] = normalizeValue(v)
		}

		rs.Rows = append(rs.Rows, values)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return rs, nil
}

// normalizeValue maps a driver value to its JSON-friendly representation.
func normalizeValue(v any) any {
	switch value := v.(type) {
	case nil:
		return nil
	case int64, float64, bool, string:
		return value
	case []byte:
		return base64.StdEncoding.EncodeToString(value)
	case time.Time:
		return value.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", value)
	}
}
