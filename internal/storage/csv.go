package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var (
	// ErrCSVEmpty is returned when a CSV source has no header row.
	ErrCSVEmpty = errors.New("csv data has no header row")
)

// Column affinity inference order. A column starts as INTEGER and widens to
// REAL, then TEXT, as values disqualify the narrower type. Empty values never
// influence inference and load as NULL for non-TEXT columns.
const (
	affinityInteger = "INTEGER"
	affinityReal    = "REAL"
	affinityText    = "TEXT"
)

// CreateTableFromCSV loads CSV data into a physical table, replacing any
// existing table of the same name. The header row supplies column names;
// column types are inferred from the data. Returns the number of data rows
// loaded.
func (e *Engine) CreateTableFromCSV(ctx context.Context, tableName string, r io.Reader) (int, error) {
	reader := csv.NewReader(r)

	records, err := reader.ReadAll()
	if err != nil {
		return 0, fmt.Errorf("failed to parse csv: %w", err)
	}

	if len(records) == 0 {
		return 0, ErrCSVEmpty
	}

	header := records[0]
	data := records[1:]

	columns := make([]string, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}

		columns[i] = name
	}

	affinities := inferColumnAffinities(data, len(columns))

	err = e.Do(ctx, func(s *Session) error {
		// Step 1: Replace any previous table of the same name.
		if err := s.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", QuoteIdentifier(tableName))); err != nil {
			return err
		}

		// Step 2: Create the table with inferred column types.
		defs := make([]string, len(columns))
		for i, col := range columns {
			defs[i] = fmt.Sprintf("%s %s", QuoteIdentifier(col), affinities[i])
		}

		createStmt := fmt.Sprintf("CREATE TABLE %s (%s)", QuoteIdentifier(tableName), strings.Join(defs, ", "))
		if err := s.Exec(createStmt); err != nil {
			return err
		}

		if len(data) == 0 {
			return nil
		}

		// Step 3: Load all rows in one transaction.
		tx, err := s.db.BeginTx(s.ctx, nil)
		if err != nil {
			return engineErr("begin", err)
		}

		defer func() {
			_ = tx.Rollback()
		}()

		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
		insertStmt := fmt.Sprintf("INSERT INTO %s VALUES (%s)", QuoteIdentifier(tableName), placeholders)

		stmt, err := tx.PrepareContext(s.ctx, insertStmt)
		if err != nil {
			return engineErr("prepare insert", err)
		}

		defer func() {
			_ = stmt.Close()
		}()

		for _, record := range data {
			args := make([]any, len(columns))
			for i := range columns {
				args[i] = csvValue(record[i], affinities[i])
			}

			if _, err := stmt.ExecContext(s.ctx, args...); err != nil {
				return engineErr("insert row", err)
			}
		}

		if err := tx.Commit(); err != nil {
			return engineErr("commit", err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return len(data), nil
}

// inferColumnAffinities scans all data rows and picks the narrowest affinity
// every non-empty value in a column satisfies.
func inferColumnAffinities(data [][]string, columnCount int) []string {
	affinities := make([]string, columnCount)
	for i := range affinities {
		affinities[i] = affinityInteger
	}

	for _, record := range data {
		for i := 0; i < columnCount && i < len(record); i++ {
			value := strings.TrimSpace(record[i])
			if value == "" {
				continue
			}

			switch affinities[i] {
			case affinityInteger:
				if _, err := strconv.ParseInt(value, 10, 64); err == nil {
					continue
				}

				if _, err := strconv.ParseFloat(value, 64); err == nil {
					affinities[i] = affinityReal
				} else {
					affinities[i] = affinityText
				}
			case affinityReal:
				if _, err := strconv.ParseFloat(value, 64); err != nil {
					affinities[i] = affinityText
				}
			}
		}
	}

	return affinities
}

// csvValue converts one CSV field for insertion under the column's affinity.
func csvValue(raw, affinity string) any {
	value := strings.TrimSpace(raw)

	switch affinity {
	case affinityInteger:
		if value == "" {
			return nil
		}

		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}

		return value
	case affinityReal:
		if value == "" {
			return nil
		}

		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}

		return value
	default:
		return raw
	}
}
