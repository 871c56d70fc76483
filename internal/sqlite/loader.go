package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

// loadAllJSONL reads each JSONL file from dataDir and inserts its records
// into the matching SQLite table. Loading is transactional: either every
// file loads or the database stays empty. Malformed records and records
// that violate a constraint are skipped; unknown fields are ignored.
func loadAllJSONL(db *sql.DB, dataDir string, logger *slog.Logger) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning load transaction: %w", err)
	}
	defer tx.Rollback()

	for _, st := range storedTables {
		records, err := readJSONL(filepath.Join(dataDir, st.file()))
		if err != nil {
			return fmt.Errorf("reading %s: %w", st.file(), err)
		}
		if len(records) == 0 {
			continue
		}
		loaded, err := insertRecords(tx, st, records)
		if err != nil {
			return fmt.Errorf("loading %s into %s: %w", st.file(), st.name, err)
		}
		if skipped := len(records) - loaded; skipped > 0 {
			logger.Warn("jsonl records skipped", "file", st.file(), "skipped", skipped)
		}
		logger.Debug("jsonl loaded", "file", st.file(), "records", loaded)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing load transaction: %w", err)
	}
	return nil
}

// insertRecords inserts parsed JSONL records into st and returns how many
// were inserted. Only the table's columns are read from each record, so
// fields written by newer versions do not cause errors.
func insertRecords(tx *sql.Tx, st storedTable, records []json.RawMessage) (int, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(st.columns)), ", ")
	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quote(st.name), quoteAll(st.columnNames()), placeholders)

	stmt, err := tx.Prepare(insertSQL)
	if err != nil {
		return 0, fmt.Errorf("preparing insert for %s: %w", st.name, err)
	}
	defer stmt.Close()

	loaded := 0
	for _, rec := range records {
		args, ok := recordArgs(st, rec)
		if !ok {
			continue
		}
		if _, err := stmt.Exec(args...); err != nil {
			continue
		}
		loaded++
	}
	return loaded, nil
}

// recordArgs converts one JSONL record into insert arguments. Reports false
// for records that are not objects, lack a key column or hold values of the
// wrong type.
func recordArgs(st storedTable, rec json.RawMessage) ([]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal(rec, &obj); err != nil {
		return nil, false
	}
	args := make([]any, len(st.columns))
	for i, c := range st.columns {
		v, err := toColumn(c, obj[c.name])
		if err != nil {
			return nil, false
		}
		args[i] = v
	}
	if s, _ := args[0].(string); s == "" {
		return nil, false
	}
	return args, true
}
