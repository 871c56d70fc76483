package sqlite

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kagucho/tsubonesystem3-sub000/pkg/types"
)

// storedTable is a SQLite table mirrored by a JSONL file. columns are in
// SQL order with the key columns first.
type storedTable struct {
	name    string
	columns []column
}

func (s storedTable) file() string { return s.name + ".jsonl" }

func (s storedTable) columnNames() []string {
	names := make([]string, len(s.columns))
	for i, c := range s.columns {
		names[i] = c.name
	}
	return names
}

// storedTables lists every mirrored table, entities before links.
var storedTables = buildStoredTables()

func buildStoredTables() []storedTable {
	var out []storedTable
	for _, name := range types.StandardTableNames {
		def := entityDefs[name]
		cols := append([]column{{def.key, colText}}, def.columns...)
		out = append(out, storedTable{name: def.table, columns: cols})
	}
	for _, l := range linkDefs {
		cols := []column{{l.ownerCol, colText}, {l.peerCol, colText}}
		if l.rel.Valued {
			cols = append(cols, column{"attending", colBool})
		}
		out = append(out, storedTable{name: l.table, columns: cols})
	}
	return out
}

func storedTableNamed(name string) (storedTable, bool) {
	for _, st := range storedTables {
		if st.name == name {
			return st, true
		}
	}
	return storedTable{}, false
}

// quote returns name as a quoted SQLite identifier.
func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteAll(names []string) string {
	q := make([]string, len(names))
	for i, n := range names {
		q[i] = quote(n)
	}
	return strings.Join(q, ", ")
}

// readJSONL reads a JSONL file and returns each non-empty, parseable line as
// a json.RawMessage. Malformed lines are skipped.
func readJSONL(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var records []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || !json.Valid(line) {
			continue
		}
		records = append(records, json.RawMessage(append([]byte(nil), line...)))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	return records, nil
}

// writeJSONL atomically replaces path with records: write a temp file in
// the same directory, fsync, rename.
func writeJSONL(path string, records []json.RawMessage) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".jsonl-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		if _, err := w.Write(rec); err != nil {
			return fmt.Errorf("writing record: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fmt.Errorf("writing newline: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flushing buffer: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// initJSONLFiles creates an empty JSONL file for every stored table that
// has none yet.
func initJSONLFiles(dataDir string) error {
	for _, st := range storedTables {
		path := filepath.Join(dataDir, st.file())
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return err
		}
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			return fmt.Errorf("creating %s: %w", st.file(), err)
		}
	}
	return nil
}

// persistJSONL dumps every row of st to its JSONL file in insertion order.
func persistJSONL(ctx context.Context, q querier, dataDir string, st storedTable) error {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY rowid", quoteAll(st.columnNames()), quote(st.name))
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("reading %s for JSONL: %w", st.name, err)
	}
	defer rows.Close()

	var records []json.RawMessage
	for rows.Next() {
		vals, err := scanValues(rows, len(st.columns))
		if err != nil {
			return fmt.Errorf("scanning %s for JSONL: %w", st.name, err)
		}
		obj := make(map[string]any, len(st.columns))
		for i, c := range st.columns {
			if v := fromColumn(c, vals[i]); v != nil {
				obj[c.name] = v
			}
		}
		rec, err := json.Marshal(obj)
		if err != nil {
			return fmt.Errorf("encoding %s record: %w", st.name, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return writeJSONL(filepath.Join(dataDir, st.file()), records)
}

// scanValues scans the current row into n untyped values.
func scanValues(rows *sql.Rows, n int) ([]any, error) {
	vals := make([]any, n)
	ptrs := make([]any, n)
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return vals, nil
}
