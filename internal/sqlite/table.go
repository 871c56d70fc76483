package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/kagucho/tsubonesystem3-sub000/pkg/types"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// table serves one entity table and the link tables touching it. The
// caller holds the backend lock.
type table struct {
	def     entityDef
	sides   map[string]linkSide
	backend *Backend
}

func newTable(b *Backend, def entityDef) *table {
	return &table{def: def, sides: sidesOf(def.table), backend: b}
}

func (t *table) notFound(key string) error {
	return fmt.Errorf("%s %q: %w", t.def.table, key, types.ErrNotFound)
}

// selectSQL selects the key followed by cols.
func (t *table) selectSQL(cols []column) string {
	names := []string{t.def.key}
	for _, c := range cols {
		names = append(names, c.name)
	}
	return fmt.Sprintf("SELECT %s FROM %s", quoteAll(names), quote(t.def.table))
}

// record builds an entity from a scanned row laid out as selectSQL(cols).
func (t *table) record(vals []any, cols []column) map[string]any {
	rec := map[string]any{t.def.key: fromColumn(column{t.def.key, colText}, vals[0])}
	for i, c := range cols {
		if v := fromColumn(c, vals[i+1]); v != nil {
			rec[c.name] = v
		}
	}
	return rec
}

// get returns every field of key, relation fields included.
func (t *table) get(ctx context.Context, key string) (map[string]any, error) {
	if key == "" {
		return nil, types.ErrInvalidID
	}
	db := t.backend.db
	cols := t.def.columns
	rows, err := db.QueryContext(ctx, t.selectSQL(cols)+fmt.Sprintf(" WHERE %s = ?", quote(t.def.key)), key)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", t.def.table, err)
	}
	var vals []any
	if rows.Next() {
		vals, err = scanValues(rows, len(cols)+1)
	}
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", t.def.table, err)
	}
	if vals == nil {
		return nil, t.notFound(key)
	}

	rec := t.record(vals, cols)
	for _, field := range slices.Sorted(maps.Keys(t.sides)) {
		v, err := t.readSide(ctx, db, t.sides[field], key)
		if err != nil {
			return nil, err
		}
		rec[field] = v
	}
	return rec, nil
}

// list returns every entity restricted to its key and list-view fields, in
// insertion order.
func (t *table) list(ctx context.Context) ([]map[string]any, error) {
	var cols []column
	var rels []string
	for _, field := range types.ListFields(t.def.table) {
		if c, ok := t.def.column(field); ok {
			cols = append(cols, c)
		} else if _, ok := t.sides[field]; ok {
			rels = append(rels, field)
		}
	}

	db := t.backend.db
	rows, err := db.QueryContext(ctx, t.selectSQL(cols)+" ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", t.def.table, err)
	}
	var out []map[string]any
	for rows.Next() {
		vals, err := scanValues(rows, len(cols)+1)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning %s: %w", t.def.table, err)
		}
		out = append(out, t.record(vals, cols))
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	for _, rec := range out {
		key, _ := rec[t.def.key].(string)
		for _, field := range rels {
			v, err := t.readSide(ctx, db, t.sides[field], key)
			if err != nil {
				return nil, err
			}
			rec[field] = v
		}
	}
	return out, nil
}

// readSide reads the relation field of key. Valued relations come back as
// a map of attendance flags, the others as a sorted key list.
func (t *table) readSide(ctx context.Context, q querier, side linkSide, key string) (any, error) {
	cols := []string{side.peerCol}
	if side.valued() {
		cols = append(cols, "attending")
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? ORDER BY %s",
		quoteAll(cols), quote(side.link.table), quote(side.selfCol), quote(side.peerCol))
	rows, err := q.QueryContext(ctx, query, key)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", side.link.table, err)
	}
	defer rows.Close()

	keys := []string{}
	flags := map[string]any{}
	for rows.Next() {
		var peer string
		var attending int64
		dest := []any{&peer}
		if side.valued() {
			dest = append(dest, &attending)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", side.link.table, err)
		}
		keys = append(keys, peer)
		flags[peer] = attending != 0
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if side.valued() {
		return flags, nil
	}
	return keys, nil
}

// change is a validated set of props: column values in column order and
// relation edges by field.
type change struct {
	cols  []column
	args  []any
	edges map[string][]linkEdge
}

// split validates props against the table. The key field is accepted only
// when it equals key; unknown fields are ErrInvalidData.
func (t *table) split(key string, props map[string]any) (change, error) {
	var ch change
	for _, name := range slices.Sorted(maps.Keys(props)) {
		v := props[name]
		if name == t.def.key {
			if s, _ := v.(string); s != key {
				return change{}, fmt.Errorf("%s: key %q cannot change: %w", t.def.table, key, types.ErrInvalidData)
			}
			continue
		}
		if c, ok := t.def.column(name); ok {
			arg, err := toColumn(c, v)
			if err != nil {
				return change{}, fmt.Errorf("%s: %w", t.def.table, err)
			}
			ch.cols = append(ch.cols, c)
			ch.args = append(ch.args, arg)
			continue
		}
		if side, ok := t.sides[name]; ok {
			edges, err := edgesOf(name, v, side.valued())
			if err != nil {
				return change{}, fmt.Errorf("%s: %w", t.def.table, err)
			}
			if ch.edges == nil {
				ch.edges = make(map[string][]linkEdge)
			}
			ch.edges[name] = edges
			continue
		}
		return change{}, fmt.Errorf("%s: unknown field %q: %w", t.def.table, name, types.ErrInvalidData)
	}
	return ch, nil
}

func (t *table) exists(ctx context.Context, q querier, table, keyCol, key string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, fmt.Sprintf("SELECT 1 FROM %s WHERE %s = ?", quote(table), quote(keyCol)), key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying %s: %w", table, err)
	}
	return true, nil
}

// insert creates an entity and returns its key. Tables with generated keys
// get a UUID v7 when props carries none.
func (t *table) insert(ctx context.Context, props map[string]any) (string, error) {
	key, _ := props[t.def.key].(string)
	if key == "" {
		if !t.def.generated {
			return "", fmt.Errorf("%s: %s is required: %w", t.def.table, t.def.key, types.ErrInvalidID)
		}
		key = generateKey()
	}
	ch, err := t.split(key, props)
	if err != nil {
		return "", err
	}

	err = t.inTx(ctx, ch, func(tx *sql.Tx) error {
		found, err := t.exists(ctx, tx, t.def.table, t.def.key, key)
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("%s %q: %w", t.def.table, key, types.ErrDuplicateKey)
		}
		names := []string{t.def.key}
		for _, c := range ch.cols {
			names = append(names, c.name)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
		args := append([]any{key}, ch.args...)
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			quote(t.def.table), quoteAll(names), placeholders), args...); err != nil {
			return fmt.Errorf("inserting into %s: %w", t.def.table, err)
		}
		return t.writeEdges(ctx, tx, key, ch.edges)
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

// update applies props to an existing entity. Relation fields replace the
// entity's rows in the link table.
func (t *table) update(ctx context.Context, key string, props map[string]any) error {
	if key == "" {
		return types.ErrInvalidID
	}
	ch, err := t.split(key, props)
	if err != nil {
		return err
	}
	return t.inTx(ctx, ch, func(tx *sql.Tx) error {
		found, err := t.exists(ctx, tx, t.def.table, t.def.key, key)
		if err != nil {
			return err
		}
		if !found {
			return t.notFound(key)
		}
		if len(ch.cols) > 0 {
			sets := make([]string, len(ch.cols))
			for i, c := range ch.cols {
				sets[i] = quote(c.name) + " = ?"
			}
			args := append(append([]any{}, ch.args...), key)
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
				quote(t.def.table), strings.Join(sets, ", "), quote(t.def.key)), args...); err != nil {
				return fmt.Errorf("updating %s: %w", t.def.table, err)
			}
		}
		return t.writeEdges(ctx, tx, key, ch.edges)
	})
}

// remove deletes an entity and every link row that refers to it.
func (t *table) remove(ctx context.Context, key string) error {
	if key == "" {
		return types.ErrInvalidID
	}
	all := change{edges: make(map[string][]linkEdge, len(t.sides))}
	for field := range t.sides {
		all.edges[field] = nil
	}
	return t.inTx(ctx, all, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quote(t.def.table), quote(t.def.key)), key)
		if err != nil {
			return fmt.Errorf("deleting from %s: %w", t.def.table, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return t.notFound(key)
		}
		for _, field := range slices.Sorted(maps.Keys(t.sides)) {
			side := t.sides[field]
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s = ?",
				quote(side.link.table), quote(side.selfCol)), key); err != nil {
				return fmt.Errorf("deleting from %s: %w", side.link.table, err)
			}
		}
		return nil
	})
}

// writeEdges replaces the link rows of key for every relation field in
// edges. Referents must exist. An officer holds at most one member, so a
// member cannot take a position another member already holds.
func (t *table) writeEdges(ctx context.Context, tx *sql.Tx, key string, edges map[string][]linkEdge) error {
	for _, field := range slices.Sorted(maps.Keys(edges)) {
		side := t.sides[field]
		list := edges[field]
		owner := side.selfCol == side.link.ownerCol
		if side.link.single && owner && len(list) > 1 {
			return fmt.Errorf("%s.%s: at most one referent: %w", t.def.table, field, types.ErrInvalidData)
		}

		peerDef := entityDefs[side.peer]
		for _, e := range list {
			found, err := t.exists(ctx, tx, peerDef.table, peerDef.key, e.key)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("%s.%s: %s %q does not exist: %w", t.def.table, field, side.peer, e.key, types.ErrInvalidData)
			}
			if side.link.single && !owner {
				if err := t.checkUnheld(ctx, tx, side, key, e.key); err != nil {
					return err
				}
			}
		}

		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s = ?",
			quote(side.link.table), quote(side.selfCol)), key); err != nil {
			return fmt.Errorf("clearing %s: %w", side.link.table, err)
		}

		cols := []string{side.selfCol, side.peerCol}
		if side.valued() {
			cols = append(cols, "attending")
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
		insert := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)", quote(side.link.table), quoteAll(cols), placeholders)
		for _, e := range list {
			args := []any{key, e.key}
			if side.valued() {
				args = append(args, boolInt(e.attending))
			}
			if _, err := tx.ExecContext(ctx, insert, args...); err != nil {
				return fmt.Errorf("inserting into %s: %w", side.link.table, err)
			}
		}
	}
	return nil
}

// checkUnheld fails with ErrInvalidData if referent on a single-valued
// link is already held by an entity other than key.
func (t *table) checkUnheld(ctx context.Context, q querier, side linkSide, key, referent string) error {
	var holder string
	err := q.QueryRowContext(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? AND %s <> ?",
		quote(side.selfCol), quote(side.link.table), quote(side.peerCol), quote(side.selfCol)),
		referent, key).Scan(&holder)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return fmt.Errorf("checking %s: %w", side.link.table, err)
	}
	return fmt.Errorf("%s.%s: %s %q is held by %q: %w",
		t.def.table, side.field, side.peer, referent, holder, types.ErrInvalidData)
}

// inTx runs fn in a transaction and, once it commits, rewrites the JSONL
// files of the entity table and of every link table ch touches.
func (t *table) inTx(ctx context.Context, ch change, fn func(*sql.Tx) error) error {
	b := t.backend
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing %s: %w", t.def.table, err)
	}

	touched := []string{t.def.table}
	for _, field := range slices.Sorted(maps.Keys(ch.edges)) {
		touched = append(touched, t.sides[field].link.table)
	}
	for _, name := range touched {
		st, _ := storedTableNamed(name)
		if err := persistJSONL(ctx, b.db, b.dataDir, st); err != nil {
			return fmt.Errorf("persisting %s: %w", name, err)
		}
	}
	return nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
