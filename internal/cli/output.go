package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/kagucho/tsubonesystem3-sub000/pkg/syncmap"
	"github.com/kagucho/tsubonesystem3-sub000/pkg/types"
)

// printJSON writes v indented, or on a single line when compact is set.
func printJSON(w io.Writer, v any, compact bool) error {
	var (
		out []byte
		err error
	)
	if compact {
		out, err = json.Marshal(v)
	} else {
		out, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		return sysError(fmt.Errorf("marshal JSON: %w", err))
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// printSnapshot writes one field per line, names sorted.
func printSnapshot(w io.Writer, s syncmap.Snapshot) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, name := range s.Names() {
		v, _ := s.Get(name)
		fmt.Fprintf(tw, "%s\t%s\n", name, formatValue(v))
	}
	return tw.Flush()
}

// printList writes a table of the primary key and the list fields of table.
func printList(w io.Writer, table string, l *syncmap.List) error {
	key, _ := types.PrimaryKey(table)
	cols := append([]string{key}, types.ListFields(table)...)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.ToUpper(strings.Join(cols, "\t")))
	for row := range l.All() {
		cells := make([]string, len(cols))
		for i, c := range cols {
			v, _ := row.Get(c)
			cells[i] = formatValue(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

// formatValue renders a field for human output. Sets print their keys and
// mappings print key=value pairs.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case syncmap.Relation:
		parts := make([]string, 0, x.Len())
		for k, val := range x.All() {
			if x.Kind() == syncmap.KindMapping {
				parts = append(parts, fmt.Sprintf("%s=%v", k, val))
			} else {
				parts = append(parts, k)
			}
		}
		return strings.Join(parts, ", ")
	case []any:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = formatValue(item)
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprintf("%v", x)
	}
}
