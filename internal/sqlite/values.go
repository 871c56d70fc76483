package sqlite

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/kagucho/tsubonesystem3-sub000/pkg/types"
)

// toColumn converts an entity field value into a SQLite argument.
// Returns ErrInvalidData if the value does not fit the column.
func toColumn(c column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch c.typ {
	case colText:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case colInt:
		if n, ok := toInt(v); ok {
			return n, nil
		}
	case colBool:
		if b, ok := v.(bool); ok {
			if b {
				return int64(1), nil
			}
			return int64(0), nil
		}
	case colJSON:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.name, types.ErrInvalidData)
		}
		return string(data), nil
	}
	return nil, fmt.Errorf("%s: unexpected %T: %w", c.name, v, types.ErrInvalidData)
}

// fromColumn converts a scanned SQLite value back into an entity field value.
func fromColumn(c column, v any) any {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	if v == nil {
		return nil
	}
	switch c.typ {
	case colInt:
		if n, ok := toInt(v); ok {
			return n
		}
	case colBool:
		if n, ok := toInt(v); ok {
			return n != 0
		}
	case colJSON:
		s, ok := v.(string)
		if !ok {
			return v
		}
		var out any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return s
		}
		return out
	}
	return v
}

// toInt accepts the integer shapes that arrive from Go callers, JSON
// decoding and the SQLite driver.
func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

// linkEdge is one row of a link table seen from one side.
type linkEdge struct {
	key       string
	attending bool
}

// edgesOf parses a relation field value. Lists name the referents; maps
// carry an attendance flag per referent for valued relations and are
// read for their keys otherwise. Edges come back sorted by key.
func edgesOf(field string, v any, valued bool) ([]linkEdge, error) {
	var edges []linkEdge
	invalid := func() ([]linkEdge, error) {
		return nil, fmt.Errorf("%s: unexpected %T: %w", field, v, types.ErrInvalidData)
	}

	switch raw := v.(type) {
	case nil:
	case []string:
		for _, k := range raw {
			edges = append(edges, linkEdge{key: k, attending: true})
		}
	case []any:
		for _, item := range raw {
			k, ok := item.(string)
			if !ok {
				return invalid()
			}
			edges = append(edges, linkEdge{key: k, attending: true})
		}
	case map[string]bool:
		for k, b := range raw {
			edges = append(edges, linkEdge{key: k, attending: b})
		}
	case map[string]any:
		for k, item := range raw {
			b, ok := item.(bool)
			if !ok && valued {
				return invalid()
			}
			edges = append(edges, linkEdge{key: k, attending: b || !valued})
		}
	default:
		return invalid()
	}

	sort.SliceStable(edges, func(i, j int) bool { return edges[i].key < edges[j].key })
	out := edges[:0]
	for _, e := range edges {
		if e.key == "" {
			return nil, fmt.Errorf("%s: empty key: %w", field, types.ErrInvalidData)
		}
		if len(out) > 0 && out[len(out)-1].key == e.key {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
