package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kagucho/tsubonesystem3-sub000/pkg/client"
	"github.com/kagucho/tsubonesystem3-sub000/pkg/sqlite"
	"github.com/kagucho/tsubonesystem3-sub000/pkg/syncmap"
	"github.com/kagucho/tsubonesystem3-sub000/pkg/types"
)

var validTableNamesStr = strings.Join(types.StandardTableNames, ", ")

// openClient attaches the SQLite remote and wraps it in a client. The
// returned func detaches the remote.
func (a *app) openClient() (*client.Client, func(), error) {
	backend := sqlite.NewBackend(sqlite.WithLogger(a.logger))
	if err := backend.Attach(a.config); err != nil {
		return nil, nil, sysError(fmt.Errorf("attach backend: %w", err))
	}
	closeFn := func() {
		if err := backend.Detach(); err != nil {
			a.logger.Warn("detach failed", "error", err)
		}
	}
	return client.New(backend, client.WithLogger(a.logger)), closeFn, nil
}

// collection returns the collection for name with a user-facing error for
// unknown tables.
func collection(c *client.Client, name string) (*client.Collection, error) {
	col, err := c.Collection(name)
	if err != nil {
		if errors.Is(err, types.ErrTableNotFound) {
			return nil, fmt.Errorf("unknown table %q (valid: %s): %w", name, validTableNamesStr, err)
		}
		return nil, sysError(err)
	}
	return col, nil
}

// parseAssignments turns field=value and field:=json arguments into
// entity fields. The first form is always a string; the second carries any
// JSON value, such as a number or a list of keys.
func parseAssignments(args []string) (syncmap.Fields, error) {
	props := make(syncmap.Fields, len(args))
	for _, arg := range args {
		if name, raw, ok := strings.Cut(arg, ":="); ok && name != "" && !strings.Contains(name, "=") {
			var v any
			if err := json.Unmarshal([]byte(raw), &v); err != nil {
				return nil, fmt.Errorf("invalid JSON for %q: %w", name, err)
			}
			props[name] = v
			continue
		}
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid assignment %q (expected field=value or field:=json)", arg)
		}
		props[name] = value
	}
	return props, nil
}
