package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kagucho/tsubonesystem3-sub000/internal/paths"
	"github.com/kagucho/tsubonesystem3-sub000/pkg/syncmap"
	"github.com/kagucho/tsubonesystem3-sub000/pkg/types"
)

// cliEnv runs commands against private config and data directories.
type cliEnv struct {
	configDir string
	dataDir   string
}

func newCLIEnv(t *testing.T) cliEnv {
	t.Helper()
	t.Setenv(paths.EnvConfigDir, "")
	t.Setenv(paths.EnvDataDir, "")
	return cliEnv{configDir: t.TempDir(), dataDir: t.TempDir()}
}

func (e cliEnv) run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	args = append(args, "--config-dir", e.configDir, "--data-dir", e.dataDir)
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// mustRun fails the test unless the command exits successfully.
func (e cliEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	code, stdout, stderr := e.run(args...)
	require.Equal(t, exitSuccess, code, "%v: %s", args, stderr)
	return stdout
}

func (e cliEnv) getJSON(t *testing.T, table, key string) map[string]any {
	t.Helper()
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(e.mustRun(t, "get", table, key, "--json")), &got))
	return got
}

func TestVersion(t *testing.T) {
	var stdout bytes.Buffer
	code := run(context.Background(), []string{"version"}, &stdout, &bytes.Buffer{})
	assert.Equal(t, exitSuccess, code)
	assert.Contains(t, stdout.String(), "tsubone v"+Version)
	assert.Contains(t, stdout.String(), modulePath)
}

func TestInit(t *testing.T) {
	env := newCLIEnv(t)
	out := env.mustRun(t, "init")
	assert.Contains(t, out, "initialized")

	cfg, err := os.ReadFile(filepath.Join(env.configDir, "config.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(cfg), "backend: sqlite")
	assert.Contains(t, string(cfg), "data_dir: "+env.dataDir)

	for _, name := range types.StandardTableNames {
		_, err := os.Stat(filepath.Join(env.dataDir, name+".jsonl"))
		assert.NoError(t, err, name)
	}
}

func TestLifecycle(t *testing.T) {
	env := newCLIEnv(t)

	out := env.mustRun(t, "create", "members", "id=u1", "nickname=kagucho", "entrance:=2017")
	assert.Equal(t, "Created members/u1\n", out)
	env.mustRun(t, "create", "clubs", "id=prog", "name=Prog", `members:=["u1"]`)

	member := env.getJSON(t, types.TableMembers, "u1")
	assert.Equal(t, "kagucho", member[types.FieldNickname])
	assert.Equal(t, 2017.0, member[types.FieldEntrance])
	assert.Equal(t, []any{"prog"}, member[types.FieldClubs])
	assert.Equal(t, map[string]any{}, member[types.FieldParties])

	out = env.mustRun(t, "list", "clubs")
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "prog")

	out = env.mustRun(t, "get", "members", "u1")
	assert.Contains(t, out, "clubs")
	assert.Contains(t, out, "kagucho")

	assert.Equal(t, "Updated members/u1\n", env.mustRun(t, "update", "members", "u1", "clubs:=[]"))
	club := env.getJSON(t, types.TableClubs, "prog")
	assert.Equal(t, []any{}, club[types.FieldMembers], "update on the member side reaches the club")

	assert.Equal(t, "Deleted clubs/prog\n", env.mustRun(t, "delete", "clubs", "prog"))
	code, _, stderr := env.run("get", "clubs", "prog")
	assert.Equal(t, exitUserError, code)
	assert.Contains(t, stderr, types.ErrNotFound.Error())
}

func TestCreateGeneratesKey(t *testing.T) {
	env := newCLIEnv(t)
	var created map[string]string
	require.NoError(t, json.Unmarshal([]byte(env.mustRun(t, "create", "members", "nickname=anon", "--json")), &created))
	assert.Equal(t, types.TableMembers, created["table"])
	require.NotEmpty(t, created["key"])

	member := env.getJSON(t, types.TableMembers, created["key"])
	assert.Equal(t, "anon", member[types.FieldNickname])
}

func TestUserErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"unknown table", []string{"get", "projects", "p1"}, "unknown table"},
		{"missing entity", []string{"get", "members", "ghost"}, types.ErrNotFound.Error()},
		{"update without assignments", []string{"update", "members", "u1"}, "assignment"},
		{"malformed assignment", []string{"create", "members", "nickname"}, "invalid assignment"},
		{"malformed JSON", []string{"create", "members", "entrance:=20x"}, "invalid JSON"},
		{"unknown field", []string{"create", "members", "shoe_size=27"}, types.ErrInvalidData.Error()},
		{"mail without subject", []string{"create", "mails", "body=hi"}, types.ErrInvalidID.Error()},
		{"wrong argument count", []string{"delete", "members"}, "arg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newCLIEnv(t)
			code, _, stderr := env.run(tt.args...)
			assert.Equal(t, exitUserError, code)
			assert.Contains(t, stderr, tt.wantErr)
		})
	}
}

func TestInvalidConfig(t *testing.T) {
	env := newCLIEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(env.configDir, "config.yaml"), []byte("backend: sqlite\nlog_level: loud\n"), 0o644))

	code, _, stderr := env.run("list", "members")
	assert.Equal(t, exitUserError, code)
	assert.Contains(t, stderr, types.ErrLogLevelUnknown.Error())
}

func TestSystemError(t *testing.T) {
	env := newCLIEnv(t)
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	env.dataDir = file

	code, _, stderr := env.run("list", "members")
	assert.Equal(t, exitSysError, code)
	assert.Contains(t, stderr, "attach backend")
}

func TestWatch(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun(t, "create", "members", "id=u1", "nickname=kagucho")

	out := env.mustRun(t, "watch", "members", "u1", "--count", "1", "--json")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	assert.Equal(t, "u1", got[types.FieldID])

	out = env.mustRun(t, "watch", "members", "--count", "1")
	assert.Contains(t, out, "NICKNAME")
	assert.Contains(t, out, "kagucho")

	code, _, _ := env.run("watch", "members", "ghost", "--count", "1")
	assert.Equal(t, exitUserError, code)
}

func TestParseAssignments(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    syncmap.Fields
		wantErr bool
	}{
		{"strings", []string{"nickname=kagucho", "tel=0900"}, syncmap.Fields{"nickname": "kagucho", "tel": "0900"}, false},
		{"value with equals sign", []string{"body=a=b"}, syncmap.Fields{"body": "a=b"}, false},
		{"JSON values", []string{"entrance:=2017", `clubs:=["prog"]`, "ob:=true"},
			syncmap.Fields{"entrance": 2017.0, "clubs": []any{"prog"}, "ob": true}, false},
		{"string containing colon-equals", []string{"body=x:=y"}, syncmap.Fields{"body": "x:=y"}, false},
		{"no separator", []string{"nickname"}, nil, true},
		{"empty name", []string{"=x"}, nil, true},
		{"bad JSON", []string{"entrance:=twenty"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAssignments(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"plain error", errors.New("bad flag"), exitUserError},
		{"system error", sysError(errors.New("disk full")), exitSysError},
		{"wrapped system error", fmt.Errorf("list: %w", sysError(errors.New("disk full"))), exitSysError},
		{"not found stays a user error", opError(fmt.Errorf("members %q: %w", "u1", types.ErrNotFound)), exitUserError},
		{"unclassified operation error", opError(errors.New("database is locked")), exitSysError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}
