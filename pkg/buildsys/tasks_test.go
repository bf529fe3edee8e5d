package buildsys

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loggedCmd struct {
	Task    string `json:"task"`
	Command bool   `json:"command"`
	Message string `json:"message"`
}

// loadRepoTasks parses the repository's own tasks.star from a copy in a temporary project root
func loadRepoTasks(t *testing.T, options map[string]string) (string, TaskList) {
	t.Helper()

	content, err := os.ReadFile(filepath.Join("..", "..", "tasks.star"))
	require.NoError(t, err)

	dir, script := writeScript(t, string(content))
	ctx, _ := testContext(t)
	tasks, _, err := Parse(ctx, script, dir, options)
	require.NoError(t, err)
	return dir, tasks
}

func dryRun(t *testing.T, dir string, tasks TaskList, names ...string) []loggedCmd {
	t.Helper()

	ctx, output := testContext(t)
	require.NoError(t, RunTasks(ctx, dir, names, tasks, Options{DryRun: true}))

	var cmds []loggedCmd
	scanner := bufio.NewScanner(bytes.NewReader(output.Bytes()))
	for scanner.Scan() {
		var entry loggedCmd
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		if entry.Command {
			cmds = append(cmds, entry)
		}
	}
	require.NoError(t, scanner.Err())
	return cmds
}

func messages(cmds []loggedCmd) []string {
	result := make([]string, len(cmds))
	for idx, cmd := range cmds {
		result[idx] = cmd.Message
	}
	return result
}

func taskOrder(cmds []loggedCmd) []string {
	var order []string
	for _, cmd := range cmds {
		if len(order) == 0 || order[len(order)-1] != cmd.Task {
			order = append(order, cmd.Task)
		}
	}
	return order
}

func TestRepoTaskCommands(t *testing.T) {
	dir, tasks := loadRepoTasks(t, map[string]string{"VERSION": "1.2.3"})

	cases := map[string][]string{
		"build": {
			"mkdir -p bin",
			"go build -trimpath '-ldflags=-s -w -X main.version=1.2.3' -tags=netgo,osusergo -o bin/ ./cmd/...",
		},
		"test":     {"go test -race -tags=netgo,osusergo -coverprofile=coverage.out ./..."},
		"lint":     {"go vet -tags=netgo,osusergo ./..."},
		"lint-fix": {"go fix ./..."},
		"fmt":      {"go fmt ./..."},
		"clean":    {"go clean -testcache", "rm -rf bin coverage.out .task-cache"},
	}

	for name, expected := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, expected, messages(dryRun(t, dir, tasks, name)))
		})
	}
}

func TestRepoTaskOrder(t *testing.T) {
	dir, tasks := loadRepoTasks(t, map[string]string{"VERSION": "1.2.3"})

	assert.Equal(t, []string{"fmt-check", "lint", "test", "build"}, taskOrder(dryRun(t, dir, tasks, "ci")))
	assert.Equal(t, []string{"lint", "build"}, taskOrder(dryRun(t, dir, tasks, "all")))
}

func TestRepoBuildOptions(t *testing.T) {
	dir, tasks := loadRepoTasks(t, map[string]string{
		"VERSION":  "1.2.3",
		"PROFILE":  "debug",
		"FEATURES": "",
		"GO":       "go1.23",
	})

	// stale release binaries must not keep a debug build from running
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bin"), 0o755))
	future := time.Now().Add(time.Hour)
	for _, name := range []string{"glass", "tool"} {
		path := filepath.Join(dir, "bin", name)
		require.NoError(t, os.WriteFile(path, []byte("old"), 0o600))
		require.NoError(t, os.Chtimes(path, future, future))
	}

	assert.Equal(t, []string{
		"mkdir -p bin",
		"go1.23 build '-gcflags=all=-N -l' '-ldflags=-X main.version=1.2.3' -o bin/ ./cmd/...",
	}, messages(dryRun(t, dir, tasks, "build")))
}

func TestRepoTasksRejectUnknownProfile(t *testing.T) {
	content, err := os.ReadFile(filepath.Join("..", "..", "tasks.star"))
	require.NoError(t, err)

	dir, script := writeScript(t, string(content))
	ctx, _ := testContext(t)
	_, _, err = Parse(ctx, script, dir, map[string]string{"VERSION": "1.2.3", "PROFILE": "fast"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown PROFILE fast")
}
