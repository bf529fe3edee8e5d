package buildsys

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mvdan.cc/sh/v3/interp"
)

func testContext(t *testing.T) (context.Context, *bytes.Buffer) {
	t.Helper()

	output := new(bytes.Buffer)
	logger := zerolog.New(output)
	return WithLogger(context.Background(), &logger), output
}

func writeScript(t *testing.T, content string) (string, string) {
	t.Helper()

	dir := t.TempDir()
	script := filepath.Join(dir, "tasks.star")
	require.NoError(t, os.WriteFile(script, []byte(content), 0o600))
	return dir, script
}

func parse(t *testing.T, content string, options map[string]string) (string, TaskList) {
	t.Helper()

	ctx, _ := testContext(t)
	dir, script := writeScript(t, content)
	tasks, _, err := Parse(ctx, script, dir, options)
	require.NoError(t, err)
	return dir, tasks
}

func readLines(t *testing.T, path string) []string {
	t.Helper()

	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Fields(string(content))
}

func TestParseOptionsAndTasks(t *testing.T) {
	const script = `
NAME = option("NAME", "world", help = "who to greet")

def configure():
    task(short = "first", desc = "First task", cmds = ["echo hello " + NAME])
    task(short = "second", desc = "Second task", deps = ["first"], cmds = [["echo", "two words"]])
`

	ctx, _ := testContext(t)
	dir, path := writeScript(t, script)

	tasks, options, err := Parse(ctx, path, dir, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "second"}, tasks.Names())
	require.Contains(t, options, "NAME")
	assert.Equal(t, "world", options["NAME"].Default())
	assert.Equal(t, "who to greet", options["NAME"].Help)

	first := tasks["first"]
	assert.Equal(t, "First task", first.Desc)
	assert.Equal(t, dir, first.Base)
	require.Len(t, first.Cmds, 1)
	assert.Equal(t, "echo hello world", first.Cmds[0].(TaskCmdScript).Content)

	second := tasks["second"]
	assert.Equal(t, []string{"first"}, second.Deps)
	require.Len(t, second.Cmds, 1)
	assert.Equal(t, "echo 'two words'", second.Cmds[0].(TaskCmdScript).Content)

	tasks, _, err = Parse(ctx, path, dir, map[string]string{"NAME": "there"})
	require.NoError(t, err)
	assert.Equal(t, "echo hello there", tasks["first"].Cmds[0].(TaskCmdScript).Content)
}

func TestParseErrors(t *testing.T) {
	cases := map[string]struct {
		script string
		msg    string
	}{
		"missing configure": {
			script: `X = 1`,
			msg:    "did not declare a configure function",
		},
		"configure is not a function": {
			script: `configure = 1`,
			msg:    "not a function",
		},
		"reserved help": {
			script: "def configure():\n    task(short = \"help\")\n",
			msg:    "reserved",
		},
		"option inside configure": {
			script: "def configure():\n    option(\"LATE\", \"1\")\n",
			msg:    "init phase",
		},
		"task outside configure": {
			script: "task(short = \"early\")\ndef configure():\n    pass\n",
			msg:    "inside configure",
		},
		"duplicate task": {
			script: "def configure():\n    task(short = \"a\")\n    task(short = \"a\")\n",
			msg:    "twice",
		},
		"error builtin": {
			script: "def configure():\n    error(\"unsupported platform\")\n",
			msg:    "unsupported platform",
		},
		"bad command type": {
			script: "def configure():\n    task(short = \"a\", cmds = [1])\n",
			msg:    "unexpected type int",
		},
		"syntax error": {
			script: "def configure(:\n",
			msg:    "failed to execute",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			ctx, _ := testContext(t)
			dir, path := writeScript(t, tc.script)

			_, _, err := Parse(ctx, path, dir, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestRunTasksInDependencyOrder(t *testing.T) {
	dir, tasks := parse(t, `
def step(name, deps = []):
    task(short = name, deps = deps, cmds = ["echo %s >> order.txt" % name])

def configure():
    step("fmt-check")
    step("lint")
    step("test")
    step("build")
    task(short = "ci", deps = ["fmt-check", "lint", "test", "build"])
    task(short = "all", deps = ["lint", "build"])
`, nil)

	ctx, _ := testContext(t)
	err := RunTasks(ctx, dir, []string{"ci", "all"}, tasks, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"fmt-check", "lint", "test", "build"}, readLines(t, filepath.Join(dir, "order.txt")))
}

func TestFailureStopsDependants(t *testing.T) {
	dir, tasks := parse(t, `
def configure():
    task(short = "fail", cmds = ["exit 3", "echo unreachable >> order.txt"])
    task(short = "after", deps = ["fail"], cmds = ["echo after >> order.txt"])
`, nil)

	ctx, _ := testContext(t)

	err := RunTask(ctx, dir, "fail", tasks, Options{})
	require.Error(t, err)

	status, ok := interp.IsExitStatus(err)
	require.True(t, ok)
	assert.Equal(t, uint8(3), status)

	err = RunTask(ctx, dir, "after", tasks, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dependency fail")
	assert.Empty(t, readLines(t, filepath.Join(dir, "order.txt")))
}

func TestTaskErrors(t *testing.T) {
	dir, tasks := parse(t, `
def configure():
    task(short = "a", deps = ["b"])
    task(short = "b", deps = ["a"])
    task(short = "c", deps = ["missing"])
`, nil)

	ctx, _ := testContext(t)

	err := RunTask(ctx, dir, "a", tasks, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "called recursively")

	err = RunTask(ctx, dir, "c", tasks, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Task missing not found")

	err = RunTasks(ctx, dir, []string{"a", "nope"}, tasks, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Task nope not found")
}

func TestDryRunOnlyLogs(t *testing.T) {
	dir, tasks := parse(t, `
def configure():
    task(short = "write", cmds = ["echo x >> out.txt"])
`, nil)

	ctx, output := testContext(t)
	err := RunTask(ctx, dir, "write", tasks, Options{DryRun: true})
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(dir, "out.txt"))
	assert.Contains(t, output.String(), "echo x")
	assert.Contains(t, output.String(), `"task":"write"`)
}

func TestSkipIfExists(t *testing.T) {
	dir, tasks := parse(t, `
def configure():
    task(short = "setup", skip_if_exists = ["marker"], cmds = ["echo ran >> out.txt"])
`, nil)

	ctx, _ := testContext(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker"), nil, 0o600))

	require.NoError(t, RunTask(ctx, dir, "setup", tasks, Options{}))
	assert.Empty(t, readLines(t, filepath.Join(dir, "out.txt")))

	require.NoError(t, RunTask(ctx, dir, "setup", tasks, Options{Force: true}))
	assert.Equal(t, []string{"ran"}, readLines(t, filepath.Join(dir, "out.txt")))
}

func TestInputsAndOutputs(t *testing.T) {
	dir, tasks := parse(t, `
def configure():
    task(short = "gen", inputs = ["*.in"], outputs = ["gen.out"], cmds = ["echo built >> gen.out"])
`, nil)

	ctx, _ := testContext(t)
	input := filepath.Join(dir, "a.in")
	output := filepath.Join(dir, "gen.out")

	require.NoError(t, os.WriteFile(input, []byte("x"), 0o600))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(input, past, past))

	// the output is missing
	require.NoError(t, RunTask(ctx, dir, "gen", tasks, Options{}))
	assert.Equal(t, []string{"built"}, readLines(t, output))

	// the output is newer than every input
	require.NoError(t, RunTask(ctx, dir, "gen", tasks, Options{}))
	assert.Equal(t, []string{"built"}, readLines(t, output))

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(input, future, future))
	require.NoError(t, RunTask(ctx, dir, "gen", tasks, Options{}))
	assert.Equal(t, []string{"built", "built"}, readLines(t, output))
}

func TestOutputAgeSpread(t *testing.T) {
	dir, tasks := parse(t, `
def configure():
    task(short = "gen", inputs = ["a.in"], outputs = ["one.out", "two.out"], cmds = ["echo built >> one.out"])
`, nil)

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.in"), []byte("x"), 0o600))
	require.NoError(t, os.Chtimes(filepath.Join(dir, "a.in"), past, past))

	// outputs with timestamps in the future are close to each other and must not trigger the spread warning
	future := time.Now().Add(time.Hour)
	for _, name := range []string{"one.out", "two.out"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, nil, 0o600))
		require.NoError(t, os.Chtimes(path, future, future))
	}

	ctx, output := testContext(t)
	require.NoError(t, RunTask(ctx, dir, "gen", tasks, Options{}))
	assert.Contains(t, output.String(), "nothing to do")
	assert.NotContains(t, output.String(), "older than the newest output")

	// a real spread is still reported
	require.NoError(t, os.Chtimes(filepath.Join(dir, "one.out"), future.Add(-time.Hour/2), future.Add(-time.Hour/2)))
	ctx, output = testContext(t)
	require.NoError(t, RunTask(ctx, dir, "gen", tasks, Options{}))
	assert.Contains(t, output.String(), "older than the newest output")
}

func TestNestedTaskValues(t *testing.T) {
	dir, tasks := parse(t, `
def configure():
    prep = task(cmds = ["echo prep >> order.txt"])
    task(short = "main", cmds = [prep, "echo main >> order.txt"])
`, nil)

	assert.Equal(t, []string{"main"}, tasks.Names())

	ctx, _ := testContext(t)
	require.NoError(t, RunTask(ctx, dir, "main", tasks, Options{}))
	assert.Equal(t, []string{"prep", "main"}, readLines(t, filepath.Join(dir, "order.txt")))
}

func TestEnvironment(t *testing.T) {
	dir, tasks := parse(t, `
setenv("GLASS_SCRIPT_VAR", "global")

def configure():
    task(
        short = "env",
        env = {"GLASS_TASK_VAR": "local"},
        cmds = ["echo $GLASS_SCRIPT_VAR $GLASS_TASK_VAR >> env.txt"],
    )
`, nil)

	assert.Equal(t, "global", tasks["env"].Env["GLASS_SCRIPT_VAR"])

	ctx, _ := testContext(t)
	require.NoError(t, RunTask(ctx, dir, "env", tasks, Options{}))
	assert.Equal(t, []string{"global", "local"}, readLines(t, filepath.Join(dir, "env.txt")))
}

func TestExecuteAndFileBuiltins(t *testing.T) {
	_, tasks := parse(t, `
TEXT = execute("echo hi").strip()
DATA = execute("echo '{\"name\": \"glass\", \"ports\": [\"25565\"]}'", format = "json")
FAILED = execute("exit 1")
IS_SCRIPT = isfile("tasks.star")
IS_DIR = isdir(".")
ROOT = resolve_path("//sub", "file.txt")

def configure():
    task(
        short = "show",
        desc = " ".join([TEXT, DATA["name"], str(DATA["ports"][0]), str(FAILED), str(IS_SCRIPT), str(IS_DIR)]),
        cmds = [["echo", ROOT]],
    )
`, nil)

	assert.Equal(t, "hi glass 25565 False True True", tasks["show"].Desc)
	assert.Equal(t, "echo sub/file.txt", tasks["show"].Cmds[0].(TaskCmdScript).Content)
}

func TestReadYaml(t *testing.T) {
	ctx, _ := testContext(t)
	dir, path := writeScript(t, `
FLAGS = read_yaml("settings.yml", "lint.flags", "")
SECOND = read_yaml("settings.yml", "targets.1", "")
MISSING = read_yaml("settings.yml", "lint.nope", "fallback")

def configure():
    task(short = "yaml", desc = "%s|%s|%s" % (FLAGS, SECOND, MISSING))
`)
	settings := "lint:\n  flags: -v\ntargets:\n  - linux\n  - windows\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.yml"), []byte(settings), 0o600))

	tasks, _, err := Parse(ctx, path, dir, nil)
	require.NoError(t, err)
	assert.Equal(t, "-v|windows|fallback", tasks["yaml"].Desc)
}

func TestLookupYamlKey(t *testing.T) {
	doc := map[string]interface{}{
		"a": map[string]interface{}{
			"b": []interface{}{"x", "y"},
		},
	}

	value, ok := lookupYamlKey(doc, "a.b.1")
	assert.True(t, ok)
	assert.Equal(t, "y", value)

	_, ok = lookupYamlKey(doc, "a.b.5")
	assert.False(t, ok)

	_, ok = lookupYamlKey(doc, "a.c")
	assert.False(t, ok)

	_, ok = lookupYamlKey(doc, "a.b.1.z")
	assert.False(t, ok)
}

func TestSimplifyPath(t *testing.T) {
	root := t.TempDir()
	ctx := &parserCtx{projectRoot: root, filepath: filepath.Join(root, "tasks.star")}

	assert.Equal(t, "//tasks.star", simplifyPath(ctx, filepath.Join(root, "tasks.star")))
	assert.Equal(t, "//", simplifyPath(ctx, root))

	outside := filepath.Join(filepath.Dir(root), "elsewhere")
	assert.Equal(t, outside, simplifyPath(ctx, outside))

	assert.Equal(t, filepath.Join(root, "a", "b"), normalizePath(ctx, "a", "b"))
	assert.Equal(t, filepath.Join(root, "c"), normalizePath(ctx, "a", "//c"))
}

func TestCache(t *testing.T) {
	ctx, _ := testContext(t)
	dir, path := writeScript(t, `
def configure():
    task(short = "one", desc = "cached", cmds = ["echo one", ["echo", "a b"]])
`)
	cacheFile := filepath.Join(dir, ".task-cache")

	tasks, err := LoadTasks(ctx, path, dir, cacheFile, map[string]string{"GO": "go"})
	require.NoError(t, err)
	require.FileExists(t, cacheFile)

	key, cached, err := ReadCache(cacheFile)
	require.NoError(t, err)
	assert.Equal(t, tasks.Names(), cached.Names())
	assert.Equal(t, tasks["one"].Cmds, cached["one"].Cmds)

	current, err := NewCacheKey(path, map[string]string{"GO": "go"})
	require.NoError(t, err)
	assert.True(t, key.Matches(current))

	other, err := NewCacheKey(path, map[string]string{"GO": "go1.23"})
	require.NoError(t, err)
	assert.False(t, key.Matches(other))

	again, err := LoadTasks(ctx, path, dir, cacheFile, map[string]string{"GO": "go"})
	require.NoError(t, err)
	assert.Equal(t, "cached", again["one"].Desc)

	uncached, err := LoadTasks(ctx, path, dir, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "cached", uncached["one"].Desc)
}

func TestMergeEnv(t *testing.T) {
	env := mergeEnv([]string{"A=1", "B=2", "EMPTY="}, map[string]string{"C": "4", "B": "3"})
	assert.Equal(t, []string{"A=1", "EMPTY=", "B=3", "C=4"}, env)
}

func TestLogWithoutLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		log(context.Background()).Info().Msg("dropped")
	})
}
