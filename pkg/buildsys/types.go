package buildsys

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	"mvdan.cc/sh/v3/syntax"
)

// TaskCmd is a single entry in a task's cmds list
type TaskCmd interface {
	fmt.Stringer
	// Ref returns the task to run in place of this entry or nil for shell snippets.
	Ref() *Task
	// Stmts parses the shell snippet. Task references have none.
	Stmts(parser *syntax.Parser) ([]*syntax.Stmt, error)
}

// TaskCmdScript is a shell snippet. Index is its position in the task's cmds list.
type TaskCmdScript struct {
	TaskName string
	Content  string
	Index    int
}

func (s TaskCmdScript) String() string { return s.Content }

func (TaskCmdScript) Ref() *Task { return nil }

func (s TaskCmdScript) Stmts(parser *syntax.Parser) ([]*syntax.Stmt, error) {
	file, err := parser.Parse(strings.NewReader(s.Content), fmt.Sprintf("%s:%d", s.TaskName, s.Index))
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse command %s", s.Content)
	}

	return file.Stmts, nil
}

// TaskCmdTaskRef runs another task, usually an unnamed one, in place
type TaskCmdTaskRef struct {
	Task *Task
}

func (r TaskCmdTaskRef) String() string { return "task " + r.Task.Short }

func (r TaskCmdTaskRef) Ref() *Task { return r.Task }

func (TaskCmdTaskRef) Stmts(*syntax.Parser) ([]*syntax.Stmt, error) { return nil, nil }

// Task is what task() turns its arguments into. Paths in Inputs, Outputs and SkipIfExists are relative to Base.
type Task struct {
	Short        string
	Desc         string
	Base         string
	Deps         []string
	Inputs       []string
	Outputs      []string
	SkipIfExists []string
	Env          map[string]string
	Cmds         []TaskCmd
	Hidden       bool
	Order        int
}

// TaskList maps task names to tasks
type TaskList map[string]*Task

// Names returns the task names in declaration order
func (l TaskList) Names() []string {
	names := make([]string, 0, len(l))
	for name := range l {
		names = append(names, name)
	}

	slices.SortFunc(names, func(a, b string) int {
		return cmp.Compare(l[a].Order, l[b].Order)
	})
	return names
}

// ScriptOption is declared with option() and overridden on the command line with NAME=value
type ScriptOption struct {
	DefaultValue starlark.String
	Help         string
	Order        int
}

func (o ScriptOption) Default() string {
	return o.DefaultValue.GoString()
}

// tasks are handed back to the script by task() so they can be nested in deps and cmds

func (t *Task) String() string       { return fmt.Sprintf("<task %s>", t.Short) }
func (t *Task) Type() string         { return "task" }
func (t *Task) Freeze()              {}
func (t *Task) Truth() starlark.Bool { return starlark.True }

func (t *Task) Hash() (uint32, error) {
	return 0, eris.New("unhashable type: task")
}

// StarlarkPath is a path returned by resolve_path(). Commands accept it wherever they accept strings.
type StarlarkPath string

func (p StarlarkPath) String() string        { return starlark.String(p).String() }
func (p StarlarkPath) Type() string          { return "path" }
func (p StarlarkPath) Freeze()               {}
func (p StarlarkPath) Truth() starlark.Bool  { return p != "" }
func (p StarlarkPath) Hash() (uint32, error) { return starlark.String(p).Hash() }
