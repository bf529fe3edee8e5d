// Package buildsys implements the project's task runner. Tasks are declared in a Starlark script
// (tasks.star) and their commands run through the mvdan.cc/sh interpreter, so the same task list works
// on every platform Go supports without make or a POSIX shell.
package buildsys
