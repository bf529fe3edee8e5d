// Package cmd implements the task command which runs the tasks declared in tasks.star
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"mvdan.cc/sh/v3/interp"

	"github.com/rolling-glass/looking-glass/pkg/buildsys"
)

const (
	scriptName = "tasks.star"
	cacheName  = ".task-cache"
)

var RootCmd = &cobra.Command{
	Use:   "task [NAME=value...] [task...]",
	Short: "Runs the tasks declared in tasks.star",
	Long: `This command parses the first tasks.star file it finds in the current directory or its parents and
executes the given tasks in order. Without a task (or with "help") it lists the available tasks.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		taskArgs, options := splitArgs(args)
		dryRun, err := cmd.Flags().GetBool("dry")
		if err != nil {
			return err
		}

		force, err := cmd.Flags().GetBool("force")
		if err != nil {
			return err
		}

		noCache, err := cmd.Flags().GetBool("no-cache")
		if err != nil {
			return err
		}

		logger := zerolog.New(NewConsoleWriter(cmd.ErrOrStderr()))
		if os.Getenv(DebugEnv) == "" {
			logger = logger.Level(zerolog.InfoLevel)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		ctx = buildsys.WithLogger(ctx, &logger)

		taskPath, err := findScript()
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to find the task script")
		}
		projectRoot := filepath.Dir(taskPath)

		if len(taskArgs) == 0 || containsString(taskArgs, "help") {
			taskList, scriptOptions, err := buildsys.Parse(ctx, taskPath, projectRoot, options)
			if err != nil {
				logger.Fatal().Err(err).Msg("Failed to parse tasks")
			}

			printHelp(cmd.OutOrStdout(), taskList, scriptOptions)
			return nil
		}

		cacheFile := filepath.Join(projectRoot, cacheName)
		if noCache {
			cacheFile = ""
		}

		taskList, err := buildsys.LoadTasks(ctx, taskPath, projectRoot, cacheFile, options)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to parse tasks")
		}

		toolPath, err := os.Executable()
		if err != nil {
			logger.Warn().Err(err).Msg("Could not locate the tool binary, using the system's rm, mkdir and mv")
			toolPath = ""
		}

		err = buildsys.RunTasks(ctx, projectRoot, taskArgs, taskList, buildsys.Options{
			DryRun:   dryRun,
			Force:    force,
			ToolPath: toolPath,
			Stdout:   cmd.OutOrStdout(),
			Stderr:   cmd.ErrOrStderr(),
		})
		if err != nil {
			logger.Error().Err(err).Msgf("Failed task %s", strings.Join(taskArgs, " "))

			// pass the failing command's exit code through
			if status, ok := interp.IsExitStatus(err); ok && status != 0 {
				os.Exit(int(status))
			}
			os.Exit(1)
		}

		return nil
	},
}

func init() {
	RootCmd.Flags().BoolP("dry", "n", false, "dry run; only print the commands, don't execute anything")
	RootCmd.Flags().BoolP("force", "f", false, "force build; always execute the passed steps even if they don't have to run")
	RootCmd.Flags().Bool("no-cache", false, "always re-evaluate tasks.star instead of using "+cacheName)
}

// splitArgs separates NAME=value option overrides from task names
func splitArgs(args []string) ([]string, map[string]string) {
	taskArgs := make([]string, 0, len(args))
	options := make(map[string]string)

	for _, part := range args {
		pos := strings.Index(part, "=")
		if pos > -1 {
			options[part[:pos]] = part[pos+1:]
		} else {
			taskArgs = append(taskArgs, part)
		}
	}

	return taskArgs, options
}

func containsString(list []string, needle string) bool {
	for _, item := range list {
		if item == needle {
			return true
		}
	}
	return false
}

// findScript searches the current directory and its parents for the next tasks.star file
func findScript() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", eris.Wrap(err, "failed to retrieve the current working directory")
	}

	path := wd
	for {
		taskPath := filepath.Join(path, scriptName)
		_, err := os.Stat(taskPath)
		if err == nil {
			return taskPath, nil
		}
		if !os.IsNotExist(err) {
			return "", eris.Wrapf(err, "failed to check %s", taskPath)
		}

		parent := filepath.Dir(path)
		if parent == path {
			return "", eris.Errorf("no %s file found", scriptName)
		}

		path = parent
	}
}

func printHelp(out io.Writer, taskList buildsys.TaskList, options map[string]buildsys.ScriptOption) {
	names := taskList.Names()
	maxNameLen := len("help")
	for _, name := range names {
		if len(name) > maxNameLen {
			maxNameLen = len(name)
		}
	}

	fmt.Fprintln(out, colorstring.Color("[bold]Available tasks:"))
	nameFmt := fmt.Sprintf("[cyan]%%-%ds", maxNameLen+1)
	for _, name := range names {
		fmt.Fprintf(out, "  %s %s\n", colorstring.Color(fmt.Sprintf(nameFmt, name)), taskList[name].Desc)
	}
	fmt.Fprintf(out, "  %s %s\n", colorstring.Color(fmt.Sprintf(nameFmt, "help")), "Show this help")

	if len(options) == 0 {
		return
	}

	optionNames := make([]string, 0, len(options))
	for name := range options {
		optionNames = append(optionNames, name)
	}
	sort.Slice(optionNames, func(i, j int) bool {
		return options[optionNames[i]].Order < options[optionNames[j]].Order
	})

	fmt.Fprintln(out)
	fmt.Fprintln(out, colorstring.Color("[bold]Options (NAME=value):"))
	for _, name := range optionNames {
		opt := options[name]
		fmt.Fprintf(out, "  %s %s (default: %q)\n", colorstring.Color("[cyan]"+name), opt.Help, opt.Default())
	}
}
