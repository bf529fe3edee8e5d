package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/rolling-glass/looking-glass/pkg/buildsys/cmd"
)

// set through -ldflags by tasks.star
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "tool",
	Short: "Build and maintenance tools for looking-glass",
	Long: `This command bundles the tools used to build and operate looking-glass.
This includes the task runner, cross-platform file helpers, a status/login probe and a visit log viewer.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(cmd.RootCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError(os.Stderr, err.Error())
		os.Exit(1)
	}
}
