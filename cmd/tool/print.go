package main

import (
	"fmt"
	"io"

	"github.com/mitchellh/colorstring"
)

func printTask(out io.Writer, msg string) {
	fmt.Fprintf(out, "%s %s\n", colorstring.Color("[blue][bold]==>"), msg)
}

func printSubtask(out io.Writer, msg string) {
	fmt.Fprintf(out, "%s %s\n", colorstring.Color("[green][bold]  ->"), msg)
}

func printError(out io.Writer, msg string) {
	fmt.Fprintf(out, "%s %s\n", colorstring.Color("[red][bold]Error:"), msg)
}
