package main

import (
	"fmt"
	"os"

	"github.com/tyemirov/flowsync/cmd/cli"
)

const (
	exitErrorTemplateConstant = "%v\n"
)

// main executes the flowsync command-line application.
func main() {
	exitCode, executionError := cli.Execute()
	if executionError != nil {
		fmt.Fprintf(os.Stderr, exitErrorTemplateConstant, executionError)
	}
	os.Exit(exitCode)
}
