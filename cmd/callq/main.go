// Package main provides callq, the callscope command line tool.
package main

import (
	"fmt"
	"os"

	"github.com/callscope/callscope/cmd/callq/cli"
)

const version = "1.0.0-dev"

func main() {
	if err := cli.NewRootCommand(version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "callq: %v\n", err)
		os.Exit(1)
	}
}
