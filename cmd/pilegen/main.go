// Package main provides the pilegen CLI entrypoint.
package main

import (
	"fmt"
	"os"

	"github.com/pilegen/pilegen/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
