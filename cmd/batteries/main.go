// Command batteries manages records declared in CUE.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/batteries/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		// Commands print their own structured errors; only flag and
		// argument errors from cobra reach here unprinted.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
