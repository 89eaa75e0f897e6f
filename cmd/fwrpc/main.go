package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/fwrpc/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		// Commands report through their formatter; only unhandled errors
		// (flag parsing, unknown commands) reach here unprinted.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
