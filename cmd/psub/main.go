package main

import (
	"context"
	"fmt"
	"os"

	"github.com/3leaps/psub/internal/cmd"
)

// Set by the linker.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)

	if err := cmd.Execute(context.Background()); err != nil {
		if msg := err.Error(); msg != "" {
			_, _ = fmt.Fprintln(os.Stderr, "Error:", msg)
		}
		os.Exit(cmd.ExitCode(err))
	}
}
