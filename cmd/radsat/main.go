// Package main provides the radsat CLI entrypoint.
//
// `run` operates the flight communication stack and `ground` flies a
// scripted pass against it. All other commands are offline tools.
//
// Usage:
//
//	radsat <command> [subcommand] [options]
//
// Exit codes:
//   - 0: success
//   - 1: invalid configuration or arguments
//   - 2: runtime failure (link, journal, shutdown, invalid frame)
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/radsat/cli/cmd"
	"github.com/justapithecus/radsat/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func newApp() *cli.App {
	return &cli.App{
		Name:           "radsat",
		Usage:          "CubeSat ground-link communication stack",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.RunCommand(),
			cmd.GroundCommand(),
			cmd.FrameCommand(),
			cmd.StatsCommand(),
			cmd.PassesCommand(),
			cmd.KeystoreCommand(),
			cmd.VersionCommand("", commit),
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit for cli.ExitCoder errors.
		os.Exit(1)
	}
}

// exitErrHandler handles errors from the CLI, preserving exit codes from cli.Exit().
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	os.Exit(reportExit(os.Stderr, err))
}

// reportExit prints err to w when it carries a message and returns the
// process exit code.
func reportExit(w io.Writer, err error) int {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() returns "exit status N", so skip those
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(w, msg)
		}
		return code
	}

	fmt.Fprintf(w, "Error: %v\n", err)
	return 1
}
