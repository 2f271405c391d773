// Command hydranotify watches Hydra jobs and mails a report when builds
// start failing.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/patrickspencer/hydranotify/internal/pipeline"
)

const (
	exitOK       = 0
	exitFailure  = 1
	exitNoBuilds = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 {
		switch args[0] {
		case "daemon":
			return runDaemon(args[1:], stdout, stderr)
		case "watchdog":
			return runWatchdog(args[1:], stderr)
		case "run":
			args = args[1:]
		}
	}
	return runOnce(args, stdout, stderr)
}

func runOnce(args []string, stdout, stderr io.Writer) int {
	var opts options
	fs := newFlagSet("hydranotify", &opts, stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitFailure
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitFailure
	}

	a, err := newApp(cfg, opts.dryRun, stdout)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitFailure
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := a.check(ctx, "cli")
	a.summarize(stdout, report, err)
	if err != nil {
		a.log.Errorw("run failed", "error", err)
		return exitCode(err)
	}
	return exitOK
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case isNoBuilds(err):
		return exitNoBuilds
	default:
		return exitFailure
	}
}

func isNoBuilds(err error) bool {
	return errors.Is(err, pipeline.ErrNoBuildsFound)
}
