package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/patrickspencer/hydranotify/internal/scheduler"
	"github.com/patrickspencer/hydranotify/internal/web"
	"github.com/patrickspencer/hydranotify/internal/web/api"
)

// triggerName maps scheduler triggers to run records.
var triggerName = map[string]string{
	scheduler.TriggerSchedule: "schedule",
	scheduler.TriggerStartup:  "startup",
	scheduler.TriggerManual:   "api",
}

func runDaemon(args []string, stdout, stderr io.Writer) int {
	var opts options
	fs := newFlagSet("daemon", &opts, stderr)
	schedule := fs.String("schedule", "", "cron schedule overriding daemon.schedule")
	listen := fs.String("listen", "", "API listen address overriding daemon.listen")
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
	if *schedule != "" {
		cfg.Daemon.Schedule = *schedule
	}
	if *listen != "" {
		cfg.Daemon.Listen = *listen
	}

	a, err := newApp(cfg, opts.dryRun, stdout)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitFailure
	}
	defer a.Close()

	sched, err := scheduler.New(cfg.Daemon.Schedule, func(ctx context.Context, trigger string) {
		report, err := a.check(ctx, triggerName[trigger])
		if err != nil {
			a.log.Errorw("check failed", "trigger", trigger, "error", err)
		}
		var summary strings.Builder
		if a.summarize(&summary, report, err) {
			a.log.Infow("check summary",
				"trigger", trigger,
				"run_id", report.RunID,
				"summary", summary.String())
		}
	}, a.log.Named("scheduler"))
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitFailure
	}

	var srv *web.Server
	serveErr := make(chan error, 1)
	if cfg.Daemon.Listen != "" {
		srv = web.NewServer(cfg.Daemon.Listen, &api.API{
			Store:      a.store,
			Events:     a.events,
			TriggerRun: func() bool { return sched.Trigger(scheduler.TriggerManual) },
			Running:    sched.Running,
			NextRun:    sched.NextRun,
		}, a.log.Named("web"))
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	sched.Start()
	if cfg.Daemon.ShouldRunOnStart() {
		sched.Trigger(scheduler.TriggerStartup)
	}
	a.log.Infow("hydranotify daemon started",
		"schedule", cfg.Daemon.Schedule,
		"listen", cfg.Daemon.Listen)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	code := exitOK
	select {
	case sig := <-sigCh:
		a.log.Infow("shutting down", "signal", sig.String())
	case err := <-serveErr:
		a.log.Errorw("http server error", "error", err)
		code = exitFailure
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Errorw("http server shutdown error", "error", err)
		}
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		a.log.Errorw("scheduler stop timed out", "error", err)
	}

	a.log.Infow("hydranotify stopped")
	return code
}
