package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/patrickspencer/hydranotify/internal/config"
	"github.com/patrickspencer/hydranotify/internal/hydra"
	"github.com/patrickspencer/hydranotify/internal/logger"
	"github.com/patrickspencer/hydranotify/internal/maintainers"
	"github.com/patrickspencer/hydranotify/internal/notify"
	"github.com/patrickspencer/hydranotify/internal/pipeline"
	"github.com/patrickspencer/hydranotify/internal/realtime"
	"github.com/patrickspencer/hydranotify/internal/store"
	"github.com/patrickspencer/hydranotify/pkg/plugin"
)

// app holds the long-lived components built from the configuration.
type app struct {
	cfg      *config.Config
	log      *zap.SugaredLogger
	store    *store.SQLiteStore
	notifier plugin.Notifier
	pipeline *pipeline.Pipeline
	events   *realtime.Broker
	stdout   io.Writer
}

func newApp(cfg *config.Config, dryRun bool, stdout io.Writer) (*app, error) {
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	timeout, err := cfg.Hydra.ParseTimeout()
	if err != nil {
		return nil, err
	}
	httpClient, indexClient := newHTTPClients(timeout)

	var notifier plugin.Notifier
	switch {
	case dryRun:
		log.Infow("dry run, notifications go to stdout")
		notifier = notify.NewWriter(stdout)
	case cfg.Mail.Enabled():
		mailer, err := notify.NewMailer(cfg.Mail.Notify(), log.Named("notify"))
		if err != nil {
			return nil, err
		}
		notifier = mailer
	default:
		log.Infow("no mail server configured, notifications go to stdout")
		notifier = notify.NewWriter(stdout)
	}

	dbDir := filepath.Dir(cfg.Database.Path)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory %s: %w", dbDir, err)
	}
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	log.Infow("store opened", "path", cfg.Database.Path)

	client := hydra.NewClient(
		hydra.WithBaseURL(cfg.Hydra.URL),
		hydra.WithUserAgent(cfg.Hydra.UserAgent),
		hydra.WithHTTPClient(httpClient),
		hydra.WithLogger(log.Named("hydra")),
	)
	resolver := maintainers.NewResolver(indexClient,
		maintainers.WithIndexURL(cfg.Index.URL),
		maintainers.WithUserAgent(cfg.Hydra.UserAgent),
		maintainers.WithLogger(log.Named("maintainers")),
	)

	p := pipeline.New(pipeline.Config{
		Resolver: resolver,
		Fetcher:  client,
		Store:    st,
		Notifier: notifier,
		BaseURL:  client.BaseURL(),
		Subject:  cfg.Mail.Subject,
		Logger:   log,
	})

	return &app{
		cfg:      cfg,
		log:      log,
		store:    st,
		notifier: notifier,
		pipeline: p,
		events:   realtime.NewBroker(),
		stdout:   stdout,
	}, nil
}

// summarize logs the fetch errors of report and writes its summary to w.
// A failed run still gets a summary once it found failing builds, since
// their statuses are already stored and a later run will not mark them
// new again. It reports whether anything was written.
func (a *app) summarize(w io.Writer, report *pipeline.Report, runErr error) bool {
	if report == nil {
		return false
	}
	if err := report.FetchErr(); err != nil {
		a.log.Warnw("some jobs could not be fetched",
			"run_id", report.RunID,
			"count", len(report.FetchErrors),
			"error", err)
	}
	if runErr != nil && len(report.Failing) == 0 {
		return false
	}
	if err := report.Summary(w, a.cfg.Hydra.URL); err != nil {
		a.log.Warnw("failed to write summary", "error", err)
		return false
	}
	return true
}

// newHTTPClients returns the Hydra client and the package index client.
// Both share one transport and its connection pool. The index client only
// differs by its longer timeout, since http.Client.Timeout covers reading
// the whole body.
func newHTTPClients(timeout time.Duration) (hydraClient, indexClient *http.Client) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	hydraClient = &http.Client{Transport: transport, Timeout: timeout}

	indexTimeout := maintainers.IndexTimeout
	if timeout == 0 || timeout > indexTimeout {
		indexTimeout = timeout
	}
	indexClient = &http.Client{Transport: transport, Timeout: indexTimeout}
	return hydraClient, indexClient
}

func (a *app) Close() error {
	if err := a.notifier.Close(); err != nil {
		a.log.Warnw("notifier close failed", "error", err)
	}
	a.log.Sync()
	return a.store.Close()
}

// check runs the pipeline once and records the run.
func (a *app) check(ctx context.Context, trigger string) (*pipeline.Report, error) {
	watch, err := a.cfg.Watch.Resolve()
	if err != nil {
		return nil, err
	}

	run := &store.Run{
		ID:        store.NewRunID(),
		Trigger:   trigger,
		Status:    "running",
		StartedAt: time.Now().UTC(),
	}
	if err := a.store.RecordRun(ctx, run); err != nil {
		a.log.Errorw("failed to record run start", "run_id", run.ID, "error", err)
	}
	a.events.Publish(realtime.Event{
		Type:    realtime.EventRunStarted,
		RunID:   run.ID,
		Trigger: trigger,
		Status:  run.Status,
	})

	report, runErr := a.pipeline.Run(ctx, run.ID, watch)

	finished := time.Now().UTC()
	run.FinishedAt = &finished
	run.Status = runStatus(runErr)
	if runErr != nil {
		run.ErrorMsg = runErr.Error()
	}
	if report != nil {
		run.Jobs = len(report.Jobs)
		run.Fetched = len(report.Builds)
		run.FetchErrors = len(report.FetchErrors)
		run.Failing = len(report.Failing)
		run.NewlyFailing = len(report.NewlyFailing)
		for _, b := range report.NewlyFailing {
			a.events.Publish(realtime.Event{
				Type:     realtime.EventNewFailure,
				RunID:    run.ID,
				Job:      b.FullName(),
				BuildURL: b.URL(a.cfg.Hydra.URL),
				Status:   b.StatusText(),
			})
		}
	}

	// The run record is written even when ctx was cancelled mid-run.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.store.RecordRun(recordCtx, run); err != nil {
		a.log.Errorw("failed to record run result", "run_id", run.ID, "error", err)
	}
	a.events.Publish(realtime.Event{
		Type:         realtime.EventRunFinished,
		RunID:        run.ID,
		Trigger:      trigger,
		Status:       run.Status,
		Failing:      run.Failing,
		NewlyFailing: run.NewlyFailing,
	})

	return report, runErr
}

func runStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case isNoBuilds(err):
		return "no_builds"
	default:
		return "failure"
	}
}
