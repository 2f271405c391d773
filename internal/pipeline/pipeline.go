// Package pipeline ties the components together: it expands the watched
// jobs, fetches their latest builds from Hydra, records each status and
// reports the builds that started failing since the previous run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/patrickspencer/hydranotify/internal/hydra"
	"github.com/patrickspencer/hydranotify/internal/jobs"
	"github.com/patrickspencer/hydranotify/internal/store"
	"github.com/patrickspencer/hydranotify/pkg/plugin"
)

// ErrNoBuildsFound is returned when not a single build could be fetched.
// It usually means Hydra changed its page layout.
var ErrNoBuildsFound = errors.New("no builds found, hydra's page format may have changed")

// Fetcher resolves a job to its latest build.
type Fetcher interface {
	LatestBuild(ctx context.Context, jobsetPath, job string) (*hydra.Build, error)
}

// Resolver maps maintainer handles to package names.
type Resolver interface {
	PackagesOf(ctx context.Context, maintainers []string) ([]string, error)
}

// Watch lists what to monitor. Jobsets use the project:jobset:prefix form.
type Watch struct {
	Jobsets     []string
	Jobs        []string
	Systems     []string
	Maintainers []string
}

// Config holds the collaborators of a Pipeline.
type Config struct {
	Resolver Resolver
	Fetcher  Fetcher
	Store    store.StatusStore
	Notifier plugin.Notifier
	BaseURL  string // used for build links
	Subject  string
	Logger   *zap.SugaredLogger
}

// Pipeline runs one check of all watched jobs.
type Pipeline struct {
	resolver Resolver
	fetcher  Fetcher
	store    store.StatusStore
	notifier plugin.Notifier
	baseURL  string
	subject  string
	logger   *zap.SugaredLogger
}

// New creates a Pipeline. Resolver and Notifier may be nil.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		resolver: cfg.Resolver,
		fetcher:  cfg.Fetcher,
		store:    cfg.Store,
		notifier: cfg.Notifier,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		subject:  cfg.Subject,
		logger:   cfg.Logger,
	}
	if p.baseURL == "" {
		p.baseURL = hydra.DefaultURL
	}
	if p.logger == nil {
		p.logger = zap.NewNop().Sugar()
	}
	return p
}

// Report is the outcome of a run.
type Report struct {
	RunID        string
	Jobs         []jobs.Job
	Builds       []*hydra.Build
	Failing      []*hydra.Build
	NewlyFailing []*hydra.Build
	FetchErrors  []FetchError
}

// Run executes one check. runID tags log lines and the notification; an
// empty runID gets a fresh one. On ErrNoBuildsFound the partial report is
// returned along with the error, combined with every fetch error.
func (p *Pipeline) Run(ctx context.Context, runID string, watch Watch) (*Report, error) {
	if runID == "" {
		runID = store.NewRunID()
	}
	log := p.logger.With("run_id", runID)
	report := &Report{RunID: runID}

	var extra []string
	if len(watch.Maintainers) > 0 {
		if p.resolver == nil {
			return report, errors.New("maintainers given but no resolver configured")
		}
		pkgs, err := p.resolver.PackagesOf(ctx, watch.Maintainers)
		if err != nil {
			return report, fmt.Errorf("resolve maintainers: %w", err)
		}
		log.Infow("pipeline: resolved maintainer packages", "count", len(pkgs))
		extra = pkgs
	}

	report.Jobs = jobs.Expand(jobs.ParseJobSpecs(watch.Jobsets), watch.Jobs, watch.Systems, extra)
	log.Infow("pipeline: expanded jobs", "count", len(report.Jobs))

	fetched, err := FetchAll(ctx, p.fetcher, report.Jobs, log)
	report.Builds = fetched.Builds
	report.FetchErrors = fetched.Errors
	if err != nil {
		return report, err
	}
	if len(fetched.Builds) == 0 {
		return report, multierr.Combine(ErrNoBuildsFound, fetched.Err())
	}

	for _, b := range fetched.Builds {
		prev, found, err := p.store.UpdateStatus(ctx, b.FullName(), b.BuildStatus)
		if err != nil {
			return report, fmt.Errorf("update status: %w", err)
		}
		if !b.IsFailing() {
			continue
		}
		report.Failing = append(report.Failing, b)
		if NewlyFailing(b.BuildStatus, prev, found) {
			report.NewlyFailing = append(report.NewlyFailing, b)
		}
	}

	log.Infow("pipeline: statuses recorded",
		"fetched", len(fetched.Builds),
		"fetch_errors", len(fetched.Errors),
		"failing", len(report.Failing),
		"newly_failing", len(report.NewlyFailing))

	if len(report.NewlyFailing) > 0 && p.notifier != nil {
		event := p.event(runID, report.NewlyFailing)
		if err := p.notifier.Notify(ctx, event); err != nil {
			return report, fmt.Errorf("notify via %s: %w", p.notifier.Name(), err)
		}
		log.Infow("pipeline: notification sent",
			"notifier", p.notifier.Name(),
			"builds", len(event.Builds))
	}

	return report, nil
}

// NewlyFailing reports whether a build with status should be notified,
// given the previously stored status. A change between two failure codes
// counts, since the reason shown to the user changed.
func NewlyFailing(status, prev uint8, found bool) bool {
	return status != 0 && (!found || prev != status)
}

func (p *Pipeline) event(runID string, builds []*hydra.Build) plugin.NotifyEvent {
	event := plugin.NotifyEvent{
		RunID:   runID,
		Subject: p.subject,
		Body:    FormatBody(builds, p.baseURL),
		Builds:  make([]plugin.FailingBuild, 0, len(builds)),
	}
	for _, b := range builds {
		event.Builds = append(event.Builds, plugin.FailingBuild{
			FullName:   b.FullName(),
			BuildID:    b.ID,
			URL:        b.URL(p.baseURL),
			Status:     b.BuildStatus,
			StatusText: b.StatusText(),
			NixName:    b.NixName,
		})
	}
	return event
}

// FormatBody renders one line per build:
// "- {fullName} - {base}/build/{id} - {status}".
func FormatBody(builds []*hydra.Build, base string) string {
	var sb strings.Builder
	for _, b := range builds {
		fmt.Fprintf(&sb, "- %s - %s - %s\n", b.FullName(), b.URL(base), b.StatusText())
	}
	return sb.String()
}

// FetchErr combines the fetch errors of the run, or returns nil.
func (r *Report) FetchErr() error {
	return FetchResult{Errors: r.FetchErrors}.Err()
}

// Summary writes every currently failing build, marking the ones that
// were notified in this run.
func (r *Report) Summary(w io.Writer, base string) error {
	if len(r.Failing) == 0 {
		_, err := fmt.Fprintf(w, "No failing builds (%d checked).\n", len(r.Builds))
		return err
	}

	fresh := make(map[*hydra.Build]bool, len(r.NewlyFailing))
	for _, b := range r.NewlyFailing {
		fresh[b] = true
	}

	if _, err := fmt.Fprintf(w, "Failing builds (%d of %d checked):\n", len(r.Failing), len(r.Builds)); err != nil {
		return err
	}
	for _, b := range r.Failing {
		marker := ""
		if fresh[b] {
			marker = " [new]"
		}
		if _, err := fmt.Fprintf(w, "- %s - %s - %s%s\n", b.FullName(), b.URL(base), b.StatusText(), marker); err != nil {
			return err
		}
	}
	return nil
}

// FetchError records a job whose build could not be fetched.
type FetchError struct {
	Job jobs.Job
	Err error
}

func (e FetchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Job, e.Err)
}

func (e FetchError) Unwrap() error {
	return e.Err
}

// FetchResult splits fetched builds from failures.
type FetchResult struct {
	Builds []*hydra.Build
	Errors []FetchError
}

// Err combines all fetch errors, or returns nil.
func (r FetchResult) Err() error {
	var err error
	for _, fe := range r.Errors {
		err = multierr.Append(err, fe)
	}
	return err
}

// FetchAll fetches the latest build of every job, one at a time. A failing
// job is logged and recorded, and the loop moves on. Only cancellation of
// ctx stops the loop early, and its error is returned.
func FetchAll(ctx context.Context, f Fetcher, js []jobs.Job, log *zap.SugaredLogger) (FetchResult, error) {
	var res FetchResult
	for _, j := range js {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		build, err := f.LatestBuild(ctx, j.JobsetPath, j.Name)
		if err != nil {
			log.Errorw("pipeline: failed to fetch build", "job", j.String(), "error", err)
			res.Errors = append(res.Errors, FetchError{Job: j, Err: err})
			continue
		}

		log.Debugw("pipeline: fetched build",
			"job", j.String(),
			"build_id", build.ID,
			"status", build.StatusText())
		res.Builds = append(res.Builds, build)
	}
	return res, nil
}
