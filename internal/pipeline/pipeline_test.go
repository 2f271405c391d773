package pipeline

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/patrickspencer/hydranotify/internal/hydra"
	"github.com/patrickspencer/hydranotify/internal/jobs"
	"github.com/patrickspencer/hydranotify/internal/store"
	"github.com/patrickspencer/hydranotify/pkg/plugin"
)

type fakeFetcher struct {
	mu     sync.Mutex
	builds map[string]*hydra.Build
	errs   map[string]error
	calls  []string
}

func (f *fakeFetcher) LatestBuild(_ context.Context, jobsetPath, job string) (*hydra.Build, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := jobsetPath + "/" + job
	f.calls = append(f.calls, key)
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	if b, ok := f.builds[key]; ok {
		copied := *b
		return &copied, nil
	}
	return nil, hydra.ErrLatestBuildNotFound
}

func (f *fakeFetcher) set(job string, id uint64, status uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.builds == nil {
		f.builds = make(map[string]*hydra.Build)
	}
	name := strings.TrimPrefix(job, "nixpkgs/trunk/")
	f.builds[job] = &hydra.Build{
		ID:          id,
		BuildStatus: status,
		Project:     "nixpkgs",
		Jobset:      "trunk",
		Job:         name,
	}
}

type fakeResolver struct {
	pkgs []string
	err  error
	got  []string
}

func (r *fakeResolver) PackagesOf(_ context.Context, maintainers []string) ([]string, error) {
	r.got = maintainers
	return r.pkgs, r.err
}

type recordingNotifier struct {
	events []plugin.NotifyEvent
	err    error
}

func (n *recordingNotifier) Name() string { return "recording" }
func (n *recordingNotifier) Close() error { return nil }

func (n *recordingNotifier) Notify(_ context.Context, event plugin.NotifyEvent) error {
	n.events = append(n.events, event)
	return n.err
}

type failingStore struct {
	store.StatusStore
}

func (failingStore) UpdateStatus(context.Context, string, uint8) (uint8, bool, error) {
	return 0, false, errors.New("disk full")
}

func nopLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func openStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

var trunkWatch = Watch{
	Jobsets: []string{"nixpkgs:trunk"},
	Jobs:    []string{"hello", "jq"},
	Systems: []string{"x86_64-linux"},
}

func TestRunNotifiesOnlyNewFailures(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{}
	f.set("nixpkgs/trunk/hello.x86_64-linux", 10, 0)
	f.set("nixpkgs/trunk/jq.x86_64-linux", 11, 1)

	n := &recordingNotifier{}
	p := New(Config{
		Fetcher:  f,
		Store:    openStore(t),
		Notifier: n,
		BaseURL:  "https://hydra.example.org/",
		Subject:  "failing",
	})
	ctx := context.Background()

	report, err := p.Run(ctx, "run-1", trunkWatch)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Builds) != 2 || len(report.Failing) != 1 || len(report.NewlyFailing) != 1 {
		t.Fatalf("unexpected report: builds=%d failing=%d new=%d", len(report.Builds), len(report.Failing), len(report.NewlyFailing))
	}
	if len(n.events) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(n.events))
	}
	event := n.events[0]
	wantBody := "- nixpkgs:trunk:jq.x86_64-linux - https://hydra.example.org/build/11 - Failed\n"
	if event.Body != wantBody {
		t.Fatalf("body = %q, want %q", event.Body, wantBody)
	}
	if event.RunID != "run-1" || event.Subject != "failing" {
		t.Fatalf("unexpected event header %+v", event)
	}
	if len(event.Builds) != 1 || event.Builds[0].BuildID != 11 {
		t.Fatalf("unexpected event builds %+v", event.Builds)
	}

	report, err = p.Run(ctx, "run-2", trunkWatch)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(report.Failing) != 1 || len(report.NewlyFailing) != 0 {
		t.Fatalf("second run: failing=%d new=%d", len(report.Failing), len(report.NewlyFailing))
	}
	if len(n.events) != 1 {
		t.Fatalf("second run must not notify, got %d events", len(n.events))
	}
}

func TestRunNotifiesOnChangedFailureCode(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{}
	f.set("nixpkgs/trunk/hello.x86_64-linux", 10, 1)
	f.set("nixpkgs/trunk/jq.x86_64-linux", 11, 0)

	n := &recordingNotifier{}
	p := New(Config{Fetcher: f, Store: openStore(t), Notifier: n})
	ctx := context.Background()

	if _, err := p.Run(ctx, "", trunkWatch); err != nil {
		t.Fatalf("Run: %v", err)
	}
	f.set("nixpkgs/trunk/hello.x86_64-linux", 12, 7)
	report, err := p.Run(ctx, "", trunkWatch)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.NewlyFailing) != 1 || report.NewlyFailing[0].ID != 12 {
		t.Fatalf("expected timed out build to be new, got %+v", report.NewlyFailing)
	}
	if len(n.events) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(n.events))
	}
	if !strings.HasSuffix(n.events[1].Body, " - Timed out\n") {
		t.Fatalf("unexpected body %q", n.events[1].Body)
	}
	if report.RunID == "" {
		t.Fatal("expected a generated run id")
	}
}

func TestRunRecoveryThenFailureNotifiesAgain(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{}
	f.set("nixpkgs/trunk/hello.x86_64-linux", 10, 1)

	n := &recordingNotifier{}
	p := New(Config{Fetcher: f, Store: openStore(t), Notifier: n})
	ctx := context.Background()
	watch := Watch{Jobsets: []string{"nixpkgs:trunk"}, Jobs: []string{"hello"}, Systems: []string{"x86_64-linux"}}

	for i, status := range []uint8{1, 0, 1} {
		f.set("nixpkgs/trunk/hello.x86_64-linux", uint64(20+i), status)
		if _, err := p.Run(ctx, "", watch); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if len(n.events) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(n.events))
	}
}

func TestRunContinuesPastFetchErrors(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{errs: map[string]error{
		"nixpkgs/trunk/hello.x86_64-linux": hydra.ErrNotInEvaluation,
	}}
	f.set("nixpkgs/trunk/jq.x86_64-linux", 11, 1)

	p := New(Config{Fetcher: f, Store: openStore(t)})
	report, err := p.Run(context.Background(), "", trunkWatch)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.FetchErrors) != 1 || report.FetchErrors[0].Job.Name != "hello.x86_64-linux" {
		t.Fatalf("unexpected fetch errors %+v", report.FetchErrors)
	}
	if !errors.Is(report.FetchErrors[0].Err, hydra.ErrNotInEvaluation) {
		t.Fatalf("unexpected fetch error %v", report.FetchErrors[0].Err)
	}
	if err := report.FetchErr(); !errors.Is(err, hydra.ErrNotInEvaluation) {
		t.Fatalf("FetchErr = %v", err)
	}
	if len(report.Failing) != 1 {
		t.Fatalf("expected jq to be failing, got %d", len(report.Failing))
	}
	if len(f.calls) != 2 {
		t.Fatalf("expected both jobs fetched, got %v", f.calls)
	}
}

func TestRunNoBuildsFound(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{}
	p := New(Config{Fetcher: f, Store: openStore(t)})
	report, err := p.Run(context.Background(), "", trunkWatch)
	if !errors.Is(err, ErrNoBuildsFound) {
		t.Fatalf("expected ErrNoBuildsFound, got %v", err)
	}
	if report == nil || len(report.FetchErrors) != 2 {
		t.Fatalf("expected partial report with 2 fetch errors, got %+v", report)
	}
	if !errors.Is(err, hydra.ErrLatestBuildNotFound) {
		t.Fatalf("expected the fetch errors in %v", err)
	}
	if got := len(multierr.Errors(err)); got != 3 {
		t.Fatalf("expected 3 combined errors, got %d: %v", got, err)
	}
	for _, job := range []string{"hello.x86_64-linux", "jq.x86_64-linux"} {
		if !strings.Contains(err.Error(), job) {
			t.Fatalf("error %q does not name %s", err, job)
		}
	}
}

func TestRunNoJobsIsNoBuildsFound(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{}
	p := New(Config{Fetcher: f, Store: openStore(t)})
	if _, err := p.Run(context.Background(), "", Watch{}); !errors.Is(err, ErrNoBuildsFound) {
		t.Fatalf("expected ErrNoBuildsFound, got %v", err)
	}
	if len(f.calls) != 0 {
		t.Fatalf("expected no fetches, got %v", f.calls)
	}
}

func TestRunStoreErrorIsFatal(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{}
	f.set("nixpkgs/trunk/hello.x86_64-linux", 10, 1)
	n := &recordingNotifier{}

	p := New(Config{Fetcher: f, Store: failingStore{}, Notifier: n})
	_, err := p.Run(context.Background(), "", trunkWatch)
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected store error, got %v", err)
	}
	if len(n.events) != 0 {
		t.Fatalf("expected no notification, got %d", len(n.events))
	}
}

func TestRunNotifierErrorIsReturned(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{}
	f.set("nixpkgs/trunk/hello.x86_64-linux", 10, 1)
	n := &recordingNotifier{err: errors.New("smtp down")}

	p := New(Config{Fetcher: f, Store: openStore(t), Notifier: n})
	_, err := p.Run(context.Background(), "", trunkWatch)
	if err == nil || !strings.Contains(err.Error(), "notify via recording: smtp down") {
		t.Fatalf("expected notifier error, got %v", err)
	}
}

func TestRunResolvesMaintainers(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{}
	f.set("nixpkgs/trunk/ripgrep.x86_64-linux", 30, 0)
	r := &fakeResolver{pkgs: []string{"ripgrep"}}

	p := New(Config{Resolver: r, Fetcher: f, Store: openStore(t)})
	report, err := p.Run(context.Background(), "", Watch{
		Jobsets:     []string{"nixpkgs:trunk"},
		Systems:     []string{"x86_64-linux"},
		Maintainers: []string{"alice"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(r.got) != 1 || r.got[0] != "alice" {
		t.Fatalf("resolver got %v", r.got)
	}
	if len(report.Jobs) != 1 || report.Jobs[0].Name != "ripgrep.x86_64-linux" {
		t.Fatalf("unexpected jobs %v", report.Jobs)
	}
}

func TestRunResolverErrorIsFatal(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{}
	r := &fakeResolver{err: errors.New("index unreachable")}

	p := New(Config{Resolver: r, Fetcher: f, Store: openStore(t)})
	_, err := p.Run(context.Background(), "", Watch{Maintainers: []string{"alice"}, Jobs: []string{"hello"}})
	if err == nil || !strings.Contains(err.Error(), "resolve maintainers") {
		t.Fatalf("expected resolver error, got %v", err)
	}
	if len(f.calls) != 0 {
		t.Fatalf("expected no fetches, got %v", f.calls)
	}
}

func TestFetchAllStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &fakeFetcher{}
	res, err := FetchAll(ctx, f, []jobs.Job{{JobsetPath: "nixpkgs/trunk", Name: "hello"}}, nopLogger())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(res.Builds) != 0 || len(f.calls) != 0 {
		t.Fatalf("expected nothing fetched, got %+v", res)
	}
}

func TestFetchResultErr(t *testing.T) {
	t.Parallel()

	var empty FetchResult
	if err := empty.Err(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	res := FetchResult{Errors: []FetchError{
		{Job: jobs.Job{JobsetPath: "p/j", Name: "a"}, Err: hydra.ErrNotInEvaluation},
		{Job: jobs.Job{JobsetPath: "p/j", Name: "b"}, Err: hydra.ErrLatestBuildNotFound},
	}}
	errs := multierr.Errors(res.Err())
	if len(errs) != 2 {
		t.Fatalf("expected 2 combined errors, got %d", len(errs))
	}
	if !errors.Is(res.Err(), hydra.ErrLatestBuildNotFound) {
		t.Fatalf("combined error should match wrapped sentinel: %v", res.Err())
	}
}

func TestNewlyFailing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status uint8
		prev   uint8
		found  bool
		want   bool
	}{
		{"success never", 0, 1, true, false},
		{"first failure", 1, 0, false, true},
		{"still failing", 1, 1, true, false},
		{"was passing", 1, 0, true, true},
		{"different failure", 7, 1, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewlyFailing(tt.status, tt.prev, tt.found); got != tt.want {
				t.Fatalf("NewlyFailing(%d, %d, %v) = %v, want %v", tt.status, tt.prev, tt.found, got, tt.want)
			}
		})
	}
}

func TestSummary(t *testing.T) {
	t.Parallel()

	oldFail := &hydra.Build{ID: 1, BuildStatus: 1, Project: "p", Jobset: "j", Job: "a"}
	newFail := &hydra.Build{ID: 2, BuildStatus: 2, Project: "p", Jobset: "j", Job: "b"}
	ok := &hydra.Build{ID: 3, Project: "p", Jobset: "j", Job: "c"}

	report := &Report{
		Builds:       []*hydra.Build{oldFail, newFail, ok},
		Failing:      []*hydra.Build{oldFail, newFail},
		NewlyFailing: []*hydra.Build{newFail},
	}

	var buf bytes.Buffer
	if err := report.Summary(&buf, "https://h"); err != nil {
		t.Fatalf("Summary: %v", err)
	}
	want := "Failing builds (2 of 3 checked):\n" +
		"- p:j:a - https://h/build/1 - Failed\n" +
		"- p:j:b - https://h/build/2 - Dependency Failed [new]\n"
	if buf.String() != want {
		t.Fatalf("Summary =\n%s\nwant\n%s", buf.String(), want)
	}

	buf.Reset()
	clean := &Report{Builds: []*hydra.Build{ok}}
	if err := clean.Summary(&buf, "https://h"); err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if buf.String() != "No failing builds (1 checked).\n" {
		t.Fatalf("unexpected clean summary %q", buf.String())
	}
}
