// Package scheduler runs checks on a cron schedule and on demand, never
// more than one at a time.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Trigger names recorded with each run.
const (
	TriggerSchedule = "schedule"
	TriggerStartup  = "startup"
	TriggerManual   = "manual"
)

// RunFunc performs one check. trigger is one of the Trigger constants.
type RunFunc func(ctx context.Context, trigger string)

// Scheduler fires a RunFunc on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	entry   cron.EntryID
	run     RunFunc
	logger  *zap.SugaredLogger
	running atomic.Bool
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler for the given cron expression.
func New(expr string, run RunFunc, log *zap.SugaredLogger) (*Scheduler, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	schedule, err := ParseSchedule(expr)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expr, err)
	}

	cl := cronLogger{log: log}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		run:    run,
		logger: log,
		ctx:    ctx,
		cancel: cancel,
	}
	s.entry = s.cron.Schedule(schedule, cron.FuncJob(func() {
		if !s.execute(TriggerSchedule) {
			s.logger.Warnw("scheduler: skipping tick, check still running")
		}
	}))
	return s, nil
}

// Start begins firing on schedule.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Infow("scheduler: started", "next_run", s.NextRun())
}

// Stop stops the schedule, cancels a check in progress and waits for it
// to return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	cronDone := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger starts a check in the background. It returns false when a check
// is already running.
func (s *Scheduler) Trigger(trigger string) bool {
	if !s.running.CompareAndSwap(false, true) {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		s.call(trigger)
	}()
	return true
}

// Running reports whether a check is in progress.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// NextRun returns the next scheduled fire time, or the zero time before
// Start.
func (s *Scheduler) NextRun() time.Time {
	return s.cron.Entry(s.entry).Next
}

// execute runs a check synchronously unless one is already running.
func (s *Scheduler) execute(trigger string) bool {
	if !s.running.CompareAndSwap(false, true) {
		return false
	}
	defer s.running.Store(false)
	s.wg.Add(1)
	defer s.wg.Done()
	s.call(trigger)
	return true
}

func (s *Scheduler) call(trigger string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("scheduler: check panicked", "trigger", trigger, "panic", r)
		}
	}()
	s.run(s.ctx, trigger)
}
