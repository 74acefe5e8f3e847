// Package scheduler runs the sync pass on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	appLog "calsync/internal/log"
)

// Scheduler runs one job on a cron spec. Ticks never overlap: a tick that
// fires while the previous one is still running is skipped.
type Scheduler struct {
	cron  *cron.Cron
	entry cron.EntryID
	spec  string

	ctx    context.Context
	cancel context.CancelFunc
	manual sync.WaitGroup
}

// New parses spec ("*/15 * * * *", "@every 10m", ...) and binds job to it.
func New(spec string, job func(ctx context.Context)) (*Scheduler, error) {
	logger := appLog.CronLogger{}
	c := cron.New(cron.WithChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	), cron.WithLogger(logger))

	s := &Scheduler{cron: c, spec: spec}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	id, err := c.AddFunc(spec, func() { job(s.ctx) })
	if err != nil {
		s.cancel()
		return nil, fmt.Errorf("schedule %q: %w", spec, err)
	}
	s.entry = id
	return s, nil
}

// Start runs the job once right away and then on every schedule tick.
func (s *Scheduler) Start() {
	appLog.Info("scheduler started", "schedule", s.spec)
	s.RunNow()
	s.cron.Start()
}

// RunNow triggers an out-of-schedule tick. It is skipped when a tick is
// already running.
func (s *Scheduler) RunNow() {
	wrapped := s.cron.Entry(s.entry).WrappedJob
	if wrapped == nil {
		return
	}
	s.manual.Add(1)
	go func() {
		defer s.manual.Done()
		wrapped.Run()
	}()
}

// Next reports when the next scheduled tick fires.
func (s *Scheduler) Next() string {
	next := s.cron.Entry(s.entry).Next
	if next.IsZero() {
		return ""
	}
	return next.Format("2006-01-02 15:04:05 MST")
}

// Stop cancels the running tick's context and waits for it to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.manual.Wait()
	appLog.Info("scheduler stopped")
}
