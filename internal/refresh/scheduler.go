package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"copilot/internal/discovery"
	appLog "copilot/internal/log"
	"copilot/internal/model"
)

// Collector is what the scheduler needs from discovery.
type Collector interface {
	Collect(ctx context.Context, feeds []discovery.Feed, now time.Time) ([]model.Event, []error)
}

// Sink receives each successfully collected event set.
type Sink interface {
	Replace(events []model.Event, at time.Time)
}

// Recorder receives refresh outcomes; metrics.Metrics implements it.
type Recorder interface {
	Refreshed(status string, stored int, at time.Time)
}

// Scheduler runs discovery on a cron schedule and stores the result.
type Scheduler struct {
	schedule  string
	feeds     []discovery.Feed
	collector Collector
	sink      Sink
	recorder  Recorder
	now       func() time.Time
	timeout   time.Duration

	cron *cron.Cron
	// runMu serialises runs so a slow refresh and a manual one never
	// interleave their Replace calls.
	runMu sync.Mutex
}

type Option func(*Scheduler)

func WithRecorder(r Recorder) Option { return func(s *Scheduler) { s.recorder = r } }

func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// WithTimeout bounds a single scheduled run.
func WithTimeout(d time.Duration) Option { return func(s *Scheduler) { s.timeout = d } }

// New validates schedule and builds a stopped scheduler.
func New(schedule string, feeds []discovery.Feed, c Collector, sink Sink, opts ...Option) (*Scheduler, error) {
	if c == nil || sink == nil {
		return nil, errors.New("refresh: collector and sink are required")
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("refresh: invalid schedule %q: %w", schedule, err)
	}

	s := &Scheduler{
		schedule:  schedule,
		feeds:     append([]discovery.Feed(nil), feeds...),
		collector: c,
		sink:      sink,
		now:       time.Now,
		timeout:   2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RunOnce collects all feeds and stores the result. When every feed fails,
// or ctx ends before collection finishes, the previous set is kept and the
// error is returned; partial failures still store what was collected.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	start := s.now()
	events, errs := s.collector.Collect(ctx, s.feeds, start)

	if err := ctx.Err(); err != nil {
		err = fmt.Errorf("refresh: interrupted: %w", errors.Join(append([]error{err}, errs...)...))
		s.record("failed", -1, start)
		appLog.Error("refresh interrupted; keeping previous events", err, "feeds", len(s.feeds))
		return err
	}
	if len(errs) > 0 && len(errs) >= len(s.feeds) {
		err := errors.Join(errs...)
		s.record("failed", -1, start)
		appLog.Error("refresh failed; keeping previous events", err, "feeds", len(s.feeds))
		return err
	}

	s.sink.Replace(events, start)

	status := "ok"
	if len(errs) > 0 {
		status = "partial"
	}
	s.record(status, len(events), start)
	appLog.Info("refresh completed",
		"status", status,
		"events", len(events),
		"failed_feeds", len(errs),
		"took", time.Since(start).String(),
	)
	return nil
}

// Start schedules RunOnce with the cron schedule. ctx bounds every run.
func (s *Scheduler) Start(ctx context.Context) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, _ = c.AddFunc(s.schedule, func() {
		runCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		_ = s.RunOnce(runCtx)
	})
	s.cron = c
	c.Start()
	appLog.Info("refresh scheduler started", "schedule", s.schedule, "feeds", len(s.feeds))
}

// Stop halts the schedule and waits for a running job, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	s.cron = nil
}

func (s *Scheduler) record(status string, stored int, at time.Time) {
	if s.recorder != nil {
		s.recorder.Refreshed(status, stored, at)
	}
}
