// Package schedule runs configured tasks on their cron schedules while the
// server is up.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bamsammich/hlink/internal/config"
	"github.com/bamsammich/hlink/internal/errs"
	"github.com/bamsammich/hlink/internal/event"
)

// Starter runs a task to completion.
type Starter interface {
	Start(ctx context.Context, name string) (event.Summary, error)
}

type entry struct {
	spec string
	id   cron.EntryID
}

// Scheduler fires Starter.Start for every task that has a schedule.
type Scheduler struct {
	ctx     context.Context //nolint:containedctx // jobs run under the server's lifetime
	cron    *cron.Cron
	starter Starter
	logger  *slog.Logger
	entries map[string]entry
	mu      sync.Mutex
}

// New creates a stopped scheduler. Jobs run under ctx.
func New(ctx context.Context, starter Starter, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		ctx:     ctx,
		cron:    cron.New(),
		starter: starter,
		logger:  logger,
		entries: make(map[string]entry),
	}
}

// Validate reports whether spec is a schedule Sync accepts.
func Validate(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return errs.Config("invalid schedule %q: %v", spec, err)
	}
	return nil
}

// Sync makes the registered jobs match tasks. Unchanged schedules keep their
// next activation. Tasks with an invalid schedule are skipped and reported
// in the joined error.
func (s *Scheduler) Sync(tasks []config.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]string, len(tasks))
	var errList []error
	for _, t := range tasks {
		if t.Schedule == "" {
			continue
		}
		if err := Validate(t.Schedule); err != nil {
			errList = append(errList, fmt.Errorf("task %q: %w", t.Name, err))
			continue
		}
		want[t.Name] = t.Schedule
	}

	for name, e := range s.entries {
		if spec, ok := want[name]; ok && spec == e.spec {
			continue
		}
		s.cron.Remove(e.id)
		delete(s.entries, name)
		s.logger.Debug("schedule removed", "task", name, "schedule", e.spec)
	}

	for name, spec := range want {
		if _, ok := s.entries[name]; ok {
			continue
		}
		id, err := s.cron.AddFunc(spec, s.job(name))
		if err != nil {
			errList = append(errList, fmt.Errorf("task %q: %w", name, err))
			continue
		}
		s.entries[name] = entry{spec: spec, id: id}
		s.logger.Info("task scheduled", "task", name, "schedule", spec)
	}
	return errors.Join(errList...)
}

func (s *Scheduler) job(name string) func() {
	return func() {
		s.logger.Info("scheduled run starting", "task", name)
		summary, err := s.starter.Start(s.ctx, name)
		switch {
		case errors.Is(err, errs.ErrAlreadyRunning):
			s.logger.Info("scheduled run skipped, task already running", "task", name)
		case err != nil:
			s.logger.Error("scheduled run failed", "task", name, "error", err)
		default:
			s.logger.Info("scheduled run finished",
				"task", name,
				"linked", summary.Linked,
				"failed", summary.Failed,
				"pending", len(summary.Pending),
			)
		}
	}
}

// Scheduled returns the names of the tasks with a registered job.
func (s *Scheduler) Scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for name := range s.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Next returns the next activation of name. It is zero until the scheduler
// has been started.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(e.id).Next, true
}

// Start begins firing jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops firing new jobs and waits for running ones to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
