// Package task turns link runs into named, cancellable background sessions.
// A Runtime owns at most one live session per task name, fans each
// session's events out to observers, commits the link record when a run
// completes and manages the pending-deletion set between runs.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bamsammich/hlink/internal/config"
	"github.com/bamsammich/hlink/internal/engine"
	"github.com/bamsammich/hlink/internal/errs"
	"github.com/bamsammich/hlink/internal/event"
	"github.com/bamsammich/hlink/internal/progress"
	"github.com/bamsammich/hlink/internal/record"
)

// progressFormat renders the progress message carried by Progress events.
const progressFormat = ":bar :current/:total :percent :etas :file"

// Store is the persistence the runtime needs. *record.Store implements it.
type Store interface {
	Load(ctx context.Context, task string) (record.Record, error)
	Commit(ctx context.Context, rec record.Record, pending []string) error
	Pending(ctx context.Context, task string) ([]string, error)
	PendingRoot(ctx context.Context, task string) (string, error)
	SetPending(ctx context.Context, task string, pending []string) error
	ClearPending(ctx context.Context, task string) error
}

// Lookup resolves a task name to its configuration.
type Lookup func(name string) (config.Task, error)

// Options configures a Runtime.
type Options struct {
	Store   Store
	Lookup  Lookup
	Spawner Spawner // defaults to InProcess
	Logger  *slog.Logger
	// Throttle is the progress render window, see progress.Options.
	Throttle time.Duration
	// ObserverBuffer is the per-observer channel capacity.
	ObserverBuffer int
}

// Runtime runs tasks. The zero value is not usable; use New.
type Runtime struct {
	store    Store
	lookup   Lookup
	spawner  Spawner
	logger   *slog.Logger
	sessions map[string]*Session
	deleting map[string]struct{}
	throttle time.Duration
	obsBuf   int
	mu       sync.Mutex
}

// New builds a Runtime.
func New(opts Options) *Runtime {
	r := &Runtime{
		store:    opts.Store,
		lookup:   opts.Lookup,
		spawner:  opts.Spawner,
		logger:   opts.Logger,
		sessions: make(map[string]*Session),
		deleting: make(map[string]struct{}),
		throttle: opts.Throttle,
		obsBuf:   opts.ObserverBuffer,
	}
	if r.spawner == nil {
		r.spawner = InProcess{Logger: opts.Logger}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.obsBuf <= 0 {
		r.obsBuf = defaultObserverBuffer
	}
	return r
}

// Start runs the task and blocks until it ends. Per-file failures do not
// make Start fail; they are reported in the summary.
func (r *Runtime) Start(ctx context.Context, name string) (event.Summary, error) {
	s, err := r.launch(ctx, name, nil)
	if err != nil {
		return event.Summary{}, err
	}
	<-s.done
	return s.summary, s.err
}

// Run starts the task in the background. sink, when non-nil, receives the
// session's events followed by exactly one terminal event.
func (r *Runtime) Run(ctx context.Context, name string, sink Sink) error {
	_, err := r.launch(ctx, name, sink)
	return err
}

// Cancel terminates the running session of name. The session is cleared
// even if terminating the worker fails; that error is returned alongside
// true. Side effects already made stay in place and the run is not recorded.
// A session that has already finished and is committing its record cannot
// be cancelled.
func (r *Runtime) Cancel(name string) (bool, error) {
	r.mu.Lock()
	s, ok := r.sessions[name]
	r.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("cancel %q: %w", name, errs.ErrNotRunning)
	}

	cancelled, err := s.terminate()
	if !cancelled {
		return false, fmt.Errorf("cancel %q: %w", name, errs.ErrNotRunning)
	}
	r.deregister(s)
	r.logger.Info("task cancelled", "task", name, "session", s.ID)
	if err != nil {
		return true, fmt.Errorf("terminate %q: %w", name, err)
	}
	return true, nil
}

// Subscribe attaches an observer to the live session of name. It sees
// events from now on, then the terminal event, then the channel closes.
func (r *Runtime) Subscribe(name string) (<-chan event.Event, error) {
	r.mu.Lock()
	s, ok := r.sessions[name]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("subscribe %q: %w", name, errs.ErrNotRunning)
	}
	ch, ok := s.fan.subscribe(r.obsBuf)
	if !ok {
		return nil, fmt.Errorf("subscribe %q: %w", name, errs.ErrNotRunning)
	}
	return ch, nil
}

// Running reports whether name has a live session.
func (r *Runtime) Running(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[name]
	return ok
}

// Sessions lists the live sessions, ordered by task name.
func (r *Runtime) Sessions() []SessionInfo {
	r.mu.Lock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.info())
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Task < out[j].Task })
	return out
}

// ListPendingDeletions returns the stale destinations awaiting confirmation.
func (r *Runtime) ListPendingDeletions(ctx context.Context, name string) ([]string, error) {
	if _, err := r.lookup(name); err != nil {
		return nil, err
	}
	return r.store.Pending(ctx, name)
}

// ConfirmDeletion removes the pending destinations of name and the
// directories left empty below the destination root each was linked under.
// Paths that could not be removed stay pending and the joined removal
// errors are returned. No run of name can start until it returns.
func (r *Runtime) ConfirmDeletion(ctx context.Context, name string) (bool, error) {
	t, err := r.lookup(name)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	_, running := r.sessions[name]
	_, deleting := r.deleting[name]
	if running || deleting {
		r.mu.Unlock()
		return false, fmt.Errorf("confirm deletion %q: %w", name, errs.ErrAlreadyRunning)
	}
	r.deleting[name] = struct{}{}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.deleting, name)
		r.mu.Unlock()
	}()

	paths, err := r.store.Pending(ctx, name)
	if err != nil {
		return false, err
	}
	if len(paths) == 0 {
		return true, nil
	}
	linkedUnder, err := r.store.PendingRoot(ctx, name)
	if err != nil {
		return false, err
	}

	res, err := engine.Prune(ctx, engine.PruneConfig{
		Task:     name,
		DestRoot: t.Dest,
		Roots:    engine.AssignRoots(paths, linkedUnder, t.Dest),
		Paths:    paths,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Warn("prune empty directories", "task", name, "error", err)
	}

	// Whatever was not removed stays pending, in the original order.
	var remaining []string
	var failures []error
	removed := make(map[string]struct{}, len(res.Removed))
	for _, p := range res.Removed {
		removed[p] = struct{}{}
	}
	for _, p := range paths {
		if _, ok := removed[p]; ok {
			continue
		}
		remaining = append(remaining, p)
		if ferr, ok := res.Failed[p]; ok {
			failures = append(failures, ferr)
		}
	}
	if err := r.store.SetPending(context.WithoutCancel(ctx), name, remaining); err != nil {
		return false, err
	}

	r.logger.Info("deleted stale destinations",
		"task", name,
		"files", len(res.Removed),
		"dirs", res.DirsRemoved,
		"remaining", len(remaining),
	)
	if len(remaining) > 0 {
		if errors.Is(err, context.Canceled) {
			return false, err
		}
		return false, fmt.Errorf("%d of %d destinations not removed: %w",
			len(remaining), len(paths), errors.Join(failures...))
	}
	return true, nil
}

// CancelDeletion discards the pending set of name without touching disk.
func (r *Runtime) CancelDeletion(ctx context.Context, name string) (bool, error) {
	if _, err := r.lookup(name); err != nil {
		return false, err
	}
	if err := r.store.ClearPending(ctx, name); err != nil {
		return false, err
	}
	return true, nil
}

// launch validates, registers and starts a session. Lifecycle checks run
// in order: unknown task, already running, invalid config. A confirmed
// deletion in progress counts as running.
func (r *Runtime) launch(ctx context.Context, name string, sink Sink) (*Session, error) {
	t, err := r.lookup(name)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	_, running := r.sessions[name]
	_, deleting := r.deleting[name]
	if running || deleting {
		r.mu.Unlock()
		return nil, fmt.Errorf("run %q: %w", name, errs.ErrAlreadyRunning)
	}
	s := &Session{
		ID:      uuid.NewString(),
		Task:    t,
		Started: time.Now(),
		done:    make(chan struct{}),
		fan:     newFanout(),
	}
	r.sessions[name] = s
	r.mu.Unlock()

	fail := func(err error) (*Session, error) {
		r.deregister(s)
		return nil, err
	}

	if err := t.Validate(); err != nil {
		return fail(err)
	}
	prev, err := r.store.Load(ctx, name)
	if err != nil {
		return fail(fmt.Errorf("load record %q: %w", name, err))
	}

	s.bar = progress.New(progress.Options{
		Format:   progressFormat,
		Throttle: r.throttle,
		Emitter: progress.EmitFunc(func(f progress.Frame) {
			s.fan.publish(event.Event{
				Type:      event.Progress,
				Timestamp: time.Now(),
				Task:      name,
				Message:   f.Text,
				Current:   f.Current,
				Total:     f.Total,
				Percent:   f.Percent,
				ETA:       f.ETA,
				Elapsed:   f.Elapsed,
				Rate:      f.Rate,
			})
		}),
	})

	w, err := r.spawner.Spawn(context.WithoutCancel(ctx), Job{Task: t, Previous: prev})
	if err != nil {
		return fail(fmt.Errorf("spawn worker for %q: %w", name, err))
	}
	if !s.attach(w) {
		w.Terminate() //nolint:errcheck // cancelled before the worker was attached
	}

	if sink != nil {
		ch, _ := s.fan.subscribe(r.obsBuf)
		go func() {
			for ev := range ch {
				sink(ev)
			}
		}()
	}

	stop := context.AfterFunc(ctx, func() {
		if r.current(s) {
			r.Cancel(name) //nolint:errcheck // reported through the Cancelled event
		}
	})

	r.logger.Info("task started",
		"task", name,
		"session", s.ID,
		"source", t.Source,
		"dest", t.Dest,
		"save_mode", t.SaveModeName(),
		"max_find_level", t.MaxFindLevel,
		"open_cache", t.OpenCache,
	)
	go func() {
		defer stop()
		r.drive(s)
	}()
	return s, nil
}

// drive consumes the worker's events until the run ends, then settles the
// session.
func (r *Runtime) drive(s *Session) {
	for ev := range s.worker.Events() {
		switch ev.Type {
		case event.ScanTotal:
			s.total.Store(ev.Total)
			s.bar.SetTotal(ev.Total)
		case event.FileLinked, event.FileSkipped, event.FileFiltered, event.FileFailed:
			s.processed.Add(1)
			s.bar.Tick(1, map[string]string{"file": filepath.Base(ev.Path)})
		}
		s.fan.publish(ev)
	}
	res, err := s.worker.Wait()

	// Past settle, Cancel no longer applies and the outcome is final.
	live := s.settle()

	terminal := event.Event{Task: s.Task.Name}
	switch {
	case !live:
		terminal.Type = event.Cancelled
		err = fmt.Errorf("task %q: %w", s.Task.Name, context.Canceled)
	case err != nil:
		terminal.Type = event.Failed
		terminal.Reason = err.Error()
		r.logger.Error("task failed", "task", s.Task.Name, "session", s.ID, "error", err)
	default:
		// Commit outlives any caller context; the run already happened.
		if cerr := r.store.Commit(context.Background(), res.Record, res.Pending); cerr != nil {
			err = fmt.Errorf("commit record %q: %w", s.Task.Name, cerr)
			terminal.Type = event.Failed
			terminal.Reason = err.Error()
			r.logger.Error("task failed", "task", s.Task.Name, "session", s.ID, "error", err)
			break
		}
		summary := res.Summary
		terminal.Type = event.Completed
		terminal.Summary = &summary
		terminal.Elapsed = summary.Elapsed
		s.summary = summary
		r.logger.Info("task completed",
			"task", s.Task.Name,
			"session", s.ID,
			"linked", summary.Linked,
			"skipped", summary.Skipped,
			"failed", summary.Failed,
			"filtered", summary.Filtered,
			"pending", len(summary.Pending),
			"elapsed", summary.Elapsed.Round(time.Millisecond),
		)
	}
	s.err = err
	terminal.Timestamp = time.Now()

	s.bar.Terminate()
	r.deregister(s)
	s.fan.close(terminal)
	close(s.done)
}

// deregister removes s only if it is still the registered session for its
// task.
func (r *Runtime) deregister(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[s.Task.Name]
	if !ok || cur.ID != s.ID {
		return false
	}
	delete(r.sessions, s.Task.Name)
	return true
}

func (r *Runtime) current(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[s.Task.Name]
	return ok && cur.ID == s.ID
}
