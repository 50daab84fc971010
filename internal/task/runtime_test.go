package task_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/hlink/internal/config"
	"github.com/bamsammich/hlink/internal/engine"
	"github.com/bamsammich/hlink/internal/errs"
	"github.com/bamsammich/hlink/internal/event"
	"github.com/bamsammich/hlink/internal/record"
	"github.com/bamsammich/hlink/internal/task"
)

type fixture struct {
	store *record.Store
	rt    *task.Runtime
	task  config.Task
	cfg   config.Config
	mu    sync.Mutex
}

func (f *fixture) lookup(name string) (config.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg.Lookup(name)
}

// reconfigure replaces the task of the same name, as a config reload would.
func (f *fixture) reconfigure(tk config.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.cfg.Tasks {
		if f.cfg.Tasks[i].Name == tk.Name {
			f.cfg.Tasks[i] = tk
		}
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTask(t *testing.T) config.Task {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	writeFile(t, filepath.Join(src, "movies", "A", "a.mkv"), "a")
	writeFile(t, filepath.Join(src, "movies", "A", "a.nfo"), "nfo")
	writeFile(t, filepath.Join(src, "movies", "B", "b.mp4"), "b")
	writeFile(t, filepath.Join(src, "top.mkv"), "top")
	return config.Task{
		Name:         "movies",
		Source:       src,
		Dest:         filepath.Join(dir, "out"),
		MaxFindLevel: 4,
	}
}

func newFixture(t *testing.T, spawner task.Spawner, tasks ...config.Task) *fixture {
	t.Helper()
	if len(tasks) == 0 {
		tasks = []config.Task{newTask(t)}
	}
	store, err := record.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{
		store: store,
		task:  tasks[0],
		cfg:   config.Config{Tasks: tasks},
	}
	f.rt = task.New(task.Options{
		Store:    store,
		Lookup:   f.lookup,
		Spawner:  spawner,
		Throttle: -1,
	})
	return f
}

// gatedStore blocks the first call of one method until release is closed.
type gatedStore struct {
	*record.Store
	entered chan struct{}
	release chan struct{}
	method  string
	once    sync.Once
}

func newGatedStore(store *record.Store, method string) *gatedStore {
	return &gatedStore{
		Store:   store,
		method:  method,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedStore) gate(method string) {
	if method != g.method {
		return
	}
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
}

func (g *gatedStore) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("store %s was never called", g.method)
	}
}

func (g *gatedStore) Pending(ctx context.Context, name string) ([]string, error) {
	g.gate("Pending")
	return g.Store.Pending(ctx, name)
}

func (g *gatedStore) Commit(ctx context.Context, rec record.Record, pending []string) error {
	g.gate("Commit")
	return g.Store.Commit(ctx, rec, pending)
}

// collect returns a Sink and a function that waits for the terminal event
// and returns everything the sink saw.
func collect(t *testing.T) (task.Sink, func() []event.Event) {
	t.Helper()
	var mu sync.Mutex
	var got []event.Event
	done := make(chan struct{})
	sink := func(e event.Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		if e.Type.Terminal() {
			close(done)
		}
	}
	wait := func() []event.Event {
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for terminal event")
		}
		mu.Lock()
		defer mu.Unlock()
		return got
	}
	return sink, wait
}

// fakeWorker runs until finish or Terminate is called.
type fakeWorker struct {
	events  chan event.Event
	done    chan struct{}
	termErr error
	err     error
	res     engine.Result
	once    sync.Once
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{events: make(chan event.Event, 16), done: make(chan struct{})}
}

func (w *fakeWorker) finish(res engine.Result, err error) {
	w.once.Do(func() {
		w.res, w.err = res, err
		close(w.events)
		close(w.done)
	})
}

func (w *fakeWorker) Events() <-chan event.Event { return w.events }

func (w *fakeWorker) Wait() (engine.Result, error) {
	<-w.done
	return w.res, w.err
}

func (w *fakeWorker) Terminate() error {
	w.finish(engine.Result{}, context.Canceled)
	return w.termErr
}

type fakeSpawner struct {
	workers chan *fakeWorker
	termErr error
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{workers: make(chan *fakeWorker, 8)}
}

//nolint:ireturn // implements task.Spawner
func (s *fakeSpawner) Spawn(context.Context, task.Job) (task.Worker, error) {
	w := newFakeWorker()
	w.termErr = s.termErr
	s.workers <- w
	return w, nil
}

func (s *fakeSpawner) next(t *testing.T) *fakeWorker {
	t.Helper()
	select {
	case w := <-s.workers:
		return w
	case <-time.After(5 * time.Second):
		t.Fatal("no worker spawned")
		return nil
	}
}

func TestStart_CommitsRecord(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	summary, err := f.rt.Start(ctx, "movies")
	require.NoError(t, err)
	assert.Equal(t, int64(4), summary.Linked)
	assert.Empty(t, summary.Failures)
	assert.False(t, f.rt.Running("movies"))

	rec, err := f.store.Load(ctx, "movies")
	require.NoError(t, err)
	assert.Len(t, rec.Entries, 4)
	assert.Equal(t, record.Fingerprint(f.task), rec.Fingerprint)
}

func TestStart_PerFileFailuresStillComplete(t *testing.T) {
	f := newFixture(t, nil)
	writeFile(t, filepath.Join(f.task.Dest, "top.mkv"), "other")

	summary, err := f.rt.Start(context.Background(), "movies")
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.Linked)
	assert.Equal(t, int64(1), summary.Failed)
	assert.Len(t, summary.Failures[engine.ReasonConflict], 1)
}

func TestStart_CacheSkipsSecondRun(t *testing.T) {
	tk := newTask(t)
	tk.OpenCache = true
	f := newFixture(t, nil, tk)

	_, err := f.rt.Start(context.Background(), "movies")
	require.NoError(t, err)
	summary, err := f.rt.Start(context.Background(), "movies")
	require.NoError(t, err)
	assert.Zero(t, summary.Linked)
	assert.Equal(t, int64(4), summary.Skipped)
}

func TestStart_LifecycleErrors(t *testing.T) {
	bad := newTask(t)
	bad.Name = "bad"
	bad.SaveMode = 3
	f := newFixture(t, nil, newTask(t), bad)

	_, err := f.rt.Start(context.Background(), "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = f.rt.Start(context.Background(), "bad")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindConfig))
	assert.False(t, f.rt.Running("bad"), "rejected runs leave no session")
	assert.NoDirExists(t, bad.Dest)
}

func TestRun_AlreadyRunning(t *testing.T) {
	sp := newFakeSpawner()
	f := newFixture(t, sp)
	ctx := context.Background()

	sink, wait := collect(t)
	require.NoError(t, f.rt.Run(ctx, "movies", sink))
	w := sp.next(t)
	assert.True(t, f.rt.Running("movies"))

	err := f.rt.Run(ctx, "movies", nil)
	assert.ErrorIs(t, err, errs.ErrAlreadyRunning)
	_, err = f.rt.Start(ctx, "movies")
	assert.ErrorIs(t, err, errs.ErrAlreadyRunning)

	w.finish(engine.Result{Record: record.Record{Task: "movies"}}, nil)
	events := wait()
	assert.Equal(t, event.Completed, events[len(events)-1].Type)
}

func TestRun_SinkSeesProgressThenOneTerminal(t *testing.T) {
	f := newFixture(t, nil)
	sink, wait := collect(t)

	require.NoError(t, f.rt.Run(context.Background(), "movies", sink))
	events := wait()

	var terminals int
	var last event.Event
	for _, e := range events {
		if e.Type.Terminal() {
			terminals++
		}
		if e.Type == event.Progress {
			last = e
		}
	}
	assert.Equal(t, 1, terminals)
	assert.Equal(t, event.Completed, events[len(events)-1].Type)
	require.NotNil(t, events[len(events)-1].Summary)
	assert.Equal(t, int64(4), events[len(events)-1].Summary.Linked)

	assert.Equal(t, int64(4), last.Current)
	assert.Equal(t, int64(4), last.Total)
	assert.Equal(t, 100, last.Percent)
	assert.Contains(t, last.Message, "4/4")
}

func TestCancel(t *testing.T) {
	sp := newFakeSpawner()
	f := newFixture(t, sp)
	ctx := context.Background()

	ok, err := f.rt.Cancel("movies")
	assert.False(t, ok)
	assert.ErrorIs(t, err, errs.ErrNotRunning)

	sink, wait := collect(t)
	require.NoError(t, f.rt.Run(ctx, "movies", sink))
	w := sp.next(t)
	w.events <- event.Event{Type: event.FileLinked, Task: "movies", Path: "/src/a"}

	ok, err = f.rt.Cancel("movies")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, f.rt.Running("movies"))

	events := wait()
	assert.Equal(t, event.Cancelled, events[len(events)-1].Type)

	rec, err := f.store.Load(ctx, "movies")
	require.NoError(t, err)
	assert.Empty(t, rec.Entries, "cancelled runs are not recorded")

	// A new run is accepted right away.
	sink, wait = collect(t)
	require.NoError(t, f.rt.Run(ctx, "movies", sink))
	sp.next(t).finish(engine.Result{Record: record.Record{Task: "movies"}}, nil)
	events = wait()
	assert.Equal(t, event.Completed, events[len(events)-1].Type)
}

func TestCancel_AfterRunFinishedKeepsCommit(t *testing.T) {
	sp := newFakeSpawner()
	f := newFixture(t, sp)
	gs := newGatedStore(f.store, "Commit")
	rt := task.New(task.Options{Store: gs, Lookup: f.lookup, Spawner: sp, Throttle: -1})
	ctx := context.Background()

	sink, wait := collect(t)
	require.NoError(t, rt.Run(ctx, "movies", sink))
	sp.next(t).finish(engine.Result{Record: record.Record{
		Task:    "movies",
		Entries: []record.Entry{{Source: "/src/a.mkv", Dest: "/out/a.mkv"}},
	}}, nil)
	gs.waitEntered(t)

	// The worker is done and the record is being written.
	ok, err := rt.Cancel("movies")
	assert.False(t, ok)
	require.ErrorIs(t, err, errs.ErrNotRunning)

	close(gs.release)
	events := wait()
	assert.Equal(t, event.Completed, events[len(events)-1].Type)

	rec, err := f.store.Load(ctx, "movies")
	require.NoError(t, err)
	assert.Len(t, rec.Entries, 1)
	assert.False(t, rt.Running("movies"))
}

func TestCancel_TerminateErrorStillClears(t *testing.T) {
	sp := newFakeSpawner()
	sp.termErr = errors.New("no such process")
	f := newFixture(t, sp)

	require.NoError(t, f.rt.Run(context.Background(), "movies", nil))
	sp.next(t)

	ok, err := f.rt.Cancel("movies")
	assert.True(t, ok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such process")
	assert.False(t, f.rt.Running("movies"))
}

func TestStart_ContextCancelled(t *testing.T) {
	sp := newFakeSpawner()
	f := newFixture(t, sp)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := f.rt.Start(ctx, "movies")
		errCh <- err
	}()
	sp.next(t)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestStart_WorkerFailure(t *testing.T) {
	sp := newFakeSpawner()
	f := newFixture(t, sp)

	errCh := make(chan error, 1)
	go func() {
		_, err := f.rt.Start(context.Background(), "movies")
		errCh <- err
	}()
	platform := errs.Platform("hardlink across filesystems", "/src/a", errors.New("cross-device link"))
	sp.next(t).finish(engine.Result{}, platform)

	err := <-errCh
	assert.True(t, errs.IsKind(err, errs.KindPlatform))

	rec, lerr := f.store.Load(context.Background(), "movies")
	require.NoError(t, lerr)
	assert.Empty(t, rec.Entries, "failed runs leave the record untouched")
}

func TestSubscribe(t *testing.T) {
	sp := newFakeSpawner()
	f := newFixture(t, sp)

	_, err := f.rt.Subscribe("movies")
	assert.ErrorIs(t, err, errs.ErrNotRunning)

	require.NoError(t, f.rt.Run(context.Background(), "movies", nil))
	w := sp.next(t)

	ch, err := f.rt.Subscribe("movies")
	require.NoError(t, err)
	sessions := f.rt.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "movies", sessions[0].Task)
	assert.NotEmpty(t, sessions[0].ID)

	w.events <- event.Event{Type: event.FileLinked, Task: "movies", Path: "/src/a"}
	w.finish(engine.Result{Record: record.Record{Task: "movies"}}, nil)

	var types []event.Type
	for e := range ch {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, event.FileLinked)
	assert.Equal(t, event.Completed, types[len(types)-1])
}

func TestPendingDeletions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.rt.Start(ctx, "movies")
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(filepath.Join(f.task.Source, "movies", "B")))

	summary, err := f.rt.Start(ctx, "movies")
	require.NoError(t, err)
	stale := filepath.Join(f.task.Dest, "movies", "B", "b.mp4")
	assert.Equal(t, []string{stale}, summary.Pending)

	pending, err := f.rt.ListPendingDeletions(ctx, "movies")
	require.NoError(t, err)
	assert.Equal(t, []string{stale}, pending)
	assert.FileExists(t, stale)

	ok, err := f.rt.ConfirmDeletion(ctx, "movies")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoFileExists(t, stale)
	assert.NoDirExists(t, filepath.Join(f.task.Dest, "movies", "B"))
	assert.DirExists(t, filepath.Join(f.task.Dest, "movies", "A"))

	pending, err = f.rt.ListPendingDeletions(ctx, "movies")
	require.NoError(t, err)
	assert.Empty(t, pending)

	ok, err = f.rt.ConfirmDeletion(ctx, "movies")
	require.NoError(t, err)
	assert.True(t, ok, "empty set is a no-op")
}

func TestCancelDeletion(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	stale := filepath.Join(f.task.Dest, "old.mkv")
	writeFile(t, stale, "x")
	require.NoError(t, f.store.SetPending(ctx, "movies", []string{stale}))

	ok, err := f.rt.CancelDeletion(ctx, "movies")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.FileExists(t, stale)

	pending, err := f.rt.ListPendingDeletions(ctx, "movies")
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = f.rt.CancelDeletion(ctx, "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestConfirmDeletion_RejectedWhileRunning(t *testing.T) {
	sp := newFakeSpawner()
	f := newFixture(t, sp)
	ctx := context.Background()

	require.NoError(t, f.rt.Run(ctx, "movies", nil))
	w := sp.next(t)
	defer w.finish(engine.Result{}, nil)

	_, err := f.rt.ConfirmDeletion(ctx, "movies")
	assert.ErrorIs(t, err, errs.ErrAlreadyRunning)
}

func TestConfirmDeletion_AfterDestinationChange(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	oldDest := f.task.Dest

	_, err := f.rt.Start(ctx, "movies")
	require.NoError(t, err)

	moved := f.task
	moved.Dest = filepath.Join(filepath.Dir(oldDest), "out2")
	f.reconfigure(moved)

	summary, err := f.rt.Start(ctx, "movies")
	require.NoError(t, err)
	assert.Equal(t, int64(4), summary.Linked)
	assert.Len(t, summary.Pending, 4)

	ok, err := f.rt.ConfirmDeletion(ctx, "movies")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.NoDirExists(t, filepath.Join(oldDest, "movies"), "emptied old tree is pruned")
	assert.DirExists(t, oldDest, "old destination root is kept")
	assert.FileExists(t, filepath.Join(moved.Dest, "movies", "A", "a.mkv"))
	assert.FileExists(t, filepath.Join(moved.Dest, "top.mkv"))
}

func TestConfirmDeletion_UnknownRootInferred(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	old := filepath.Join(filepath.Dir(f.task.Dest), "old", "movies")
	stale := []string{
		filepath.Join(old, "A", "a.mkv"),
		filepath.Join(old, "B", "b.mkv"),
	}
	for _, p := range stale {
		writeFile(t, p, "x")
	}
	require.NoError(t, f.store.SetPending(ctx, "movies", stale))

	ok, err := f.rt.ConfirmDeletion(ctx, "movies")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoDirExists(t, filepath.Join(old, "A"))
	assert.NoDirExists(t, filepath.Join(old, "B"))
	assert.DirExists(t, old, "shared ancestor is the root")
}

func TestConfirmDeletion_PartialFailureKeepsRest(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	oldRoot := filepath.Join(filepath.Dir(f.task.Dest), "old")
	gone := filepath.Join(oldRoot, "a.mkv")
	stuck := filepath.Join(oldRoot, "dir.mkv")
	writeFile(t, gone, "x")
	writeFile(t, filepath.Join(stuck, "inside"), "x")

	require.NoError(t, f.store.Commit(ctx, record.Record{Task: "movies", Root: oldRoot}, nil))
	require.NoError(t, f.store.Commit(ctx, record.Record{Task: "movies", Root: f.task.Dest},
		[]string{gone, stuck}))

	ok, err := f.rt.ConfirmDeletion(ctx, "movies")
	assert.False(t, ok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 destinations not removed")
	assert.NoFileExists(t, gone)

	pending, err := f.rt.ListPendingDeletions(ctx, "movies")
	require.NoError(t, err)
	assert.Equal(t, []string{stuck}, pending)
	root, err := f.store.PendingRoot(ctx, "movies")
	require.NoError(t, err)
	assert.Equal(t, oldRoot, root)
}

func TestConfirmDeletion_BlocksNewRuns(t *testing.T) {
	sp := newFakeSpawner()
	f := newFixture(t, sp)
	gs := newGatedStore(f.store, "Pending")
	rt := task.New(task.Options{Store: gs, Lookup: f.lookup, Spawner: sp, Throttle: -1})
	ctx := context.Background()

	stale := filepath.Join(f.task.Dest, "old", "a.mkv")
	writeFile(t, stale, "x")
	require.NoError(t, f.store.SetPending(ctx, "movies", []string{stale}))

	done := make(chan error, 1)
	go func() {
		_, err := rt.ConfirmDeletion(ctx, "movies")
		done <- err
	}()
	gs.waitEntered(t)

	require.ErrorIs(t, rt.Run(ctx, "movies", nil), errs.ErrAlreadyRunning)
	_, err := rt.ConfirmDeletion(ctx, "movies")
	require.ErrorIs(t, err, errs.ErrAlreadyRunning)
	assert.False(t, rt.Running("movies"))

	close(gs.release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ConfirmDeletion did not return")
	}
	assert.NoFileExists(t, stale)
	assert.NoDirExists(t, filepath.Join(f.task.Dest, "old"))

	sink, wait := collect(t)
	require.NoError(t, rt.Run(ctx, "movies", sink))
	sp.next(t).finish(engine.Result{Record: record.Record{Task: "movies"}}, nil)
	events := wait()
	assert.Equal(t, event.Completed, events[len(events)-1].Type)
}

func TestStart_ProcessWorker(t *testing.T) {
	sp := task.Process{
		Executable: os.Args[0],
		Args:       []string{"-test.run=^$"},
		Env:        []string{"HLINK_TEST_HELPER=worker"},
	}
	f := newFixture(t, sp)

	summary, err := f.rt.Start(context.Background(), "movies")
	require.NoError(t, err)
	assert.Equal(t, int64(4), summary.Linked)

	rec, err := f.store.Load(context.Background(), "movies")
	require.NoError(t, err)
	assert.Len(t, rec.Entries, 4)
}
