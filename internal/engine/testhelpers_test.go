package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bamsammich/hlink/internal/config"
	"github.com/bamsammich/hlink/internal/engine"
	"github.com/bamsammich/hlink/internal/event"
	"github.com/bamsammich/hlink/internal/record"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// newTask returns a task over a fresh source tree:
//
//	src/movies/A/a.mkv
//	src/movies/A/a.nfo
//	src/movies/B/b.mp4
//	src/top.mkv
func newTask(t *testing.T) config.Task {
	t.Helper()
	root := t.TempDir()
	src := filepath.Join(root, "src")
	writeFile(t, filepath.Join(src, "movies", "A", "a.mkv"), "a")
	writeFile(t, filepath.Join(src, "movies", "A", "a.nfo"), "nfo")
	writeFile(t, filepath.Join(src, "movies", "B", "b.mp4"), "b")
	writeFile(t, filepath.Join(src, "top.mkv"), "top")
	return config.Task{
		Name:         "movies",
		Source:       src,
		Dest:         filepath.Join(root, "out"),
		MaxFindLevel: 4,
	}
}

// run executes task against prev and returns the result plus every event
// emitted, in order.
func run(t *testing.T, task config.Task, prev record.Record) (engine.Result, []event.Event, error) {
	t.Helper()
	events := make(chan event.Event)
	done := make(chan []event.Event)
	go func() {
		var got []event.Event
		for e := range events {
			got = append(got, e)
		}
		done <- got
	}()

	res, err := engine.Run(context.Background(), engine.Config{
		Task:     task,
		Previous: prev,
		Events:   events,
	})
	close(events)
	return res, <-done, err
}

func mustRun(t *testing.T, task config.Task, prev record.Record) (engine.Result, []event.Event) {
	t.Helper()
	res, events, err := run(t, task, prev)
	require.NoError(t, err)
	return res, events
}

func requireSameFile(t *testing.T, a, b string) {
	t.Helper()
	ai, err := os.Stat(a)
	require.NoError(t, err)
	bi, err := os.Stat(b)
	require.NoError(t, err)
	require.True(t, os.SameFile(ai, bi), "%s and %s are not the same file", a, b)
}

func countType(events []event.Event, typ event.Type) int {
	n := 0
	for _, e := range events {
		if e.Type == typ {
			n++
		}
	}
	return n
}
