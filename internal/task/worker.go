package task

import (
	"context"
	"log/slog"

	"github.com/bamsammich/hlink/internal/config"
	"github.com/bamsammich/hlink/internal/engine"
	"github.com/bamsammich/hlink/internal/event"
	"github.com/bamsammich/hlink/internal/record"
)

// eventBuffer is the capacity of a worker's event channel.
const eventBuffer = 256

// Job is one link run handed to a worker.
type Job struct {
	Previous record.Record
	Task     config.Task
}

// Worker executes a Job. Events is closed once the run ends; Wait blocks
// until then and returns the engine's result.
type Worker interface {
	Events() <-chan event.Event
	Wait() (engine.Result, error)
	Terminate() error
}

// Spawner starts workers.
type Spawner interface {
	Spawn(ctx context.Context, job Job) (Worker, error)
}

// InProcess runs jobs on a goroutine of the current process.
type InProcess struct {
	Logger *slog.Logger
}

// Spawn starts the engine on a new goroutine. The worker stops when ctx is
// cancelled or Terminate is called.
//
//nolint:ireturn // spawners return the Worker interface
func (p InProcess) Spawn(ctx context.Context, job Job) (Worker, error) {
	ctx, cancel := context.WithCancel(ctx)
	w := &goroutineWorker{
		events: make(chan event.Event, eventBuffer),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go func() {
		defer close(w.done)
		w.res, w.err = engine.Run(ctx, engine.Config{
			Events:   w.events,
			Logger:   p.Logger,
			Previous: job.Previous,
			Task:     job.Task,
		})
		close(w.events)
	}()
	return w, nil
}

type goroutineWorker struct {
	err    error
	events chan event.Event
	done   chan struct{}
	cancel context.CancelFunc
	res    engine.Result
}

func (w *goroutineWorker) Events() <-chan event.Event { return w.events }

func (w *goroutineWorker) Wait() (engine.Result, error) {
	<-w.done
	w.cancel()
	return w.res, w.err
}

func (w *goroutineWorker) Terminate() error {
	w.cancel()
	return nil
}
