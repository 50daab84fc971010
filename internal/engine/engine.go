// Package engine walks a task's source tree, links qualifying files into the
// destination tree and computes which previously linked destinations went
// stale.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/bamsammich/hlink/internal/config"
	"github.com/bamsammich/hlink/internal/event"
	"github.com/bamsammich/hlink/internal/record"
	"github.com/bamsammich/hlink/internal/stats"
)

// Config describes one link run.
type Config struct {
	Events   chan<- event.Event
	Stats    *stats.Collector
	Logger   *slog.Logger
	Previous record.Record
	Task     config.Task
}

// Result is the outcome of a run that reached the end of the tree.
type Result struct {
	Record  record.Record // candidate record, not yet committed
	Pending []string      // stale destinations for the pending set
	Summary event.Summary
	Stats   stats.Snapshot
}

// Run links the task's source tree into its destination. Per-file problems
// are collected into Result.Summary.Failures; the returned error is reserved
// for fatal conditions (invalid config, cancellation, hardlinks unsupported
// between source and destination). Run never writes the record store.
func Run(ctx context.Context, cfg Config) (Result, error) {
	task := cfg.Task
	if err := task.Validate(); err != nil {
		return Result{}, err
	}
	chain, err := task.Filter()
	if err != nil {
		return Result{}, err
	}
	if err := task.Prepare(); err != nil {
		return Result{}, err
	}

	collector := cfg.Stats
	if collector == nil {
		collector = stats.NewCollector()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	emit := func(e event.Event) error {
		if cfg.Events == nil {
			return nil
		}
		e.Task = task.Name
		e.Timestamp = time.Now()
		select {
		case cfg.Events <- e:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := emit(event.Event{Type: event.RunStarted, Path: task.Source, Dest: task.Dest}); err != nil {
		return Result{}, err
	}

	scanner := NewScanner(ScannerConfig{
		SrcRoot:  task.Source,
		MaxDepth: task.MaxFindLevel,
		Filter:   chain,
	})
	files, err := scanner.Scan(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("scan %s: %w", task.Source, err)
	}
	collector.SetTotal(int64(len(files)))
	if err := emit(event.Event{Type: event.ScanTotal, Total: int64(len(files))}); err != nil {
		return Result{}, err
	}

	fingerprint := record.Fingerprint(task)
	lk := newLinker(task, chain, cfg.Previous, fingerprint, collector)
	candidate := record.Record{Task: task.Name, Fingerprint: fingerprint, Root: filepath.Clean(task.Dest)}
	summary := event.Summary{Failures: make(map[string][]string)}

	for _, ft := range files {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		res, err := lk.process(ft)
		if err != nil {
			return Result{}, err
		}
		if res.entry != nil {
			candidate.Entries = append(candidate.Entries, *res.entry)
		}

		ev := event.Event{Path: ft.SrcPath, Dest: res.dest}
		switch res.outcome {
		case Linked:
			summary.Linked++
			ev.Type = event.FileLinked
		case Skipped:
			summary.Skipped++
			ev.Type = event.FileSkipped
		case Filtered:
			summary.Filtered++
			ev.Type = event.FileFiltered
		case Failed:
			summary.Failed++
			summary.Failures[res.reason] = append(summary.Failures[res.reason], ft.SrcPath)
			ev.Type = event.FileFailed
			ev.Reason = res.reason
			ev.Message = res.err.Error()
			logger.Debug("link failed", "task", task.Name, "path", ft.SrcPath, "error", res.err)
		}
		if err := emit(ev); err != nil {
			return Result{}, err
		}
	}

	pending := record.Diff(cfg.Previous, candidate, nil)
	for _, p := range pending {
		if err := emit(event.Event{Type: event.PendingDeletion, Dest: p}); err != nil {
			return Result{}, err
		}
	}

	snap := collector.Snapshot()
	summary.Pending = pending
	summary.Elapsed = snap.Elapsed
	return Result{
		Record:  candidate,
		Pending: pending,
		Summary: summary,
		Stats:   snap,
	}, nil
}
