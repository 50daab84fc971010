package ui

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/bamsammich/hlink/internal/event"
)

// Presenter consumes the events of one run and displays them.
type Presenter interface {
	// Run consumes events until the channel closes. It returns the failure
	// carried by the terminal event, if any.
	Run(events <-chan event.Event) error
	// Summary returns the final report.
	Summary() string
}

// Config configures a Presenter.
type Config struct {
	Writer     io.Writer
	ErrWriter  io.Writer
	Logger     *slog.Logger
	Task       string
	DestRoot   string
	Columns    int
	Throttle   time.Duration
	IsTTY      bool
	Quiet      bool
	Verbose    bool
	NoProgress bool
}

// NewPresenter creates the appropriate presenter based on configuration.
//
//nolint:ireturn // factory function returns interface by design
func NewPresenter(cfg Config) Presenter {
	if cfg.Quiet {
		return &quietPresenter{tracker: tracker{task: cfg.Task}}
	}
	if !cfg.IsTTY || cfg.NoProgress {
		return newPlainPresenter(cfg)
	}
	return newBarPresenter(cfg)
}

// tracker remembers the terminal event of a run.
type tracker struct {
	task     string
	terminal event.Event
}

func (t *tracker) observe(ev event.Event) {
	if ev.Type.Terminal() {
		t.terminal = ev
	}
}

func (t *tracker) err() error {
	switch t.terminal.Type {
	case event.Failed:
		return fmt.Errorf("task %q failed: %s", t.task, t.terminal.Reason)
	case event.Cancelled:
		return fmt.Errorf("task %q: %w", t.task, context.Canceled)
	default:
		return nil
	}
}

func (t *tracker) summary() string {
	switch t.terminal.Type {
	case event.Completed:
		if t.terminal.Summary == nil {
			return ""
		}
		return EndReport(t.task, *t.terminal.Summary)
	case event.Failed:
		return failStyle.Render("failed: "+t.terminal.Reason) + "\n"
	case event.Cancelled:
		return warnStyle.Render("cancelled") + "\n"
	default:
		return ""
	}
}
