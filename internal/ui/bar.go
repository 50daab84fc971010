package ui

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/bamsammich/hlink/internal/event"
	"github.com/bamsammich/hlink/internal/progress"
)

const barFormat = ":bar :current/:total :percent :etas :file"

// barPresenter redraws a single progress bar on the terminal and prints
// notable per-file events above it.
type barPresenter struct {
	bar      *progress.Bar
	destRoot string
	tracker
	verbose bool
}

func newBarPresenter(cfg Config) *barPresenter {
	return &barPresenter{
		tracker:  tracker{task: cfg.Task},
		destRoot: cfg.DestRoot,
		verbose:  cfg.Verbose,
		bar:      newTerminalBar(cfg),
	}
}

func newTerminalBar(cfg Config) *progress.Bar {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return progress.New(progress.Options{
		Emitter:  progress.NewTerminal(cfg.ErrWriter),
		Format:   barFormat,
		Columns:  cfg.Columns,
		Throttle: cfg.Throttle,
		Clear:    true,
		OnComplete: func(b *progress.Bar) {
			logger.Debug("all files processed",
				"task", cfg.Task,
				"files", b.Current(),
				"elapsed", b.Last().Elapsed.Round(time.Millisecond),
			)
		},
	})
}

func (p *barPresenter) Run(events <-chan event.Event) error {
	for ev := range events {
		p.handleEvent(ev)
	}
	if !p.bar.Complete() {
		p.bar.Terminate()
	}
	return p.err()
}

func (p *barPresenter) handleEvent(ev event.Event) {
	switch ev.Type {
	case event.ScanTotal:
		p.bar.SetTotal(ev.Total)
		p.bar.Render(true)
	case event.FileLinked:
		if p.verbose {
			p.bar.Interrupt("linked " + StripRoot(p.destRoot, ev.Dest))
		}
		p.tick(ev)
	case event.FileSkipped, event.FileFiltered:
		p.tick(ev)
	case event.FileFailed:
		p.bar.Interrupt(fmt.Sprintf("%s %s: %s", failStyle.Render("failed"), ev.Path, ev.Reason))
		p.tick(ev)
	case event.PendingDeletion:
		if p.verbose {
			p.bar.Interrupt("pending " + StripRoot(p.destRoot, ev.Dest))
		}
	case event.DeleteFile:
		p.bar.Interrupt("delete: " + StripRoot(p.destRoot, ev.Dest))
	default:
		p.observe(ev)
	}
}

func (p *barPresenter) tick(ev event.Event) {
	p.bar.Tick(1, map[string]string{"file": filepath.Base(ev.Path)})
}

func (p *barPresenter) Summary() string {
	return p.summary()
}
