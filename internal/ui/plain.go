package ui

import (
	"fmt"
	"io"

	"github.com/bamsammich/hlink/internal/event"
	"github.com/bamsammich/hlink/internal/progress"
)

// simpleStep is how many entries pass between progress log lines.
const simpleStep = 500

// plainPresenter outputs one line per linked or failed file to stdout and
// logs periodic progress when the output cannot redraw in place.
type plainPresenter struct {
	w        io.Writer
	simple   *progress.Simple
	destRoot string
	tracker
	verbose bool
}

func newPlainPresenter(cfg Config) *plainPresenter {
	return &plainPresenter{
		tracker:  tracker{task: cfg.Task},
		w:        cfg.Writer,
		destRoot: cfg.DestRoot,
		verbose:  cfg.Verbose,
		simple:   progress.NewSimple(cfg.Logger, cfg.Task, 0, simpleStep),
	}
}

func (p *plainPresenter) Run(events <-chan event.Event) error {
	for ev := range events {
		p.handleEvent(ev)
	}
	return p.err()
}

func (p *plainPresenter) handleEvent(ev event.Event) {
	switch ev.Type {
	case event.ScanTotal:
		p.simple.SetTotal(ev.Total)
	case event.FileLinked:
		fmt.Fprintf(p.w, "%s  linked\n", StripRoot(p.destRoot, ev.Dest))
		p.simple.Tick(1)
	case event.FileSkipped:
		if p.verbose {
			fmt.Fprintf(p.w, "%s  skipped\n", StripRoot(p.destRoot, ev.Dest))
		}
		p.simple.Tick(1)
	case event.FileFiltered:
		if p.verbose {
			fmt.Fprintf(p.w, "%s  filtered\n", ev.Path)
		}
		p.simple.Tick(1)
	case event.FileFailed:
		fmt.Fprintf(p.w, "%s  %s\n", ev.Path, ev.Reason)
		p.simple.Tick(1)
	case event.PendingDeletion:
		fmt.Fprintf(p.w, "pending: %s\n", StripRoot(p.destRoot, ev.Dest))
	case event.DeleteFile:
		fmt.Fprintf(p.w, "delete: %s\n", StripRoot(p.destRoot, ev.Dest))
	default:
		p.observe(ev)
	}
}

func (p *plainPresenter) Summary() string {
	return p.summary()
}
