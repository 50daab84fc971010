package ui

import "github.com/bamsammich/hlink/internal/event"

// quietPresenter consumes events but produces no output.
type quietPresenter struct {
	tracker
}

func (p *quietPresenter) Run(events <-chan event.Event) error {
	for ev := range events {
		p.observe(ev)
	}
	return p.err()
}

func (p *quietPresenter) Summary() string {
	return ""
}
