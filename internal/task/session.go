package task

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bamsammich/hlink/internal/config"
	"github.com/bamsammich/hlink/internal/event"
	"github.com/bamsammich/hlink/internal/progress"
)

const defaultObserverBuffer = 64

// Sink receives the events of one run. It is called from a single
// goroutine; the last call carries the terminal event.
type Sink func(event.Event)

// Session is one live run of a task.
type Session struct {
	Started   time.Time
	err       error
	worker    Worker
	bar       *progress.Bar
	done      chan struct{}
	fan       *fanout
	ID        string
	Task      config.Task
	summary   event.Summary
	processed atomic.Int64
	total     atomic.Int64
	mu        sync.Mutex
	cancelled atomic.Bool
	settled   bool
}

// SessionInfo is a snapshot of a live session.
type SessionInfo struct {
	Started   time.Time
	ID        string
	Task      string
	Processed int64
	Total     int64
}

func (s *Session) info() SessionInfo {
	return SessionInfo{
		Started:   s.Started,
		ID:        s.ID,
		Task:      s.Task.Name,
		Processed: s.processed.Load(),
		Total:     s.total.Load(),
	}
}

// attach records the worker. It reports false when the session was
// cancelled before the worker existed; the caller must terminate it.
func (s *Session) attach(w Worker) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.worker = w
	return !s.cancelled.Load()
}

// terminate marks the session cancelled and stops its worker if one is
// attached. It reports false, and does nothing, once the session settled.
func (s *Session) terminate() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settled {
		return false, nil
	}
	s.cancelled.Store(true)
	if s.worker == nil {
		return true, nil
	}
	return true, s.worker.Terminate()
}

// settle fixes the outcome of the session. It reports false when the
// session was cancelled first.
func (s *Session) settle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settled = true
	return !s.cancelled.Load()
}

// fanout copies one event stream to many observers. Observers that fall
// behind lose events; the terminal event always fits because one slot of
// every channel is held back for it.
type fanout struct {
	observers []chan event.Event
	mu        sync.Mutex
	closed    bool
}

func newFanout() *fanout { return &fanout{} }

func (f *fanout) subscribe(buf int) (chan event.Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, false
	}
	if buf < 2 {
		buf = 2
	}
	ch := make(chan event.Event, buf)
	f.observers = append(f.observers, ch)
	return ch, true
}

func (f *fanout) publish(e event.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for _, ch := range f.observers {
		// Sends are serialized by mu, so len can only shrink under us.
		if len(ch) < cap(ch)-1 {
			ch <- e
		}
	}
}

// close delivers the terminal event to every observer and closes them.
func (f *fanout) close(terminal event.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for _, ch := range f.observers {
		ch <- terminal
		close(ch)
	}
	f.observers = nil
}
