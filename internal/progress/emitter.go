package progress

import (
	"io"
	"strings"
	"sync"
)

// Emitter receives the frames a Bar produces.
type Emitter interface {
	// Draw replaces prev with frame.
	Draw(frame, prev Frame)
	// Interrupt shows msg without losing the current frame.
	Interrupt(msg string, last Frame)
	// Finish ends output after the final frame.
	Finish(clear bool, last Frame)
}

// Discard drops every frame.
var Discard Emitter = discard{} //nolint:gochecknoglobals // stateless sentinel

type discard struct{}

func (discard) Draw(Frame, Frame)       {}
func (discard) Interrupt(string, Frame) {}
func (discard) Finish(bool, Frame)      {}

// EmitFunc adapts a callback into an Emitter. Interrupt messages are
// delivered as frames carrying the last counters.
type EmitFunc func(Frame)

func (f EmitFunc) Draw(frame, _ Frame) { f(frame) }

func (f EmitFunc) Interrupt(msg string, last Frame) {
	last.Text = msg
	f(last)
}

func (EmitFunc) Finish(bool, Frame) {}

// Terminal redraws frames in place on an ANSI terminal.
type Terminal struct {
	w  io.Writer
	mu sync.Mutex
}

// NewTerminal writes frames to w.
func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{w: w}
}

func (t *Terminal) Draw(frame, prev Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev.Text != "" {
		io.WriteString(t.w, eraseLines(prev.Lines())) //nolint:errcheck // terminal output
	}
	io.WriteString(t.w, frame.Text) //nolint:errcheck // terminal output
}

func (t *Terminal) Interrupt(msg string, last Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	io.WriteString(t.w, "\x1b[2K\r"+msg+"\n"+last.Text) //nolint:errcheck // terminal output
}

func (t *Terminal) Finish(clear bool, last Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if clear {
		io.WriteString(t.w, eraseLines(last.Lines())+"\r") //nolint:errcheck // terminal output
		return
	}
	io.WriteString(t.w, "\n") //nolint:errcheck // terminal output
}

// eraseLines clears n lines ending at the cursor and returns to column 1.
func eraseLines(n int) string {
	var sb strings.Builder
	for i := range n {
		sb.WriteString("\x1b[2K")
		if i < n-1 {
			sb.WriteString("\x1b[1A")
		}
	}
	sb.WriteString("\x1b[G")
	return sb.String()
}
