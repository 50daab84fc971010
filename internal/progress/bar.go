// Package progress renders throttled, token-substituted progress frames for
// terminals and for task observers.
package progress

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/reflow/wrap"
	"golang.org/x/time/rate"

	"github.com/bamsammich/hlink/internal/stats"
)

// DefaultThrottle is the minimum interval between unforced renders.
const DefaultThrottle = 16 * time.Millisecond

// DefaultFormat is used when Options.Format is empty.
const DefaultFormat = ":bar :current/:total :percent :etas"

const (
	defaultColumns = 80
	defaultWidth   = 40
)

// Options configures a Bar. Zero values pick the defaults.
type Options struct {
	Emitter    Emitter
	OnComplete func(*Bar)
	Now        func() time.Time
	Format     string
	Complete   string
	Incomplete string
	Head       string
	Total      int64
	Current    int64
	Width      int
	Columns    int
	// Throttle is the render window. Negative disables throttling.
	Throttle time.Duration
	Clear    bool
	// Hard breaks custom token values at the column width even inside words.
	Hard bool
}

// Frame is one rendered state of a bar.
type Frame struct {
	Text    string
	Current int64
	Total   int64
	Percent int
	Elapsed time.Duration
	ETA     time.Duration
	Rate    float64
}

// Lines is the number of terminal lines the frame occupies.
func (f Frame) Lines() int {
	return strings.Count(f.Text, "\n") + 1
}

// Bar tracks current/total and emits a frame whenever the rendered text
// changes, at most once per throttle window unless forced.
type Bar struct {
	emitter    Emitter
	limiter    *rate.Limiter
	onComplete func(*Bar)
	now        func() time.Time
	start      time.Time
	tokens     map[string]string
	format     string
	complete   string
	incomplete string
	head       string
	last       Frame
	current    int64
	total      int64
	width      int
	columns    int
	mu         sync.Mutex
	clear      bool
	hard       bool
	done       bool
}

// New builds a Bar from opts.
func New(opts Options) *Bar {
	b := &Bar{
		emitter:    opts.Emitter,
		onComplete: opts.OnComplete,
		now:        opts.Now,
		format:     opts.Format,
		complete:   opts.Complete,
		incomplete: opts.Incomplete,
		head:       opts.Head,
		current:    opts.Current,
		total:      opts.Total,
		width:      opts.Width,
		columns:    opts.Columns,
		clear:      opts.Clear,
		hard:       opts.Hard,
	}
	if b.emitter == nil {
		b.emitter = Discard
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.format == "" {
		b.format = DefaultFormat
	}
	if b.complete == "" {
		b.complete = "="
	}
	if b.incomplete == "" {
		b.incomplete = "-"
	}
	if b.head == "" {
		b.head = b.complete
	}
	if b.columns <= 0 {
		b.columns = defaultColumns
	}
	if b.width <= 0 {
		b.width = defaultWidth
	}

	throttle := opts.Throttle
	if throttle == 0 {
		throttle = DefaultThrottle
	}
	if throttle > 0 {
		b.limiter = rate.NewLimiter(rate.Every(throttle), 1)
	}
	b.start = b.now()
	return b
}

// SetTotal changes the expected count. Totals may grow while the source is
// still being sized.
func (b *Bar) SetTotal(total int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total = total
}

// Tick advances the bar by n and renders. Non-nil tokens replace the
// current custom token set. Reaching the total forces a final render,
// terminates the bar and runs OnComplete once.
func (b *Bar) Tick(n int64, tokens map[string]string) {
	b.mu.Lock()
	if tokens != nil {
		b.tokens = tokens
	}
	b.current += n
	if b.current == 0 {
		b.start = b.now()
	}
	b.renderLocked(false)

	if b.done || b.total <= 0 || b.current < b.total {
		b.mu.Unlock()
		return
	}
	b.renderLocked(true)
	b.done = true
	b.terminateLocked()
	cb := b.onComplete
	b.mu.Unlock()

	if cb != nil {
		cb(b)
	}
}

// Render draws the bar. Unforced renders are dropped inside the throttle
// window.
func (b *Bar) Render(force bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.renderLocked(force)
}

// Interrupt prints msg above the bar and redraws the last frame.
func (b *Bar) Interrupt(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emitter.Interrupt(msg, b.last)
}

// Terminate ends the bar's output, clearing it when Options.Clear was set.
func (b *Bar) Terminate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.terminateLocked()
}

// Complete reports whether the bar has reached its total.
func (b *Bar) Complete() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

// Current returns the processed count.
func (b *Bar) Current() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Last returns the most recently emitted frame.
func (b *Bar) Last() Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

func (b *Bar) terminateLocked() {
	b.emitter.Finish(b.clear, b.last)
}

func (b *Bar) renderLocked(force bool) {
	now := b.now()
	if !force && b.limiter != nil && !b.limiter.AllowN(now, 1) {
		return
	}

	frame := b.frame(now)
	if frame.Text == b.last.Text {
		return
	}
	prev := b.last
	b.last = frame
	b.emitter.Draw(frame, prev)
}

func (b *Bar) frame(now time.Time) Frame {
	ratio := 0.0
	if b.total > 0 {
		ratio = math.Min(math.Max(float64(b.current)/float64(b.total), 0), 1)
	}
	percent := int(math.Floor(ratio * 100))
	elapsed := now.Sub(b.start)
	if elapsed < 0 {
		elapsed = 0
	}

	var eta time.Duration
	if percent < 100 {
		eta = stats.EstimateRemaining(elapsed, b.current, b.total)
	}
	rt := stats.EntriesPerSecond(elapsed, b.current)

	s := b.format
	s = strings.ReplaceAll(s, ":current", fmt.Sprint(b.current))
	s = strings.ReplaceAll(s, ":total", fmt.Sprint(b.total))
	s = strings.ReplaceAll(s, ":elapsed", fmt.Sprintf("%.1f", elapsed.Seconds()))
	s = strings.ReplaceAll(s, ":eta", fmt.Sprintf("%.1f", eta.Seconds()))
	s = strings.ReplaceAll(s, ":percent", fmt.Sprintf("%d%%", percent))
	s = strings.ReplaceAll(s, ":rate", fmt.Sprint(int64(math.Round(rt))))

	if strings.Contains(s, ":bar") {
		avail := max(0, b.columns-len(strings.ReplaceAll(s, ":bar", "")))
		s = strings.Replace(s, ":bar", b.drawBar(min(b.width, avail), ratio), 1)
	}

	keys := make([]string, 0, len(b.tokens))
	for k := range b.tokens {
		keys = append(keys, k)
	}
	// Longer names first so ":file" does not clobber ":filename".
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		s = strings.ReplaceAll(s, ":"+k, b.wrapToken(b.tokens[k]))
	}

	return Frame{
		Text:    s,
		Current: b.current,
		Total:   b.total,
		Percent: percent,
		Elapsed: elapsed,
		ETA:     eta,
		Rate:    rt,
	}
}

func (b *Bar) drawBar(width int, ratio float64) string {
	if width <= 0 {
		return ""
	}
	filled := int(math.Round(float64(width) * ratio))
	var sb strings.Builder
	if filled > 0 {
		sb.WriteString(strings.Repeat(b.complete, filled-1))
		sb.WriteString(b.head)
	}
	sb.WriteString(strings.Repeat(b.incomplete, width-filled))
	return sb.String()
}

func (b *Bar) wrapToken(v string) string {
	if b.hard {
		return wrap.String(v, b.columns)
	}
	return wordwrap.String(v, b.columns)
}
