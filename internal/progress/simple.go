package progress

import (
	"log/slog"
	"sync"
)

// Simple reports progress as plain log lines for outputs that cannot redraw
// in place. It logs at most once per step entries, plus the final entry.
type Simple struct {
	logger  *slog.Logger
	task    string
	current int64
	total   int64
	step    int64
	mu      sync.Mutex
}

// NewSimple logs through logger (slog.Default when nil) every step entries.
func NewSimple(logger *slog.Logger, task string, total, step int64) *Simple {
	if logger == nil {
		logger = slog.Default()
	}
	if step <= 0 {
		step = 1
	}
	logger.Info("terminal does not support in-place progress, falling back to line output")
	return &Simple{logger: logger, task: task, total: total, step: step}
}

// SetTotal changes the expected count.
func (s *Simple) SetTotal(total int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total = total
}

// Tick advances by n and logs when a step boundary or the total is crossed.
func (s *Simple) Tick(n int64) {
	s.mu.Lock()
	before := s.current
	s.current += n
	cur, total := s.current, s.total
	s.mu.Unlock()

	if cur/s.step == before/s.step && (total <= 0 || cur < total || before >= total) {
		return
	}
	s.logger.Info("progress", "task", s.task, "current", cur, "total", total)
}
