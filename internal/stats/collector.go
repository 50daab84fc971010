package stats

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

// Collector tracks link run counters using lock-free atomics. The traversal
// goroutine writes; presenters and the task runtime read snapshots.
type Collector struct {
	visited     atomic.Int64
	linked      atomic.Int64
	skipped     atomic.Int64
	filtered    atomic.Int64
	failed      atomic.Int64
	dirsCreated atomic.Int64
	total       atomic.Int64
	startTime   time.Time
	now         func() time.Time
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return NewCollectorAt(time.Now)
}

// NewCollectorAt uses now as its clock.
func NewCollectorAt(now func() time.Time) *Collector {
	return &Collector{startTime: now(), now: now}
}

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	Visited     int64
	Linked      int64
	Skipped     int64
	Filtered    int64
	Failed      int64
	DirsCreated int64
	Total       int64
	Elapsed     time.Duration
}

func (c *Collector) AddVisited(n int64)     { c.visited.Add(n) }
func (c *Collector) AddLinked(n int64)      { c.linked.Add(n) }
func (c *Collector) AddSkipped(n int64)     { c.skipped.Add(n) }
func (c *Collector) AddFiltered(n int64)    { c.filtered.Add(n) }
func (c *Collector) AddFailed(n int64)      { c.failed.Add(n) }
func (c *Collector) AddDirsCreated(n int64) { c.dirsCreated.Add(n) }

// AddTotal grows the expected entry count while the tree is being sized.
func (c *Collector) AddTotal(n int64) { c.total.Add(n) }

// SetTotal records the expected entry count once it is known.
func (c *Collector) SetTotal(n int64) { c.total.Store(n) }

// Snapshot returns a point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Visited:     c.visited.Load(),
		Linked:      c.linked.Load(),
		Skipped:     c.skipped.Load(),
		Filtered:    c.filtered.Load(),
		Failed:      c.failed.Load(),
		DirsCreated: c.dirsCreated.Load(),
		Total:       c.total.Load(),
		Elapsed:     c.Elapsed(),
	}
}

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	return c.now().Sub(c.startTime)
}

// Percent is visited/total clamped to [0,100]. Unknown totals read as 0.
func (s Snapshot) Percent() int {
	if s.Total <= 0 {
		return 0
	}
	ratio := math.Min(math.Max(float64(s.Visited)/float64(s.Total), 0), 1)
	return int(math.Floor(ratio * 100))
}

// ETA is elapsed/visited*(total-visited). Undefined results are zero.
func (s Snapshot) ETA() time.Duration {
	return EstimateRemaining(s.Elapsed, s.Visited, s.Total)
}

// Rate is entries per second.
func (s Snapshot) Rate() float64 {
	return EntriesPerSecond(s.Elapsed, s.Visited)
}

// EstimateRemaining returns elapsed/current*(total-current), clamping NaN,
// infinite and negative results to zero.
func EstimateRemaining(elapsed time.Duration, current, total int64) time.Duration {
	if current >= total {
		return 0
	}
	eta := float64(elapsed) / float64(current) * float64(total-current)
	if math.IsNaN(eta) || math.IsInf(eta, 0) || eta < 0 {
		return 0
	}
	return time.Duration(eta)
}

// EntriesPerSecond returns current/elapsed_seconds, zero when undefined.
func EntriesPerSecond(elapsed time.Duration, current int64) float64 {
	rate := float64(current) / elapsed.Seconds()
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return 0
	}
	return rate
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"visited=%d linked=%d skipped=%d filtered=%d failed=%d dirs=%d",
		s.Visited, s.Linked, s.Skipped, s.Filtered, s.Failed, s.DirsCreated,
	)
}
