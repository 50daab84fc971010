package event

import (
	"sort"
	"time"
)

// Type identifies the kind of event.
type Type int

const (
	RunStarted Type = iota + 1
	ScanTotal
	FileLinked
	FileSkipped
	FileFiltered
	FileFailed
	Progress
	PendingDeletion
	DeleteFile
	Completed
	Failed
	Cancelled
)

var typeNames = [...]string{
	RunStarted:      "RunStarted",
	ScanTotal:       "ScanTotal",
	FileLinked:      "FileLinked",
	FileSkipped:     "FileSkipped",
	FileFiltered:    "FileFiltered",
	FileFailed:      "FileFailed",
	Progress:        "Progress",
	PendingDeletion: "PendingDeletion",
	DeleteFile:      "DeleteFile",
	Completed:       "Completed",
	Failed:          "Failed",
	Cancelled:       "Cancelled",
}

func (t Type) String() string {
	if t > 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// Terminal reports whether t ends a run's event stream.
func (t Type) Terminal() bool {
	return t == Completed || t == Failed || t == Cancelled
}

// Event is a single notification from a link run. Per-file events carry
// Path/Dest, Progress events carry the counters, and exactly one terminal
// event (Completed, Failed, Cancelled) closes each run.
type Event struct {
	Timestamp time.Time
	Summary   *Summary
	Task      string
	Path      string // source path
	Dest      string // destination path
	Message   string
	Reason    string // failure reason for FileFailed and Failed
	Current   int64
	Total     int64
	Percent   int
	ETA       time.Duration
	Elapsed   time.Duration
	Rate      float64
	Type      Type
}

// Summary is the outcome of a finished run.
type Summary struct {
	Failures map[string][]string // reason -> source paths
	Pending  []string            // destinations awaiting deletion confirmation
	Linked   int64
	Skipped  int64
	Failed   int64
	Filtered int64
	Elapsed  time.Duration
}

// Total is the number of file entries the run accounted for.
func (s Summary) Total() int64 {
	return s.Linked + s.Skipped + s.Failed
}

// Reasons returns failure reasons in a stable order.
func (s Summary) Reasons() []string {
	out := make([]string, 0, len(s.Failures))
	for r := range s.Failures {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
