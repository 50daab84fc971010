package engine

import (
	"os"

	"github.com/bamsammich/hlink/internal/record"
)

// FileTask is one source file found by the scanner.
type FileTask struct {
	Info    os.FileInfo
	Err     error // set when the entry could not be read
	SrcPath string
	RelPath string // slash-separated, relative to the source root
	Depth   int
}

// Outcome is what happened to a FileTask.
type Outcome int

const (
	Linked Outcome = iota + 1
	Skipped
	Filtered
	Failed
)

var outcomeNames = [...]string{
	Linked:   "linked",
	Skipped:  "skipped",
	Filtered: "filtered",
	Failed:   "failed",
}

func (o Outcome) String() string {
	if o > 0 && int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "unknown"
}

// result is the per-file answer of the linker.
type result struct {
	entry   *record.Entry // mapping to keep in the candidate record
	err     error
	dest    string
	reason  string
	outcome Outcome
}
