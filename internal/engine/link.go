package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/bamsammich/hlink/internal/config"
	"github.com/bamsammich/hlink/internal/errs"
	"github.com/bamsammich/hlink/internal/filter"
	"github.com/bamsammich/hlink/internal/linkpath"
	"github.com/bamsammich/hlink/internal/record"
	"github.com/bamsammich/hlink/internal/stats"
)

// ReasonConflict groups files whose destination is a different file.
const ReasonConflict = "destination exists and is a different file"

// linker decides and performs the link for each scanned file.
type linker struct {
	filter      *filter.Chain
	stats       *stats.Collector
	prev        map[string]record.Entry
	exists      func(string) bool
	task        config.Task
	cacheUsable bool
}

func newLinker(task config.Task, chain *filter.Chain, prev record.Record, fingerprint string, collector *stats.Collector) *linker {
	return &linker{
		filter:      chain,
		stats:       collector,
		prev:        prev.Index(),
		exists:      record.Exists,
		task:        task,
		cacheUsable: task.OpenCache && prev.Fingerprint == fingerprint,
	}
}

// process handles one file. A non-nil error return is fatal to the run.
func (l *linker) process(ft FileTask) (result, error) {
	l.stats.AddVisited(1)
	prevEntry, hadPrev := l.prev[ft.SrcPath]

	if ft.Err != nil {
		return l.fail(prevEntry, hadPrev, reasonFor(ft.Err), ft.Err), nil
	}
	if l.filter != nil && !l.filter.Match(ft.RelPath, false, ft.Info.Size()) {
		l.stats.AddFiltered(1)
		return result{outcome: Filtered}, nil
	}

	sig := record.SignatureOf(ft.Info)
	if l.cacheUsable && hadPrev && prevEntry.Sig != nil && *prevEntry.Sig == sig && l.exists(prevEntry.Dest) {
		l.stats.AddSkipped(1)
		kept := prevEntry
		return result{outcome: Skipped, dest: prevEntry.Dest, entry: &kept}, nil
	}

	dest := linkpath.DestinationFile(ft.SrcPath, l.task.Source, l.task.Dest, l.task.SaveMode, l.task.MkdirIfSingle)
	destDir := filepath.Dir(dest)

	if err := l.mkdir(destDir); err != nil {
		return l.fail(prevEntry, hadPrev, reasonFor(err), err), nil
	}

	err := os.Link(ft.SrcPath, dest)
	switch {
	case err == nil:
	case errors.Is(err, unix.EXDEV):
		return result{}, errs.Platform("hardlink across filesystems", ft.SrcPath, err)
	case errors.Is(err, fs.ErrExist):
		same, statErr := sameFile(ft.Info, dest)
		if statErr != nil {
			return l.fail(prevEntry, hadPrev, reasonFor(statErr), statErr), nil
		}
		if !same {
			cerr := errs.Conflict(dest, err)
			r := l.fail(prevEntry, hadPrev, ReasonConflict, cerr)
			r.dest = dest
			return r, nil
		}
	default:
		return l.fail(prevEntry, hadPrev, reasonFor(err), err), nil
	}

	l.stats.AddLinked(1)
	entry := record.Entry{Source: ft.SrcPath, Dest: dest}
	if l.task.OpenCache {
		entry.Sig = &sig
	}
	return result{outcome: Linked, dest: dest, entry: &entry}, nil
}

// fail records a per-file failure. A source that still qualifies keeps its
// previous mapping so the diff does not offer its destination for deletion.
func (l *linker) fail(prevEntry record.Entry, hadPrev bool, reason string, err error) result {
	l.stats.AddFailed(1)
	r := result{outcome: Failed, reason: reason, err: err}
	if hadPrev {
		kept := prevEntry
		r.entry = &kept
	}
	return r
}

func (l *linker) mkdir(dir string) error {
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	l.stats.AddDirsCreated(1)
	return nil
}

func sameFile(src os.FileInfo, dest string) (bool, error) {
	info, err := os.Lstat(dest)
	if err != nil {
		return false, err
	}
	return os.SameFile(src, info), nil
}

// reasonFor collapses an error into the grouping key used in summaries,
// e.g. "permission denied".
func reasonFor(err error) string {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno.Error()
	}
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return pe.Err.Error()
	}
	var le *os.LinkError
	if errors.As(err, &le) {
		return le.Err.Error()
	}
	return err.Error()
}
