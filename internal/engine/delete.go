package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bamsammich/hlink/internal/event"
	"github.com/bamsammich/hlink/internal/linkpath"
)

// PruneConfig controls the deletion of confirmed stale destinations. Roots
// maps a path to the root its emptied parents are removed up to; paths
// missing from it use DestRoot.
type PruneConfig struct {
	Events   chan<- event.Event
	Roots    map[string]string
	Task     string
	DestRoot string
	Paths    []string
}

// PruneResult reports what Prune removed.
type PruneResult struct {
	Failed      map[string]error // path -> removal error, kept for a retry
	Removed     []string
	DirsRemoved int
}

func (c PruneConfig) emit(e event.Event) {
	if c.Events == nil {
		return
	}
	e.Task = c.Task
	e.Timestamp = time.Now()
	select {
	case c.Events <- e:
	default:
	}
}

// Prune removes the listed files, then the directories those removals left
// empty, walking up to but not including each path's root. Files already
// gone count as removed.
func Prune(ctx context.Context, cfg PruneConfig) (PruneResult, error) {
	res := PruneResult{Failed: make(map[string]error)}
	dirs := make(map[string]struct{})

	// Delete files first.
	for _, path := range cfg.Paths {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		cfg.emit(event.Event{Type: event.DeleteFile, Dest: path})

		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			res.Failed[path] = err
			continue
		}
		res.Removed = append(res.Removed, path)

		root := cfg.DestRoot
		if r, ok := cfg.Roots[path]; ok {
			root = r
		}
		root = filepath.Clean(root)
		for dir := filepath.Dir(path); within(root, dir); dir = filepath.Dir(dir) {
			dirs[dir] = struct{}{}
		}
	}

	// Delete directories bottom-up (deepest first).
	ordered := make([]string, 0, len(dirs))
	for d := range dirs {
		ordered = append(ordered, d)
	}
	sort.Slice(ordered, func(i, j int) bool {
		di, dj := strings.Count(ordered[i], string(filepath.Separator)), strings.Count(ordered[j], string(filepath.Separator))
		if di != dj {
			return di > dj
		}
		return ordered[i] > ordered[j]
	})
	for _, dir := range ordered {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			continue
		}
		if err := os.Remove(dir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return res, fmt.Errorf("delete dir %s: %w", dir, err)
			}
			continue
		}
		res.DirsRemoved++
	}

	return res, nil
}

// AssignRoots maps each path to the first of roots it lies below. Paths
// below none of them share the deepest directory they have in common,
// unless that is the filesystem root; such paths are left out.
func AssignRoots(paths []string, roots ...string) map[string]string {
	out := make(map[string]string, len(paths))
	var orphans []string
	for _, p := range paths {
		found := false
		for _, root := range roots {
			if root != "" && within(filepath.Clean(root), p) {
				out[p] = filepath.Clean(root)
				found = true
				break
			}
		}
		if !found {
			orphans = append(orphans, p)
		}
	}

	ancestor := linkpath.CommonAncestor(orphans)
	if ancestor == "" {
		return out
	}
	ancestor = filepath.Clean(ancestor)
	if filepath.Dir(ancestor) == ancestor {
		return out
	}
	for _, p := range orphans {
		out[p] = ancestor
	}
	return out
}

// within reports whether dir lies strictly below root.
func within(root, dir string) bool {
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
