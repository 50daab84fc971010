package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bamsammich/hlink/internal/filter"
)

// ScannerConfig controls scanner behavior.
type ScannerConfig struct {
	Filter   *filter.Chain
	SrcRoot  string
	MaxDepth int
}

// Scanner walks a source tree depth-first in lexical order, bounded by
// MaxDepth. The root directory is depth 1; files are collected from every
// directory up to MaxDepth and directories at MaxDepth are not descended.
type Scanner struct {
	cfg ScannerConfig
}

// NewScanner creates a scanner with the given config.
func NewScanner(cfg ScannerConfig) *Scanner {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 1
	}
	return &Scanner{cfg: cfg}
}

// Scan returns every regular file within the depth bound. Directories the
// filter excludes are pruned silently. Unreadable subdirectories are
// returned as failed tasks so the run can report them.
func (s *Scanner) Scan(ctx context.Context) ([]FileTask, error) {
	var tasks []FileTask
	if err := s.scanDir(ctx, s.cfg.SrcRoot, 1, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *Scanner) scanDir(ctx context.Context, dir string, depth int, tasks *[]FileTask) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if dir == s.cfg.SrcRoot {
			return fmt.Errorf("readdir %s: %w", dir, err)
		}
		*tasks = append(*tasks, FileTask{SrcPath: dir, Depth: depth, Err: err})
		return nil
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		path := filepath.Join(dir, entry.Name())
		rel, err := filepath.Rel(s.cfg.SrcRoot, path)
		if err != nil {
			return fmt.Errorf("rel path for %s: %w", path, err)
		}
		rel = filepath.ToSlash(rel)

		switch {
		case entry.IsDir():
			if depth >= s.cfg.MaxDepth {
				continue
			}
			if s.cfg.Filter != nil && !s.cfg.Filter.Match(rel, true, 0) {
				continue
			}
			if err := s.scanDir(ctx, path, depth+1, tasks); err != nil {
				return err
			}

		case entry.Type().IsRegular():
			info, err := entry.Info()
			if err != nil {
				*tasks = append(*tasks, FileTask{SrcPath: path, RelPath: rel, Depth: depth, Err: err})
				continue
			}
			*tasks = append(*tasks, FileTask{
				SrcPath: path,
				RelPath: rel,
				Info:    info,
				Depth:   depth,
			})
		}
	}
	return nil
}
