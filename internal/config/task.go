package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/robfig/cron/v3"

	"github.com/bamsammich/hlink/internal/errs"
	"github.com/bamsammich/hlink/internal/filter"
	"github.com/bamsammich/hlink/internal/linkpath"
)

// Task is one [[task]] table: a source tree linked into a destination tree.
type Task struct {
	Name          string   `toml:"name" json:"name,omitempty"`
	Source        string   `toml:"source" json:"source,omitempty"`
	Dest          string   `toml:"dest" json:"dest,omitempty"`
	ExtMode       string   `toml:"ext_mode" json:"ext_mode,omitempty"`
	MinSize       string   `toml:"min_size" json:"min_size,omitempty"`
	MaxSize       string   `toml:"max_size" json:"max_size,omitempty"`
	Schedule      string   `toml:"schedule" json:"schedule,omitempty"`
	Extensions    []string `toml:"extensions" json:"extensions,omitempty"`
	Exclude       []string `toml:"exclude" json:"exclude,omitempty"`
	SaveMode      int      `toml:"save_mode" json:"save_mode,omitempty"`
	MaxFindLevel  int      `toml:"max_find_level" json:"max_find_level,omitempty"`
	OpenCache     bool     `toml:"open_cache" json:"open_cache,omitempty"`
	MkdirIfSingle bool     `toml:"mkdir_if_single" json:"mkdir_if_single,omitempty"`
}

// Validate checks t without touching the filesystem beyond stat calls.
// Every failure is a config error.
func (t Task) Validate() error {
	if t.Name == "" {
		return errs.Config("task name is required")
	}
	if t.SaveMode != linkpath.FullTree && t.SaveMode != linkpath.TopLevelOnly {
		return errs.Config("task %q: save_mode must be 0 or 1, got %d", t.Name, t.SaveMode)
	}
	if t.MaxFindLevel < 1 || t.MaxFindLevel > 6 {
		return errs.Config("task %q: max_find_level must be between 1 and 6, got %d", t.Name, t.MaxFindLevel)
	}
	if !filepath.IsAbs(t.Source) || !filepath.IsAbs(t.Dest) {
		return errs.Config("task %q: source and dest must be absolute paths", t.Name)
	}
	if filepath.Clean(t.Source) == filepath.Clean(t.Dest) {
		return errs.Config("task %q: source and dest must differ", t.Name)
	}
	if _, err := t.Filter(); err != nil {
		return err
	}
	if t.Schedule != "" {
		if _, err := cron.ParseStandard(t.Schedule); err != nil {
			return errs.Config("task %q: invalid schedule %q: %v", t.Name, t.Schedule, err)
		}
	}

	info, err := os.Stat(t.Source)
	if err != nil {
		return errs.Config("task %q: source %s does not exist", t.Name, t.Source)
	}
	if !info.IsDir() {
		return errs.Config("task %q: source %s is not a directory", t.Name, t.Source)
	}
	return nil
}

// Prepare creates the destination root. Call after Validate.
func (t Task) Prepare() error {
	if err := os.MkdirAll(t.Dest, 0o755); err != nil {
		return fmt.Errorf("create dest %s: %w", t.Dest, err)
	}
	return nil
}

// Filter builds the entry filter for t: extension set, exclude globs and
// size bounds.
func (t Task) Filter() (*filter.Chain, error) {
	mode, err := filter.ParseMode(t.ExtMode)
	if err != nil {
		return nil, errs.Config("task %q: %v", t.Name, err)
	}

	chain := filter.NewChain()
	chain.SetExtensions(filter.NewExtensions(mode, t.Extensions...))
	for _, p := range t.Exclude {
		if err := chain.AddExclude(p); err != nil {
			return nil, errs.Config("task %q: %v", t.Name, err)
		}
	}
	if t.MinSize != "" {
		n, err := filter.ParseSize(t.MinSize)
		if err != nil {
			return nil, errs.Config("task %q: min_size: %v", t.Name, err)
		}
		chain.SetMinSize(n)
	}
	if t.MaxSize != "" {
		n, err := filter.ParseSize(t.MaxSize)
		if err != nil {
			return nil, errs.Config("task %q: max_size: %v", t.Name, err)
		}
		chain.SetMaxSize(n)
	}
	return chain, nil
}

// SaveModeName describes the save mode for logs.
func (t Task) SaveModeName() string {
	if t.SaveMode == linkpath.TopLevelOnly {
		return "top-level only"
	}
	return "full tree"
}
