package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/bamsammich/hlink/internal/errs"
)

// DefaultMaxFindLevel applies to tasks that leave max_find_level unset.
const DefaultMaxFindLevel = 4

// Worker modes.
const (
	WorkerProcess   = "process"
	WorkerInProcess = "inprocess"
)

// Config represents the optional hlink configuration file.
type Config struct {
	Defaults DefaultsConfig `toml:"defaults"`
	Tasks    []Task         `toml:"task"`
}

// DefaultsConfig holds persistent defaults for every command.
type DefaultsConfig struct {
	StateDir     *string `toml:"state_dir"`
	Worker       *string `toml:"worker"`
	Throttle     *string `toml:"throttle"`
	Listen       *string `toml:"listen"`
	MaxFindLevel *int    `toml:"max_find_level"`
}

// Path returns the resolved path to the config file.
func Path() string {
	xdg.Reload()
	return filepath.Join(xdg.ConfigHome, "hlink", "config.toml")
}

// StateDir returns the directory holding the link record database. The
// [defaults] state_dir setting wins over XDG_STATE_HOME.
func (c Config) StateDir() string {
	if c.Defaults.StateDir != nil && *c.Defaults.StateDir != "" {
		return *c.Defaults.StateDir
	}
	xdg.Reload()
	return filepath.Join(xdg.StateHome, "hlink")
}

// StatePath is the sqlite database path inside StateDir.
func (c Config) StatePath() string {
	return filepath.Join(c.StateDir(), "state.db")
}

// WorkerMode returns the configured worker mode, process by default.
func (c Config) WorkerMode() string {
	if c.Defaults.Worker != nil && *c.Defaults.Worker == WorkerInProcess {
		return WorkerInProcess
	}
	return WorkerProcess
}

// Throttle returns the progress render window, zero when unset.
func (c Config) Throttle() (time.Duration, error) {
	if c.Defaults.Throttle == nil {
		return 0, nil
	}
	d, err := time.ParseDuration(*c.Defaults.Throttle)
	if err != nil {
		return 0, errs.Config("invalid throttle %q: %v", *c.Defaults.Throttle, err)
	}
	return d, nil
}

// Listen returns the server listen address.
func (c Config) Listen() string {
	if c.Defaults.Listen != nil && *c.Defaults.Listen != "" {
		return *c.Defaults.Listen
	}
	return "127.0.0.1:5000"
}

// Lookup returns the task called name.
func (c Config) Lookup(name string) (Task, error) {
	for _, t := range c.Tasks {
		if t.Name == name {
			return t, nil
		}
	}
	if hint := c.suggest(name); hint != "" {
		return Task{}, fmt.Errorf("task %q (did you mean %q?): %w", name, hint, errs.ErrNotFound)
	}
	return Task{}, fmt.Errorf("task %q: %w", name, errs.ErrNotFound)
}

// suggest returns the configured task name closest to name, or "".
func (c Config) suggest(name string) string {
	names := make([]string, len(c.Tasks))
	for i, t := range c.Tasks {
		names[i] = t.Name
	}
	ranks := fuzzy.RankFindNormalizedFold(name, names)
	if len(ranks) == 0 {
		// Typos rarely form a subsequence; fall back to the reverse match.
		for _, n := range names {
			if fuzzy.MatchNormalizedFold(n, name) {
				return n
			}
		}
		return ""
	}
	sort.Sort(ranks)
	return ranks[0].Target
}

// Load reads the config file from the XDG path. Returns a zero Config
// (no error) if the file does not exist. Config is always optional.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Config{}, nil
	}
	return LoadFile(path)
}

// LoadFile reads the config file at path, treating a missing file as empty.
func LoadFile(path string) (Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, err
	}

	seen := make(map[string]bool, len(cfg.Tasks))
	for i := range cfg.Tasks {
		t := &cfg.Tasks[i]
		if seen[t.Name] {
			return Config{}, errs.Config("duplicate task %q", t.Name)
		}
		seen[t.Name] = true
		cfg.applyDefaults(t)
	}
	return cfg, nil
}

func (c Config) applyDefaults(t *Task) {
	if t.MaxFindLevel == 0 {
		t.MaxFindLevel = DefaultMaxFindLevel
		if c.Defaults.MaxFindLevel != nil {
			t.MaxFindLevel = *c.Defaults.MaxFindLevel
		}
	}
}
