package filter

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Mode selects how an extension set is applied.
type Mode int

const (
	// Blacklist drops files whose extension is in the set. An empty
	// blacklist lets everything through, which is why it is the zero value.
	Blacklist Mode = iota
	// Whitelist keeps only files whose extension is in the set.
	Whitelist
)

func (m Mode) String() string {
	switch m {
	case Whitelist:
		return "whitelist"
	case Blacklist:
		return "blacklist"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts "whitelist"/"include" and "blacklist"/"exclude".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "whitelist", "include", "white":
		return Whitelist, nil
	case "", "blacklist", "exclude", "black":
		return Blacklist, nil
	default:
		return Blacklist, fmt.Errorf("unknown extension mode %q (use whitelist or blacklist)", s)
	}
}

// Extensions is a case-insensitive extension set with a mode.
type Extensions struct {
	set  map[string]struct{}
	mode Mode
}

// NewExtensions builds a set from exts. Entries may carry a leading dot.
func NewExtensions(mode Mode, exts ...string) *Extensions {
	e := &Extensions{mode: mode, set: make(map[string]struct{}, len(exts))}
	for _, ext := range exts {
		if n := normalizeExt(ext); n != "" {
			e.set[n] = struct{}{}
		}
	}
	return e
}

// ParseExtensions splits a comma separated list like "mkv,.mp4, srt".
func ParseExtensions(mode Mode, list string) *Extensions {
	return NewExtensions(mode, strings.Split(list, ",")...)
}

// Mode returns the set's mode.
func (e *Extensions) Mode() Mode { return e.mode }

// Len returns the number of extensions in the set.
func (e *Extensions) Len() int { return len(e.set) }

// Allows reports whether a file named name passes the set.
func (e *Extensions) Allows(name string) bool {
	_, in := e.set[normalizeExt(filepath.Ext(name))]
	if e.mode == Whitelist {
		return in
	}
	return !in
}

// List returns the extensions, unordered.
func (e *Extensions) List() []string {
	out := make([]string, 0, len(e.set))
	for ext := range e.set {
		out = append(out, ext)
	}
	return out
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}
