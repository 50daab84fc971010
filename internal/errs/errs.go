// Package errs classifies the errors surfaced by the link engine and the task
// runtime so callers can tell a bad configuration from a per-file conflict or
// a lifecycle rejection without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind is the broad class of an error.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfig
	KindConflict
	KindPlatform
	KindLifecycle
)

var kindNames = [...]string{
	KindUnknown:   "unknown",
	KindConfig:    "config",
	KindConflict:  "conflict",
	KindPlatform:  "platform",
	KindLifecycle: "lifecycle",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Lifecycle sentinels. They are returned synchronously and never change state.
var (
	ErrAlreadyRunning = &Error{Kind: KindLifecycle, Msg: "task already running"}
	ErrNotRunning     = &Error{Kind: KindLifecycle, Msg: "no running task"}
	ErrNotFound       = &Error{Kind: KindLifecycle, Msg: "task not found"}
)

// Error is a classified error.
type Error struct {
	Err  error
	Op   string
	Path string
	Msg  string
	Kind Kind
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Op != "" {
		if msg == "" {
			msg = e.Op
		} else {
			msg = e.Op + ": " + msg
		}
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s %s", msg, e.Path)
	}
	if e.Err != nil {
		if msg == "" {
			return e.Err.Error()
		}
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by identity and other *Error values by kind and
// message, so errors.Is(wrapped, ErrNotFound) works through fmt wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind && e.Msg == t.Msg
}

// Config builds a configuration error.
func Config(format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Msg: fmt.Sprintf(format, args...)}
}

// Conflict builds a per-file conflict error for path.
func Conflict(path string, err error) *Error {
	return &Error{Kind: KindConflict, Op: "destination exists", Path: path, Err: err}
}

// Platform builds a fatal platform error.
func Platform(op, path string, err error) *Error {
	return &Error{Kind: KindPlatform, Op: op, Path: path, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
