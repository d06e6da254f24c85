package spec

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound     = errors.New("config not found")
	ErrConfigInvalid      = errors.New("config invalid")
	ErrContextFileMissing = errors.New("context file missing")
)

// Error is a load-time configuration failure. Kind is one of the Err*
// sentinels so callers can use errors.Is.
type Error struct {
	Kind error
	Path string
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Kind }

func notFound(path string, err error) error {
	return &Error{Kind: ErrConfigNotFound, Path: path, Msg: err.Error()}
}

func invalidf(path, format string, args ...any) error {
	return &Error{Kind: ErrConfigInvalid, Path: path, Msg: fmt.Sprintf(format, args...)}
}

func missingf(path, format string, args ...any) error {
	return &Error{Kind: ErrContextFileMissing, Path: path, Msg: fmt.Sprintf(format, args...)}
}
