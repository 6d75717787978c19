package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for any name that could not be served, whatever
	// the reason (missing locally, failed fetch, missing from the bundle).
	ErrNotFound    = errors.New("file not found")
	ErrInvalidName = errors.New("invalid file name")
	ErrClosed      = errors.New("cache is shut down")
)

// InitError is returned by New when the base or cache directory can not be
// located or created.
type InitError struct {
	Op   string
	Path string
	Err  error
}

func (e *InitError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("cache init: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cache init: %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// ShortReadError reports a file that returned fewer bytes than its size.
type ShortReadError struct {
	Name string
	Want int64
	Got  int64
}

func (e *ShortReadError) Error() string {
	return fmt.Sprintf("short read on %q: got %d of %d bytes", e.Name, e.Got, e.Want)
}

// RefreshError describes a failed refresh of File against Mirror.
type RefreshError struct {
	File   string
	Mirror string
	Err    error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("refresh %q from %s: %v", e.File, e.Mirror, e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

// ErrSink is an abstraction that allows users to consume errors
// produced while the cache refreshes files in the background.
type ErrSink interface {
	Error(error)
}

// ErrSinkFunc is an ErrSink represented as a function.
type ErrSinkFunc func(err error)

func (f ErrSinkFunc) Error(err error) {
	f(err)
}
