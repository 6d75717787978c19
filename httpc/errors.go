package httpc

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedURL = errors.New("unsupported url")
	ErrNotFound       = errors.New("not found")
	ErrNotModified    = errors.New("not modified")
	ErrTimeout        = errors.New("timed out waiting for response")
	ErrMalformed      = errors.New("malformed response")
	ErrBodyTooLarge   = errors.New("response body too large")
)

// StatusError is returned for every response that carries no usable content.
type StatusError struct {
	URL    string
	Code   int
	Reason string
	Err    error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d %s", e.URL, e.Code, e.Reason)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

func statusError(url string, code int, reason string) *StatusError {
	e := &StatusError{URL: url, Code: code, Reason: reason}
	switch code {
	case 404:
		e.Err = ErrNotFound
	case 304:
		e.Err = ErrNotModified
	}
	return e
}
