package httpc

import (
	"time"

	"github.com/lestrrat-go/option"
)

type Option = option.Interface

type identDialTimeout struct{}
type identReadyAttempts struct{}
type identReadyWait struct{}
type identReadTimeout struct{}
type identRateLimit struct{}
type identMaxBodySize struct{}

func WithDialTimeout(v time.Duration) Option {
	return option.New(identDialTimeout{}, v)
}

// WithReadyAttempts sets how many times the client waits for the first
// response byte before giving up.
func WithReadyAttempts(v int) Option {
	return option.New(identReadyAttempts{}, v)
}

// WithReadyWait sets the length of a single wait for the first response byte.
func WithReadyWait(v time.Duration) Option {
	return option.New(identReadyWait{}, v)
}

// WithReadTimeout bounds reading the status line, headers and body once the
// server started answering. Zero disables it.
func WithReadTimeout(v time.Duration) Option {
	return option.New(identReadTimeout{}, v)
}

// WithRateLimit caps body reads to v bytes per second. Zero or less is unlimited.
func WithRateLimit(v int) Option {
	return option.New(identRateLimit{}, v)
}

// WithMaxBodySize rejects bodies larger than v bytes. Zero is unlimited.
// The default is DefaultMaxBodySize.
func WithMaxBodySize(v int64) Option {
	return option.New(identMaxBodySize{}, v)
}
