package cache

import (
	"context"
	"time"

	"github.com/lestrrat-go/option"
	"github.com/rs/zerolog"

	"github.com/jkaberg/netcache/fs"
	"github.com/jkaberg/netcache/httpc"
)

type Option = option.Interface

// Fetcher performs a conditional GET. *httpc.Client satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, etag string) (*httpc.Response, error)
}

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (cf ClockFunc) Now() time.Time {
	return cf()
}

type identClock struct{}
type identFetcher struct{}
type identErrSink struct{}
type identMaterializer struct{}
type identLogger struct{}

// WithClock replaces the wall clock used for notBefore and backoff decisions.
func WithClock(v Clock) Option {
	return option.New(identClock{}, v)
}

// WithFetcher sets the client used to talk to mirrors. Defaults to an
// httpc.Client with default settings.
func WithFetcher(v Fetcher) Option {
	return option.New(identFetcher{}, v)
}

// WithErrSink receives every *RefreshError produced by the worker.
func WithErrSink(v ErrSink) Option {
	return option.New(identErrSink{}, v)
}

// WithMaterializer sets a fallback that can produce files missing from the
// base directory, such as an fs.Archive.
func WithMaterializer(v fs.Materializer) Option {
	return option.New(identMaterializer{}, v)
}

func WithLogger(v zerolog.Logger) Option {
	return option.New(identLogger{}, v)
}
