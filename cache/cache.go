// Package cache serves named assets from a writable cache directory, falling
// back to a bundled base directory, and keeps cached files fresh by
// revalidating them against http mirrors in the background. The provenance
// of every cached file is kept in a manifest.
package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jkaberg/netcache/console"
	"github.com/jkaberg/netcache/fs"
	"github.com/jkaberg/netcache/httpc"
	"github.com/jkaberg/netcache/metrics"
)

type Cache struct {
	// mu guards the manifest, the queue and lastSweep.
	mu        sync.Mutex
	manifest  *Manifest
	queue     *Queue
	lastSweep time.Time

	// writeMu orders a write's rename with its md5 update.
	writeMu sync.Mutex

	cfg       Config
	basePath  string
	cachePath string
	mirrors   []string

	fetcher      Fetcher
	clock        Clock
	errSink      ErrSink
	materializer fs.Materializer
	log          zerolog.Logger
	watcher      *Watcher

	openFiles    atomic.Int64
	cacheUpdated atomic.Bool
	closed       atomic.Bool

	wakeCh       chan struct{}
	cancel       context.CancelFunc
	done         chan struct{}
	shutdownOnce sync.Once
	shutdownErr  error
}

// New locates the base and cache directories, loads the manifest and starts
// the refresh worker. The worker runs until ctx is canceled or Shutdown is
// called. Directory failures are returned as *InitError.
func New(ctx context.Context, cfg Config, options ...Option) (*Cache, error) {
	c := &Cache{
		cfg:    cfg.withDefaults(),
		clock:  ClockFunc(time.Now),
		log:    log.Logger.With().Str("component", "cache").Logger(),
		wakeCh: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	for _, option := range options {
		//nolint:forcetypeassert
		switch option.Ident() {
		case identClock{}:
			c.clock = option.Value().(Clock)
		case identFetcher{}:
			c.fetcher = option.Value().(Fetcher)
		case identErrSink{}:
			c.errSink = option.Value().(ErrSink)
		case identMaterializer{}:
			c.materializer = option.Value().(fs.Materializer)
		case identLogger{}:
			c.log = option.Value().(zerolog.Logger)
		}
	}

	if c.fetcher == nil {
		c.fetcher = httpc.NewClient()
	}

	if err := c.locate(); err != nil {
		return nil, err
	}
	c.mirrors = ParseNetPath(c.cfg.NetPath)

	c.queue = newQueue(&c.mu, c.log)

	backend, err := c.openBackend()
	if err != nil {
		return nil, err
	}
	c.manifest = newManifest(&c.mu, backend, c.log)
	if err := c.manifest.Load(); err != nil {
		c.log.Warn().Err(err).Msg("error loading cache manifest, starting empty")
	}

	c.lastSweep = c.now().Add(c.cfg.StartupGrace)

	if c.cfg.Watch {
		w, err := newWatcher(c, c.cfg.WatchInterval)
		if err == nil {
			err = w.Start()
		}
		if err != nil {
			c.log.Error().Err(err).Msg("error starting cache directory watcher")
		} else {
			c.watcher = w
		}
	}

	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)

	c.log.Info().
		Str("base", c.basePath).
		Str("cache", c.cachePath).
		Strs("mirrors", c.mirrors).
		Int("entries", c.manifest.Len()).
		Msg("cache initialized")

	return c, nil
}

func (c *Cache) locate() error {
	base := c.cfg.BasePath
	if base == "" {
		wd, err := os.Getwd()
		if err != nil {
			return &InitError{Op: "get working directory", Err: err}
		}
		base, err = FindDirectory(wd, c.cfg.BaseDirName, c.cfg.SearchDepth)
		if err != nil {
			return &InitError{Op: "locate base directory", Path: wd, Err: err}
		}
	} else {
		fi, err := os.Stat(base)
		if err == nil && !fi.IsDir() {
			err = errors.New("not a directory")
		}
		if err != nil {
			return &InitError{Op: "open base directory", Path: base, Err: err}
		}
	}

	base, err := filepath.Abs(base)
	if err != nil {
		return &InitError{Op: "open base directory", Path: base, Err: err}
	}
	c.basePath = base

	cp := c.cfg.CachePath
	if cp == "" {
		cp = filepath.Join(filepath.Dir(base), "cache")
	}
	cp, err = filepath.Abs(cp)
	if err != nil {
		return &InitError{Op: "create cache directory", Path: cp, Err: err}
	}
	if err := os.MkdirAll(cp, 0755); err != nil {
		return &InitError{Op: "create cache directory", Path: cp, Err: err}
	}
	c.cachePath = cp

	return nil
}

func (c *Cache) openBackend() (manifestBackend, error) {
	switch c.cfg.ManifestBackend {
	case BackendJSON:
		return &jsonBackend{c: c}, nil
	case BackendBadger:
		p := filepath.Join(c.cachePath, ManifestDBName)
		b, err := newBadgerBackend(p, c.log.With().Str("component", "manifest-store").Logger())
		if err != nil {
			return nil, &InitError{Op: "open manifest database", Path: p, Err: err}
		}
		return b, nil
	default:
		return nil, &InitError{Op: "select manifest backend", Err: fmt.Errorf("unknown backend %q", c.cfg.ManifestBackend)}
	}
}

// Shutdown stops the worker, waits for it and flushes the manifest. It is
// safe to call more than once.
func (c *Cache) Shutdown() error {
	c.shutdownOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()
		c.wake()
		<-c.done

		if c.watcher != nil {
			if err := c.watcher.Close(); err != nil {
				c.log.Warn().Err(err).Msg("error closing cache directory watcher")
			}
		}

		c.shutdownErr = c.manifest.Save()
		if err := c.manifest.close(); err != nil && c.shutdownErr == nil {
			c.shutdownErr = err
		}
		c.log.Info().Msg("cache shut down")
	})
	return c.shutdownErr
}

// WriteManifest flushes the manifest now.
func (c *Cache) WriteManifest() error {
	return c.manifest.Save()
}

func (c *Cache) Manifest() *Manifest {
	return c.manifest
}

func (c *Cache) Queue() *Queue {
	return c.queue
}

func (c *Cache) BasePath() string {
	return c.basePath
}

func (c *Cache) CachePath() string {
	return c.cachePath
}

func (c *Cache) NetPath() string {
	return c.cfg.NetPath
}

func (c *Cache) Mirrors() []string {
	out := make([]string, len(c.mirrors))
	copy(out, c.mirrors)
	return out
}

// CacheUpdated reports whether a background fetch replaced cached content
// since the cache was created.
func (c *Cache) CacheUpdated() bool {
	return c.cacheUpdated.Load()
}

func (c *Cache) setCacheUpdated() {
	c.cacheUpdated.Store(true)
	metrics.SetCacheUpdated(true)
}

func (c *Cache) NumOpenFiles() int64 {
	return c.openFiles.Load()
}

func (c *Cache) now() time.Time {
	return c.clock.Now()
}

// RegisterConsole publishes the cache state as console vars and its
// operations as console commands.
func (c *Cache) RegisterConsole(r *console.Registry) {
	r.RegisterVar("f_basePath", "bundled asset directory", c.BasePath)
	r.RegisterVar("f_cachePath", "writable cache directory", c.CachePath)
	r.RegisterVar("f_netPath", "semicolon separated mirror urls", c.NetPath)
	r.RegisterVar("f_cacheUpdated", "set when a background fetch replaced cached content", func() string {
		return strconv.FormatBool(c.CacheUpdated())
	})
	r.RegisterVar("f_numOpenFiles", "open asset file handles", func() string {
		return strconv.FormatInt(c.NumOpenFiles(), 10)
	})

	r.RegisterCommand("writecachemanifest", "write the cache manifest to disk", func([]string) error {
		return c.WriteManifest()
	})
	r.RegisterCommand("refreshcache", "revalidate every cached file", func([]string) error {
		c.RefreshCache()
		return nil
	})
	r.RegisterCommand("tickfilesystem", "wake the refresh worker", func([]string) error {
		c.Tick()
		return nil
	})
}
