package cache

import "time"

const (
	DefaultBaseDirName     = "base"
	DefaultSearchDepth     = 10
	DefaultRefreshInterval = 3600 * time.Second
	DefaultFetchDelay      = 15 * time.Second
	DefaultStartupGrace    = 120 * time.Second
	DefaultWatchInterval   = 5 * time.Second
)

const (
	BackendJSON   = "json"
	BackendBadger = "badger"
)

// Config holds the locations and timings of a Cache. Unset names, depths
// and intervals fall back to the defaults above; FetchDelay and StartupGrace
// are taken as given, so zero means immediately.
type Config struct {
	// BasePath is the bundled asset root. When empty, a directory named
	// BaseDirName is searched upwards from the working directory.
	BasePath    string
	BaseDirName string
	SearchDepth int

	// CachePath defaults to a "cache" directory next to the base directory.
	CachePath string

	// NetPath is a semicolon separated list of mirror base urls. Empty
	// disables network refreshes.
	NetPath string

	RefreshInterval time.Duration
	FetchDelay      time.Duration
	StartupGrace    time.Duration

	ManifestBackend string

	Watch         bool
	WatchInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseDirName == "" {
		c.BaseDirName = DefaultBaseDirName
	}
	if c.SearchDepth <= 0 {
		c.SearchDepth = DefaultSearchDepth
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.FetchDelay < 0 {
		c.FetchDelay = 0
	}
	if c.StartupGrace < 0 {
		c.StartupGrace = 0
	}
	if c.ManifestBackend == "" {
		c.ManifestBackend = BackendJSON
	}
	if c.WatchInterval <= 0 {
		c.WatchInterval = DefaultWatchInterval
	}
	return c
}
