package config

// Root is the main yaml config object
type Root struct {
	HTTPGlobal *HTTPGlobal  `yaml:"http"`
	Cache      *CacheGlobal `yaml:"cache"`
	Fetch      *FetchGlobal `yaml:"fetch"`
	Manifest   *Manifest    `yaml:"manifest"`
	Bundle     *Bundle      `yaml:"bundle"`
	Log        *Log         `yaml:"log"`
}

type Log struct {
	Debug      bool   `yaml:"debug"`
	MaxBackups int    `yaml:"max_backups"`
	MaxSize    int    `yaml:"max_size"`
	MaxAge     int    `yaml:"max_age"`
	Path       string `yaml:"path"`
}

type CacheGlobal struct {
	// BasePath is the bundled, read-only asset root. Searched upwards from the
	// working directory when empty.
	BasePath    string `yaml:"base_path,omitempty"`
	BaseDirName string `yaml:"base_dir_name,omitempty"`
	SearchDepth int    `yaml:"search_depth,omitempty"`
	// CachePath defaults to <base>/../cache
	CachePath string `yaml:"cache_path,omitempty"`

	// TickInterval is how often, in seconds, the host wakes the refresh worker.
	TickInterval int `yaml:"tick_interval,omitempty"`

	Watch         bool `yaml:"watch,omitempty"`
	WatchInterval int  `yaml:"watch_interval,omitempty"`
}

type FetchGlobal struct {
	// NetPath is a semicolon separated list of mirror base urls.
	NetPath string `yaml:"net_path"`

	RefreshInterval int `yaml:"refresh_interval,omitempty"`
	FetchDelay      int `yaml:"fetch_delay,omitempty"`
	StartupGrace    int `yaml:"startup_grace,omitempty"`

	DialTimeout   int `yaml:"dial_timeout,omitempty"`
	ReadTimeout   int `yaml:"read_timeout,omitempty"`
	ReadyAttempts int `yaml:"ready_attempts,omitempty"`
	ReadyWaitMs   int `yaml:"ready_wait_ms,omitempty"`

	DownloadLimitKB int `yaml:"download_limit_kb,omitempty"`
	MaxBodyMB       int `yaml:"max_body_mb,omitempty"`
}

type Manifest struct {
	// Backend is either "json" (CacheManifest.json) or "badger".
	Backend string `yaml:"backend,omitempty"`
}

type Bundle struct {
	// Archive is a .zip, .7z or .rar file missing base assets are unpacked from.
	Archive string `yaml:"archive,omitempty"`
}

type HTTPGlobal struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	IP      string `yaml:"ip"`
	AssetFS bool   `yaml:"assetfs"`
}

const (
	defaultNetPath   = "http://home.xyzw.us/star3map/data/"
	defaultLogPath   = "./netcache-data/logs"
	defaultHTTPPort  = 4480
	defaultMaxBodyMB = 64
)

func AddDefaults(r *Root) *Root {
	if r.Cache == nil {
		r.Cache = &CacheGlobal{}
	}

	if r.Cache.BaseDirName == "" {
		r.Cache.BaseDirName = "base"
	}

	if r.Cache.SearchDepth == 0 {
		r.Cache.SearchDepth = 10
	}

	if r.Cache.TickInterval == 0 {
		r.Cache.TickInterval = 1
	}

	if r.Cache.WatchInterval == 0 {
		r.Cache.WatchInterval = 5
	}

	if r.Fetch == nil {
		r.Fetch = &FetchGlobal{NetPath: defaultNetPath}
	}

	if r.Fetch.RefreshInterval == 0 {
		r.Fetch.RefreshInterval = 3600
	}

	if r.Fetch.FetchDelay == 0 {
		r.Fetch.FetchDelay = 15
	}

	if r.Fetch.StartupGrace == 0 {
		r.Fetch.StartupGrace = 120
	}

	if r.Fetch.DialTimeout == 0 {
		r.Fetch.DialTimeout = 10
	}

	if r.Fetch.ReadTimeout == 0 {
		r.Fetch.ReadTimeout = 60
	}

	if r.Fetch.MaxBodyMB == 0 {
		r.Fetch.MaxBodyMB = defaultMaxBodyMB
	}

	if r.Fetch.ReadyAttempts == 0 {
		r.Fetch.ReadyAttempts = 5
	}

	if r.Fetch.ReadyWaitMs == 0 {
		r.Fetch.ReadyWaitMs = 500
	}

	if r.Manifest == nil {
		r.Manifest = &Manifest{}
	}

	if r.Manifest.Backend == "" {
		r.Manifest.Backend = "json"
	}

	if r.Bundle == nil {
		r.Bundle = &Bundle{}
	}

	if r.HTTPGlobal == nil {
		r.HTTPGlobal = &HTTPGlobal{Enabled: true, AssetFS: true}
	}

	if r.HTTPGlobal.IP == "" {
		r.HTTPGlobal.IP = "0.0.0.0"
	}

	if r.HTTPGlobal.Port == 0 {
		r.HTTPGlobal.Port = defaultHTTPPort
	}

	if r.Log == nil {
		r.Log = &Log{}
	}

	if r.Log.Path == "" {
		r.Log.Path = defaultLogPath
	}

	return r
}
