package http

type Error struct {
	Error string `json:"error"`
}

type Status struct {
	BasePath        string   `json:"basePath"`
	CachePath       string   `json:"cachePath"`
	Mirrors         []string `json:"mirrors"`
	CacheUpdated    bool     `json:"cacheUpdated"`
	OpenFiles       int64    `json:"openFiles"`
	ManifestEntries int      `json:"manifestEntries"`
	QueueLength     int      `json:"queueLength"`
}

type CmdRequest struct {
	Line string `json:"line" binding:"required"`
}

type CmdResponse struct {
	Output string `json:"output"`
}

type RefreshResponse struct {
	File    string `json:"file"`
	Updated bool   `json:"updated"`
}
