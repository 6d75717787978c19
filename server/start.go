package server

import (
	"github.com/rs/zerolog/log"

	"github.com/jkaberg/netcache/cache"
	"github.com/jkaberg/netcache/config"
	"github.com/jkaberg/netcache/console"
	apphttp "github.com/jkaberg/netcache/http"
)

// StartServers starts the admin HTTP server when it is enabled.
// It blocks until the HTTP server exits.
func StartServers(c *cache.Cache, reg *console.Registry, httpConf *config.HTTPGlobal, logPath string) error {
	if httpConf == nil || !httpConf.Enabled {
		log.Info().Msg("admin http server disabled")
		return nil
	}

	log.Info().Msg("starting servers")
	return apphttp.New(c, reg, logPath, httpConf)
}
