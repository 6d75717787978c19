package http

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jkaberg/netcache/cache"
	"github.com/jkaberg/netcache/config"
	"github.com/jkaberg/netcache/console"
	"github.com/jkaberg/netcache/metrics"
)

// NewRouter builds the admin API around c and the console registry.
func NewRouter(c *cache.Cache, reg *console.Registry, logPath string, cfg *config.HTTPGlobal) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.ErrorLogger())
	r.Use(Logger())

	if cfg.AssetFS {
		log.Info().Str("host", fmt.Sprintf("%s:%d/fs", cfg.IP, cfg.Port)).Msg("starting asset file server")
		afs := NewAssetFS(c)
		h := func(ctx *gin.Context) {
			path := ctx.Param("filepath")
			ctx.FileFromFS(path, afs)
		}
		r.GET("/fs/*filepath", h)
		r.HEAD("/fs/*filepath", h)
	}

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	{
		api.GET("/log", apiLogHandler(logPath))
		api.GET("/status", apiStatusHandler(c))
		api.GET("/manifest", apiManifestHandler(c))
		api.GET("/queue", apiQueueHandler(c))
		api.POST("/tick", apiTickHandler(c))
		api.POST("/refresh", apiRefreshHandler(c))
		api.GET("/vars", apiVarsHandler(reg))
		api.POST("/cmd", apiCmdHandler(reg))
	}

	return r
}

// New serves the admin API until the listener fails.
func New(c *cache.Cache, reg *console.Registry, logPath string, cfg *config.HTTPGlobal) error {
	r := NewRouter(c, reg, logPath, cfg)

	log.Info().Str("host", fmt.Sprintf("%s:%d", cfg.IP, cfg.Port)).Msg("starting webserver")

	if err := r.Run(fmt.Sprintf("%s:%d", cfg.IP, cfg.Port)); err != nil {
		return fmt.Errorf("error initializing server: %w", err)
	}

	return nil
}

func Logger() gin.HandlerFunc {
	l := log.Logger.With().Str("component", "http").Logger()
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery
		c.Next()
		if raw != "" {
			path = path + "?" + raw
		}
		msg := c.Errors.String()
		if msg == "" {
			msg = "Request"
		}

		s := c.Writer.Status()
		metrics.RecordHTTPRequest(c.Request.Method, s)
		switch {
		case s >= 400 && s < 500:
			l.Warn().Str("path", path).Int("status", s).Msg(msg)
		case s >= 500:
			l.Error().Str("path", path).Int("status", s).Msg(msg)
		default:
			l.Debug().Str("path", path).Int("status", s).Msg(msg)
		}
	}
}

func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case isNotFound(err):
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}
