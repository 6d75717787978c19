package http

import (
	"bytes"
	"errors"
	"io"
	"math"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/jkaberg/netcache/cache"
	"github.com/jkaberg/netcache/console"
)

var apiStatusHandler = func(c *cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, &Status{
			BasePath:        c.BasePath(),
			CachePath:       c.CachePath(),
			Mirrors:         c.Mirrors(),
			CacheUpdated:    c.CacheUpdated(),
			OpenFiles:       c.NumOpenFiles(),
			ManifestEntries: c.Manifest().Len(),
			QueueLength:     c.Queue().Len(),
		})
	}
}

// apiManifestHandler returns the whole manifest, or a single entry when the
// file query parameter is set.
var apiManifestHandler = func(c *cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		file := ctx.Query("file")
		if file == "" {
			ctx.JSON(http.StatusOK, c.Manifest().Snapshot())
			return
		}

		name, err := cache.CleanName(file)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, Error{Error: err.Error()})
			return
		}
		if !c.Manifest().Has(name) {
			ctx.JSON(http.StatusNotFound, Error{Error: "no manifest entry for " + name})
			return
		}
		ctx.JSON(http.StatusOK, c.Manifest().Get(name))
	}
}

var apiQueueHandler = func(c *cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, c.Queue().Snapshot())
	}
}

var apiTickHandler = func(c *cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		c.Tick()
		ctx.JSON(http.StatusOK, nil)
	}
}

// apiRefreshHandler fetches a file from the mirrors right away.
var apiRefreshHandler = func(c *cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		file := ctx.Query("file")
		if file == "" {
			ctx.JSON(http.StatusBadRequest, Error{Error: "file is required"})
			return
		}

		updated, err := c.Refresh(ctx.Request.Context(), file)
		switch {
		case errors.Is(err, cache.ErrInvalidName):
			ctx.JSON(http.StatusBadRequest, Error{Error: err.Error()})
		case errors.Is(err, cache.ErrClosed):
			ctx.JSON(http.StatusServiceUnavailable, Error{Error: err.Error()})
		case err != nil:
			ctx.JSON(http.StatusBadGateway, Error{Error: err.Error()})
		default:
			ctx.JSON(http.StatusOK, &RefreshResponse{File: file, Updated: updated})
		}
	}
}

var apiVarsHandler = func(reg *console.Registry) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, reg.Vars())
	}
}

var apiCmdHandler = func(reg *console.Registry) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var req CmdRequest
		if err := ctx.ShouldBindJSON(&req); err != nil {
			ctx.JSON(http.StatusBadRequest, Error{Error: err.Error()})
			return
		}

		out, err := reg.Exec(req.Line)
		if err != nil {
			ctx.JSON(statusFor(err), Error{Error: err.Error()})
			return
		}

		ctx.JSON(http.StatusOK, &CmdResponse{Output: out})
	}
}

var apiLogHandler = func(path string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		f, err := os.Open(path)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		defer f.Close()

		fi, err := f.Stat()
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		max := math.Max(float64(-fi.Size()), -1024*8*8)
		_, err = f.Seek(int64(max), io.SeekEnd)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var b bytes.Buffer
		if _, err := b.ReadFrom(f); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx.Data(http.StatusOK, "text/plain; charset=utf-8", b.Bytes())
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, console.ErrUnknownCommand) ||
		errors.Is(err, console.ErrUnknownVar) ||
		errors.Is(err, cache.ErrNotFound)
}
