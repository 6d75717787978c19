package cache

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/lestrrat-go/httpcc"

	"github.com/jkaberg/netcache/httpc"
	"github.com/jkaberg/netcache/metrics"
)

// ParseNetPath splits a semicolon separated mirror list. Trailing slashes
// are dropped.
func ParseNetPath(netPath string) []string {
	var out []string
	for _, m := range strings.Split(netPath, ";") {
		m = strings.TrimRight(strings.TrimSpace(m), "/")
		if m != "" {
			out = append(out, m)
		}
	}
	return out
}

// ResourceURL joins a mirror base url and a file name, escaping each path
// segment of the name.
func ResourceURL(mirror, name string) string {
	segs := strings.Split(name, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return mirror + "/" + strings.Join(segs, "/")
}

// Tick wakes the refresh worker. Calls never block and wakes coalesce.
func (c *Cache) Tick() {
	c.wake()
}

func (c *Cache) wake() {
	select {
	case c.wakeCh <- struct{}{}:
	default:
	}
}

// RefreshCache queues every manifest entry for revalidation now.
func (c *Cache) RefreshCache() {
	now := c.now()

	c.mu.Lock()
	c.lastSweep = now
	c.mu.Unlock()

	names := c.manifest.Names()
	for _, n := range names {
		c.queue.Push(n, now)
	}
	c.log.Debug().Int("files", len(names)).Msg("queued full cache refresh")
	c.wake()
}

func (c *Cache) sweepDue(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastSweep) > c.cfg.RefreshInterval
}

func (c *Cache) run(ctx context.Context) {
	defer close(c.done)

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Debug().Msg("refresh worker stopped")
			return
		case <-c.wakeCh:
		case <-timer.C:
		}

		wait, ok := c.drain(ctx)
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if ok {
			timer.Reset(wait)
		}
	}
}

// drain serves every eligible request. It returns how long to wait for the
// next one, if any is left in the queue.
func (c *Cache) drain(ctx context.Context) (time.Duration, bool) {
	for ctx.Err() == nil {
		req, ok := c.queue.Pop()
		now := c.now()
		if !ok {
			if c.sweepDue(now) {
				c.RefreshCache()
				continue
			}
			return 0, false
		}

		if now.Before(req.NotBefore) {
			c.queue.Push(req.Name, req.NotBefore)
			return req.NotBefore.Sub(now), true
		}

		c.process(ctx, req.Name, false)
	}
	return 0, false
}

// Refresh fetches name from the mirrors right away, ignoring the backoff.
// It reports whether the cached copy was replaced.
func (c *Cache) Refresh(ctx context.Context, name string) (bool, error) {
	if c.closed.Load() {
		return false, ErrClosed
	}

	n, err := CleanName(name)
	if err != nil {
		return false, err
	}
	return c.process(ctx, n, true)
}

func (c *Cache) process(ctx context.Context, name string, force bool) (bool, error) {
	if name == "" || name == ManifestName {
		return false, nil
	}

	l := c.log.With().Str("file", name).Logger()
	mi := c.manifest.Get(name)
	now := c.now()

	if mi.IsLocal() {
		metrics.RecordFetch(metrics.FetchSkippedLocal, 0, 0)
		return false, nil
	}

	backoff := c.cfg.RefreshInterval
	if ma := time.Duration(mi.MaxAge) * time.Second; ma > backoff {
		backoff = ma
	}
	if !force && now.Sub(time.Unix(mi.LastTry, 0)) < backoff {
		l.Debug().Dur("since", now.Sub(time.Unix(mi.LastTry, 0))).Msg("skipping refresh, tried recently")
		metrics.RecordFetch(metrics.FetchSkippedRetry, 0, 0)
		return false, nil
	}

	if len(c.mirrors) == 0 {
		return false, nil
	}

	l.Debug().Msg("looking for file on mirrors")
	mi.LastTry = now.Unix()

	var lastErr error
	for _, mirror := range c.mirrors {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}

		u := ResourceURL(mirror, name)
		etag := ""
		if mi.ETag != "" && matchesMirror(mi.URL, mirror, u) {
			etag = mi.ETag
		}

		start := time.Now()
		resp, err := c.fetcher.Fetch(ctx, u, etag)
		if err != nil {
			metrics.RecordFetch(fetchResult(err), 0, time.Since(start))
			lastErr = err
			c.reportError(name, mirror, err)
			continue
		}
		metrics.RecordFetch(metrics.FetchUpdated, len(resp.Body), time.Since(start))

		mi.URL = mirror
		if lm := resp.LastModified(); lm != "" {
			mi.LastModified = lm
		}
		if et := resp.ETag(); et != "" {
			mi.ETag = strings.Trim(strings.TrimPrefix(et, "W/"), `"`)
		}
		mi.MaxAge = maxAge(resp.CacheControl())
		mi.LastTry = c.now().Unix()

		if err := c.store(name, mi, resp.Body); err != nil {
			lastErr = err
			c.reportError(name, mirror, err)
			break
		}

		c.setCacheUpdated()
		l.Info().Str("mirror", mirror).Int("bytes", len(resp.Body)).Msg("file refreshed")
		return true, nil
	}

	lastTry := mi.LastTry
	c.manifest.Update(name, func(e *Entry) {
		e.LastTry = lastTry
	})

	if errors.Is(lastErr, httpc.ErrNotModified) {
		return false, nil
	}
	return false, lastErr
}

// matchesMirror reports whether a stored url names mirror. Manifests carry
// either the mirror base, with or without a trailing slash, or the full
// resource url.
func matchesMirror(stored, mirror, resource string) bool {
	return stored == mirror || stored == mirror+"/" || stored == resource
}

// store writes body through the cache write path; the md5 is recomputed
// when the file is closed.
func (c *Cache) store(name string, mi Entry, body []byte) error {
	f, err := c.openForWrite(name, &mi, true)
	if err != nil {
		return err
	}
	if _, err := f.Write(body); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (c *Cache) reportError(name, mirror string, err error) {
	l := c.log.With().Str("file", name).Str("mirror", mirror).Logger()

	var se *httpc.StatusError
	switch {
	case errors.Is(err, httpc.ErrNotModified):
		l.Debug().Msg("file not modified")
		return
	case errors.As(err, &se):
		l.Warn().Int("status", se.Code).Msg("mirror has no content for file")
	default:
		l.Warn().Err(err).Msg("error fetching file")
	}

	if c.errSink != nil {
		c.errSink.Error(&RefreshError{File: name, Mirror: mirror, Err: err})
	}
}

func fetchResult(err error) string {
	switch {
	case errors.Is(err, httpc.ErrNotModified):
		return metrics.FetchNotModified
	case errors.Is(err, httpc.ErrNotFound):
		return metrics.FetchNotFound
	default:
		return metrics.FetchError
	}
}

func maxAge(cacheControl string) int64 {
	if cacheControl == "" {
		return 0
	}
	dir, err := httpcc.ParseResponse(cacheControl)
	if err != nil {
		return 0
	}
	if v, ok := dir.MaxAge(); ok {
		return int64(v)
	}
	return 0
}
