package cache

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaberg/netcache/httpc"
)

type recordingSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *recordingSink) Error(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func (s *recordingSink) get() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

func TestParseNetPath(t *testing.T) {
	require.Equal(t,
		[]string{"http://a/data", "http://b"},
		ParseNetPath(" http://a/data/ ;;http://b"),
	)
	require.Empty(t, ParseNetPath(""))
	require.Equal(t, "http://m/dir/a%20b.txt", ResourceURL("http://m", "dir/a b.txt"))
}

func TestStaleRevalidation(t *testing.T) {
	require := require.New(t)

	var inm atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bar.txt", r.URL.Path)
		inm.Store(r.Header.Get("If-None-Match"))
		w.Header().Set("ETag", `"xyz"`)
		w.Header().Set("Last-Modified", "Tue, 03 Jan 2006 15:04:05 GMT")
		w.Header().Set("Cache-Control", "public, max-age=7200")
		fmt.Fprint(w, "new")
	}))
	defer srv.Close()

	d := newDirs(t)
	writeFile(t, filepath.Join(d.cache, "bar.txt"), "old")

	clock := newFakeClock()
	c := newTestCache(t, d, Config{NetPath: srv.URL}, WithClock(clock))
	now := clock.Now()
	c.Manifest().Set("bar.txt", Entry{URL: srv.URL + "/bar.txt", ETag: "abc", LastTry: now.Unix() - 4000})

	c.Queue().Push("bar.txt", now)
	_, pending := c.drain(context.Background())
	require.False(pending)

	require.Equal(`"abc"`, inm.Load())
	require.Equal("new", readFile(t, filepath.Join(d.cache, "bar.txt")))

	e := c.Manifest().Get("bar.txt")
	require.Equal("xyz", e.ETag)
	require.Equal(srv.URL, e.URL)
	require.Equal("Tue, 03 Jan 2006 15:04:05 GMT", e.LastModified)
	require.Equal(md5Hex("new"), e.MD5)
	require.Equal(now.Unix(), e.LastTry)
	require.Equal(int64(7200), e.MaxAge)
	require.True(c.CacheUpdated())
}

func TestNotModified(t *testing.T) {
	require := require.New(t)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, `"abc"`, r.Header.Get("If-None-Match"))
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	d := newDirs(t)
	writeFile(t, filepath.Join(d.cache, "bar.txt"), "old")

	sink := &recordingSink{}
	clock := newFakeClock()
	c := newTestCache(t, d, Config{NetPath: srv.URL}, WithClock(clock), WithErrSink(sink))
	now := clock.Now()
	// older manifests keep the trailing slash of the configured mirror
	before := Entry{URL: srv.URL + "/", MD5: md5Hex("old"), ETag: "abc", LastTry: now.Unix() - 4000}
	c.Manifest().Set("bar.txt", before)

	c.Queue().Push("bar.txt", now)
	c.drain(context.Background())

	require.Equal(int32(1), hits.Load())
	require.Equal("old", readFile(t, filepath.Join(d.cache, "bar.txt")))
	require.False(c.CacheUpdated())
	require.Empty(sink.get())

	after := c.Manifest().Get("bar.txt")
	before.LastTry = now.Unix()
	require.Equal(before, after)
}

func TestNotModifiedTriesNextMirror(t *testing.T) {
	require := require.New(t)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(100)
		assert.Empty(t, r.Header.Get("If-None-Match"))
		fmt.Fprint(w, "other")
	}))
	defer other.Close()

	d := newDirs(t)
	writeFile(t, filepath.Join(d.cache, "bar.txt"), "old")

	clock := newFakeClock()
	c := newTestCache(t, d, Config{NetPath: srv.URL + ";" + other.URL}, WithClock(clock))
	now := clock.Now()
	c.Manifest().Set("bar.txt", Entry{URL: srv.URL, MD5: md5Hex("old"), ETag: "abc", LastTry: now.Unix() - 4000})

	c.Queue().Push("bar.txt", now)
	c.drain(context.Background())

	require.Equal(int32(101), hits.Load())
	require.Equal("other", readFile(t, filepath.Join(d.cache, "bar.txt")))
	require.True(c.CacheUpdated())

	e := c.Manifest().Get("bar.txt")
	require.Equal(other.URL, e.URL)
	require.Equal(md5Hex("other"), e.MD5)
}

func TestBackoff(t *testing.T) {
	require := require.New(t)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := &recordingSink{}
	clock := newFakeClock()
	c := newTestCache(t, newDirs(t), Config{NetPath: srv.URL}, WithClock(clock), WithErrSink(sink))
	c.Manifest().Set("a.txt", Entry{URL: srv.URL, MD5: md5Hex("a")})

	c.Queue().Push("a.txt", clock.Now())
	c.drain(context.Background())
	require.Equal(int32(1), hits.Load())
	require.Equal(clock.Now().Unix(), c.Manifest().Get("a.txt").LastTry)
	require.Equal(md5Hex("a"), c.Manifest().Get("a.txt").MD5)

	errs := sink.get()
	require.Len(errs, 1)
	var re *RefreshError
	require.ErrorAs(errs[0], &re)
	require.Equal("a.txt", re.File)
	require.Equal(srv.URL, re.Mirror)
	var se *httpc.StatusError
	require.ErrorAs(errs[0], &se)
	require.Equal(500, se.Code)

	clock.Advance(10 * time.Minute)
	c.Queue().Push("a.txt", clock.Now())
	c.drain(context.Background())
	require.Equal(int32(1), hits.Load())

	// an explicit refresh ignores the backoff
	_, err := c.Refresh(context.Background(), "a.txt")
	require.Error(err)
	require.Equal(int32(2), hits.Load())

	clock.Advance(time.Hour)
	c.Queue().Push("a.txt", clock.Now())
	c.drain(context.Background())
	require.Equal(int32(3), hits.Load())
}

func TestMaxAgeExtendsBackoff(t *testing.T) {
	require := require.New(t)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, "x")
	}))
	defer srv.Close()

	clock := newFakeClock()
	c := newTestCache(t, newDirs(t), Config{NetPath: srv.URL}, WithClock(clock))
	c.Manifest().Set("a.txt", Entry{URL: srv.URL, LastTry: clock.Now().Unix() - 4000, MaxAge: 5000})

	c.Queue().Push("a.txt", clock.Now())
	c.drain(context.Background())
	require.Equal(int32(0), hits.Load())

	clock.Advance(1001 * time.Second)
	c.Queue().Push("a.txt", clock.Now())
	c.drain(context.Background())
	require.Equal(int32(1), hits.Load())
}

func TestLocalFilesAreNeverFetched(t *testing.T) {
	require := require.New(t)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	clock := newFakeClock()
	c := newTestCache(t, newDirs(t), Config{NetPath: srv.URL}, WithClock(clock))

	f, err := c.OpenForWrite("bindings.cfg")
	require.NoError(err)
	require.NoError(f.Close())

	updated, err := c.Refresh(context.Background(), "bindings.cfg")
	require.NoError(err)
	require.False(updated)
	require.Equal(int32(0), hits.Load())
}

func TestMirrorFallback(t *testing.T) {
	require := require.New(t)

	missing := httptest.NewServer(http.NotFoundHandler())
	defer missing.Close()

	var inm atomic.Value
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inm.Store(r.Header.Get("If-None-Match"))
		w.Header().Set("ETag", `W/"weak"`)
		fmt.Fprint(w, "content")
	}))
	defer good.Close()

	sink := &recordingSink{}
	clock := newFakeClock()
	c := newTestCache(t, newDirs(t), Config{NetPath: missing.URL + "/;" + good.URL}, WithClock(clock), WithErrSink(sink))
	// the etag belongs to the first mirror and must not be sent to the second
	c.Manifest().Set("dir/a.txt", Entry{URL: missing.URL, ETag: "abc"})

	updated, err := c.Refresh(context.Background(), "dir/a.txt")
	require.NoError(err)
	require.True(updated)
	require.Equal("", inm.Load())

	e := c.Manifest().Get("dir/a.txt")
	require.Equal(good.URL, e.URL)
	require.Equal("weak", e.ETag)
	require.Equal(md5Hex("content"), e.MD5)
	require.Equal("content", readAll(t, c, "dir/a.txt"))

	errs := sink.get()
	require.Len(errs, 1)
	require.ErrorIs(errs[0], httpc.ErrNotFound)
}

func TestNotYetEligibleIsRequeued(t *testing.T) {
	require := require.New(t)

	clock := newFakeClock()
	c := newTestCache(t, newDirs(t), Config{}, WithClock(clock))

	c.Queue().Push("a.txt", clock.Now().Add(10*time.Second))
	wait, pending := c.drain(context.Background())
	require.True(pending)
	require.Equal(10*time.Second, wait)
	require.Equal(1, c.Queue().Len())

	req, _ := c.Queue().Peek()
	require.Equal(clock.Now().Add(10*time.Second), req.NotBefore)
}

func TestPeriodicSweep(t *testing.T) {
	require := require.New(t)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, "x")
	}))
	defer srv.Close()

	clock := newFakeClock()
	c := newTestCache(t, newDirs(t), Config{NetPath: srv.URL, StartupGrace: 120 * time.Second}, WithClock(clock))
	c.Manifest().Set("remote.txt", Entry{URL: srv.URL})
	c.Manifest().Set("local.txt", Entry{URL: LocalURL})

	// within grace plus interval nothing happens
	clock.Advance(3600 * time.Second)
	c.drain(context.Background())
	require.Equal(int32(0), hits.Load())

	clock.Advance(121 * time.Second)
	_, pending := c.drain(context.Background())
	require.False(pending)
	require.Equal(int32(1), hits.Load())
	require.Equal(0, c.Queue().Len())

	c.mu.Lock()
	require.Equal(clock.Now(), c.lastSweep)
	c.mu.Unlock()
}

func TestWorkerRunsOnTick(t *testing.T) {
	require := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "fresh")
	}))
	defer srv.Close()

	d := newDirs(t)
	writeFile(t, filepath.Join(d.cache, "a.txt"), "stale")

	c, err := New(context.Background(), Config{
		BasePath:   d.base,
		CachePath:  d.cache,
		NetPath:    srv.URL,
		FetchDelay: 10 * time.Millisecond,
	})
	require.NoError(err)

	// a cache hit schedules the refetch
	require.Equal("stale", readAll(t, c, "a.txt"))
	c.Tick()

	require.Eventually(func() bool {
		return c.CacheUpdated()
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal("fresh", readFile(t, filepath.Join(d.cache, "a.txt")))

	require.NoError(c.Shutdown())
	require.FileExists(filepath.Join(d.cache, ManifestName))
}
