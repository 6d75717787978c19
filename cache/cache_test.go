package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jkaberg/netcache/console"
	"github.com/jkaberg/netcache/fs"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

type dirs struct {
	base  string
	cache string
}

func newDirs(t *testing.T) dirs {
	root := t.TempDir()
	d := dirs{
		base:  filepath.Join(root, "base"),
		cache: filepath.Join(root, "cache"),
	}
	require.NoError(t, os.MkdirAll(d.base, 0755))
	return d
}

func writeFile(t *testing.T, p, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
}

func readFile(t *testing.T, p string) string {
	t.Helper()
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	return string(b)
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// newTestCache creates a cache whose background worker is already stopped,
// so tests drive the worker by hand.
func newTestCache(t *testing.T, d dirs, cfg Config, options ...Option) *Cache {
	t.Helper()

	cfg.BasePath = d.base
	cfg.CachePath = d.cache
	c, err := New(context.Background(), cfg, options...)
	require.NoError(t, err)

	c.cancel()
	<-c.done

	t.Cleanup(func() {
		_ = c.Shutdown()
	})
	return c
}

func readAll(t *testing.T, c *Cache, name string) string {
	t.Helper()
	f, err := c.OpenForRead(name)
	require.NoError(t, err)
	defer f.Close()

	b, err := io.ReadAll(f)
	require.NoError(t, err)
	return string(b)
}

func TestOpenForReadPrefersCache(t *testing.T) {
	require := require.New(t)

	d := newDirs(t)
	writeFile(t, filepath.Join(d.base, "shaders", "a.glsl"), "base copy")
	writeFile(t, filepath.Join(d.cache, "shaders", "a.glsl"), "cache copy")

	clock := newFakeClock()
	c := newTestCache(t, d, Config{FetchDelay: 15 * time.Second}, WithClock(clock))

	require.Equal("cache copy", readAll(t, c, "shaders/a.glsl"))
	require.Equal("cache copy", readAll(t, c, `shaders\a.glsl`))

	req, ok := c.Queue().Peek()
	require.True(ok)
	require.Equal("shaders/a.glsl", req.Name)
	require.Equal(clock.Now().Add(15*time.Second), req.NotBefore)
	require.Equal(1, c.Queue().Len())
}

func TestOpenForReadFallsBackToBase(t *testing.T) {
	require := require.New(t)

	d := newDirs(t)
	writeFile(t, filepath.Join(d.base, "foo.txt"), "hello")

	c := newTestCache(t, d, Config{})

	data, err := c.ReadWholeFile("foo.txt")
	require.NoError(err)
	require.Equal("hello", string(data))
	require.Equal(0, c.Queue().Len())
	require.Equal(0, c.Manifest().Len())
}

func TestOpenForReadNotFound(t *testing.T) {
	require := require.New(t)

	c := newTestCache(t, newDirs(t), Config{})

	_, err := c.OpenForRead("missing.txt")
	require.ErrorIs(err, ErrNotFound)

	_, err = c.ReadWholeFile("missing.txt")
	require.ErrorIs(err, ErrNotFound)

	_, err = c.OpenForRead("../etc/passwd")
	require.ErrorIs(err, ErrInvalidName)
}

func TestManifestReadDoesNotQueue(t *testing.T) {
	require := require.New(t)

	d := newDirs(t)
	writeFile(t, filepath.Join(d.cache, ManifestName), "{}")

	c := newTestCache(t, d, Config{})

	_, err := c.ReadWholeFile(ManifestName)
	require.NoError(err)
	require.Equal(0, c.Queue().Len())
}

func TestOpenForWriteHashes(t *testing.T) {
	require := require.New(t)

	d := newDirs(t)
	c := newTestCache(t, d, Config{})

	f, err := c.OpenForWrite("history/console.txt")
	require.NoError(err)
	require.Equal(int64(1), c.NumOpenFiles())

	_, err = f.Write([]byte("bind x quit\n"))
	require.NoError(err)

	// not visible until closed
	_, err = os.Stat(filepath.Join(d.cache, "history", "console.txt"))
	require.True(os.IsNotExist(err))

	require.NoError(f.Close())
	require.Equal(int64(0), c.NumOpenFiles())

	require.Equal("bind x quit\n", readFile(t, filepath.Join(d.cache, "history", "console.txt")))
	tmps, err := filepath.Glob(filepath.Join(d.cache, "history", "*"+tmpSuffix))
	require.NoError(err)
	require.Empty(tmps)

	e := c.Manifest().Get("history/console.txt")
	require.Equal(LocalURL, e.URL)
	require.Equal(md5Hex("bind x quit\n"), e.MD5)

	require.ErrorIs(f.Close(), os.ErrClosed)
}

func TestConcurrentWritersDoNotShareTemp(t *testing.T) {
	require := require.New(t)

	d := newDirs(t)
	c := newTestCache(t, d, Config{})

	w1, err := c.OpenForWrite("a.txt")
	require.NoError(err)
	_, err = w1.Write([]byte("AAAAAAAA"))
	require.NoError(err)

	w2, err := c.OpenForWrite("a.txt")
	require.NoError(err)
	_, err = w2.Write([]byte("BB"))
	require.NoError(err)

	_, err = w1.Write([]byte("CCCC"))
	require.NoError(err)

	require.NoError(w1.Close())
	require.NoError(w2.Close())

	require.Equal("BB", readFile(t, filepath.Join(d.cache, "a.txt")))
	require.Equal(md5Hex("BB"), c.Manifest().Get("a.txt").MD5)

	tmps, err := filepath.Glob(filepath.Join(d.cache, "*"+tmpSuffix))
	require.NoError(err)
	require.Empty(tmps)
}

func TestOpenForWriteResetsEntry(t *testing.T) {
	require := require.New(t)

	c := newTestCache(t, newDirs(t), Config{})
	c.Manifest().Set("a.txt", Entry{URL: "http://m", ETag: "abc", LastTry: 42})

	f, err := c.OpenForWrite("a.txt")
	require.NoError(err)
	require.Equal(Entry{URL: LocalURL}, c.Manifest().Get("a.txt"))
	require.NoError(f.Close())

	require.Equal(Entry{URL: LocalURL, MD5: ZeroMD5}, c.Manifest().Get("a.txt"))
}

func TestWriteManifestFileIsNotTracked(t *testing.T) {
	require := require.New(t)

	c := newTestCache(t, newDirs(t), Config{})

	f, err := c.OpenForWrite(ManifestName)
	require.NoError(err)
	_, err = f.Write([]byte("{}"))
	require.NoError(err)
	require.NoError(f.Close())

	require.False(c.Manifest().Has(ManifestName))
}

func TestDelete(t *testing.T) {
	require := require.New(t)

	d := newDirs(t)
	writeFile(t, filepath.Join(d.base, "a.txt"), "base")
	writeFile(t, filepath.Join(d.cache, "a.txt"), "cache")

	c := newTestCache(t, d, Config{})

	require.NoError(c.Delete("a.txt"))
	_, err := os.Stat(filepath.Join(d.cache, "a.txt"))
	require.True(os.IsNotExist(err))
	require.Equal("base", readAll(t, c, "a.txt"))

	require.NoError(c.Delete("a.txt"))
	require.ErrorIs(c.Delete("a.txt"), ErrNotFound)
	require.Equal(int64(0), c.NumOpenFiles())
}

type fakeMaterializer struct {
	files map[string]string
	calls int
}

func (m *fakeMaterializer) Materialize(name, dir string) error {
	m.calls++
	content, ok := m.files[name]
	if !ok {
		return os.ErrNotExist
	}
	p := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	return os.WriteFile(p, []byte(content), 0644)
}

func TestMaterializerFallback(t *testing.T) {
	require := require.New(t)

	d := newDirs(t)
	m := &fakeMaterializer{files: map[string]string{"models/cube.obj": "v 0 0 0"}}
	c := newTestCache(t, d, Config{}, WithMaterializer(m))
	calls := m.calls

	require.Equal("v 0 0 0", readAll(t, c, "models/cube.obj"))
	_, err := os.Stat(filepath.Join(d.base, "models", "cube.obj"))
	require.True(os.IsNotExist(err))

	_, err = c.OpenForRead("models/none.obj")
	require.ErrorIs(err, ErrNotFound)
	require.Equal(calls+2, m.calls)
}

func TestCleanName(t *testing.T) {
	require := require.New(t)

	for in, want := range map[string]string{
		"a.txt":         "a.txt",
		`dir\sub\a.txt`: "dir/sub/a.txt",
		"dir//./a.txt":  "dir/a.txt",
	} {
		got, err := CleanName(in)
		require.NoError(err, in)
		require.Equal(want, got, in)
	}

	for _, in := range []string{"", "/abs", `\abs`, "../up", "a/../../b", ".", "a/.."} {
		_, err := CleanName(in)
		require.ErrorIs(err, ErrInvalidName, in)
	}
}

func TestNewLocatesBase(t *testing.T) {
	require := require.New(t)

	root := t.TempDir()
	require.NoError(os.MkdirAll(filepath.Join(root, "base"), 0755))
	deep := filepath.Join(root, "a", "b", "c")
	require.NoError(os.MkdirAll(deep, 0755))

	found, err := FindDirectory(deep, "base", 10)
	require.NoError(err)
	require.Equal(filepath.Join(root, "base"), found)

	_, err = FindDirectory(deep, "base", 1)
	require.ErrorIs(err, os.ErrNotExist)

	wd, err := os.Getwd()
	require.NoError(err)
	require.NoError(os.Chdir(deep))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	c, err := New(context.Background(), Config{})
	require.NoError(err)
	defer c.Shutdown()

	require.Equal(filepath.Join(root, "base"), c.BasePath())
	require.Equal(filepath.Join(root, "cache"), c.CachePath())
	fi, err := os.Stat(c.CachePath())
	require.NoError(err)
	require.True(fi.IsDir())
}

func TestNewInitErrors(t *testing.T) {
	require := require.New(t)

	root := t.TempDir()

	_, err := New(context.Background(), Config{BasePath: filepath.Join(root, "nope")})
	var ie *InitError
	require.ErrorAs(err, &ie)
	require.Equal("open base directory", ie.Op)

	base := filepath.Join(root, "base")
	require.NoError(os.MkdirAll(base, 0755))
	blocker := filepath.Join(root, "file")
	writeFile(t, blocker, "x")

	_, err = New(context.Background(), Config{BasePath: base, CachePath: filepath.Join(blocker, "cache")})
	require.ErrorAs(err, &ie)
	require.Equal("create cache directory", ie.Op)

	_, err = New(context.Background(), Config{BasePath: base, CachePath: filepath.Join(root, "c"), ManifestBackend: "sqlite"})
	require.ErrorAs(err, &ie)
	require.Equal("select manifest backend", ie.Op)
}

func TestShutdownSavesManifest(t *testing.T) {
	require := require.New(t)

	d := newDirs(t)
	c, err := New(context.Background(), Config{BasePath: d.base, CachePath: d.cache})
	require.NoError(err)

	c.Manifest().Set("a.txt", Entry{URL: "http://m", MD5: md5Hex("a"), LastTry: 10})
	require.NoError(c.Shutdown())
	require.NoError(c.Shutdown())

	_, err = c.OpenForWrite("b.txt")
	require.ErrorIs(err, ErrClosed)
	_, err = c.Refresh(context.Background(), "a.txt")
	require.ErrorIs(err, ErrClosed)

	loaded, err := decodeManifest([]byte(readFile(t, filepath.Join(d.cache, ManifestName))))
	require.NoError(err)
	require.Equal(map[string]Entry{"a.txt": {URL: "http://m", MD5: md5Hex("a"), LastTry: 10}}, loaded)
}

func TestRegisterConsole(t *testing.T) {
	require := require.New(t)

	d := newDirs(t)
	c := newTestCache(t, d, Config{NetPath: "http://a/;http://b"})

	r := console.NewRegistry()
	c.RegisterConsole(r)

	vars := r.Vars()
	require.Equal(c.BasePath(), vars["f_basePath"])
	require.Equal(c.CachePath(), vars["f_cachePath"])
	require.Equal("http://a/;http://b", vars["f_netPath"])
	require.Equal("false", vars["f_cacheUpdated"])
	require.Equal("0", vars["f_numOpenFiles"])

	c.Manifest().Set("x.txt", Entry{URL: LocalURL})
	_, err := r.Exec("writecachemanifest")
	require.NoError(err)
	require.FileExists(filepath.Join(d.cache, ManifestName))

	_, err = r.Exec("refreshcache")
	require.NoError(err)
	require.True(c.Queue().Contains("x.txt"))

	_, err = r.Exec("tickfilesystem")
	require.NoError(err)
}

func TestShortReadError(t *testing.T) {
	var err error = &ShortReadError{Name: "a", Want: 10, Got: 3}
	var se *ShortReadError
	require.True(t, errors.As(err, &se))
	require.Equal(t, `short read on "a": got 3 of 10 bytes`, err.Error())
}

// shrunkFile reports a larger size than it can deliver.
type shrunkFile struct {
	*fs.OSFile
	size int64
}

func (f *shrunkFile) Size() int64 { return f.size }

func TestReadWholeShortRead(t *testing.T) {
	require := require.New(t)

	p := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, p, "abc")
	of, err := fs.Open(p)
	require.NoError(err)
	defer of.Close()

	_, err = readWhole("a.txt", &shrunkFile{OSFile: of, size: 10})
	var se *ShortReadError
	require.ErrorAs(err, &se)
	require.Equal(int64(10), se.Want)
	require.Equal(int64(3), se.Got)
}
