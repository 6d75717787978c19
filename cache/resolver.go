package cache

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jkaberg/netcache/fs"
	"github.com/jkaberg/netcache/metrics"
)

const tmpSuffix = ".tmp"

// CleanName normalizes a logical file name. Backslashes become slashes;
// absolute names and names escaping the root are rejected.
func CleanName(name string) (string, error) {
	n := strings.ReplaceAll(name, "\\", "/")
	if n == "" || strings.HasPrefix(n, "/") || filepath.IsAbs(n) || filepath.VolumeName(n) != "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	for _, seg := range strings.Split(n, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}

	n = path.Clean(n)
	if n == "." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return n, nil
}

func (c *Cache) cacheFile(name string) string {
	return filepath.Join(c.cachePath, filepath.FromSlash(name))
}

func (c *Cache) baseFile(name string) string {
	return filepath.Join(c.basePath, filepath.FromSlash(name))
}

// OpenForRead opens name from the cache directory, then from the base
// directory, then from the materializer if one is configured. A cache hit
// schedules a background refresh of the file.
func (c *Cache) OpenForRead(name string) (fs.File, error) {
	n, err := CleanName(name)
	if err != nil {
		return nil, err
	}

	if f, err := c.openPrivate(n); err == nil {
		if n != ManifestName && c.queue.Push(n, c.now().Add(c.cfg.FetchDelay)) {
			c.wake()
		}
		metrics.RecordRead(metrics.SourceCache)
		return f, nil
	}

	if f, err := c.openBase(n); err == nil {
		metrics.RecordRead(metrics.SourceBase)
		return f, nil
	}

	if c.materializer != nil {
		if f, err := c.materialize(n); err == nil {
			metrics.RecordRead(metrics.SourceMaterialized)
			return f, nil
		}
	}

	metrics.RecordRead(metrics.SourceMissing)
	return nil, fmt.Errorf("%w: %s", ErrNotFound, n)
}

// openPrivate opens name from the cache directory without scheduling a
// refresh.
func (c *Cache) openPrivate(name string) (fs.File, error) {
	if c.cachePath == "" {
		return nil, ErrNotFound
	}
	f, err := fs.Open(c.cacheFile(name))
	if err != nil {
		return nil, err
	}
	return c.track(f, nil), nil
}

func (c *Cache) openBase(name string) (fs.File, error) {
	if c.basePath == "" {
		return nil, ErrNotFound
	}
	f, err := fs.Open(c.baseFile(name))
	if err != nil {
		return nil, err
	}
	return c.track(f, nil), nil
}

// materialize produces name inside the base directory and opens it. The
// produced file is removed again when the handle is closed.
func (c *Cache) materialize(name string) (fs.File, error) {
	if err := c.materializer.Materialize(name, c.basePath); err != nil {
		c.log.Debug().Err(err).Str("file", name).Msg("materializer could not produce file")
		return nil, err
	}

	p := c.baseFile(name)
	f, err := fs.Open(p)
	if err != nil {
		return nil, err
	}

	return c.track(f, func() error {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}), nil
}

// OpenForWrite creates or replaces name in the cache directory. The content
// becomes visible on Close, when the file's md5 is recorded in the manifest.
// The manifest entry is reset to a local one.
func (c *Cache) OpenForWrite(name string) (fs.File, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	n, err := CleanName(name)
	if err != nil {
		return nil, err
	}

	if n == ManifestName {
		return c.openForWrite(n, nil, false)
	}
	entry := Entry{URL: LocalURL}
	return c.openForWrite(n, &entry, true)
}

// openForWrite resets the manifest entry of name to entry, unless it is
// nil, and recomputes the md5 after Close when hash is set.
func (c *Cache) openForWrite(name string, entry *Entry, hash bool) (fs.File, error) {
	if c.cachePath == "" {
		return nil, fmt.Errorf("%w: no cache directory", ErrNotFound)
	}

	p := c.cacheFile(name)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, name, err)
	}

	// every writer gets its own temp file; the last Close wins
	f, err := fs.CreateTemp(filepath.Dir(p), filepath.Base(p)+".*"+tmpSuffix)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, name, err)
	}
	tmp := f.Name()

	if entry != nil {
		c.manifest.Set(name, *entry)
	}

	return c.track(f, func() error {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()

		if err := os.Rename(tmp, p); err != nil {
			_ = os.Remove(tmp)
			return err
		}
		metrics.RecordWrite()

		if hash {
			return c.rehash(name)
		}
		return nil
	}), nil
}

// writeInternal writes data to name without touching the manifest.
func (c *Cache) writeInternal(name string, data []byte) error {
	f, err := c.openForWrite(name, nil, false)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// rehash reads name back from the cache directory and records its md5.
func (c *Cache) rehash(name string) error {
	f, err := c.openPrivate(name)
	if err != nil {
		return err
	}
	defer f.Close()

	sum, err := digest(f)
	if err != nil {
		return err
	}

	c.manifest.Update(name, func(e *Entry) {
		e.MD5 = sum
	})
	return nil
}

func digest(r io.Reader) (string, error) {
	h := md5.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return ZeroMD5, nil
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Delete removes name from the cache directory or, when it is not cached,
// from the base directory.
func (c *Cache) Delete(name string) error {
	n, err := CleanName(name)
	if err != nil {
		return err
	}

	for _, open := range []func(string) (fs.File, error){c.openPrivate, c.openBase} {
		f, err := open(n)
		if err != nil {
			continue
		}
		p := f.Name()
		_ = f.Close()
		return os.Remove(p)
	}

	return fmt.Errorf("%w: %s", ErrNotFound, n)
}

// ReadWholeFile returns the content of name as served by OpenForRead.
func (c *Cache) ReadWholeFile(name string) ([]byte, error) {
	f, err := c.OpenForRead(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return readWhole(name, f)
}

// readWhole reads Size bytes from f. A file that yields fewer bytes, for
// instance one truncated while open, gives a *ShortReadError.
func readWhole(name string, f fs.File) ([]byte, error) {
	size := f.Size()
	buf := make([]byte, size)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if int64(n) != size {
		return nil, &ShortReadError{Name: name, Want: size, Got: int64(n)}
	}
	return buf, nil
}

// handle counts open files and runs a hook after the file is closed.
type handle struct {
	fs.File
	c       *Cache
	once    sync.Once
	onClose func() error
}

func (c *Cache) track(f fs.File, onClose func() error) fs.File {
	c.openFiles.Add(1)
	metrics.FileOpened()
	return &handle{File: f, c: c, onClose: onClose}
}

func (h *handle) Close() error {
	err := os.ErrClosed
	h.once.Do(func() {
		err = h.File.Close()
		h.c.openFiles.Add(-1)
		metrics.FileClosed()

		if h.onClose != nil {
			if herr := h.onClose(); err == nil {
				err = herr
			}
		}
	})
	return err
}
