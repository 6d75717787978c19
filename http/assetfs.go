package http

import (
	"errors"
	iofs "io/fs"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/jkaberg/netcache/cache"
	"github.com/jkaberg/netcache/fs"
)

var _ http.FileSystem = &AssetFS{}

// AssetFS serves assets through the cache resolver, so every hit goes
// through the same cache, base and bundle precedence as OpenForRead.
// Directories are not listed.
type AssetFS struct {
	c *cache.Cache
}

func NewAssetFS(c *cache.Cache) *AssetFS {
	return &AssetFS{c: c}
}

func (afs *AssetFS) Open(name string) (http.File, error) {
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		return nil, os.ErrNotExist
	}

	f, err := afs.c.OpenForRead(name)
	if errors.Is(err, cache.ErrNotFound) || errors.Is(err, cache.ErrInvalidName) {
		return nil, os.ErrNotExist
	}
	if err != nil {
		return nil, err
	}

	return &httpFile{
		File: f,
		fi: &fileInfo{
			name:    path.Base(name),
			size:    f.Size(),
			modTime: f.ModTime(),
		},
	}, nil
}

var _ http.File = &httpFile{}

type httpFile struct {
	fs.File
	fi iofs.FileInfo
}

func (f *httpFile) Readdir(count int) ([]iofs.FileInfo, error) {
	return nil, os.ErrInvalid
}

func (f *httpFile) Stat() (iofs.FileInfo, error) {
	return f.fi, nil
}

var _ iofs.FileInfo = &fileInfo{}

type fileInfo struct {
	name    string
	size    int64
	modTime time.Time
}

func (fi *fileInfo) Name() string { return fi.name }
func (fi *fileInfo) Size() int64 { return fi.size }
func (fi *fileInfo) Mode() iofs.FileMode { return 0444 }
func (fi *fileInfo) ModTime() time.Time { return fi.modTime }
func (fi *fileInfo) IsDir() bool { return false }
func (fi *fileInfo) Sys() interface{} { return nil }
