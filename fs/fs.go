// Package fs holds the byte-oriented file abstraction used by the asset cache
// and the bundle-archive materializers that back the base directory.
package fs

import (
	"io"
	"path"
	"strings"
	"time"
)

const separator = "/"

// File is a random-access handle on an asset. Implementations are not safe
// for concurrent use.
type File interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer

	// Name is the path the handle was opened with.
	Name() string
	Tell() int64
	Size() int64
	// AtEnd reports whether the read position reached the end of the file.
	AtEnd() bool
	ModTime() time.Time
}

// Clean normalizes an asset name to a slash separated path relative to a
// root, without leading separator.
func Clean(p string) string {
	return strings.TrimPrefix(path.Clean(separator+strings.ReplaceAll(p, "\\", separator)), separator)
}
