package fs

import (
	"errors"
	"io"
	"os"
	"time"
)

var _ File = &OSFile{}

// OSFile is a File backed by an *os.File.
type OSFile struct {
	f   *os.File
	eof bool
}

// ErrIsDir is returned when opening a directory as a file.
var ErrIsDir = errors.New("is a directory")

// Open opens path for reading. Directories are refused.
func Open(path string) (*OSFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err == nil && fi.IsDir() {
		err = &os.PathError{Op: "open", Path: path, Err: ErrIsDir}
	}
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &OSFile{f: f}, nil
}

// Create creates or truncates path for reading and writing.
func Create(path string) (*OSFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	return &OSFile{f: f}, nil
}

// CreateTemp creates a new file in dir, see os.CreateTemp for pattern.
func CreateTemp(dir, pattern string) (*OSFile, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, err
	}
	return &OSFile{f: f}, nil
}

func (f *OSFile) Name() string {
	return f.f.Name()
}

func (f *OSFile) Read(p []byte) (int, error) {
	n, err := f.f.Read(p)
	if errors.Is(err, io.EOF) {
		f.eof = true
	}
	return n, err
}

func (f *OSFile) Write(p []byte) (int, error) {
	return f.f.Write(p)
}

func (f *OSFile) Seek(offset int64, whence int) (int64, error) {
	f.eof = false
	return f.f.Seek(offset, whence)
}

func (f *OSFile) Tell() int64 {
	off, err := f.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0
	}
	return off
}

func (f *OSFile) Size() int64 {
	fi, err := f.f.Stat()
	if err != nil {
		return 0
	}
	return fi.Size()
}

func (f *OSFile) AtEnd() bool {
	return f.eof || f.Tell() >= f.Size()
}

func (f *OSFile) ModTime() time.Time {
	fi, err := f.f.Stat()
	if err != nil {
		return time.Time{}
	}
	return fi.ModTime()
}

func (f *OSFile) Close() error {
	return f.f.Close()
}
