package fs

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/nwaples/rardecode/v2"
)

// Materializer produces a missing asset inside dir, typically by unpacking it
// from a bundle shipped next to the application.
type Materializer interface {
	Materialize(name, dir string) error
}

// Extractor copies the archive member called name into w. It returns
// os.ErrNotExist when the archive has no such member.
type Extractor func(archive, name string, w io.Writer) error

var SupportedArchives = map[string]Extractor{
	".zip": extractZip,
	".7z":  extractSevenZip,
	".rar": extractRar,
}

var _ Materializer = &Archive{}

// Archive materializes files out of a zip, 7z or rar bundle.
type Archive struct {
	path    string
	extract Extractor
}

func NewArchive(path string) (*Archive, error) {
	ext := strings.ToLower(filepath.Ext(path))
	e, ok := SupportedArchives[ext]
	if !ok {
		return nil, fmt.Errorf("unsupported bundle archive %q", path)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("error opening bundle archive: %w", err)
	}

	return &Archive{path: path, extract: e}, nil
}

func (a *Archive) Path() string {
	return a.path
}

// Materialize extracts name into dir/name, replacing any previous copy.
func (a *Archive) Materialize(name, dir string) error {
	name = Clean(name)
	dst := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	tmp := dst + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	err = a.extract(a.path, name, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}

	return nil
}

func extractZip(archive, name string, w io.Writer) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		if f.FileInfo().IsDir() || Clean(f.Name) != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		_, err = io.Copy(w, rc)
		rc.Close()
		return err
	}

	return os.ErrNotExist
}

func extractSevenZip(archive, name string, w io.Writer) error {
	r, err := sevenzip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		if f.FileInfo().IsDir() || Clean(f.Name) != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		_, err = io.Copy(w, rc)
		rc.Close()
		return err
	}

	return os.ErrNotExist
}

func extractRar(archive, name string, w io.Writer) error {
	r, err := rardecode.OpenReader(archive)
	if err != nil {
		return err
	}
	defer r.Close()

	for {
		h, err := r.Next()
		if errors.Is(err, io.EOF) {
			return os.ErrNotExist
		}
		if err != nil {
			return err
		}
		if h.IsDir || Clean(h.Name) != name {
			continue
		}
		_, err = io.Copy(w, r)
		return err
	}
}
