package cache

import (
	"errors"
)

var _ manifestBackend = &jsonBackend{}

// jsonBackend keeps the manifest in CacheManifest.json. Reads go through the
// resolver so a copy shipped in the base directory seeds a fresh cache.
type jsonBackend struct {
	c *Cache
}

func (b *jsonBackend) load() (map[string]Entry, error) {
	data, err := b.c.ReadWholeFile(ManifestName)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return decodeManifest(data)
}

func (b *jsonBackend) save(entries map[string]Entry) error {
	if b.c.cachePath == "" {
		return nil
	}

	data, err := encodeManifest(entries)
	if err != nil {
		return err
	}

	return b.c.writeInternal(ManifestName, data)
}

func (b *jsonBackend) close() error {
	return nil
}
