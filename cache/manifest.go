package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jkaberg/netcache/metrics"
)

const (
	// ManifestName is the file, relative to the cache directory, the json
	// backend keeps the manifest in. It never gets an entry of its own.
	ManifestName = "CacheManifest.json"

	// LocalURL marks files authored locally. They are never refreshed.
	LocalURL = "local"

	// ZeroMD5 stands for empty or unknown content.
	ZeroMD5 = "00000000000000000000000000000000"
)

// Entry is the provenance recorded for one cached file.
type Entry struct {
	URL          string `json:"url,omitempty"`
	MD5          string `json:"md5,omitempty"`
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"Last-Modified,omitempty"`
	// LastTry is the unix time of the last fetch attempt.
	LastTry int64 `json:"lastTry,omitempty"`
	// MaxAge is the mirror's Cache-Control max-age in seconds. It extends
	// the refresh backoff of the file.
	MaxAge int64 `json:"maxAge,omitempty"`
}

func (e Entry) IsLocal() bool {
	return e.URL == LocalURL
}

type manifestBackend interface {
	load() (map[string]Entry, error)
	save(entries map[string]Entry) error
	close() error
}

// Manifest maps file names to their Entry. It shares its mutex with the
// fetch queue.
type Manifest struct {
	mu      *sync.Mutex
	entries map[string]Entry
	backend manifestBackend
	log     zerolog.Logger
}

func newManifest(mu *sync.Mutex, backend manifestBackend, l zerolog.Logger) *Manifest {
	return &Manifest{
		mu:      mu,
		entries: make(map[string]Entry),
		backend: backend,
		log:     l,
	}
}

// Get returns the entry for name, or a zero Entry when there is none.
func (m *Manifest) Get(name string) Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[name]
}

func (m *Manifest) Has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[name]
	return ok
}

func (m *Manifest) Set(name string, e Entry) {
	m.mu.Lock()
	m.entries[name] = e
	n := len(m.entries)
	m.mu.Unlock()

	metrics.SetManifestEntries(n)
}

// Update applies fn to the entry of name under the lock, creating the entry
// when missing.
func (m *Manifest) Update(name string, fn func(e *Entry)) Entry {
	m.mu.Lock()
	e := m.entries[name]
	fn(&e)
	m.entries[name] = e
	n := len(m.entries)
	m.mu.Unlock()

	metrics.SetManifestEntries(n)
	return e
}

func (m *Manifest) Delete(name string) {
	m.mu.Lock()
	delete(m.entries, name)
	n := len(m.entries)
	m.mu.Unlock()

	metrics.SetManifestEntries(n)
}

// Names returns every tracked file name, sorted.
func (m *Manifest) Names() []string {
	m.mu.Lock()
	out := make([]string, 0, len(m.entries))
	for n := range m.entries {
		out = append(out, n)
	}
	m.mu.Unlock()

	sort.Strings(out)
	return out
}

// Snapshot copies the whole map, so it can be used without holding the lock.
func (m *Manifest) Snapshot() map[string]Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Entry, len(m.entries))
	for n, e := range m.entries {
		out[n] = e
	}
	return out
}

func (m *Manifest) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Load replaces the in-memory entries with the persisted ones. On failure
// the manifest starts empty.
func (m *Manifest) Load() error {
	entries, err := m.backend.load()
	if err != nil {
		entries = nil
	}

	m.mu.Lock()
	m.entries = make(map[string]Entry, len(entries))
	for n, e := range entries {
		if n == ManifestName {
			continue
		}
		m.entries[n] = e
	}
	n := len(m.entries)
	m.mu.Unlock()

	metrics.SetManifestEntries(n)

	if err != nil {
		return err
	}

	m.log.Debug().Int("entries", n).Msg("cache manifest loaded")
	return nil
}

// Save persists a snapshot of the entries.
func (m *Manifest) Save() error {
	if err := m.backend.save(m.Snapshot()); err != nil {
		m.log.Error().Err(err).Msg("error saving cache manifest")
		return err
	}
	return nil
}

func (m *Manifest) close() error {
	return m.backend.close()
}

func encodeEntry(e Entry) ([]byte, error) {
	return json.Marshal(e)
}

// decodeEntry fills in every well typed field of raw. Fields of the wrong
// type are left at their zero value. ok is false when raw is not an object.
func decodeEntry(raw []byte) (e Entry, ok bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return Entry{}, false
	}

	err := json.Unmarshal(raw, &e)
	var typeErr *json.UnmarshalTypeError
	if err != nil && !errors.As(err, &typeErr) {
		return Entry{}, false
	}
	return e, true
}

// encodeManifest writes the CacheManifest.json document. Keys are sorted.
func encodeManifest(entries map[string]Entry) ([]byte, error) {
	return json.MarshalIndent(entries, "", "  ")
}

func decodeManifest(data []byte) (map[string]Entry, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	out := make(map[string]Entry, len(raw))
	for n, v := range raw {
		e, ok := decodeEntry(v)
		if !ok {
			continue
		}
		out[n] = e
	}
	return out, nil
}
