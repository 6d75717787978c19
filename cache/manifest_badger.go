package cache

import (
	"strings"

	"github.com/dgraph-io/badger/v3"
	"github.com/rs/zerolog"

	dlog "github.com/jkaberg/netcache/log"
)

var _ manifestBackend = &badgerBackend{}

const manifestRootKey = "/manifest/"

// ManifestDBName is the badger directory, inside the cache directory, used
// by the badger backend.
const ManifestDBName = ".manifestdb"

type badgerBackend struct {
	db *badger.DB
}

func newBadgerBackend(path string, l zerolog.Logger) (*badgerBackend, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(&dlog.Badger{L: l}).
		WithValueLogFileSize(1<<26 - 1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	err = db.RunValueLogGC(0.5)
	if err != nil && err != badger.ErrNoRewrite {
		_ = db.Close()
		return nil, err
	}

	return &badgerBackend{db: db}, nil
}

func (b *badgerBackend) load() (map[string]Entry, error) {
	tx := b.db.NewTransaction(false)
	defer tx.Discard()

	it := tx.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	prefix := []byte(manifestRootKey)
	out := make(map[string]Entry)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		i := it.Item()
		name := strings.TrimPrefix(string(i.Key()), manifestRootKey)
		if err := i.Value(func(v []byte) error {
			if e, ok := decodeEntry(v); ok {
				out[name] = e
			}
			return nil
		}); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// save replaces the whole key set in a single transaction.
func (b *badgerBackend) save(entries map[string]Entry) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)

		prefix := []byte(manifestRootKey)
		var stale [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			name := strings.TrimPrefix(string(it.Item().Key()), manifestRootKey)
			if _, ok := entries[name]; !ok {
				stale = append(stale, it.Item().KeyCopy(nil))
			}
		}
		it.Close()

		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}

		for name, e := range entries {
			v, err := encodeEntry(e)
			if err != nil {
				return err
			}
			if err := txn.Set([]byte(manifestRootKey+name), v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return b.db.Sync()
}

func (b *badgerBackend) close() error {
	return b.db.Close()
}
