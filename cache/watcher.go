package cache

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-hashes files changed in the cache directory by other programs,
// so the manifest md5 follows the content on disk.
type Watcher struct {
	c        *Cache
	w        *fsnotify.Watcher
	interval time.Duration

	mu    sync.Mutex
	dirty map[string]struct{}

	stop chan struct{}
	wg   sync.WaitGroup
}

func newWatcher(c *Cache, interval time.Duration) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		c:        c,
		w:        w,
		interval: interval,
		dirty:    make(map[string]struct{}),
		stop:     make(chan struct{}),
	}, nil
}

func (cw *Watcher) Start() error {
	root := cw.c.cachePath

	// Add all existing subdirectories
	if err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if info.Name() == ManifestDBName {
			return filepath.SkipDir
		}
		return cw.w.Add(p)
	}); err != nil {
		return err
	}

	cw.wg.Add(2)
	go cw.watch()
	go cw.flushLoop()

	cw.c.log.Info().Str("folder", root).Msg("cache directory watcher started")
	return nil
}

func (cw *Watcher) watch() {
	defer cw.wg.Done()
	for {
		select {
		case event, ok := <-cw.w.Events:
			if !ok {
				return
			}
			cw.handle(event)
		case err, ok := <-cw.w.Errors:
			if !ok {
				return
			}
			cw.c.log.Error().Err(err).Str("folder", cw.c.cachePath).Msg("watcher error")
		case <-cw.stop:
			return
		}
	}
}

func (cw *Watcher) handle(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	// Add newly created directories to watcher
	if event.Op&fsnotify.Create == fsnotify.Create {
		fi, err := os.Stat(event.Name)
		if err == nil && fi.IsDir() {
			if fi.Name() != ManifestDBName {
				_ = cw.w.Add(event.Name)
			}
			return
		}
	}

	name, ok := cw.name(event.Name)
	if !ok {
		return
	}

	cw.mu.Lock()
	cw.dirty[name] = struct{}{}
	cw.mu.Unlock()
}

// name maps a path inside the cache directory to its logical name. Temp
// files, the manifest and the manifest database are ignored.
func (cw *Watcher) name(p string) (string, bool) {
	rel, err := filepath.Rel(cw.c.cachePath, p)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)

	if strings.HasSuffix(rel, tmpSuffix) || rel == ManifestName ||
		rel == ManifestDBName || strings.HasPrefix(rel, ManifestDBName+"/") {
		return "", false
	}

	n, err := CleanName(rel)
	if err != nil {
		return "", false
	}
	return n, true
}

func (cw *Watcher) flushLoop() {
	defer cw.wg.Done()

	t := time.NewTicker(cw.interval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			cw.Flush()
		case <-cw.stop:
			return
		}
	}
}

// Flush re-hashes every file changed since the last flush and returns how
// many were updated.
func (cw *Watcher) Flush() int {
	cw.mu.Lock()
	names := make([]string, 0, len(cw.dirty))
	for n := range cw.dirty {
		names = append(names, n)
	}
	cw.dirty = make(map[string]struct{})
	cw.mu.Unlock()

	var updated int
	for _, n := range names {
		if err := cw.c.rehash(n); err != nil {
			cw.c.log.Debug().Err(err).Str("file", n).Msg("could not re-hash changed file")
			continue
		}
		updated++
	}

	if updated > 0 {
		cw.c.log.Debug().Int("files", updated).Msg("re-hashed changed files")
	}
	return updated
}

func (cw *Watcher) Close() error {
	close(cw.stop)
	err := cw.w.Close()
	cw.wg.Wait()
	return err
}
