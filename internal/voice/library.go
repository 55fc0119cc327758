package voice

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 500 * time.Millisecond

// Sample locates the reference audio for a voice.
type Sample struct {
	Path          string
	ReferenceText string
}

// Library resolves voice ids against the voices directory and an optional catalog.
type Library struct {
	dir         string
	catalogPath string

	mu      sync.RWMutex
	catalog *Catalog
	reloads atomic.Uint32
}

// NewLibrary creates a Library rooted at dir. When catalogPath is non-empty the
// catalog must load cleanly at startup.
func NewLibrary(dir, catalogPath string) (*Library, error) {
	lib := &Library{dir: dir, catalogPath: catalogPath}
	if catalogPath == "" {
		return lib, nil
	}

	catalog, err := LoadCatalog(catalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial voice catalog: %w", err)
	}
	lib.catalog = catalog
	return lib, nil
}

// Resolve returns where the sample for id should live. The file may not exist.
func (l *Library) Resolve(id int) Sample {
	l.mu.RLock()
	entry, ok := l.catalog.Lookup(id)
	l.mu.RUnlock()

	if !ok {
		return Sample{
			Path:          filepath.Join(l.dir, fmt.Sprintf("voice_%d.wav", id)),
			ReferenceText: DefaultReferenceText,
		}
	}

	path := entry.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.dir, path)
	}
	text := entry.ReferenceText
	if text == "" {
		text = DefaultReferenceText
	}
	return Sample{Path: path, ReferenceText: text}
}

// ReloadCount returns how many reloads have been attempted.
func (l *Library) ReloadCount() uint32 {
	return l.reloads.Load()
}

// Watch reloads the catalog whenever its file changes until ctx is done.
// It returns immediately when no catalog is configured.
func (l *Library) Watch(ctx context.Context) error {
	if l.catalogPath == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating catalog watcher: %w", err)
	}
	// Editors often replace the file, so watch the directory and filter by name.
	if err := watcher.Add(filepath.Dir(l.catalogPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("watching voice catalog: %w", err)
	}

	go l.watch(ctx, watcher)
	return nil
}

func (l *Library) watch(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	target := filepath.Clean(l.catalogPath)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, l.reload)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("voice catalog watcher error", "error", err)
		}
	}
}

// reload swaps in a freshly loaded catalog. A bad file leaves the previous one in place.
func (l *Library) reload() {
	count := l.reloads.Add(1)

	catalog, err := LoadCatalog(l.catalogPath)
	if err != nil {
		slog.Error("voice catalog reload failed, keeping previous catalog",
			"path", l.catalogPath,
			"count", count,
			"error", err,
		)
		return
	}

	l.mu.Lock()
	l.catalog = catalog
	l.mu.Unlock()

	slog.Info("voice catalog reloaded", "path", l.catalogPath, "voices", len(catalog.Voices), "count", count)
}
