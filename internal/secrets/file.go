package secrets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const defaultReloadDebounce = 100 * time.Millisecond

// fileContents is the on-disk layout:
//
//	sources:
//	  stripe: whsec_...
//	  shopify: ...
type fileContents struct {
	Sources map[string]string `yaml:"sources"`
}

// File resolves secrets from a YAML file. Watch reloads the whole map when the
// file changes; a failed reload keeps the previous map.
type File struct {
	path string

	mu      sync.RWMutex
	secrets map[string]string

	debounce time.Duration
}

// NewFile loads path and returns a resolver over its contents.
func NewFile(path string) (*File, error) {
	f := &File{path: path, debounce: defaultReloadDebounce}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// SecretFor implements Resolver.
func (f *File) SecretFor(src string) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return lookup(f.secrets, src)
}

// Reload re-reads the file.
func (f *File) Reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("reading secrets file: %w", err)
	}

	var contents fileContents
	if err := yaml.Unmarshal(data, &contents); err != nil {
		return fmt.Errorf("parsing secrets file: %w", err)
	}

	secrets := normalizeKeys(contents.Sources)

	f.mu.Lock()
	f.secrets = secrets
	f.mu.Unlock()

	return nil
}

// Len returns the number of loaded sources.
func (f *File) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.secrets)
}

// Watch reloads the file whenever it is written or replaced, until ctx is
// cancelled. The parent directory is watched so editors that rename over the
// file are picked up.
func (f *File) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(f.path), err)
	}

	go f.watchLoop(ctx, watcher)
	return nil
}

func (f *File) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	target := filepath.Clean(f.path)
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
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(f.debounce, func() {
				if err := f.Reload(); err != nil {
					log.Warn().Err(err).Str("path", f.path).Msg("Failed to reload secrets file, keeping previous secrets")
					return
				}
				log.Info().Str("path", f.path).Int("sources", f.Len()).Msg("Secrets file reloaded")
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Str("path", f.path).Msg("Secrets watcher error")
		}
	}
}
