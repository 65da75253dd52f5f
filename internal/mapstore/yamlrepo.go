package mapstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/docflowhq/docflow/internal/types"
)

// YAMLRepository serves mapping definitions from a directory of YAML files,
// one mapping per file. Files are parsed eagerly at load and hot-reloaded on
// change via fsnotify, so a long-running host picks up edits without a
// restart. Local-mode lastValue updates rewrite the owning file atomically
// (temp file + rename).
type YAMLRepository struct {
	dir    string
	logger *zap.Logger

	mu       sync.RWMutex
	mappings map[string]*types.Mapping // id → mapping
	files    map[string]string         // id → file path

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewYAMLRepository loads every *.yaml / *.yml file in dir.
func NewYAMLRepository(dir string, logger *zap.Logger) (*YAMLRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &YAMLRepository{
		dir:      dir,
		logger:   logger.Named("mapstore"),
		mappings: make(map[string]*types.Mapping),
		files:    make(map[string]string),
	}
	if err := r.loadAll(); err != nil {
		return nil, err
	}
	return r, nil
}

// Watch starts hot reloading until Close is called. Safe to skip for
// one-shot CLI use.
func (r *YAMLRepository) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("mapstore: watcher: %w", err)
	}
	if err := watcher.Add(r.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("mapstore: watch %s: %w", r.dir, err)
	}
	r.watcher = watcher
	r.done = make(chan struct{})

	go func() {
		for {
			select {
			case <-r.done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isYAML(event.Name) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					r.logger.Info("mapping directory changed, reloading",
						zap.String("file", filepath.Base(event.Name)))
					if err := r.loadAll(); err != nil {
						r.logger.Warn("mapping reload failed", zap.Error(err))
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("mapping watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// Close stops the watcher.
func (r *YAMLRepository) Close() error {
	if r.watcher != nil {
		close(r.done)
		return r.watcher.Close()
	}
	return nil
}

func (r *YAMLRepository) loadAll() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("mapstore: read %s: %w", r.dir, err)
	}

	mappings := make(map[string]*types.Mapping)
	files := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		path := filepath.Join(r.dir, entry.Name())
		m, err := loadMappingFile(path)
		if err != nil {
			r.logger.Warn("skipping unreadable mapping file",
				zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		mappings[m.ID] = m
		files[m.ID] = path
	}

	r.mu.Lock()
	r.mappings = mappings
	r.files = files
	r.mu.Unlock()
	return nil
}

func loadMappingFile(path string) (*types.Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m types.Mapping
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if m.ID == "" {
		m.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *YAMLRepository) FindMapping(ctx context.Context, id string) (*types.Mapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.mappings[id]; ok {
		return m, nil
	}
	for _, m := range r.mappings {
		if m.Name == id {
			return m, nil
		}
	}
	return nil, fmt.Errorf("mapstore: mapping %q: %w", id, ErrNotFound)
}

func (r *YAMLRepository) ListMappings(ctx context.Context) ([]*types.Mapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.Mapping, 0, len(r.mappings))
	for _, m := range r.mappings {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateLastConsecutive applies the strictly-greater rule under the
// repository lock and rewrites the mapping file atomically.
func (r *YAMLRepository) UpdateLastConsecutive(ctx context.Context, id string, newValue int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.mappings[id]
	if !ok {
		return false, fmt.Errorf("mapstore: mapping %q: %w", id, ErrNotFound)
	}
	if newValue <= m.Consecutive.LastValue {
		return false, nil
	}
	m.Consecutive.LastValue = newValue

	path := r.files[id]
	data, err := yaml.Marshal(m)
	if err != nil {
		return false, fmt.Errorf("mapstore: encode mapping %s: %w", id, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return false, fmt.Errorf("mapstore: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return false, fmt.Errorf("mapstore: replace %s: %w", path, err)
	}
	return true, nil
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
