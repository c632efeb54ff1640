package settings

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// StaticFile is the operator-managed layer between the dynamic store and the
// hardcoded defaults. It is a YAML document:
//
//	settings:
//	  rate_limit_per_minute: 120
//	  ban_tiers: [1m, 5m, 15m, 1h]
//	  cost_daily_limit: "75.00"
type StaticFile struct {
	path   string
	logger *slog.Logger

	mu     sync.RWMutex
	values map[string]string
}

type staticDocument struct {
	Settings map[string]yaml.Node `yaml:"settings"`
}

// LoadStaticFile reads path once. Call Watch to follow later edits.
func LoadStaticFile(path string, logger *slog.Logger) (*StaticFile, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f := &StaticFile{path: path, logger: logger}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// NewStaticValues builds an in-memory static layer. Used by tests and by
// deployments without a settings file.
func NewStaticValues(values map[string]string) *StaticFile {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &StaticFile{values: copied, logger: slog.Default()}
}

// Path returns the watched file, empty for in-memory layers.
func (f *StaticFile) Path() string {
	return f.path
}

// Values returns a copy of the raw layer.
func (f *StaticFile) Values() map[string]string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]string, len(f.values))
	for k, v := range f.values {
		out[k] = v
	}
	return out
}

// Reload re-reads the file. On error the previous values are kept.
func (f *StaticFile) Reload() error {
	if f.path == "" {
		return nil
	}
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read settings file: %w", err)
	}
	values, err := parseStatic(raw)
	if err != nil {
		return fmt.Errorf("parse settings file %s: %w", f.path, err)
	}
	for name := range values {
		if _, ok := Lookup(name); !ok {
			f.logger.Warn("unknown setting in settings file", "name", name, "path", f.path)
			delete(values, name)
		}
	}
	f.mu.Lock()
	f.values = values
	f.mu.Unlock()
	return nil
}

func parseStatic(raw []byte) (map[string]string, error) {
	var doc staticDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	values := make(map[string]string, len(doc.Settings))
	for name, node := range doc.Settings {
		switch node.Kind {
		case yaml.ScalarNode:
			values[name] = node.Value
		case yaml.SequenceNode:
			items := make([]string, 0, len(node.Content))
			for _, item := range node.Content {
				if item.Kind != yaml.ScalarNode {
					return nil, fmt.Errorf("setting %q: list items must be scalars", name)
				}
				items = append(items, item.Value)
			}
			values[name] = strings.Join(items, ",")
		default:
			return nil, fmt.Errorf("setting %q: expected a scalar or a list", name)
		}
	}
	return values, nil
}

// Watch reloads the file whenever it changes and calls onChange after each
// successful reload. The parent directory is watched so that editors which
// replace the file by rename are followed. Blocks until ctx is done.
func (f *StaticFile) Watch(ctx context.Context, onChange func()) error {
	if f.path == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(f.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(f.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := f.Reload(); err != nil {
				f.logger.Warn("settings file reload failed, keeping previous values", "error", err)
				continue
			}
			f.logger.Info("settings file reloaded", "path", f.path)
			if onChange != nil {
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("settings watcher error", "error", err)
		}
	}
}
