package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/leaplineage/pkg/core"
)

// reloadDebounce collapses bursts of file events into one reload.
const reloadDebounce = 100 * time.Millisecond

// assetDocument is the keyed form of an asset file. A bare list of assets is
// accepted as well.
type assetDocument struct {
	Assets []core.Asset `json:"assets" yaml:"assets"`
}

// FileConnector serves assets described in YAML or JSON documents. The path
// may name one file or a directory searched recursively.
type FileConnector struct {
	mu     sync.RWMutex
	path   string
	assets []core.Asset
	logger *slog.Logger
}

// OpenFile loads the asset documents at path.
func OpenFile(path string, logger *slog.Logger) (*FileConnector, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &FileConnector{path: path, logger: logger}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Path returns the watched file or directory.
func (c *FileConnector) Path() string {
	return c.path
}

// Assets returns a copy of the loaded assets.
func (c *FileConnector) Assets(ctx context.Context) ([]core.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]core.Asset(nil), c.assets...), nil
}

// Close is a no-op; watchers stop with their context.
func (c *FileConnector) Close() error { return nil }

// Reload re-reads every asset document. On error the previous assets are kept.
func (c *FileConnector) Reload() error {
	files, err := assetFiles(c.path)
	if err != nil {
		return err
	}

	var assets []core.Asset
	for _, path := range files {
		loaded, err := loadAssetFile(path)
		if err != nil {
			return err
		}
		assets = append(assets, loaded...)
	}

	c.mu.Lock()
	c.assets = assets
	c.mu.Unlock()

	c.logger.Debug("loaded asset documents", slog.String("path", c.path), slog.Int("assets", len(assets)))
	return nil
}

// Watch reloads the documents whenever a YAML or JSON file under the path
// changes, calling onChange after each successful reload. It blocks until
// ctx is cancelled.
func (c *FileConnector) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	info, err := os.Stat(c.path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", c.path, err)
	}
	if info.IsDir() {
		err = filepath.WalkDir(c.path, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return watcher.Add(path)
			}
			return nil
		})
	} else {
		// Editors replace files by rename, so watch the parent directory.
		err = watcher.Add(filepath.Dir(c.path))
	}
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", c.path, err)
	}

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !isAssetFile(event.Name) {
				continue
			}
			if !info.IsDir() && filepath.Clean(event.Name) != filepath.Clean(c.path) {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			name := event.Name
			debounceTimer = time.AfterFunc(reloadDebounce, func() {
				if err := c.Reload(); err != nil {
					c.logger.Warn("asset reload failed", slog.String("file", name), slog.String("error", err.Error()))
					return
				}
				c.logger.Info("asset documents reloaded", slog.String("file", filepath.Base(name)))
				if onChange != nil {
					onChange()
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

func isAssetFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// assetFiles lists the documents at path in lexical order.
func assetFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat asset path %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && isAssetFile(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk asset directory %s: %w", path, err)
	}
	return files, nil
}

func loadAssetFile(path string) ([]core.Asset, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the configured source
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var assets []core.Asset
	if strings.EqualFold(filepath.Ext(path), ".json") {
		assets, err = decodeJSONAssets(data)
	} else {
		assets, err = decodeYAMLAssets(data)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	for i, a := range assets {
		if a.ID == "" {
			return nil, fmt.Errorf("%s: asset %d has no id", path, i)
		}
	}
	return assets, nil
}

func decodeJSONAssets(data []byte) ([]core.Asset, error) {
	var assets []core.Asset
	if bytes.TrimSpace(data)[0] == '[' {
		err := json.Unmarshal(data, &assets)
		return assets, err
	}
	var doc assetDocument
	err := json.Unmarshal(data, &doc)
	return doc.Assets, err
}

func decodeYAMLAssets(data []byte) ([]core.Asset, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if len(root.Content) == 0 {
		return nil, nil
	}

	if root.Content[0].Kind == yaml.SequenceNode {
		var assets []core.Asset
		err := root.Content[0].Decode(&assets)
		return assets, err
	}
	var doc assetDocument
	err := root.Content[0].Decode(&doc)
	return doc.Assets, err
}

// Watch runs the watcher of every file source configured with watch enabled
// until ctx is cancelled. onChange receives the id of the reloaded source.
func (c *Catalog) Watch(ctx context.Context, onChange func(sourceID string)) error {
	c.mu.RLock()
	type watched struct {
		id   string
		conn *FileConnector
	}
	var targets []watched
	for _, id := range c.order {
		src := c.sources[id]
		if fc, ok := src.conn.(*FileConnector); ok && src.cfg.Watch {
			targets = append(targets, watched{id: id, conn: fc})
		}
	}
	c.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, w := range targets {
		g.Go(func() error {
			return w.conn.Watch(ctx, func() {
				if onChange != nil {
					onChange(w.id)
				}
			})
		})
	}
	return g.Wait()
}
