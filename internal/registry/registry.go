// Package registry discovers catalog assets from the configured sources and
// serves them to the lineage engine through core.AssetRegistry.
//
// Each source is backed by one Connector: the file connector reads YAML or
// JSON asset documents, the database connectors introspect information_schema.
// A Catalog composes the connectors; sources that cannot be reached are
// logged and skipped so one broken source never hides the others.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/leapstack-labs/leaplineage/internal/config"
	"github.com/leapstack-labs/leaplineage/pkg/core"
)

// Connector discovers the assets of one source.
type Connector interface {
	Assets(ctx context.Context) ([]core.Asset, error)
	Close() error
}

// SourceInfo describes a configured source and its current availability.
type SourceInfo struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	System    string `json:"system"`
	Enabled   bool   `json:"enabled"`
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

type source struct {
	cfg  config.SourceConfig
	conn Connector
	err  error
}

// Catalog implements core.AssetRegistry and core.SQLFetcher over a set of sources.
type Catalog struct {
	mu      sync.RWMutex
	sources map[string]*source
	order   []string
	logger  *slog.Logger
}

// Compile-time checks.
var (
	_ core.AssetRegistry = (*Catalog)(nil)
	_ core.SQLFetcher    = (*Catalog)(nil)
	_ core.SQLFetcher    = (*SQLConnector)(nil)
)

// NewCatalog creates an empty catalog.
// If logger is nil, a discard logger is used.
func NewCatalog(logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Catalog{
		sources: make(map[string]*source),
		logger:  logger,
	}
}

// OpenCatalog opens a connector for every enabled source. A source that fails
// to open is kept as unavailable and reported by Sources.
func OpenCatalog(ctx context.Context, sources []config.SourceConfig, logger *slog.Logger) *Catalog {
	c := NewCatalog(logger)
	for _, cfg := range sources {
		if !cfg.IsEnabled() {
			c.register(cfg, nil, nil)
			continue
		}
		conn, err := Open(ctx, cfg, c.logger)
		if err != nil {
			c.logger.Warn("source unavailable",
				slog.String("source", cfg.ID),
				slog.String("error", core.ErrSourceUnavailable(cfg.ID, err).Error()))
		}
		c.register(cfg, conn, err)
	}
	return c
}

// Open creates the connector for one source.
func Open(ctx context.Context, cfg config.SourceConfig, logger *slog.Logger) (Connector, error) {
	switch cfg.Type {
	case config.SourceFile:
		conn, err := OpenFile(cfg.Path, logger)
		if err != nil {
			return nil, err
		}
		return conn, nil
	case config.SourceDuckDB, config.SourcePostgres, config.SourceMySQL, config.SourceSQLServer:
		conn, err := OpenSQL(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return conn, nil
	default:
		return nil, &core.UnknownBackendError{Kind: "source type", Name: cfg.Type, Available: config.SourceTypes}
	}
}

// Add registers a connector under the given source configuration,
// replacing any source with the same id.
func (c *Catalog) Add(cfg config.SourceConfig, conn Connector) {
	c.register(cfg, conn, nil)
}

func (c *Catalog) register(cfg config.SourceConfig, conn Connector, err error) {
	if cfg.System == "" {
		cfg.System = SourceSystem(cfg.ID, cfg.Type)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.sources[cfg.ID]; ok {
		if old.conn != nil {
			_ = old.conn.Close()
		}
	} else {
		c.order = append(c.order, cfg.ID)
	}
	c.sources[cfg.ID] = &source{cfg: cfg, conn: conn, err: err}
}

// Remove closes and forgets a source. Its assets vanish from the next build.
func (c *Catalog) Remove(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	src, ok := c.sources[id]
	if !ok {
		return core.ErrNotFound("source %s not found", id)
	}
	delete(c.sources, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	if src.conn != nil {
		return src.conn.Close()
	}
	return nil
}

// SetEnabled toggles a source. Disabled sources contribute no assets.
func (c *Catalog) SetEnabled(id string, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	src, ok := c.sources[id]
	if !ok {
		return core.ErrNotFound("source %s not found", id)
	}
	src.cfg.Enabled = &enabled
	return nil
}

// ActiveSources returns the ids of enabled, reachable sources.
func (c *Catalog) ActiveSources() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var ids []string
	for _, id := range c.order {
		src := c.sources[id]
		if src.cfg.IsEnabled() && src.conn != nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// Sources describes every configured source in configuration order.
func (c *Catalog) Sources() []SourceInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	infos := make([]SourceInfo, 0, len(c.order))
	for _, id := range c.order {
		src := c.sources[id]
		info := SourceInfo{
			ID:        id,
			Type:      src.cfg.Type,
			System:    src.cfg.System,
			Enabled:   src.cfg.IsEnabled(),
			Available: src.conn != nil,
		}
		if src.err != nil {
			info.Error = src.err.Error()
		}
		infos = append(infos, info)
	}
	return infos
}

// ListAssets returns the assets of the given sources, or of every enabled
// source when activeSources is nil. A failing source is logged and skipped.
func (c *Catalog) ListAssets(ctx context.Context, activeSources []string) ([]core.Asset, error) {
	ids := activeSources
	if ids == nil {
		ids = c.ActiveSources()
	}

	var assets []core.Asset
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c.mu.RLock()
		src, ok := c.sources[id]
		c.mu.RUnlock()
		if !ok || !src.cfg.IsEnabled() || src.conn == nil {
			continue
		}

		found, err := src.conn.Assets(ctx)
		if err != nil {
			c.logger.Warn("source unavailable",
				slog.String("source", id),
				slog.String("error", core.ErrSourceUnavailable(id, err).Error()))
			continue
		}
		for _, a := range found {
			assets = append(assets, stamp(a, src.cfg))
		}
	}

	sort.Slice(assets, func(i, j int) bool { return assets[i].ID < assets[j].ID })
	return assets, nil
}

// FetchSQL returns the view body for an asset from the connector that owns it.
// Connectors that cannot fetch SQL return the inline body.
func (c *Catalog) FetchSQL(ctx context.Context, asset core.Asset) (string, error) {
	c.mu.RLock()
	src, ok := c.sources[asset.ConnectorID]
	c.mu.RUnlock()
	if !ok || src.conn == nil {
		return asset.SQL, nil
	}
	fetcher, ok := src.conn.(core.SQLFetcher)
	if !ok {
		return asset.SQL, nil
	}
	sql, err := fetcher.FetchSQL(ctx, asset)
	if err != nil {
		return "", fmt.Errorf("fetch view sql for %s: %w", asset.ID, err)
	}
	return sql, nil
}

// Close closes every connector.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for _, src := range c.sources {
		if src.conn == nil {
			continue
		}
		if err := src.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// stamp attributes an asset to its source.
func stamp(a core.Asset, cfg config.SourceConfig) core.Asset {
	a.ConnectorID = cfg.ID
	if a.SourceSystem == "" {
		a.SourceSystem = cfg.System
	}
	if a.Catalog == "" {
		a.Catalog = cfg.Catalog
	}
	a.Type = core.ParseAssetType(string(a.Type))
	return a
}
