// Package state persists the lineage graph, snapshots, ingested artifacts and
// curation proposals behind core.GraphStore.
//
// The file backend is always available. Database backends (sqlite, postgres,
// neo4j) are opened at startup; one that fails to open is replaced by the
// file backend with a warning.
package state

import (
	"context"
	"log/slog"

	"github.com/leapstack-labs/leaplineage/pkg/core"
)

// Backend names.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendNeo4j    = "neo4j"
)

// Backends lists the supported backend names.
var Backends = []string{BackendFile, BackendSQLite, BackendPostgres, BackendNeo4j}

// Config selects and configures a backend.
type Config struct {
	Backend  string
	Path     string // file backend document, also used by neo4j for non-graph records
	DSN      string // sqlite path or postgres connection string
	URI      string
	Username string
	Password string
	Database string
}

// Compile-time checks.
var (
	_ core.GraphStore = (*FileStore)(nil)
	_ core.GraphStore = (*SQLStore)(nil)
	_ core.GraphStore = (*Neo4jStore)(nil)
)

// Open returns the configured store. An unknown backend name is an error;
// a known backend that cannot be reached falls back to the file store.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (core.GraphStore, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	files, err := NewFileStore(cfg.Path)
	if err != nil {
		return nil, err
	}

	var store core.GraphStore
	switch cfg.Backend {
	case "", BackendFile:
		return files, nil
	case BackendSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = ".leaplineage/graph.db"
		}
		store, err = OpenSQLite(dsn)
	case BackendPostgres:
		store, err = OpenPostgres(ctx, cfg.DSN)
	case BackendNeo4j:
		store, err = OpenNeo4j(ctx, Neo4jConfig{
			URI:      cfg.URI,
			Username: cfg.Username,
			Password: cfg.Password,
			Database: cfg.Database,
		}, files)
	default:
		return nil, &core.UnknownBackendError{Kind: "store backend", Name: cfg.Backend, Available: Backends}
	}

	if err != nil {
		logger.Warn("store backend unavailable, falling back to file store",
			"backend", cfg.Backend, "path", files.Path(), "error", err)
		return files, nil
	}
	logger.Debug("opened store backend", "backend", cfg.Backend)
	return store, nil
}
