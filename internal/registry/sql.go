package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	// Database drivers for the introspection connectors.
	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb"

	"github.com/leapstack-labs/leaplineage/internal/config"
	"github.com/leapstack-labs/leaplineage/pkg/core"
)

// dialect holds the driver name and introspection queries of one database.
// Every listing query returns rows ordered for stable output; viewSQL takes
// (schema, name) parameters.
type dialect struct {
	driver      string
	tables      string // schema, name, table_type
	columns     string // schema, table, column, data_type, is_nullable
	constraints string // schema, table, column, constraint_type
	foreignKeys string // schema, table, column, ref_schema, ref_table, ref_column
	viewSQL     string
}

const (
	standardConstraints = `
		SELECT kcu.table_schema, kcu.table_name, kcu.column_name, tc.constraint_type
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema = kcu.table_schema
		 AND tc.table_name = kcu.table_name
		WHERE tc.constraint_type IN ('PRIMARY KEY', 'UNIQUE')`

	standardForeignKeys = `
		SELECT fk.table_schema, fk.table_name, fk.column_name,
		       pk.table_schema, pk.table_name, pk.column_name
		FROM information_schema.referential_constraints rc
		JOIN information_schema.key_column_usage fk
		  ON fk.constraint_name = rc.constraint_name
		 AND fk.constraint_schema = rc.constraint_schema
		JOIN information_schema.key_column_usage pk
		  ON pk.constraint_name = rc.unique_constraint_name
		 AND pk.constraint_schema = rc.unique_constraint_schema
		 AND pk.ordinal_position = fk.ordinal_position
		ORDER BY fk.table_schema, fk.table_name, fk.ordinal_position`
)

func listing(kind, excluded string) string {
	switch kind {
	case "tables":
		return `
		SELECT table_schema, table_name, table_type
		FROM information_schema.tables
		WHERE table_schema NOT IN (` + excluded + `)
		ORDER BY table_schema, table_name`
	default:
		return `
		SELECT table_schema, table_name, column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema NOT IN (` + excluded + `)
		ORDER BY table_schema, table_name, ordinal_position`
	}
}

var dialects = map[string]dialect{
	config.SourcePostgres: {
		driver:      "pgx",
		tables:      listing("tables", "'pg_catalog', 'information_schema'"),
		columns:     listing("columns", "'pg_catalog', 'information_schema'"),
		constraints: standardConstraints,
		foreignKeys: standardForeignKeys,
		viewSQL:     `SELECT view_definition FROM information_schema.views WHERE table_schema = $1 AND table_name = $2`,
	},
	config.SourceDuckDB: {
		driver:      "duckdb",
		tables:      listing("tables", "'information_schema', 'pg_catalog'"),
		columns:     listing("columns", "'information_schema', 'pg_catalog'"),
		constraints: standardConstraints,
		foreignKeys: standardForeignKeys,
		viewSQL:     `SELECT sql FROM duckdb_views() WHERE schema_name = ? AND view_name = ?`,
	},
	config.SourceMySQL: {
		driver:      "mysql",
		tables:      listing("tables", "'mysql', 'information_schema', 'performance_schema', 'sys'"),
		columns:     listing("columns", "'mysql', 'information_schema', 'performance_schema', 'sys'"),
		constraints: standardConstraints,
		foreignKeys: `
		SELECT table_schema, table_name, column_name,
		       referenced_table_schema, referenced_table_name, referenced_column_name
		FROM information_schema.key_column_usage
		WHERE referenced_table_name IS NOT NULL
		ORDER BY table_schema, table_name, ordinal_position`,
		viewSQL: `SELECT view_definition FROM information_schema.views WHERE table_schema = ? AND table_name = ?`,
	},
	config.SourceSQLServer: {
		driver:      "sqlserver",
		tables:      listing("tables", "'INFORMATION_SCHEMA', 'sys'"),
		columns:     listing("columns", "'INFORMATION_SCHEMA', 'sys'"),
		constraints: standardConstraints,
		foreignKeys: standardForeignKeys,
		viewSQL:     `SELECT view_definition FROM information_schema.views WHERE table_schema = @p1 AND table_name = @p2`,
	},
}

// SQLConnector introspects a database through information_schema.
type SQLConnector struct {
	db      *sql.DB
	kind    string
	catalog string
	d       dialect
	logger  *slog.Logger

	mu        sync.RWMutex
	locations map[string][2]string // asset id -> (schema, name)
}

// OpenSQL opens and pings the database of a source.
func OpenSQL(ctx context.Context, cfg config.SourceConfig, logger *slog.Logger) (*SQLConnector, error) {
	d, ok := dialects[cfg.Type]
	if !ok {
		return nil, &core.UnknownBackendError{Kind: "source type", Name: cfg.Type, Available: config.SourceTypes}
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("source %s: dsn is required", cfg.ID)
	}

	db, err := sql.Open(d.driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", cfg.Type, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", cfg.Type, err)
	}
	return NewSQLConnector(db, cfg, logger)
}

// NewSQLConnector wraps an open database handle.
func NewSQLConnector(db *sql.DB, cfg config.SourceConfig, logger *slog.Logger) (*SQLConnector, error) {
	d, ok := dialects[cfg.Type]
	if !ok {
		return nil, &core.UnknownBackendError{Kind: "source type", Name: cfg.Type, Available: config.SourceTypes}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	catalog := cfg.Catalog
	if catalog == "" {
		catalog = cfg.ID
	}
	return &SQLConnector{
		db:        db,
		kind:      cfg.Type,
		catalog:   catalog,
		d:         d,
		logger:    logger,
		locations: make(map[string][2]string),
	}, nil
}

// Close closes the database handle.
func (c *SQLConnector) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *SQLConnector) assetID(schema, name string) string {
	return c.catalog + "." + schema + "." + name
}

// Assets introspects tables, views, columns and key constraints. View bodies
// are not loaded here; FetchSQL serves them on demand.
func (c *SQLConnector) Assets(ctx context.Context) ([]core.Asset, error) {
	if c.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	byID := make(map[string]*core.Asset)
	var order []string
	locations := make(map[string][2]string)

	err := c.scan(ctx, c.d.tables, func(rows *sql.Rows) error {
		var schema, name, tableType string
		if err := rows.Scan(&schema, &name, &tableType); err != nil {
			return err
		}
		id := c.assetID(schema, name)
		byID[id] = &core.Asset{
			ID:      id,
			Name:    name,
			Type:    core.ParseAssetType(tableType),
			Catalog: c.catalog,
		}
		order = append(order, id)
		locations[id] = [2]string{schema, name}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	err = c.scan(ctx, c.d.columns, func(rows *sql.Rows) error {
		var schema, table, column, dataType, nullable string
		if err := rows.Scan(&schema, &table, &column, &dataType, &nullable); err != nil {
			return err
		}
		a, ok := byID[c.assetID(schema, table)]
		if !ok {
			return nil
		}
		mode := core.ModeNullable
		if strings.EqualFold(nullable, "NO") {
			mode = core.ModeRequired
		}
		a.Columns = append(a.Columns, core.Column{Name: column, Type: dataType, Mode: mode})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list columns: %w", err)
	}

	err = c.scan(ctx, c.d.constraints, func(rows *sql.Rows) error {
		var schema, table, column, constraintType string
		if err := rows.Scan(&schema, &table, &column, &constraintType); err != nil {
			return err
		}
		a, ok := byID[c.assetID(schema, table)]
		if !ok {
			return nil
		}
		for i := range a.Columns {
			if !strings.EqualFold(a.Columns[i].Name, column) {
				continue
			}
			switch strings.ToUpper(constraintType) {
			case "PRIMARY KEY":
				a.Columns[i].PrimaryKey = true
			case "UNIQUE":
				a.Columns[i].Unique = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list key constraints: %w", err)
	}

	err = c.scan(ctx, c.d.foreignKeys, func(rows *sql.Rows) error {
		var schema, table, column, refSchema, refTable, refColumn string
		if err := rows.Scan(&schema, &table, &column, &refSchema, &refTable, &refColumn); err != nil {
			return err
		}
		a, ok := byID[c.assetID(schema, table)]
		if !ok {
			return nil
		}
		a.ForeignKeys = append(a.ForeignKeys, core.ForeignKey{
			Column:    column,
			RefAsset:  c.assetID(refSchema, refTable),
			RefColumn: refColumn,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list foreign keys: %w", err)
	}

	c.mu.Lock()
	c.locations = locations
	c.mu.Unlock()

	sort.Strings(order)
	assets := make([]core.Asset, 0, len(order))
	for _, id := range order {
		assets = append(assets, *byID[id])
	}
	c.logger.Debug("introspected source",
		slog.String("type", c.kind),
		slog.String("catalog", c.catalog),
		slog.Int("assets", len(assets)))
	return assets, nil
}

// FetchSQL returns the definition of a view. Tables and unknown views yield
// the inline body, which is usually empty.
func (c *SQLConnector) FetchSQL(ctx context.Context, asset core.Asset) (string, error) {
	if asset.Type != core.AssetView {
		return asset.SQL, nil
	}
	if c.db == nil {
		return "", fmt.Errorf("database not opened")
	}

	c.mu.RLock()
	loc, ok := c.locations[asset.ID]
	c.mu.RUnlock()
	if !ok {
		parts := strings.Split(asset.ID, ".")
		if len(parts) < 2 {
			return asset.SQL, nil
		}
		loc = [2]string{parts[len(parts)-2], parts[len(parts)-1]}
	}

	var body sql.NullString
	err := c.db.QueryRowContext(ctx, c.d.viewSQL, loc[0], loc[1]).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return asset.SQL, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query view definition: %w", err)
	}
	return body.String, nil
}

func (c *SQLConnector) scan(ctx context.Context, query string, fn func(*sql.Rows) error) error {
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
