// Package config provides shared configuration types for leaplineage.
// This package is decoupled from CLI concerns so the engine, the HTTP server
// and the asset registry can consume the same values.
package config

import "time"

// Source types.
const (
	SourceFile      = "file"
	SourceDuckDB    = "duckdb"
	SourcePostgres  = "postgres"
	SourceMySQL     = "mysql"
	SourceSQLServer = "sqlserver"
)

// SourceTypes lists the supported source connector types.
var SourceTypes = []string{SourceFile, SourceDuckDB, SourcePostgres, SourceMySQL, SourceSQLServer}

// Output modes.
const (
	OutputAuto = "auto"
	OutputText = "text"
	OutputJSON = "json"
)

// Config holds the complete leaplineage configuration.
type Config struct {
	LogLevel  string          `koanf:"log_level"`
	Verbose   bool            `koanf:"verbose"`
	Output    string          `koanf:"output"`
	Sources   []SourceConfig  `koanf:"sources"`
	Store     StoreConfig     `koanf:"store"`
	Signing   SigningConfig   `koanf:"signing"`
	Curation  CurationConfig  `koanf:"curation"`
	Inference InferenceConfig `koanf:"inference"`
	Server    ServerConfig    `koanf:"server"`
	Telemetry TelemetryConfig `koanf:"telemetry"`

	// ProjectRoot is the directory relative paths resolve against. Not loaded.
	ProjectRoot string `koanf:"-"`
}

// SourceConfig describes one asset source (a discovery connector).
type SourceConfig struct {
	ID      string `koanf:"id"`
	Type    string `koanf:"type"`
	System  string `koanf:"system"`  // display name; derived from the id prefix when empty
	Catalog string `koanf:"catalog"` // catalog name stamped on discovered assets
	Path    string `koanf:"path"`    // file sources: file or directory of asset documents
	DSN     string `koanf:"dsn"`     // database sources
	Enabled *bool  `koanf:"enabled"`
	Watch   bool   `koanf:"watch"` // file sources: reload on change while serving
}

// IsEnabled reports whether the source is active. Sources are enabled unless
// explicitly disabled.
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// StoreConfig selects the GraphStore backend.
type StoreConfig struct {
	Backend  string `koanf:"backend"`
	Path     string `koanf:"path"`
	DSN      string `koanf:"dsn"`
	URI      string `koanf:"uri"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	Database string `koanf:"database"`
}

// SigningConfig holds the provenance signing key. An empty secret disables signing.
type SigningConfig struct {
	Secret string `koanf:"secret"`
}

// CurationConfig holds curation workflow settings.
type CurationConfig struct {
	RequiredRole string `koanf:"required_role"`
}

// InferenceConfig tunes relationship inference and the stored-edge overlay.
type InferenceConfig struct {
	PairwiseEdgeThreshold  int           `koanf:"pairwise_edge_threshold"`
	MaxPairwiseAssets      int           `koanf:"max_pairwise_assets"`
	MaxPairwiseComparisons int           `koanf:"max_pairwise_comparisons"`
	MinContainmentRatio    float64       `koanf:"min_containment_ratio"`
	FuzzySimilarity        float64       `koanf:"fuzzy_similarity"`
	MaxIDPairs             int           `koanf:"max_id_pairs"`
	RecentWindow           time.Duration `koanf:"recent_window"`
	StaleAfter             time.Duration `koanf:"stale_after"`
	IncludeStoredEdges     bool          `koanf:"include_stored_edges"`
	FetchConcurrency       int           `koanf:"fetch_concurrency"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Addr              string          `koanf:"addr"`
	RoleHeader        string          `koanf:"role_header"`
	JWTSecret         string          `koanf:"jwt_secret"`
	CORSOrigins       []string        `koanf:"cors_origins"`
	RateLimit         RateLimitConfig `koanf:"rate_limit"`
	ReconcileSchedule string          `koanf:"reconcile_schedule"` // cron expression; empty disables
}

// RateLimitConfig configures per-client request limiting. Zero disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Endpoint    string `koanf:"endpoint"`
	ServiceName string `koanf:"service_name"`
}
