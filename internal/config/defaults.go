package config

import "time"

// Default configuration values.
const (
	DefaultLogLevel               = "info"
	DefaultOutput                 = OutputAuto
	DefaultStoreBackend           = "file"
	DefaultStorePath              = ".leaplineage/graph.json"
	DefaultRequiredRole           = "admin"
	DefaultPairwiseEdgeThreshold  = 50
	DefaultMaxPairwiseAssets      = 500
	DefaultMaxPairwiseComparisons = 250000
	DefaultMinContainmentRatio    = 0.6
	DefaultFuzzySimilarity        = 0.85
	DefaultMaxIDPairs             = 3
	DefaultRecentWindow           = 30 * 24 * time.Hour
	DefaultFetchConcurrency       = 8
	DefaultServerAddr             = ":8080"
	DefaultRoleHeader             = "X-User-Role"
	DefaultServiceName            = "leaplineage"
)

// Defaults returns the flat default key map loaded beneath every other layer.
func Defaults() map[string]any {
	return map[string]any{
		"log_level":                          DefaultLogLevel,
		"verbose":                            false,
		"output":                             DefaultOutput,
		"store.backend":                      DefaultStoreBackend,
		"store.path":                         DefaultStorePath,
		"curation.required_role":             DefaultRequiredRole,
		"inference.pairwise_edge_threshold":  DefaultPairwiseEdgeThreshold,
		"inference.max_pairwise_assets":      DefaultMaxPairwiseAssets,
		"inference.max_pairwise_comparisons": DefaultMaxPairwiseComparisons,
		"inference.min_containment_ratio":    DefaultMinContainmentRatio,
		"inference.fuzzy_similarity":         DefaultFuzzySimilarity,
		"inference.max_id_pairs":             DefaultMaxIDPairs,
		"inference.recent_window":            DefaultRecentWindow.String(),
		"inference.stale_after":              "0s",
		"inference.include_stored_edges":     true,
		"inference.fetch_concurrency":        DefaultFetchConcurrency,
		"server.addr":                        DefaultServerAddr,
		"server.role_header":                 DefaultRoleHeader,
		"telemetry.service_name":             DefaultServiceName,
	}
}

// ApplyDefaults fills zero values of a Config built without the loader.
func ApplyDefaults(c *Config) {
	if c == nil {
		return
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Output == "" {
		c.Output = DefaultOutput
	}
	if c.Store.Backend == "" {
		c.Store.Backend = DefaultStoreBackend
	}
	if c.Store.Path == "" {
		c.Store.Path = DefaultStorePath
	}
	if c.Curation.RequiredRole == "" {
		c.Curation.RequiredRole = DefaultRequiredRole
	}
	inf := &c.Inference
	if inf.PairwiseEdgeThreshold == 0 {
		inf.PairwiseEdgeThreshold = DefaultPairwiseEdgeThreshold
	}
	if inf.MaxPairwiseAssets == 0 {
		inf.MaxPairwiseAssets = DefaultMaxPairwiseAssets
	}
	if inf.MaxPairwiseComparisons == 0 {
		inf.MaxPairwiseComparisons = DefaultMaxPairwiseComparisons
	}
	if inf.MinContainmentRatio == 0 {
		inf.MinContainmentRatio = DefaultMinContainmentRatio
	}
	if inf.FuzzySimilarity == 0 {
		inf.FuzzySimilarity = DefaultFuzzySimilarity
	}
	if inf.MaxIDPairs == 0 {
		inf.MaxIDPairs = DefaultMaxIDPairs
	}
	if inf.RecentWindow == 0 {
		inf.RecentWindow = DefaultRecentWindow
	}
	if inf.FetchConcurrency == 0 {
		inf.FetchConcurrency = DefaultFetchConcurrency
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Server.RoleHeader == "" {
		c.Server.RoleHeader = DefaultRoleHeader
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
}
