package config

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/leapstack-labs/leaplineage/internal/state"
)

// Validate checks the configuration for invalid names and bounds.
func (c *Config) Validate() error {
	if !slices.Contains(state.Backends, c.Store.Backend) {
		return fmt.Errorf("unknown store backend %q\nHint: use one of %v", c.Store.Backend, state.Backends)
	}
	switch c.Output {
	case OutputAuto, OutputText, OutputJSON:
	default:
		return fmt.Errorf("unknown output mode %q (want auto, text or json)", c.Output)
	}

	seen := make(map[string]bool, len(c.Sources))
	for i, src := range c.Sources {
		if src.ID == "" {
			return fmt.Errorf("sources[%d]: id is required", i)
		}
		if seen[src.ID] {
			return fmt.Errorf("sources[%d]: duplicate source id %q", i, src.ID)
		}
		seen[src.ID] = true
		if !slices.Contains(SourceTypes, src.Type) {
			return fmt.Errorf("source %s: unknown type %q\nHint: use one of %v", src.ID, src.Type, SourceTypes)
		}
		if src.Type == SourceFile && src.Path == "" {
			return fmt.Errorf("source %s: path is required for file sources", src.ID)
		}
		if src.Type != SourceFile && src.DSN == "" {
			return fmt.Errorf("source %s: dsn is required for %s sources", src.ID, src.Type)
		}
	}

	inf := c.Inference
	if inf.PairwiseEdgeThreshold < 0 || inf.MaxPairwiseAssets < 0 || inf.MaxPairwiseComparisons < 0 {
		return fmt.Errorf("inference bounds must not be negative")
	}
	if inf.MinContainmentRatio < 0 || inf.MinContainmentRatio > 1 {
		return fmt.Errorf("inference.min_containment_ratio must be within [0,1], got %v", inf.MinContainmentRatio)
	}
	if inf.FuzzySimilarity < 0 || inf.FuzzySimilarity > 1 {
		return fmt.Errorf("inference.fuzzy_similarity must be within [0,1], got %v", inf.FuzzySimilarity)
	}
	if inf.MaxIDPairs < 0 || inf.FetchConcurrency < 0 {
		return fmt.Errorf("inference.max_id_pairs and inference.fetch_concurrency must not be negative")
	}
	if inf.StaleAfter < 0 {
		return fmt.Errorf("inference.stale_after must not be negative")
	}
	if c.Server.RateLimit.RequestsPerSecond < 0 || c.Server.RateLimit.Burst < 0 {
		return fmt.Errorf("server.rate_limit values must not be negative")
	}
	return nil
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ExpandEnv expands ${VAR} patterns in a string with environment variable
// values. Unset variables are left as written.
func ExpandEnv(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		if val := os.Getenv(match[2 : len(match)-1]); val != "" {
			return val
		}
		return match
	})
}

// ExpandSecrets expands environment variables in connection strings,
// credentials and signing keys.
func (c *Config) ExpandSecrets() {
	for i := range c.Sources {
		c.Sources[i].DSN = ExpandEnv(c.Sources[i].DSN)
		c.Sources[i].Path = ExpandEnv(c.Sources[i].Path)
	}
	c.Store.DSN = ExpandEnv(c.Store.DSN)
	c.Store.URI = ExpandEnv(c.Store.URI)
	c.Store.Username = ExpandEnv(c.Store.Username)
	c.Store.Password = ExpandEnv(c.Store.Password)
	c.Signing.Secret = ExpandEnv(c.Signing.Secret)
	c.Server.JWTSecret = ExpandEnv(c.Server.JWTSecret)
}
