// Package config loads CLI configuration for leaplineage.
//
// The configuration types live in internal/config so the engine and the
// HTTP server can share them; this package layers defaults, the project
// file, environment variables and command-line flags on top of them.
package config

import intconfig "github.com/leapstack-labs/leaplineage/internal/config"

// Config is an alias for the shared configuration.
type Config = intconfig.Config

// SourceConfig is an alias for the shared source configuration.
type SourceConfig = intconfig.SourceConfig

// Config file names searched in the project root, in order.
const (
	ConfigFileYAML = "leaplineage.yaml"
	ConfigFileYML  = "leaplineage.yml"
)

// EnvPrefix prefixes every environment variable read by the loader.
// A double underscore separates nested keys, e.g. LEAPLINEAGE_SIGNING__SECRET.
const EnvPrefix = "LEAPLINEAGE_"
