package core

import (
	"strings"
	"time"
)

// AssetType is the catalog type of an asset.
type AssetType string

// Asset type constants.
const (
	AssetTable   AssetType = "Table"
	AssetView    AssetType = "View"
	AssetSchema  AssetType = "Schema"
	AssetCatalog AssetType = "Catalog"
)

// ParseAssetType maps loose connector spellings ("BASE TABLE", "view") onto AssetType.
func ParseAssetType(s string) AssetType {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "VIEW", "MATERIALIZED VIEW", "MATERIALIZED_VIEW":
		return AssetView
	case "SCHEMA", "DATASET":
		return AssetSchema
	case "CATALOG", "DATABASE", "PROJECT":
		return AssetCatalog
	default:
		return AssetTable
	}
}

// Column modes.
const (
	ModeNullable = "NULLABLE"
	ModeRequired = "REQUIRED"
	ModeRepeated = "REPEATED"
)

// Column describes one column of an asset.
type Column struct {
	Name        string   `json:"name" yaml:"name"`
	Type        string   `json:"type,omitempty" yaml:"type"`
	Mode        string   `json:"mode,omitempty" yaml:"mode"`
	Description string   `json:"description,omitempty" yaml:"description"`
	Tags        []string `json:"tags,omitempty" yaml:"tags"`
	PrimaryKey  bool     `json:"primary_key,omitempty" yaml:"primary_key"`
	Unique      bool     `json:"unique,omitempty" yaml:"unique"`
}

// ForeignKey is a declared foreign key on a table column.
type ForeignKey struct {
	Column    string `json:"column" yaml:"column"`
	RefAsset  string `json:"ref_asset" yaml:"ref_asset"`
	RefColumn string `json:"ref_column" yaml:"ref_column"`
}

// Asset is a catalog asset supplied by the registry.
// It is immutable for the duration of one graph build.
type Asset struct {
	// ID is the globally unique qualified name (e.g., "proj.dataset.orders")
	ID           string       `json:"id" yaml:"id"`
	Name         string       `json:"name" yaml:"name"`
	Type         AssetType    `json:"type" yaml:"type"`
	Catalog      string       `json:"catalog" yaml:"catalog"`
	ConnectorID  string       `json:"connector_id" yaml:"connector_id"`
	SourceSystem string       `json:"source_system" yaml:"source_system"`
	Description  string       `json:"description,omitempty" yaml:"description"`
	Columns      []Column     `json:"columns" yaml:"columns"`
	SQL          string       `json:"sql,omitempty" yaml:"sql"`
	ForeignKeys  []ForeignKey `json:"foreign_keys,omitempty" yaml:"foreign_keys"`
	RowCount     int64        `json:"row_count,omitempty" yaml:"row_count"`
	LastModified time.Time    `json:"last_modified,omitempty" yaml:"last_modified"`
	DiscoveredAt time.Time    `json:"discovered_at,omitempty" yaml:"discovered_at"`
}

// ShortName returns the last dotted segment of the asset name (or id).
func (a Asset) ShortName() string {
	name := a.Name
	if name == "" {
		name = a.ID
	}
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}

// Column returns the named column, matching case-insensitively.
func (a Asset) Column(name string) (Column, bool) {
	for _, c := range a.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

// IsGraphNode reports whether the asset participates in the lineage graph.
func (a Asset) IsGraphNode() bool {
	return a.Type == AssetTable || a.Type == AssetView
}

// Node is the graph-facing projection of an asset.
type Node struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Type         AssetType `json:"type"`
	Catalog      string    `json:"catalog"`
	ConnectorID  string    `json:"connector_id"`
	SourceSystem string    `json:"source_system"`
	ColumnCount  int       `json:"column_count"`
	PIIColumns   int       `json:"pii_columns"`
}
