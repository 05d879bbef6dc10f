package core

import "time"

// ColumnRelation classifies how a target column derives from a source column.
type ColumnRelation string

// Column relation constants.
const (
	ColDirectMatch       ColumnRelation = "direct_match"
	ColTransformed       ColumnRelation = "transformed"
	ColSQLReference      ColumnRelation = "sql_reference"
	ColSQLDerived        ColumnRelation = "sql_derived"
	ColSQLTransformation ColumnRelation = "sql_transformation"
	ColAggregation       ColumnRelation = "aggregation"
	ColStringTransform   ColumnRelation = "string_transform"
	ColDateTransform     ColumnRelation = "date_transform"
	ColIDInference       ColumnRelation = "id_inference"
	ColForeignKey        ColumnRelation = "foreign_key"
)

// PIITier is the sensitivity tier of a column.
type PIITier string

// PII tiers, most sensitive first.
const (
	PIICritical PIITier = "CRITICAL"
	PIIHigh     PIITier = "HIGH"
	PIIMedium   PIITier = "MEDIUM"
	PIILow      PIITier = "LOW"
	PIINone     PIITier = "NONE"
)

// Rank orders tiers; NONE is 0.
func (t PIITier) Rank() int {
	switch t {
	case PIICritical:
		return 4
	case PIIHigh:
		return 3
	case PIIMedium:
		return 2
	case PIILow:
		return 1
	default:
		return 0
	}
}

// Masking returns the masking strategy downstream publishers apply for the tier.
func (t PIITier) Masking() string {
	switch t {
	case PIICritical:
		return "full"
	case PIIHigh:
		return "strong_partial"
	case PIIMedium:
		return "partial"
	case PIILow:
		return "light"
	default:
		return "none"
	}
}

// MaxTier returns the more sensitive of a and b.
func MaxTier(a, b PIITier) PIITier {
	if b.Rank() > a.Rank() {
		return b
	}
	if a == "" {
		return PIINone
	}
	return a
}

// ColumnLineage is one column-to-column mapping owned by an Edge.
type ColumnLineage struct {
	SourceTable      string         `json:"source_table"`
	SourceColumn     string         `json:"source_column"`
	TargetTable      string         `json:"target_table"`
	TargetColumn     string         `json:"target_column"`
	RelationshipType ColumnRelation `json:"relationship_type"`
	ContainsPII      bool           `json:"contains_pii"`
	PIITier          PIITier        `json:"pii_tier,omitempty"`
	DataQualityScore int            `json:"data_quality_score"`
	ImpactScore      int            `json:"impact_score"`
}

// ValidationStatus describes how far an edge is trusted.
type ValidationStatus string

// Validation statuses.
const (
	StatusValid    ValidationStatus = "valid"
	StatusInferred ValidationStatus = "inferred"
	StatusStale    ValidationStatus = "stale"
	StatusError    ValidationStatus = "error"
	StatusUnknown  ValidationStatus = "unknown"
)

// Edge is a directed lineage relationship from Source to Target.
type Edge struct {
	Source           string           `json:"source"`
	Target           string           `json:"target"`
	Relationship     Relationship     `json:"relationship"`
	ColumnLineage    []ColumnLineage  `json:"column_lineage"`
	TotalPIIColumns  int              `json:"total_pii_columns"`
	AvgDataQuality   float64          `json:"avg_data_quality"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	ConfidenceScore  float64          `json:"confidence_score"`
	Evidence         []string         `json:"evidence"`
	Sources          []string         `json:"sources"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	EdgeSignature    string           `json:"edge_signature,omitempty"`
}

// Key returns the (source, target) identity of the edge.
func (e Edge) Key() EdgeKey {
	return EdgeKey{Source: e.Source, Target: e.Target}
}

// EdgeKey identifies an edge by its ordered endpoint pair.
type EdgeKey struct {
	Source string
	Target string
}

// AddEvidence appends tags not already present.
func (e *Edge) AddEvidence(tags ...string) {
	e.Evidence = appendUnique(e.Evidence, tags...)
}

// HasSource reports whether name is among the edge's sources.
func (e Edge) HasSource(name string) bool {
	for _, s := range e.Sources {
		if s == name {
			return true
		}
	}
	return false
}

// AddSources appends source names not already present.
func (e *Edge) AddSources(names ...string) {
	e.Sources = appendUnique(e.Sources, names...)
}

func appendUnique(list []string, items ...string) []string {
	for _, item := range items {
		found := false
		for _, existing := range list {
			if existing == item {
				found = true
				break
			}
		}
		if !found {
			list = append(list, item)
		}
	}
	return list
}
