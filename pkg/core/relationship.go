package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RelationKind is the closed set of edge relationship classifications.
type RelationKind string

// Relationship kinds.
const (
	RelFeedsInto            RelationKind = "feeds_into"
	RelForeignKey           RelationKind = "foreign_key"
	RelETLPipeline          RelationKind = "etl_pipeline"
	RelELTPipeline          RelationKind = "elt_pipeline"
	RelIDRelationship       RelationKind = "id_relationship"
	RelIDInference          RelationKind = "id_inference"
	RelInferredFromMetadata RelationKind = "inferred_from_metadata"
	RelOpenLineage          RelationKind = "openlineage"
	RelDBTDependency        RelationKind = "dbt_dependency"
	RelAirflowDependency    RelationKind = "airflow_dependency"
	RelMetadata             RelationKind = "metadata_relationship"
	RelManual               RelationKind = "manual"
)

var relationKinds = map[RelationKind]struct{}{
	RelFeedsInto: {}, RelForeignKey: {}, RelETLPipeline: {}, RelELTPipeline: {},
	RelIDRelationship: {}, RelIDInference: {}, RelInferredFromMetadata: {},
	RelOpenLineage: {}, RelDBTDependency: {}, RelAirflowDependency: {},
	RelMetadata: {}, RelManual: {},
}

// Valid reports whether k is a known kind.
func (k RelationKind) Valid() bool {
	_, ok := relationKinds[k]
	return ok
}

// Relationship is a relation kind with an optional free-text annotation.
// It renders as "kind" or "kind (annotation)".
type Relationship struct {
	Kind       RelationKind
	Annotation string
}

// Rel is shorthand for a Relationship without annotation.
func Rel(kind RelationKind) Relationship {
	return Relationship{Kind: kind}
}

// String renders the wire form of the relationship.
func (r Relationship) String() string {
	if r.Annotation == "" {
		return string(r.Kind)
	}
	return fmt.Sprintf("%s (%s)", r.Kind, r.Annotation)
}

// ParseRelationship parses the wire form produced by String.
func ParseRelationship(s string) (Relationship, error) {
	s = strings.TrimSpace(s)
	var r Relationship
	if i := strings.Index(s, " ("); i >= 0 && strings.HasSuffix(s, ")") {
		r.Kind = RelationKind(strings.TrimSpace(s[:i]))
		r.Annotation = s[i+2 : len(s)-1]
	} else {
		r.Kind = RelationKind(s)
	}
	if !r.Kind.Valid() {
		return Relationship{}, fmt.Errorf("unknown relationship kind %q", r.Kind)
	}
	return r, nil
}

// MarshalJSON encodes the relationship as its wire string.
func (r Relationship) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON decodes the wire string.
func (r *Relationship) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRelationship(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
