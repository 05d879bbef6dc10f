package scoring

import (
	"fmt"
	"math"

	"github.com/leapstack-labs/leaplineage/pkg/core"
	"github.com/leapstack-labs/leaplineage/pkg/sqlref"
)

// Evidence tags.
const (
	EvidenceStrongTransform = "transformations:strong"
	EvidenceSQLOps          = "transformations:sql_ops"
	EvidenceQueryLog        = "query_log"
)

const (
	baseConfidence   = 0.4
	strongBase       = 0.6
	perMappingBonus  = 0.03
	maxMappingBonus  = 0.3
	maxImpactBonus   = 0.2
	strongTransBonus = 0.15
)

var strongRelations = map[core.RelationKind]struct{}{
	core.RelForeignKey:     {},
	core.RelETLPipeline:    {},
	core.RelELTPipeline:    {},
	core.RelIDRelationship: {},
}

var strongTransforms = map[string]struct{}{
	sqlref.TypeForeignKey:     {},
	sqlref.TypeETLPipeline:    {},
	sqlref.TypeELTPipeline:    {},
	sqlref.TypeIDRelationship: {},
}

var sqlOpTransforms = map[string]struct{}{
	"COUNT":             {},
	"SUM":               {},
	sqlref.TypeJoin:     {},
	sqlref.TypeDistinct: {},
}

// Confidence scores an edge from its relationship, column mappings and
// transformation evidence. The score is in [0,1], rounded to four decimals.
func Confidence(rel core.Relationship, lineage []core.ColumnLineage, transforms []sqlref.Transformation) (float64, []string) {
	var evidence []string
	score := baseConfidence

	if _, ok := strongRelations[rel.Kind]; ok {
		score = strongBase
		evidence = append(evidence, fmt.Sprintf("relationship_type:%s", rel.Kind))
	}

	if n := len(lineage); n > 0 {
		total := 0
		for _, cl := range lineage {
			total += cl.ImpactScore
		}
		avgImpact := float64(total) / float64(n)
		score += math.Min(maxMappingBonus, float64(n)*perMappingBonus)
		score += math.Min(maxImpactBonus, avgImpact/10*maxImpactBonus)
		evidence = append(evidence, fmt.Sprintf("column_mappings:%d", n))
	}

	if len(transforms) > 0 {
		var strong, sqlOps, queryLog bool
		for _, t := range transforms {
			if _, ok := strongTransforms[t.Type]; ok {
				strong = true
			}
			if _, ok := sqlOpTransforms[t.Type]; ok {
				sqlOps = true
			}
			if t.Type == sqlref.TypeQueryLog {
				queryLog = true
			}
		}
		if strong {
			score += strongTransBonus
			evidence = append(evidence, EvidenceStrongTransform)
		}
		if sqlOps {
			evidence = append(evidence, EvidenceSQLOps)
		}
		if queryLog {
			evidence = append(evidence, EvidenceQueryLog)
		}
	}

	return clamp(math.Round(score*1e4)/1e4, 0, 1), evidence
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Aggregate computes the edge-level PII count and mean quality of its
// mappings. An edge without mappings reports a quality of 95.
func Aggregate(lineage []core.ColumnLineage) (totalPII int, avgQuality float64) {
	if len(lineage) == 0 {
		return 0, 95.0
	}
	sum := 0
	for _, cl := range lineage {
		if cl.ContainsPII {
			totalPII++
		}
		sum += cl.DataQualityScore
	}
	return totalPII, math.Round(float64(sum)/float64(len(lineage))*100) / 100
}
