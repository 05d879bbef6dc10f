// Package matcher produces column-to-column lineage mappings between two
// assets. Strategies run in priority order per target column: exact name,
// fuzzy name, then the target's SQL. Shared id columns are matched separately
// through MatchIDs since they are only used as a last resort.
package matcher

import (
	"math"
	"strings"
	"time"

	"github.com/leapstack-labs/leaplineage/internal/scoring"
	"github.com/leapstack-labs/leaplineage/pkg/core"
	"github.com/leapstack-labs/leaplineage/pkg/sqlref"
	"github.com/texttheater/golang-levenshtein/levenshtein"
	"golang.org/x/text/cases"
)

// Impact scores per mapping kind.
const (
	ImpactExactDirect      = 8
	ImpactExactTransformed = 6
	ImpactFuzzyDirect      = 7
	ImpactFuzzyTransformed = 5
	ImpactSQLReference     = 10
	ImpactSQLDerived       = 8
	ImpactSQLOther         = 6
	ImpactForeignKey       = 9
	ImpactIDInference      = 4
)

// Default thresholds.
const (
	DefaultMinContainmentRatio = 0.6
	DefaultFuzzySimilarity     = 0.85
	DefaultMaxIDPairs          = 3

	minContainmentLength = 3
)

// Config holds matcher thresholds and the clock used for quality scoring.
type Config struct {
	// MinContainmentRatio is the shortest/longest length ratio a containment
	// match needs ("email" in "user_email" is 0.5 and does not match).
	MinContainmentRatio float64
	// FuzzySimilarity is the minimum normalized Levenshtein similarity.
	FuzzySimilarity float64
	// MaxIDPairs caps id inference mappings per asset pair.
	MaxIDPairs   int
	Now          time.Time
	RecentWindow time.Duration
}

// Matcher matches columns between assets.
type Matcher struct {
	cfg Config
}

// New creates a Matcher, filling zero thresholds with defaults.
func New(cfg Config) *Matcher {
	if cfg.MinContainmentRatio <= 0 {
		cfg.MinContainmentRatio = DefaultMinContainmentRatio
	}
	if cfg.FuzzySimilarity <= 0 {
		cfg.FuzzySimilarity = DefaultFuzzySimilarity
	}
	if cfg.MaxIDPairs <= 0 {
		cfg.MaxIDPairs = DefaultMaxIDPairs
	}
	if cfg.Now.IsZero() {
		cfg.Now = time.Now().UTC()
	}
	return &Matcher{cfg: cfg}
}

// Match maps source columns onto target columns. targetSQL is the
// extraction result of the target's defining SQL, or nil. Each target column
// receives at most one mapping; a source column is consumed by the first
// name-based match that uses it.
func (m *Matcher) Match(source, target core.Asset, targetSQL *sqlref.Result) []core.ColumnLineage {
	var out []core.ColumnLineage
	used := make(map[string]bool)

	for _, tc := range target.Columns {
		if sc, ok := m.exact(source, tc, used); ok {
			rel, impact := core.ColDirectMatch, ImpactExactDirect
			if !scoring.TypesAgree(sc.Type, tc.Type) {
				rel, impact = core.ColTransformed, ImpactExactTransformed
			}
			used[fold(sc.Name)] = true
			out = append(out, m.Mapping(source, sc, target, tc, rel, impact))
			continue
		}
		if sc, ok := m.fuzzy(source, tc, used); ok {
			rel, impact := core.ColDirectMatch, ImpactFuzzyDirect
			if !scoring.TypesAgree(sc.Type, tc.Type) {
				rel, impact = core.ColTransformed, ImpactFuzzyTransformed
			}
			used[fold(sc.Name)] = true
			out = append(out, m.Mapping(source, sc, target, tc, rel, impact))
			continue
		}
		if targetSQL != nil {
			if sc, rel, ok := m.sqlUsage(source, tc, targetSQL); ok {
				out = append(out, m.Mapping(source, sc, target, tc, rel, sqlImpact(rel)))
			}
		}
	}
	return out
}

// MatchIDs maps shared id-like columns (id, *_id, id_*) as id inference,
// capped at MaxIDPairs.
func (m *Matcher) MatchIDs(source, target core.Asset) []core.ColumnLineage {
	var out []core.ColumnLineage
	for _, sc := range source.Columns {
		if !IsIDLike(sc.Name) {
			continue
		}
		tc, ok := target.Column(sc.Name)
		if !ok {
			continue
		}
		out = append(out, m.Mapping(source, sc, target, tc, core.ColIDInference, ImpactIDInference))
		if len(out) >= m.cfg.MaxIDPairs {
			break
		}
	}
	return out
}

// Mapping builds a ColumnLineage with PII and quality attached.
func (m *Matcher) Mapping(source core.Asset, sc core.Column, target core.Asset, tc core.Column, rel core.ColumnRelation, impact int) core.ColumnLineage {
	tier := core.MaxTier(scoring.ClassifyPII(sc.Name, sc.Tags), scoring.ClassifyPII(tc.Name, tc.Tags))
	sq := scoring.QualityScore(sc, scoring.StatsOf(source), m.cfg.Now, m.cfg.RecentWindow)
	tq := scoring.QualityScore(tc, scoring.StatsOf(target), m.cfg.Now, m.cfg.RecentWindow)
	return core.ColumnLineage{
		SourceTable:      source.ID,
		SourceColumn:     sc.Name,
		TargetTable:      target.ID,
		TargetColumn:     tc.Name,
		RelationshipType: rel,
		ContainsPII:      tier != core.PIINone,
		PIITier:          tier,
		DataQualityScore: int(math.Round(float64(sq+tq) / 2)),
		ImpactScore:      impact,
	}
}

func (m *Matcher) exact(source core.Asset, tc core.Column, used map[string]bool) (core.Column, bool) {
	want := fold(tc.Name)
	for _, sc := range source.Columns {
		if key := fold(sc.Name); key == want && !used[key] {
			return sc, true
		}
	}
	return core.Column{}, false
}

// fuzzy tries, across all unused source columns, underscore-insensitive
// equality, then bounded containment, then Levenshtein similarity.
func (m *Matcher) fuzzy(source core.Asset, tc core.Column, used map[string]bool) (core.Column, bool) {
	target := fold(tc.Name)
	candidates := make([]core.Column, 0, len(source.Columns))
	for _, sc := range source.Columns {
		if key := fold(sc.Name); !used[key] && key != target {
			candidates = append(candidates, sc)
		}
	}

	bare := strings.ReplaceAll(target, "_", "")
	for _, sc := range candidates {
		if strings.ReplaceAll(fold(sc.Name), "_", "") == bare {
			return sc, true
		}
	}
	for _, sc := range candidates {
		if m.contains(fold(sc.Name), target) {
			return sc, true
		}
	}
	for _, sc := range candidates {
		if Similarity(fold(sc.Name), target) >= m.cfg.FuzzySimilarity {
			return sc, true
		}
	}
	return core.Column{}, false
}

func (m *Matcher) contains(a, b string) bool {
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) < minContainmentLength || !strings.Contains(long, short) {
		return false
	}
	return float64(len(short))/float64(len(long)) >= m.cfg.MinContainmentRatio
}

// Similarity is 1 - levenshtein(a, b) / max(len(a), len(b)).
func Similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 0
	}
	opts := levenshtein.Options{InsCost: 1, DelCost: 1, SubCost: 1, Matches: levenshtein.IdenticalRunes}
	return 1 - float64(levenshtein.DistanceForStrings(ra, rb, opts))/float64(longest)
}

// sqlUsage finds the select item defining tc and checks it reads a column
// of source.
func (m *Matcher) sqlUsage(source core.Asset, tc core.Column, res *sqlref.Result) (core.Column, core.ColumnRelation, bool) {
	want := fold(tc.Name)
	for _, item := range res.SelectItems {
		if fold(item.Name) != want {
			continue
		}
		for _, ref := range item.Refs {
			if !RefersTo(ref.Table, source) {
				continue
			}
			sc, ok := source.Column(ref.Column)
			if !ok {
				continue
			}
			return sc, classifyUsage(item.Functions, fold(sc.Name) == want), true
		}
	}
	return core.Column{}, "", false
}

func classifyUsage(functions []string, sameName bool) core.ColumnRelation {
	var category string
	for _, fn := range functions {
		c := sqlref.FunctionCategory(fn)
		if fn == sqlref.TypeCase {
			c = sqlref.CategoryConditional
		}
		if c == sqlref.CategoryAggregation {
			return core.ColAggregation
		}
		if category == "" {
			category = c
		}
	}
	switch category {
	case sqlref.CategoryString:
		return core.ColStringTransform
	case sqlref.CategoryDate:
		return core.ColDateTransform
	case sqlref.CategoryConditional:
		return core.ColSQLTransformation
	}
	if len(functions) > 0 {
		return core.ColSQLTransformation
	}
	if sameName {
		return core.ColSQLReference
	}
	return core.ColSQLDerived
}

func sqlImpact(rel core.ColumnRelation) int {
	switch rel {
	case core.ColSQLReference:
		return ImpactSQLReference
	case core.ColSQLDerived:
		return ImpactSQLDerived
	default:
		return ImpactSQLOther
	}
}

// RefersTo reports whether a table reference taken from SQL names the asset:
// its full id, a dotted suffix of it, or its short name.
func RefersTo(ref string, a core.Asset) bool {
	if ref == "" {
		return false
	}
	r, id := fold(ref), fold(a.ID)
	if r == id || strings.HasSuffix(id, "."+r) {
		return true
	}
	return r == fold(a.ShortName())
}

// IsIDLike reports whether a column name follows an id naming pattern.
func IsIDLike(name string) bool {
	n := fold(name)
	return n == "id" || strings.HasSuffix(n, "_id") || strings.HasPrefix(n, "id_")
}

func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}
