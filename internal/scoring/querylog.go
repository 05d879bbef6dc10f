package scoring

import (
	"strings"
	"unicode"

	"github.com/leapstack-labs/leaplineage/pkg/core"
)

// QueryLogIndex answers whether two tables were queried together.
type QueryLogIndex struct {
	statements []map[string]struct{}
}

// NewQueryLogIndex tokenizes every logged statement once.
func NewQueryLogIndex(entries []core.QueryLogEntry) *QueryLogIndex {
	idx := &QueryLogIndex{statements: make([]map[string]struct{}, 0, len(entries))}
	for _, e := range entries {
		words := strings.FieldsFunc(strings.ToLower(e.SQL), func(r rune) bool {
			return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-')
		})
		set := make(map[string]struct{}, len(words))
		for _, w := range words {
			set[w] = struct{}{}
		}
		idx.statements = append(idx.statements, set)
	}
	return idx
}

// Implies reports whether the short names of both asset ids appear as whole
// identifiers in the same logged statement.
func (idx *QueryLogIndex) Implies(sourceID, targetID string) bool {
	if idx == nil {
		return false
	}
	a, b := shortName(sourceID), shortName(targetID)
	if a == "" || b == "" {
		return false
	}
	for _, stmt := range idx.statements {
		_, okA := stmt[a]
		_, okB := stmt[b]
		if okA && okB {
			return true
		}
	}
	return false
}

func shortName(id string) string {
	id = strings.ToLower(id)
	if i := strings.LastIndex(id, "."); i >= 0 {
		return id[i+1:]
	}
	return id
}
