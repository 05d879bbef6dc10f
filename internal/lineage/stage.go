package lineage

import (
	"strings"

	"github.com/leapstack-labs/leaplineage/pkg/core"
)

// Pipeline stage ranks. Lower ranks feed higher ranks.
var stageRanks = map[string]int{
	"raw": 0, "src": 0, "source": 0, "landing": 0,
	"stg": 1, "staging": 1, "clean": 1,
	"analytics": 2, "prod": 2, "mart": 2, "marts": 2, "dw": 2, "gold": 2,
}

// stage describes where an asset sits in a pipeline.
type stage struct {
	rank int
	ok   bool
	base string // short name without stage prefix, folded
}

// stageOf reads the stage from a name prefix (stg_orders) or from any dotted
// segment of the id before the name (proj.staging.orders). The name prefix
// wins when both are present.
func stageOf(a core.Asset) stage {
	name := fold(a.ShortName())
	st := stage{base: name}

	if i := strings.IndexByte(name, '_'); i > 0 {
		if rank, ok := stageRanks[name[:i]]; ok && i+1 < len(name) {
			return stage{rank: rank, ok: true, base: name[i+1:]}
		}
	}

	segments := strings.Split(fold(a.ID), ".")
	if a.Catalog != "" {
		segments = append([]string{fold(a.Catalog)}, segments...)
	}
	for _, seg := range segments[:len(segments)-1] {
		if rank, ok := stageRanks[seg]; ok {
			st.rank, st.ok = rank, true
		}
	}
	return st
}
