package lineage

import (
	"strings"

	"github.com/leapstack-labs/leaplineage/pkg/core"
	"golang.org/x/text/cases"
)

// resolver maps table names found in SQL onto node ids.
type resolver struct {
	exact  map[string]string
	folded map[string]string
	ids    []string // folded ids, parallel to orig
	orig   []string
	short  map[string][]string
}

func newResolver(assets []core.Asset) *resolver {
	r := &resolver{
		exact:  make(map[string]string, len(assets)),
		folded: make(map[string]string, len(assets)),
		short:  make(map[string][]string),
	}
	for _, a := range assets {
		r.exact[a.ID] = a.ID
		f := fold(a.ID)
		if _, dup := r.folded[f]; !dup {
			r.folded[f] = a.ID
		}
		r.ids = append(r.ids, f)
		r.orig = append(r.orig, a.ID)
		s := fold(a.ShortName())
		r.short[s] = append(r.short[s], a.ID)
	}
	return r
}

// resolve tries exact id, case-folded id, a unique dotted suffix
// (catalog.name), then a unique short name.
func (r *resolver) resolve(ref string) (string, bool) {
	if ref == "" {
		return "", false
	}
	if id, ok := r.exact[ref]; ok {
		return id, true
	}
	f := fold(ref)
	if id, ok := r.folded[f]; ok {
		return id, true
	}

	var match string
	n := 0
	for i, id := range r.ids {
		if strings.HasSuffix(id, "."+f) {
			match = r.orig[i]
			n++
		}
	}
	if n == 1 {
		return match, true
	}

	short := f
	if i := strings.LastIndex(short, "."); i >= 0 {
		short = short[i+1:]
	}
	if ids := r.short[short]; len(ids) == 1 {
		return ids[0], true
	}
	return "", false
}

func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}
