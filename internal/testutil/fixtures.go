package testutil

import (
	"context"
	"strings"

	"github.com/leapstack-labs/leaplineage/pkg/core"
)

// Table returns a table asset. Columns are given as "name" or "name:TYPE".
func Table(id, connector string, columns ...string) core.Asset {
	return asset(id, connector, core.AssetTable, columns)
}

// View returns a view asset with an inline body.
func View(id, connector, sql string, columns ...string) core.Asset {
	a := asset(id, connector, core.AssetView, columns)
	a.SQL = sql
	return a
}

func asset(id, connector string, typ core.AssetType, columns []string) core.Asset {
	name := id
	if i := strings.LastIndex(id, "."); i >= 0 {
		name = id[i+1:]
	}
	a := core.Asset{ID: id, Name: name, Type: typ, ConnectorID: connector}
	for _, def := range columns {
		col := core.Column{Name: def}
		if n, t, ok := strings.Cut(def, ":"); ok {
			col = core.Column{Name: n, Type: t}
		}
		a.Columns = append(a.Columns, col)
	}
	return a
}

// StaticRegistry serves a fixed asset list, filtered by connector id.
type StaticRegistry struct {
	Assets []core.Asset
	Err    error
	SQL    map[string]string // view id -> body for FetchSQL
}

// ListAssets implements core.AssetRegistry.
func (r *StaticRegistry) ListAssets(_ context.Context, activeSources []string) ([]core.Asset, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	if activeSources == nil {
		return append([]core.Asset(nil), r.Assets...), nil
	}
	active := make(map[string]bool, len(activeSources))
	for _, id := range activeSources {
		active[id] = true
	}
	var out []core.Asset
	for _, a := range r.Assets {
		if active[a.ConnectorID] {
			out = append(out, a)
		}
	}
	return out, nil
}

// FetchSQL implements core.SQLFetcher.
func (r *StaticRegistry) FetchSQL(_ context.Context, a core.Asset) (string, error) {
	if body, ok := r.SQL[a.ID]; ok {
		return body, nil
	}
	return a.SQL, nil
}
