package lineage

import (
	"errors"
	"sort"
	"strings"

	"github.com/leapstack-labs/leaplineage/internal/matcher"
	"github.com/leapstack-labs/leaplineage/pkg/core"
	"github.com/leapstack-labs/leaplineage/pkg/sqlref"
)

// errBudget stops a pairwise loop once the comparison budget is spent.
var errBudget = errors.New("pairwise comparison budget exhausted")

// viewSQL returns the body of a view: inline, prefetched, or fetched now.
// A failed fetch degrades to no SQL.
func (st *build) viewSQL(a *core.Asset) string {
	if a.SQL != "" {
		return a.SQL
	}
	if sql, ok := st.in.ViewSQL[a.ID]; ok {
		return sql
	}
	if a.Type != core.AssetView || st.cfg.Fetcher == nil {
		return ""
	}
	sql, err := st.cfg.Fetcher.FetchSQL(st.ctx, *a)
	if err != nil {
		st.logger.Warn("view SQL unavailable", "asset", a.ID, "error", core.ErrSourceUnavailable(a.ConnectorID, err))
		return ""
	}
	return sql
}

// sqlEdges links every table a view's SQL reads to the view.
func (st *build) sqlEdges() {
	added := 0
	for i := range st.assets {
		view := &st.assets[i]
		if view.Type != core.AssetView {
			continue
		}
		sql := st.viewSQL(view)
		if strings.TrimSpace(sql) == "" {
			continue
		}
		res := sqlref.Extract(sql)

		rel := core.Rel(core.RelFeedsInto)
		if types := res.TransformationTypes(); len(types) > 0 {
			rel.Annotation = "transforms: " + strings.Join(types, ", ")
		}

		for _, ref := range res.Tables {
			sourceID, ok := st.resolve.resolve(ref)
			if !ok || sourceID == view.ID {
				continue
			}
			lineage := st.match.Match(*st.byID[sourceID], *view, &res)
			if st.addEdge(sourceID, view.ID, rel, lineage, res.Transformations, core.StatusValid, SourceSQL) {
				added++
			}
		}
	}
	st.logger.Debug("sql strategy", "edges", added)
}

func (st *build) tables() []*core.Asset {
	var tables []*core.Asset
	for i := range st.assets {
		if st.assets[i].Type == core.AssetTable {
			tables = append(tables, &st.assets[i])
		}
	}
	return tables
}

// structuralEdges infers edges among tables from declared foreign keys, id
// naming patterns and pipeline stage conventions.
func (st *build) structuralEdges() {
	tables := st.tables()
	st.foreignKeyEdges(tables)
	st.idNamingEdges(tables)
	st.stageEdges(tables)
}

func (st *build) foreignKeyEdges(tables []*core.Asset) {
	for _, t := range tables {
		byRef := make(map[string][]core.ColumnLineage)
		var order []string
		for _, fk := range t.ForeignKeys {
			refID, ok := st.resolve.resolve(fk.RefAsset)
			if !ok || refID == t.ID {
				continue
			}
			ref := st.byID[refID]
			refCol, ok := ref.Column(fk.RefColumn)
			if !ok {
				refCol = core.Column{Name: fk.RefColumn}
			}
			col, ok := t.Column(fk.Column)
			if !ok {
				col = core.Column{Name: fk.Column}
			}
			if _, seen := byRef[refID]; !seen {
				order = append(order, refID)
			}
			byRef[refID] = append(byRef[refID],
				st.match.Mapping(*ref, refCol, *t, col, core.ColForeignKey, matcher.ImpactForeignKey))
		}
		for _, refID := range order {
			st.addEdge(refID, t.ID, core.Rel(core.RelForeignKey), byRef[refID],
				[]sqlref.Transformation{sqlref.Pipeline(sqlref.TypeForeignKey)}, core.StatusValid, SourceStructure)
		}
	}
}

// idNamingEdges links a table with an id column to tables holding <name>_id.
func (st *build) idNamingEdges(tables []*core.Asset) {
	byBase := make(map[string][]*core.Asset)
	for _, t := range tables {
		if _, ok := t.Column("id"); ok {
			base := st.stages[t.ID].base
			byBase[base] = append(byBase[base], t)
		}
	}

	for _, t := range tables {
		for _, col := range t.Columns {
			name := fold(col.Name)
			if !strings.HasSuffix(name, "_id") || len(name) <= len("_id") {
				continue
			}
			x := strings.TrimSuffix(name, "_id")
			for _, base := range []string{x, x + "s", x + "es"} {
				for _, ref := range byBase[base] {
					if ref.ID == t.ID || st.hasPair(ref.ID, t.ID) {
						continue
					}
					refCol, _ := ref.Column("id")
					mapping := st.match.Mapping(*ref, refCol, *t, col, core.ColIDInference, matcher.ImpactIDInference)
					st.addEdge(ref.ID, t.ID, core.Rel(core.RelIDRelationship), []core.ColumnLineage{mapping},
						[]sqlref.Transformation{sqlref.Pipeline(sqlref.TypeIDRelationship)}, core.StatusInferred, SourceStructure)
				}
			}
		}
	}
}

// stageEdges links tables sharing a base name across pipeline stages, each
// to the next stage present.
func (st *build) stageEdges(tables []*core.Asset) {
	groups := make(map[string][]*core.Asset)
	var bases []string
	for _, t := range tables {
		s := st.stages[t.ID]
		if !s.ok {
			continue
		}
		if _, seen := groups[s.base]; !seen {
			bases = append(bases, s.base)
		}
		groups[s.base] = append(groups[s.base], t)
	}
	sort.Strings(bases)

	for _, base := range bases {
		group := groups[base]
		sort.SliceStable(group, func(i, j int) bool {
			return st.stages[group[i].ID].rank < st.stages[group[j].ID].rank
		})
		for i, lower := range group {
			lr := st.stages[lower.ID].rank
			next := -1
			for _, higher := range group[i+1:] {
				hr := st.stages[higher.ID].rank
				if hr == lr {
					continue
				}
				if next >= 0 && hr != next {
					break
				}
				next = hr
				if st.hasPair(lower.ID, higher.ID) {
					continue
				}
				kind, typ := core.RelELTPipeline, sqlref.TypeELTPipeline
				if lower.Catalog != higher.Catalog || lower.ConnectorID != higher.ConnectorID {
					kind, typ = core.RelETLPipeline, sqlref.TypeETLPipeline
				}
				lineage := st.match.Match(*lower, *higher, nil)
				st.addEdge(lower.ID, higher.ID, core.Rel(kind), lineage,
					[]sqlref.Transformation{sqlref.Pipeline(typ)}, core.StatusInferred, SourceStructure)
			}
		}
	}
}

// idInferenceEdges links tables of the same connector sharing id-like
// columns when no edge joins them yet. It runs after the pairwise scan so a
// shared id never shadows a richer column overlap.
func (st *build) idInferenceEdges() error {
	tables := st.tables()
	budget := st.cfg.MaxPairwiseComparisons
	err := st.eachPair(tables, &budget, func(a, b *core.Asset) {
		source, target := st.orient(a, b, false)
		lineage := st.match.MatchIDs(*source, *target)
		if len(lineage) == 0 {
			return
		}
		st.addEdge(source.ID, target.ID, core.Rel(core.RelIDInference), lineage, nil, core.StatusInferred, SourceStructure)
	})
	if errors.Is(err, errBudget) {
		st.logger.Warn("id inference stopped at comparison budget", "budget", st.cfg.MaxPairwiseComparisons)
		return nil
	}
	return err
}

// pairwiseEdges is the fallback scan: two assets of one connector with at
// least two column mappings are linked.
func (st *build) pairwiseEdges() error {
	assets := make([]*core.Asset, len(st.assets))
	for i := range st.assets {
		assets[i] = &st.assets[i]
	}

	added := 0
	budget := st.cfg.MaxPairwiseComparisons
	err := st.eachPair(assets, &budget, func(a, b *core.Asset) {
		source, target := st.orient(a, b, true)
		var res *sqlref.Result
		if sql := st.viewSQL(target); strings.TrimSpace(sql) != "" {
			r := sqlref.Extract(sql)
			res = &r
		}
		lineage := st.match.Match(*source, *target, res)
		if len(lineage) < 2 {
			return
		}
		if st.addEdge(source.ID, target.ID, core.Rel(core.RelInferredFromMetadata), lineage, nil, core.StatusInferred, SourceMetadata) {
			added++
		}
	})
	if errors.Is(err, errBudget) {
		st.logger.Warn("pairwise scan stopped at comparison budget", "budget", st.cfg.MaxPairwiseComparisons)
		err = nil
	}
	st.logger.Debug("pairwise strategy", "edges", added)
	return err
}

// eachPair visits unordered pairs within each connector group, taking the
// first MaxPairwiseAssets of every group in id order and skipping pairs
// already joined by an edge. Cancellation is checked before every pair.
func (st *build) eachPair(assets []*core.Asset, budget *int, fn func(a, b *core.Asset)) error {
	groups := make(map[string][]*core.Asset)
	var keys []string
	for _, a := range assets {
		if _, seen := groups[a.ConnectorID]; !seen {
			keys = append(keys, a.ConnectorID)
		}
		groups[a.ConnectorID] = append(groups[a.ConnectorID], a)
	}
	sort.Strings(keys)

	for _, key := range keys {
		group := groups[key]
		sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
		if len(group) > st.cfg.MaxPairwiseAssets {
			st.logger.Warn("pairwise group truncated", "connector", key, "assets", len(group), "limit", st.cfg.MaxPairwiseAssets)
			group = group[:st.cfg.MaxPairwiseAssets]
		}
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				if err := st.ctx.Err(); err != nil {
					return err
				}
				if st.hasPair(group[i].ID, group[j].ID) {
					continue
				}
				if *budget <= 0 {
					return errBudget
				}
				*budget--
				fn(group[i], group[j])
			}
		}
	}
	return nil
}

// orient picks the direction of an inferred edge: lower pipeline stage
// first; with viewAware, a table feeds a view; otherwise lexical id order.
func (st *build) orient(a, b *core.Asset, viewAware bool) (source, target *core.Asset) {
	sa, sb := st.stages[a.ID], st.stages[b.ID]
	if sa.ok && sb.ok && sa.rank != sb.rank {
		if sa.rank < sb.rank {
			return a, b
		}
		return b, a
	}
	if viewAware && a.Type != b.Type {
		if a.Type == core.AssetView {
			return b, a
		}
		return a, b
	}
	if a.ID <= b.ID {
		return a, b
	}
	return b, a
}
