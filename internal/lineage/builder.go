// Package lineage assembles the lineage graph from catalog assets.
//
// A build filters assets to the active sources, turns tables and views into
// nodes, and infers edges with three strategies of decreasing strength:
// SQL references of views, structural metadata of tables (foreign keys,
// id naming, pipeline stages), and a bounded pairwise column-overlap scan.
// Edges are scored, signed, merged with stored reconciled or curated edges,
// and finally filtered by time and paginated.
package lineage

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/leapstack-labs/leaplineage/internal/matcher"
	"github.com/leapstack-labs/leaplineage/internal/provenance"
	"github.com/leapstack-labs/leaplineage/internal/scoring"
	"github.com/leapstack-labs/leaplineage/pkg/core"
	"github.com/leapstack-labs/leaplineage/pkg/sqlref"
)

// Defaults for the pairwise scan.
const (
	DefaultPairwiseEdgeThreshold  = 50
	DefaultMaxPairwiseAssets      = 500
	DefaultMaxPairwiseComparisons = 250000
)

// Source tags recorded on inferred edges.
const (
	SourceSQL       = "sql"
	SourceStructure = "structure"
	SourceMetadata  = "metadata_overlap"
)

// Config configures a Builder.
type Config struct {
	// PairwiseEdgeThreshold: the pairwise scan only runs while fewer edges exist.
	PairwiseEdgeThreshold  int
	MaxPairwiseAssets      int
	MaxPairwiseComparisons int

	Matcher matcher.Config

	// StaleAfter marks stored edges not updated within this window as stale.
	// Zero disables.
	StaleAfter         time.Duration
	IncludeStoredEdges bool

	Signer  *provenance.Signer
	Fetcher core.SQLFetcher
	Logger  *slog.Logger
	Now     func() time.Time
}

// Input is one build request.
type Input struct {
	Assets        []core.Asset
	ActiveSources []string
	Page          int
	PageSize      int
	AsOf          *time.Time
	QueryLogs     []core.QueryLogEntry
	StoredEdges   []core.Edge
	// ViewSQL holds view bodies fetched ahead of the build, keyed by asset id.
	ViewSQL map[string]string
}

// Builder assembles graphs. It holds no per-build state and is safe for
// concurrent use.
type Builder struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewBuilder creates a Builder, applying defaults to zero limits.
func NewBuilder(cfg Config) *Builder {
	if cfg.PairwiseEdgeThreshold <= 0 {
		cfg.PairwiseEdgeThreshold = DefaultPairwiseEdgeThreshold
	}
	if cfg.MaxPairwiseAssets <= 0 {
		cfg.MaxPairwiseAssets = DefaultMaxPairwiseAssets
	}
	if cfg.MaxPairwiseComparisons <= 0 {
		cfg.MaxPairwiseComparisons = DefaultMaxPairwiseComparisons
	}
	b := &Builder{cfg: cfg, logger: cfg.Logger, now: cfg.Now}
	if b.logger == nil {
		b.logger = slog.New(slog.DiscardHandler)
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

// pendingEdge is an edge under construction with the transformations that
// feed its score.
type pendingEdge struct {
	edge       core.Edge
	transforms []sqlref.Transformation
}

// build carries the state of one Build call.
type build struct {
	*Builder
	ctx     context.Context
	now     time.Time
	in      Input
	assets  []core.Asset
	byID    map[string]*core.Asset
	stages  map[string]stage
	resolve *resolver
	match   *matcher.Matcher

	edges []*pendingEdge
	index map[core.EdgeKey]int
	pairs map[[2]string]bool
}

// Build assembles the graph for one request.
func (b *Builder) Build(ctx context.Context, in Input) (*core.GraphResponse, error) {
	now := b.now().UTC()
	mcfg := b.cfg.Matcher
	if mcfg.Now.IsZero() {
		mcfg.Now = now
	}

	st := &build{
		Builder: b,
		ctx:     ctx,
		now:     now,
		in:      in,
		byID:    make(map[string]*core.Asset),
		stages:  make(map[string]stage),
		match:   matcher.New(mcfg),
		index:   make(map[core.EdgeKey]int),
		pairs:   make(map[[2]string]bool),
	}
	st.assets = filterAssets(in.Assets, in.ActiveSources)
	for i := range st.assets {
		a := &st.assets[i]
		st.byID[a.ID] = a
		st.stages[a.ID] = stageOf(*a)
	}
	st.resolve = newResolver(st.assets)

	nodes := make([]core.Node, 0, len(st.assets))
	for _, a := range st.assets {
		nodes = append(nodes, nodeOf(a))
	}

	st.sqlEdges()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st.structuralEdges()
	if len(st.edges) < b.cfg.PairwiseEdgeThreshold {
		if err := st.pairwiseEdges(); err != nil {
			return nil, err
		}
	}
	if err := st.idInferenceEdges(); err != nil {
		return nil, err
	}

	edges := st.finalize()
	if b.cfg.IncludeStoredEdges {
		edges = st.overlay(edges, in.StoredEdges)
	}

	if in.AsOf != nil {
		nodes, edges = filterAsOf(nodes, edges, *in.AsOf)
	}
	resp := paginate(nodes, edges, in.Page, in.PageSize)
	resp.AsOf = in.AsOf
	resp.GeneratedAt = now

	b.logger.Debug("built lineage graph",
		"assets", len(st.assets),
		"nodes", resp.TotalNodes,
		"edges", resp.TotalEdges,
		"page", resp.Page)
	return resp, nil
}

// filterAssets keeps graph-node assets of active sources, sorted by id.
// A nil source list means every source is active.
func filterAssets(assets []core.Asset, active []string) []core.Asset {
	var allowed map[string]bool
	if active != nil {
		allowed = make(map[string]bool, len(active))
		for _, id := range active {
			allowed[id] = true
		}
	}
	seen := make(map[string]bool, len(assets))
	out := make([]core.Asset, 0, len(assets))
	for _, a := range assets {
		if !a.IsGraphNode() || seen[a.ID] {
			continue
		}
		if allowed != nil && !allowed[a.ConnectorID] {
			continue
		}
		seen[a.ID] = true
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func nodeOf(a core.Asset) core.Node {
	pii := 0
	for _, c := range a.Columns {
		if scoring.ClassifyPII(c.Name, c.Tags) != core.PIINone {
			pii++
		}
	}
	return core.Node{
		ID:           a.ID,
		Name:         a.Name,
		Type:         a.Type,
		Catalog:      a.Catalog,
		ConnectorID:  a.ConnectorID,
		SourceSystem: a.SourceSystem,
		ColumnCount:  len(a.Columns),
		PIIColumns:   pii,
	}
}

func pairKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

// hasPair reports whether any edge joins a and b in either direction.
func (st *build) hasPair(a, b string) bool {
	return st.pairs[pairKey(a, b)]
}

// addEdge inserts an edge unless its (source, target) is already present.
func (st *build) addEdge(source, target string, rel core.Relationship, lineage []core.ColumnLineage,
	transforms []sqlref.Transformation, status core.ValidationStatus, origin string) bool {
	if source == target {
		return false
	}
	key := core.EdgeKey{Source: source, Target: target}
	if _, dup := st.index[key]; dup {
		return false
	}
	if lineage == nil {
		lineage = []core.ColumnLineage{}
	}
	st.index[key] = len(st.edges)
	st.pairs[pairKey(source, target)] = true
	st.edges = append(st.edges, &pendingEdge{
		edge: core.Edge{
			Source:           source,
			Target:           target,
			Relationship:     rel,
			ColumnLineage:    lineage,
			ValidationStatus: status,
			Sources:          []string{origin},
		},
		transforms: transforms,
	})
	return true
}

// finalize folds in the query-log signal, scores, timestamps and signs.
func (st *build) finalize() []core.Edge {
	logs := scoring.NewQueryLogIndex(st.in.QueryLogs)
	out := make([]core.Edge, 0, len(st.edges))
	for _, p := range st.edges {
		e := p.edge
		transforms := p.transforms
		if logs.Implies(e.Source, e.Target) {
			transforms = append(append([]sqlref.Transformation(nil), transforms...), sqlref.QueryLog())
		}

		e.ConfidenceScore, e.Evidence = scoring.Confidence(e.Relationship, e.ColumnLineage, transforms)
		if e.Evidence == nil {
			e.Evidence = []string{}
		}
		e.TotalPIIColumns, e.AvgDataQuality = scoring.Aggregate(e.ColumnLineage)
		e.CreatedAt = st.discoveredAt(e.Source, e.Target)
		e.UpdatedAt = st.now
		if sig, ok := st.cfg.Signer.Sign(e); ok {
			e.EdgeSignature = sig
		}
		out = append(out, e)
	}
	return out
}

// discoveredAt is the later discovery time of two assets, or the build time
// when neither is known.
func (st *build) discoveredAt(a, b string) time.Time {
	var t time.Time
	for _, id := range []string{a, b} {
		if asset, ok := st.byID[id]; ok && asset.DiscoveredAt.After(t) {
			t = asset.DiscoveredAt
		}
	}
	if t.IsZero() {
		return st.now
	}
	return t.UTC()
}
