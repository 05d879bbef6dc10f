// Package engine orchestrates one lineage process: it lists assets from the
// registry, assembles the graph, and fronts the reconciler, the curation
// workflow and the snapshot log. Computation is request scoped; the engine
// keeps no graph between calls.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/leaplineage/internal/config"
	"github.com/leapstack-labs/leaplineage/internal/curation"
	"github.com/leapstack-labs/leaplineage/internal/dag"
	"github.com/leapstack-labs/leaplineage/internal/lineage"
	"github.com/leapstack-labs/leaplineage/internal/matcher"
	"github.com/leapstack-labs/leaplineage/internal/provenance"
	"github.com/leapstack-labs/leaplineage/internal/reconcile"
	"github.com/leapstack-labs/leaplineage/internal/telemetry"
	"github.com/leapstack-labs/leaplineage/pkg/core"
)

// DefaultDepth is the neighbourhood depth used when none is given.
const DefaultDepth = 1

// activeSourcer is implemented by registries that track enabled sources.
type activeSourcer interface {
	ActiveSources() []string
}

// Config holds the engine's collaborators and tuning.
type Config struct {
	Registry core.AssetRegistry
	// Fetcher serves view bodies. When nil and the registry implements
	// core.SQLFetcher, the registry is used.
	Fetcher      core.SQLFetcher
	Store        core.GraphStore
	Signer       *provenance.Signer
	Inference    config.InferenceConfig
	RequiredRole string
	Logger       *slog.Logger
	Now          func() time.Time
}

// Engine is the process-wide entry point to the lineage engine.
type Engine struct {
	registry   core.AssetRegistry
	fetcher    core.SQLFetcher
	store      core.GraphStore
	signer     *provenance.Signer
	builder    *lineage.Builder
	reconciler *reconcile.Reconciler
	curation   *curation.Service
	inference  config.InferenceConfig
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// GraphOptions are the retrieval parameters of a graph request.
type GraphOptions struct {
	Page     int
	PageSize int
	AsOf     *time.Time
	// Snapshot appends the computed response to the snapshot log.
	Snapshot bool
}

// New creates an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("asset registry is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("graph store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	fetcher := cfg.Fetcher
	if fetcher == nil {
		fetcher, _ = cfg.Registry.(core.SQLFetcher)
	}
	inf := cfg.Inference

	e := &Engine{
		registry:  cfg.Registry,
		fetcher:   fetcher,
		store:     cfg.Store,
		signer:    cfg.Signer,
		inference: inf,
		logger:    logger,
		tracer:    telemetry.Tracer("leaplineage/engine"),
		now:       now,
	}
	e.builder = lineage.NewBuilder(lineage.Config{
		PairwiseEdgeThreshold:  inf.PairwiseEdgeThreshold,
		MaxPairwiseAssets:      inf.MaxPairwiseAssets,
		MaxPairwiseComparisons: inf.MaxPairwiseComparisons,
		Matcher: matcher.Config{
			MinContainmentRatio: inf.MinContainmentRatio,
			FuzzySimilarity:     inf.FuzzySimilarity,
			MaxIDPairs:          inf.MaxIDPairs,
			RecentWindow:        inf.RecentWindow,
		},
		StaleAfter:         inf.StaleAfter,
		IncludeStoredEdges: inf.IncludeStoredEdges,
		Signer:             cfg.Signer,
		Fetcher:            fetcher,
		Logger:             logger.With(slog.String("component", "lineage")),
		Now:                now,
	})
	e.reconciler = reconcile.New(reconcile.Config{
		Store:  cfg.Store,
		Signer: cfg.Signer,
		Logger: logger.With(slog.String("component", "reconcile")),
		Now:    now,
	})
	e.curation = curation.NewService(curation.Config{
		Store:        cfg.Store,
		Signer:       cfg.Signer,
		Logger:       logger.With(slog.String("component", "curation")),
		RequiredRole: cfg.RequiredRole,
		Now:          now,
	})
	return e, nil
}

// Store returns the graph store.
func (e *Engine) Store() core.GraphStore {
	return e.store
}

// Signer returns the provenance signer. It may be disabled.
func (e *Engine) Signer() *provenance.Signer {
	return e.signer
}

// RequiredRole returns the role claim curation accepts.
func (e *Engine) RequiredRole() string {
	return e.curation.RequiredRole()
}

func (e *Engine) activeSources() []string {
	if s, ok := e.registry.(activeSourcer); ok {
		return s.ActiveSources()
	}
	return nil
}

// Graph computes the lineage graph for one request.
func (e *Engine) Graph(ctx context.Context, opts GraphOptions) (resp *core.GraphResponse, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.Graph", trace.WithAttributes(
		attribute.Int("page", opts.Page),
		attribute.Int("page_size", opts.PageSize),
		attribute.Bool("snapshot", opts.Snapshot),
	))
	defer func() { telemetry.End(span, err) }()

	resp, _, err = e.compute(ctx, opts)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("nodes", resp.TotalNodes), attribute.Int("edges", resp.TotalEdges))

	if opts.Snapshot {
		if _, err := e.snapshot(ctx, resp); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// compute lists assets and builds the graph. It returns the assets of the
// active sources alongside the response.
func (e *Engine) compute(ctx context.Context, opts GraphOptions) (*core.GraphResponse, []core.Asset, error) {
	active := e.activeSources()
	assets, err := e.registry.ListAssets(ctx, active)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list assets: %w", core.ErrSourceUnavailable("registry", err))
	}

	logs, err := e.store.QueryLogs(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load query logs: %w", err)
	}
	var stored []core.Edge
	if e.inference.IncludeStoredEdges {
		if stored, err = e.store.Edges(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to load stored edges: %w", err)
		}
	}

	viewSQL, err := e.prefetchViewSQL(ctx, assets)
	if err != nil {
		return nil, nil, err
	}

	resp, err := e.builder.Build(ctx, lineage.Input{
		Assets:        assets,
		ActiveSources: active,
		Page:          opts.Page,
		PageSize:      opts.PageSize,
		AsOf:          opts.AsOf,
		QueryLogs:     logs,
		StoredEdges:   stored,
		ViewSQL:       viewSQL,
	})
	if err != nil {
		return nil, nil, err
	}
	return resp, assets, nil
}

// prefetchViewSQL fetches the bodies of views without inline SQL
// concurrently. Failed fetches are logged and left to the builder, which
// treats the view as having no SQL.
func (e *Engine) prefetchViewSQL(ctx context.Context, assets []core.Asset) (map[string]string, error) {
	if e.fetcher == nil {
		return nil, nil
	}

	var mu sync.Mutex
	bodies := make(map[string]string)

	g, gctx := errgroup.WithContext(ctx)
	if e.inference.FetchConcurrency > 0 {
		g.SetLimit(e.inference.FetchConcurrency)
	}
	for _, a := range assets {
		if a.Type != core.AssetView || a.SQL != "" {
			continue
		}
		g.Go(func() error {
			body, err := e.fetcher.FetchSQL(gctx, a)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				e.logger.Warn("view SQL unavailable",
					slog.String("asset", a.ID),
					slog.String("error", core.ErrSourceUnavailable(a.ConnectorID, err).Error()))
				body = ""
			}
			mu.Lock()
			bodies[a.ID] = body
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return bodies, nil
}

// AssetLineage returns the upstream and downstream edges of one asset
// within depth hops. Depth below 1 uses DefaultDepth.
func (e *Engine) AssetLineage(ctx context.Context, id string, depth int) (out *core.AssetLineage, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.AssetLineage", trace.WithAttributes(attribute.String("asset", id)))
	defer func() { telemetry.End(span, err) }()

	if depth < 1 {
		depth = DefaultDepth
	}
	resp, assets, err := e.compute(ctx, GraphOptions{})
	if err != nil {
		return nil, err
	}

	g := dag.FromResponse(resp)
	if _, ok := g.GetNode(id); !ok {
		return nil, core.ErrNotFound("asset %s not found", id)
	}
	var asset core.Asset
	for _, a := range assets {
		if a.ID == id {
			asset = a
			break
		}
	}

	return &core.AssetLineage{
		Asset:      asset,
		Upstream:   nonNil(g.Upstream(id, depth)),
		Downstream: nonNil(g.Downstream(id, depth)),
		Depth:      depth,
	}, nil
}

func nonNil(edges []core.Edge) []core.Edge {
	if edges == nil {
		return []core.Edge{}
	}
	return edges
}

// Summary describes the shape of a computed graph.
type Summary struct {
	Roots  []string `json:"roots"`
	Leaves []string `json:"leaves"`
	Cycle  []string `json:"cycle,omitempty"`
}

// Summarize reports the roots, leaves and first cycle of a graph response.
func Summarize(resp *core.GraphResponse) Summary {
	g := dag.FromResponse(resp)
	s := Summary{Roots: g.GetRoots(), Leaves: g.GetLeaves()}
	if ok, cycle := g.HasCycle(); ok {
		s.Cycle = cycle
	}
	return s
}

// snapshot appends a signed copy of resp to the snapshot log and upserts
// its nodes.
func (e *Engine) snapshot(ctx context.Context, resp *core.GraphResponse) (snap core.Snapshot, err error) {
	ctx, span := e.tracer.Start(ctx, "store.AppendSnapshot")
	defer func() { telemetry.End(span, err) }()

	data, err := json.Marshal(resp)
	if err != nil {
		return core.Snapshot{}, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	snap = core.Snapshot{
		ID:        uuid.NewString(),
		CreatedAt: e.now().UTC(),
		Data:      data,
	}
	if e.signer.Enabled() {
		snap.Signature = e.signer.SignBytes(data)
	}

	if err := e.store.UpsertNodes(ctx, resp.Nodes); err != nil {
		return core.Snapshot{}, fmt.Errorf("failed to store nodes: %w", err)
	}
	if err := e.store.AppendSnapshot(ctx, snap); err != nil {
		return core.Snapshot{}, fmt.Errorf("failed to append snapshot: %w", err)
	}
	e.logger.Info("snapshot recorded", slog.String("id", snap.ID), slog.Int("edges", resp.TotalEdges))
	return snap, nil
}

// Snapshots lists the snapshot log, oldest first.
func (e *Engine) Snapshots(ctx context.Context) ([]core.Snapshot, error) {
	snaps, err := e.store.Snapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	sort.SliceStable(snaps, func(i, j int) bool { return snaps[i].CreatedAt.Before(snaps[j].CreatedAt) })
	return snaps, nil
}

// SnapshotAt returns the latest snapshot created at or before t.
func (e *Engine) SnapshotAt(ctx context.Context, t time.Time) (core.Snapshot, error) {
	snaps, err := e.Snapshots(ctx)
	if err != nil {
		return core.Snapshot{}, err
	}
	for i := len(snaps) - 1; i >= 0; i-- {
		if !snaps[i].CreatedAt.After(t) {
			return snaps[i], nil
		}
	}
	return core.Snapshot{}, core.ErrNotFound("no snapshot at or before %s", t.Format(time.RFC3339))
}

// VerifySnapshot reports whether a snapshot's signature matches its data.
// Unsigned snapshots verify only when signing is disabled.
func (e *Engine) VerifySnapshot(snap core.Snapshot) bool {
	if !e.signer.Enabled() {
		return snap.Signature == ""
	}
	return e.signer.VerifyBytes(snap.Data, snap.Signature)
}

// Ingest stores a raw lineage artifact for the next reconcile.
func (e *Engine) Ingest(ctx context.Context, kind core.BatchKind, payload json.RawMessage) (batch core.RawBatch, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.Ingest", trace.WithAttributes(attribute.String("kind", string(kind))))
	defer func() { telemetry.End(span, err) }()
	return e.reconciler.Ingest(ctx, kind, payload)
}

// IngestQueryLog stores query-log evidence.
func (e *Engine) IngestQueryLog(ctx context.Context, entries []core.QueryLogEntry) (err error) {
	ctx, span := e.tracer.Start(ctx, "engine.IngestQueryLog", trace.WithAttributes(attribute.Int("entries", len(entries))))
	defer func() { telemetry.End(span, err) }()
	return e.reconciler.IngestQueryLog(ctx, entries)
}

// Reconcile turns every stored artifact into stored edges.
func (e *Engine) Reconcile(ctx context.Context) (report reconcile.Report, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.Reconcile")
	defer func() { telemetry.End(span, err) }()

	report, err = e.reconciler.Reconcile(ctx)
	if err == nil {
		span.SetAttributes(attribute.Int("edges", report.TotalEdges))
	}
	return report, err
}

// Propose records a curation proposal on behalf of role.
func (e *Engine) Propose(ctx context.Context, role string, p core.CurationProposal) (out core.CurationProposal, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.Propose")
	defer func() { telemetry.End(span, err) }()
	return e.curation.Propose(ctx, role, p)
}

// Approve approves the proposed edge source -> target on behalf of role.
func (e *Engine) Approve(ctx context.Context, role, source, target string) (edge core.Edge, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.Approve", trace.WithAttributes(
		attribute.String("source", source),
		attribute.String("target", target),
	))
	defer func() { telemetry.End(span, err) }()
	return e.curation.Approve(ctx, role, source, target)
}

// Proposals lists every curation proposal.
func (e *Engine) Proposals(ctx context.Context) ([]core.CurationProposal, error) {
	return e.curation.List(ctx)
}
