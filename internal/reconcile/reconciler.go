// Package reconcile ingests lineage artifacts from external systems
// (OpenLineage events, dbt manifests, Airflow DAGs, metadata catalogs) and
// turns them into signed, persisted edges on demand.
//
// Ingestion only stores the raw artifact. Reconcile reads every stored batch
// and upserts the resulting edges, so running it twice yields the same graph.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/leapstack-labs/leaplineage/internal/curation"
	"github.com/leapstack-labs/leaplineage/internal/provenance"
	"github.com/leapstack-labs/leaplineage/pkg/core"
)

// Config holds the reconciler's collaborators.
type Config struct {
	Store  core.GraphStore
	Signer *provenance.Signer
	Logger *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Reconciler ingests and reconciles artifacts.
type Reconciler struct {
	store  core.GraphStore
	signer *provenance.Signer
	logger *slog.Logger
	now    func() time.Time
}

// KindReport counts the outcome for one artifact kind.
type KindReport struct {
	Batches int `json:"batches"`
	Edges   int `json:"edges"`
	Skipped int `json:"skipped"`
}

// Report summarizes a reconcile run.
type Report struct {
	Kinds      map[core.BatchKind]*KindReport `json:"kinds"`
	TotalEdges int                            `json:"total_edges"`
}

// New creates a Reconciler.
func New(cfg Config) *Reconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Reconciler{store: cfg.Store, signer: cfg.Signer, logger: logger, now: now}
}

// Ingest stores a raw artifact of the given kind. The payload must be JSON.
func (r *Reconciler) Ingest(ctx context.Context, kind core.BatchKind, payload json.RawMessage) (core.RawBatch, error) {
	if !kind.Valid() {
		return core.RawBatch{}, core.ErrValidation("unknown artifact kind %q", kind)
	}
	if !json.Valid(payload) {
		return core.RawBatch{}, core.ErrMalformed(kind, "payload is not valid JSON")
	}

	batch := core.RawBatch{
		ID:         uuid.NewString(),
		Kind:       kind,
		ReceivedAt: r.now().UTC(),
		Payload:    payload,
	}
	if err := r.store.SaveBatch(ctx, batch); err != nil {
		return core.RawBatch{}, fmt.Errorf("save %s batch: %w", kind, err)
	}
	r.logger.Info("ingested artifact", "kind", kind, "batch", batch.ID, "bytes", len(payload))
	return batch, nil
}

// IngestQueryLog stores query-log entries as evidence for graph builds.
func (r *Reconciler) IngestQueryLog(ctx context.Context, entries []core.QueryLogEntry) error {
	for i, e := range entries {
		if e.SQL == "" {
			return core.ErrValidation("query log entry %d: sql is required", i)
		}
		if e.Timestamp.IsZero() {
			entries[i].Timestamp = r.now().UTC()
		}
	}
	if err := r.store.AppendQueryLogs(ctx, entries); err != nil {
		return fmt.Errorf("append query logs: %w", err)
	}
	r.logger.Info("ingested query logs", "entries", len(entries))
	return nil
}

// Reconcile converts every stored batch into edges and upserts them.
func (r *Reconciler) Reconcile(ctx context.Context) (Report, error) {
	report := Report{Kinds: make(map[core.BatchKind]*KindReport, len(core.BatchKinds))}
	now := r.now().UTC()

	var order []core.EdgeKey
	edges := make(map[core.EdgeKey]*core.Edge)

	for _, kind := range core.BatchKinds {
		kr := &KindReport{}
		report.Kinds[kind] = kr

		batches, err := r.store.Batches(ctx, kind)
		if err != nil {
			return report, fmt.Errorf("load %s batches: %w", kind, err)
		}
		adapt, confidence, relKind := adapterFor(kind)

		for _, batch := range batches {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			kr.Batches++

			var payload any
			if err := json.Unmarshal(batch.Payload, &payload); err != nil {
				kr.Skipped++
				r.logger.Warn("skipping undecodable batch", "kind", kind, "batch", batch.ID, "error", err)
				continue
			}

			links, skipped := adapt(payload)
			kr.Skipped += len(skipped)
			for _, err := range skipped {
				r.logger.Warn("skipping malformed record", "kind", kind, "batch", batch.ID, "error", err)
			}

			for _, l := range links {
				createdAt := l.createdAt
				if createdAt.IsZero() {
					createdAt = batch.ReceivedAt.UTC()
				}
				e := core.Edge{
					Source:           l.source,
					Target:           l.target,
					Relationship:     core.Relationship{Kind: relKind, Annotation: l.annotation},
					ColumnLineage:    []core.ColumnLineage{},
					AvgDataQuality:   95.0,
					ValidationStatus: core.StatusValid,
					ConfidenceScore:  confidence,
					Evidence:         []string{string(kind)},
					Sources:          []string{string(kind)},
					CreatedAt:        createdAt,
					UpdatedAt:        now,
				}
				key := e.Key()
				if existing, ok := edges[key]; ok {
					merge(existing, e)
					continue
				}
				order = append(order, key)
				edges[key] = &e
				kr.Edges++
			}
		}
	}

	curated, err := r.curatedEdges(ctx)
	if err != nil {
		return report, err
	}

	out := make([]core.Edge, 0, len(order))
	for _, key := range order {
		e := edges[key]
		if c, ok := curated[key]; ok {
			out = append(out, keepCurated(c, *e, now))
			continue
		}
		if sig, ok := r.signer.Sign(*e); ok {
			e.EdgeSignature = sig
		}
		out = append(out, *e)
	}
	if len(out) > 0 {
		if err := r.store.UpsertEdges(ctx, out); err != nil {
			return report, fmt.Errorf("upsert reconciled edges: %w", err)
		}
	}
	report.TotalEdges = len(out)

	r.logger.Info("reconciled artifacts", "edges", report.TotalEdges)
	return report, nil
}

// curatedEdges returns the stored edges materialized from approved proposals.
func (r *Reconciler) curatedEdges(ctx context.Context) (map[core.EdgeKey]core.Edge, error) {
	stored, err := r.store.Edges(ctx)
	if err != nil {
		return nil, fmt.Errorf("load stored edges: %w", err)
	}
	out := make(map[core.EdgeKey]core.Edge)
	for _, e := range stored {
		if e.HasSource(curation.SourceCuration) {
			out[e.Key()] = e
		}
	}
	return out, nil
}

// keepCurated folds a reconciled observation into a curated edge. The
// curated relationship, created_at and signature stay.
func keepCurated(c, observed core.Edge, now time.Time) core.Edge {
	c.Evidence = append([]string(nil), c.Evidence...)
	c.Sources = append([]string(nil), c.Sources...)
	merge(&c, observed)
	c.UpdatedAt = now
	return c
}

// merge folds a second observation of the same pair into e. The first
// relationship and timestamp are kept.
func merge(e *core.Edge, other core.Edge) {
	e.AddEvidence(other.Evidence...)
	e.AddSources(other.Sources...)
	if other.ConfidenceScore > e.ConfidenceScore {
		e.ConfidenceScore = other.ConfidenceScore
	}
}
