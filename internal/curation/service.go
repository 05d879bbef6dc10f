// Package curation lets privileged users propose and approve lineage edges.
// Approved proposals become signed, high-confidence edges in the GraphStore.
package curation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/leapstack-labs/leaplineage/internal/provenance"
	"github.com/leapstack-labs/leaplineage/internal/scoring"
	"github.com/leapstack-labs/leaplineage/pkg/core"
)

// DefaultRequiredRole is the role claim needed to curate.
const DefaultRequiredRole = "admin"

// Values stamped on edges materialized from an approved proposal.
const (
	ApprovedConfidence = 0.95
	EvidenceCuration   = "manual_curation"
	SourceCuration     = "curation"
)

// Config holds the service's collaborators.
type Config struct {
	Store        core.GraphStore
	Signer       *provenance.Signer
	Logger       *slog.Logger
	RequiredRole string
	Now          func() time.Time
}

// Service implements the propose/approve workflow.
type Service struct {
	store        core.GraphStore
	signer       *provenance.Signer
	logger       *slog.Logger
	requiredRole string
	now          func() time.Time
}

// NewService creates a curation service.
func NewService(cfg Config) *Service {
	s := &Service{
		store:        cfg.Store,
		signer:       cfg.Signer,
		logger:       cfg.Logger,
		requiredRole: cfg.RequiredRole,
		now:          cfg.Now,
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.requiredRole == "" {
		s.requiredRole = DefaultRequiredRole
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// RequiredRole returns the role claim the service accepts.
func (s *Service) RequiredRole() string {
	return s.requiredRole
}

// authorize fails closed: only an exact match of the required role passes.
func (s *Service) authorize(role string) error {
	if role != s.requiredRole {
		return core.ErrAuthorizationDenied("role %q may not curate lineage (requires %q)", role, s.requiredRole)
	}
	return nil
}

// Propose records a pending proposal. A pending proposal for the same pair
// is replaced.
func (s *Service) Propose(ctx context.Context, role string, p core.CurationProposal) (core.CurationProposal, error) {
	if err := s.authorize(role); err != nil {
		return core.CurationProposal{}, err
	}

	p.Source = strings.TrimSpace(p.Source)
	p.Target = strings.TrimSpace(p.Target)
	switch {
	case p.Source == "" || p.Target == "":
		return core.CurationProposal{}, core.ErrValidation("source and target are required")
	case p.Source == p.Target:
		return core.CurationProposal{}, core.ErrValidation("source and target must differ")
	}
	if p.Relationship.Kind == "" {
		p.Relationship = core.Rel(core.RelManual)
	}
	if !p.Relationship.Kind.Valid() {
		return core.CurationProposal{}, core.ErrValidation("unknown relationship %q", p.Relationship.Kind)
	}

	p.ID = uuid.NewString()
	p.Status = core.ProposalProposed
	p.ProposedAt = s.now().UTC()
	p.ApprovedAt = nil
	if p.ProposedBy == "" {
		p.ProposedBy = role
	}
	if err := s.store.SaveProposal(ctx, p); err != nil {
		return core.CurationProposal{}, fmt.Errorf("save proposal: %w", err)
	}

	s.logger.Info("lineage proposed", "source", p.Source, "target", p.Target, "relationship", p.Relationship.String())
	return p, nil
}

// Approve materializes the pending proposal for (source, target) as a
// curated edge and then marks the proposal approved. The edge is written
// first so a failed write leaves the proposal pending and retryable.
func (s *Service) Approve(ctx context.Context, role, source, target string) (core.Edge, error) {
	if err := s.authorize(role); err != nil {
		return core.Edge{}, err
	}

	p, err := s.pending(ctx, source, target)
	if err != nil {
		return core.Edge{}, err
	}

	now := s.now().UTC()
	e := Materialize(p, now)
	if sig, ok := s.signer.Sign(e); ok {
		e.EdgeSignature = sig
	}
	if err := s.store.UpsertEdges(ctx, []core.Edge{e}); err != nil {
		return core.Edge{}, fmt.Errorf("upsert curated edge: %w", err)
	}
	if _, err := s.store.ApproveProposal(ctx, source, target, now); err != nil {
		return core.Edge{}, err
	}

	s.logger.Info("lineage approved", "source", source, "target", target)
	return e, nil
}

func (s *Service) pending(ctx context.Context, source, target string) (core.CurationProposal, error) {
	list, err := s.store.Proposals(ctx)
	if err != nil {
		return core.CurationProposal{}, fmt.Errorf("load proposals: %w", err)
	}
	for _, p := range list {
		if p.Source == source && p.Target == target && p.Status == core.ProposalProposed {
			return p, nil
		}
	}
	return core.CurationProposal{}, &core.ProposalNotFoundError{Source: source, Target: target}
}

// List returns all proposals, pending and approved.
func (s *Service) List(ctx context.Context) ([]core.CurationProposal, error) {
	return s.store.Proposals(ctx)
}

// Materialize builds the unsigned edge for an approved proposal.
func Materialize(p core.CurationProposal, now time.Time) core.Edge {
	lineage := p.ColumnLineage
	if lineage == nil {
		lineage = []core.ColumnLineage{}
	}
	pii, quality := scoring.Aggregate(lineage)
	return core.Edge{
		Source:           p.Source,
		Target:           p.Target,
		Relationship:     p.Relationship,
		ColumnLineage:    lineage,
		TotalPIIColumns:  pii,
		AvgDataQuality:   quality,
		ValidationStatus: core.StatusValid,
		ConfidenceScore:  ApprovedConfidence,
		Evidence:         []string{EvidenceCuration},
		Sources:          []string{SourceCuration},
		CreatedAt:        p.ProposedAt,
		UpdatedAt:        now,
	}
}
