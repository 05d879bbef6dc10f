package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/leapstack-labs/leaplineage/internal/engine"
	"github.com/leapstack-labs/leaplineage/internal/registry"
	"github.com/leapstack-labs/leaplineage/pkg/core"
)

// maxBodyBytes caps ingest and curation request bodies.
const maxBodyBytes = 32 << 20

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var (
		denied      *core.AuthorizationDeniedError
		noProposal  *core.ProposalNotFoundError
		notFound    *core.NotFoundError
		invalid     *core.ValidationError
		malformed   *core.MalformedArtifactError
		unavailable *core.SourceUnavailableError
	)
	switch {
	case errors.As(err, &denied):
		return http.StatusForbidden
	case errors.As(err, &noProposal), errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &invalid), errors.As(err, &malformed):
		return http.StatusBadRequest
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	writeJSON(w, status, errorBody{Code: status, Message: err.Error()})
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, core.ErrValidation("%s must be an integer", name)
	}
	return n, nil
}

func queryBool(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, core.ErrValidation("%s must be a boolean", name)
	}
	return b, nil
}

func queryTime(r *http.Request, name string) (*time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, core.ErrValidation("%s must be an RFC 3339 timestamp", name)
	}
	return &t, nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return core.ErrValidation("invalid request body: %v", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeError(w, err)
		return
	}
	pageSize, err := queryInt(r, "page_size", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	asOf, err := queryTime(r, "as_of")
	if err != nil {
		writeError(w, err)
		return
	}
	snapshot, err := queryBool(r, "snapshot")
	if err != nil {
		writeError(w, err)
		return
	}

	resp, err := s.engine.Graph(r.Context(), engine.GraphOptions{
		Page:     page,
		PageSize: pageSize,
		AsOf:     asOf,
		Snapshot: snapshot,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAssetLineage(w http.ResponseWriter, r *http.Request) {
	depth, err := queryInt(r, "depth", engine.DefaultDepth)
	if err != nil {
		writeError(w, err)
		return
	}
	lin, err := s.engine.AssetLineage(r.Context(), chi.URLParam(r, "id"), depth)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lin)
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	at, err := queryTime(r, "at")
	if err != nil {
		writeError(w, err)
		return
	}
	if at != nil {
		snap, err := s.engine.SnapshotAt(r.Context(), *at)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
		return
	}

	snaps, err := s.engine.Snapshots(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if snaps == nil {
		snaps = []core.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

type sourceLister interface {
	Sources() []registry.SourceInfo
}

func (s *Server) handleSources(w http.ResponseWriter, _ *http.Request) {
	sources := []registry.SourceInfo{}
	if l, ok := s.engine.(sourceLister); ok {
		if got := l.Sources(); got != nil {
			sources = got
		}
	}
	writeJSON(w, http.StatusOK, sources)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")

	if kind == "query_log" {
		var entries []core.QueryLogEntry
		if err := decodeBody(r, &entries); err != nil {
			writeError(w, err)
			return
		}
		if err := s.engine.IngestQueryLog(r.Context(), entries); err != nil {
			writeError(w, err)
			return
		}
		s.notifier.Broadcast(Event{Type: EventIngested, Source: kind})
		writeJSON(w, http.StatusAccepted, map[string]int{"entries": len(entries)})
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, fmt.Errorf("read body: %w", err))
		return
	}
	batch, err := s.engine.Ingest(r.Context(), core.BatchKind(kind), payload)
	if err != nil {
		writeError(w, err)
		return
	}
	s.notifier.Broadcast(Event{Type: EventIngested, Source: kind})
	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":          batch.ID,
		"kind":        batch.Kind,
		"received_at": batch.ReceivedAt,
	})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Reconcile(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	s.notifier.Broadcast(Event{Type: EventReconciled})
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	proposals, err := s.engine.Proposals(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if proposals == nil {
		proposals = []core.CurationProposal{}
	}
	writeJSON(w, http.StatusOK, proposals)
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	var p core.CurationProposal
	if err := decodeBody(r, &p); err != nil {
		writeError(w, err)
		return
	}
	out, err := s.engine.Propose(r.Context(), RoleFromContext(r.Context()), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

type approveRequest struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	edge, err := s.engine.Approve(r.Context(), RoleFromContext(r.Context()), req.Source, req.Target)
	if err != nil {
		writeError(w, err)
		return
	}
	s.notifier.Broadcast(Event{Type: EventCurated, Source: edge.Source})
	writeJSON(w, http.StatusOK, edge)
}
