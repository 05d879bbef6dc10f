package lineage

import (
	"time"

	"github.com/leapstack-labs/leaplineage/pkg/core"
)

// overlay merges stored reconciled and curated edges whose endpoints are
// both nodes of this build.
func (st *build) overlay(edges []core.Edge, stored []core.Edge) []core.Edge {
	index := make(map[core.EdgeKey]int, len(edges))
	for i, e := range edges {
		index[e.Key()] = i
	}

	merged := 0
	for _, s := range stored {
		if st.byID[s.Source] == nil || st.byID[s.Target] == nil {
			continue
		}
		s.ValidationStatus = st.storedStatus(s)

		i, ok := index[s.Key()]
		if !ok {
			index[s.Key()] = len(edges)
			edges = append(edges, s)
			continue
		}

		e := &edges[i]
		e.AddSources(s.Sources...)
		e.AddEvidence(s.Evidence...)
		if s.ConfidenceScore > e.ConfidenceScore {
			e.ConfidenceScore = s.ConfidenceScore
		}
		e.ValidationStatus = mergeStatus(e.ValidationStatus, s.ValidationStatus)
		merged++
	}
	st.logger.Debug("stored edge overlay", "stored", len(stored), "merged", merged)
	return edges
}

// storedStatus checks integrity and freshness of a stored edge. With a
// signing key configured every stored edge must carry a valid signature.
func (st *build) storedStatus(e core.Edge) core.ValidationStatus {
	if st.cfg.Signer.Enabled() && !st.cfg.Signer.Verify(e) {
		return core.StatusError
	}
	if st.cfg.StaleAfter > 0 && !e.UpdatedAt.IsZero() && st.now.Sub(e.UpdatedAt) > st.cfg.StaleAfter {
		return core.StatusStale
	}
	if e.ValidationStatus == "" {
		return core.StatusUnknown
	}
	return e.ValidationStatus
}

// mergeStatus keeps integrity failures visible; otherwise the stronger
// status wins.
func mergeStatus(inferred, stored core.ValidationStatus) core.ValidationStatus {
	switch {
	case stored == core.StatusError || inferred == core.StatusError:
		return core.StatusError
	case stored == core.StatusValid || inferred == core.StatusValid:
		return core.StatusValid
	}
	return inferred
}

// filterAsOf keeps edges created at or before asOf and the nodes they touch.
func filterAsOf(nodes []core.Node, edges []core.Edge, asOf time.Time) ([]core.Node, []core.Edge) {
	kept := make([]core.Edge, 0, len(edges))
	touched := make(map[string]bool)
	for _, e := range edges {
		if e.CreatedAt.After(asOf) {
			continue
		}
		kept = append(kept, e)
		touched[e.Source] = true
		touched[e.Target] = true
	}

	keptNodes := make([]core.Node, 0, len(touched))
	for _, n := range nodes {
		if touched[n.ID] {
			keptNodes = append(keptNodes, n)
		}
	}
	return keptNodes, kept
}

// paginate slices the node list and keeps edges with both endpoints on the
// page. A pageSize of 0 returns everything.
func paginate(nodes []core.Node, edges []core.Edge, page, pageSize int) *core.GraphResponse {
	resp := &core.GraphResponse{
		TotalNodes: len(nodes),
		TotalEdges: len(edges),
		Page:       1,
		PageSize:   pageSize,
		TotalPages: 1,
	}
	if pageSize < 0 {
		resp.PageSize = 0
	}

	pageNodes := nodes
	if resp.PageSize > 0 {
		if page < 1 {
			page = 1
		}
		resp.Page = page
		resp.TotalPages = (len(nodes) + pageSize - 1) / pageSize
		if resp.TotalPages == 0 {
			resp.TotalPages = 1
		}
		start := (page - 1) * pageSize
		if start > len(nodes) {
			start = len(nodes)
		}
		end := min(start+pageSize, len(nodes))
		pageNodes = nodes[start:end]
	}

	onPage := make(map[string]bool, len(pageNodes))
	for _, n := range pageNodes {
		onPage[n.ID] = true
	}
	resp.Nodes = append([]core.Node{}, pageNodes...)
	resp.Edges = make([]core.Edge, 0, len(edges))
	for _, e := range edges {
		if onPage[e.Source] && onPage[e.Target] {
			resp.Edges = append(resp.Edges, e)
			resp.ColumnRelationships += len(e.ColumnLineage)
		}
	}
	return resp
}
