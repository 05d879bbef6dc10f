package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leaplineage/internal/config"
	"github.com/leapstack-labs/leaplineage/internal/engine"
	"github.com/leapstack-labs/leaplineage/internal/provenance"
	"github.com/leapstack-labs/leaplineage/internal/reconcile"
	"github.com/leapstack-labs/leaplineage/internal/state"
	"github.com/leapstack-labs/leaplineage/internal/testutil"
	"github.com/leapstack-labs/leaplineage/pkg/core"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	store, err := state.NewFileStore(filepath.Join(t.TempDir(), "graph.json"))
	require.NoError(t, err)

	e, err := engine.New(engine.Config{
		Registry: &testutil.StaticRegistry{Assets: []core.Asset{
			testutil.Table("a", "c1", "id", "email"),
			testutil.Table("b", "c1", "id", "user_email"),
			testutil.Table("c", "c1", "gamma"),
		}},
		Store:     store,
		Signer:    provenance.NewSigner("test-secret"),
		Inference: config.InferenceConfig{IncludeStoredEdges: true, FetchConcurrency: 2},
		Logger:    testutil.NewTestLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func newTestServer(t *testing.T, mutate ...func(*config.ServerConfig)) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.ServerConfig{RoleHeader: "X-User-Role"}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := New(Config{Engine: newTestEngine(t), Server: cfg, Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func do(t *testing.T, method, url, body string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestNew_RequiresEngine(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestNew_RejectsBadSchedule(t *testing.T) {
	_, err := New(Config{Engine: newTestEngine(t), Server: config.ServerConfig{ReconcileSchedule: "every tuesday"}})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t)
	for _, path := range []string{"/health", "/api/v1/health"} {
		resp := do(t, http.MethodGet, ts.URL+path, "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestGraph(t *testing.T) {
	_, ts := newTestServer(t)

	resp := do(t, http.MethodGet, ts.URL+"/api/v1/lineage", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	graph := decode[core.GraphResponse](t, resp)
	assert.Equal(t, 3, graph.TotalNodes)
	require.Len(t, graph.Edges, 1)
	assert.Equal(t, "a", graph.Edges[0].Source)
	assert.Equal(t, "b", graph.Edges[0].Target)
}

func TestGraph_Pagination(t *testing.T) {
	_, ts := newTestServer(t)

	resp := do(t, http.MethodGet, ts.URL+"/api/v1/lineage?page=2&page_size=2", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	graph := decode[core.GraphResponse](t, resp)
	assert.Equal(t, 2, graph.Page)
	assert.Equal(t, 2, graph.TotalPages)
	require.Len(t, graph.Nodes, 1)
	assert.Equal(t, "c", graph.Nodes[0].ID)
	assert.Empty(t, graph.Edges)
}

func TestGraph_BadParams(t *testing.T) {
	_, ts := newTestServer(t)

	for _, q := range []string{"page=x", "page_size=1.5", "as_of=yesterday", "snapshot=yes"} {
		resp := do(t, http.MethodGet, ts.URL+"/api/v1/lineage?"+q, "", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}

	resp := do(t, http.MethodGet, ts.URL+"/api/v1/snapshots", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]core.Snapshot](t, resp))
}

func TestGraph_SnapshotThenList(t *testing.T) {
	_, ts := newTestServer(t)

	resp := do(t, http.MethodGet, ts.URL+"/api/v1/lineage?snapshot=true", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, http.MethodGet, ts.URL+"/api/v1/snapshots", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snaps := decode[[]core.Snapshot](t, resp)
	require.Len(t, snaps, 1)
	assert.NotEmpty(t, snaps[0].Signature)

	resp = do(t, http.MethodGet, ts.URL+"/api/v1/snapshots?at=2000-01-01T00:00:00Z", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAssetLineage_NotFound(t *testing.T) {
	_, ts := newTestServer(t)
	resp := do(t, http.MethodGet, ts.URL+"/api/v1/lineage/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestIngestReconcileLineage(t *testing.T) {
	_, ts := newTestServer(t)

	resp := do(t, http.MethodPost, ts.URL+"/api/v1/ingest/dbt",
		`{"nodes":[{"name":"c","depends_on":["b"]}]}`, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = do(t, http.MethodPost, ts.URL+"/api/v1/reconcile", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := decode[reconcile.Report](t, resp)
	assert.Equal(t, 1, report.TotalEdges)

	resp = do(t, http.MethodGet, ts.URL+"/api/v1/lineage/c?depth=2", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	lin := decode[core.AssetLineage](t, resp)
	assert.Equal(t, 2, lin.Depth)
	require.Len(t, lin.Upstream, 2)
	assert.Empty(t, lin.Downstream)
}

func TestIngest_Errors(t *testing.T) {
	_, ts := newTestServer(t)

	resp := do(t, http.MethodPost, ts.URL+"/api/v1/ingest/spreadsheet", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPost, ts.URL+"/api/v1/ingest/dbt", `not json`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPost, ts.URL+"/api/v1/ingest/query_log", `[{"system":"pg"}]`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIngest_QueryLog(t *testing.T) {
	_, ts := newTestServer(t)
	resp := do(t, http.MethodPost, ts.URL+"/api/v1/ingest/query_log",
		`[{"system":"pg","sql":"insert into b select * from a"}]`, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, map[string]int{"entries": 1}, decode[map[string]int](t, resp))
}

func TestCuration_HeaderRole(t *testing.T) {
	_, ts := newTestServer(t)
	body := `{"source":"a","target":"c","relationship":"manual"}`

	resp := do(t, http.MethodPost, ts.URL+"/api/v1/curation/proposals", body, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = do(t, http.MethodPost, ts.URL+"/api/v1/curation/proposals", body, map[string]string{"X-User-Role": "viewer"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	admin := map[string]string{"X-User-Role": "admin"}
	resp = do(t, http.MethodPost, ts.URL+"/api/v1/curation/proposals", body, admin)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, http.MethodPost, ts.URL+"/api/v1/curation/approve", `{"source":"c","target":"a"}`, admin)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodPost, ts.URL+"/api/v1/curation/approve", `{"source":"a","target":"c"}`, admin)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	edge := decode[core.Edge](t, resp)
	assert.InDelta(t, 0.95, edge.ConfidenceScore, 1e-9)

	resp = do(t, http.MethodGet, ts.URL+"/api/v1/curation/proposals", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	proposals := decode[[]core.CurationProposal](t, resp)
	require.Len(t, proposals, 1)
	assert.Equal(t, core.ProposalApproved, proposals[0].Status)
}

func TestCuration_InvalidBody(t *testing.T) {
	_, ts := newTestServer(t)
	resp := do(t, http.MethodPost, ts.URL+"/api/v1/curation/proposals", `{"relationship":"friendship"}`,
		map[string]string{"X-User-Role": "admin"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func signToken(t *testing.T, secret, role string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "tester",
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestCuration_JWTRole(t *testing.T) {
	_, ts := newTestServer(t, func(c *config.ServerConfig) { c.JWTSecret = "jwt-secret" })
	body := `{"source":"a","target":"c"}`

	// The header is ignored once tokens are required.
	resp := do(t, http.MethodPost, ts.URL+"/api/v1/curation/proposals", body, map[string]string{"X-User-Role": "admin"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = do(t, http.MethodPost, ts.URL+"/api/v1/curation/proposals", body,
		map[string]string{"Authorization": "Bearer " + signToken(t, "wrong-secret", "admin")})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = do(t, http.MethodPost, ts.URL+"/api/v1/curation/proposals", body,
		map[string]string{"Authorization": "Bearer " + signToken(t, "jwt-secret", "admin")})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	_, ts := newTestServer(t, func(c *config.ServerConfig) {
		c.RateLimit = config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}
	})

	resp := do(t, http.MethodGet, ts.URL+"/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("X-RateLimit-Limit"))

	resp = do(t, http.MethodGet, ts.URL+"/health", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestRateLimiter_Sweep(t *testing.T) {
	now := time.Now()
	l := newRateLimiter(config.RateLimitConfig{RequestsPerSecond: 1})
	l.now = func() time.Time { return now }
	assert.Equal(t, 1, l.cfg.Burst)

	l.get("10.0.0.1")
	now = now.Add(limiterIdleTimeout + time.Second)
	l.get("10.0.0.2")
	l.sweep()

	assert.Len(t, l.clients, 1)
	assert.Contains(t, l.clients, "10.0.0.2")
}

func TestCORS(t *testing.T) {
	_, ts := newTestServer(t, func(c *config.ServerConfig) { c.CORSOrigins = []string{"https://catalog.example.com"} })

	resp := do(t, http.MethodOptions, ts.URL+"/api/v1/lineage", "", map[string]string{
		"Origin":                        "https://catalog.example.com",
		"Access-Control-Request-Method": http.MethodGet,
	})
	assert.Equal(t, "https://catalog.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrAuthorizationDenied("no"), http.StatusForbidden},
		{&core.ProposalNotFoundError{Source: "a", Target: "b"}, http.StatusNotFound},
		{core.ErrNotFound("gone"), http.StatusNotFound},
		{core.ErrValidation("bad"), http.StatusBadRequest},
		{core.ErrMalformed(core.BatchDBT, "bad"), http.StatusBadRequest},
		{core.ErrSourceUnavailable("registry", context.DeadlineExceeded), http.StatusServiceUnavailable},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
	}
}

func TestEvents_StreamAfterReconcile(t *testing.T) {
	s, ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The handler subscribes after flushing headers; wait for it.
	require.Eventually(t, func() bool {
		s.notifier.mu.RLock()
		defer s.notifier.mu.RUnlock()
		return len(s.notifier.listeners) == 1
	}, 2*time.Second, 10*time.Millisecond)

	s.notifier.Broadcast(Event{Type: EventReconciled})

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: reconciled\n", line)
}

func TestNotifier_NonBlocking(t *testing.T) {
	n := NewNotifier()
	ch := n.Subscribe()
	defer n.Unsubscribe(ch)

	for i := 0; i < 20; i++ {
		n.Broadcast(Event{Type: EventCurated})
	}
	assert.Len(t, ch, cap(ch))
	ev := <-ch
	assert.False(t, ev.At.IsZero())
}

func TestServeListener_GracefulShutdown(t *testing.T) {
	s, err := New(Config{
		Engine: newTestEngine(t),
		Server: config.ServerConfig{ReconcileSchedule: "@every 1h"},
		Logger: testutil.NewTestLogger(t),
	})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ServeListener(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
