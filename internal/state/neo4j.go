package state

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/leapstack-labs/leaplineage/pkg/core"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jStore keeps nodes and edges as a property graph,
// (:Asset {id})-[:LINEAGE]->(:Asset), and delegates snapshots, artifacts,
// query logs and proposals to an embedded FileStore.
type Neo4jStore struct {
	*FileStore
	driver   neo4j.DriverWithContext
	database string
}

// Neo4jConfig holds connection settings.
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// OpenNeo4j connects to Neo4j and verifies connectivity. files backs the
// non-graph records.
func OpenNeo4j(ctx context.Context, cfg Neo4jConfig, files *FileStore) (*Neo4jStore, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("neo4j store requires a uri")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j: %w", err)
	}
	s := &Neo4jStore{FileStore: files, driver: driver, database: cfg.Database}
	if _, err := s.run(ctx, `CREATE CONSTRAINT asset_id IF NOT EXISTS FOR (a:Asset) REQUIRE a.id IS UNIQUE`, nil); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to create neo4j constraint: %w", err)
	}
	return s, nil
}

func (s *Neo4jStore) run(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
	var opts []neo4j.ExecuteQueryConfigurationOption
	if s.database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(s.database))
	}
	return neo4j.ExecuteQuery(ctx, s.driver, query, params, neo4j.EagerResultTransformer, opts...)
}

// UpsertNodes merges asset nodes by id.
func (s *Neo4jStore) UpsertNodes(ctx context.Context, nodes []core.Node) error {
	rows := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		data, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("encode node %s: %w", n.ID, err)
		}
		rows = append(rows, map[string]any{"id": n.ID, "name": n.Name, "type": string(n.Type), "data": string(data)})
	}
	_, err := s.run(ctx, `UNWIND $rows AS r
		MERGE (a:Asset {id: r.id})
		SET a.name = r.name, a.type = r.type, a.data = r.data`, map[string]any{"rows": rows})
	if err != nil {
		return fmt.Errorf("upsert nodes: %w", err)
	}
	return nil
}

// UpsertEdges merges LINEAGE relationships by endpoint pair.
func (s *Neo4jStore) UpsertEdges(ctx context.Context, edges []core.Edge) error {
	rows := make([]map[string]any, 0, len(edges))
	for _, e := range edges {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode edge %s -> %s: %w", e.Source, e.Target, err)
		}
		rows = append(rows, map[string]any{
			"source":     e.Source,
			"target":     e.Target,
			"kind":       string(e.Relationship.Kind),
			"confidence": e.ConfidenceScore,
			"data":       string(data),
		})
	}
	_, err := s.run(ctx, `UNWIND $rows AS r
		MERGE (s:Asset {id: r.source})
		MERGE (t:Asset {id: r.target})
		MERGE (s)-[l:LINEAGE]->(t)
		SET l.kind = r.kind, l.confidence = r.confidence, l.data = r.data`, map[string]any{"rows": rows})
	if err != nil {
		return fmt.Errorf("upsert edges: %w", err)
	}
	return nil
}

// Edges returns all LINEAGE relationships ordered by endpoint ids.
func (s *Neo4jStore) Edges(ctx context.Context) ([]core.Edge, error) {
	res, err := s.run(ctx, `MATCH (s:Asset)-[l:LINEAGE]->(t:Asset)
		RETURN l.data AS data ORDER BY s.id, t.id`, nil)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	out := make([]core.Edge, 0, len(res.Records))
	for _, rec := range res.Records {
		raw, ok := rec.Get("data")
		if !ok {
			continue
		}
		data, ok := raw.(string)
		if !ok {
			continue
		}
		var e core.Edge
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("decode edge: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Nodes returns all asset nodes ordered by id.
func (s *Neo4jStore) Nodes(ctx context.Context) ([]core.Node, error) {
	res, err := s.run(ctx, `MATCH (a:Asset) WHERE a.data IS NOT NULL RETURN a.data AS data ORDER BY a.id`, nil)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	out := make([]core.Node, 0, len(res.Records))
	for _, rec := range res.Records {
		raw, _ := rec.Get("data")
		data, ok := raw.(string)
		if !ok {
			continue
		}
		var n core.Node
		if err := json.Unmarshal([]byte(data), &n); err != nil {
			return nil, fmt.Errorf("decode node: %w", err)
		}
		out = append(out, n)
	}
	return out, nil
}

// Close closes the driver.
func (s *Neo4jStore) Close() error {
	return s.driver.Close(context.Background())
}
