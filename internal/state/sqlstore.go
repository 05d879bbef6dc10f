package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/leaplineage/pkg/core"
)

// Dialects understood by SQLStore.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// SQLStore implements core.GraphStore on a relational database. Each record
// is stored as a JSON document next to the columns it is keyed and ordered by.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore wraps an open database. The schema must already be migrated.
func NewSQLStore(db *sql.DB, dialect string) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// DB returns the underlying connection.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// UpsertNodes inserts or replaces nodes by id.
func (s *SQLStore) UpsertNodes(ctx context.Context, nodes []core.Node) error {
	q := s.rebind(`INSERT INTO nodes (id, data) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET data = excluded.data`)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, n := range nodes {
			data, err := json.Marshal(n)
			if err != nil {
				return fmt.Errorf("encode node %s: %w", n.ID, err)
			}
			if _, err := tx.ExecContext(ctx, q, n.ID, string(data)); err != nil {
				return fmt.Errorf("upsert node %s: %w", n.ID, err)
			}
		}
		return nil
	})
}

// UpsertEdges inserts or replaces edges by (source, target).
func (s *SQLStore) UpsertEdges(ctx context.Context, edges []core.Edge) error {
	q := s.rebind(`INSERT INTO edges (source, target, data) VALUES (?, ?, ?)
		ON CONFLICT (source, target) DO UPDATE SET data = excluded.data`)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, e := range edges {
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("encode edge %s -> %s: %w", e.Source, e.Target, err)
			}
			if _, err := tx.ExecContext(ctx, q, e.Source, e.Target, string(data)); err != nil {
				return fmt.Errorf("upsert edge %s -> %s: %w", e.Source, e.Target, err)
			}
		}
		return nil
	})
}

// Edges returns all stored edges in insertion order.
func (s *SQLStore) Edges(ctx context.Context) ([]core.Edge, error) {
	return queryDocs[core.Edge](ctx, s, `SELECT data FROM edges ORDER BY seq`)
}

// Nodes returns all stored nodes ordered by id.
func (s *SQLStore) Nodes(ctx context.Context) ([]core.Node, error) {
	return queryDocs[core.Node](ctx, s, `SELECT data FROM nodes ORDER BY id`)
}

// AppendSnapshot appends a snapshot.
func (s *SQLStore) AppendSnapshot(ctx context.Context, snap core.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO snapshots (id, data) VALUES (?, ?)`), snap.ID, string(data)); err != nil {
			return fmt.Errorf("append snapshot: %w", err)
		}
		return nil
	})
}

// Snapshots returns all snapshots, oldest first.
func (s *SQLStore) Snapshots(ctx context.Context) ([]core.Snapshot, error) {
	return queryDocs[core.Snapshot](ctx, s, `SELECT data FROM snapshots ORDER BY seq`)
}

// SaveBatch stores a raw artifact.
func (s *SQLStore) SaveBatch(ctx context.Context, batch core.RawBatch) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		q := s.rebind(`INSERT INTO raw_batches (id, kind, data) VALUES (?, ?, ?)`)
		if _, err := tx.ExecContext(ctx, q, batch.ID, string(batch.Kind), string(data)); err != nil {
			return fmt.Errorf("save batch: %w", err)
		}
		return nil
	})
}

// Batches returns the stored artifacts of one kind in arrival order.
func (s *SQLStore) Batches(ctx context.Context, kind core.BatchKind) ([]core.RawBatch, error) {
	return queryDocs[core.RawBatch](ctx, s, `SELECT data FROM raw_batches WHERE kind = ? ORDER BY seq`, string(kind))
}

// AppendQueryLogs appends query-log entries.
func (s *SQLStore) AppendQueryLogs(ctx context.Context, entries []core.QueryLogEntry) error {
	q := s.rebind(`INSERT INTO query_logs (data) VALUES (?)`)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, e := range entries {
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("encode query log: %w", err)
			}
			if _, err := tx.ExecContext(ctx, q, string(data)); err != nil {
				return fmt.Errorf("append query log: %w", err)
			}
		}
		return nil
	})
}

// QueryLogs returns all query-log entries in arrival order.
func (s *SQLStore) QueryLogs(ctx context.Context) ([]core.QueryLogEntry, error) {
	return queryDocs[core.QueryLogEntry](ctx, s, `SELECT data FROM query_logs ORDER BY seq`)
}

// SaveProposal stores a proposal. A pending proposal for the same pair is
// replaced.
func (s *SQLStore) SaveProposal(ctx context.Context, p core.CurationProposal) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode proposal: %w", err)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if p.Status == core.ProposalProposed {
			res, err := tx.ExecContext(ctx,
				s.rebind(`UPDATE proposals SET id = ?, data = ? WHERE source = ? AND target = ? AND status = ?`),
				p.ID, string(data), p.Source, p.Target, string(core.ProposalProposed))
			if err != nil {
				return fmt.Errorf("update proposal: %w", err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				return nil
			}
		}
		if _, err := tx.ExecContext(ctx,
			s.rebind(`INSERT INTO proposals (id, source, target, status, data) VALUES (?, ?, ?, ?, ?)`),
			p.ID, p.Source, p.Target, string(p.Status), string(data)); err != nil {
			return fmt.Errorf("insert proposal: %w", err)
		}
		return nil
	})
}

// Proposals returns the flat proposal list in insertion order.
func (s *SQLStore) Proposals(ctx context.Context) ([]core.CurationProposal, error) {
	return queryDocs[core.CurationProposal](ctx, s, `SELECT data FROM proposals ORDER BY seq`)
}

// ApproveProposal flips the oldest pending proposal for the pair to approved.
func (s *SQLStore) ApproveProposal(ctx context.Context, source, target string, at time.Time) (core.CurationProposal, error) {
	var approved core.CurationProposal
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		q := `SELECT seq, data FROM proposals WHERE source = ? AND target = ? AND status = ? ORDER BY seq LIMIT 1`
		if s.dialect == DialectPostgres {
			q += " FOR UPDATE"
		}
		var seq int64
		var data string
		err := tx.QueryRowContext(ctx, s.rebind(q), source, target, string(core.ProposalProposed)).Scan(&seq, &data)
		if errors.Is(err, sql.ErrNoRows) {
			return &core.ProposalNotFoundError{Source: source, Target: target}
		}
		if err != nil {
			return fmt.Errorf("find proposal: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &approved); err != nil {
			return fmt.Errorf("decode proposal: %w", err)
		}

		approvedAt := at.UTC()
		approved.Status = core.ProposalApproved
		approved.ApprovedAt = &approvedAt
		out, err := json.Marshal(approved)
		if err != nil {
			return fmt.Errorf("encode proposal: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE proposals SET status = ?, data = ? WHERE seq = ?`),
			string(core.ProposalApproved), string(out), seq); err != nil {
			return fmt.Errorf("approve proposal: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.CurationProposal{}, err
	}
	return approved, nil
}

func queryDocs[T any](ctx context.Context, s *SQLStore, query string, args ...any) ([]T, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []T
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		var v T
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
