package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vdicollect/internal/graph"

	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = errors.New("not found")

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates or opens a SQLite database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS entities (
			kind TEXT NOT NULL,
			id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			name TEXT,
			properties JSON,
			metrics JSON,
			PRIMARY KEY (kind, id)
		);`,
		`CREATE TABLE IF NOT EXISTS edges (
			parent_kind TEXT,
			parent_id TEXT,
			child_kind TEXT,
			child_id TEXT,
			PRIMARY KEY (parent_kind, parent_id, child_kind, child_id)
		);`,
		`CREATE TABLE IF NOT EXISTS unresolved (
			from_kind TEXT,
			from_id TEXT,
			field TEXT,
			target_kind TEXT,
			target_id TEXT,
			reason TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_at TEXT,
			finished_at TEXT,
			entities INTEGER,
			edges INTEGER,
			unresolved INTEGER,
			errors INTEGER,
			status TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(kind, seq);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// SaveGraph replaces the snapshot in one transaction, so readers never see
// a mix of two runs.
func (s *SQLiteStore) SaveGraph(ctx context.Context, g *graph.Graph) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"entities", "edges", "unresolved"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	// 1. Save Entities
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entities (kind, id, seq, name, properties, metrics)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, e := range g.Entities() {
		props, err := json.Marshal(e.Properties)
		if err != nil {
			return err
		}
		metrics, err := json.Marshal(e.Metrics)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, string(e.Kind), e.ID, i, e.Name, props, metrics); err != nil {
			return fmt.Errorf("failed to save %s: %w", e.Ref(), err)
		}
	}

	// 2. Save Edges
	edgeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO edges (parent_kind, parent_id, child_kind, child_id) VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return err
	}
	defer edgeStmt.Close()

	for _, edge := range g.Edges {
		if _, err := edgeStmt.ExecContext(ctx, string(edge.Parent.Kind), edge.Parent.ID, string(edge.Child.Kind), edge.Child.ID); err != nil {
			return err
		}
	}

	// 3. Save unresolved references
	unresolvedStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO unresolved (from_kind, from_id, field, target_kind, target_id, reason) VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer unresolvedStmt.Close()

	for _, u := range g.Unresolved {
		if _, err := unresolvedStmt.ExecContext(ctx, string(u.From.Kind), u.From.ID, u.Field, string(u.Target.Kind), u.Target.ID, string(u.Reason)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) LoadGraph(ctx context.Context) (*graph.Graph, error) {
	g := graph.NewGraph()

	// 1. Load Entities
	rows, err := s.db.QueryContext(ctx, "SELECT kind, id, name, properties, metrics FROM entities ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	entities, err := scanEntities(rows)
	if err != nil {
		return nil, err
	}
	for _, e := range entities {
		if err := g.Add(e); err != nil {
			return nil, err
		}
	}

	// 2. Load Edges
	edgeRows, err := s.db.QueryContext(ctx, "SELECT parent_kind, parent_id, child_kind, child_id FROM edges ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer edgeRows.Close()

	for edgeRows.Next() {
		var pk, pid, ck, cid string
		if err := edgeRows.Scan(&pk, &pid, &ck, &cid); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		parent := graph.Ref{Kind: graph.Kind(pk), ID: pid}
		child := graph.Ref{Kind: graph.Kind(ck), ID: cid}
		if _, err := g.Link(parent, child); err != nil {
			return nil, fmt.Errorf("corrupt snapshot: %w", err)
		}
	}
	if err := edgeRows.Err(); err != nil {
		return nil, err
	}

	// 3. Load unresolved references
	uRows, err := s.db.QueryContext(ctx, "SELECT from_kind, from_id, field, target_kind, target_id, reason FROM unresolved ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("failed to query unresolved references: %w", err)
	}
	defer uRows.Close()

	for uRows.Next() {
		var fk, fid, field, tk, tid, reason string
		if err := uRows.Scan(&fk, &fid, &field, &tk, &tid, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan unresolved reference: %w", err)
		}
		g.AddUnresolved(graph.UnresolvedRef{
			From:   graph.Ref{Kind: graph.Kind(fk), ID: fid},
			Field:  field,
			Target: graph.Ref{Kind: graph.Kind(tk), ID: tid},
			Reason: graph.UnresolvedReason(reason),
		})
	}
	return g, uRows.Err()
}

func (s *SQLiteStore) GetEntity(ctx context.Context, ref graph.Ref) (*graph.Entity, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT kind, id, name, properties, metrics FROM entities WHERE kind = ? AND id = ?", string(ref.Kind), ref.ID)
	if err != nil {
		return nil, err
	}
	entities, err := scanEntities(rows)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, fmt.Errorf("entity %s: %w", ref, ErrNotFound)
	}
	return entities[0], nil
}

func (s *SQLiteStore) FindByKind(ctx context.Context, kind graph.Kind) ([]*graph.Entity, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT kind, id, name, properties, metrics FROM entities WHERE kind = ? ORDER BY seq", string(kind))
	if err != nil {
		return nil, err
	}
	return scanEntities(rows)
}

func scanEntities(rows *sql.Rows) ([]*graph.Entity, error) {
	defer rows.Close()

	var out []*graph.Entity
	for rows.Next() {
		var kind, id, name string
		var props, metrics []byte
		if err := rows.Scan(&kind, &id, &name, &props, &metrics); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		e := graph.NewEntity(graph.Kind(kind), id, name)
		if len(props) > 0 {
			if err := json.Unmarshal(props, &e.Properties); err != nil {
				return nil, fmt.Errorf("entity %s properties: %w", e.Ref(), err)
			}
		}
		if len(metrics) > 0 {
			if err := json.Unmarshal(metrics, &e.Metrics); err != nil {
				return nil, fmt.Errorf("entity %s metrics: %w", e.Ref(), err)
			}
		}
		if e.Properties == nil {
			e.Properties = make(map[string]string)
		}
		if e.Metrics == nil {
			e.Metrics = make(map[string]float64)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- RunStore Implementation ---

func (s *SQLiteStore) SaveRun(ctx context.Context, run RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, started_at, finished_at, entities, edges, unresolved, errors, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			started_at=excluded.started_at,
			finished_at=excluded.finished_at,
			entities=excluded.entities,
			edges=excluded.edges,
			unresolved=excluded.unresolved,
			errors=excluded.errors,
			status=excluded.status
	`, run.RunID, run.StartedAt.UTC().Format(time.RFC3339Nano), run.FinishedAt.UTC().Format(time.RFC3339Nano),
		run.Entities, run.Edges, run.Unresolved, run.Errors, run.Status)
	return err
}

// RecentRuns returns up to limit runs, newest first.
func (s *SQLiteStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, started_at, finished_at, entities, edges, unresolved, errors, status
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var started, finished string
		if err := rows.Scan(&r.RunID, &started, &finished, &r.Entities, &r.Edges, &r.Unresolved, &r.Errors, &r.Status); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		out = append(out, r)
	}
	return out, rows.Err()
}
