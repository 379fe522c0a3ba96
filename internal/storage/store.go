package storage

import (
	"context"
	"time"

	"vdicollect/internal/graph"
)

// Store combines snapshot and run-history storage.
type Store interface {
	SnapshotStore
	RunStore
	Close() error
}

// SnapshotStore persists the latest collected inventory graph.
type SnapshotStore interface {
	// SaveGraph replaces the stored snapshot with g.
	SaveGraph(ctx context.Context, g *graph.Graph) error

	// LoadGraph rebuilds the stored snapshot, edges included.
	LoadGraph(ctx context.Context) (*graph.Graph, error)

	// GetEntity retrieves one entity without its edges.
	GetEntity(ctx context.Context, ref graph.Ref) (*graph.Entity, error)

	// FindByKind retrieves every entity of a kind in collection order.
	FindByKind(ctx context.Context, kind graph.Kind) ([]*graph.Entity, error)
}

// RunRecord summarizes one collection run.
type RunRecord struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Entities   int
	Edges      int
	Unresolved int
	Errors     int
	Status     string
}

// RunStore keeps the collection history.
type RunStore interface {
	SaveRun(ctx context.Context, run RunRecord) error
	RecentRuns(ctx context.Context, limit int) ([]RunRecord, error)
}
