package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"vdicollect/internal/graph"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testEntity(t *testing.T, g *graph.Graph, kind graph.Kind, id, name string) *graph.Entity {
	t.Helper()
	e := graph.NewEntity(kind, id, name)
	e.SetProperty("id", id)
	require.NoError(t, g.Add(e))
	return e
}

func TestSQLiteStore_SaveGraph_SnapshotSync(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	// Initial snapshot: farm f1 with host h1.
	g1 := graph.NewGraph()
	f1 := testEntity(t, g1, graph.KindFarm, "f1", "FarmA")
	h1 := testEntity(t, g1, graph.KindHost, "h1", "H1")
	h1.SetMetric("session_count", 4)
	_, err := g1.Link(f1.Ref(), h1.Ref())
	require.NoError(t, err)
	require.NoError(t, store.SaveGraph(ctx, g1))

	// New snapshot: h1 moved to farm f2, f1 is gone.
	g2 := graph.NewGraph()
	f2 := testEntity(t, g2, graph.KindFarm, "f2", "FarmB")
	h1b := testEntity(t, g2, graph.KindHost, "h1", "H1")
	_, err = g2.Link(f2.Ref(), h1b.Ref())
	require.NoError(t, err)
	g2.AddUnresolved(graph.UnresolvedRef{
		From: h1b.Ref(), Field: "farm_id",
		Target: graph.Ref{Kind: graph.KindFarm, ID: "f9"}, Reason: graph.ReasonNoCandidate,
	})
	require.NoError(t, store.SaveGraph(ctx, g2))

	loaded, err := store.LoadGraph(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, loaded.Len())
	_, hasF1 := loaded.Get(f1.Ref())
	assert.False(t, hasF1)

	require.Len(t, loaded.Edges, 1)
	assert.Equal(t, graph.Edge{Parent: f2.Ref(), Child: h1b.Ref()}, loaded.Edges[0])

	host, ok := loaded.Get(h1b.Ref())
	require.True(t, ok)
	assert.Equal(t, []graph.Ref{f2.Ref()}, host.Parents())
	assert.NotContains(t, host.Metrics, "session_count")

	require.Len(t, loaded.Unresolved, 1)
	assert.Equal(t, "f9", loaded.Unresolved[0].Target.ID)
}

func TestSQLiteStore_SaveGraph_EmptySnapshotClearsData(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	g := graph.NewGraph()
	testEntity(t, g, graph.KindPod, "p1", "Pod1")
	require.NoError(t, store.SaveGraph(ctx, g))
	require.NoError(t, store.SaveGraph(ctx, graph.NewGraph()))

	loaded, err := store.LoadGraph(ctx)
	require.NoError(t, err)
	assert.Zero(t, loaded.Len())
	assert.Empty(t, loaded.Edges)
}

func TestSQLiteStore_Queries(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	g := graph.NewGraph()
	h := testEntity(t, g, graph.KindHost, "h2", "H2")
	h.SetMetric("state", 1)
	testEntity(t, g, graph.KindHost, "h1", "H1")
	testEntity(t, g, graph.KindFarm, "f1", "FarmA")
	require.NoError(t, store.SaveGraph(ctx, g))

	got, err := store.GetEntity(ctx, h.Ref())
	require.NoError(t, err)
	assert.Equal(t, "H2", got.Name)
	assert.Equal(t, 1.0, got.Metrics["state"])
	assert.Equal(t, "h2", got.Properties["id"])

	_, err = store.GetEntity(ctx, graph.Ref{Kind: graph.KindHost, ID: "nope"})
	assert.ErrorIs(t, err, ErrNotFound)

	hosts, err := store.FindByKind(ctx, graph.KindHost)
	require.NoError(t, err)
	require.Len(t, hosts, 2)
	assert.Equal(t, "h2", hosts[0].ID, "collection order is kept")
	assert.Equal(t, "h1", hosts[1].ID)
}

func TestSQLiteStore_Runs(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveRun(ctx, RunRecord{RunID: "r1", StartedAt: base, FinishedAt: base.Add(time.Minute), Entities: 5, Status: "ok"}))
	require.NoError(t, store.SaveRun(ctx, RunRecord{RunID: "r2", StartedAt: base.Add(time.Hour), FinishedAt: base.Add(time.Hour), Errors: 1, Status: "partial"}))
	require.NoError(t, store.SaveRun(ctx, RunRecord{RunID: "r1", StartedAt: base, FinishedAt: base.Add(time.Minute), Entities: 6, Status: "ok"}))

	runs, err := store.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].RunID)
	assert.Equal(t, "partial", runs[0].Status)
	assert.Equal(t, 6, runs[1].Entities)
	assert.True(t, runs[1].StartedAt.Equal(base))
}
