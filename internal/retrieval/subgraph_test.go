package retrieval

import (
	"testing"

	"vdicollect/internal/graph"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// farmGraph builds farm f1 -> host h1 -> session s1, plus an unrelated
// farm f2.
func farmGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.NewGraph()
	for _, e := range []*graph.Entity{
		graph.NewEntity(graph.KindFarm, "f1", "FarmA"),
		graph.NewEntity(graph.KindHost, "h1", "rds01"),
		graph.NewEntity(graph.KindSession, "s1", "bob:rds:rds01"),
		graph.NewEntity(graph.KindFarm, "f2", "FarmB"),
	} {
		require.NoError(t, g.Add(e))
	}
	link := func(p, c graph.Ref) {
		_, err := g.Link(p, c)
		require.NoError(t, err)
	}
	link(ref(graph.KindFarm, "f1"), ref(graph.KindHost, "h1"))
	link(ref(graph.KindHost, "h1"), ref(graph.KindSession, "s1"))
	return g
}

func ref(k graph.Kind, id string) graph.Ref {
	return graph.Ref{Kind: k, ID: id}
}

func TestExtract_BasicHopTraversal(t *testing.T) {
	g := farmGraph(t)
	sg := Extract(g, []graph.Ref{ref(graph.KindFarm, "f1")}, Config{MaxHops: 1})

	assert.Equal(t, []graph.Ref{ref(graph.KindFarm, "f1")}, sg.Seeds)
	assert.Equal(t, []graph.Ref{ref(graph.KindFarm, "f1"), ref(graph.KindHost, "h1")}, sg.Refs)
	require.Len(t, sg.Edges, 1)
	assert.Equal(t, 1, sg.Depth[ref(graph.KindHost, "h1")])
}

func TestExtract_Directions(t *testing.T) {
	g := farmGraph(t)
	host := ref(graph.KindHost, "h1")

	up := Extract(g, []graph.Ref{host}, Config{MaxHops: 3, Direction: Up})
	assert.Equal(t, []graph.Ref{ref(graph.KindFarm, "f1"), host}, up.Refs)

	down := Extract(g, []graph.Ref{host}, Config{MaxHops: 3, Direction: Down})
	assert.Equal(t, []graph.Ref{host, ref(graph.KindSession, "s1")}, down.Refs)

	both := Extract(g, []graph.Ref{host}, DefaultConfig())
	assert.Len(t, both.Refs, 3)
	assert.Len(t, both.Edges, 2)
}

func TestExtract_KindFilterAndUnknownSeeds(t *testing.T) {
	g := farmGraph(t)
	sg := Extract(g, []graph.Ref{ref(graph.KindFarm, "f1"), ref(graph.KindFarm, "zz")}, Config{
		MaxHops:      3,
		AllowedKinds: map[graph.Kind]bool{graph.KindHost: true},
	})
	assert.Equal(t, []graph.Ref{ref(graph.KindFarm, "f1")}, sg.Seeds)
	assert.Equal(t, []graph.Ref{ref(graph.KindFarm, "f1"), ref(graph.KindHost, "h1")}, sg.Refs)
}

func TestFindSeeds(t *testing.T) {
	g := farmGraph(t)
	assert.Equal(t, []graph.Ref{ref(graph.KindHost, "h1")}, FindSeeds(g, "RDSHost/h1"))
	assert.Equal(t, []graph.Ref{ref(graph.KindFarm, "f2")}, FindSeeds(g, "farmb"))
	assert.Equal(t, []graph.Ref{ref(graph.KindSession, "s1")}, FindSeeds(g, "s1"))
	assert.Empty(t, FindSeeds(g, "nothing"))
}

func TestSubgraph_Graph(t *testing.T) {
	g := farmGraph(t)
	sg := Extract(g, []graph.Ref{ref(graph.KindHost, "h1")}, Config{MaxHops: 1})
	sub := sg.Graph(g)

	assert.Equal(t, 3, sub.Len())
	assert.Len(t, sub.Edges, 2)
	_, hasF2 := sub.Get(ref(graph.KindFarm, "f2"))
	assert.False(t, hasF2)
}
