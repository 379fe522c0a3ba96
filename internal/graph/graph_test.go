package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraph_AddAndLookup(t *testing.T) {
	g := NewGraph()

	f1 := NewEntity(KindFarm, "f1", "FarmA")
	f2 := NewEntity(KindFarm, "f2", "FarmB")
	require.NoError(t, g.Add(f1))
	require.NoError(t, g.Add(f2))

	t.Run("Duplicate id within kind is rejected", func(t *testing.T) {
		err := g.Add(NewEntity(KindFarm, "f1", "Other"))
		assert.ErrorIs(t, err, ErrDuplicateEntity)
		assert.Equal(t, 2, g.Len())
	})

	t.Run("Same id in another kind is allowed", func(t *testing.T) {
		require.NoError(t, g.Add(NewEntity(KindHost, "f1", "H")))
		assert.Equal(t, 3, g.Len())
	})

	t.Run("Lookup and insertion order", func(t *testing.T) {
		got, ok := g.Lookup(KindFarm, "f2")
		require.True(t, ok)
		assert.Equal(t, "FarmB", got.Name)

		farms := g.ByKind(KindFarm)
		require.Len(t, farms, 2)
		assert.Equal(t, "f1", farms[0].ID)
		assert.Equal(t, "f2", farms[1].ID)
	})
}

func TestGraph_Link(t *testing.T) {
	g := NewGraph()
	farm := NewEntity(KindFarm, "f1", "FarmA")
	host := NewEntity(KindHost, "h1", "H1")
	require.NoError(t, g.Add(farm))
	require.NoError(t, g.Add(host))

	added, err := g.Link(farm.Ref(), host.Ref())
	require.NoError(t, err)
	assert.True(t, added)

	t.Run("Edges are symmetric", func(t *testing.T) {
		assert.Equal(t, []Ref{host.Ref()}, farm.Children())
		assert.Equal(t, []Ref{farm.Ref()}, host.Parents())
		assert.Empty(t, farm.Parents())
	})

	t.Run("Linking twice yields one edge", func(t *testing.T) {
		added, err := g.Link(farm.Ref(), host.Ref())
		require.NoError(t, err)
		assert.False(t, added)
		assert.Len(t, g.Edges, 1)
		assert.Len(t, farm.Children(), 1)
	})

	t.Run("Unknown endpoint is rejected", func(t *testing.T) {
		_, err := g.Link(farm.Ref(), Ref{Kind: KindHost, ID: "missing"})
		assert.ErrorIs(t, err, ErrUnknownEntity)
		assert.Len(t, g.Edges, 1)
	})
}

func TestGraph_Descendants(t *testing.T) {
	g := NewGraph()
	farm := NewEntity(KindFarm, "f1", "FarmA")
	host := NewEntity(KindHost, "h1", "H1")
	s1 := NewEntity(KindSession, "s1", "u:rds:H1")
	s2 := NewEntity(KindSession, "s2", "v:rds:H1")
	for _, e := range []*Entity{farm, host, s1, s2} {
		require.NoError(t, g.Add(e))
	}
	_, _ = g.Link(farm.Ref(), host.Ref())
	_, _ = g.Link(host.Ref(), s1.Ref())
	_, _ = g.Link(host.Ref(), s2.Ref())
	// A session also hangs directly off the farm; it must be reported once.
	_, _ = g.Link(farm.Ref(), s1.Ref())

	desc := g.Descendants(farm.Ref())
	var ids []string
	for _, d := range desc {
		ids = append(ids, d.ID)
	}
	assert.ElementsMatch(t, []string{"h1", "s1", "s2"}, ids)

	assert.Len(t, g.Parents(s1.Ref()), 2)
	assert.Nil(t, g.Descendants(Ref{Kind: KindFarm, ID: "nope"}))
}

func TestGraph_Counts(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Add(NewEntity(KindPod, "p1", "Pod1")))
	require.NoError(t, g.Add(NewEntity(KindSite, "s1", "Site1")))
	require.NoError(t, g.Add(NewEntity(KindSite, "s2", "Site2")))
	g.AddUnresolved(UnresolvedRef{From: Ref{Kind: KindSite, ID: "s1"}, Field: "pods", Target: Ref{Kind: KindPod, ID: "p9"}})

	counts := g.Counts()
	assert.Equal(t, 1, counts[KindPod])
	assert.Equal(t, 2, counts[KindSite])
	assert.Equal(t, 1, g.UnresolvedReasonCounts()[ReasonNoCandidate])
}
