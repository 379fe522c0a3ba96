package retrieval

import (
	"sort"
	"strings"

	"vdicollect/internal/graph"
)

// Direction limits which edges a traversal follows.
type Direction int

const (
	Both Direction = iota
	Down           // parent -> child only
	Up             // child -> parent only
)

// Config controls how subgraphs are extracted.
type Config struct {
	MaxHops   int
	Direction Direction
	// AllowedKinds restricts the entities entered during traversal. Seeds
	// are always included.
	AllowedKinds map[graph.Kind]bool
}

func DefaultConfig() Config {
	return Config{
		MaxHops:      2,
		Direction:    Both,
		AllowedKinds: nil,
	}
}

// Subgraph is the neighbourhood of a set of seed entities.
type Subgraph struct {
	MaxHops int
	Seeds   []graph.Ref
	Refs    []graph.Ref
	Depth   map[graph.Ref]int
	Edges   []graph.Edge
}

// FindSeeds returns the entities matching query: "kind/id", an exact id,
// or a case-insensitive name.
func FindSeeds(g *graph.Graph, query string) []graph.Ref {
	query = strings.TrimSpace(query)
	if g == nil || query == "" {
		return nil
	}
	if kind, id, ok := strings.Cut(query, "/"); ok {
		if _, found := g.Lookup(graph.Kind(kind), id); found {
			return []graph.Ref{{Kind: graph.Kind(kind), ID: id}}
		}
	}
	var out []graph.Ref
	for _, e := range g.Entities() {
		if e.ID == query || strings.EqualFold(e.Name, query) {
			out = append(out, e.Ref())
		}
	}
	return out
}

// Extract walks up to cfg.MaxHops edges away from the seeds.
func Extract(g *graph.Graph, seeds []graph.Ref, cfg Config) *Subgraph {
	if cfg.MaxHops < 0 {
		cfg.MaxHops = 0
	}
	sg := &Subgraph{MaxHops: cfg.MaxHops, Depth: map[graph.Ref]int{}}
	if g == nil {
		return sg
	}

	queue := make([]queueItem, 0, len(seeds))
	for _, ref := range seeds {
		if _, ok := g.Get(ref); !ok {
			continue
		}
		if _, dup := sg.Depth[ref]; dup {
			continue
		}
		sg.Seeds = append(sg.Seeds, ref)
		sg.Depth[ref] = 0
		queue = append(queue, queueItem{ref: ref, depth: 0})
	}
	sortRefs(sg.Seeds)

	edgeSeen := make(map[graph.Edge]bool)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur.depth >= cfg.MaxHops {
			continue
		}

		for _, next := range neighbours(g, cur.ref, cfg.Direction) {
			if len(cfg.AllowedKinds) > 0 && !cfg.AllowedKinds[next.ref.Kind] {
				continue
			}
			if !edgeSeen[next.edge] {
				edgeSeen[next.edge] = true
				sg.Edges = append(sg.Edges, next.edge)
			}
			nextDepth := cur.depth + 1
			prevDepth, seen := sg.Depth[next.ref]
			if !seen || nextDepth < prevDepth {
				sg.Depth[next.ref] = nextDepth
				queue = append(queue, queueItem{ref: next.ref, depth: nextDepth})
			}
		}
	}

	for ref := range sg.Depth {
		sg.Refs = append(sg.Refs, ref)
	}
	sortRefs(sg.Refs)
	sort.Slice(sg.Edges, func(i, j int) bool {
		a, b := sg.Edges[i], sg.Edges[j]
		if a.Parent == b.Parent {
			return refLess(a.Child, b.Child)
		}
		return refLess(a.Parent, b.Parent)
	})
	return sg
}

// Graph copies the subgraph's entities and edges into a new graph.
func (sg *Subgraph) Graph(src *graph.Graph) *graph.Graph {
	out := graph.NewGraph()
	for _, ref := range sg.Refs {
		e, ok := src.Get(ref)
		if !ok {
			continue
		}
		c := graph.NewEntity(e.Kind, e.ID, e.Name)
		for k, v := range e.Properties {
			c.SetProperty(k, v)
		}
		for k, v := range e.Metrics {
			c.SetMetric(k, v)
		}
		_ = out.Add(c)
	}
	for _, edge := range sg.Edges {
		_, _ = out.Link(edge.Parent, edge.Child)
	}
	return out
}

type queueItem struct {
	ref   graph.Ref
	depth int
}

type hop struct {
	ref  graph.Ref
	edge graph.Edge
}

func neighbours(g *graph.Graph, ref graph.Ref, dir Direction) []hop {
	e, ok := g.Get(ref)
	if !ok {
		return nil
	}
	var out []hop
	if dir != Up {
		for _, child := range e.Children() {
			out = append(out, hop{ref: child, edge: graph.Edge{Parent: ref, Child: child}})
		}
	}
	if dir != Down {
		for _, parent := range e.Parents() {
			out = append(out, hop{ref: parent, edge: graph.Edge{Parent: parent, Child: ref}})
		}
	}
	return out
}

func refLess(a, b graph.Ref) bool {
	if a.Kind == b.Kind {
		return a.ID < b.ID
	}
	return a.Kind < b.Kind
}

func sortRefs(refs []graph.Ref) {
	sort.Slice(refs, func(i, j int) bool { return refLess(refs[i], refs[j]) })
}
