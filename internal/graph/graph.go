package graph

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateEntity = errors.New("duplicate entity")
	ErrUnknownEntity   = errors.New("unknown entity")
)

// Graph is the aggregate of one collection run: every entity built by the
// pipeline plus the parent/child edges between them.
type Graph struct {
	Edges      []Edge
	Unresolved []UnresolvedRef

	entities []*Entity
	// Index for O(1) foreign-key resolution: Kind -> ID -> Entity.
	index map[Kind]map[string]*Entity
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		Edges: []Edge{},
		index: make(map[Kind]map[string]*Entity),
	}
}

// Add inserts an entity. A second entity with the same kind and id is
// rejected so that (kind, id) stays unique within the run.
func (g *Graph) Add(e *Entity) error {
	if e == nil {
		return fmt.Errorf("add entity: %w", ErrUnknownEntity)
	}
	byID, ok := g.index[e.Kind]
	if !ok {
		byID = make(map[string]*Entity)
		g.index[e.Kind] = byID
	}
	if _, exists := byID[e.ID]; exists {
		return fmt.Errorf("%s: %w", e.Ref(), ErrDuplicateEntity)
	}
	byID[e.ID] = e
	g.entities = append(g.entities, e)
	return nil
}

// Get returns the entity for ref.
func (g *Graph) Get(ref Ref) (*Entity, bool) {
	return g.Lookup(ref.Kind, ref.ID)
}

// Lookup returns the entity of the given kind and id.
func (g *Graph) Lookup(kind Kind, id string) (*Entity, bool) {
	if g == nil {
		return nil, false
	}
	e, ok := g.index[kind][id]
	return e, ok
}

// Entities returns all entities in insertion order.
func (g *Graph) Entities() []*Entity {
	out := make([]*Entity, len(g.entities))
	copy(out, g.entities)
	return out
}

// ByKind returns the entities of one kind in insertion order.
func (g *Graph) ByKind(kind Kind) []*Entity {
	var out []*Entity
	for _, e := range g.entities {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (g *Graph) Len() int {
	return len(g.entities)
}

// Link attaches parent -> child. Both entities must already be part of the
// graph. Linking the same pair again is a no-op and reports false.
func (g *Graph) Link(parent, child Ref) (bool, error) {
	p, ok := g.Get(parent)
	if !ok {
		return false, fmt.Errorf("parent %s: %w", parent, ErrUnknownEntity)
	}
	c, ok := g.Get(child)
	if !ok {
		return false, fmt.Errorf("child %s: %w", child, ErrUnknownEntity)
	}
	if p.children.has(child) {
		return false, nil
	}
	p.children.add(child)
	c.parents.add(parent)
	g.Edges = append(g.Edges, Edge{Parent: parent, Child: child})
	return true, nil
}

// AddUnresolved records a foreign key that could not be matched.
func (g *Graph) AddUnresolved(u UnresolvedRef) {
	g.Unresolved = append(g.Unresolved, u)
}

// Parents returns the parent entities of ref.
func (g *Graph) Parents(ref Ref) []*Entity {
	e, ok := g.Get(ref)
	if !ok {
		return nil
	}
	return g.resolveRefs(e.Parents())
}

// Children returns the child entities of ref.
func (g *Graph) Children(ref Ref) []*Entity {
	e, ok := g.Get(ref)
	if !ok {
		return nil
	}
	return g.resolveRefs(e.Children())
}

// Descendants walks child edges breadth-first and returns every entity
// reachable from ref, excluding ref itself.
func (g *Graph) Descendants(ref Ref) []*Entity {
	if _, ok := g.Get(ref); !ok {
		return nil
	}
	seen := map[Ref]bool{ref: true}
	queue := []Ref{ref}
	var out []*Entity
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range g.Children(cur) {
			r := child.Ref()
			if seen[r] {
				continue
			}
			seen[r] = true
			out = append(out, child)
			queue = append(queue, r)
		}
	}
	return out
}

func (g *Graph) resolveRefs(refs []Ref) []*Entity {
	out := make([]*Entity, 0, len(refs))
	for _, r := range refs {
		if e, ok := g.Get(r); ok {
			out = append(out, e)
		}
	}
	return out
}
