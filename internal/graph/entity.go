package graph

// Entity is one inventory object. Kind and ID never change after
// construction; properties and metrics are filled by the builder, edges
// are attached through Graph.Link.
type Entity struct {
	Kind       Kind
	ID         string
	Name       string
	Properties map[string]string
	Metrics    map[string]float64

	parents  refSet
	children refSet
}

// NewEntity creates an entity with empty property and metric maps.
func NewEntity(kind Kind, id, name string) *Entity {
	return &Entity{
		Kind:       kind,
		ID:         id,
		Name:       name,
		Properties: make(map[string]string),
		Metrics:    make(map[string]float64),
	}
}

func (e *Entity) Ref() Ref {
	return Ref{Kind: e.Kind, ID: e.ID}
}

func (e *Entity) SetProperty(key, value string) {
	e.Properties[key] = value
}

func (e *Entity) SetMetric(key string, value float64) {
	e.Metrics[key] = value
}

// Parents returns the parent refs in attachment order.
func (e *Entity) Parents() []Ref {
	return e.parents.list()
}

// Children returns the child refs in attachment order.
func (e *Entity) Children() []Ref {
	return e.children.list()
}

// refSet is an insertion-ordered set of refs.
type refSet struct {
	order []Ref
	seen  map[Ref]struct{}
}

func (s *refSet) add(r Ref) bool {
	if s.seen == nil {
		s.seen = make(map[Ref]struct{})
	}
	if _, ok := s.seen[r]; ok {
		return false
	}
	s.seen[r] = struct{}{}
	s.order = append(s.order, r)
	return true
}

func (s *refSet) has(r Ref) bool {
	_, ok := s.seen[r]
	return ok
}

func (s *refSet) list() []Ref {
	if len(s.order) == 0 {
		return nil
	}
	out := make([]Ref, len(s.order))
	copy(out, s.order)
	return out
}
