package analysis

import (
	"maps"
	"sort"

	"vdicollect/internal/graph"
)

// ImpactReport lists the entities affected by a set of changed or failing
// entities. Indirect impacts are their descendants, e.g. the sessions
// running on a host.
type ImpactReport struct {
	DirectlyAffected   []*graph.Entity
	IndirectlyAffected []*graph.Entity
}

// Analyzer performs impact analysis on an inventory graph.
type Analyzer struct {
	g *graph.Graph
}

// NewAnalyzer creates a new analyzer.
func NewAnalyzer(g *graph.Graph) *Analyzer {
	return &Analyzer{g: g}
}

// AnalyzeImpact reports the given entities and everything below them.
// Refs unknown to the graph are ignored.
func (a *Analyzer) AnalyzeImpact(refs []graph.Ref) *ImpactReport {
	report := &ImpactReport{
		DirectlyAffected:   []*graph.Entity{},
		IndirectlyAffected: []*graph.Entity{},
	}

	seenDirect := make(map[graph.Ref]bool)
	seenIndirect := make(map[graph.Ref]bool)

	// 1. Direct impacts
	for _, ref := range refs {
		e, ok := a.g.Get(ref)
		if !ok || seenDirect[ref] {
			continue
		}
		seenDirect[ref] = true
		report.DirectlyAffected = append(report.DirectlyAffected, e)
	}

	// 2. Indirect impacts (descendants)
	for _, e := range report.DirectlyAffected {
		for _, d := range a.g.Descendants(e.Ref()) {
			r := d.Ref()
			if seenDirect[r] || seenIndirect[r] {
				continue
			}
			seenIndirect[r] = true
			report.IndirectlyAffected = append(report.IndirectlyAffected, d)
		}
	}

	return report
}

// Unavailable returns entities that report themselves disabled or, for
// hosts, not in an available state.
func Unavailable(g *graph.Graph) []graph.Ref {
	var out []graph.Ref
	for _, e := range g.Entities() {
		if v, ok := e.Metrics["enabled"]; ok && v == 0 {
			out = append(out, e.Ref())
			continue
		}
		if e.Kind == graph.KindHost {
			if v, ok := e.Metrics["state"]; ok && v == 0 {
				out = append(out, e.Ref())
			}
		}
	}
	return out
}

// Changes is the difference between two snapshots.
type Changes struct {
	Added   []graph.Ref
	Removed []graph.Ref
	Changed []graph.Ref
}

func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Changed) == 0
}

// Diff compares an older snapshot with a newer one. An entity counts as
// changed when its name, properties, metrics or parents differ.
func Diff(prev, cur *graph.Graph) Changes {
	var c Changes
	for _, e := range cur.Entities() {
		old, ok := prev.Get(e.Ref())
		if !ok {
			c.Added = append(c.Added, e.Ref())
			continue
		}
		if !sameEntity(old, e) {
			c.Changed = append(c.Changed, e.Ref())
		}
	}
	for _, e := range prev.Entities() {
		if _, ok := cur.Get(e.Ref()); !ok {
			c.Removed = append(c.Removed, e.Ref())
		}
	}
	return c
}

func sameEntity(a, b *graph.Entity) bool {
	if a.Name != b.Name {
		return false
	}
	if !maps.Equal(a.Properties, b.Properties) || !maps.Equal(a.Metrics, b.Metrics) {
		return false
	}
	pa, pb := a.Parents(), b.Parents()
	if len(pa) != len(pb) {
		return false
	}
	sortRefs(pa)
	sortRefs(pb)
	for i := range pa {
		if pa[i] != pb[i] {
			return false
		}
	}
	return true
}

func sortRefs(refs []graph.Ref) {
	sort.Slice(refs, func(i, j int) bool { return refs[i].String() < refs[j].String() })
}
