package resolver

import (
	"errors"
	"log/slog"

	"vdicollect/internal/extractor"
	"vdicollect/internal/graph"
	"vdicollect/internal/telemetry"
)

type ResolveStats struct {
	Attempted int
	Resolved  int
	// Duplicate counts references whose edge already existed.
	Duplicate int
	Skipped   int
}

func (s *ResolveStats) Add(o ResolveStats) {
	s.Attempted += o.Attempted
	s.Resolved += o.Resolved
	s.Duplicate += o.Duplicate
	s.Skipped += o.Skipped
}

// Resolver turns foreign-key fields into graph edges. Lookups go through
// the graph's per-kind id index, so only entities added before the call
// can be matched.
type Resolver struct {
	g      *graph.Graph
	logger *slog.Logger
}

func NewResolver(g *graph.Graph, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{g: g, logger: logger.With("component", "resolver")}
}

// Attach applies one rule to entity e built from rec. A value with no
// matching target is recorded as unresolved; Attach never fails.
func (r *Resolver) Attach(e *graph.Entity, rec extractor.Record, rule Rule) ResolveStats {
	var stats ResolveStats
	if e == nil || e.Kind != rule.Source {
		return stats
	}

	for _, id := range ruleValues(rec, rule) {
		stats.Attempted++
		target := graph.Ref{Kind: rule.Target, ID: id}
		if _, ok := r.g.Get(target); !ok {
			r.unresolved(e.Ref(), rule.Field, target, graph.ReasonNoCandidate)
			stats.Skipped++
			continue
		}

		parent, child := target, e.Ref()
		if rule.Direction == TargetIsChild {
			parent, child = e.Ref(), target
		}
		added, err := r.g.Link(parent, child)
		switch {
		case err != nil:
			reason := graph.ReasonNoCandidate
			if errors.Is(err, graph.ErrUnknownEntity) {
				reason = graph.ReasonSourceMissing
			}
			r.logger.Debug("link failed", "from", e.Ref().String(), "field", rule.Field, "error", err)
			r.unresolved(e.Ref(), rule.Field, target, reason)
			stats.Skipped++
		case added:
			stats.Resolved++
		default:
			stats.Duplicate++
		}
	}
	return stats
}

// ResolveAll applies every rule registered for the entity's kind.
func (r *Resolver) ResolveAll(e *graph.Entity, rec extractor.Record) ResolveStats {
	var stats ResolveStats
	if e == nil {
		return stats
	}
	for _, rule := range RulesFor(e.Kind) {
		stats.Add(r.Attach(e, rec, rule))
	}
	return stats
}

func (r *Resolver) unresolved(from graph.Ref, field string, target graph.Ref, reason graph.UnresolvedReason) {
	telemetry.UnresolvedRefs.WithLabelValues(field).Inc()
	r.g.AddUnresolved(graph.UnresolvedRef{From: from, Field: field, Target: target, Reason: reason})
}

// ruleValues returns the non-empty ids held by the rule's field.
func ruleValues(rec extractor.Record, rule Rule) []string {
	if rule.List {
		return rec.StringList(rule.Field)
	}
	if id, ok := rec.NonEmpty(rule.Field); ok {
		return []string{id}
	}
	return nil
}
