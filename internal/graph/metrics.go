package graph

func (g *Graph) UnresolvedReasonCounts() map[UnresolvedReason]int {
	counts := make(map[UnresolvedReason]int)
	if g == nil {
		return counts
	}
	for _, u := range g.Unresolved {
		reason := u.Reason
		if reason == "" {
			reason = ReasonNoCandidate
		}
		counts[reason]++
	}
	return counts
}

// Counts returns the number of entities per kind.
func (g *Graph) Counts() map[Kind]int {
	counts := make(map[Kind]int, len(Kinds))
	if g == nil {
		return counts
	}
	for _, e := range g.entities {
		counts[e.Kind]++
	}
	return counts
}
