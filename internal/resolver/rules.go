package resolver

import "vdicollect/internal/graph"

// Direction states which side of a resolved reference is the parent.
type Direction int

const (
	// TargetIsParent links target -> source.
	TargetIsParent Direction = iota
	// TargetIsChild links source -> target.
	TargetIsChild
)

func (d Direction) String() string {
	if d == TargetIsChild {
		return "target_is_child"
	}
	return "target_is_parent"
}

// Rule resolves one foreign-key field of a source kind against the
// entities of a target kind. List fields hold several ids.
type Rule struct {
	Source    graph.Kind
	Field     string
	Target    graph.Kind
	Direction Direction
	List      bool
}

// Rules is the relationship table, grouped by source kind in collection
// order.
var Rules = []Rule{
	{Source: graph.KindPod, Field: "active_global_desktop_entitlements", Target: graph.KindGlobalDesktopPool, Direction: TargetIsChild, List: true},
	{Source: graph.KindPod, Field: "active_global_application_entitlements", Target: graph.KindGlobalApplicationPool, Direction: TargetIsChild, List: true},

	{Source: graph.KindSite, Field: "pods", Target: graph.KindPod, Direction: TargetIsChild, List: true},

	{Source: graph.KindLocalDesktopPool, Field: "global_desktop_entitlement_id", Target: graph.KindGlobalDesktopPool, Direction: TargetIsParent},

	{Source: graph.KindLocalApplicationPool, Field: "farm_id", Target: graph.KindFarm, Direction: TargetIsChild},
	{Source: graph.KindLocalApplicationPool, Field: "global_application_entitlement_id", Target: graph.KindGlobalApplicationPool, Direction: TargetIsParent},

	{Source: graph.KindHost, Field: "farm_id", Target: graph.KindFarm, Direction: TargetIsParent},

	{Source: graph.KindSession, Field: "desktop_pool_id", Target: graph.KindLocalDesktopPool, Direction: TargetIsParent},
	{Source: graph.KindSession, Field: "rds_server_id", Target: graph.KindHost, Direction: TargetIsParent},
	{Source: graph.KindSession, Field: "farm_id", Target: graph.KindFarm, Direction: TargetIsParent},
}

// RulesFor returns the rules whose source is kind.
func RulesFor(kind graph.Kind) []Rule {
	var out []Rule
	for _, r := range Rules {
		if r.Source == kind {
			out = append(out, r)
		}
	}
	return out
}
