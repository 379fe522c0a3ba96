package graph

// Kind discriminates the inventory object types collected from the
// connection server. Values are the object kinds registered with the
// monitoring platform.
type Kind string

const (
	KindGlobalDesktopPool     Kind = "globalDesktopPool"
	KindGlobalApplicationPool Kind = "globalApplicationPool"
	KindPod                   Kind = "pod"
	KindSite                  Kind = "site"
	KindLocalDesktopPool      Kind = "localDesktopPool"
	KindFarm                  Kind = "RDSFarm"
	KindLocalApplicationPool  Kind = "localApplicationPool"
	KindHost                  Kind = "RDSHost"
	KindSession               Kind = "localSession"
)

// Kinds lists every kind in collection order.
var Kinds = []Kind{
	KindGlobalDesktopPool,
	KindGlobalApplicationPool,
	KindPod,
	KindSite,
	KindLocalDesktopPool,
	KindFarm,
	KindLocalApplicationPool,
	KindHost,
	KindSession,
}

func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Ref identifies an entity within one collection run.
type Ref struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

func (r Ref) String() string {
	return string(r.Kind) + "/" + r.ID
}

// Edge is a directed parent -> child relationship.
type Edge struct {
	Parent Ref `json:"parent"`
	Child  Ref `json:"child"`
}

type UnresolvedReason string

const (
	ReasonNoCandidate   UnresolvedReason = "no_candidate"
	ReasonSourceMissing UnresolvedReason = "source_missing"
)

// UnresolvedRef records a foreign key whose target was not part of the run.
type UnresolvedRef struct {
	From   Ref              `json:"from"`
	Field  string           `json:"field"`
	Target Ref              `json:"target"`
	Reason UnresolvedReason `json:"reason"`
}
