package pipeline

import (
	"vdicollect/internal/extractor"
	"vdicollect/internal/graph"
)

// Upstream collection endpoints.
const (
	PathGlobalDesktopPools     = "/rest/inventory/v1/global-desktop-entitlements"
	PathGlobalApplicationPools = "/rest/inventory/v2/global-application-entitlements"
	PathPods                   = "/rest/federation/v1/pods"
	PathSites                  = "/rest/federation/v1/sites"
	PathLocalDesktopPools      = "/rest/inventory/v6/desktop-pools"
	PathFarms                  = "/rest/inventory/v4/farms"
	PathLocalApplicationPools  = "/rest/inventory/v3/application-pools"
	PathHosts                  = "/rest/inventory/v1/rds-servers"
	PathSessions               = "/rest/inventory/v1/sessions"
)

// stage collects one entity kind.
type stage struct {
	name      string
	kind      graph.Kind
	path      string
	paginated bool
	// keep filters fetched records against the graph built so far.
	keep func(g *graph.Graph, rec extractor.Record) bool
}

var (
	globalDesktopStage = stage{name: "global_desktop_pools", kind: graph.KindGlobalDesktopPool, path: PathGlobalDesktopPools, paginated: true}
	globalAppStage     = stage{name: "global_application_pools", kind: graph.KindGlobalApplicationPool, path: PathGlobalApplicationPools, paginated: true}
	sessionStage       = stage{name: "sessions", kind: graph.KindSession, path: PathSessions, paginated: true}

	// localStages run after the global pools, in order.
	localStages = []stage{
		{name: "pods", kind: graph.KindPod, path: PathPods, keep: localPod},
		{name: "sites", kind: graph.KindSite, path: PathSites, keep: siteWithLocalPod},
		{name: "local_desktop_pools", kind: graph.KindLocalDesktopPool, path: PathLocalDesktopPools, paginated: true},
		{name: "farms", kind: graph.KindFarm, path: PathFarms, paginated: true},
		{name: "local_application_pools", kind: graph.KindLocalApplicationPool, path: PathLocalApplicationPools, paginated: true},
		{name: "hosts", kind: graph.KindHost, path: PathHosts, paginated: true},
	}
)

// localPod keeps only the pod this connection server belongs to.
func localPod(_ *graph.Graph, rec extractor.Record) bool {
	local, ok := rec.Bool("local_pod")
	return ok && local
}

// siteWithLocalPod keeps a site when one of its pods was collected.
func siteWithLocalPod(g *graph.Graph, rec extractor.Record) bool {
	for _, id := range rec.StringList("pods") {
		if _, ok := g.Lookup(graph.KindPod, id); ok {
			return true
		}
	}
	return false
}
