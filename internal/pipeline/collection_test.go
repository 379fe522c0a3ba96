package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"vdicollect/internal/crawler"
	"vdicollect/internal/extractor"
	"vdicollect/internal/graph"
	"vdicollect/internal/report"
	"vdicollect/internal/rest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer serves fixed collections, paginated by the page/size query.
// failPage makes the given page of a path answer 500.
type fakeServer struct {
	collections map[string][]map[string]any
	lookups     map[string]any
	failPage    map[string]int
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if body, ok := f.lookups[r.URL.RequestURI()]; ok {
		_ = json.NewEncoder(w).Encode(body)
		return
	}
	items, ok := f.collections[r.URL.Path]
	if !ok && !collectionPaths[r.URL.Path] {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if items == nil {
		items = []map[string]any{}
	}
	q := r.URL.Query()
	if q.Get("page") == "" {
		_ = json.NewEncoder(w).Encode(items)
		return
	}
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("size"))
	if f.failPage[r.URL.Path] == page {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	lo := min((page-1)*size, len(items))
	hi := min(page*size, len(items))
	_ = json.NewEncoder(w).Encode(items[lo:hi])
}

var collectionPaths = map[string]bool{
	PathGlobalDesktopPools: true, PathGlobalApplicationPools: true, PathPods: true,
	PathSites: true, PathLocalDesktopPools: true, PathFarms: true,
	PathLocalApplicationPools: true, PathHosts: true, PathSessions: true,
}

func newCollection(t *testing.T, f *fakeServer, opts Options) *Collection {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return New(rest.NewClient(srv.URL, rest.Options{}), "tok", opts, nil)
}

func TestRun_FarmWithHost(t *testing.T) {
	f := &fakeServer{collections: map[string][]map[string]any{
		PathFarms: {
			{"id": "f1", "name": "FarmA", "enabled": true, "type": "AUTOMATED"},
			{"id": "f2", "name": "FarmB", "enabled": false},
		},
		PathHosts: {{"id": "h1", "name": "H1", "enabled": true, "farm_id": "f1", "state": "AVAILABLE"}},
	}}
	res := newCollection(t, f, Options{}).Run(context.Background())
	require.NotNil(t, res)

	farm, ok := res.Graph.Lookup(graph.KindFarm, "f1")
	require.True(t, ok)
	host, ok := res.Graph.Lookup(graph.KindHost, "h1")
	require.True(t, ok)

	assert.Equal(t, []graph.Ref{host.Ref()}, farm.Children())
	assert.Equal(t, []graph.Ref{farm.Ref()}, host.Parents())
	assert.Equal(t, 1.0, farm.Metrics["enabled"])
	assert.Equal(t, 1.0, host.Metrics["state"])
	assert.Equal(t, "AUTOMATED", farm.Properties["type"])

	idle, ok := res.Graph.Lookup(graph.KindFarm, "f2")
	require.True(t, ok)
	assert.Empty(t, idle.Children())
	assert.Equal(t, 0.0, idle.Metrics["enabled"])
	assert.Len(t, res.Graph.Edges, 1)
	assert.Empty(t, res.Graph.Unresolved)
	assert.False(t, res.Partial())
	assert.NotEmpty(t, res.RunID)
}

func TestRun_SessionWithUnknownHost(t *testing.T) {
	f := &fakeServer{
		collections: map[string][]map[string]any{
			PathSessions: {{"id": "s1", "user_id": "u1", "rds_server_id": "missing", "session_state": "CONNECTED"}},
		},
		lookups: map[string]any{
			"/rest/external/v1/ad-users-or-groups/u1": map[string]any{"login_name": "bob"},
		},
	}
	res := newCollection(t, f, Options{}).Run(context.Background())

	sess, ok := res.Graph.Lookup(graph.KindSession, "s1")
	require.True(t, ok)
	assert.Equal(t, "bob", sess.Name)
	assert.Empty(t, sess.Parents())
	assert.Equal(t, "CONNECTED", sess.Properties["state"])

	require.Len(t, res.Graph.Unresolved, 1)
	u := res.Graph.Unresolved[0]
	assert.Equal(t, sess.Ref(), u.From)
	assert.Equal(t, "rds_server_id", u.Field)
	assert.Equal(t, graph.Ref{Kind: graph.KindHost, ID: "missing"}, u.Target)
	assert.False(t, res.Partial(), "unresolved references are not failures")
}

func TestRun_SessionPageFailure(t *testing.T) {
	sessions := make([]map[string]any, 0, 3)
	for i := 0; i < 3; i++ {
		sessions = append(sessions, map[string]any{"id": "s" + strconv.Itoa(i)})
	}
	f := &fakeServer{
		collections: map[string][]map[string]any{
			PathFarms:    {{"id": "f1", "name": "FarmA", "enabled": true}},
			PathSessions: sessions,
		},
		failPage: map[string]int{PathSessions: 2},
	}
	res := newCollection(t, f, Options{PageSize: 2}).Run(context.Background())

	assert.Len(t, res.Graph.ByKind(graph.KindSession), 2, "page 1 survives")
	assert.Len(t, res.Graph.ByKind(graph.KindFarm), 1, "other stages unaffected")
	require.Len(t, res.Errors, 1)
	var fe *crawler.FetchError
	require.ErrorAs(t, res.Errors[0], &fe)
	assert.Equal(t, 2, fe.Page)

	st, ok := res.Report.Stage("sessions")
	require.True(t, ok)
	assert.Equal(t, report.StatusPartial, st.Status)
	assert.Equal(t, 2.0, st.Counters["fetched"])
}

func TestRun_LaterStageUsesTruncatedFarms(t *testing.T) {
	f := &fakeServer{
		collections: map[string][]map[string]any{
			PathFarms: {
				{"id": "f1", "name": "FarmA"},
				{"id": "f2", "name": "FarmB"},
				{"id": "f3", "name": "FarmC"},
			},
			PathHosts: {
				{"id": "h1", "name": "H1", "farm_id": "f1"},
				{"id": "h3", "name": "H3", "farm_id": "f3"},
			},
		},
		failPage: map[string]int{PathFarms: 2},
	}
	res := newCollection(t, f, Options{PageSize: 2}).Run(context.Background())

	assert.Len(t, res.Graph.ByKind(graph.KindFarm), 2)
	_, ok := res.Graph.Lookup(graph.KindFarm, "f3")
	assert.False(t, ok)

	h1 := graph.Ref{Kind: graph.KindHost, ID: "h1"}
	h3, ok := res.Graph.Lookup(graph.KindHost, "h3")
	require.True(t, ok, "a host whose farm was lost is still built")
	assert.Empty(t, h3.Parents())

	assert.Equal(t, []graph.Edge{{Parent: graph.Ref{Kind: graph.KindFarm, ID: "f1"}, Child: h1}}, res.Graph.Edges)
	require.Len(t, res.Graph.Unresolved, 1)
	u := res.Graph.Unresolved[0]
	assert.Equal(t, h3.Ref(), u.From)
	assert.Equal(t, "farm_id", u.Field)
	assert.Equal(t, graph.Ref{Kind: graph.KindFarm, ID: "f3"}, u.Target)

	require.Len(t, res.Errors, 1)
	var fe *crawler.FetchError
	require.ErrorAs(t, res.Errors[0], &fe)
	assert.Equal(t, PathFarms, fe.Path)
	assert.Equal(t, 2, fe.Page)
}

func TestRun_FederationFilters(t *testing.T) {
	f := &fakeServer{collections: map[string][]map[string]any{
		PathGlobalDesktopPools: {{"id": "gdp1", "name": "GlobalWin", "enabled": true}},
		PathPods: {
			{"id": "p1", "name": "Local", "local_pod": true, "active_global_desktop_entitlements": []string{"gdp1"}},
			{"id": "p2", "name": "Remote", "local_pod": false},
		},
		PathSites: {
			{"id": "site1", "name": "HQ", "pods": []string{"p1", "p2"}},
			{"id": "site2", "name": "DR", "pods": []string{"p2"}},
		},
		PathLocalDesktopPools: {{"id": "dp1", "name": "Win11", "enabled": true, "global_desktop_entitlement_id": "gdp1"}},
	}}
	res := newCollection(t, f, Options{ParallelGlobals: true}).Run(context.Background())

	assert.Len(t, res.Graph.ByKind(graph.KindPod), 1)
	sites := res.Graph.ByKind(graph.KindSite)
	require.Len(t, sites, 1)
	assert.Equal(t, "site1", sites[0].ID)

	gdp := graph.Ref{Kind: graph.KindGlobalDesktopPool, ID: "gdp1"}
	pod := graph.Ref{Kind: graph.KindPod, ID: "p1"}
	site := sites[0].Ref()
	local := graph.Ref{Kind: graph.KindLocalDesktopPool, ID: "dp1"}

	assert.ElementsMatch(t, []graph.Edge{
		{Parent: pod, Child: gdp},
		{Parent: site, Child: pod},
		{Parent: gdp, Child: local},
	}, res.Graph.Edges)

	// p2 is listed by site1 but was filtered out.
	require.Len(t, res.Graph.Unresolved, 1)
	assert.Equal(t, "p2", res.Graph.Unresolved[0].Target.ID)
}

func TestRun_SkipsRecordsWithoutRequiredFields(t *testing.T) {
	f := &fakeServer{collections: map[string][]map[string]any{
		PathFarms: {
			{"id": "f1", "name": "FarmA"},
			{"id": "f2"},
			{"id": "f1", "name": "FarmA again"},
			{"id": "f3", "name": "FarmC"},
		},
	}}
	res := newCollection(t, f, Options{}).Run(context.Background())

	farms := res.Graph.ByKind(graph.KindFarm)
	require.Len(t, farms, 2)
	assert.Equal(t, "FarmA", farms[0].Name)
	assert.Equal(t, "f3", farms[1].ID)

	st, ok := res.Report.Stage("farms")
	require.True(t, ok)
	assert.Equal(t, 1.0, st.Counters["skipped"])
	assert.Equal(t, 1.0, st.Counters["duplicates"])
}

type panickyEnricher struct{}

func (panickyEnricher) EnrichAll(context.Context, []extractor.Record, int) []extractor.SessionEnrichment {
	panic("lookup exploded")
}

func TestRun_RecoversFromPanic(t *testing.T) {
	f := &fakeServer{collections: map[string][]map[string]any{
		PathFarms:    {{"id": "f1", "name": "FarmA"}},
		PathSessions: {{"id": "s1"}},
	}}
	res := newCollection(t, f, Options{}).WithEnricher(panickyEnricher{}).Run(context.Background())

	require.NotNil(t, res)
	assert.Len(t, res.Graph.ByKind(graph.KindFarm), 1)
	assert.True(t, res.Partial())
	assert.True(t, res.Report.HasCritical())
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := newCollection(t, &fakeServer{}, Options{}).Run(ctx)
	require.NotNil(t, res)
	assert.True(t, res.Partial())
	assert.Zero(t, res.Graph.Len())
}

// explodingGetter panics on any path containing trigger and forwards the
// rest to next.
type explodingGetter struct {
	next    crawler.Getter
	trigger string
}

func (g explodingGetter) Get(ctx context.Context, path, token string) (int, []byte, error) {
	if strings.Contains(path, g.trigger) {
		panic("upstream client exploded")
	}
	return g.next.Get(ctx, path, token)
}

func newExplodingCollection(t *testing.T, f *fakeServer, trigger string, opts Options) *Collection {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	getter := explodingGetter{next: rest.NewClient(srv.URL, rest.Options{}), trigger: trigger}
	return New(getter, "tok", opts, nil)
}

func TestRun_RecoversFromWorkerPanics(t *testing.T) {
	t.Run("Enrichment workers", func(t *testing.T) {
		sessions := make([]map[string]any, 0, 6)
		for i := 0; i < 6; i++ {
			sessions = append(sessions, map[string]any{"id": "s" + strconv.Itoa(i), "user_id": "u" + strconv.Itoa(i)})
		}
		f := &fakeServer{collections: map[string][]map[string]any{
			PathFarms:    {{"id": "f1", "name": "FarmA"}},
			PathSessions: sessions,
		}}
		res := newExplodingCollection(t, f, "/ad-users-or-groups/", Options{EnrichWorkers: 4}).Run(context.Background())

		require.NotNil(t, res)
		assert.Len(t, res.Graph.ByKind(graph.KindFarm), 1)
		assert.Empty(t, res.Graph.ByKind(graph.KindSession))
		assert.True(t, res.Report.HasCritical())
		assert.Equal(t, report.StatusFailed, res.Status())
	})

	t.Run("Parallel global stages", func(t *testing.T) {
		f := &fakeServer{collections: map[string][]map[string]any{
			PathGlobalDesktopPools: {{"id": "gdp1", "name": "GlobalWin"}},
			PathFarms:              {{"id": "f1", "name": "FarmA"}},
		}}
		res := newExplodingCollection(t, f, PathGlobalApplicationPools, Options{ParallelGlobals: true}).Run(context.Background())

		require.NotNil(t, res)
		assert.Empty(t, res.Graph.ByKind(graph.KindGlobalApplicationPool))
		assert.Empty(t, res.Graph.ByKind(graph.KindFarm), "the run stops after the panic")
		assert.True(t, res.Report.HasCritical())
		require.NotEmpty(t, res.Errors)
		assert.Contains(t, res.Errors[len(res.Errors)-1].Error(), "upstream client exploded")
	})
}
