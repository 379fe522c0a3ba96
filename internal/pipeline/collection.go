package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"vdicollect/internal/crawler"
	"vdicollect/internal/enrich"
	"vdicollect/internal/extractor"
	"vdicollect/internal/graph"
	"vdicollect/internal/report"
	"vdicollect/internal/resolver"
	"vdicollect/internal/telemetry"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Options tunes one collection run.
type Options struct {
	PageSize        int
	ParallelGlobals bool
	EnrichWorkers   int
	// Server labels the report; usually the base URL.
	Server string
}

// Enricher resolves session names and logon times.
type Enricher interface {
	EnrichAll(ctx context.Context, recs []extractor.Record, workers int) []extractor.SessionEnrichment
}

// Result is the outcome of a run. Graph holds whatever was collected, even
// when Errors is not empty.
type Result struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Graph      *graph.Graph
	Report     *report.Report
	Errors     []error
}

// Partial reports whether the run hit any failure.
func (r *Result) Partial() bool {
	return len(r.Errors) > 0
}

// Collection runs the staged inventory collection against one connection
// server.
type Collection struct {
	crawler  *crawler.Crawler
	enricher Enricher
	opts     Options
	logger   *slog.Logger
}

// New creates a collection that authenticates every request with token.
func New(client crawler.Getter, token string, opts Options, logger *slog.Logger) *Collection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collection{
		crawler:  crawler.NewCrawler(client, token, opts.PageSize, logger),
		enricher: enrich.NewClient(client, token, logger),
		opts:     opts,
		logger:   logger,
	}
}

// WithEnricher replaces the session enricher.
func (c *Collection) WithEnricher(e Enricher) *Collection {
	c.enricher = e
	return c
}

// run carries the state of one Run call.
type run struct {
	*Collection
	id     string
	g      *graph.Graph
	res    *resolver.Resolver
	report *report.Report
	logger *slog.Logger
	errs   []error
}

// built pairs an entity with the record it came from, for resolution.
type built struct {
	entity *graph.Entity
	rec    extractor.Record
}

// stageOutput is what a stage produced before being merged into the graph.
type stageOutput struct {
	stage    stage
	handle   report.StageHandle
	fetched  int
	filtered int
	skipped  int
	items    []built
	fetchErr error
}

// Run collects every stage in dependency order. It never panics and never
// returns nil; failures are recorded in Result.Errors and the report.
func (c *Collection) Run(ctx context.Context) (result *Result) {
	id := uuid.NewString()
	g := graph.NewGraph()
	logger := c.logger.With("run_id", id)
	r := &run{
		Collection: c,
		id:         id,
		g:          g,
		res:        resolver.NewResolver(g, logger),
		report:     report.New(id, c.opts.Server),
		logger:     logger,
	}
	result = &Result{RunID: id, StartedAt: time.Now().UTC(), Graph: g, Report: r.report}

	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("collection aborted: %v", p)
			r.logger.Error("collection panicked", "panic", p, "stack", string(debug.Stack()))
			r.errs = append(r.errs, err)
			r.report.AddSignal("run_aborted", "run", report.SeverityCritical, err.Error(), 0)
		}
		r.finish(result)
	}()

	r.logger.Info("collection started", "server", c.opts.Server)
	r.globalStages(ctx)
	for _, st := range localStages {
		if err := ctx.Err(); err != nil {
			r.abort(err)
			return result
		}
		out := r.fetchAndBuild(ctx, st)
		r.merge(out)
	}
	if err := ctx.Err(); err != nil {
		r.abort(err)
		return result
	}
	r.sessions(ctx)
	return result
}

func (r *run) finish(result *Result) {
	result.FinishedAt = time.Now().UTC()
	result.Errors = r.errs

	counts := make(map[string]int)
	for kind, n := range r.g.Counts() {
		counts[string(kind)] = n
	}
	r.report.Finalize(counts, len(r.g.Edges), len(r.g.Unresolved))

	outcome := result.Status()
	telemetry.RunsTotal.WithLabelValues(outcome).Inc()
	telemetry.RunDuration.Observe(result.FinishedAt.Sub(result.StartedAt).Seconds())

	r.logger.Info("collection finished",
		"outcome", outcome,
		"entities", r.g.Len(),
		"edges", len(r.g.Edges),
		"unresolved", len(r.g.Unresolved),
		"errors", len(r.errs),
		"elapsed", result.FinishedAt.Sub(result.StartedAt))
}

func (r *run) abort(err error) {
	r.errs = append(r.errs, err)
	r.report.AddSignal("run_cancelled", "run", report.SeverityCritical, err.Error(), 0)
}

// globalStages collects both global pool kinds. They reference nothing, so
// they may be fetched concurrently; the merge order is fixed.
func (r *run) globalStages(ctx context.Context) {
	var desktop, app *stageOutput
	if !r.opts.ParallelGlobals {
		desktop = r.fetchAndBuild(ctx, globalDesktopStage)
		r.merge(desktop)
		app = r.fetchAndBuild(ctx, globalAppStage)
		r.merge(app)
		return
	}

	eg, egctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return r.recovered(func() { desktop = r.fetchAndBuild(egctx, globalDesktopStage) })
	})
	eg.Go(func() error {
		return r.recovered(func() { app = r.fetchAndBuild(egctx, globalAppStage) })
	})
	err := eg.Wait()
	r.merge(desktop)
	r.merge(app)
	if err != nil {
		// Hand the panic to Run's recover on this goroutine.
		panic(err)
	}
}

// recovered runs fn and turns a panic into an error, for work done on
// goroutines that Run's recover cannot see.
func (r *run) recovered(fn func()) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("stage worker panicked", "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("stage worker: %v", p)
		}
	}()
	fn()
	return nil
}

// fetchAndBuild fetches a stage's records and maps them to entities. It
// does not touch the graph except through the stage filter, so global
// stages can run it concurrently.
func (r *run) fetchAndBuild(ctx context.Context, st stage) *stageOutput {
	out := &stageOutput{stage: st, handle: r.report.BeginStage(st.name)}
	logger := r.logger.With("stage", st.name)

	var recs []extractor.Record
	if st.paginated {
		recs, out.fetchErr = r.crawler.FetchAll(ctx, st.path)
	} else {
		recs, out.fetchErr = r.crawler.FetchOnce(ctx, st.path)
	}
	out.fetched = len(recs)

	for _, rec := range recs {
		if st.keep != nil && !st.keep(r.g, rec) {
			out.filtered++
			continue
		}
		e, err := extractor.Build(st.kind, rec)
		if err != nil {
			out.skipped++
			telemetry.RecordsSkipped.WithLabelValues(string(st.kind)).Inc()
			logger.Warn("record skipped", "error", err)
			continue
		}
		out.items = append(out.items, built{entity: e, rec: rec})
	}
	return out
}

// merge adds a stage's entities in upstream order, resolves their
// references and closes the stage in the report.
func (r *run) merge(out *stageOutput) {
	if out == nil {
		return
	}
	st := out.stage
	logger := r.logger.With("stage", st.name)

	edgesBefore, unresolvedBefore := len(r.g.Edges), len(r.g.Unresolved)
	added, duplicates := 0, 0
	var stats resolver.ResolveStats
	for _, it := range out.items {
		if err := r.g.Add(it.entity); err != nil {
			if errors.Is(err, graph.ErrDuplicateEntity) {
				duplicates++
				logger.Warn("duplicate record dropped", "ref", it.entity.Ref().String())
				continue
			}
			logger.Warn("entity not added", "error", err)
			continue
		}
		added++
		telemetry.EntitiesBuilt.WithLabelValues(string(st.kind)).Inc()
		stats.Add(r.res.ResolveAll(it.entity, it.rec))
	}

	edges := len(r.g.Edges) - edgesBefore
	unresolved := len(r.g.Unresolved) - unresolvedBefore
	r.closeStage(out, added, duplicates, edges, unresolved)
	logger.Info("stage complete",
		"fetched", out.fetched, "added", added, "skipped", out.skipped,
		"filtered", out.filtered, "edges", edges, "unresolved", unresolved,
		"resolved", stats.Resolved)
}

func (r *run) closeStage(out *stageOutput, added, duplicates, edges, unresolved int) {
	st := out.stage
	counters := map[string]float64{
		"fetched":    float64(out.fetched),
		"added":      float64(added),
		"skipped":    float64(out.skipped),
		"filtered":   float64(out.filtered),
		"duplicates": float64(duplicates),
		"edges":      float64(edges),
		"unresolved": float64(unresolved),
	}

	status := report.StatusOK
	var notes []string
	if out.fetchErr != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", st.name, out.fetchErr))
		if out.fetched > 0 {
			status = report.StatusPartial
			notes = append(notes, fmt.Sprintf("kept %d records fetched before the failure", out.fetched))
		} else {
			status = report.StatusError
		}
		r.report.AddSignal("fetch_failed", st.name, report.SeverityWarning, out.fetchErr.Error(), float64(out.fetched))
	}
	if out.skipped > 0 {
		r.report.AddSignal("records_skipped", st.name, report.SeverityWarning,
			fmt.Sprintf("%d records lacked required fields", out.skipped), float64(out.skipped))
	}
	if duplicates > 0 {
		r.report.AddSignal("duplicate_records", st.name, report.SeverityWarning,
			fmt.Sprintf("%d records repeated an id already collected", duplicates), float64(duplicates))
	}
	if unresolved > 0 {
		r.report.AddSignal("unresolved_references", st.name, report.SeverityInfo,
			fmt.Sprintf("%d references matched no collected entity", unresolved), float64(unresolved))
	}
	r.report.EndStage(out.handle, status, counters, notes, nil)
}

// sessions fetches sessions, enriches them through secondary lookups and
// builds them once their names are known.
func (r *run) sessions(ctx context.Context) {
	st := sessionStage
	out := &stageOutput{stage: st, handle: r.report.BeginStage(st.name)}
	logger := r.logger.With("stage", st.name)

	recs, err := r.crawler.FetchAll(ctx, st.path)
	out.fetched, out.fetchErr = len(recs), err

	enrichments := r.enricher.EnrichAll(ctx, recs, r.opts.EnrichWorkers)
	for i, rec := range recs {
		e, err := extractor.BuildSession(rec, enrichments[i])
		if err != nil {
			out.skipped++
			telemetry.RecordsSkipped.WithLabelValues(string(st.kind)).Inc()
			logger.Warn("record skipped", "error", err)
			continue
		}
		out.items = append(out.items, built{entity: e, rec: rec})
	}
	r.merge(out)
}
