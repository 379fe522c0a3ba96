// Package telemetry holds the Prometheus collectors updated during a
// collection run. They register with the default registry and are exposed
// by the serve command.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PagesFetched counts collection pages by endpoint and result.
	PagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vdicollect_pages_fetched_total",
		Help: "Collection pages requested, by endpoint and result",
	}, []string{"endpoint", "result"}) // result: "ok" or "failed"

	// Lookups counts enrichment lookups by kind and result.
	Lookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vdicollect_enrichment_lookups_total",
		Help: "Enrichment lookups, by lookup kind and result",
	}, []string{"lookup", "result"}) // result: "ok", "failed", "cached"

	// EntitiesBuilt counts entities added to the graph by kind.
	EntitiesBuilt = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vdicollect_entities_built_total",
		Help: "Entities built, by kind",
	}, []string{"kind"})

	// RecordsSkipped counts records dropped for missing required fields.
	RecordsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vdicollect_records_skipped_total",
		Help: "Records skipped, by kind",
	}, []string{"kind"})

	// UnresolvedRefs counts foreign keys without a matching entity.
	UnresolvedRefs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vdicollect_unresolved_references_total",
		Help: "Foreign keys that matched no collected entity, by field",
	}, []string{"field"})

	// RunDuration tracks full collection run latency.
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vdicollect_run_duration_seconds",
		Help:    "Collection run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17m
	})

	// RunsTotal counts runs by outcome.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vdicollect_runs_total",
		Help: "Collection runs, by outcome",
	}, []string{"outcome"}) // "ok", "partial", "failed"
)
