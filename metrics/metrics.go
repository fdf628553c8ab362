// Package metrics declares Prometheus collectors of identity caching,
// directory upserts, and reference writes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values of refcache metrics.
const (
	Fail = "fail"
	Ok   = "ok"
	Hit  = "hit"
	Miss = "miss"
)

// Collectors of the identity cache.
var (
	CacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refcache_lookups_total",
		Help: "Cumulative number of distinct keys resolved against the identity cache, by directory and result.",
	}, []string{"directory", "result"})
	CachePromotionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refcache_promotions_total",
		Help: "Cumulative number of overlay entries promoted into the shared cache at commit.",
	}, []string{"directory"})
	CacheConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refcache_conflicts_total",
		Help: "Cumulative number of cache inserts rejected for conflicting with a cached id.",
	}, []string{"directory"})
)

// Collectors of directory upserts.
var (
	UpsertStatementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refcache_upsert_statements_total",
		Help: "Cumulative number of directory upsert round-trips, by directory, strategy and status.",
	}, []string{"directory", "strategy", "status"})
	UpsertCandidatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refcache_upsert_candidates_total",
		Help: "Cumulative number of candidate keys offered to directory upserts.",
	}, []string{"directory"})
	UpsertInsertedRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refcache_upsert_inserted_rows_total",
		Help: "Cumulative number of directory rows created by upserts.",
	}, []string{"directory"})
	ConsistencyFaultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refcache_consistency_faults_total",
		Help: "Cumulative number of upserted keys which could not be re-read.",
	}, []string{"directory"})
)

// Collectors of reference writes.
var (
	RefBatchFlushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refcache_ref_batch_flushes_total",
		Help: "Cumulative number of token reference batches flushed, by status.",
	}, []string{"status"})
	RefRowsWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refcache_ref_rows_written_total",
		Help: "Cumulative number of token reference rows written.",
	})
	RefRowsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "refcache_ref_rows_deleted_total",
		Help: "Cumulative number of token reference rows deleted.",
	})
	UnitsOfWorkTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refcache_units_of_work_total",
		Help: "Cumulative number of reference units-of-work, by status.",
	}, []string{"status"})
)
