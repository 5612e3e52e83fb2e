// Package xtcmetrics registers the handful of Prometheus counters this
// module exposes: a small set of package-level counters wired directly
// to the operations that move them, rather than a generic
// metrics-everywhere framework.
package xtcmetrics

import "github.com/prometheus/client_golang/prometheus"

var (
	CommitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xtc_commits_total",
		Help: "Number of successful commit() calls that actually talked to the transport.",
	})
	CommitNoopTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xtc_commit_noop_total",
		Help: "Number of commit() calls that returned immediately because the cache was unchanged.",
	})
	LookupTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xtc_lookup_total",
		Help: "Chain lookups, partitioned by whether they hit the builtin scan, the index, or the lookup cache.",
	}, []string{"path"})
	ChainIndexRebuildsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xtc_chainindex_rebuilds_total",
		Help: "Number of times the chain index was fully rebuilt.",
	})
	ReconcileMismatchTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xtc_reconcile_mismatch_total",
		Help: "Counter-reconciliation entries whose counter-map tag referenced a rule absent from the pre-replace snapshot.",
	})
)

func init() {
	prometheus.MustRegister(
		CommitsTotal,
		CommitNoopTotal,
		LookupTotal,
		ChainIndexRebuildsTotal,
		ReconcileMismatchTotal,
	)
}
