// Package metrics exposes one struct of pre-registered prometheus
// instruments instead of ad-hoc global metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Set holds every metric this core exports, registered once at
// construction time.
type Set struct {
	HeadersProposed      prometheus.Counter
	VotesCollected       prometheus.Counter
	CertificatesBuilt    prometheus.Counter
	CertificatesRejected *prometheus.CounterVec // by reason
	Equivocations        prometheus.Counter
	AnchorsCommitted     prometheus.Counter
	AnchorsSkipped       prometheus.Counter
	RoundDuration        prometheus.Histogram
	CheckpointDuration   prometheus.Histogram
	DAGRound             prometheus.Gauge
	CommittedRound       prometheus.Gauge
	SyncRequests         prometheus.Counter
	SyncRequestsServed   prometheus.Counter
	SyncFailures         prometheus.Counter
}

// New registers every instrument against reg and returns the populated
// Set. reg may be a prometheus.NewRegistry() in tests or the default
// global registry in production.
func New(reg prometheus.Registerer) *Set {
	s := &Set{
		HeadersProposed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "narwhal", Name: "headers_proposed_total", Help: "Headers proposed by this validator.",
		}),
		VotesCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "narwhal", Name: "votes_collected_total", Help: "Votes collected across all in-flight headers.",
		}),
		CertificatesBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "narwhal", Name: "certificates_built_total", Help: "Certificates assembled locally.",
		}),
		CertificatesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "narwhal", Name: "certificates_rejected_total", Help: "Certificates refused on insert, by rejection reason.",
		}, []string{"reason"}),
		Equivocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "narwhal", Name: "equivocations_total", Help: "Equivocating headers or certificates detected.",
		}),
		AnchorsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "narwhal", Name: "anchors_committed_total", Help: "Anchor rounds committed, including causal backfill.",
		}),
		AnchorsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "narwhal", Name: "anchors_skipped_total", Help: "Rounds passed over without a committed anchor.",
		}),
		RoundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "narwhal", Name: "round_duration_seconds", Help: "Wall-clock time to complete one round.",
			Buckets: prometheus.DefBuckets,
		}),
		CheckpointDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "narwhal", Name: "checkpoint_duration_seconds", Help: "Wall-clock time to capture and write one checkpoint.",
			Buckets: prometheus.DefBuckets,
		}),
		DAGRound: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "narwhal", Name: "dag_highest_round", Help: "Highest round with an accepted certificate.",
		}),
		CommittedRound: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "narwhal", Name: "committed_round", Help: "Highest round whose anchor has committed.",
		}),
		SyncRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "narwhal", Name: "sync_requests_total", Help: "Sync requests issued to peers.",
		}),
		SyncRequestsServed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "narwhal", Name: "sync_requests_served_total", Help: "Sync requests answered for peers.",
		}),
		SyncFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "narwhal", Name: "sync_failures_total", Help: "Sync requests that exhausted their retry budget.",
		}),
	}

	for _, c := range []prometheus.Collector{
		s.HeadersProposed, s.VotesCollected, s.CertificatesBuilt,
		s.CertificatesRejected, s.Equivocations, s.AnchorsCommitted,
		s.AnchorsSkipped, s.RoundDuration, s.CheckpointDuration,
		s.DAGRound, s.CommittedRound, s.SyncRequests, s.SyncRequestsServed,
		s.SyncFailures,
	} {
		reg.MustRegister(c)
	}
	return s
}
