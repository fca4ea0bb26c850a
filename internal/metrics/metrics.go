package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProbeRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "directory_probe_requests_total",
			Help: "Outbound probe requests by method and outcome.",
		},
		[]string{"method", "outcome"}, // outcome: status class (2xx, 3xx...) or error
	)

	ProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "directory_probe_duration_seconds",
			Help:    "Duration of outbound probe requests until headers are received.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		},
		[]string{"method"},
	)

	ValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "directory_validations_total",
			Help: "Instance validations by result (ok or failure kind).",
		},
		[]string{"variant", "result"},
	)

	RatingRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "directory_rating_retries_total",
			Help: "Security rating API attempts that had to be retried.",
		},
	)

	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "directory_sweep_duration_seconds",
			Help:    "Duration of scheduled sweeps.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"sweep"},
	)

	SweepInstancesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "directory_sweep_instances_total",
			Help: "Per instance sweep results.",
		},
		[]string{"sweep", "result"}, // result: up, down, updated, unchanged, failed, deleted
	)

	CacheReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "directory_cache_reloads_total",
			Help: "Directory cache reloads by result.",
		},
		[]string{"result"},
	)

	NegativeLookupHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "directory_negative_lookup_hits_total",
			Help: "Submissions answered from the negative lookup cache without probing.",
		},
	)

	ListedInstances = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "directory_listed_instances",
			Help: "Instances in the current directory snapshot.",
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "directory_http_requests_total",
			Help: "Served HTTP requests by route pattern and status code.",
		},
		[]string{"route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "directory_http_request_duration_seconds",
			Help:    "Duration of served HTTP requests by route pattern.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 15, 30, 60},
		},
		[]string{"route"},
	)

	SubmissionsRateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "directory_submissions_rate_limited_total",
			Help: "Check and add requests rejected by the per client rate limiter.",
		},
	)
)
