package audit

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vodpipe"

type collectors struct {
	gatherer     prometheus.Gatherer
	activeJobs   prometheus.Gauge
	jobs         *prometheus.CounterVec
	jobSeconds   *prometheus.HistogramVec
	stageSeconds *prometheus.HistogramVec
	tierSeconds  *prometheus.HistogramVec
	tierBytes    *prometheus.CounterVec
	tierSkips    *prometheus.CounterVec
	retries      *prometheus.CounterVec
}

func newCollectors(reg prometheus.Registerer, gatherer prometheus.Gatherer) *collectors {
	if reg == nil {
		private := prometheus.NewRegistry()
		reg = private
		gatherer = private
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	factory := promauto.With(reg)
	return &collectors{
		gatherer: gatherer,
		activeJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_jobs",
			Help:      "Jobs currently being processed",
		}),
		jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Finished jobs by outcome",
		}, []string{"outcome"}),
		jobSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall-clock time from job start to terminal state",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"outcome"}),
		stageSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each successful pipeline stage",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 16),
		}, []string{"stage"}),
		tierSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tier_encode_duration_seconds",
			Help:      "Time to encode one HLS rendition",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"tier"}),
		tierBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_output_bytes_total",
			Help:      "Bytes written per HLS rendition",
		}, []string{"tier"}),
		tierSkips: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_skipped_total",
			Help:      "Renditions dropped after a failed encode",
		}, []string{"tier"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retries scheduled after transient failures",
		}, []string{"stage"}),
	}
}

// Handler serves the recorder's collectors in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.metrics.gatherer, promhttp.HandlerOpts{})
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
