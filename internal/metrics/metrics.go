// Package metrics provides Prometheus instrumentation for the gateway and
// worker services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "novavoice"

// Status constants for metric labels.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

var (
	// connectedClients is a gauge of currently connected WebSocket clients.
	connectedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "Number of currently connected WebSocket clients",
		},
	)

	// chunksProcessedTotal is a counter of processed audio chunks.
	chunksProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_processed_total",
			Help:      "Total number of audio chunks processed by the gateway",
		},
		[]string{"status"}, // status: success, error
	)

	// chunkDuration is a histogram of per-chunk processing duration.
	chunkDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "audio_chunk_duration_seconds",
			Help:      "Histogram of per-chunk gateway processing duration in seconds",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		},
	)

	// jobsPublishedTotal is a counter of dispatched audio jobs.
	jobsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_published_total",
			Help:      "Total number of audio jobs published to the job stream",
		},
		[]string{"kind"}, // kind: realtime, final
	)

	// jobsDroppedTotal is a counter of jobs dropped by admission control.
	jobsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_dropped_total",
			Help:      "Total number of jobs dropped because the job stream was over its depth limit",
		},
	)

	// jobStreamDepth is a gauge of the job stream depth at last dispatch.
	jobStreamDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_stream_depth",
			Help:      "Job stream depth observed at the most recent dispatch decision",
		},
	)

	// resultsForwardedTotal is a counter of results forwarded to clients.
	resultsForwardedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_forwarded_total",
			Help:      "Total number of result messages forwarded to clients",
		},
		[]string{"kind"}, // kind: realtime, utterance_end
	)

	// resultsDiscardedTotal is a counter of stale or filtered results.
	resultsDiscardedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_discarded_total",
			Help:      "Total number of worker results discarded before reaching the client",
		},
		[]string{"reason"}, // reason: stale, awaiting_translation, error
	)

	// workerJobsTotal is a counter of jobs processed by workers.
	workerJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_jobs_total",
			Help:      "Total number of jobs processed by workers",
		},
		[]string{"worker", "status"}, // worker: stt, translation; status: success, error
	)

	// workerJobDuration is a histogram of worker processing duration.
	workerJobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_job_duration_seconds",
			Help:      "Histogram of worker job processing duration in seconds",
			Buckets:   []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"worker"},
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		connectedClients,
		chunksProcessedTotal,
		chunkDuration,
		jobsPublishedTotal,
		jobsDroppedTotal,
		jobStreamDepth,
		resultsForwardedTotal,
		resultsDiscardedTotal,
		workerJobsTotal,
		workerJobDuration,
	}
)

// ClientConnected records a new WebSocket connection.
func ClientConnected() {
	connectedClients.Inc()
}

// ClientDisconnected records a closed WebSocket connection.
func ClientDisconnected() {
	connectedClients.Dec()
}

// RecordChunkProcessed records one processed audio chunk.
func RecordChunkProcessed(status string, durationSeconds float64) {
	chunksProcessedTotal.WithLabelValues(status).Inc()
	chunkDuration.Observe(durationSeconds)
}

// RecordJobPublished records a dispatched job.
func RecordJobPublished(kind string) {
	jobsPublishedTotal.WithLabelValues(kind).Inc()
}

// RecordJobDropped records a job dropped by admission control.
func RecordJobDropped() {
	jobsDroppedTotal.Inc()
}

// SetJobStreamDepth records the job stream depth seen at dispatch time.
func SetJobStreamDepth(depth int64) {
	jobStreamDepth.Set(float64(depth))
}

// RecordResultForwarded records a result delivered to a client.
func RecordResultForwarded(kind string) {
	resultsForwardedTotal.WithLabelValues(kind).Inc()
}

// RecordResultDiscarded records a result filtered out before delivery.
func RecordResultDiscarded(reason string) {
	resultsDiscardedTotal.WithLabelValues(reason).Inc()
}

// RecordWorkerJob records one job processed by a worker.
func RecordWorkerJob(worker, status string, durationSeconds float64) {
	workerJobsTotal.WithLabelValues(worker, status).Inc()
	workerJobDuration.WithLabelValues(worker).Observe(durationSeconds)
}
