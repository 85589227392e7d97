package obs

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics exported by the encryption and
// decryption pipelines.
type Metrics struct {
	OperationsTotal    *prometheus.CounterVec
	OperationsActive   prometheus.Gauge
	OperationDuration  prometheus.Histogram
	BytesProcessedTotal *prometheus.CounterVec

	ChunksSealedTotal prometheus.Counter
	ChunksOpenedTotal prometheus.Counter
	ChunkAuthFailuresTotal prometheus.Counter
	ChunkLatency      prometheus.Histogram

	ArenaCapacityExceededTotal *prometheus.CounterVec
	ArenaLiveBytes             prometheus.Gauge

	ReorderOverflowTotal  prometheus.Counter
	ReorderPendingGauge   prometheus.Gauge

	activeOperations int64
}

// NewMetrics creates and registers all Prometheus metrics for the
// streamcipher pipeline.
func NewMetrics() *Metrics {
	return &Metrics{
		OperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ctncipher_operations_total",
				Help: "Total encrypt/decrypt operations initiated",
			},
			[]string{"direction", "status"},
		),

		OperationsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ctncipher_operations_active",
				Help: "Currently running encrypt/decrypt operations",
			},
		),

		OperationDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ctncipher_operation_duration_seconds",
				Help:    "Operation completion time distribution",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
		),

		BytesProcessedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ctncipher_bytes_processed_total",
				Help: "Total plaintext bytes processed",
			},
			[]string{"direction"},
		),

		ChunksSealedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ctncipher_chunks_sealed_total",
				Help: "Total chunks sealed by the encryption pipeline",
			},
		),

		ChunksOpenedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ctncipher_chunks_opened_total",
				Help: "Total chunks opened by the decryption pipeline",
			},
		),

		ChunkAuthFailuresTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ctncipher_chunk_auth_failures_total",
				Help: "Chunks that failed AEAD authentication",
			},
		),

		ChunkLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ctncipher_chunk_latency_seconds",
				Help:    "Per-chunk seal/open latency",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
			},
		),

		ArenaCapacityExceededTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ctncipher_arena_capacity_exceeded_total",
				Help: "Buffer rent requests denied for exceeding arena capacity",
			},
			[]string{"dimension"},
		),

		ArenaLiveBytes: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ctncipher_arena_live_bytes",
				Help: "Bytes currently tracked by the buffer arena",
			},
		),

		ReorderOverflowTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ctncipher_reorder_overflow_total",
				Help: "Decryption results rejected for exceeding the reorder window ceiling",
			},
		),

		ReorderPendingGauge: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ctncipher_reorder_pending",
				Help: "Chunk results currently buffered in the reorder window, awaiting drain",
			},
		),
	}
}

// RecordOperationStart marks the beginning of an encrypt/decrypt operation.
func (m *Metrics) RecordOperationStart() {
	atomic.AddInt64(&m.activeOperations, 1)
	m.OperationsActive.Set(float64(atomic.LoadInt64(&m.activeOperations)))
}

// RecordOperationComplete records operation completion metrics.
func (m *Metrics) RecordOperationComplete(direction string, success bool, durationSeconds float64) {
	atomic.AddInt64(&m.activeOperations, -1)
	m.OperationsActive.Set(float64(atomic.LoadInt64(&m.activeOperations)))

	status := "success"
	if !success {
		status = "failure"
	}
	m.OperationsTotal.WithLabelValues(direction, status).Inc()
	m.OperationDuration.Observe(durationSeconds)
}

// RecordChunkSealed records a successfully sealed chunk.
func (m *Metrics) RecordChunkSealed(plaintextLen int, latencySeconds float64) {
	m.ChunksSealedTotal.Inc()
	m.BytesProcessedTotal.WithLabelValues("encrypt").Add(float64(plaintextLen))
	m.ChunkLatency.Observe(latencySeconds)
}

// RecordChunkOpened records a successfully opened chunk.
func (m *Metrics) RecordChunkOpened(plaintextLen int, latencySeconds float64) {
	m.ChunksOpenedTotal.Inc()
	m.BytesProcessedTotal.WithLabelValues("decrypt").Add(float64(plaintextLen))
	m.ChunkLatency.Observe(latencySeconds)
}

// RecordChunkAuthFailure records a chunk that failed AEAD authentication.
func (m *Metrics) RecordChunkAuthFailure() {
	m.ChunkAuthFailuresTotal.Inc()
}

// RecordArenaCapacityExceeded records a denied rent request, labeled by
// which ceiling (count or bytes) was hit.
func (m *Metrics) RecordArenaCapacityExceeded(dimension string) {
	m.ArenaCapacityExceededTotal.WithLabelValues(dimension).Inc()
}

// SetArenaLiveBytes reports the arena's current live byte footprint.
func (m *Metrics) SetArenaLiveBytes(n int64) {
	m.ArenaLiveBytes.Set(float64(n))
}

// RecordReorderOverflow records a result rejected for exceeding the
// reorder window's hard capacity ceiling.
func (m *Metrics) RecordReorderOverflow() {
	m.ReorderOverflowTotal.Inc()
}

// SetReorderPending reports how many results currently sit in the reorder
// window awaiting a contiguous drain.
func (m *Metrics) SetReorderPending(n int) {
	m.ReorderPendingGauge.Set(float64(n))
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
