package observability

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for a hub process.
type Metrics struct {
	// Query metrics
	QueriesTotal       *prometheus.CounterVec
	QueriesActive      prometheus.Gauge
	QueryLatency       prometheus.Histogram

	// Capsule metrics
	CapsulesIssuedTotal    *prometheus.CounterVec
	CapsulesCachedTotal    prometheus.Counter
	CapsulesExpiredTotal   prometheus.Counter

	// Transport / netsim metrics
	ChunksSentTotal         prometheus.Counter
	ChunksLostTotal         prometheus.Counter
	ChunksRetransmitted     *prometheus.CounterVec
	ReassemblyTimeoutsTotal prometheus.Counter
	ObservedLossRate        prometheus.Gauge
	FECEnabled              prometheus.Gauge
	FECParityShardsSentTotal prometheus.Counter

	// Queue / retransmission metrics
	QueueDepth          prometheus.Gauge
	QueueEntriesFailed  prometheus.Counter

	// Gossip / sync metrics
	ManifestsPublishedTotal prometheus.Counter
	ManifestsReceivedTotal  prometheus.Counter
	CapsuleRequestsTotal    *prometheus.CounterVec

	// Crypto metrics
	CryptoOperationsTotal    *prometheus.CounterVec
	CryptoOperationDuration  prometheus.Histogram
	SignatureVerificationsTotal *prometheus.CounterVec

	// Storage metrics
	DatabaseOperationsTotal *prometheus.CounterVec
	DiskSpaceUsedBytes      prometheus.Gauge

	activeQueries int64
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		QueriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capsulemesh_queries_total",
				Help: "Total queries handled, by outcome",
			},
			[]string{"outcome"},
		),

		QueriesActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "capsulemesh_queries_active",
				Help: "Currently in-flight queries awaiting a reply",
			},
		),

		QueryLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "capsulemesh_query_latency_seconds",
				Help:    "Time from QUERY submission to a terminal result",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),

		CapsulesIssuedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capsulemesh_capsules_issued_total",
				Help: "Capsules issued by a main hub, by kind",
			},
			[]string{"kind"},
		),

		CapsulesCachedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "capsulemesh_capsules_cached_total",
				Help: "Capsules accepted into a local store",
			},
		),

		CapsulesExpiredTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "capsulemesh_capsules_expired_total",
				Help: "Capsules removed by the TTL sweeper",
			},
		),

		ChunksSentTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "capsulemesh_chunks_sent_total",
				Help: "Total chunks submitted to the link simulator",
			},
		),

		ChunksLostTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "capsulemesh_chunks_lost_total",
				Help: "Chunks dropped by the simulated loss model",
			},
		),

		ChunksRetransmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capsulemesh_chunks_retransmitted_total",
				Help: "Packets requiring retransmission, by reason",
			},
			[]string{"reason"},
		),

		ReassemblyTimeoutsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "capsulemesh_reassembly_timeouts_total",
				Help: "Packets dropped after reassembly timeout",
			},
		),

		ObservedLossRate: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "capsulemesh_observed_loss_rate",
				Help: "Observed chunk loss rate (0.0-1.0)",
			},
		),

		FECEnabled: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "capsulemesh_fec_enabled",
				Help: "Adaptive forward error correction currently enabled (0/1)",
			},
		),

		FECParityShardsSentTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "capsulemesh_fec_parity_shards_sent_total",
				Help: "Parity shards called for by the adaptive redundancy policy (none are transmitted)",
			},
		),

		QueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "capsulemesh_queue_depth",
				Help: "Pending or in-flight entries in the retransmission queue",
			},
		),

		QueueEntriesFailed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "capsulemesh_queue_entries_failed_total",
				Help: "Queue entries that exhausted max_retries",
			},
		),

		ManifestsPublishedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "capsulemesh_manifests_published_total",
				Help: "Manifests broadcast by a main hub",
			},
		),

		ManifestsReceivedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "capsulemesh_manifests_received_total",
				Help: "Manifests received and diffed by a mini hub",
			},
		),

		CapsuleRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capsulemesh_capsule_requests_total",
				Help: "CAPSULE_REQUEST frames issued during selective sync, by result",
			},
			[]string{"result"},
		),

		CryptoOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capsulemesh_crypto_operations_total",
				Help: "Cryptographic operations performed, by kind",
			},
			[]string{"operation"},
		),

		CryptoOperationDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "capsulemesh_crypto_operation_duration_seconds",
				Help:    "Crypto operation latency",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
			},
		),

		SignatureVerificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capsulemesh_signature_verifications_total",
				Help: "Ed25519 signature verifications, by result",
			},
			[]string{"result"},
		),

		DatabaseOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capsulemesh_database_operations_total",
				Help: "Capsule store operation count, by operation and result",
			},
			[]string{"operation", "result"},
		),

		DiskSpaceUsedBytes: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "capsulemesh_disk_space_used_bytes",
				Help: "Disk space used by the capsule store",
			},
		),
	}

	return m
}

// RecordQueryStart increments the in-flight query gauge.
func (m *Metrics) RecordQueryStart() {
	atomic.AddInt64(&m.activeQueries, 1)
	m.QueriesActive.Set(float64(atomic.LoadInt64(&m.activeQueries)))
}

// RecordQueryComplete records a terminal query outcome (cache_hit, fresh,
// queued, unavailable) and its latency.
func (m *Metrics) RecordQueryComplete(outcome string, durationSeconds float64) {
	atomic.AddInt64(&m.activeQueries, -1)
	m.QueriesActive.Set(float64(atomic.LoadInt64(&m.activeQueries)))
	m.QueriesTotal.WithLabelValues(outcome).Inc()
	m.QueryLatency.Observe(durationSeconds)
}

// RecordCapsuleIssued counts a capsule a main hub produced, kind is
// "fresh", "reused", or "error".
func (m *Metrics) RecordCapsuleIssued(kind string) {
	m.CapsulesIssuedTotal.WithLabelValues(kind).Inc()
}

// RecordCapsuleCached counts a capsule accepted into a local store.
func (m *Metrics) RecordCapsuleCached() {
	m.CapsulesCachedTotal.Inc()
}

// RecordCapsulesExpired adds n capsules removed by a sweep pass.
func (m *Metrics) RecordCapsulesExpired(n int64) {
	m.CapsulesExpiredTotal.Add(float64(n))
}

// RecordChunkSent counts one chunk submitted to the link simulator.
func (m *Metrics) RecordChunkSent() {
	m.ChunksSentTotal.Inc()
}

// RecordChunkLost counts one chunk dropped by the simulated loss model.
func (m *Metrics) RecordChunkLost() {
	m.ChunksLostTotal.Inc()
}

// RecordChunkRetransmit increments retransmit counters, reason is
// "nak", "ack_timeout", or "reconcile".
func (m *Metrics) RecordChunkRetransmit(reason string) {
	m.ChunksRetransmitted.WithLabelValues(reason).Inc()
}

// RecordReassemblyTimeout counts a packet dropped after its chunks
// never fully arrived.
func (m *Metrics) RecordReassemblyTimeout() {
	m.ReassemblyTimeoutsTotal.Inc()
}

// SetObservedLossRate records the current loss rate feeding the
// adaptive FEC policy.
func (m *Metrics) SetObservedLossRate(rate float64) {
	m.ObservedLossRate.Set(rate)
}

// SetFECEnabled sets the FEC enabled flag.
func (m *Metrics) SetFECEnabled(enabled bool) {
	if enabled {
		m.FECEnabled.Set(1)
	} else {
		m.FECEnabled.Set(0)
	}
}

// RecordFECParityShardsSent adds n to the parity-shard counter. The
// simulator adds r for each 50-chunk loss window during which the
// redundancy policy is enabled; no parity shards are transmitted.
func (m *Metrics) RecordFECParityShardsSent(n int) {
	m.FECParityShardsSentTotal.Add(float64(n))
}

// SetQueueDepth records the current pending/in-flight queue size.
func (m *Metrics) SetQueueDepth(n int) {
	m.QueueDepth.Set(float64(n))
}

// RecordQueueEntryFailed counts one entry that exhausted max_retries.
func (m *Metrics) RecordQueueEntryFailed() {
	m.QueueEntriesFailed.Inc()
}

// RecordManifestPublished counts one manifest broadcast by a main hub.
func (m *Metrics) RecordManifestPublished() {
	m.ManifestsPublishedTotal.Inc()
}

// RecordManifestReceived counts one manifest a mini hub diffed.
func (m *Metrics) RecordManifestReceived() {
	m.ManifestsReceivedTotal.Inc()
}

// RecordCapsuleRequest counts a CAPSULE_REQUEST issued during selective
// sync, result is "fulfilled" or "timeout".
func (m *Metrics) RecordCapsuleRequest(result string) {
	m.CapsuleRequestsTotal.WithLabelValues(result).Inc()
}

// RecordCryptoOperation records cryptographic operation duration.
func (m *Metrics) RecordCryptoOperation(operation string, durationSeconds float64) {
	m.CryptoOperationsTotal.WithLabelValues(operation).Inc()
	m.CryptoOperationDuration.Observe(durationSeconds)
}

// RecordSignatureVerification counts an Ed25519 verification attempt.
func (m *Metrics) RecordSignatureVerification(success bool) {
	result := "valid"
	if !success {
		result = "invalid"
	}
	m.SignatureVerificationsTotal.WithLabelValues(result).Inc()
}

// RecordDatabaseOperation counts a capsule store operation.
func (m *Metrics) RecordDatabaseOperation(operation string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.DatabaseOperationsTotal.WithLabelValues(operation, result).Inc()
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
