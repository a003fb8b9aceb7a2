package observability

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles Prometheus metrics used across the analyzer service.
type Metrics struct {
	namespace string

	messagesReceived   prometheus.Counter
	decodeErrors       prometheus.Counter
	storeErrors        prometheus.Counter
	packetsStored      *prometheus.CounterVec
	queueDepth         prometheus.Gauge
	gatewayUpserts     prometheus.Counter
	csDeviceUpserts    prometheus.Counter
	sessionBindings    prometheus.Counter
	sessionAmbiguous   prometheus.Counter
	broadcastDrops     prometheus.Counter
	operatorReloads    prometheus.Counter
	writerFlushes      prometheus.Counter
	writerFlushedRows  *prometheus.CounterVec
	pipelineErrors     prometheus.Counter
	droppedMessages    prometheus.Counter

	healthy atomic.Bool
}

// MetricsOption customises metrics creation.
type MetricsOption func(*metricsConfig)

type metricsConfig struct {
	namespace string
	registry  prometheus.Registerer
}

// WithNamespace overrides the metric namespace (default: lorawatch).
func WithNamespace(ns string) MetricsOption {
	return func(cfg *metricsConfig) {
		if ns != "" {
			cfg.namespace = ns
		}
	}
}

// WithRegistry overrides the Prometheus registerer (useful for tests).
func WithRegistry(reg prometheus.Registerer) MetricsOption {
	return func(cfg *metricsConfig) {
		if reg != nil {
			cfg.registry = reg
		}
	}
}

// NewMetrics initialises and registers analyzer metrics.
func NewMetrics(opts ...MetricsOption) *Metrics {
	cfg := metricsConfig{
		namespace: "lorawatch",
		registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	m := &Metrics{
		namespace: cfg.namespace,
		messagesReceived: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "messages_received_total",
			Help:      "Total number of MQTT messages received from any configured broker.",
		}),
		decodeErrors: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "decode_errors_total",
			Help:      "Total number of decoding failures.",
		}),
		storeErrors: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "store_errors_total",
			Help:      "Total number of storage errors.",
		}),
		packetsStored: promauto.With(cfg.registry).NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "packets_stored_total",
			Help:      "Total number of packets persisted to storage, partitioned by table.",
		}, []string{"table"}),
		queueDepth: promauto.With(cfg.registry).NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.namespace,
			Name:      "writer_queue_depth",
			Help:      "Current number of packets waiting to be flushed to storage.",
		}),
		gatewayUpserts: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "gateway_upserts_total",
			Help:      "Total number of gateway metadata rows upserted.",
		}),
		csDeviceUpserts: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "cs_device_upserts_total",
			Help:      "Total number of application-bus device metadata rows upserted.",
		}),
		sessionBindings: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "session_bindings_total",
			Help:      "Total number of join-to-devaddr session bindings made.",
		}),
		sessionAmbiguous: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "session_ambiguous_total",
			Help:      "Total number of data uplinks the session tracker left unbound (no pending join, or a tie between pending joins).",
		}),
		broadcastDrops: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "broadcast_dropped_subscribers_total",
			Help:      "Total number of live subscribers dropped for back-pressure or a closed sink.",
		}),
		operatorReloads: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "operator_rule_reloads_total",
			Help:      "Total number of operator rule table reloads.",
		}),
		writerFlushes: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "writer_flushes_total",
			Help:      "Total number of batched-writer flush attempts.",
		}),
		writerFlushedRows: promauto.With(cfg.registry).NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "writer_flushed_rows_total",
			Help:      "Total number of rows flushed, partitioned by table.",
		}, []string{"table"}),
		pipelineErrors: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "pipeline_errors_total",
			Help:      "Total number of pipeline errors forwarded to the supervisor.",
		}),
		droppedMessages: promauto.With(cfg.registry).NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "messages_dropped_total",
			Help:      "Total number of MQTT messages dropped before decode.",
		}),
	}

	m.healthy.Store(true)
	return m
}

// IncMessagesReceived increments the raw message counter.
func (m *Metrics) IncMessagesReceived() {
	if m == nil {
		return
	}
	m.messagesReceived.Inc()
}

// IncDecodeErrors increments the decode error counter and marks the service unhealthy.
func (m *Metrics) IncDecodeErrors() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
	m.healthy.Store(false)
}

// IncStoreErrors increments the store error counter and marks the service unhealthy.
func (m *Metrics) IncStoreErrors() {
	if m == nil {
		return
	}
	m.storeErrors.Inc()
	m.healthy.Store(false)
}

// ObservePacketsStored records n rows persisted into the named table.
func (m *Metrics) ObservePacketsStored(table string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.packetsStored.WithLabelValues(table).Add(float64(n))
}

// ObserveQueueDepth tracks the writer's buffered-but-unflushed row count.
func (m *Metrics) ObserveQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// IncGatewayUpsert notes a gateways row upsert.
func (m *Metrics) IncGatewayUpsert() {
	if m == nil {
		return
	}
	m.gatewayUpserts.Inc()
}

// IncCsDeviceUpsert notes a cs_devices row upsert.
func (m *Metrics) IncCsDeviceUpsert() {
	if m == nil {
		return
	}
	m.csDeviceUpserts.Inc()
}

// IncSessionBinding notes a successful join-to-devaddr binding.
func (m *Metrics) IncSessionBinding() {
	if m == nil {
		return
	}
	m.sessionBindings.Inc()
}

// IncSessionAmbiguous notes a data uplink the session tracker left unbound,
// whether no pending join matched or several tied.
func (m *Metrics) IncSessionAmbiguous() {
	if m == nil {
		return
	}
	m.sessionAmbiguous.Inc()
}

// IncBroadcastDrop notes a subscriber removed for back-pressure or a closed sink.
func (m *Metrics) IncBroadcastDrop() {
	if m == nil {
		return
	}
	m.broadcastDrops.Inc()
}

// IncOperatorReload notes an operator rule table reload.
func (m *Metrics) IncOperatorReload() {
	if m == nil {
		return
	}
	m.operatorReloads.Inc()
}

// ObserveWriterFlush records one flush attempt and the rows it persisted
// into the named table.
func (m *Metrics) ObserveWriterFlush(table string, rows int) {
	if m == nil {
		return
	}
	m.writerFlushes.Inc()
	if rows > 0 {
		m.writerFlushedRows.WithLabelValues(table).Add(float64(rows))
	}
}

// IncPipelineErrors increments the general pipeline error counter.
func (m *Metrics) IncPipelineErrors() {
	if m == nil {
		return
	}
	m.pipelineErrors.Inc()
	m.healthy.Store(false)
}

// IncDroppedMessages notes an MQTT message dropped before decode.
func (m *Metrics) IncDroppedMessages() {
	if m == nil {
		return
	}
	m.droppedMessages.Inc()
}

// Healthy reports false once a decode, store or pipeline error has been
// recorded, until MarkHealthy resets the flag.
func (m *Metrics) Healthy() bool {
	if m == nil {
		return true
	}
	return m.healthy.Load()
}

// MarkHealthy resets the healthy flag.
func (m *Metrics) MarkHealthy() {
	if m == nil {
		return
	}
	m.healthy.Store(true)
}
