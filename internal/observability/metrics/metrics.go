package metrics

import "github.com/prometheus/client_golang/prometheus"

// IntakeMetrics exposes counters/histograms for conversation operations.
type IntakeMetrics struct {
	operationsTotal  *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec
	phaseChanges     *prometheus.CounterVec
}

func NewIntakeMetrics(reg prometheus.Registerer) *IntakeMetrics {
	m := &IntakeMetrics{
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "conversation",
			Name:      "operations_total",
			Help:      "Total conversation actor operations",
		}, []string{"operation", "status"}),
		operationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "intake",
			Subsystem: "conversation",
			Name:      "operation_latency_seconds",
			Help:      "Latency of conversation actor operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		phaseChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "conversation",
			Name:      "phase_transitions_total",
			Help:      "Conversation phase transitions",
		}, []string{"phase"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.operationsTotal, m.operationLatency, m.phaseChanges)
	return m
}

func (m *IntakeMetrics) ObserveOperation(operation, status string) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, status).Inc()
}

func (m *IntakeMetrics) ObserveLatency(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.operationLatency.WithLabelValues(operation).Observe(seconds)
}

func (m *IntakeMetrics) ObservePhase(phase string) {
	if m == nil {
		return
	}
	m.phaseChanges.WithLabelValues(phase).Inc()
}

// ProjectorMetrics tracks index sync outcomes and repair findings.
type ProjectorMetrics struct {
	syncTotal    *prometheus.CounterVec
	syncLatency  prometheus.Histogram
	queueDepth   prometheus.Gauge
	repairTotal  *prometheus.CounterVec
	droppedTotal prometheus.Counter
}

func NewProjectorMetrics(reg prometheus.Registerer) *ProjectorMetrics {
	m := &ProjectorMetrics{
		syncTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "index",
			Name:      "sync_total",
			Help:      "Index projection attempts by outcome",
		}, []string{"status"}),
		syncLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "intake",
			Subsystem: "index",
			Name:      "sync_latency_seconds",
			Help:      "Latency of index row upserts",
			Buckets:   prometheus.DefBuckets,
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "intake",
			Subsystem: "index",
			Name:      "queue_depth",
			Help:      "Snapshots waiting for projection",
		}),
		repairTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "index",
			Name:      "repair_findings_total",
			Help:      "Inconsistencies found by the repair pass",
		}, []string{"kind"}),
		droppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "intake",
			Subsystem: "index",
			Name:      "dropped_total",
			Help:      "Snapshots dropped because the queue was full",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.syncTotal, m.syncLatency, m.queueDepth, m.repairTotal, m.droppedTotal)
	return m
}

func (m *ProjectorMetrics) ObserveSync(status string) {
	if m == nil {
		return
	}
	m.syncTotal.WithLabelValues(status).Inc()
}

func (m *ProjectorMetrics) ObserveSyncLatency(seconds float64) {
	if m == nil {
		return
	}
	m.syncLatency.Observe(seconds)
}

func (m *ProjectorMetrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

func (m *ProjectorMetrics) ObserveRepairFinding(kind string) {
	if m == nil {
		return
	}
	m.repairTotal.WithLabelValues(kind).Inc()
}

func (m *ProjectorMetrics) ObserveDropped() {
	if m == nil {
		return
	}
	m.droppedTotal.Inc()
}
