package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "monitor_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ticksTotal  *prometheus.CounterVec
	tickLatency prometheus.Histogram

	readingsTotal      *prometheus.CounterVec
	invalidValuesTotal *prometheus.CounterVec
	machinesRegistered prometheus.Gauge
	machineTier        *prometheus.GaugeVec
	machineScore       *prometheus.GaugeVec
	transitionsTotal   *prometheus.CounterVec

	insightRequests *prometheus.CounterVec
	insightLatency  *prometheus.HistogramVec
	insightInFlight prometheus.Gauge

	broadcastSubscribers prometheus.Gauge
	broadcastDropped     prometheus.Counter

	ingestRequests *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	reportExportTotal   *prometheus.CounterVec
	reportExportLatency *prometheus.HistogramVec
)

// Init registers pipeline metrics on the default registry.
func Init() {
	registerOnce.Do(func() {
		ticksTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ticks_total",
				Help: "Total pipeline ticks by result",
			},
			[]string{"result"},
		)
		tickLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "tick_latency_seconds",
				Help:    "Pipeline tick latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)

		readingsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "readings_total",
				Help: "Total readings scored by source",
			},
			[]string{"source"},
		)
		invalidValuesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "invalid_values_total",
				Help: "Total non-numeric reading values by parameter",
			},
			[]string{"parameter"},
		)
		machinesRegistered = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "machines_registered",
				Help: "Number of registered machines",
			},
		)
		machineTier = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "machine_alert_tier",
				Help: "Current alert tier per machine (0 normal .. 3 critical)",
			},
			[]string{"machine"},
		)
		machineScore = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "machine_anomaly_score",
				Help: "Latest anomaly score per machine",
			},
			[]string{"machine"},
		)
		transitionsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "tier_transitions_total",
				Help: "Total alert tier changes by direction",
			},
			[]string{"from", "to"},
		)

		insightRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "insight_requests_total",
				Help: "Total insight requests by trigger and outcome",
			},
			[]string{"trigger", "outcome"},
		)
		insightLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "insight_latency_seconds",
				Help:    "Narrative collaborator latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"outcome"},
		)
		insightInFlight = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "insight_in_flight",
				Help: "Narrative calls currently in flight",
			},
		)

		broadcastSubscribers = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "stream_subscribers",
				Help: "Active snapshot stream subscribers",
			},
		)
		broadcastDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "stream_dropped_total",
				Help: "Snapshots dropped from full subscriber queues",
			},
		)

		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total external reading ingest requests by result",
			},
			[]string{"result"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		reportExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "report_export_total",
				Help: "Total report exports by format and result",
			},
			[]string{"format", "result"},
		)
		reportExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "report_export_latency_seconds",
				Help:    "Report export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			ticksTotal,
			tickLatency,
			readingsTotal,
			invalidValuesTotal,
			machinesRegistered,
			machineTier,
			machineScore,
			transitionsTotal,
			insightRequests,
			insightLatency,
			insightInFlight,
			broadcastSubscribers,
			broadcastDropped,
			ingestRequests,
			ingestLatency,
			reportExportTotal,
			reportExportLatency,
		)
	})
}

// ObserveTick records a pipeline tick.
func ObserveTick(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ticksTotal != nil {
		ticksTotal.WithLabelValues(result).Inc()
	}
	if tickLatency != nil {
		tickLatency.Observe(duration.Seconds())
	}
}

// AddReadings counts scored readings.
func AddReadings(source string, count int) {
	if count <= 0 {
		return
	}
	if source == "" {
		source = "unknown"
	}
	if readingsTotal != nil {
		readingsTotal.WithLabelValues(source).Add(float64(count))
	}
}

// IncInvalidValue counts a NaN value that was ignored by the scorer.
func IncInvalidValue(parameter string) {
	if parameter == "" {
		parameter = "unknown"
	}
	if invalidValuesTotal != nil {
		invalidValuesTotal.WithLabelValues(parameter).Inc()
	}
}

// SetMachinesRegistered sets the registered machine gauge.
func SetMachinesRegistered(count int) {
	if machinesRegistered != nil {
		machinesRegistered.Set(float64(count))
	}
}

// SetMachineState records the latest score and tier of a machine.
func SetMachineState(machine string, tier int, score float64) {
	if machineTier != nil {
		machineTier.WithLabelValues(machine).Set(float64(tier))
	}
	if machineScore != nil {
		machineScore.WithLabelValues(machine).Set(score)
	}
}

// ForgetMachine drops per-machine series after deregistration.
func ForgetMachine(machine string) {
	if machineTier != nil {
		machineTier.DeleteLabelValues(machine)
	}
	if machineScore != nil {
		machineScore.DeleteLabelValues(machine)
	}
}

// IncTransition counts an alert tier change.
func IncTransition(from, to string) {
	if transitionsTotal != nil {
		transitionsTotal.WithLabelValues(from, to).Inc()
	}
}

// IncInsightRequest counts an insight request outcome.
func IncInsightRequest(trigger, outcome string) {
	if trigger == "" {
		trigger = "unknown"
	}
	if outcome == "" {
		outcome = resultSuccess
	}
	if insightRequests != nil {
		insightRequests.WithLabelValues(trigger, outcome).Inc()
	}
}

// ObserveInsight records collaborator latency.
func ObserveInsight(outcome string, duration time.Duration) {
	if outcome == "" {
		outcome = resultSuccess
	}
	if insightLatency != nil {
		insightLatency.WithLabelValues(outcome).Observe(duration.Seconds())
	}
}

// AddInsightInFlight adjusts the in-flight gauge.
func AddInsightInFlight(delta int) {
	if insightInFlight != nil {
		insightInFlight.Add(float64(delta))
	}
}

// AddSubscribers adjusts the subscriber gauge.
func AddSubscribers(delta int) {
	if broadcastSubscribers != nil {
		broadcastSubscribers.Add(float64(delta))
	}
}

// IncDropped counts a snapshot evicted from a full subscriber queue.
func IncDropped() {
	if broadcastDropped != nil {
		broadcastDropped.Inc()
	}
}

// ObserveIngest records ingest request duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveReportExport records export latency and result.
func ObserveReportExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if reportExportTotal != nil {
		reportExportTotal.WithLabelValues(format, result).Inc()
	}
	if reportExportLatency != nil {
		reportExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
