// Package metrics exposes Prometheus instruments for the monitor loop.
package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	PollErrorTypeSource  = "source"
	PollErrorTypeParse   = "parse"
	PollErrorTypeStore   = "store"
	PollErrorTypeUnknown = "unknown"
)

// Config carries the constant labels stamped on every instrument.
type Config struct {
	ServiceName string
	Environment string
}

// MonitorMetrics captures poll-cycle and alerting health signals.
type MonitorMetrics struct {
	pollCycles       prometheus.Counter
	pollDuration     prometheus.Observer
	pollErrors       *prometheus.CounterVec
	linesSkipped     prometheus.Counter
	featuresObserved prometheus.Gauge
	alertsFired      *prometheus.CounterVec
	alertFailures    *prometheus.CounterVec
	statsRows        prometheus.Counter
	daemonUp         prometheus.Gauge
}

var (
	monitorMetricsOnce sync.Once
	monitorMetrics     *MonitorMetrics
)

// Monitor returns the singleton monitor metrics registry.
func Monitor() *MonitorMetrics {
	return MonitorWithConfig(Config{})
}

// MonitorWithConfig returns the singleton monitor metrics registry using config labels.
func MonitorWithConfig(cfg Config) *MonitorMetrics {
	monitorMetricsOnce.Do(func() {
		monitorMetrics = newMonitorMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return monitorMetrics
}

// ResetMonitorMetricsForTest resets the monitor metrics singleton for tests.
func ResetMonitorMetricsForTest() {
	monitorMetricsOnce = sync.Once{}
	monitorMetrics = nil
}

func newMonitorMetrics(registerer prometheus.Registerer, cfg Config) *MonitorMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "flexwatch"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	pollCycles := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "flexwatch_poll_cycles_total",
		Help:        "Completed license status poll cycles.",
		ConstLabels: constLabels,
	})
	pollDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "flexwatch_poll_duration_seconds",
		Help:        "Poll cycle latency including the status tool invocation.",
		Buckets:     []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		ConstLabels: constLabels,
	})
	pollErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "flexwatch_poll_errors_total",
		Help:        "Poll cycle errors by low-cardinality type.",
		ConstLabels: constLabels,
	}, []string{"type"})
	linesSkipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "flexwatch_parse_lines_skipped_total",
		Help:        "Status output lines that matched no parsing rule.",
		ConstLabels: constLabels,
	})
	featuresObserved := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "flexwatch_features_observed",
		Help:        "Feature count in the most recent successful snapshot.",
		ConstLabels: constLabels,
	})
	alertsFired := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "flexwatch_alerts_fired_total",
		Help:        "Alerts emitted by kind after dedup.",
		ConstLabels: constLabels,
	}, []string{"kind"})
	alertFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "flexwatch_alert_delivery_failures_total",
		Help:        "Alert webhook deliveries that did not succeed.",
		ConstLabels: constLabels,
	}, []string{"kind"})
	statsRows := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "flexwatch_stats_rows_total",
		Help:        "Usage rows appended to the stats store.",
		ConstLabels: constLabels,
	})
	daemonUp := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "flexwatch_daemon_up",
		Help:        "1 when the license service and port probes both agree the daemon is up.",
		ConstLabels: constLabels,
	})

	registerer.MustRegister(
		pollCycles,
		pollDuration,
		pollErrors,
		linesSkipped,
		featuresObserved,
		alertsFired,
		alertFailures,
		statsRows,
		daemonUp,
	)

	return &MonitorMetrics{
		pollCycles:       pollCycles,
		pollDuration:     pollDuration,
		pollErrors:       pollErrors,
		linesSkipped:     linesSkipped,
		featuresObserved: featuresObserved,
		alertsFired:      alertsFired,
		alertFailures:    alertFailures,
		statsRows:        statsRows,
		daemonUp:         daemonUp,
	}
}

// IncPollCycle increments the completed cycle counter.
func (m *MonitorMetrics) IncPollCycle() {
	if m == nil || m.pollCycles == nil {
		return
	}
	m.pollCycles.Inc()
}

// ObservePollDuration records poll cycle latency in seconds.
func (m *MonitorMetrics) ObservePollDuration(duration time.Duration) {
	if m == nil || m.pollDuration == nil {
		return
	}
	m.pollDuration.Observe(duration.Seconds())
}

// IncPollError increments the poll error counter for the given type.
func (m *MonitorMetrics) IncPollError(errType string) {
	if m == nil || m.pollErrors == nil {
		return
	}
	if errType == "" {
		errType = PollErrorTypeUnknown
	}
	m.pollErrors.WithLabelValues(errType).Inc()
}

// AddLinesSkipped adds to the unparsable line counter.
func (m *MonitorMetrics) AddLinesSkipped(count int) {
	if m == nil || m.linesSkipped == nil || count <= 0 {
		return
	}
	m.linesSkipped.Add(float64(count))
}

// SetFeaturesObserved records the feature count of the latest snapshot.
func (m *MonitorMetrics) SetFeaturesObserved(count int) {
	if m == nil || m.featuresObserved == nil {
		return
	}
	m.featuresObserved.Set(float64(count))
}

// IncAlertFired increments the fired counter for an alert kind.
func (m *MonitorMetrics) IncAlertFired(kind string) {
	if m == nil || m.alertsFired == nil {
		return
	}
	m.alertsFired.WithLabelValues(kind).Inc()
}

// IncAlertDeliveryFailure increments the delivery failure counter for an alert kind.
func (m *MonitorMetrics) IncAlertDeliveryFailure(kind string) {
	if m == nil || m.alertFailures == nil {
		return
	}
	m.alertFailures.WithLabelValues(kind).Inc()
}

// AddStatsRows adds to the stored usage row counter.
func (m *MonitorMetrics) AddStatsRows(count int) {
	if m == nil || m.statsRows == nil || count <= 0 {
		return
	}
	m.statsRows.Add(float64(count))
}

// SetDaemonUp records the probed daemon state.
func (m *MonitorMetrics) SetDaemonUp(up bool) {
	if m == nil || m.daemonUp == nil {
		return
	}
	if up {
		m.daemonUp.Set(1)
		return
	}
	m.daemonUp.Set(0)
}
