// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Submission metrics
	OutcomesRecorded    *prometheus.CounterVec
	FollowupsScheduled  prometheus.Counter
	SubmissionsRejected *prometheus.CounterVec
	SubmissionsInFlight prometheus.Gauge
	SubmissionLatency   *prometheus.HistogramVec
	VariancePct         prometheus.Histogram
	AccuracyPct         prometheus.Histogram

	// Follow-up metrics
	FollowupsDue       prometheus.Gauge
	FollowupReminders  prometheus.Counter
	FollowupScanErrors prometheus.Counter

	// Feed metrics
	FeedSubscribers prometheus.Gauge
	FeedDropped     prometheus.Counter

	// Reporting metrics
	ReportsGenerated prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance registered on reg. A nil reg uses the
// default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "control_tower"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		OutcomesRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outcomes",
			Name:      "recorded_total",
			Help:      "Total number of outcome records persisted by verdict",
		}, []string{"verdict"}),
		FollowupsScheduled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outcomes",
			Name:      "followups_scheduled_total",
			Help:      "Total number of deferred measurements scheduled",
		}),
		SubmissionsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outcomes",
			Name:      "submissions_rejected_total",
			Help:      "Total number of rejected submissions by reason",
		}, []string{"reason"}),
		SubmissionsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "outcomes",
			Name:      "submissions_in_flight",
			Help:      "Number of submissions currently being persisted",
		}),
		SubmissionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "outcomes",
			Name:      "submission_latency_seconds",
			Help:      "Submission persistence latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		VariancePct: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "outcomes",
			Name:      "variance_pct",
			Help:      "Distribution of variance percent for finalized outcomes",
			Buckets:   []float64{-50, -25, -10, -5, 0, 5, 10, 25, 50},
		}),
		AccuracyPct: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "outcomes",
			Name:      "accuracy_pct",
			Help:      "Distribution of prediction accuracy percent for finalized outcomes",
			Buckets:   []float64{10, 25, 50, 75, 90, 95, 99, 100},
		}),

		FollowupsDue: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "followups",
			Name:      "due",
			Help:      "Number of overdue pending follow-ups at the last scan",
		}),
		FollowupReminders: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "followups",
			Name:      "reminders_total",
			Help:      "Total number of follow-up reminders emitted",
		}),
		FollowupScanErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "followups",
			Name:      "scan_errors_total",
			Help:      "Total number of failed follow-up scans",
		}),

		FeedSubscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "subscribers",
			Help:      "Current number of live feed subscribers",
		}),
		FeedDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "dropped_subscribers_total",
			Help:      "Total number of subscribers dropped for falling behind",
		}),

		ReportsGenerated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reporting",
			Name:      "reports_generated_total",
			Help:      "Total number of reports generated",
		}),

		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", nil)

// RecordOutcome records a persisted outcome. Variance and accuracy are
// observed only for measurable finalized outcomes.
func RecordOutcome(verdict string, variancePct, accuracyPct *float64) {
	DefaultMetrics.OutcomesRecorded.WithLabelValues(verdict).Inc()
	if variancePct != nil {
		DefaultMetrics.VariancePct.Observe(*variancePct)
	}
	if accuracyPct != nil {
		DefaultMetrics.AccuracyPct.Observe(*accuracyPct)
	}
}

// RecordFollowupScheduled increments the scheduled follow-ups counter.
func RecordFollowupScheduled() {
	DefaultMetrics.FollowupsScheduled.Inc()
}

// RecordRejected records a rejected submission.
func RecordRejected(reason string) {
	DefaultMetrics.SubmissionsRejected.WithLabelValues(reason).Inc()
}

// TrackInFlight increments the in-flight gauge and returns its release func.
func TrackInFlight() func() {
	DefaultMetrics.SubmissionsInFlight.Inc()
	return DefaultMetrics.SubmissionsInFlight.Dec
}

// RecordSubmissionLatency records submission latency.
func RecordSubmissionLatency(operation string, seconds float64) {
	DefaultMetrics.SubmissionLatency.WithLabelValues(operation).Observe(seconds)
}

// RecordFollowupScan records the result of a follow-up scan.
func RecordFollowupScan(due, reminded int, err error) {
	if err != nil {
		DefaultMetrics.FollowupScanErrors.Inc()
		return
	}
	DefaultMetrics.FollowupsDue.Set(float64(due))
	DefaultMetrics.FollowupReminders.Add(float64(reminded))
}

// SetFeedSubscribers sets the live feed subscriber gauge.
func SetFeedSubscribers(n int) {
	DefaultMetrics.FeedSubscribers.Set(float64(n))
}

// RecordFeedDropped counts a dropped feed subscriber.
func RecordFeedDropped() {
	DefaultMetrics.FeedDropped.Inc()
}

// RecordReportGenerated counts a generated report.
func RecordReportGenerated() {
	DefaultMetrics.ReportsGenerated.Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
