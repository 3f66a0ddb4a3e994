package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keepsake_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keepsake_http_request_duration_seconds",
			Help:    "Histogram of response durations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	// Runs counts processing passes by final run status
	Runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keepsake_runs_total",
			Help: "Number of processing runs by final status",
		},
		[]string{"status"},
	)

	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "keepsake_run_duration_seconds",
			Help:    "Duration of processing runs",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		},
	)

	// Items counts keepsakes by the outcome of their processing
	Items = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keepsake_items_total",
			Help: "Number of keepsakes processed by outcome",
		},
		[]string{"outcome"},
	)

	RecipientSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keepsake_recipient_sends_total",
			Help: "Recipient sends by channel and result",
		},
		[]string{"channel", "result"},
	)

	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keepsake_notifications_total",
			Help: "Owner notifications by kind and write result",
		},
		[]string{"kind", "result"},
	)

	LeasesReleased = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "keepsake_leases_released_total",
			Help: "Expired in_progress leases returned to scheduled",
		},
	)

	LeasesExtended = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "keepsake_leases_extended_total",
			Help: "Lease renewals taken during a long recipient fan-out",
		},
	)

	Requeues = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keepsake_requeues_total",
			Help: "Manual re-queue requests by source and result",
		},
		[]string{"source", "result"},
	)
)

func Init() {
	prometheus.MustRegister(
		HTTPRequests, RequestDuration,
		Runs, RunDuration, Items, RecipientSends,
		Notifications, LeasesReleased, LeasesExtended, Requeues,
	)
}
