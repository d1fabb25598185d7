package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricChecks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monitor_checks_total",
		Help: "Dashboard checks started.",
	})
	metricCheckErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monitor_check_errors_total",
		Help: "Dashboard checks that ended in an error.",
	})
	metricNewDeals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monitor_new_deals_total",
		Help: "Deals seen for the first time.",
	})
	metricUpdatedDeals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monitor_updated_deals_total",
		Help: "Deals whose committed quantity changed.",
	})
	metricNotifications = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monitor_notifications_sent_total",
		Help: "Discord notifications delivered.",
	})
	metricAutoCommits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "monitor_auto_commits_total",
		Help: "Automatic commitments placed on new deals.",
	})
	metricCheckDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "monitor_check_duration_seconds",
		Help:    "Duration of a full dashboard check.",
		Buckets: prometheus.DefBuckets,
	})
)
