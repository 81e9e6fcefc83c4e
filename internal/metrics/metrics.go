package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagechat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pagechat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	AgentsRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagechat_agents_registered_total",
			Help: "Total agents registered",
		},
	)

	MessagesPosted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagechat_messages_posted_total",
			Help: "Total messages posted",
		},
		[]string{"room_type"}, // "public" or "private"
	)

	PagesServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagechat_pages_served_total",
			Help: "Total message pages served over HTTP",
		},
		[]string{"kind"}, // "head" or "older"
	)

	// Live feed metrics
	ActiveWatchers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pagechat_active_watchers",
			Help: "Open websocket feed subscriptions",
		},
	)

	SnapshotsPushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pagechat_snapshots_pushed_total",
			Help: "Feed snapshots pushed to websocket watchers",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagechat_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pagechat_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)
)
