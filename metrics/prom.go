package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dapim_paste_created_total",
		Help: "no. of pastes created",
	})
	PasteViewed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dapim_paste_viewed_total",
		Help: "no. of paste views recorded",
	})
	CommentAdded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dapim_comment_added_total",
		Help: "no. of comments added",
	})
	UserRegistered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dapim_user_registered_total",
		Help: "no. of accounts created",
	})
	SessionCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dapim_session_created_total",
		Help: "no. of login sessions created",
	})
	HomeCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dapim_home_cache_hits_total",
		Help: "no. of homepage cache hits",
	})
	HomeCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dapim_home_cache_misses_total",
		Help: "no. of homepage cache misses",
	})
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dapim_paste_cache_hits_total",
		Help: "no. of paste LRU cache hits",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dapim_paste_cache_misses_total",
		Help: "no. of paste LRU cache misses",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dapim_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
	RecentErrorRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dapim_recent_error_rate_percent",
		Help: "share of requests answered 5xx over the sliding window",
	})
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dapim_rate_limit_hits_total",
			Help: "no. of rate limit violations",
		},
		[]string{"endpoint"},
	)
)
