package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "framefeed"

var (
	RateLimitBlockTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_block_total",
			Help:      "Total number of rate limit blocks.",
		},
		[]string{"service", "route", "reason"},
	)

	CBRejectTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuitbreaker_reject_total",
			Help:      "Total number of circuit breaker rejections.",
		},
		[]string{"service", "target", "reason"},
	)

	CBState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuitbreaker_state",
			Help:      "Circuit breaker state (0/1).",
		},
		[]string{"service", "target", "state"}, // state: closed/open/half_open
	)
)

var registerOnce sync.Once

// MustRegister 注册非 promauto 的指标，重复调用只生效一次
func MustRegister() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RateLimitBlockTotal, CBRejectTotal, CBState,
			FramesServedTotal, UpstreamFetchTotal, UpstreamFetchSeconds,
			LiveReloadTotal, LiveFrameAgeSeconds, ReplayCursor, ReplayExposedTotal,
			StrictLiveRejectTotal, PublishedFramesTotal,
		)
	})
}
