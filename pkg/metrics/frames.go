package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// FramesServedTotal source: upstream/daily/replay_provider/replay_batch/mock
	FramesServedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_served_total",
		Help:      "Frames returned by the market data service, by source.",
	}, []string{"source", "interval"})

	UpstreamFetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_fetch_total",
		Help:      "Upstream frame fetches by result.",
	}, []string{"result"}) // ok / empty / error / rejected

	UpstreamFetchSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "upstream_fetch_seconds",
		Help:      "Upstream fetch latency.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms ~ 10s
	})

	LiveReloadTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "live_reload_total",
		Help:      "Live frame file reloads by result.",
	}, []string{"path", "result"}) // ok / skipped / error

	LiveFrameAgeSeconds = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "live_file_age_seconds",
		Help:      "Seconds since the live frame file was last modified.",
	}, []string{"path"})

	ReplayCursor = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "replay_cursor_index",
		Help:      "Current replay cursor index.",
	})

	ReplayExposedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "replay_exposed_frames_total",
		Help:      "Frames exposed by the replay driver.",
	})

	StrictLiveRejectTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "strict_live_reject_total",
		Help:      "Requests rejected because no live frames were available.",
	}, []string{"interval"})

	PublishedFramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "published_frames_total",
		Help:      "Frames fanned out to subscribers, by sink.",
	}, []string{"sink"}) // ws / broker / influx
)
