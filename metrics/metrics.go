// Package metrics provides Prometheus metrics for the RFQ market maker
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rfq"

var (
	// RFQ 请求处理结果: priced / declined / duplicate / dry_run / submitted / failed
	RFQRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "RFQ requests handled, by outcome",
	}, []string{"outcome"})

	QuoteDeclines = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "quote_declines_total",
		Help:      "Requests the quote engine declined, by reason",
	}, []string{"reason"})

	QuotesSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "quotes_submitted_total",
		Help:      "Quotes acknowledged by the quoting venue",
	})

	QuoteSubmitFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "quote_submit_failures_total",
		Help:      "Quote submissions without a quote id",
	})

	QuoteTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "quote_transitions_total",
		Help:      "Terminal quote transitions, by status",
	}, []string{"status"})

	// 敞口
	OpenNotional = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "open_notional_usdc",
		Help:      "Notional of quotes currently active",
	})

	AvailableExposure = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "available_exposure_usdc",
		Help:      "Remaining portfolio capacity",
	})

	ActiveQuotes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_quotes",
		Help:      "Quotes in the active state",
	})

	// 场所调用
	VenueCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "venue_calls_total",
		Help:      "Venue API calls, by operation",
	}, []string{"op"})

	VenueErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "venue_errors_total",
		Help:      "Failed venue API calls, by operation",
	}, []string{"op"})

	VenueLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "venue_call_seconds",
		Help:      "Venue API call latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	// 参考价
	FeedUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_updates_total",
		Help:      "Instrument records written to the reference cache, by market",
	}, []string{"market"})

	FeedLastUpdate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "feed_last_update_timestamp_seconds",
		Help:      "Unix time of the last reference update, by market",
	}, []string{"market"})

	// WebSocket
	WSConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_connected",
		Help:      "1 while the RFQ event stream is connected",
	})

	WSReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_reconnects_total",
		Help:      "RFQ event stream reconnect attempts",
	})
)

// UpdateExposure 同步敞口指标
func UpdateExposure(open, available float64) {
	OpenNotional.Set(open)
	AvailableExposure.Set(available)
}

// ObserveVenueCall 记录一次场所调用
func ObserveVenueCall(op string, started time.Time, err error) {
	VenueCalls.WithLabelValues(op).Inc()
	VenueLatency.WithLabelValues(op).Observe(time.Since(started).Seconds())
	if err != nil {
		VenueErrors.WithLabelValues(op).Inc()
	}
}

// RecordFeedUpdate 记录参考价写入
func RecordFeedUpdate(market string, records int, ts time.Time) {
	FeedUpdates.WithLabelValues(market).Add(float64(records))
	FeedLastUpdate.WithLabelValues(market).Set(float64(ts.Unix()))
}

// SetWSConnected 更新连接状态
func SetWSConnected(connected bool) {
	if connected {
		WSConnected.Set(1)
		return
	}
	WSConnected.Set(0)
}

// Handler 返回 /metrics 处理器
func Handler() http.Handler {
	return promhttp.Handler()
}
