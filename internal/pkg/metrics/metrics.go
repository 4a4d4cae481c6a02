package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "foodshield"

var (
	// HTTPRequestsTotal 按路由与状态码统计请求数。
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	// VerificationIssuedTotal 已签发的验证码数量。
	VerificationIssuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "verification_issued_total",
		Help:      "Verification challenges issued by purpose.",
	}, []string{"purpose"})

	// VerificationConfirmTotal 验证结果统计（ok / invalid / expired / no_challenge / locked）。
	VerificationConfirmTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "verification_confirm_total",
		Help:      "Verification confirmation attempts by purpose and result.",
	}, []string{"purpose", "result"})

	// NotificationDispatchTotal 验证码投递结果（sent / failed / dropped）。
	NotificationDispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notification_dispatch_total",
		Help:      "Challenge notifications by purpose and result.",
	}, []string{"purpose", "result"})

	DispatchQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "dispatch_queue_depth",
		Help:      "Pending notification jobs.",
	})

	DispatchWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "dispatch_workers",
		Help:      "Configured notification workers.",
	})

	RateLimitWaitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ratelimit_wait_seconds",
		Help:      "Time spent waiting for a rate limit token.",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	})

	RateLimitTimeoutTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ratelimit_timeout_total",
		Help:      "Rate limit waits that gave up.",
	})

	// RateLimitRejectedTotal 非阻塞限流拒绝次数。
	RateLimitRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ratelimit_rejected_total",
		Help:      "Requests rejected by the rate limiter.",
	}, []string{"scope"})

	FoodItemsExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "food_items_expired_total",
		Help:      "Inventory items moved to expired by the sweeper.",
	})

	// OutboxMessagesTotal 通知流消费结果（sent / retried / dead_letter / expired）。
	OutboxMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_messages_total",
		Help:      "Notification stream messages by result.",
	}, []string{"result"})

	OutboxAutoClaimTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_autoclaim_total",
		Help:      "Stale notification messages reclaimed from other consumers.",
	})

	registerOnce sync.Once
)

// InitMetrics 注册全部指标，可重复调用。
//
// 参数:
//
//	dispatchWorkers: 通知 worker 数量，写入 DispatchWorkers
func InitMetrics(dispatchWorkers int) {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			VerificationIssuedTotal,
			VerificationConfirmTotal,
			NotificationDispatchTotal,
			DispatchQueueDepth,
			DispatchWorkers,
			RateLimitWaitDuration,
			RateLimitTimeoutTotal,
			RateLimitRejectedTotal,
			FoodItemsExpiredTotal,
			OutboxMessagesTotal,
			OutboxAutoClaimTotal,
		)
	})
	DispatchWorkers.Set(float64(dispatchWorkers))
}
