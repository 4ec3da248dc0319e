// Package metrics 持久层的 Prometheus 指标
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	PendingWrites = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "appchat_store_pending_writes",
		Help: "Mutations recorded since the last successful export of the embedded database",
	})
	FlushesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "appchat_store_flushes_total",
		Help: "Embedded database exports by result",
	}, []string{"result"})
	FlushDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "appchat_store_flush_duration_seconds",
		Help:    "Time spent exporting the embedded database",
		Buckets: prometheus.DefBuckets,
	})
	ClaimsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "appchat_store_scheduled_claims_total",
		Help: "Scheduled message claim attempts by outcome",
	}, []string{"outcome"})
	DeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "appchat_store_scheduled_deliveries_total",
		Help: "Scheduled messages handled by the delivery worker",
	}, []string{"status"})
	UserCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "appchat_store_user_cache_total",
		Help: "User cache lookups by result",
	}, []string{"result"})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "appchat_store_http_requests_total",
		Help: "Total number of admin HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "appchat_store_http_request_duration_seconds",
		Help:    "Admin HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		PendingWrites, FlushesTotal, FlushDuration,
		ClaimsTotal, DeliveriesTotal, UserCacheTotal,
		HttpRequestsTotal, HttpRequestDuration,
	)
}

// GinMiddleware 统计管理端请求指标，供 Prometheus 拉取
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
