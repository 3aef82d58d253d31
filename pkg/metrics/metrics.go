package metrics

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

// Collector tracks delivery-pipeline metrics without external deps.
type Collector struct {
	enqueued        atomic.Int64
	delivered       atomic.Int64
	failed          atomic.Int64
	deadLettered    atomic.Int64
	totalRequests   atomic.Int64
	failedRequests  atomic.Int64
	totalLatencyMic atomic.Int64
	startedAt       time.Time
}

func New() *Collector {
	return &Collector{
		startedAt: time.Now(),
	}
}

// AddEnqueued records messages accepted into the queue.
func (c *Collector) AddEnqueued(n int64) { c.enqueued.Add(n) }

// AddDelivered records successful channel deliveries.
func (c *Collector) AddDelivered(n int64) { c.delivered.Add(n) }

// AddFailed records failed delivery attempts.
func (c *Collector) AddFailed(n int64) { c.failed.Add(n) }

// AddDeadLettered records messages parked after exhausting retries.
func (c *Collector) AddDeadLettered(n int64) { c.deadLettered.Add(n) }

// GinMiddleware records request count, failures, and aggregate latency.
func (c *Collector) GinMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		c.totalRequests.Add(1)
		if ctx.Writer.Status() >= http.StatusInternalServerError {
			c.failedRequests.Add(1)
		}
		c.totalLatencyMic.Add(time.Since(start).Microseconds())
	}
}

// Handler exposes the metrics in a simple JSON form.
func (c *Collector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqs := c.totalRequests.Load()
		latency := c.totalLatencyMic.Load()
		var avgMicros int64
		if reqs > 0 {
			avgMicros = latency / reqs
		}

		payload := map[string]interface{}{
			"messages_enqueued":      c.enqueued.Load(),
			"messages_delivered":     c.delivered.Load(),
			"messages_failed":        c.failed.Load(),
			"messages_dead_lettered": c.deadLettered.Load(),
			"requests_total":         reqs,
			"requests_failed":        c.failedRequests.Load(),
			"avg_latency_micros":     avgMicros,
			"uptime_seconds":         int64(time.Since(c.startedAt).Seconds()),
			"timestamp":              time.Now().UTC(),
			"success":                true,
			"message":                "delivery-service metrics snapshot",
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payload)
	})
}
