package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/molochain/DESKTOP-MOLOCHAIN-2028-sub015/internal/breaker"
)

// CircuitBreakerMiddleware guards a route group against a failing downstream
// service. When the circuit is open, requests are rejected immediately with a
// retry-after hint; otherwise the call proceeds and its outcome is reported
// back to the breaker.
func CircuitBreakerMiddleware(cb *breaker.Breaker, service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cb.IsOpen(service) {
			retryAfter := cb.RetryAfter(service)
			c.Header("Retry-After", retryAfter.Round(time.Second).String())
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error":      "circuit_open",
				"message":    "service is unavailable",
				"service":    service,
				"retryAfter": retryAfter.Seconds(),
			})
			return
		}

		c.Next()

		if c.Writer.Status() >= http.StatusInternalServerError {
			cb.RecordFailure(service)
		} else {
			cb.RecordSuccess(service)
		}
	}
}
