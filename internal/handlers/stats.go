package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/molochain/DESKTOP-MOLOCHAIN-2028-sub015/internal/breaker"
	"github.com/molochain/DESKTOP-MOLOCHAIN-2028-sub015/internal/channel"
	"github.com/molochain/DESKTOP-MOLOCHAIN-2028-sub015/internal/queue"
)

// StatsHandler serves read-only observability snapshots.
type StatsHandler struct {
	queue    *queue.Queue
	channels *channel.Manager
	breaker  *breaker.Breaker
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(q *queue.Queue, channels *channel.Manager, cb *breaker.Breaker) *StatsHandler {
	return &StatsHandler{queue: q, channels: channels, breaker: cb}
}

// QueueStats returns the queue counters snapshot.
func (h *StatsHandler) QueueStats(c *gin.Context) {
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to read queue stats", err)
		return
	}
	respondSuccess(c, http.StatusOK, "queue stats", stats)
}

// ChannelStatuses returns every channel's health and counters.
func (h *StatsHandler) ChannelStatuses(c *gin.Context) {
	respondSuccess(c, http.StatusOK, "channel statuses", h.channels.Statuses())
}

// CircuitStats returns the state of every tracked circuit.
func (h *StatsHandler) CircuitStats(c *gin.Context) {
	respondSuccess(c, http.StatusOK, "circuit stats", h.breaker.Snapshots())
}
