package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/molochain/DESKTOP-MOLOCHAIN-2028-sub015/internal/channel"
)

// HealthHandler reports aggregate service health.
type HealthHandler struct {
	channels *channel.Manager
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(channels *channel.Manager) *HealthHandler {
	return &HealthHandler{channels: channels}
}

// Check handles the health check endpoint. Degraded means no channel is
// currently able to deliver.
func (h *HealthHandler) Check(c *gin.Context) {
	status := "ok"
	if !h.channels.Healthy() {
		status = "degraded"
	}
	respondSuccess(c, http.StatusOK, "delivery-service health", gin.H{
		"status": status,
	})
}
