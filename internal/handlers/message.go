package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/molochain/DESKTOP-MOLOCHAIN-2028-sub015/internal/models"
	"github.com/molochain/DESKTOP-MOLOCHAIN-2028-sub015/internal/queue"
	"github.com/molochain/DESKTOP-MOLOCHAIN-2028-sub015/internal/repository"
)

// MessageHandler handles enqueue and status requests.
type MessageHandler struct {
	queue       *queue.Queue
	statusStore *repository.StatusStore
}

// NewMessageHandler creates a new MessageHandler.
func NewMessageHandler(q *queue.Queue, statusStore *repository.StatusStore) *MessageHandler {
	return &MessageHandler{queue: q, statusStore: statusStore}
}

// Enqueue handles the request to queue a message for delivery.
func (h *MessageHandler) Enqueue(c *gin.Context) {
	var req models.EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err)
		return
	}
	if err := req.Normalize(); err != nil {
		respondValidationError(c, err)
		return
	}

	messageID, err := h.queue.Enqueue(c.Request.Context(), &req)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to enqueue message", err)
		return
	}

	status := "queued"
	if req.ScheduledAt != nil {
		status = "scheduled"
	}
	respondSuccess(c, http.StatusAccepted, "message accepted", gin.H{
		"message_id": messageID,
		"status":     status,
	})
}

// GetStatus handles the request to get the delivery status of a message.
func (h *MessageHandler) GetStatus(c *gin.Context) {
	messageID := c.Param("message_id")
	if messageID == "" {
		respondError(c, http.StatusBadRequest, "message_id is required", nil)
		return
	}

	status, err := h.statusStore.GetStatus(messageID)
	if err != nil {
		respondError(c, http.StatusNotFound, "message not found", err)
		return
	}

	respondSuccess(c, http.StatusOK, "message status retrieved", gin.H{
		"message_id": status.MessageID,
		"status":     status.Status,
		"detail":     status.Detail,
		"updated_at": status.UpdatedAt,
	})
}
