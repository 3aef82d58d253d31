package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/molochain/DESKTOP-MOLOCHAIN-2028-sub015/internal/queue"
)

// DeadLetterHandler exposes the operator actions on the dead-letter list.
type DeadLetterHandler struct {
	queue *queue.Queue
}

// NewDeadLetterHandler creates a new DeadLetterHandler.
func NewDeadLetterHandler(q *queue.Queue) *DeadLetterHandler {
	return &DeadLetterHandler{queue: q}
}

// List returns archived dead-letter entries for inspection.
func (h *DeadLetterHandler) List(c *gin.Context) {
	limit := int64(50)
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			respondError(c, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = n
	}

	entries, err := h.queue.DeadLetters(c.Request.Context(), limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to read dead letters", err)
		return
	}
	respondSuccess(c, http.StatusOK, "dead letters", gin.H{
		"count":   len(entries),
		"entries": entries,
	})
}

// Requeue puts one dead-lettered message back into circulation.
func (h *DeadLetterHandler) Requeue(c *gin.Context) {
	messageID := c.Param("message_id")
	if messageID == "" {
		respondError(c, http.StatusBadRequest, "message_id is required", nil)
		return
	}

	err := h.queue.RequeueDeadLetter(c.Request.Context(), messageID)
	if errors.Is(err, queue.ErrDeadLetterNotFound) {
		respondError(c, http.StatusNotFound, "dead-letter entry not found", err)
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to requeue message", err)
		return
	}
	respondSuccess(c, http.StatusOK, "message requeued", gin.H{
		"message_id": messageID,
		"status":     "queued",
	})
}
