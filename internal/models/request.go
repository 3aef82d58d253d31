package models

import (
	"errors"
	"time"
)

// EnqueueRequest is the producer-facing request to queue a message.
type EnqueueRequest struct {
	Channel     string                 `json:"channel" binding:"required"`
	Recipient   string                 `json:"recipient" binding:"required"`
	Subject     string                 `json:"subject"`
	Body        string                 `json:"body" binding:"required"`
	Priority    int                    `json:"priority"`
	MaxAttempts int                    `json:"max_attempts"`
	ScheduledAt *time.Time             `json:"scheduled_at"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// Normalize applies defaults and rejects values the queue cannot honor.
func (r *EnqueueRequest) Normalize() error {
	if r.Priority < 0 {
		return errors.New("priority must not be negative")
	}
	if r.MaxAttempts < 0 {
		return errors.New("max_attempts must not be negative")
	}
	if r.Metadata == nil {
		r.Metadata = map[string]interface{}{}
	}
	return nil
}
