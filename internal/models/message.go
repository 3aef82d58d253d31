package models

import "time"

// QueuedMessage is a single addressed message waiting for delivery. It is
// stored JSON-serialized as a sorted-set member, so every mutation (attempt
// increments, re-scoring) produces a new member value.
type QueuedMessage struct {
	ID          string                 `json:"id"`
	Channel     string                 `json:"channel"`
	Recipient   string                 `json:"recipient"`
	Subject     string                 `json:"subject,omitempty"`
	Body        string                 `json:"body"`
	Priority    int                    `json:"priority"`
	Attempts    int                    `json:"attempts"`
	MaxAttempts int                    `json:"max_attempts"`
	ScheduledAt *time.Time             `json:"scheduled_at,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// DeadLetter archives a message that exhausted its retry budget. Entries are
// append-only and never mutated after they are written.
type DeadLetter struct {
	Message  QueuedMessage `json:"message"`
	Error    string        `json:"error"`
	FailedAt time.Time     `json:"failed_at"`
}

// QueueStats are best-effort counters, eventually consistent with the actual
// queue contents.
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Scheduled  int64 `json:"scheduled"`
}
