package queue

import "context"

// Entry is one stored member with its dispatch score.
type Entry struct {
	Member string
	Score  float64
}

// Store is the queue's backing store: two score-ordered sets plus an
// append-only dead-letter list. Every mutation is a single atomic store
// operation, which is what makes multiple processes sharing one store safe.
type Store interface {
	// AddPending inserts or re-scores a member in the pending set.
	AddPending(ctx context.Context, member string, score float64) error
	// AddScheduled inserts a member in the scheduled set keyed by its
	// release timestamp.
	AddScheduled(ctx context.Context, member string, score float64) error
	// PopPending atomically removes and returns up to n entries with the
	// smallest scores, ascending.
	PopPending(ctx context.Context, n int64) ([]Entry, error)
	// PromoteDue atomically removes and returns every scheduled member whose
	// score is at or below max.
	PromoteDue(ctx context.Context, max float64) ([]string, error)
	// PendingCount returns the size of the pending set.
	PendingCount(ctx context.Context) (int64, error)
	// ScheduledCount returns the size of the scheduled set.
	ScheduledCount(ctx context.Context) (int64, error)
	// AppendDeadLetter appends one serialized entry to the dead-letter list.
	AppendDeadLetter(ctx context.Context, payload string) error
	// DeadLetters returns the inclusive range [start, stop] of the
	// dead-letter list; stop of -1 means the end of the list.
	DeadLetters(ctx context.Context, start, stop int64) ([]string, error)
	// RemoveDeadLetter removes exactly one entry matching payload and
	// reports whether anything was removed.
	RemoveDeadLetter(ctx context.Context, payload string) (bool, error)
	// Close releases the store connection.
	Close() error
}
