// Package queue decouples producers from a fixed-rate consumer that performs
// the actual dispatch through the channel manager, with priority ordering,
// scheduled release, retry with exponential backoff, and dead-lettering.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/molochain/DESKTOP-MOLOCHAIN-2028-sub015/internal/breaker"
	"github.com/molochain/DESKTOP-MOLOCHAIN-2028-sub015/internal/channel"
	"github.com/molochain/DESKTOP-MOLOCHAIN-2028-sub015/internal/config"
	"github.com/molochain/DESKTOP-MOLOCHAIN-2028-sub015/internal/models"
	"github.com/molochain/DESKTOP-MOLOCHAIN-2028-sub015/pkg/metrics"
)

// ErrDeadLetterNotFound is returned when a requeue targets an unknown entry.
var ErrDeadLetterNotFound = errors.New("dead-letter entry not found")

// Sender dispatches one message through a named channel. Satisfied by
// channel.Manager.
type Sender interface {
	Send(ctx context.Context, channelType string, msg *channel.Message) (*channel.SendResult, error)
}

// StatusRecorder persists per-message delivery status, best-effort.
type StatusRecorder interface {
	SetStatus(messageID, status, detail string) error
}

// Dependencies collects the queue's collaborators. Store and Sender are
// required; the rest are optional.
type Dependencies struct {
	Store    Store
	Sender   Sender
	Breaker  *breaker.Breaker
	Statuses StatusRecorder
	Metrics  *metrics.Collector
	Logger   *slog.Logger
	Now      func() time.Time
}

// Queue owns enqueue, scheduled-release promotion, priority dequeue,
// retry/backoff, and dead-lettering.
type Queue struct {
	cfg      config.QueueConfig
	store    Store
	sender   Sender
	breaker  *breaker.Breaker
	statuses StatusRecorder
	metrics  *metrics.Collector
	logger   *slog.Logger
	now      func() time.Time

	processing atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Queue. Zero config values fall back to defaults.
func New(cfg config.QueueConfig, deps Dependencies) (*Queue, error) {
	if deps.Store == nil {
		return nil, errors.New("queue: store dependency is required")
	}
	if deps.Sender == nil {
		return nil, errors.New("queue: sender dependency is required")
	}
	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = time.Second
	}
	if cfg.PromotionInterval <= 0 {
		cfg.PromotionInterval = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.DefaultMaxAttempts <= 0 {
		cfg.DefaultMaxAttempts = 3
	}
	if cfg.BackoffBase <= 1 {
		cfg.BackoffBase = 2
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Minute
	}
	if cfg.PriorityWeight <= 0 {
		cfg.PriorityWeight = time.Second
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}
	nowFunc := deps.Now
	if nowFunc == nil {
		nowFunc = time.Now
	}

	return &Queue{
		cfg:      cfg,
		store:    deps.Store,
		sender:   deps.Sender,
		breaker:  deps.Breaker,
		statuses: deps.Statuses,
		metrics:  m,
		logger:   logger.With(slog.String("component", "queue")),
		now:      nowFunc,
	}, nil
}

// Enqueue persists a new message and returns its generated id. Messages with
// a future scheduled_at land in the scheduled set; everything else goes
// straight to pending with a freshly computed priority score.
func (q *Queue) Enqueue(ctx context.Context, req *models.EnqueueRequest) (string, error) {
	now := q.now()
	msg := models.QueuedMessage{
		ID:          uuid.NewString(),
		Channel:     req.Channel,
		Recipient:   req.Recipient,
		Subject:     req.Subject,
		Body:        req.Body,
		Priority:    req.Priority,
		MaxAttempts: req.MaxAttempts,
		ScheduledAt: req.ScheduledAt,
		Metadata:    req.Metadata,
		CreatedAt:   now,
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = q.cfg.DefaultMaxAttempts
	}

	member, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	if msg.ScheduledAt != nil && msg.ScheduledAt.After(now) {
		if err := q.store.AddScheduled(ctx, string(member), float64(msg.ScheduledAt.UnixMilli())); err != nil {
			return "", fmt.Errorf("persist scheduled message: %w", err)
		}
		q.recordStatus(msg.ID, "scheduled", "")
	} else {
		if err := q.store.AddPending(ctx, string(member), q.priorityScore(now, msg.Priority)); err != nil {
			return "", fmt.Errorf("persist pending message: %w", err)
		}
		q.recordStatus(msg.ID, "queued", "")
	}

	q.metrics.AddEnqueued(1)
	q.logger.Debug("message enqueued",
		slog.String("message_id", msg.ID),
		slog.String("channel", msg.Channel),
		slog.Int("priority", msg.Priority))
	return msg.ID, nil
}

// Start launches the dispatch and promotion loops. Each loop is a single
// consumer goroutine fed by its own ticker, so an invocation can never
// overlap with its previous one.
func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)

	q.wg.Add(2)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(q.cfg.DispatchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := q.DispatchOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
					q.logger.Error("dispatch tick failed", slog.Any("error", err))
				}
			}
		}
	}()
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(q.cfg.PromotionInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := q.PromoteOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
					q.logger.Error("promotion sweep failed", slog.Any("error", err))
				}
			}
		}
	}()
}

// Close stops both loops and releases the store connection. Messages
// mid-flight keep no recovery record beyond what the store already holds.
func (q *Queue) Close() error {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
	return q.store.Close()
}

// DispatchOnce pops one batch of the lowest-scored pending messages and
// processes it sequentially. Entries whose score is still in the future
// (retries waiting out their backoff) go straight back untouched; scores are
// ascending, so the first future entry ends the batch.
func (q *Queue) DispatchOnce(ctx context.Context) error {
	entries, err := q.store.PopPending(ctx, int64(q.cfg.BatchSize))
	if err != nil {
		return fmt.Errorf("pop pending batch: %w", err)
	}
	nowScore := float64(q.now().UnixMilli())
	for i, entry := range entries {
		if entry.Score > nowScore {
			for _, rest := range entries[i:] {
				if err := q.store.AddPending(ctx, rest.Member, rest.Score); err != nil {
					return fmt.Errorf("reinsert undue entry: %w", err)
				}
			}
			break
		}
		var msg models.QueuedMessage
		if err := json.Unmarshal([]byte(entry.Member), &msg); err != nil {
			q.logger.Error("dropping undecodable pending entry", slog.Any("error", err))
			continue
		}
		q.processing.Add(1)
		q.process(ctx, &msg)
	}
	return nil
}

// PromoteOnce moves every scheduled message whose release time has passed
// into pending with a current priority score.
func (q *Queue) PromoteOnce(ctx context.Context) error {
	now := q.now()
	members, err := q.store.PromoteDue(ctx, float64(now.UnixMilli()))
	if err != nil {
		return fmt.Errorf("promote due messages: %w", err)
	}
	for _, member := range members {
		var msg models.QueuedMessage
		if err := json.Unmarshal([]byte(member), &msg); err != nil {
			q.logger.Error("dropping undecodable scheduled entry", slog.Any("error", err))
			continue
		}
		if err := q.store.AddPending(ctx, member, q.priorityScore(now, msg.Priority)); err != nil {
			return fmt.Errorf("reinsert promoted message %s: %w", msg.ID, err)
		}
		q.recordStatus(msg.ID, "queued", "")
		q.logger.Debug("scheduled message promoted", slog.String("message_id", msg.ID))
	}
	return nil
}

func (q *Queue) process(ctx context.Context, msg *models.QueuedMessage) {
	service := "channel:" + msg.Channel

	// An open circuit defers the message without consuming an attempt. A
	// short-circuit is a distinct signal from a delivery failure.
	if q.breaker != nil && q.breaker.IsOpen(service) {
		retryAfter := q.breaker.RetryAfter(service)
		q.requeue(ctx, msg, q.now().Add(retryAfter))
		q.logger.Warn("circuit open, deferring message",
			slog.String("message_id", msg.ID),
			slog.String("service", service),
			slog.Duration("retry_after", retryAfter))
		return
	}

	msg.Attempts++
	res, err := q.sender.Send(ctx, msg.Channel, &channel.Message{
		ID:        msg.ID,
		Recipient: msg.Recipient,
		Subject:   msg.Subject,
		Body:      msg.Body,
		Metadata:  msg.Metadata,
	})
	if err != nil {
		// Unknown channel type: no retry can fix the address, park it.
		q.deadLetter(ctx, msg, err)
		return
	}

	if res.Success {
		q.processing.Add(-1)
		q.completed.Add(1)
		q.metrics.AddDelivered(1)
		if q.breaker != nil {
			q.breaker.RecordSuccess(service)
		}
		q.recordStatus(msg.ID, "completed", res.MessageID)
		q.logger.Info("message delivered",
			slog.String("message_id", msg.ID),
			slog.String("channel", msg.Channel),
			slog.Int("attempts", msg.Attempts))
		return
	}

	// Channel misconfiguration is channel-level, not breaker-level.
	misconfigured := errors.Is(res.Err, channel.ErrNotConfigured)
	if !misconfigured && q.breaker != nil {
		q.breaker.RecordFailure(service)
	}
	q.metrics.AddFailed(1)

	if msg.Attempts < msg.MaxAttempts {
		delay := q.backoff(msg.Attempts)
		q.requeue(ctx, msg, q.now().Add(delay))
		q.recordStatus(msg.ID, "retrying", errString(res.Err))
		q.logger.Warn("delivery failed, scheduling retry",
			slog.String("message_id", msg.ID),
			slog.Int("attempts", msg.Attempts),
			slog.Duration("delay", delay),
			slog.Any("error", res.Err))
		return
	}

	q.deadLetter(ctx, msg, res.Err)
}

// requeue re-inserts the message into pending scored at the given wall-clock
// time. The score is the raw eligibility timestamp: priority already ordered
// the first dispatch, and letting it shrink the score here would let a high
// priority swallow the backoff delay entirely.
func (q *Queue) requeue(ctx context.Context, msg *models.QueuedMessage, at time.Time) {
	member, err := json.Marshal(msg)
	if err != nil {
		q.logger.Error("marshal for requeue failed", slog.String("message_id", msg.ID), slog.Any("error", err))
		q.processing.Add(-1)
		return
	}
	if err := q.store.AddPending(ctx, string(member), float64(at.UnixMilli())); err != nil {
		q.logger.Error("requeue failed", slog.String("message_id", msg.ID), slog.Any("error", err))
		q.processing.Add(-1)
		return
	}
	q.processing.Add(-1)
}

// deadLetter archives the message with its failure reason; it never re-enters
// active circulation automatically.
func (q *Queue) deadLetter(ctx context.Context, msg *models.QueuedMessage, cause error) {
	entry := models.DeadLetter{
		Message:  *msg,
		Error:    errString(cause),
		FailedAt: q.now(),
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		q.logger.Error("marshal dead letter failed", slog.String("message_id", msg.ID), slog.Any("error", err))
	} else if err := q.store.AppendDeadLetter(ctx, string(payload)); err != nil {
		q.logger.Error("append dead letter failed", slog.String("message_id", msg.ID), slog.Any("error", err))
	}

	q.processing.Add(-1)
	q.failed.Add(1)
	q.metrics.AddDeadLettered(1)
	q.recordStatus(msg.ID, "dead_lettered", entry.Error)
	q.logger.Error("message dead-lettered",
		slog.String("message_id", msg.ID),
		slog.String("channel", msg.Channel),
		slog.Int("attempts", msg.Attempts),
		slog.String("error", entry.Error))
}

// Stats snapshots the queue counters. Pending and scheduled depth come from
// the store so the numbers survive restarts and stay honest when another
// process shares the store; the remaining counters are process-local.
func (q *Queue) Stats(ctx context.Context) (models.QueueStats, error) {
	pending, err := q.store.PendingCount(ctx)
	if err != nil {
		return models.QueueStats{}, fmt.Errorf("pending count: %w", err)
	}
	scheduled, err := q.store.ScheduledCount(ctx)
	if err != nil {
		return models.QueueStats{}, fmt.Errorf("scheduled count: %w", err)
	}
	return models.QueueStats{
		Pending:    pending,
		Processing: q.processing.Load(),
		Completed:  q.completed.Load(),
		Failed:     q.failed.Load(),
		Scheduled:  scheduled,
	}, nil
}

// DeadLetters returns up to limit archived entries, oldest first.
func (q *Queue) DeadLetters(ctx context.Context, limit int64) ([]models.DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	raw, err := q.store.DeadLetters(ctx, 0, limit-1)
	if err != nil {
		return nil, fmt.Errorf("read dead letters: %w", err)
	}
	out := make([]models.DeadLetter, 0, len(raw))
	for _, payload := range raw {
		var entry models.DeadLetter
		if err := json.Unmarshal([]byte(payload), &entry); err != nil {
			q.logger.Error("skipping undecodable dead letter", slog.Any("error", err))
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

// RequeueDeadLetter is the explicit operator action that puts one archived
// message back into circulation with a fresh retry budget. Exactly the
// matching entry is removed; unrelated entries are untouched.
func (q *Queue) RequeueDeadLetter(ctx context.Context, messageID string) error {
	raw, err := q.store.DeadLetters(ctx, 0, -1)
	if err != nil {
		return fmt.Errorf("read dead letters: %w", err)
	}
	for _, payload := range raw {
		var entry models.DeadLetter
		if err := json.Unmarshal([]byte(payload), &entry); err != nil {
			continue
		}
		if entry.Message.ID != messageID {
			continue
		}
		removed, err := q.store.RemoveDeadLetter(ctx, payload)
		if err != nil {
			return fmt.Errorf("remove dead letter: %w", err)
		}
		if !removed {
			return ErrDeadLetterNotFound
		}

		msg := entry.Message
		msg.Attempts = 0
		member, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal requeued message: %w", err)
		}
		now := q.now()
		if err := q.store.AddPending(ctx, string(member), q.priorityScore(now, msg.Priority)); err != nil {
			return fmt.Errorf("requeue dead letter: %w", err)
		}
		q.recordStatus(msg.ID, "queued", "requeued from dead letter")
		q.logger.Info("dead letter requeued", slog.String("message_id", msg.ID))
		return nil
	}
	return ErrDeadLetterNotFound
}

// priorityScore ranks a message: recency keyed in milliseconds, with each
// priority point buying PriorityWeight of head start. Lower sorts earlier.
func (q *Queue) priorityScore(t time.Time, priority int) float64 {
	return float64(t.UnixMilli()) - float64(priority)*float64(q.cfg.PriorityWeight.Milliseconds())
}

// backoff grows exponentially in the attempt count, capped at MaxBackoff.
func (q *Queue) backoff(attempts int) time.Duration {
	seconds := math.Pow(q.cfg.BackoffBase, float64(attempts))
	d := time.Duration(seconds * float64(time.Second))
	if d > q.cfg.MaxBackoff {
		d = q.cfg.MaxBackoff
	}
	return d
}

func (q *Queue) recordStatus(messageID, status, detail string) {
	if q.statuses == nil {
		return
	}
	if err := q.statuses.SetStatus(messageID, status, detail); err != nil {
		q.logger.Warn("status record failed",
			slog.String("message_id", messageID),
			slog.String("status", status),
			slog.Any("error", err))
	}
}

func errString(err error) string {
	if err == nil {
		return "delivery failed"
	}
	return err.Error()
}
