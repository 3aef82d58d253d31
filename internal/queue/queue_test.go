package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/molochain/DESKTOP-MOLOCHAIN-2028-sub015/internal/breaker"
	"github.com/molochain/DESKTOP-MOLOCHAIN-2028-sub015/internal/channel"
	"github.com/molochain/DESKTOP-MOLOCHAIN-2028-sub015/internal/config"
	"github.com/molochain/DESKTOP-MOLOCHAIN-2028-sub015/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// stubSender records dispatch order and fails on demand.
type stubSender struct {
	mu      sync.Mutex
	fail    bool
	sendErr error
	sent    []string // message IDs in dispatch order
}

func (s *stubSender) Send(ctx context.Context, channelType string, msg *channel.Message) (*channel.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	s.sent = append(s.sent, msg.ID)
	if s.fail {
		return &channel.SendResult{Err: errors.New("provider unavailable")}, nil
	}
	return &channel.SendResult{Success: true, MessageID: "prov-" + msg.ID}, nil
}

func (s *stubSender) order() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func mustStats(t *testing.T, ctx context.Context, q *Queue) models.QueueStats {
	t.Helper()
	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	return stats
}

func newTestQueue(t *testing.T, clock *fakeClock, sender Sender, cb *breaker.Breaker) *Queue {
	t.Helper()
	q, err := New(config.QueueConfig{
		BatchSize:          5,
		DefaultMaxAttempts: 3,
		BackoffBase:        2,
		PriorityWeight:     time.Second,
	}, Dependencies{
		Store:   NewMemoryStore(),
		Sender:  sender,
		Breaker: cb,
		Now:     clock.Now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return q
}

func TestEnqueueHigherPriorityDispatchesFirst(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	sender := &stubSender{}
	q := newTestQueue(t, clock, sender, nil)

	lowID, err := q.Enqueue(ctx, &models.EnqueueRequest{
		Channel: "whatsapp", Recipient: "+111", Body: "low", Priority: 2,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	highID, err := q.Enqueue(ctx, &models.EnqueueRequest{
		Channel: "whatsapp", Recipient: "+222", Body: "high", Priority: 9,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := q.DispatchOnce(ctx); err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}

	order := sender.order()
	if len(order) != 2 {
		t.Fatalf("sent %d messages, want 2", len(order))
	}
	if order[0] != highID || order[1] != lowID {
		t.Fatalf("dispatch order = %v, want [%s %s]", order, highID, lowID)
	}

	stats := mustStats(t, ctx, q)
	if stats.Completed != 2 || stats.Pending != 0 {
		t.Fatalf("stats = %+v, want completed=2 pending=0", stats)
	}
}

func TestScheduledMessageInvisibleUntilRelease(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	sender := &stubSender{}
	q := newTestQueue(t, clock, sender, nil)

	release := clock.Now().Add(60 * time.Second)
	id, err := q.Enqueue(ctx, &models.EnqueueRequest{
		Channel: "whatsapp", Recipient: "+111", Body: "later", ScheduledAt: &release,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	stats := mustStats(t, ctx, q)
	if stats.Scheduled != 1 || stats.Pending != 0 {
		t.Fatalf("stats = %+v, want scheduled=1 pending=0", stats)
	}

	// A sweep before the release time must not promote.
	if err := q.PromoteOnce(ctx); err != nil {
		t.Fatalf("PromoteOnce: %v", err)
	}
	if err := q.DispatchOnce(ctx); err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}
	if len(sender.order()) != 0 {
		t.Fatal("scheduled message was delivered before its release time")
	}

	clock.Advance(61 * time.Second)
	if err := q.PromoteOnce(ctx); err != nil {
		t.Fatalf("PromoteOnce: %v", err)
	}
	stats = mustStats(t, ctx, q)
	if stats.Scheduled != 0 || stats.Pending != 1 {
		t.Fatalf("stats after promotion = %+v, want scheduled=0 pending=1", stats)
	}

	if err := q.DispatchOnce(ctx); err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}
	order := sender.order()
	if len(order) != 1 || order[0] != id {
		t.Fatalf("dispatch order = %v, want [%s]", order, id)
	}
}

func TestFailingMessageRetriedWithBackoffThenDeadLettered(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	sender := &stubSender{fail: true}
	q := newTestQueue(t, clock, sender, nil)

	id, err := q.Enqueue(ctx, &models.EnqueueRequest{
		Channel: "whatsapp", Recipient: "+111", Body: "doomed", MaxAttempts: 3,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Attempt 1 now; retry scored at now+2s (base^1).
	if err := q.DispatchOnce(ctx); err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}
	if got := len(sender.order()); got != 1 {
		t.Fatalf("attempts after first tick = %d, want 1", got)
	}

	// Before the backoff elapses the retry stays parked.
	clock.Advance(time.Second)
	if err := q.DispatchOnce(ctx); err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}
	if got := len(sender.order()); got != 1 {
		t.Fatalf("attempts before backoff elapsed = %d, want 1", got)
	}

	// Attempt 2 after 2s; next retry scored at +4s (base^2).
	clock.Advance(time.Second)
	if err := q.DispatchOnce(ctx); err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}
	if got := len(sender.order()); got != 2 {
		t.Fatalf("attempts after backoff = %d, want 2", got)
	}

	clock.Advance(3 * time.Second)
	if err := q.DispatchOnce(ctx); err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}
	if got := len(sender.order()); got != 2 {
		t.Fatalf("attempts before second backoff elapsed = %d, want 2", got)
	}

	// Attempt 3 exhausts the budget.
	clock.Advance(time.Second)
	if err := q.DispatchOnce(ctx); err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}
	if got := len(sender.order()); got != 3 {
		t.Fatalf("total attempts = %d, want 3", got)
	}

	stats := mustStats(t, ctx, q)
	if stats.Failed != 1 || stats.Pending != 0 || stats.Completed != 0 {
		t.Fatalf("stats = %+v, want failed=1 pending=0 completed=0", stats)
	}

	dead, err := q.DeadLetters(ctx, 10)
	if err != nil {
		t.Fatalf("DeadLetters: %v", err)
	}
	if len(dead) != 1 {
		t.Fatalf("dead letters = %d, want exactly 1", len(dead))
	}
	if dead[0].Message.ID != id || dead[0].Message.Attempts != 3 {
		t.Fatalf("dead letter = %+v, want id=%s attempts=3", dead[0].Message, id)
	}
	if dead[0].Error == "" || dead[0].FailedAt.IsZero() {
		t.Fatalf("dead letter missing failure context: %+v", dead[0])
	}

	// Further ticks never resurrect it.
	clock.Advance(time.Hour)
	if err := q.DispatchOnce(ctx); err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}
	if got := len(sender.order()); got != 3 {
		t.Fatalf("dead-lettered message was attempted again: %d attempts", got)
	}
}

func TestBothPrioritiesDeadLetteredAgainstFailingChannel(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	sender := &stubSender{fail: true}
	q := newTestQueue(t, clock, sender, nil)

	idA, err := q.Enqueue(ctx, &models.EnqueueRequest{
		Channel: "whatsapp", Recipient: "+111", Body: "A", Priority: 9, MaxAttempts: 1,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	idB, err := q.Enqueue(ctx, &models.EnqueueRequest{
		Channel: "whatsapp", Recipient: "+222", Body: "B", Priority: 1, MaxAttempts: 1,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := q.DispatchOnce(ctx); err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}

	order := sender.order()
	if len(order) != 2 {
		t.Fatalf("attempts = %d, want 2", len(order))
	}
	if order[0] != idA {
		t.Fatalf("first processed = %s, want the higher-priority %s", order[0], idA)
	}

	stats := mustStats(t, ctx, q)
	if stats.Completed != 0 || stats.Failed != 2 {
		t.Fatalf("stats = %+v, want completed=0 failed=2", stats)
	}

	dead, err := q.DeadLetters(ctx, 10)
	if err != nil {
		t.Fatalf("DeadLetters: %v", err)
	}
	if len(dead) != 2 {
		t.Fatalf("dead letters = %d, want 2", len(dead))
	}
	seen := map[string]bool{}
	for _, d := range dead {
		seen[d.Message.ID] = true
	}
	if !seen[idA] || !seen[idB] {
		t.Fatalf("dead letters %v missing one of %s, %s", seen, idA, idB)
	}
}

func TestRequeueDeadLetterLeavesOthersIntact(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	sender := &stubSender{fail: true}
	q := newTestQueue(t, clock, sender, nil)

	idA, _ := q.Enqueue(ctx, &models.EnqueueRequest{
		Channel: "whatsapp", Recipient: "+111", Body: "A", MaxAttempts: 1,
	})
	idB, _ := q.Enqueue(ctx, &models.EnqueueRequest{
		Channel: "whatsapp", Recipient: "+222", Body: "B", MaxAttempts: 1,
	})
	if err := q.DispatchOnce(ctx); err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}

	if err := q.RequeueDeadLetter(ctx, idA); err != nil {
		t.Fatalf("RequeueDeadLetter: %v", err)
	}

	dead, err := q.DeadLetters(ctx, 10)
	if err != nil {
		t.Fatalf("DeadLetters: %v", err)
	}
	if len(dead) != 1 || dead[0].Message.ID != idB {
		t.Fatalf("remaining dead letters = %+v, want only %s", dead, idB)
	}

	// The requeued message is delivered once the provider recovers.
	sender.mu.Lock()
	sender.fail = false
	sender.mu.Unlock()
	if err := q.DispatchOnce(ctx); err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}
	stats := mustStats(t, ctx, q)
	if stats.Completed != 1 {
		t.Fatalf("stats = %+v, want completed=1", stats)
	}

	if err := q.RequeueDeadLetter(ctx, "no-such-id"); !errors.Is(err, ErrDeadLetterNotFound) {
		t.Fatalf("requeue of unknown id = %v, want ErrDeadLetterNotFound", err)
	}
}

func TestOpenCircuitDefersWithoutConsumingAttempts(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	sender := &stubSender{}
	cb := breaker.New(breaker.Options{
		FailureThreshold: 1,
		ResetTimeout:     30 * time.Second,
		Now:              clock.Now,
	})
	q := newTestQueue(t, clock, sender, cb)

	// Trip the circuit for the whatsapp channel service.
	cb.RecordFailure("channel:whatsapp")
	if !cb.IsOpen("channel:whatsapp") {
		t.Fatal("circuit should be open")
	}

	if _, err := q.Enqueue(ctx, &models.EnqueueRequest{
		Channel: "whatsapp", Recipient: "+111", Body: "deferred", MaxAttempts: 1,
	}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := q.DispatchOnce(ctx); err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}
	if len(sender.order()) != 0 {
		t.Fatal("open circuit must short-circuit without calling the channel")
	}
	stats := mustStats(t, ctx, q)
	if stats.Pending != 1 || stats.Failed != 0 {
		t.Fatalf("stats = %+v, want pending=1 failed=0 (deferred, not failed)", stats)
	}

	// After the reset timeout the probe goes through and delivers.
	clock.Advance(31 * time.Second)
	if err := q.DispatchOnce(ctx); err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}
	if len(sender.order()) != 1 {
		t.Fatal("message should be delivered after the circuit allows probes")
	}
	if got := mustStats(t, ctx, q).Completed; got != 1 {
		t.Fatalf("completed = %d, want 1", got)
	}
}

func TestUnknownChannelDeadLettersImmediately(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	sender := &stubSender{sendErr: errors.New(`unknown channel type "fax"`)}
	q := newTestQueue(t, clock, sender, nil)

	id, _ := q.Enqueue(ctx, &models.EnqueueRequest{
		Channel: "fax", Recipient: "+111", Body: "nope", MaxAttempts: 3,
	})
	if err := q.DispatchOnce(ctx); err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}

	dead, err := q.DeadLetters(ctx, 10)
	if err != nil {
		t.Fatalf("DeadLetters: %v", err)
	}
	if len(dead) != 1 || dead[0].Message.ID != id {
		t.Fatalf("dead letters = %+v, want the unroutable message", dead)
	}
}

func TestHighPriorityRetryStillWaitsOutBackoff(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	sender := &stubSender{fail: true}
	q := newTestQueue(t, clock, sender, nil)

	// Priority 9 buys a 9s head start at enqueue time; it must not also
	// shrink the 2s backoff after a failure.
	if _, err := q.Enqueue(ctx, &models.EnqueueRequest{
		Channel: "whatsapp", Recipient: "+111", Body: "urgent", Priority: 9, MaxAttempts: 3,
	}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := q.DispatchOnce(ctx); err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}
	if got := len(sender.order()); got != 1 {
		t.Fatalf("attempts after first tick = %d, want 1", got)
	}

	clock.Advance(time.Second)
	if err := q.DispatchOnce(ctx); err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}
	if got := len(sender.order()); got != 1 {
		t.Fatalf("retry fired only 1s after a failure; attempts = %d, want still 1", got)
	}

	clock.Advance(time.Second)
	if err := q.DispatchOnce(ctx); err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}
	if got := len(sender.order()); got != 2 {
		t.Fatalf("attempts after the 2s backoff = %d, want 2", got)
	}
}

func TestStatsReadDepthFromSharedStore(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	store := NewMemoryStore()

	first, err := New(config.QueueConfig{PriorityWeight: time.Second}, Dependencies{
		Store:  store,
		Sender: &stubSender{},
		Now:    clock.Now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	release := clock.Now().Add(time.Hour)
	if _, err := first.Enqueue(ctx, &models.EnqueueRequest{
		Channel: "whatsapp", Recipient: "+111", Body: "now",
	}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := first.Enqueue(ctx, &models.EnqueueRequest{
		Channel: "whatsapp", Recipient: "+222", Body: "later", ScheduledAt: &release,
	}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// A fresh queue over the same store (a restart) still sees the depth.
	second, err := New(config.QueueConfig{PriorityWeight: time.Second}, Dependencies{
		Store:  store,
		Sender: &stubSender{},
		Now:    clock.Now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stats := mustStats(t, ctx, second)
	if stats.Pending != 1 || stats.Scheduled != 1 {
		t.Fatalf("stats after restart = %+v, want pending=1 scheduled=1", stats)
	}

	if err := second.DispatchOnce(ctx); err != nil {
		t.Fatalf("DispatchOnce: %v", err)
	}
	stats = mustStats(t, ctx, second)
	if stats.Pending != 0 || stats.Completed != 1 {
		t.Fatalf("stats after dispatch = %+v, want pending=0 completed=1", stats)
	}
}

func TestEnqueueDefaultsMaxAttempts(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	sender := &stubSender{fail: true}
	q := newTestQueue(t, clock, sender, nil)

	if _, err := q.Enqueue(ctx, &models.EnqueueRequest{
		Channel: "whatsapp", Recipient: "+111", Body: "default budget",
	}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Walk the retries out: defaults to 3 attempts with 2^n backoff.
	for i := 0; i < 10; i++ {
		if err := q.DispatchOnce(ctx); err != nil {
			t.Fatalf("DispatchOnce: %v", err)
		}
		clock.Advance(10 * time.Second)
	}
	if got := len(sender.order()); got != 3 {
		t.Fatalf("attempts = %d, want the default max of 3", got)
	}
}
