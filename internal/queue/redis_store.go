package queue

import (
	"context"

	"github.com/go-redis/redis/v8"
)

const (
	pendingKey    = "delivery:pending"
	scheduledKey  = "delivery:scheduled"
	deadLetterKey = "delivery:deadletter"
)

// promoteScript removes and returns every scheduled member whose release time
// has passed, as one atomic operation.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if #due > 0 then
    redis.call('ZREM', KEYS[1], unpack(due))
end
return due
`)

// RedisStore implements Store on Redis sorted sets and lists.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a store around an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) AddPending(ctx context.Context, member string, score float64) error {
	return s.client.ZAdd(ctx, pendingKey, &redis.Z{Score: score, Member: member}).Err()
}

func (s *RedisStore) AddScheduled(ctx context.Context, member string, score float64) error {
	return s.client.ZAdd(ctx, scheduledKey, &redis.Z{Score: score, Member: member}).Err()
}

func (s *RedisStore) PopPending(ctx context.Context, n int64) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	popped, err := s.client.ZPopMin(ctx, pendingKey, n).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(popped))
	for _, z := range popped {
		if m, ok := z.Member.(string); ok {
			entries = append(entries, Entry{Member: m, Score: z.Score})
		}
	}
	return entries, nil
}

func (s *RedisStore) PromoteDue(ctx context.Context, max float64) ([]string, error) {
	res, err := promoteScript.Run(ctx, s.client, []string{scheduledKey}, max).Result()
	if err != nil {
		return nil, err
	}
	raw, ok := res.([]interface{})
	if !ok {
		return nil, nil
	}
	members := make([]string, 0, len(raw))
	for _, v := range raw {
		if m, ok := v.(string); ok {
			members = append(members, m)
		}
	}
	return members, nil
}

func (s *RedisStore) PendingCount(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, pendingKey).Result()
}

func (s *RedisStore) ScheduledCount(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, scheduledKey).Result()
}

func (s *RedisStore) AppendDeadLetter(ctx context.Context, payload string) error {
	return s.client.RPush(ctx, deadLetterKey, payload).Err()
}

func (s *RedisStore) DeadLetters(ctx context.Context, start, stop int64) ([]string, error) {
	return s.client.LRange(ctx, deadLetterKey, start, stop).Result()
}

func (s *RedisStore) RemoveDeadLetter(ctx context.Context, payload string) (bool, error) {
	removed, err := s.client.LRem(ctx, deadLetterKey, 1, payload).Result()
	if err != nil {
		return false, err
	}
	return removed > 0, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
