package queue

import (
	"context"
	"sort"
	"sync"
)

type scoredMember struct {
	member string
	score  float64
	seq    int64
}

// MemoryStore is an in-process Store used by tests and local development.
// Insertion order breaks score ties, matching sorted-set semantics closely
// enough for a single process.
type MemoryStore struct {
	mu        sync.Mutex
	seq       int64
	pending   []scoredMember
	scheduled []scoredMember
	dead      []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) add(set *[]scoredMember, member string, score float64) {
	// ZADD semantics: re-adding an existing member updates its score.
	for i := range *set {
		if (*set)[i].member == member {
			(*set)[i].score = score
			return
		}
	}
	s.seq++
	*set = append(*set, scoredMember{member: member, score: score, seq: s.seq})
}

func sortSet(set []scoredMember) {
	sort.SliceStable(set, func(i, j int) bool {
		if set[i].score != set[j].score {
			return set[i].score < set[j].score
		}
		return set[i].seq < set[j].seq
	})
}

func (s *MemoryStore) AddPending(ctx context.Context, member string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add(&s.pending, member, score)
	return nil
}

func (s *MemoryStore) AddScheduled(ctx context.Context, member string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add(&s.scheduled, member, score)
	return nil
}

func (s *MemoryStore) PopPending(ctx context.Context, n int64) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || len(s.pending) == 0 {
		return nil, nil
	}
	sortSet(s.pending)
	count := int(n)
	if count > len(s.pending) {
		count = len(s.pending)
	}
	entries := make([]Entry, 0, count)
	for _, sm := range s.pending[:count] {
		entries = append(entries, Entry{Member: sm.member, Score: sm.score})
	}
	s.pending = append([]scoredMember(nil), s.pending[count:]...)
	return entries, nil
}

func (s *MemoryStore) PromoteDue(ctx context.Context, max float64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []string
	remaining := s.scheduled[:0]
	for _, sm := range s.scheduled {
		if sm.score <= max {
			due = append(due, sm.member)
			continue
		}
		remaining = append(remaining, sm)
	}
	s.scheduled = remaining
	return due, nil
}

func (s *MemoryStore) PendingCount(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.pending)), nil
}

func (s *MemoryStore) ScheduledCount(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.scheduled)), nil
}

func (s *MemoryStore) AppendDeadLetter(ctx context.Context, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dead = append(s.dead, payload)
	return nil
}

func (s *MemoryStore) DeadLetters(ctx context.Context, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.dead))
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = 0
	}
	if start >= n || stop < start {
		return nil, nil
	}
	if stop >= n {
		stop = n - 1
	}
	out := make([]string, stop-start+1)
	copy(out, s.dead[start:stop+1])
	return out, nil
}

func (s *MemoryStore) RemoveDeadLetter(ctx context.Context, payload string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, d := range s.dead {
		if d == payload {
			s.dead = append(s.dead[:i], s.dead[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) Close() error { return nil }
