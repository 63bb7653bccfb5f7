// Package lock provides named, time-bounded mutual exclusion shared by every
// process that claims grade records.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pkgerrors "sis-gradesync/pkg/errors"
)

// ErrNotAcquired means another holder kept the lock for the whole wait. It is
// returned wrapped in a contention-class error.
var ErrNotAcquired = errors.New("lock not acquired")

func notAcquired(key string) error {
	return pkgerrors.NewContentionError(ErrNotAcquired, key)
}

// Service hands out named locks. Acquire blocks for at most wait and returns
// ErrNotAcquired on timeout. A held lock expires on its own after ttl.
type Service interface {
	Acquire(ctx context.Context, key string, wait, ttl time.Duration) (Lock, error)
}

type Lock interface {
	Key() string
	Release(ctx context.Context) error
}

// CourseKey is the lock name for one external course id.
func CourseKey(courseExternalID string) string {
	return fmt.Sprintf("course:%s", courseExternalID)
}

// MemoryService is an in-process Service for tests and single-process runs.
type MemoryService struct {
	mu       sync.Mutex
	held     map[string]memoryEntry
	now      func() time.Time
	interval time.Duration
	seq      int64
}

type memoryEntry struct {
	owner   int64
	expires time.Time
}

func NewMemoryService() *MemoryService {
	return &MemoryService{
		held:     make(map[string]memoryEntry),
		now:      time.Now,
		interval: 10 * time.Millisecond,
	}
}

func (s *MemoryService) Acquire(ctx context.Context, key string, wait, ttl time.Duration) (Lock, error) {
	deadline := time.Now().Add(wait)
	for {
		if l, ok := s.tryAcquire(key, ttl); ok {
			return l, nil
		}
		if !time.Now().Before(deadline) {
			return nil, notAcquired(key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.interval):
		}
	}
}

// Hold takes key for ttl without waiting. Tests use it to simulate another holder.
func (s *MemoryService) Hold(key string, ttl time.Duration) Lock {
	l, _ := s.tryAcquire(key, ttl)
	return l
}

func (s *MemoryService) tryAcquire(key string, ttl time.Duration) (Lock, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.held[key]; ok && now.Before(e.expires) {
		return nil, false
	}
	s.seq++
	s.held[key] = memoryEntry{owner: s.seq, expires: now.Add(ttl)}
	return &memoryLock{svc: s, key: key, owner: s.seq}, true
}

type memoryLock struct {
	svc   *MemoryService
	key   string
	owner int64
}

func (l *memoryLock) Key() string { return l.key }

func (l *memoryLock) Release(_ context.Context) error {
	l.svc.mu.Lock()
	defer l.svc.mu.Unlock()

	if e, ok := l.svc.held[l.key]; ok && e.owner == l.owner {
		delete(l.svc.held, l.key)
	}
	return nil
}
