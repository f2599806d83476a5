package ratelimit

import (
	"context"
	"sync"
	"time"
)

// CounterStore coordinates fixed-window request counters for a key.
type CounterStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
}

// MemoryStore provides process-local counters. It is concurrency-safe.
type MemoryStore struct {
	mu    sync.Mutex
	data  map[string]*memoryCounter
	tick  *time.Ticker
	done  chan struct{}
	stop  sync.Once
	clock func() time.Time
}

type memoryCounter struct {
	count     int64
	windowEnd time.Time
}

// NewMemoryStore constructs an in-memory counter store. Counters for elapsed
// windows are swept in the background until Stop is called.
func NewMemoryStore() *MemoryStore {
	store := &MemoryStore{
		data:  make(map[string]*memoryCounter),
		tick:  time.NewTicker(time.Minute),
		done:  make(chan struct{}),
		clock: time.Now,
	}

	go store.cleanupLoop()
	return store
}

// Stop halts the background sweep and releases its ticker. Counters remain
// usable after Stop; only the sweep goroutine exits. Safe to call twice.
func (s *MemoryStore) Stop() {
	s.stop.Do(func() {
		s.tick.Stop()
		close(s.done)
	})
}

func (s *MemoryStore) cleanupLoop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.tick.C:
			now := s.clock()
			s.mu.Lock()
			for key, counter := range s.data {
				if now.After(counter.windowEnd) {
					delete(s.data, key)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}

	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.data[key]
	if !ok || now.After(counter.windowEnd) {
		counter = &memoryCounter{windowEnd: now.Add(window)}
		s.data[key] = counter
	}

	counter.count++

	return counter.count, time.Until(counter.windowEnd), nil
}
