package utils

import (
	"context"
	"sync"
	"time"
)

// Pacer enforces a minimum interval between consecutive calls to Wait. It is
// used for the fixed inter-page delays third-party stores require.
type Pacer struct {
	interval time.Duration
	mu       sync.Mutex
	last     time.Time
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
}

// NewPacer creates a Pacer with the given minimum interval.
func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{
		interval: interval,
		now:      time.Now,
		sleep:    SleepContext,
	}
}

// Wait blocks until at least interval has passed since the previous Wait
// returned. The first call never blocks.
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.last.IsZero() {
		elapsed := p.now().Sub(p.last)
		if elapsed < p.interval {
			if err := p.sleep(ctx, p.interval-elapsed); err != nil {
				return err
			}
		}
	}
	p.last = p.now()
	return nil
}

// Reset forgets the previous call so the next Wait returns immediately.
func (p *Pacer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = time.Time{}
}

// KeySet is a thread-safe set for tracking already-seen URLs or identities.
type KeySet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewKeySet creates an empty KeySet.
func NewKeySet() *KeySet {
	return &KeySet{seen: make(map[string]struct{})}
}

// Add returns true if the key was newly added, false if already present.
func (s *KeySet) Add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[key]; exists {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

// Contains returns true if the key has already been seen.
func (s *KeySet) Contains(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.seen[key]
	return exists
}

// Size returns the number of unique keys tracked.
func (s *KeySet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
