// Package cache provides a short-lived in-memory memo used to bound the cost
// of repeated expensive computations between polls.
package cache

import (
	"sync"
	"time"
)

// Entry is a memoized value and the instant it was computed.
type Entry[T any] struct {
	Value      T
	ComputedAt time.Time
}

// IsValid reports whether the entry is younger than ttl at now.
func (e *Entry[T]) IsValid(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.ComputedAt) < ttl
}

// Memo holds at most one entry. Staleness is by age only.
type Memo[T any] struct {
	mu    sync.Mutex
	ttl   time.Duration
	entry *Entry[T]
}

func NewMemo[T any](ttl time.Duration) *Memo[T] {
	return &Memo[T]{ttl: ttl}
}

// Get returns the memoized value if one exists and is still fresh at now.
func (m *Memo[T]) Get(now time.Time) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.entry == nil || !m.entry.IsValid(now, m.ttl) {
		var zero T
		return zero, false
	}
	return m.entry.Value, true
}

// Set replaces the entry. Last write wins.
func (m *Memo[T]) Set(v T, now time.Time) {
	m.mu.Lock()
	m.entry = &Entry[T]{Value: v, ComputedAt: now}
	m.mu.Unlock()
}

func (m *Memo[T]) Reset() {
	m.mu.Lock()
	m.entry = nil
	m.mu.Unlock()
}
