package cmap

import (
	"sync"

	"github.com/spaolacci/murmur3"
)

// DefaultShardCount is the shard count used by New.
const DefaultShardCount = 16

// Map is a concurrent map from string keys to V.
type Map[V any] struct {
	shards []*shard[V]
	mask   uint32
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

// New creates a map with DefaultShardCount shards.
func New[V any]() *Map[V] {
	return NewWithShards[V](DefaultShardCount)
}

// NewWithShards creates a map with n shards. n is rounded up to a power
// of two; non-positive values use DefaultShardCount.
func NewWithShards[V any](n int) *Map[V] {
	if n <= 0 {
		n = DefaultShardCount
	}
	size := 1
	for size < n {
		size <<= 1
	}
	m := &Map[V]{shards: make([]*shard[V], size), mask: uint32(size - 1)}
	for i := range m.shards {
		m.shards[i] = &shard[V]{items: make(map[string]V)}
	}
	return m
}

func (m *Map[V]) shard(key string) *shard[V] {
	return m.shards[murmur3.Sum32([]byte(key))&m.mask]
}

// Get returns the value for key.
func (m *Map[V]) Get(key string) (V, bool) {
	s := m.shard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

// Set stores value under key.
func (m *Map[V]) Set(key string, value V) {
	s := m.shard(key)
	s.mu.Lock()
	s.items[key] = value
	s.mu.Unlock()
}

// SetIfAbsent stores value only when key is unset. It reports whether
// the value was stored.
func (m *Map[V]) SetIfAbsent(key string, value V) bool {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; ok {
		return false
	}
	s.items[key] = value
	return true
}

// Has reports whether key is set.
func (m *Map[V]) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Pop removes key and returns its value.
func (m *Map[V]) Pop(key string) (V, bool) {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	if ok {
		delete(s.items, key)
	}
	return v, ok
}

// Replace swaps the whole contents for items.
func (m *Map[V]) Replace(items map[string]V) {
	next := make([]map[string]V, len(m.shards))
	for i := range next {
		next[i] = make(map[string]V)
	}
	for k, v := range items {
		next[murmur3.Sum32([]byte(k))&m.mask][k] = v
	}
	for i, s := range m.shards {
		s.mu.Lock()
		s.items = next[i]
		s.mu.Unlock()
	}
}

// Range calls fn for each entry until fn returns false. Shards are
// locked one at a time, so the view is not a snapshot.
func (m *Map[V]) Range(fn func(key string, value V) bool) {
	for _, s := range m.shards {
		s.mu.RLock()
		for k, v := range s.items {
			if !fn(k, v) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}

// Count returns the number of entries.
func (m *Map[V]) Count() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}

// Versioned values carry an optimistic concurrency version.
type Versioned interface {
	GetVersion() uint64
	SetVersion(v uint64)
}

// CompareAndSwap stores value under key if the current value's version
// is expected, and bumps value's version to expected+1. It reports false
// when key is unset or the version differs.
func CompareAndSwap[V Versioned](m *Map[V], key string, expected uint64, value V) bool {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.items[key]
	if !ok || cur.GetVersion() != expected {
		return false
	}
	value.SetVersion(expected + 1)
	s.items[key] = value
	return true
}
