// Package lrustore implements a size-bounded TTL store on top of an LRU.
package lrustore

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/postgis-tile-cache/internal/cache"
)

type Store struct {
	// mu orders Set against the peek-then-remove of expired entries
	mu      sync.Mutex
	lru     *lru.Cache[string, cache.Entry]
	onEvict func()
}

var _ cache.Store = (*Store)(nil)

// New returns a store holding at most size entries. onEvict, if set, is
// called each time the size bound pushes an entry out.
func New(size int, onEvict func()) (*Store, error) {
	if size <= 0 {
		return nil, fmt.Errorf("lrustore: size must be positive, got %d", size)
	}
	c, err := lru.New[string, cache.Entry](size)
	if err != nil {
		return nil, fmt.Errorf("lrustore: %w", err)
	}
	return &Store{lru: c, onEvict: onEvict}, nil
}

func (s *Store) Get(key string, now time.Time) (cache.Entry, bool) {
	e, ok := s.lru.Get(key)
	if !ok {
		return cache.Entry{}, false
	}
	if e.Expired(now) {
		s.removeIfSame(key, e)
		return cache.Entry{}, false
	}
	return e, true
}

// removeIfSame drops key only while it still holds seen, so an entry stored
// concurrently after the expiry check survives.
func (s *Store) removeIfSame(key string, seen cache.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.lru.Peek(key); ok && cur.ExpiresAt.Equal(seen.ExpiresAt) {
		s.lru.Remove(key)
	}
}

func (s *Store) Set(key string, e cache.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if evicted := s.lru.Add(key, e); evicted && s.onEvict != nil {
		s.onEvict()
	}
}

func (s *Store) Del(keys ...string) {
	for _, k := range keys {
		s.lru.Remove(k)
	}
}

func (s *Store) DelFunc(match func(tag string) bool) int {
	n := 0
	for _, k := range s.lru.Keys() {
		if e, ok := s.lru.Peek(k); ok && match(e.Tag) {
			if s.lru.Remove(k) {
				n++
			}
		}
	}
	return n
}

func (s *Store) Sweep(now time.Time) int {
	n := 0
	for _, k := range s.lru.Keys() {
		if e, ok := s.lru.Peek(k); ok && e.Expired(now) {
			if s.lru.Remove(k) {
				n++
			}
		}
	}
	return n
}

func (s *Store) Len() int { return s.lru.Len() }
