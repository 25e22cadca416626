// Package memstore implements an unbounded, sharded TTL store.
package memstore

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/postgis-tile-cache/internal/cache"
)

const numShards = 64

type Store struct {
	shards [numShards]shard
}

type shard struct {
	mu sync.RWMutex
	m  map[string]cache.Entry
}

var _ cache.Store = (*Store)(nil)

func New() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i].m = make(map[string]cache.Entry)
	}
	return s
}

func (s *Store) Get(key string, now time.Time) (cache.Entry, bool) {
	sh := s.pick(key)

	sh.mu.RLock()
	e, ok := sh.m[key]
	sh.mu.RUnlock()
	if !ok {
		return cache.Entry{}, false
	}
	if !e.Expired(now) {
		return e, true
	}

	// lazy eviction; re-check under the write lock since a fresh entry may have replaced it
	sh.mu.Lock()
	if cur, ok := sh.m[key]; ok && cur.Expired(now) {
		delete(sh.m, key)
	}
	sh.mu.Unlock()
	return cache.Entry{}, false
}

func (s *Store) Set(key string, e cache.Entry) {
	sh := s.pick(key)
	sh.mu.Lock()
	sh.m[key] = e
	sh.mu.Unlock()
}

func (s *Store) Del(keys ...string) {
	for _, k := range keys {
		sh := s.pick(k)
		sh.mu.Lock()
		delete(sh.m, k)
		sh.mu.Unlock()
	}
}

func (s *Store) DelFunc(match func(tag string) bool) int {
	return s.DelFuncEntry(func(e cache.Entry) bool { return match(e.Tag) })
}

func (s *Store) Sweep(now time.Time) int {
	return s.DelFuncEntry(func(e cache.Entry) bool { return e.Expired(now) })
}

// DelFuncEntry removes every entry satisfying match.
func (s *Store) DelFuncEntry(match func(cache.Entry) bool) int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k, e := range sh.m {
			if match(e) {
				delete(sh.m, k)
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}

func (s *Store) Len() int {
	total := 0
	for i := range s.shards {
		s.shards[i].mu.RLock()
		total += len(s.shards[i].m)
		s.shards[i].mu.RUnlock()
	}
	return total
}

func (s *Store) pick(key string) *shard {
	h := xxhash.Sum64String(key)
	idx := h & (uint64(len(s.shards)) - 1)
	return &s.shards[idx]
}
