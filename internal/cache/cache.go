// Package cache defines the in-memory store behind the result cache.
package cache

import "time"

// Entry is an immutable cached payload. It is replaced, never updated.
type Entry struct {
	Value     []byte
	Tag       string
	ExpiresAt time.Time
}

// Expired reports whether the entry is past its expiry at now.
func (e Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Store is a concurrency-safe key/entry map. Get must never return an
// expired entry.
type Store interface {
	Get(key string, now time.Time) (Entry, bool)
	Set(key string, e Entry)
	Del(keys ...string)
	// DelFunc removes every entry whose tag satisfies match and returns the count.
	DelFunc(match func(tag string) bool) int
	// Sweep drops entries expired at now and returns the count.
	Sweep(now time.Time) int
	Len() int
}
