package redissub

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/postgis-tile-cache/internal/invalidation"
)

type fakeTarget struct {
	mu     sync.Mutex
	tables []string
}

func (f *fakeTarget) InvalidateTable(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables = append(f.tables, table)
	return 1
}

func (f *fakeTarget) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tables...)
}

func newMini(t *testing.T, target *fakeTarget) (*miniredis.Miniredis, *Subscriber) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := invalidation.NewApplier("redis", target, logger)
	if err != nil {
		t.Fatalf("NewApplier: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := New(ctx, mr.Addr(), "table-invalidation", logger, a)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return mr, s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubscriber_AppliesPublishedEvents(t *testing.T) {
	target := &fakeTarget{}
	mr, s := newMini(t, target)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, func() bool { return len(mr.PubSubChannels("")) == 1 })

	ts := time.Date(2025, 10, 26, 12, 0, 0, 0, time.UTC)
	if _, err := s.Publish(ctx, invalidation.Event{Version: 1, Op: "update", Table: "roads", TS: ts}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	mr.Publish("table-invalidation", "garbage")
	// same event again is a duplicate
	if _, err := s.Publish(ctx, invalidation.Event{Version: 1, Op: "update", Table: "roads", TS: ts}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := s.Publish(ctx, invalidation.Event{Version: 1, Op: "delete", Table: "parcels", TS: ts}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, func() bool { return len(target.snapshot()) == 2 })
	got := target.snapshot()
	if got[0] != "roads" || got[1] != "parcels" {
		t.Fatalf("invalidated=%v", got)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestPublish_RejectsInvalidEvent(t *testing.T) {
	_, s := newMini(t, &fakeTarget{})
	if _, err := s.Publish(context.Background(), invalidation.Event{Version: 1, Op: "update"}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestNew_RequiresReachableRedis(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := New(ctx, "", "c", nil, nil); err == nil {
		t.Fatalf("expected error for empty addr")
	}
	if _, err := New(ctx, "127.0.0.1:1", "c", nil, nil, WithDialTimeout(100*time.Millisecond)); err == nil {
		t.Fatalf("expected ping error")
	}
}
