package invalidation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	obs "github.com/mohammed-shakir/postgis-tile-cache/internal/core/observability"
	mylog "github.com/mohammed-shakir/postgis-tile-cache/internal/logger"
)

// TableInvalidator drops cached results for a table and reports how many.
type TableInvalidator interface {
	InvalidateTable(table string) int
}

const defaultSeenTables = 4096

// Applier applies events to a cache. For each table it remembers the newest
// event timestamp applied; events at or before it are skipped as duplicates.
type Applier struct {
	driver string
	target TableInvalidator
	logger *slog.Logger
	seen   *lru.Cache[string, time.Time]
}

func NewApplier(driver string, target TableInvalidator, logger *slog.Logger) (*Applier, error) {
	seen, err := lru.New[string, time.Time](defaultSeenTables)
	if err != nil {
		return nil, fmt.Errorf("dedupe cache: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{driver: driver, target: target, logger: logger, seen: seen}, nil
}

// Apply invalidates ev.Table unless a newer or identical event was applied.
// It reports whether the event was applied and how many entries were dropped.
func (a *Applier) Apply(ctx context.Context, ev Event) (applied bool, dropped int) {
	key := strings.ToLower(strings.TrimSpace(ev.Table))
	if last, ok := a.seen.Get(key); ok && !ev.TS.After(last) {
		obs.IncInvalidation(a.driver, "duplicate")
		a.logger.DebugContext(ctx, "invalidation skipped",
			"table", ev.Table, "ts", ev.TS, "last", last)
		return false, 0
	}
	a.seen.Add(key, ev.TS)

	dropped = a.target.InvalidateTable(ev.Table)
	obs.IncInvalidation(a.driver, "applied")
	a.logger.InfoContext(mylog.WithTable(ctx, ev.Table), "invalidation applied",
		"op", ev.Op, "dropped", dropped, "source", ev.Source, "driver", a.driver)
	return true, dropped
}

// Handle decodes payload and applies it. Undecodable payloads return an
// error wrapping ErrInvalidEvent.
func (a *Applier) Handle(ctx context.Context, payload []byte) error {
	ev, err := Decode(payload)
	if err != nil {
		obs.IncInvalidation(a.driver, "invalid")
		return err
	}
	a.Apply(ctx, ev)
	return nil
}
