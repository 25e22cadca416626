// Package cache serves requests through the TTL single-flight result cache.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/mohammed-shakir/postgis-tile-cache/internal/cache"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/cache/keys"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/cache/lrustore"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/cache/memstore"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/cache/resultcache"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/core/config"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/core/model"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/core/observability"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/core/router"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/gateway"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/query"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/scenarios"
)

type Engine struct {
	logger *slog.Logger
	gw     gateway.Interface
	rc     *resultcache.Cache
}

var (
	_ router.Source         = (*Engine)(nil)
	_ scenarios.Invalidator = (*Engine)(nil)
)

func init() {
	scenarios.Register("cache", newCache)
}

func newCache(ctx context.Context, cfg config.Config, logger *slog.Logger, gw gateway.Interface) (router.Source, error) {
	store, err := newStore(cfg.CacheMaxEntries)
	if err != nil {
		return nil, err
	}
	e := New(logger, gw, resultcache.New(store, resultcache.Options{
		TTL:            cfg.CacheTTL,
		ComputeTimeout: cfg.ComputeTimeout,
		Logger:         logger,
	}))
	go e.rc.RunSweeper(ctx, cfg.CacheSweepInterval)
	logger.Info("result cache ready",
		"ttl", e.rc.TTL().String(),
		"max_entries", cfg.CacheMaxEntries)
	return e, nil
}

// newStore picks the unbounded sharded store, or an LRU when a bound is set.
func newStore(maxEntries int) (cache.Store, error) {
	if maxEntries <= 0 {
		return memstore.New(), nil
	}
	st, err := lrustore.New(maxEntries, func() {
		observability.AddCacheEvictions("capacity", 1)
	})
	if err != nil {
		return nil, fmt.Errorf("bounded cache store: %w", err)
	}
	return st, nil
}

func New(logger *slog.Logger, gw gateway.Interface, rc *resultcache.Cache) *Engine {
	return &Engine{logger: logger, gw: gw, rc: rc}
}

func (e *Engine) Features(ctx context.Context, q model.FeatureQueryRequest) ([]byte, error) {
	sql := query.Feature(q)
	return e.rc.GetOrCompute(ctx, keys.FeatureKey(q), q.Tables.String(), func(ctx context.Context) ([]byte, error) {
		return e.gw.Text(ctx, sql)
	})
}

func (e *Engine) Tile(ctx context.Context, q model.TileRequest) ([]byte, error) {
	sql := query.Tile(q)
	return e.rc.GetOrCompute(ctx, keys.TileKey(q), q.Table.String(), func(ctx context.Context) ([]byte, error) {
		return e.gw.Binary(ctx, sql)
	})
}

// InvalidateTable drops every cached result whose table fragment names table.
func (e *Engine) InvalidateTable(table string) int {
	n := e.rc.Invalidate(func(tag string) bool { return tagRefersTo(tag, table) })
	e.logger.Debug("cache invalidated", "table", table, "dropped", n)
	return n
}

// tagRefersTo reports whether the table fragment tag mentions table as a
// whole identifier. An unqualified table also matches schema-qualified uses.
func tagRefersTo(tag, table string) bool {
	table = normalizeIdent(table)
	if table == "" {
		return false
	}
	tokens := strings.FieldsFunc(tag, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' || r == '"')
	})
	for _, tok := range tokens {
		tok = normalizeIdent(tok)
		if tok == table || strings.HasSuffix(tok, "."+table) {
			return true
		}
	}
	return false
}

func normalizeIdent(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), `"`, ""))
}
