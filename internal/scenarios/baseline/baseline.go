// Package baseline serves every request straight from the database.
package baseline

import (
	"context"
	"log/slog"

	"github.com/mohammed-shakir/postgis-tile-cache/internal/core/config"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/core/model"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/core/router"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/gateway"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/query"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/scenarios"
)

type Engine struct {
	logger *slog.Logger
	gw     gateway.Interface
}

func init() {
	scenarios.Register("baseline", newBaseline)
}

func newBaseline(_ context.Context, _ config.Config, logger *slog.Logger, gw gateway.Interface) (router.Source, error) {
	return New(logger, gw), nil
}

func New(logger *slog.Logger, gw gateway.Interface) *Engine {
	return &Engine{logger: logger, gw: gw}
}

func (e *Engine) Features(ctx context.Context, q model.FeatureQueryRequest) ([]byte, error) {
	return e.gw.Text(ctx, query.Feature(q))
}

func (e *Engine) Tile(ctx context.Context, q model.TileRequest) ([]byte, error) {
	e.logger.DebugContext(ctx, "tile passthrough", "tile", q.TileID())
	return e.gw.Binary(ctx, query.Tile(q))
}
