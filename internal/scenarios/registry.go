// Package scenarios selects how requests are served: straight from the
// database or through the result cache.
package scenarios

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mohammed-shakir/postgis-tile-cache/internal/core/config"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/core/router"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/gateway"
)

// Factory builds a scenario's source. ctx bounds any background work the
// scenario starts.
type Factory func(ctx context.Context, cfg config.Config, logger *slog.Logger, gw gateway.Interface) (router.Source, error)

// Invalidator is implemented by sources that hold cached results per table.
type Invalidator interface {
	InvalidateTable(table string) int
}

var reg = map[string]Factory{}

func Register(name string, f Factory) {
	reg[name] = f
}

func New(ctx context.Context, name string, cfg config.Config, logger *slog.Logger, gw gateway.Interface) (router.Source, error) {
	if f, ok := reg[name]; ok {
		return f(ctx, cfg, logger, gw)
	}
	if f, ok := reg["baseline"]; ok {
		logger.Warn("unknown scenario; falling back to baseline", "scenario", name)
		return f(ctx, cfg, logger, gw)
	}
	return nil, fmt.Errorf("no factory for scenario %q and no baseline registered", name)
}
