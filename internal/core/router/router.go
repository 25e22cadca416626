// Package router parses and validates feature and tile requests and serves
// them from a Source.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/postgis-tile-cache/internal/core/model"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/core/observability"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/logger"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/query"
)

const (
	RouteFeatures = "/json/v1/{tables}"
	RouteTile     = "/mvt/v1/{table}/{z}/{x}/{y}"
)

const (
	defaultFeatureColumns = "*"
	defaultTileColumns    = ""
	defaultGeomColumn     = "geom"
)

// Source produces the payload for a validated request. Scenarios implement it.
type Source interface {
	Features(ctx context.Context, q model.FeatureQueryRequest) ([]byte, error)
	Tile(ctx context.Context, q model.TileRequest) ([]byte, error)
}

// Mount registers both data routes on r.
func Mount(r chi.Router, lg *slog.Logger, guard query.Guard, src Source) {
	r.Get(RouteFeatures, HandleFeatures(lg, guard, src))
	r.Get(RouteTile, HandleTile(lg, guard, src))
}

func HandleFeatures(lg *slog.Logger, guard query.Guard, src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, RouteFeatures, sw.code, time.Since(start).Seconds())
		}()

		q, err := ParseFeatureRequest(r)
		if err == nil {
			err = guard.CheckFeature(q)
		}
		if err != nil {
			http.Error(sw, err.Error(), http.StatusBadRequest)
			return
		}

		ctx := logger.WithTable(r.Context(), q.Tables.String())
		body, err := src.Features(ctx, q)
		writePayload(ctx, lg, sw, model.ContentTypeJSON, body, err)
	}
}

func HandleTile(lg *slog.Logger, guard query.Guard, src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, RouteTile, sw.code, time.Since(start).Seconds())
		}()

		q, err := ParseTileRequest(r)
		if err == nil {
			err = guard.CheckTile(q)
		}
		if err != nil {
			http.Error(sw, err.Error(), http.StatusBadRequest)
			return
		}

		ctx := logger.WithTable(r.Context(), q.Table.String())
		body, err := src.Tile(ctx, q)
		writePayload(ctx, lg, sw, model.ContentTypeMVT, body, err)
	}
}

// writePayload sends body with contentType, or the error text with 500.
func writePayload(ctx context.Context, lg *slog.Logger, w http.ResponseWriter, contentType string, body []byte, err error) {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			lg.DebugContext(ctx, "client went away", "err", err)
		} else {
			lg.ErrorContext(ctx, "request failed", "err", err)
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(err.Error()))
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	if _, werr := w.Write(body); werr != nil {
		lg.DebugContext(ctx, "write response", "err", werr)
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// ParseFeatureRequest reads /json/v1/{tables} and its query string.
func ParseFeatureRequest(r *http.Request) (model.FeatureQueryRequest, error) {
	tables, err := pathParam(r, "tables")
	if err != nil {
		return model.FeatureQueryRequest{}, err
	}
	qs := r.URL.Query()
	limit, err := nonNegative(qs, "limit")
	if err != nil {
		return model.FeatureQueryRequest{}, err
	}
	return model.FeatureQueryRequest{
		Tables:  model.Fragment(tables),
		Filter:  model.Fragment(qs.Get("filter")),
		Columns: model.Fragment(withDefault(qs, "columns", defaultFeatureColumns)),
		Limit:   limit,
	}, nil
}

// ParseTileRequest reads /mvt/v1/{table}/{z}/{x}/{y} and its query string.
func ParseTileRequest(r *http.Request) (model.TileRequest, error) {
	table, err := pathParam(r, "table")
	if err != nil {
		return model.TileRequest{}, err
	}
	var zxy [3]int
	for i, name := range []string{"z", "x", "y"} {
		raw, err := pathParam(r, name)
		if err != nil {
			return model.TileRequest{}, err
		}
		n, err := parseNonNegative(name, raw)
		if err != nil {
			return model.TileRequest{}, err
		}
		zxy[i] = n
	}

	qs := r.URL.Query()
	limit, err := nonNegative(qs, "limit")
	if err != nil {
		return model.TileRequest{}, err
	}
	return model.TileRequest{
		Table:      model.Fragment(table),
		Z:          zxy[0],
		X:          zxy[1],
		Y:          zxy[2],
		GeomColumn: model.Fragment(withDefault(qs, "geom_column", defaultGeomColumn)),
		Filter:     model.Fragment(qs.Get("filter")),
		Columns:    model.Fragment(withDefault(qs, "columns", defaultTileColumns)),
		Limit:      limit,
	}, nil
}

// pathParam returns the decoded path segment. chi matches on RawPath when the
// request carries one, and on the already decoded Path otherwise.
func pathParam(r *http.Request, name string) (string, error) {
	v := chi.URLParam(r, name)
	if r.URL.RawPath != "" {
		var err error
		if v, err = url.PathUnescape(v); err != nil {
			return "", fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	if strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("missing required parameter: %s", name)
	}
	return v, nil
}

// withDefault treats an absent or empty parameter as def.
func withDefault(qs url.Values, name, def string) string {
	if v := qs.Get(name); v != "" {
		return v
	}
	return def
}

func nonNegative(qs url.Values, name string) (int, error) {
	raw := strings.TrimSpace(qs.Get(name))
	if raw == "" {
		return 0, nil
	}
	return parseNonNegative(name, raw)
}

func parseNonNegative(name, raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: not an integer", name)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid %s: must be >= 0", name)
	}
	return n, nil
}
