// Package gateway executes fully formed spatial queries against PostgreSQL/PostGIS
// and returns the single scalar each query produces.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mohammed-shakir/postgis-tile-cache/internal/core/observability"
)

// Interface is the query engine as seen by the rest of the service.
type Interface interface {
	// Text runs a query yielding one text value; SQL NULL becomes the literal null.
	Text(ctx context.Context, query string) ([]byte, error)
	// Binary runs a query yielding one bytea value; NULL becomes an empty payload.
	Binary(ctx context.Context, query string) ([]byte, error)
	Ping(ctx context.Context) error
}

const (
	KindText   = "text"
	KindBinary = "binary"
)

// jsonNull is what a NULL text aggregate is served as; it stays distinct from "[]".
var jsonNull = []byte("null")

type Config struct {
	DSN              string
	AppName          string
	ConnectTimeout   time.Duration
	StatementTimeout time.Duration
}

// Gateway opens a fresh connection for every query and closes it before
// returning. It holds no pool.
type Gateway struct {
	logger   *slog.Logger
	connCfg  *pgx.ConnConfig
	startNow func() time.Time // for tests
}

var _ Interface = (*Gateway)(nil)

func New(logger *slog.Logger, cfg Config) (*Gateway, error) {
	cc, err := pgx.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if cfg.ConnectTimeout > 0 {
		cc.ConnectTimeout = cfg.ConnectTimeout
	}
	if cc.RuntimeParams == nil {
		cc.RuntimeParams = map[string]string{}
	}
	if cfg.AppName != "" {
		cc.RuntimeParams["application_name"] = cfg.AppName
	}
	if cfg.StatementTimeout > 0 {
		cc.RuntimeParams["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{logger: logger, connCfg: cc, startNow: time.Now}, nil
}

func (g *Gateway) Text(ctx context.Context, query string) ([]byte, error) {
	var s *string
	if err := g.scalar(ctx, KindText, query, &s); err != nil {
		return nil, err
	}
	if s == nil {
		return jsonNull, nil
	}
	return []byte(*s), nil
}

func (g *Gateway) Binary(ctx context.Context, query string) ([]byte, error) {
	var b []byte
	if err := g.scalar(ctx, KindBinary, query, &b); err != nil {
		return nil, err
	}
	if b == nil {
		b = []byte{}
	}
	return b, nil
}

func (g *Gateway) Ping(ctx context.Context) error {
	conn, err := pgx.ConnectConfig(ctx, g.connCfg)
	if err != nil {
		return &QueryError{Op: "connect", Err: err}
	}
	defer g.close(conn)
	if err := conn.Ping(ctx); err != nil {
		return &QueryError{Op: "ping", Err: err}
	}
	return nil
}

func (g *Gateway) scalar(ctx context.Context, kind, query string, dest any) (err error) {
	start := g.startNow()
	defer func() {
		observability.ObserveGatewayQuery(kind, err, time.Since(start).Seconds())
	}()

	conn, err := pgx.ConnectConfig(ctx, g.connCfg)
	if err != nil {
		return &QueryError{Op: "connect", Err: err}
	}
	defer g.close(conn)

	if err := conn.QueryRow(ctx, query).Scan(dest); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &QueryError{Op: "scan", Err: fmt.Errorf("query returned no rows: %w", err)}
		}
		g.logger.WarnContext(ctx, "gateway query failed",
			"kind", kind,
			"sqlstate", SQLState(err),
			"err", err)
		return &QueryError{Op: "query", Err: err}
	}

	g.logger.DebugContext(ctx, "gateway query done",
		"kind", kind,
		"duration", time.Since(start).String())
	return nil
}

func (g *Gateway) close(conn *pgx.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Close(ctx); err != nil {
		g.logger.Warn("close database connection", "err", err)
	}
}
