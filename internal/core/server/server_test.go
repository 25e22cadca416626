package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammed-shakir/postgis-tile-cache/internal/core/config"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/core/model"
)

type stubSource struct{}

func (stubSource) Features(context.Context, model.FeatureQueryRequest) ([]byte, error) {
	return []byte("[]"), nil
}

func (stubSource) Tile(_ context.Context, q model.TileRequest) ([]byte, error) {
	if q.Table == "boom" {
		panic("driver exploded")
	}
	return []byte{}, nil
}

type stubDB struct{ err error }

func (s stubDB) Ping(context.Context) error { return s.err }

func newTestServer(t *testing.T, db stubDB) *httptest.Server {
	t.Helper()
	cfg, err := config.Load(nil)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	ts := httptest.NewServer(NewHandler(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), stubSource{}, db))
	t.Cleanup(ts.Close)
	return ts
}

func fetch(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, string(b)
}

func TestRoutes(t *testing.T) {
	ts := newTestServer(t, stubDB{})

	cases := []struct {
		path string
		code int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusOK},
		{"/json/v1/parcels", http.StatusOK},
		{"/mvt/v1/roads/0/0/0", http.StatusOK},
		{"/mvt/v1/roads/0/0", http.StatusNotFound},
		{"/mvt/v1/boom/0/0/0", http.StatusInternalServerError},
	}
	for _, c := range cases {
		resp, body := fetch(t, ts.URL+c.path)
		if resp.StatusCode != c.code {
			t.Fatalf("%s: status=%d want %d body=%q", c.path, resp.StatusCode, c.code, body)
		}
		if resp.Header.Get("X-Request-ID") == "" {
			t.Fatalf("%s: missing request id", c.path)
		}
	}

	resp, body := fetch(t, ts.URL+"/metrics")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "http_requests_total") {
		t.Fatalf("metrics endpoint: %d", resp.StatusCode)
	}
}

func TestReadyz_DatabaseDown(t *testing.T) {
	ts := newTestServer(t, stubDB{err: errors.New("dial tcp: connection refused")})
	resp, body := fetch(t, ts.URL+"/readyz")
	if resp.StatusCode != http.StatusServiceUnavailable || !strings.Contains(body, "connection refused") {
		t.Fatalf("status=%d body=%q", resp.StatusCode, body)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg, err := config.Load([]string{"--addr", "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), stubSource{}, stubDB{})
	}()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}
