package metrics

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mohammed-shakir/postgis-tile-cache/internal/core/observability"
)

func scrape(t *testing.T, h http.Handler, path string) string {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("GET %s status=%d", path, rr.Code)
	}
	return rr.Body.String()
}

func TestInit_RuntimeCollectorsBuildInfoAndServiceMetrics(t *testing.T) {
	p := Init(Config{Build: BuildInfo{Version: "1.2.3", Revision: "abc", Branch: "main"}})
	if p.cfg.Path != "/metrics" {
		t.Fatalf("default path=%q", p.cfg.Path)
	}

	observability.IncCacheHit()
	observability.SetCacheEntries(3)

	body := scrape(t, p.Handler(), "/metrics")
	for _, want := range []string{
		"go_goroutines",
		`app_build_info{branch="main",build_date="",revision="abc",version="1.2.3"} 1`,
		`tileserver_build_info{version="1.2.3"} 1`,
		"cache_results_total{",
		"cache_entries 3",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in payload:\n%s", want, body)
		}
	}
}

func TestRegister_AddsToCustomRegistryOnly(t *testing.T) {
	p := Init(Config{})
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "tile_pool_size", Help: "test"})
	p.Register(g)
	g.Set(64)

	if n := testutil.CollectAndCount(g); n != 1 {
		t.Fatalf("samples=%d want 1", n)
	}
	if !strings.Contains(scrape(t, p.Handler(), "/metrics"), "tile_pool_size 64") {
		t.Fatalf("registered gauge not exposed")
	}
	if err := p.Registerer().Register(g); err == nil {
		t.Fatalf("second registration of the same collector should fail")
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func TestServe_ExposesConfiguredPathAndStopsOnCancel(t *testing.T) {
	addr := freeAddr(t)
	p := Init(Config{Enabled: true, Addr: addr, Path: "/internal/metrics"})
	observability.IncCacheMiss()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx, slog.New(slog.NewTextHandler(io.Discard, nil))) }()

	var body string
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/internal/metrics")
		if err == nil {
			b, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status=%d", resp.StatusCode)
			}
			body = string(b)
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("metrics listener never came up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !strings.Contains(body, `cache_results_total{outcome="miss"`) {
		t.Fatalf("service metrics missing from listener:\n%s", body)
	}

	resp, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("default path should not be served, status=%d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Serve did not stop after cancel")
	}
}
