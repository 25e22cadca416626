package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/postgis-tile-cache/internal/cache/memstore"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/cache/resultcache"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/core/model"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/core/router"
	"github.com/mohammed-shakir/postgis-tile-cache/internal/query"
)

type fakeGateway struct {
	textCalls   atomic.Int64
	binaryCalls atomic.Int64
	text        []byte
	binary      []byte
	err         error
	delay       time.Duration
}

func (g *fakeGateway) Text(context.Context, string) ([]byte, error) {
	g.textCalls.Add(1)
	time.Sleep(g.delay)
	if g.err != nil {
		return nil, g.err
	}
	return g.text, nil
}

func (g *fakeGateway) Binary(context.Context, string) ([]byte, error) {
	g.binaryCalls.Add(1)
	time.Sleep(g.delay)
	if g.err != nil {
		return nil, g.err
	}
	return g.binary, nil
}

func (g *fakeGateway) Ping(context.Context) error { return nil }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newEngine(gw *fakeGateway) *Engine {
	return New(discard(), gw, resultcache.New(memstore.New(), resultcache.Options{Logger: discard()}))
}

func serve(e *Engine) http.Handler {
	r := chi.NewRouter()
	router.Mount(r, discard(), query.Guard{}, e)
	return r
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func TestTwoIdenticalTileRequests_OneDatabaseCall(t *testing.T) {
	gw := &fakeGateway{binary: []byte{0x1a, 0x05, 0x0a, 0x03}}
	h := serve(newEngine(gw))

	first := get(t, h, "/mvt/v1/roads/10/5/3")
	second := get(t, h, "/mvt/v1/roads/10/5/3")

	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("status=%d,%d", first.Code, second.Code)
	}
	if gw.binaryCalls.Load() != 1 {
		t.Fatalf("gateway calls=%d want 1", gw.binaryCalls.Load())
	}
	if !bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) {
		t.Fatalf("payloads differ")
	}

	// a different tile is a different key
	_ = get(t, h, "/mvt/v1/roads/10/3/5")
	if gw.binaryCalls.Load() != 2 {
		t.Fatalf("gateway calls=%d want 2", gw.binaryCalls.Load())
	}
}

func TestConcurrentIdenticalRequests_SingleFlight(t *testing.T) {
	gw := &fakeGateway{text: []byte(`[{"id":1}]`), delay: 30 * time.Millisecond}
	h := serve(newEngine(gw))

	const k = 20
	var wg sync.WaitGroup
	bodies := make([]string, k)
	wg.Add(k)
	for i := range k {
		go func(i int) {
			defer wg.Done()
			bodies[i] = get(t, h, "/json/v1/parcels?filter=id%3D5").Body.String()
		}(i)
	}
	wg.Wait()

	if gw.textCalls.Load() != 1 {
		t.Fatalf("gateway calls=%d want 1", gw.textCalls.Load())
	}
	for i, b := range bodies {
		if b != `[{"id":1}]` {
			t.Fatalf("caller %d body=%q", i, b)
		}
	}
}

func TestJSONNull_PreservedAndCached(t *testing.T) {
	gw := &fakeGateway{text: []byte("null")}
	h := serve(newEngine(gw))
	for range 2 {
		rr := get(t, h, "/json/v1/parcels?filter=false")
		if rr.Body.String() != "null" {
			t.Fatalf("body=%q want null", rr.Body.String())
		}
	}
	if gw.textCalls.Load() != 1 {
		t.Fatalf("gateway calls=%d want 1", gw.textCalls.Load())
	}
}

func TestFailure_Returns500AndIsNotCached(t *testing.T) {
	msg := `relation "nope" does not exist`
	gw := &fakeGateway{err: errors.New(msg)}
	e := newEngine(gw)
	h := serve(e)

	rr := get(t, h, "/mvt/v1/nope/0/0/0")
	if rr.Code != http.StatusInternalServerError || rr.Body.String() != msg {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}

	gw.err = nil
	gw.binary = []byte{}
	rr = get(t, h, "/mvt/v1/nope/0/0/0")
	if rr.Code != http.StatusOK {
		t.Fatalf("retry status=%d", rr.Code)
	}
	if gw.binaryCalls.Load() != 2 {
		t.Fatalf("gateway calls=%d want 2", gw.binaryCalls.Load())
	}
}

func TestInvalidateTable_ForcesRecompute(t *testing.T) {
	gw := &fakeGateway{binary: []byte{1}, text: []byte("[]")}
	e := newEngine(gw)
	ctx := context.Background()

	roads := model.TileRequest{Table: "public.roads", Z: 1, GeomColumn: "geom"}
	parcels := model.FeatureQueryRequest{Tables: "parcels", Columns: "*"}
	_, _ = e.Tile(ctx, roads)
	_, _ = e.Features(ctx, parcels)

	if n := e.InvalidateTable("roads"); n != 1 {
		t.Fatalf("dropped=%d want 1", n)
	}
	_, _ = e.Tile(ctx, roads)
	_, _ = e.Features(ctx, parcels)
	if gw.binaryCalls.Load() != 2 || gw.textCalls.Load() != 1 {
		t.Fatalf("binary=%d text=%d", gw.binaryCalls.Load(), gw.textCalls.Load())
	}
}

func TestTagRefersTo(t *testing.T) {
	cases := []struct {
		tag, table string
		want       bool
	}{
		{"roads", "roads", true},
		{"ROADS", "roads", true},
		{"public.roads", "roads", true},
		{`"public"."roads"`, "public.roads", true},
		{"parcels, owners", "owners", true},
		{"parcels p JOIN owners o ON p.owner_id = o.id", "owners", true},
		{"main_roads", "roads", false},
		{"roads_v2", "roads", false},
		{"parcels", "", false},
	}
	for _, c := range cases {
		if got := tagRefersTo(c.tag, c.table); got != c.want {
			t.Fatalf("tagRefersTo(%q, %q)=%v want %v", c.tag, c.table, got, c.want)
		}
	}
}
