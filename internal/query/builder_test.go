package query

import (
	"strings"
	"testing"

	"github.com/mohammed-shakir/postgis-tile-cache/internal/core/model"
)

func TestBuildFeatureQuery_NoFilterNoLimit(t *testing.T) {
	got := BuildFeatureQuery("parcels", "", "*", 0)
	want := "SELECT json_agg(q) FROM (SELECT * FROM parcels) AS q"
	if got != want {
		t.Fatalf("got  %q\nwant %q", got, want)
	}
}

func TestBuildFeatureQuery_FilterAndLimit(t *testing.T) {
	got := BuildFeatureQuery("parcels", "id=5", "*", 10)
	want := "SELECT json_agg(q) FROM (SELECT * FROM parcels WHERE id=5 LIMIT 10) AS q"
	if got != want {
		t.Fatalf("got  %q\nwant %q", got, want)
	}
}

func TestBuildFeatureQuery_LimitOnly(t *testing.T) {
	got := BuildFeatureQuery("parcels", "", "id, name", 3)
	want := "SELECT json_agg(q) FROM (SELECT id, name FROM parcels LIMIT 3) AS q"
	if got != want {
		t.Fatalf("got  %q\nwant %q", got, want)
	}
}

func TestBuildTileQuery_Roads(t *testing.T) {
	got := BuildTileQuery("roads", 10, 5, 3, "geom", "", "", 0)
	want := "SELECT ST_AsMVT(q, 'roads', 4096, 'geom') FROM (" +
		"SELECT ST_AsMVTGeom(ST_Simplify(ST_Transform(geom, 3857), 0.0005), " +
		"ST_SetSRID(ST_TileEnvelope(10, 5, 3), 3857), 4096, 0, false) AS geom FROM roads) AS q"
	if got != want {
		t.Fatalf("got  %q\nwant %q", got, want)
	}
}

func TestBuildTileQuery_ColumnsFilterLimit(t *testing.T) {
	got := BuildTileQuery("roads", 12, 2200, 1343, "the_geom", "kind='primary'", "id, kind", 500)

	if !strings.HasPrefix(got, "SELECT ST_AsMVT(q, 'roads', 4096, 'geom') FROM (SELECT id, kind, ST_AsMVTGeom(") {
		t.Fatalf("columns must precede the geometry expression: %q", got)
	}
	if !strings.Contains(got, "ST_Transform(the_geom, 3857)") {
		t.Fatalf("geometry column not used: %q", got)
	}
	if !strings.Contains(got, "ST_TileEnvelope(12, 2200, 1343)") {
		t.Fatalf("tile envelope missing: %q", got)
	}
	if !strings.HasSuffix(got, " FROM roads WHERE kind='primary' LIMIT 500) AS q") {
		t.Fatalf("where/limit clauses missing: %q", got)
	}
}

func TestBuilders_ArePure(t *testing.T) {
	f1 := BuildFeatureQuery("a JOIN b USING (id)", "x > 1", "a.*", 7)
	f2 := BuildFeatureQuery("a JOIN b USING (id)", "x > 1", "a.*", 7)
	if f1 != f2 {
		t.Fatalf("feature builder not deterministic")
	}
	t1 := BuildTileQuery("roads", 3, 1, 2, "geom", "x > 1", "id", 9)
	t2 := BuildTileQuery("roads", 3, 1, 2, "geom", "x > 1", "id", 9)
	if t1 != t2 {
		t.Fatalf("tile builder not deterministic")
	}
}

func TestRequestHelpers_MatchBuilders(t *testing.T) {
	fq := model.FeatureQueryRequest{Tables: "parcels", Filter: "id=5", Columns: "*", Limit: 10}
	if Feature(fq) != BuildFeatureQuery("parcels", "id=5", "*", 10) {
		t.Fatalf("Feature mismatch")
	}
	tq := model.TileRequest{Table: "roads", Z: 1, X: 0, Y: 1, GeomColumn: "geom"}
	if Tile(tq) != BuildTileQuery("roads", 1, 0, 1, "geom", "", "", 0) {
		t.Fatalf("Tile mismatch")
	}
}
