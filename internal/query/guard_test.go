package query

import (
	"testing"

	"github.com/mohammed-shakir/postgis-tile-cache/internal/core/model"
)

func TestGuard_DisabledAcceptsAnything(t *testing.T) {
	g := Guard{}
	q := model.FeatureQueryRequest{Tables: "parcels; DROP TABLE parcels", Columns: "*"}
	if err := g.CheckFeature(q); err != nil {
		t.Fatalf("disabled guard must not reject: %v", err)
	}
}

func TestGuard_EnabledAcceptsPlainFragments(t *testing.T) {
	g := Guard{Enabled: true}
	fq := model.FeatureQueryRequest{Tables: "public.parcels", Filter: "id=5 AND name LIKE 'A%'", Columns: "id, name", Limit: 1}
	if err := g.CheckFeature(fq); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	tq := model.TileRequest{Table: "roads", GeomColumn: "geom", Columns: "id, last_update"}
	if err := g.CheckTile(tq); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}

func TestGuard_EnabledRejectsStatementsAndComments(t *testing.T) {
	g := Guard{Enabled: true}
	cases := []model.FeatureQueryRequest{
		{Tables: "parcels; DROP TABLE parcels", Columns: "*"},
		{Tables: "parcels", Columns: "*", Filter: "1=1 -- x"},
		{Tables: "parcels", Columns: "*", Filter: "id IN (SELECT id FROM x) OR delete"},
	}
	for i, c := range cases {
		if err := g.CheckFeature(c); err == nil {
			t.Fatalf("case %d: expected rejection for %+v", i, c)
		}
	}
	if err := g.CheckTile(model.TileRequest{Table: "roads", GeomColumn: "geom)/*"}); err == nil {
		t.Fatalf("expected rejection of geom column")
	}
}
