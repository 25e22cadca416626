// Package query builds the spatial SQL executed for feature and tile requests.
package query

import (
	"strconv"
	"strings"

	"github.com/mohammed-shakir/postgis-tile-cache/internal/core/model"
)

const (
	// TileExtent is the MVT coordinate space of a single tile.
	TileExtent = 4096
	// SimplifyTolerance is applied to geometries before they are clipped into a tile.
	SimplifyTolerance = "0.0005"
	// WebMercatorSRID is the planar SRS of the tile envelope.
	WebMercatorSRID = 3857
	// TileGeomAlias names the encoded geometry column inside a tile layer.
	TileGeomAlias = "geom"
)

// BuildFeatureSelect returns SELECT {columns} FROM {tables} with optional WHERE and LIMIT.
func BuildFeatureSelect(tables, filter, columns model.Fragment, limit int) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(columns.String())
	b.WriteString(" FROM ")
	b.WriteString(tables.String())
	appendClauses(&b, filter, limit)
	return b.String()
}

// BuildFeatureQuery wraps the feature select into a json_agg aggregate.
// json_agg yields NULL for zero rows; that value is passed through as-is.
func BuildFeatureQuery(tables, filter, columns model.Fragment, limit int) string {
	return "SELECT json_agg(q) FROM (" + BuildFeatureSelect(tables, filter, columns, limit) + ") AS q"
}

// BuildTileSelect returns the per-row select producing the tile-clipped geometry.
func BuildTileSelect(table model.Fragment, z, x, y int, geomColumn, filter, columns model.Fragment, limit int) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	if !columns.IsEmpty() {
		b.WriteString(columns.String())
		b.WriteString(", ")
	}
	b.WriteString("ST_AsMVTGeom(ST_Simplify(ST_Transform(")
	b.WriteString(geomColumn.String())
	b.WriteString(", ")
	b.WriteString(strconv.Itoa(WebMercatorSRID))
	b.WriteString("), ")
	b.WriteString(SimplifyTolerance)
	b.WriteString("), ST_SetSRID(ST_TileEnvelope(")
	b.WriteString(strconv.Itoa(z))
	b.WriteString(", ")
	b.WriteString(strconv.Itoa(x))
	b.WriteString(", ")
	b.WriteString(strconv.Itoa(y))
	b.WriteString("), ")
	b.WriteString(strconv.Itoa(WebMercatorSRID))
	b.WriteString("), ")
	b.WriteString(strconv.Itoa(TileExtent))
	b.WriteString(", 0, false) AS ")
	b.WriteString(TileGeomAlias)
	b.WriteString(" FROM ")
	b.WriteString(table.String())
	appendClauses(&b, filter, limit)
	return b.String()
}

// BuildTileQuery wraps the tile select into a single ST_AsMVT layer named after table.
func BuildTileQuery(table model.Fragment, z, x, y int, geomColumn, filter, columns model.Fragment, limit int) string {
	inner := BuildTileSelect(table, z, x, y, geomColumn, filter, columns, limit)
	return "SELECT ST_AsMVT(q, '" + table.String() + "', " + strconv.Itoa(TileExtent) +
		", '" + TileGeomAlias + "') FROM (" + inner + ") AS q"
}

// Feature builds the JSON query for a parsed request.
func Feature(q model.FeatureQueryRequest) string {
	return BuildFeatureQuery(q.Tables, q.Filter, q.Columns, q.Limit)
}

// Tile builds the MVT query for a parsed request.
func Tile(q model.TileRequest) string {
	return BuildTileQuery(q.Table, q.Z, q.X, q.Y, q.GeomColumn, q.Filter, q.Columns, q.Limit)
}

func appendClauses(b *strings.Builder, filter model.Fragment, limit int) {
	if !filter.IsEmpty() {
		b.WriteString(" WHERE ")
		b.WriteString(filter.String())
	}
	if limit != 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(limit))
	}
}
