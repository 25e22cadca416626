// Package keys builds the result cache keys for feature and tile requests.
package keys

import (
	"strconv"
	"strings"

	"github.com/mohammed-shakir/postgis-tile-cache/internal/core/model"
)

const fieldSep = '|'

// Build joins the endpoint tag and every field into one key. Each field is
// written as <len>:<value>, so a value containing the separator can never
// shift the boundary between two fields.
func Build(tag string, fields ...string) string {
	n := len(tag)
	for _, f := range fields {
		n += len(f) + 8
	}
	var b strings.Builder
	b.Grow(n)
	b.WriteString(tag)
	for _, f := range fields {
		b.WriteByte(fieldSep)
		b.WriteString(strconv.Itoa(len(f)))
		b.WriteByte(':')
		b.WriteString(f)
	}
	return b.String()
}

// FeatureKey derives the cache key of a JSON feature request.
func FeatureKey(q model.FeatureQueryRequest) string {
	return Build(string(model.EndpointJSON),
		q.Columns.String(),
		q.Tables.String(),
		q.Filter.String(),
		strconv.Itoa(q.Limit),
	)
}

// TileKey derives the cache key of an MVT request.
func TileKey(q model.TileRequest) string {
	return Build(string(model.EndpointMVT),
		strconv.Itoa(q.X),
		strconv.Itoa(q.Y),
		strconv.Itoa(q.Z),
		q.Columns.String(),
		q.GeomColumn.String(),
		q.Table.String(),
		q.Filter.String(),
		strconv.Itoa(q.Limit),
	)
}
