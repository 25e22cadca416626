// Package model defines core domain types shared across the service.
package model

import "strconv"

// Fragment is a caller-supplied SQL fragment (identifier list, table
// expression or predicate). It is spliced into query text verbatim.
type Fragment string

func (f Fragment) String() string { return string(f) }

func (f Fragment) IsEmpty() bool { return f == "" }

// Endpoint discriminates the two query shapes served by the service.
type Endpoint string

const (
	EndpointJSON Endpoint = "JSON"
	EndpointMVT  Endpoint = "MVT"
)

// FeatureQueryRequest is a generic JSON feature query over one or more tables.
type FeatureQueryRequest struct {
	Tables  Fragment
	Filter  Fragment
	Columns Fragment
	Limit   int
}

// TileRequest is a Mapbox Vector Tile request for a single Z/X/Y tile.
type TileRequest struct {
	Table      Fragment
	Z, X, Y    int
	GeomColumn Fragment
	Filter     Fragment
	Columns    Fragment
	Limit      int
}

// TileID renders the tile coordinate as z/x/y.
func (t TileRequest) TileID() string {
	return strconv.Itoa(t.Z) + "/" + strconv.Itoa(t.X) + "/" + strconv.Itoa(t.Y)
}

const (
	ContentTypeJSON = "application/json"
	ContentTypeMVT  = "application/x-protobuf"
)
