package main

import "math"

type Tile struct{ Z, X, Y int }

// lonLatToTile maps a WGS84 coordinate to the slippy-map tile containing it.
func lonLatToTile(lon, lat float64, z int) Tile {
	n := math.Exp2(float64(z))
	latRad := lat * math.Pi / 180
	x := int(math.Floor((lon + 180) / 360 * n))
	y := int(math.Floor((1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2 * n))
	maxIdx := int(n) - 1
	return Tile{Z: z, X: clamp(x, 0, maxIdx), Y: clamp(y, 0, maxIdx)}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// makeTilePool returns count distinct tiles spiralling out from the tile
// under (lon, lat), nearest first, so a Zipf draw favours the center.
func makeTilePool(lon, lat float64, z, count int) []Tile {
	center := lonLatToTile(lon, lat, z)
	maxIdx := (1 << z) - 1
	total := (maxIdx + 1) * (maxIdx + 1)
	if count > total {
		count = total
	}

	out := make([]Tile, 0, count)
	seen := make(map[Tile]struct{}, count)
	add := func(x, y int) {
		if x < 0 || y < 0 || x > maxIdx || y > maxIdx || len(out) >= count {
			return
		}
		t := Tile{Z: z, X: x, Y: y}
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}

	add(center.X, center.Y)
	for ring := 1; len(out) < count; ring++ {
		for dx := -ring; dx <= ring; dx++ {
			add(center.X+dx, center.Y-ring)
			add(center.X+dx, center.Y+ring)
		}
		for dy := -ring + 1; dy <= ring-1; dy++ {
			add(center.X-ring, center.Y+dy)
			add(center.X+ring, center.Y+dy)
		}
	}
	return out
}
