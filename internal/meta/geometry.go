package meta

import (
	"encoding/json"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

const earthRadiusMeters = 6371010.0

// Geometry is a GeoJSON geometry. Coordinates stay raw because the sources
// deliver Points, LineStrings and MultiLineStrings.
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// Coords flattens the geometry into a sequence of lon/lat pairs. For a
// MultiLineString only the first part is returned, matching how the
// enrichment pipeline samples a representative line.
func (g *Geometry) Coords() [][2]float64 {
	if g == nil || len(g.Coordinates) == 0 {
		return nil
	}
	switch g.Type {
	case "Point":
		var p [2]float64
		if err := json.Unmarshal(g.Coordinates, &p); err != nil {
			return nil
		}
		return [][2]float64{p}
	case "LineString":
		var line [][2]float64
		if err := json.Unmarshal(g.Coordinates, &line); err != nil {
			return nil
		}
		return line
	case "MultiLineString":
		var multi [][][2]float64
		if err := json.Unmarshal(g.Coordinates, &multi); err != nil || len(multi) == 0 {
			return nil
		}
		return multi[0]
	}
	return nil
}

// Measure fills the length property from the geometry. An existing
// length, e.g. carried over from a previous metadata file, is kept.
func (f *Feature) Measure() {
	if f.Properties == nil || f.Properties.Length != nil {
		return
	}
	if l := f.Geometry.LengthMeters(); l > 0 {
		f.Properties.Length = &l
	}
}

// LengthMeters computes the geodesic length of the geometry.
func (g *Geometry) LengthMeters() float64 {
	coords := g.Coords()
	if len(coords) < 2 {
		return 0
	}
	var total s1.Angle
	prev := s2.LatLngFromDegrees(coords[0][1], coords[0][0])
	for _, c := range coords[1:] {
		cur := s2.LatLngFromDegrees(c[1], c[0])
		total += prev.Distance(cur)
		prev = cur
	}
	return total.Radians() * earthRadiusMeters
}
