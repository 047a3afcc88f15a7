package main

import "math"

// localProjection maps longitude and latitude onto a planar frame centered
// on (lon0, lat0), in meters. The core treats the projection as a black
// box; an equirectangular projection about the network centroid is adequate
// at the scales of a regional network.
func localProjection(lon0, lat0 float64) func(lon, lat float64) (x, y float64) {
	const earthRadius = 6371000.0
	rad := math.Pi / 180
	scale := math.Cos(lat0 * rad)
	return func(lon, lat float64) (x, y float64) {
		x = earthRadius * scale * (lon - lon0) * rad
		y = earthRadius * (lat - lat0) * rad
		return x, y
	}
}
