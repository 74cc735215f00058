package core

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/signalsfoundry/cluster-patrol-sim/model"
)

// polarOffset returns the point at distance r and angle theta (radians)
// from center, in the z=0 plane.
func polarOffset(center model.Vector, r, theta float64) model.Vector {
	return model.Vector{
		X: center.X + r*math.Cos(theta),
		Y: center.Y + r*math.Sin(theta),
		Z: 0,
	}
}

// toOrbPoint projects a position onto the plane used by the orb geometry
// helpers. Z is dropped; every waypoint lies at z=0.
func toOrbPoint(v model.Vector) orb.Point {
	return orb.Point{v.X, v.Y}
}

// withinRange reports whether two positions are close enough to be
// considered connected.
func withinRange(a, b model.Vector, maxRange float64) bool {
	return a.DistanceTo(b) <= maxRange
}
