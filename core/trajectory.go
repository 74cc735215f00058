package core

import (
	"math"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/signalsfoundry/cluster-patrol-sim/model"
	"github.com/signalsfoundry/cluster-patrol-sim/timectrl"
)

// Pattern names a patrol shape.
type Pattern string

const (
	PatternCircular    Pattern = "circular"
	PatternLinear      Pattern = "linear"
	PatternRectangular Pattern = "rectangular"
	PatternZigzag      Pattern = "zigzag"
)

const (
	circularWaypoints = 12
	zigzagSegments    = 4
	rectangleFactor   = 0.7
	zigzagAmplitude   = 0.3
)

// ParsePattern maps a free-form pattern name onto a known Pattern.
// Anything unrecognised (including "") becomes PatternZigzag.
func ParsePattern(s string) Pattern {
	switch p := Pattern(strings.ToLower(strings.TrimSpace(s))); p {
	case PatternCircular, PatternLinear, PatternRectangular:
		return p
	default:
		return PatternZigzag
	}
}

// Trajectory is a closed loop of waypoints: after the last waypoint the
// walker heads back to the first.
type Trajectory struct {
	Pattern   Pattern
	Waypoints []model.Vector
}

// GenerateTrajectory builds the waypoint loop for pattern around center.
// It is a pure function: equal inputs always give equal waypoints.
// A radius of zero collapses every waypoint onto center.
func GenerateTrajectory(pattern Pattern, center model.Vector, radius float64) Trajectory {
	pattern = ParsePattern(string(pattern))
	var wps []model.Vector

	switch pattern {
	case PatternCircular:
		wps = make([]model.Vector, 0, circularWaypoints)
		for i := 0; i < circularWaypoints; i++ {
			angle := 2.0 * math.Pi * float64(i) / circularWaypoints
			wps = append(wps, polarOffset(center, radius, angle))
		}
	case PatternLinear:
		wps = []model.Vector{
			{X: center.X - radius, Y: center.Y},
			{X: center.X + radius, Y: center.Y},
		}
	case PatternRectangular:
		h := radius * rectangleFactor
		wps = []model.Vector{
			{X: center.X - h, Y: center.Y - h},
			{X: center.X + h, Y: center.Y - h},
			{X: center.X + h, Y: center.Y + h},
			{X: center.X - h, Y: center.Y + h},
		}
	default:
		segLen := (2.0 * radius) / zigzagSegments
		wps = make([]model.Vector, 0, zigzagSegments+1)
		for i := 0; i <= zigzagSegments; i++ {
			y := center.Y - radius*zigzagAmplitude
			if i%2 == 1 {
				y = center.Y + radius*zigzagAmplitude
			}
			wps = append(wps, model.Vector{X: center.X - radius + float64(i)*segLen, Y: y})
		}
	}

	return Trajectory{Pattern: pattern, Waypoints: wps}
}

// Len returns the number of waypoints.
func (t Trajectory) Len() int { return len(t.Waypoints) }

// At returns waypoint i, wrapping around the loop.
func (t Trajectory) At(i int) model.Vector {
	n := len(t.Waypoints)
	return t.Waypoints[((i%n)+n)%n]
}

func (t Trajectory) ring() orb.Ring {
	ring := make(orb.Ring, 0, len(t.Waypoints)+1)
	for _, wp := range t.Waypoints {
		ring = append(ring, toOrbPoint(wp))
	}
	if len(t.Waypoints) > 0 {
		ring = append(ring, toOrbPoint(t.Waypoints[0]))
	}
	return ring
}

// CycleLength is the distance travelled going once around the loop,
// including the leg from the last waypoint back to the first.
func (t Trajectory) CycleLength() float64 {
	if len(t.Waypoints) < 2 {
		return 0
	}
	return planar.Length(t.ring())
}

// Bound returns the planar extent of the waypoints.
func (t Trajectory) Bound() orb.Bound {
	return t.ring().Bound()
}

// CycleTime is the simulated time a walker moving at speed needs for one
// full loop. It sums the same per-leg durations the mobility model
// schedules, so arrival times line up exactly with multiples of it.
func (t Trajectory) CycleTime(speed float64) time.Duration {
	n := len(t.Waypoints)
	if n < 2 || speed <= 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < n; i++ {
		total += legDuration(t.Waypoints[i].DistanceTo(t.At(i+1)), speed)
	}
	return total
}

// legDuration is the transit time for a straight leg.
func legDuration(dist, speed float64) time.Duration {
	if dist <= 0 || speed <= 0 {
		return 0
	}
	return timectrl.Seconds(dist / speed)
}
