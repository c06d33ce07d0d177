package scan

import (
	"math"
	"time"

	"github.com/banshee-data/ndt-mapping/internal/lidar/pose"
)

// Point is a single LiDAR return in Cartesian coordinates (metres).
type Point struct {
	X, Y, Z   float64
	Intensity float32
}

// Cloud is a timestamped point set expressed in FrameID.
type Cloud struct {
	Stamp   time.Time
	FrameID string
	Points  []Point
}

// PlanarRange returns the distance of p from the frame origin in the XY plane.
func (p Point) PlanarRange() float64 {
	return math.Hypot(p.X, p.Y)
}

// IsFinite reports whether all coordinates of p are finite.
func (p Point) IsFinite() bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsNaN(p.Z) &&
		!math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0) && !math.IsInf(p.Z, 0)
}

// TransformPoints returns a new slice with t applied to every point.
// The input slice is not modified.
func TransformPoints(points []Point, t pose.Transform) []Point {
	if len(points) == 0 {
		return nil
	}
	out := make([]Point, len(points))
	for i, p := range points {
		x, y, z := t.Apply(p.X, p.Y, p.Z)
		out[i] = Point{X: x, Y: y, Z: z, Intensity: p.Intensity}
	}
	return out
}
