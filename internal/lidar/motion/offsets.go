package motion

import "github.com/banshee-data/ndt-mapping/internal/lidar/pose"

// Offsets is the pose change integrated by one source since the last scan.
type Offsets struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Delta converts o for use with pose.Pose.Add.
func (o Offsets) Delta() pose.Delta {
	return pose.Delta{X: o.X, Y: o.Y, Z: o.Z, Roll: o.Roll, Pitch: o.Pitch, Yaw: o.Yaw}
}

// IsZero reports whether no motion has been accumulated.
func (o Offsets) IsZero() bool {
	return o == Offsets{}
}

// Velocity is the scan-to-scan rate of change of the body pose.
type Velocity struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Z   float64 `json:"z"`
	Yaw float64 `json:"yaw"` // rad/s
}

// VelocityBetween returns (cur − prev)/dt with a shortest-path yaw
// difference. It returns the zero velocity and false when dt is not
// positive.
func VelocityBetween(prev, cur pose.Pose, dt float64) (Velocity, bool) {
	if !(dt > 0) {
		return Velocity{}, false
	}
	d := cur.Sub(prev)
	return Velocity{X: d.X / dt, Y: d.Y / dt, Z: d.Z / dt, Yaw: d.Yaw / dt}, true
}
