package pose

import (
	"fmt"
	"math"
)

// Pose is a 6-DOF pose: translation in metres, Euler angles in radians.
type Pose struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Delta is a per-axis difference between two poses. Angular components
// are shortest-path differences (see AngleDiff).
type Delta struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Transform returns T = Translate(x,y,z) · Rz(yaw) · Ry(pitch) · Rx(roll).
// The rotation order matters; matching accuracy under rotation depends on
// every producer and consumer agreeing on it.
func (p Pose) Transform() Transform {
	sr, cr := math.Sincos(p.Roll)
	sp, cp := math.Sincos(p.Pitch)
	sy, cy := math.Sincos(p.Yaw)

	return Transform{
		cy * cp, cy*sp*sr - sy*cr, cy*sp*cr + sy*sr, p.X,
		sy * cp, sy*sp*sr + cy*cr, sy*sp*cr - cy*sr, p.Y,
		-sp, cp * sr, cp * cr, p.Z,
		0, 0, 0, 1,
	}
}

// FromTransform extracts the pose from T, inverting Pose.Transform.
// At gimbal lock (|pitch| = π/2) roll is fixed to zero and the remaining
// rotation is folded into yaw.
func FromTransform(t Transform) Pose {
	p := Pose{X: t[3], Y: t[7], Z: t[11]}

	r00, r10, r20 := t[0], t[4], t[8]
	r21, r22 := t[9], t[10]

	horiz := math.Hypot(r00, r10)
	p.Pitch = math.Atan2(-r20, horiz)
	if horiz < 1e-9 {
		p.Roll = 0
		p.Yaw = math.Atan2(-t[1], t[5])
		return p
	}
	p.Roll = math.Atan2(r21, r22)
	p.Yaw = math.Atan2(r10, r00)
	return p
}

// Compose returns the pose of b expressed through a: FromTransform(a·b).
func Compose(a, b Pose) Pose {
	return FromTransform(a.Transform().Mul(b.Transform()))
}

// Add returns p with d added component-wise; angles are wrapped into (−π, π].
func (p Pose) Add(d Delta) Pose {
	return Pose{
		X:     p.X + d.X,
		Y:     p.Y + d.Y,
		Z:     p.Z + d.Z,
		Roll:  WrapToPmPi(p.Roll + d.Roll),
		Pitch: WrapToPmPi(p.Pitch + d.Pitch),
		Yaw:   WrapToPmPi(p.Yaw + d.Yaw),
	}
}

// Sub returns p − o per axis with shortest-path angular differences.
func (p Pose) Sub(o Pose) Delta {
	return Delta{
		X:     p.X - o.X,
		Y:     p.Y - o.Y,
		Z:     p.Z - o.Z,
		Roll:  AngleDiff(p.Roll, o.Roll),
		Pitch: AngleDiff(p.Pitch, o.Pitch),
		Yaw:   AngleDiff(p.Yaw, o.Yaw),
	}
}

// Scale multiplies every component of d by s.
func (d Delta) Scale(s float64) Delta {
	return Delta{
		X: d.X * s, Y: d.Y * s, Z: d.Z * s,
		Roll: d.Roll * s, Pitch: d.Pitch * s, Yaw: d.Yaw * s,
	}
}

// Norm returns the translational magnitude of d.
func (d Delta) Norm() float64 {
	return math.Sqrt(d.X*d.X + d.Y*d.Y + d.Z*d.Z)
}

// Distance returns the 3-D translational distance between p and o.
func (p Pose) Distance(o Pose) float64 {
	return p.Sub(o).Norm()
}

// PlanarDistance returns the distance between p and o in the XY plane.
func (p Pose) PlanarDistance(o Pose) float64 {
	return math.Hypot(p.X-o.X, p.Y-o.Y)
}

// IsFinite reports whether every component of p is a finite number.
func (p Pose) IsFinite() bool {
	for _, v := range [6]float64{p.X, p.Y, p.Z, p.Roll, p.Pitch, p.Yaw} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (p Pose) String() string {
	return fmt.Sprintf("(%.3f, %.3f, %.3f | r=%.4f p=%.4f y=%.4f)",
		p.X, p.Y, p.Z, p.Roll, p.Pitch, p.Yaw)
}
