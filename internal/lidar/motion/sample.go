package motion

import (
	"math"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// IMUSample is one inertial measurement in the IMU frame.
type IMUSample struct {
	Stamp              time.Time
	AngularVelocity    r3.Vec // rad/s about x, y, z
	LinearAcceleration r3.Vec // m/s²
	Orientation        quat.Number
}

// OdomSample is one wheel-odometry twist in the body frame.
type OdomSample struct {
	Stamp   time.Time
	Linear  r3.Vec // m/s; only X is integrated
	Angular r3.Vec // rad/s
}

// RPY returns the roll, pitch and yaw encoded by the sample's orientation.
// A zero quaternion yields zero angles.
func (s IMUSample) RPY() (roll, pitch, yaw float64) {
	return QuatToRPY(s.Orientation)
}

// UpsideDown returns s as seen by an IMU mounted the right way up: angular
// rates, accelerations and each Euler angle change sign.
func (s IMUSample) UpsideDown() IMUSample {
	roll, pitch, yaw := s.RPY()
	s.AngularVelocity = r3.Scale(-1, s.AngularVelocity)
	s.LinearAcceleration = r3.Scale(-1, s.LinearAcceleration)
	s.Orientation = RPYToQuat(-roll, -pitch, -yaw)
	return s
}

// QuatToRPY converts a unit quaternion to intrinsic Z-Y-X Euler angles,
// matching pose.Pose's rotation order.
func QuatToRPY(q quat.Number) (roll, pitch, yaw float64) {
	n := quat.Abs(q)
	if n == 0 {
		return 0, 0, 0
	}
	q = quat.Scale(1/n, q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag

	roll = math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y))
	sp := 2 * (w*y - z*x)
	switch {
	case sp >= 1:
		pitch = math.Pi / 2
	case sp <= -1:
		pitch = -math.Pi / 2
	default:
		pitch = math.Asin(sp)
	}
	yaw = math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))
	return roll, pitch, yaw
}

// RPYToQuat builds the quaternion qz(yaw)·qy(pitch)·qx(roll).
func RPYToQuat(roll, pitch, yaw float64) quat.Number {
	qx := axisAngle(roll, 1, 0, 0)
	qy := axisAngle(pitch, 0, 1, 0)
	qz := axisAngle(yaw, 0, 0, 1)
	return quat.Mul(qz, quat.Mul(qy, qx))
}

func axisAngle(angle, x, y, z float64) quat.Number {
	s, c := math.Sincos(angle / 2)
	return quat.Number{Real: c, Imag: s * x, Jmag: s * y, Kmag: s * z}
}
