package network

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/ndt-mapping/internal/lidar/motion"
	"github.com/banshee-data/ndt-mapping/internal/lidar/pose"
	"github.com/banshee-data/ndt-mapping/internal/lidar/scan"
)

// ErrMalformed is wrapped by every decode failure.
var ErrMalformed = errors.New("network: malformed payload")

// Vec3 is a JSON three-vector.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) r3() r3.Vec { return r3.Vec{X: v.X, Y: v.Y, Z: v.Z} }

// Quaternion is a JSON orientation in x, y, z, w order.
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// PointsMessage is a point cloud: each point is [x, y, z] or
// [x, y, z, intensity] in the sensor frame.
type PointsMessage struct {
	StampNs int64       `json:"stamp_ns"`
	FrameID string      `json:"frame_id"`
	Points  [][]float64 `json:"points"`
}

// IMUMessage is one inertial sample.
type IMUMessage struct {
	StampNs            int64      `json:"stamp_ns"`
	FrameID            string     `json:"frame_id,omitempty"`
	AngularVelocity    Vec3       `json:"angular_velocity"`
	LinearAcceleration Vec3       `json:"linear_acceleration"`
	Orientation        Quaternion `json:"orientation"`
}

// OdomMessage is one odometry twist.
type OdomMessage struct {
	StampNs int64  `json:"stamp_ns"`
	FrameID string `json:"frame_id,omitempty"`
	Linear  Vec3   `json:"linear"`
	Angular Vec3   `json:"angular"`
}

func stamp(ns int64) (time.Time, error) {
	if ns <= 0 {
		return time.Time{}, fmt.Errorf("%w: missing stamp_ns", ErrMalformed)
	}
	return time.Unix(0, ns), nil
}

// DecodeCloud parses a PointsMessage payload.
func DecodeCloud(payload []byte) (scan.Cloud, error) {
	var m PointsMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return scan.Cloud{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	ts, err := stamp(m.StampNs)
	if err != nil {
		return scan.Cloud{}, err
	}
	cloud := scan.Cloud{Stamp: ts, FrameID: m.FrameID, Points: make([]scan.Point, 0, len(m.Points))}
	for i, p := range m.Points {
		switch len(p) {
		case 3:
			cloud.Points = append(cloud.Points, scan.Point{X: p[0], Y: p[1], Z: p[2]})
		case 4:
			cloud.Points = append(cloud.Points, scan.Point{X: p[0], Y: p[1], Z: p[2], Intensity: float32(p[3])})
		default:
			return scan.Cloud{}, fmt.Errorf("%w: point %d has %d fields", ErrMalformed, i, len(p))
		}
	}
	return cloud, nil
}

// EncodeCloud builds the PointsMessage for points, each as [x, y, z, i].
func EncodeCloud(stamp time.Time, frameID string, points []scan.Point) PointsMessage {
	m := PointsMessage{StampNs: stamp.UnixNano(), FrameID: frameID, Points: make([][]float64, len(points))}
	for i, p := range points {
		m.Points[i] = []float64{p.X, p.Y, p.Z, float64(p.Intensity)}
	}
	return m
}

// DecodeIMU parses an IMUMessage payload.
func DecodeIMU(payload []byte) (motion.IMUSample, error) {
	var m IMUMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return motion.IMUSample{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	ts, err := stamp(m.StampNs)
	if err != nil {
		return motion.IMUSample{}, err
	}
	s := motion.IMUSample{
		Stamp:              ts,
		AngularVelocity:    m.AngularVelocity.r3(),
		LinearAcceleration: m.LinearAcceleration.r3(),
		Orientation: quat.Number{
			Real: m.Orientation.W,
			Imag: m.Orientation.X,
			Jmag: m.Orientation.Y,
			Kmag: m.Orientation.Z,
		},
	}
	if !finite(s.AngularVelocity.X, s.AngularVelocity.Y, s.AngularVelocity.Z,
		s.LinearAcceleration.X, s.LinearAcceleration.Y, s.LinearAcceleration.Z) {
		return motion.IMUSample{}, fmt.Errorf("%w: non-finite imu reading", ErrMalformed)
	}
	return s, nil
}

// DecodeOdom parses an OdomMessage payload.
func DecodeOdom(payload []byte) (motion.OdomSample, error) {
	var m OdomMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return motion.OdomSample{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	ts, err := stamp(m.StampNs)
	if err != nil {
		return motion.OdomSample{}, err
	}
	return motion.OdomSample{Stamp: ts, Linear: m.Linear.r3(), Angular: m.Angular.r3()}, nil
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// PoseMessage is the published pose of one cycle.
type PoseMessage struct {
	StampNs       int64          `json:"stamp_ns"`
	FrameID       string         `json:"frame_id"`
	ChildFrameID  string         `json:"child_frame_id"`
	SensorFrameID string         `json:"sensor_frame_id"`
	Pose          pose.Pose      `json:"pose"`
	Orientation   Quaternion     `json:"orientation"`
	Transform     pose.Transform `json:"transform"`
	SensorPose    pose.Pose      `json:"sensor_pose"`
	Source        motion.Source  `json:"source"`
	Degraded      bool           `json:"degraded"`
}

// MapMessage announces a map fusion.
type MapMessage struct {
	StampNs       int64     `json:"stamp_ns"`
	FrameID       string    `json:"frame_id"`
	AddedPose     pose.Pose `json:"added_pose"`
	FusedCount    int       `json:"fused_count"`
	MapPoints     int       `json:"map_points"`
	TargetVersion uint64    `json:"target_version"`
	TargetPoints  int       `json:"target_points"`
}

// DiagnosticsMessage is the per-cycle summary published for monitoring.
type DiagnosticsMessage struct {
	StampNs     int64           `json:"stamp_ns"`
	Seq         uint64          `json:"seq"`
	GuessSource motion.Source   `json:"guess_source"`
	Converged   bool            `json:"converged"`
	Iterations  int             `json:"iterations"`
	Fitness     float64         `json:"fitness_score"`
	TransProb   float64         `json:"transform_probability"`
	Degraded    bool            `json:"degraded"`
	Reason      string          `json:"reason,omitempty"`
	Starved     bool            `json:"starved"`
	DiffNorm    float64         `json:"diff_norm"`
	Velocity    motion.Velocity `json:"velocity"`
	Fused       bool            `json:"fused"`
	MapPoints   int             `json:"map_points"`
	MatchMs     float64         `json:"match_ms"`
	CycleMs     float64         `json:"cycle_ms"`
	Health      motion.Health   `json:"health"`
}

func quaternion(p pose.Pose) Quaternion {
	q := motion.RPYToQuat(p.Roll, p.Pitch, p.Yaw)
	return Quaternion{X: q.Imag, Y: q.Jmag, Z: q.Kmag, W: q.Real}
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
