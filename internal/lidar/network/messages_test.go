package network

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/ndt-mapping/internal/lidar/scan"
)

func TestDecodeCloud(t *testing.T) {
	t.Parallel()
	payload := []byte(`{"stamp_ns": 1700000000123456789, "frame_id": "velodyne",
		"points": [[1, 2, 3], [4, 5, 6, 42]]}`)

	cloud, err := DecodeCloud(payload)
	require.NoError(t, err)
	assert.Equal(t, time.Unix(0, 1700000000123456789), cloud.Stamp)
	assert.Equal(t, "velodyne", cloud.FrameID)
	assert.Equal(t, []scan.Point{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6, Intensity: 42}}, cloud.Points)
}

func TestDecode_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		decode func([]byte) error
		in     string
	}{
		{"cloud not json", func(b []byte) error { _, err := DecodeCloud(b); return err }, `{`},
		{"cloud no stamp", func(b []byte) error { _, err := DecodeCloud(b); return err }, `{"points": []}`},
		{"cloud short point", func(b []byte) error { _, err := DecodeCloud(b); return err }, `{"stamp_ns": 1, "points": [[1, 2]]}`},
		{"imu no stamp", func(b []byte) error { _, err := DecodeIMU(b); return err }, `{"angular_velocity": {"x": 1}}`},
		{"imu wrong type", func(b []byte) error { _, err := DecodeIMU(b); return err }, `{"stamp_ns": "soon"}`},
		{"odom not json", func(b []byte) error { _, err := DecodeOdom(b); return err }, `[]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.decode([]byte(tt.in)), ErrMalformed)
		})
	}
}

func TestDecodeIMU(t *testing.T) {
	t.Parallel()
	payload := []byte(`{"stamp_ns": 2000000000,
		"angular_velocity": {"x": 0.1, "y": 0.2, "z": 0.3},
		"linear_acceleration": {"x": 0, "y": 0, "z": 9.8},
		"orientation": {"x": 0, "y": 0, "z": 0.7071067811865476, "w": 0.7071067811865476}}`)

	s, err := DecodeIMU(payload)
	require.NoError(t, err)
	assert.Equal(t, time.Unix(2, 0), s.Stamp)
	assert.Equal(t, r3.Vec{X: 0.1, Y: 0.2, Z: 0.3}, s.AngularVelocity)
	assert.Equal(t, 9.8, s.LinearAcceleration.Z)

	roll, pitch, yaw := s.RPY()
	assert.InDelta(t, 0, roll, 1e-9)
	assert.InDelta(t, 0, pitch, 1e-9)
	assert.InDelta(t, 1.5707963267948966, yaw, 1e-9)
}

func TestDecodeOdom(t *testing.T) {
	t.Parallel()
	s, err := DecodeOdom([]byte(`{"stamp_ns": 5, "linear": {"x": 1.5}, "angular": {"z": -0.2}}`))
	require.NoError(t, err)
	assert.Equal(t, time.Unix(0, 5), s.Stamp)
	assert.Equal(t, 1.5, s.Linear.X)
	assert.Equal(t, -0.2, s.Angular.Z)
}
