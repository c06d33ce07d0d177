package motion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestQuatRPYRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct{ roll, pitch, yaw float64 }{
		{0, 0, 0},
		{0.1, -0.2, 0.3},
		{-1.2, 0.7, 2.9},
		{math.Pi / 3, -math.Pi / 5, -math.Pi / 2},
	}
	for _, tt := range tests {
		q := RPYToQuat(tt.roll, tt.pitch, tt.yaw)
		assert.InDelta(t, 1, quat.Abs(q), 1e-12)
		r, p, y := QuatToRPY(q)
		assert.InDelta(t, tt.roll, r, 1e-9)
		assert.InDelta(t, tt.pitch, p, 1e-9)
		assert.InDelta(t, tt.yaw, y, 1e-9)
	}
}

func TestQuatToRPY_ZeroQuaternion(t *testing.T) {
	t.Parallel()
	r, p, y := QuatToRPY(quat.Number{})
	assert.Zero(t, r)
	assert.Zero(t, p)
	assert.Zero(t, y)
}

func TestIMUSample_UpsideDown(t *testing.T) {
	t.Parallel()
	s := IMUSample{
		AngularVelocity:    r3.Vec{X: 0.1, Y: -0.2, Z: 0.3},
		LinearAcceleration: r3.Vec{X: 1, Y: 2, Z: -9.8},
		Orientation:        RPYToQuat(0.2, -0.1, 1.0),
	}
	u := s.UpsideDown()
	assert.Equal(t, r3.Vec{X: -0.1, Y: 0.2, Z: -0.3}, u.AngularVelocity)
	assert.Equal(t, r3.Vec{X: -1, Y: -2, Z: 9.8}, u.LinearAcceleration)

	r, p, y := u.RPY()
	assert.InDelta(t, -0.2, r, 1e-9)
	assert.InDelta(t, 0.1, p, 1e-9)
	assert.InDelta(t, -1.0, y, 1e-9)
}

func TestParseSource(t *testing.T) {
	t.Parallel()
	for _, s := range Sources {
		got, err := ParseSource(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseSource("gps")
	assert.Error(t, err)

	var s Source
	require.NoError(t, s.UnmarshalText([]byte("IMU_ODOM")))
	assert.Equal(t, IMUOdom, s)
}
