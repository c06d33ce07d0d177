package scan

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ndt-mapping/internal/lidar/pose"
)

func TestPreprocessor_RangeBand(t *testing.T) {
	t.Parallel()

	p := NewPreprocessor(PreprocessConfig{MinScanRange: 1, MaxScanRange: 10})
	cloud := Cloud{
		Stamp: time.Unix(10, 0),
		Points: []Point{
			{X: 0.5, Y: 0},       // below
			{X: 0, Y: 0.9, Z: 5}, // below: range is planar, Z ignored
			{X: 3, Y: 4},         // kept (r=5)
			{X: 10, Y: 0},        // kept (boundary)
			{X: 8, Y: 8},         // above
			{X: math.NaN()},      // non-finite
		},
	}

	res := p.Process(cloud)
	assert.Equal(t, Stats{Input: 6, Kept: 2, BelowRange: 2, AboveRange: 1, NonFinite: 1, Voxels: 2}, res.Stats)
	assert.ElementsMatch(t, []Point{{X: 3, Y: 4}, {X: 10, Y: 0}}, res.Filtered)
	assert.ElementsMatch(t, res.Filtered, res.Downsampled)
	assert.Len(t, cloud.Points, 6, "input must not be modified")
}

func TestPreprocessor_NoUpperBound(t *testing.T) {
	t.Parallel()
	p := NewPreprocessor(PreprocessConfig{MinScanRange: 0})
	res := p.Process(Cloud{Points: []Point{{X: 500}, {X: 1}}})
	assert.Equal(t, 2, res.Stats.Kept)
}

func TestPreprocessor_Downsamples(t *testing.T) {
	t.Parallel()
	p := NewPreprocessor(PreprocessConfig{MinScanRange: 1, MaxScanRange: 100, VoxelLeafSize: 1})

	var pts []Point
	for i := 0; i < 50; i++ {
		pts = append(pts, Point{X: 5 + float64(i)*0.01, Y: 5})
	}
	res := p.Process(Cloud{Points: pts})
	require.Len(t, res.Filtered, 50)
	assert.Len(t, res.Downsampled, 1)
	assert.Equal(t, 1, res.Stats.Voxels)
}

func TestPreprocessor_Empty(t *testing.T) {
	t.Parallel()
	res := NewPreprocessor(PreprocessConfig{}).Process(Cloud{})
	assert.Empty(t, res.Filtered)
	assert.Empty(t, res.Downsampled)
}

func TestTransformPoints(t *testing.T) {
	t.Parallel()
	in := []Point{{X: 1, Intensity: 7}}
	out := TransformPoints(in, pose.Pose{X: 2, Yaw: math.Pi / 2}.Transform())
	require.Len(t, out, 1)
	assert.InDelta(t, 2, out[0].X, 1e-12)
	assert.InDelta(t, 1, out[0].Y, 1e-12)
	assert.Equal(t, float32(7), out[0].Intensity)
	assert.Equal(t, 1.0, in[0].X)
	assert.Nil(t, TransformPoints(nil, pose.Identity()))
}
