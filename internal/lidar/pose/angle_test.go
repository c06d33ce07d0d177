package pose

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapToPm(t *testing.T) {
	t.Parallel()

	tests := []struct {
		x, max, want float64
	}{
		{0, math.Pi, 0},
		{math.Pi, math.Pi, math.Pi},
		{-math.Pi, math.Pi, math.Pi},
		{3 * math.Pi / 2, math.Pi, -math.Pi / 2},
		{-3 * math.Pi / 2, math.Pi, math.Pi / 2},
		{190, 180, -170},
		{-190, 180, 170},
		{540, 180, 180},
		{5, 180, 5},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, WrapToPm(tt.x, tt.max), 1e-9, "WrapToPm(%v, %v)", tt.x, tt.max)
	}
}

func TestWrapToPm_Periodic(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 2000; i++ {
		max := rng.Float64()*100 + 0.01
		x := rng.Float64()*1000 - 500
		got := WrapToPm(x+2*max, max)
		want := WrapToPm(x, max)
		assert.InDelta(t, want, got, 1e-9, "x=%v max=%v", x, max)
		assert.True(t, got > -max && got <= max, "out of range: %v (max %v)", got, max)
	}
}

func TestAngleDiff_RangeAndAntisymmetry(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(2))

	for i := 0; i < 5000; i++ {
		a := rng.Float64()*40 - 20
		b := rng.Float64()*40 - 20
		d := AngleDiff(a, b)
		assert.True(t, d > -math.Pi && d <= math.Pi, "AngleDiff(%v, %v) = %v out of range", a, b, d)
		assert.InDelta(t, -d, AngleDiff(b, a), 1e-9, "antisymmetry for %v, %v", a, b)
	}
}

func TestAngleDiff_Wraparound(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 0.2, AngleDiff(-math.Pi+0.1, math.Pi-0.1), 1e-12)
	assert.InDelta(t, -0.2, AngleDiff(math.Pi-0.1, -math.Pi+0.1), 1e-12)
	assert.InDelta(t, 0.0, AngleDiff(4*math.Pi, 0), 1e-12)
	assert.InDelta(t, math.Pi, AngleDiff(math.Pi, 0), 1e-12)
}
