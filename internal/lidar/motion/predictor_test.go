package motion

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/ndt-mapping/internal/lidar/pose"
	"github.com/banshee-data/ndt-mapping/internal/timeutil"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func stamp(sec float64) time.Time {
	return t0.Add(time.Duration(sec * float64(time.Second)))
}

func newTestPredictor(cfg Config) (*Predictor, *timeutil.MockClock) {
	clock := timeutil.NewMockClock(t0)
	return NewPredictor(cfg, clock), clock
}

func TestPredict_PlainConstantVelocity(t *testing.T) {
	t.Parallel()
	p, _ := newTestPredictor(Config{})

	prev := pose.Pose{X: 1, Y: 2, Yaw: 0.1}
	pred := p.Predict(prev, Velocity{X: 2, Y: -1, Yaw: 0.5}, 0.1)

	assert.Equal(t, Plain, pred.Source)
	want := pose.Pose{X: 1.2, Y: 1.9, Yaw: 0.15}
	if diff := cmp.Diff(want, pred.Guess, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("plain guess mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, pred.Guesses, 1)
}

func TestPredict_ZeroElapsedTime(t *testing.T) {
	t.Parallel()
	p, _ := newTestPredictor(Config{UseOdom: true})
	p.AddOdom(OdomSample{Stamp: stamp(0), Linear: r3.Vec{X: 1}})
	p.AddOdom(OdomSample{Stamp: stamp(1), Linear: r3.Vec{X: 1}})

	prev := pose.Pose{X: 5, Yaw: 1}
	for _, dt := range []float64{0, -0.2, math.NaN()} {
		pred := p.Predict(prev, Velocity{X: 100}, dt)
		for src, g := range pred.Guesses {
			assert.Equal(t, prev, g, "source %v, dt %v", src, dt)
			assert.True(t, pred.Offsets[src].IsZero(), "source %v offset", src)
		}
		assert.Equal(t, prev, pred.Guess)
	}

	// The accumulated odometry was drained by the zero-dt cycle.
	pred := p.Predict(prev, Velocity{}, 0.1)
	assert.True(t, pred.Offsets[Odom].IsZero())
}

func TestOdom_StraightLine(t *testing.T) {
	t.Parallel()
	p, _ := newTestPredictor(Config{UseOdom: true})
	p.Rebase(pose.Pose{Yaw: math.Pi / 2}, Velocity{})

	for i := 0; i <= 10; i++ {
		p.AddOdom(OdomSample{Stamp: stamp(float64(i) * 0.1), Linear: r3.Vec{X: 2}})
	}
	off := p.Drain()[Odom]
	assert.InDelta(t, 0, off.X, 1e-9)
	assert.InDelta(t, 2, off.Y, 1e-9)
	assert.InDelta(t, 0, off.Z, 1e-9)

	// Drained.
	assert.True(t, p.Drain()[Odom].IsZero())
}

func TestOdom_PitchProjectsOntoZ(t *testing.T) {
	t.Parallel()
	p, _ := newTestPredictor(Config{UseOdom: true})
	p.Rebase(pose.Pose{Pitch: -math.Pi / 6}, Velocity{})

	p.AddOdom(OdomSample{Stamp: stamp(0)})
	p.AddOdom(OdomSample{Stamp: stamp(1), Linear: r3.Vec{X: 1}})
	off := p.Drain()[Odom]
	assert.InDelta(t, math.Cos(math.Pi/6), off.X, 1e-9)
	assert.InDelta(t, 0.5, off.Z, 1e-9)
}

func TestIMU_YawRateAndAcceleration(t *testing.T) {
	t.Parallel()
	p, _ := newTestPredictor(Config{UseIMU: true, RemoveGravity: true})

	// At rest the accelerometer reads +g on Z; forward push of 1 m/s².
	acc := r3.Vec{X: 1, Z: StandardGravity}
	p.AddIMU(IMUSample{Stamp: stamp(0), LinearAcceleration: acc})
	p.AddIMU(IMUSample{Stamp: stamp(1), LinearAcceleration: acc})
	p.AddIMU(IMUSample{Stamp: stamp(2), LinearAcceleration: acc})

	off := p.Drain()[IMU]
	// x = ½·a·t² over two seconds of integration.
	assert.InDelta(t, 2, off.X, 1e-9)
	assert.InDelta(t, 0, off.Z, 1e-9)

	p.AddIMU(IMUSample{Stamp: stamp(2.5), AngularVelocity: r3.Vec{Z: 0.4}})
	off = p.Drain()[IMU]
	assert.InDelta(t, 0.2, off.Yaw, 1e-12)
}

func TestIMU_AccelerationRotatedIntoWorld(t *testing.T) {
	t.Parallel()
	p, _ := newTestPredictor(Config{UseIMU: true})
	p.Rebase(pose.Pose{Yaw: math.Pi / 2}, Velocity{})

	p.AddIMU(IMUSample{Stamp: stamp(0)})
	p.AddIMU(IMUSample{Stamp: stamp(1), LinearAcceleration: r3.Vec{X: 2}})
	off := p.Drain()[IMU]
	assert.InDelta(t, 0, off.X, 1e-9)
	assert.InDelta(t, 1, off.Y, 1e-9)
}

func TestIMU_RebaseResetsVelocity(t *testing.T) {
	t.Parallel()
	p, _ := newTestPredictor(Config{UseIMU: true})

	p.AddIMU(IMUSample{Stamp: stamp(0)})
	p.AddIMU(IMUSample{Stamp: stamp(1), LinearAcceleration: r3.Vec{X: 10}})
	p.Drain()

	p.Rebase(pose.Pose{}, Velocity{X: 1})
	p.AddIMU(IMUSample{Stamp: stamp(2)})
	off := p.Drain()[IMU]
	assert.InDelta(t, 1, off.X, 1e-9, "velocity should come from the scan, not the integrated 10 m/s")
}

func TestIMU_OutOfOrderSkipped(t *testing.T) {
	t.Parallel()
	p, _ := newTestPredictor(Config{UseIMU: true})

	p.AddIMU(IMUSample{Stamp: stamp(1)})
	p.AddIMU(IMUSample{Stamp: stamp(0.5), AngularVelocity: r3.Vec{Z: 1}})
	p.AddIMU(IMUSample{Stamp: stamp(1), AngularVelocity: r3.Vec{Z: 1}})

	assert.True(t, p.Drain()[IMU].IsZero())
	assert.Equal(t, 1, p.DroppedTicks())
}

func TestIMUOdom_Combined(t *testing.T) {
	t.Parallel()
	p, _ := newTestPredictor(Config{UseIMU: true, UseOdom: true})

	p.AddIMU(IMUSample{Stamp: stamp(0), AngularVelocity: r3.Vec{Z: 0.1}})
	p.AddOdom(OdomSample{Stamp: stamp(0), Linear: r3.Vec{X: 3}})
	p.AddOdom(OdomSample{Stamp: stamp(1), Linear: r3.Vec{X: 3}})

	off := p.Drain()[IMUOdom]
	assert.InDelta(t, 0.1, off.Yaw, 1e-12)
	assert.InDelta(t, 3*math.Cos(0.1), off.X, 1e-9)
	assert.InDelta(t, 3*math.Sin(0.1), off.Y, 1e-9)
}

func TestPredict_FallbackPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		cfg        Config
		feedIMU    bool
		feedOdom   bool
		staleAfter time.Duration
		want       Source
	}{
		{"both", Config{UseIMU: true, UseOdom: true}, true, true, 0, IMUOdom},
		{"imu only configured", Config{UseIMU: true}, true, false, 0, IMU},
		{"odom only configured", Config{UseOdom: true}, false, true, 0, Odom},
		{"none configured", Config{}, false, false, 0, Plain},
		{"odom never seen", Config{UseIMU: true, UseOdom: true}, true, false, 0, IMU},
		{"imu never seen", Config{UseIMU: true, UseOdom: true}, false, true, 0, Odom},
		{"both stale", Config{UseIMU: true, UseOdom: true, SensorTimeout: time.Second}, true, true, 2 * time.Second, Plain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, clock := newTestPredictor(tt.cfg)
			if tt.feedIMU {
				p.AddIMU(IMUSample{Stamp: stamp(0)})
			}
			if tt.feedOdom {
				p.AddOdom(OdomSample{Stamp: stamp(0)})
			}
			clock.Advance(tt.staleAfter)

			pred := p.Predict(pose.Pose{}, Velocity{}, 0.1)
			assert.Equal(t, tt.want, pred.Source)
			assert.Equal(t, pred.Guesses[tt.want], pred.Guess)
		})
	}
}

func TestHealth_Staleness(t *testing.T) {
	t.Parallel()
	p, clock := newTestPredictor(Config{UseIMU: true, UseOdom: true, SensorTimeout: 500 * time.Millisecond})

	assert.Equal(t, Health{}, p.Health())
	p.AddIMU(IMUSample{Stamp: stamp(0)})
	p.AddOdom(OdomSample{Stamp: stamp(0)})
	assert.Equal(t, Health{IMU: true, Odom: true}, p.Health())

	clock.Advance(300 * time.Millisecond)
	p.AddOdom(OdomSample{Stamp: stamp(0.3)})
	clock.Advance(300 * time.Millisecond)
	assert.Equal(t, Health{IMU: false, Odom: true}, p.Health())
}

func TestPredictor_DisabledStreamsIgnored(t *testing.T) {
	t.Parallel()
	p, _ := newTestPredictor(Config{})
	p.AddIMU(IMUSample{Stamp: stamp(0)})
	p.AddOdom(OdomSample{Stamp: stamp(0)})
	assert.Empty(t, p.Drain())
	assert.Equal(t, Health{}, p.Health())
}

func TestPredictor_ConcurrentDrain(t *testing.T) {
	t.Parallel()
	p, _ := newTestPredictor(Config{UseOdom: true})

	const ticks = 1000
	var wg sync.WaitGroup
	var mu sync.Mutex
	var total float64

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i <= ticks; i++ {
			p.AddOdom(OdomSample{Stamp: stamp(float64(i) * 0.01), Linear: r3.Vec{X: 1}})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			off := p.Drain()[Odom]
			mu.Lock()
			total += off.X
			mu.Unlock()
		}
	}()
	wg.Wait()
	total += p.Drain()[Odom].X

	// Every integrated metre is observed by exactly one Drain.
	require.InDelta(t, 10, total, 1e-6)
}

func TestVelocityBetween(t *testing.T) {
	t.Parallel()
	v, ok := VelocityBetween(pose.Pose{Yaw: math.Pi - 0.1}, pose.Pose{X: 1, Yaw: -math.Pi + 0.1}, 0.5)
	require.True(t, ok)
	assert.InDelta(t, 2, v.X, 1e-12)
	assert.InDelta(t, 0.4, v.Yaw, 1e-9)

	_, ok = VelocityBetween(pose.Pose{}, pose.Pose{X: 1}, 0)
	assert.False(t, ok)
}
