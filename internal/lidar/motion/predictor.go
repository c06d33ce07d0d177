package motion

import (
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/ndt-mapping/internal/lidar/pose"
	"github.com/banshee-data/ndt-mapping/internal/timeutil"
)

// StandardGravity is the gravity magnitude removed from world-frame IMU
// acceleration when Config.RemoveGravity is set and Config.Gravity is zero.
const StandardGravity = 9.80665

// Config selects which streams feed the predictor.
type Config struct {
	UseIMU  bool
	UseOdom bool

	// IMUUpsideDown flips every inertial sample on ingestion.
	IMUUpsideDown bool

	// RemoveGravity subtracts Gravity from the world-frame Z acceleration
	// before integration.
	RemoveGravity bool
	Gravity       float64

	// SensorTimeout is how recently (wall clock) a stream must have
	// delivered a sample to be considered healthy. Zero disables the
	// staleness check; a stream is then healthy once it has been seen.
	SensorTimeout time.Duration
}

func (c Config) gravity() float64 {
	if !c.RemoveGravity {
		return 0
	}
	if c.Gravity > 0 {
		return c.Gravity
	}
	return StandardGravity
}

// Health reports, per enabled stream, whether it is currently usable.
// Disabled streams always report false.
type Health struct {
	IMU  bool `json:"imu"`
	Odom bool `json:"odom"`
}

// Prediction is the prior for one scan cycle.
type Prediction struct {
	// Source is the source chosen by the fallback policy and Guess its pose.
	Source Source
	Guess  pose.Pose

	// Guesses holds the guess of Plain and every enabled source.
	Guesses map[Source]pose.Pose

	// Offsets holds what each source contributed to its guess.
	Offsets map[Source]Offsets

	Health Health
}

// integrator accumulates one source's offsets between scans.
type integrator struct {
	last time.Time // sensor stamp of the last integrated tick
	seen bool

	// Running orientation, rebased to the scan pose each cycle.
	roll, pitch, yaw float64

	// Running linear velocity (IMU only), rebased to the scan velocity.
	vel r3.Vec

	off Offsets
}

// tick advances the integrator's clock to stamp and returns the elapsed
// seconds. ok is false on the first sample and for stamps that do not move
// time forward, in which case nothing should be integrated.
func (g *integrator) tick(stamp time.Time) (dt float64, ok bool) {
	if !g.seen {
		g.seen = true
		g.last = stamp
		return 0, false
	}
	if !stamp.After(g.last) {
		return 0, false
	}
	dt = stamp.Sub(g.last).Seconds()
	g.last = stamp
	return dt, true
}

func (g *integrator) rotate(w r3.Vec, dt float64) {
	dr, dp, dy := w.X*dt, w.Y*dt, w.Z*dt
	g.roll += dr
	g.pitch += dp
	g.yaw += dy
	g.off.Roll += dr
	g.off.Pitch += dp
	g.off.Yaw += dy
}

// advance projects a body-frame forward distance onto the running pitch
// and yaw.
func (g *integrator) advance(distance float64) {
	g.off.X += distance * math.Cos(-g.pitch) * math.Cos(g.yaw)
	g.off.Y += distance * math.Cos(-g.pitch) * math.Sin(g.yaw)
	g.off.Z += distance * math.Sin(-g.pitch)
}

func (g *integrator) rebase(p pose.Pose, v Velocity) {
	g.roll, g.pitch, g.yaw = p.Roll, p.Pitch, p.Yaw
	g.vel = r3.Vec{X: v.X, Y: v.Y, Z: v.Z}
}

// Predictor integrates IMU and odometry samples into per-source offsets.
// All methods are safe for concurrent use.
type Predictor struct {
	cfg   Config
	clock timeutil.Clock

	mu       sync.Mutex
	imu      integrator
	odom     integrator
	combined integrator

	lastIMU      IMUSample
	lastOdom     OdomSample
	imuArrived   time.Time
	odomArrived  time.Time
	haveIMU      bool
	haveOdom     bool
	droppedTicks int
}

// NewPredictor returns a Predictor. A nil clock uses the wall clock.
func NewPredictor(cfg Config, clock timeutil.Clock) *Predictor {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Predictor{cfg: cfg, clock: clock}
}

// Config returns the predictor configuration.
func (p *Predictor) Config() Config {
	return p.cfg
}

// AddIMU folds one inertial sample into the IMU and combined integrators.
// Samples are ignored when the IMU is disabled.
func (p *Predictor) AddIMU(s IMUSample) {
	if !p.cfg.UseIMU {
		return
	}
	if p.cfg.IMUUpsideDown {
		s = s.UpsideDown()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastIMU = s
	p.haveIMU = true
	p.imuArrived = p.clock.Now()

	if dt, ok := p.imu.tick(s.Stamp); ok {
		p.integrateIMU(s, dt)
	} else if p.imu.last != s.Stamp {
		p.droppedTicks++
	}
	p.tickCombined(s.Stamp)
}

// AddOdom folds one odometry sample into the odometry and combined
// integrators. Samples are ignored when odometry is disabled.
func (p *Predictor) AddOdom(s OdomSample) {
	if !p.cfg.UseOdom {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastOdom = s
	p.haveOdom = true
	p.odomArrived = p.clock.Now()

	if dt, ok := p.odom.tick(s.Stamp); ok {
		p.odom.rotate(s.Angular, dt)
		p.odom.advance(s.Linear.X * dt)
	} else if p.odom.last != s.Stamp {
		p.droppedTicks++
	}
	p.tickCombined(s.Stamp)
}

// integrateIMU rotates the measured acceleration into the world frame
// using the running orientation (roll, then pitch, then yaw) and double
// integrates it. Caller holds p.mu.
func (p *Predictor) integrateIMU(s IMUSample, dt float64) {
	g := &p.imu
	g.rotate(s.AngularVelocity, dt)

	a := s.LinearAcceleration
	a = r3.NewRotation(g.roll, r3.Vec{X: 1}).Rotate(a)
	a = r3.NewRotation(g.pitch, r3.Vec{Y: 1}).Rotate(a)
	a = r3.NewRotation(g.yaw, r3.Vec{Z: 1}).Rotate(a)
	a.Z -= p.cfg.gravity()

	// offset += v·dt + ½·a·dt²
	step := r3.Add(r3.Scale(dt, g.vel), r3.Scale(0.5*dt*dt, a))
	g.off.X += step.X
	g.off.Y += step.Y
	g.off.Z += step.Z
	g.vel = r3.Add(g.vel, r3.Scale(dt, a))
}

// tickCombined advances the IMU+odometry integrator using the latest
// angular rate from the IMU and forward speed from odometry. It needs both
// streams to have been seen. Caller holds p.mu.
func (p *Predictor) tickCombined(stamp time.Time) {
	if !p.cfg.UseIMU || !p.cfg.UseOdom || !p.haveIMU || !p.haveOdom {
		return
	}
	dt, ok := p.combined.tick(stamp)
	if !ok {
		return
	}
	p.combined.rotate(p.lastIMU.AngularVelocity, dt)
	p.combined.advance(p.lastOdom.Linear.X * dt)
}

// Drain returns the offsets accumulated by every enabled source since the
// previous Drain and resets them to zero in the same critical section.
func (p *Predictor) Drain() map[Source]Offsets {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[Source]Offsets, 3)
	if p.cfg.UseIMU {
		out[IMU] = p.imu.off
		p.imu.off = Offsets{}
	}
	if p.cfg.UseOdom {
		out[Odom] = p.odom.off
		p.odom.off = Offsets{}
	}
	if p.cfg.UseIMU && p.cfg.UseOdom {
		out[IMUOdom] = p.combined.off
		p.combined.off = Offsets{}
	}
	return out
}

// Rebase aligns every integrator's running orientation with the pose the
// cycle settled on and resets the IMU's integrated velocity to the
// scan-derived velocity, bounding inertial drift to one scan interval.
func (p *Predictor) Rebase(current pose.Pose, vel Velocity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.imu.rebase(current, vel)
	p.odom.rebase(current, vel)
	p.combined.rebase(current, vel)
}

// Health reports which enabled streams delivered a sample within the
// configured timeout.
func (p *Predictor) Health() Health {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock.Now()
	return Health{
		IMU:  p.cfg.UseIMU && p.fresh(p.haveIMU, p.imuArrived, now),
		Odom: p.cfg.UseOdom && p.fresh(p.haveOdom, p.odomArrived, now),
	}
}

func (p *Predictor) fresh(seen bool, arrived, now time.Time) bool {
	if !seen {
		return false
	}
	if p.cfg.SensorTimeout <= 0 {
		return true
	}
	return now.Sub(arrived) <= p.cfg.SensorTimeout
}

// DroppedTicks returns how many samples arrived with a stamp older than
// the stream's previous sample and were not integrated.
func (p *Predictor) DroppedTicks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.droppedTicks
}

// Select applies the fallback policy: both streams healthy ⇒ IMUOdom,
// only one ⇒ that one, neither ⇒ Plain.
func Select(h Health) Source {
	switch {
	case h.IMU && h.Odom:
		return IMUOdom
	case h.IMU:
		return IMU
	case h.Odom:
		return Odom
	default:
		return Plain
	}
}

// Predict drains the accumulated offsets and builds the guesses for a
// scan arriving dt seconds after the previous one. Each guess is prev
// plus that source's offset; Plain extrapolates vel over dt.
//
// When dt is not positive every guess equals prev and all offsets are
// reported as zero, although the accumulators are still drained.
func (p *Predictor) Predict(prev pose.Pose, vel Velocity, dt float64) Prediction {
	drained := p.Drain()
	health := p.Health()

	pred := Prediction{
		Guesses: make(map[Source]pose.Pose, len(drained)+1),
		Offsets: make(map[Source]Offsets, len(drained)+1),
		Health:  health,
	}

	if !(dt > 0) {
		pred.Offsets[Plain] = Offsets{}
		pred.Guesses[Plain] = prev
		for s := range drained {
			pred.Offsets[s] = Offsets{}
			pred.Guesses[s] = prev
		}
	} else {
		plain := Offsets{X: vel.X * dt, Y: vel.Y * dt, Z: vel.Z * dt, Yaw: vel.Yaw * dt}
		pred.Offsets[Plain] = plain
		pred.Guesses[Plain] = prev.Add(plain.Delta())
		for s, off := range drained {
			pred.Offsets[s] = off
			pred.Guesses[s] = prev.Add(off.Delta())
		}
	}

	pred.Source = Select(health)
	if _, ok := pred.Guesses[pred.Source]; !ok {
		pred.Source = Plain
	}
	pred.Guess = pred.Guesses[pred.Source]
	return pred
}
