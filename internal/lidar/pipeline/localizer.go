package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/ndt-mapping/internal/lidar/localmap"
	"github.com/banshee-data/ndt-mapping/internal/lidar/motion"
	"github.com/banshee-data/ndt-mapping/internal/lidar/ndt"
	"github.com/banshee-data/ndt-mapping/internal/lidar/pose"
	"github.com/banshee-data/ndt-mapping/internal/lidar/scan"
)

// Config holds the Localizer's own settings. Component settings live on
// the components themselves.
type Config struct {
	// BaseToSensor is the LiDAR's mounting pose in the body frame. It is
	// the only place body and sensor poses are converted between:
	// T_sensor = T_body · T_btol and T_body = T_sensor · T_btol⁻¹.
	BaseToSensor pose.Pose

	// InitialPose is the body pose assumed for the first scan.
	InitialPose pose.Pose

	// Frame names stamped on emitted events. Defaults: "map",
	// "base_link", "velodyne".
	MapFrame    string
	BaseFrame   string
	SensorFrame string
}

func (c Config) withDefaults() Config {
	if c.MapFrame == "" {
		c.MapFrame = "map"
	}
	if c.BaseFrame == "" {
		c.BaseFrame = "base_link"
	}
	if c.SensorFrame == "" {
		c.SensorFrame = "velodyne"
	}
	return c
}

// Diagnostics summarises the registration and fusion outcome of a cycle.
type Diagnostics struct {
	Matched    bool          `json:"matched"`
	Converged  bool          `json:"converged"`
	Iterations int           `json:"iterations"`
	Fitness    float64       `json:"fitness_score"`
	TransProb  float64       `json:"transform_probability"`
	Degraded   bool          `json:"degraded"`
	Reason     string        `json:"reason,omitempty"`
	Starved    bool          `json:"starved"`
	TargetPts  int           `json:"target_points"`
	SourcePts  int           `json:"source_points"`
	Scan       scan.Stats    `json:"scan"`
	Health     motion.Health `json:"health"`
}

// CycleResult is everything one ProcessScan call decided.
type CycleResult struct {
	Seq   uint64    `json:"seq"`
	Stamp time.Time `json:"stamp"`

	// Elapsed is the scan-to-scan time in seconds; zero on the first scan.
	Elapsed float64 `json:"elapsed"`

	Bootstrap bool `json:"bootstrap"`

	Previous   pose.Pose      `json:"previous"`
	Pose       pose.Pose      `json:"pose"`
	SensorPose pose.Pose      `json:"sensor_pose"`
	Transform  pose.Transform `json:"transform"`

	// GuessSource and Guess are the prior handed to the matcher.
	GuessSource motion.Source                    `json:"guess_source"`
	Guess       pose.Pose                        `json:"guess"`
	Guesses     map[motion.Source]pose.Pose      `json:"guesses"`
	Offsets     map[motion.Source]motion.Offsets `json:"offsets"`

	// Diffs holds, per source, the current pose minus that source's
	// previous pose. GuessDiffs holds each guess minus the previous pose,
	// the motion the source predicted. Diff is the chosen pose minus the
	// previous pose and DiffNorm its translational length.
	Diffs      map[motion.Source]pose.Delta `json:"diffs"`
	GuessDiffs map[motion.Source]pose.Delta `json:"guess_diffs"`
	Diff       pose.Delta                   `json:"diff"`
	DiffNorm   float64                      `json:"diff_norm"`

	Velocity motion.Velocity `json:"velocity"`

	Diagnostics Diagnostics `json:"diagnostics"`

	Fused     bool `json:"fused"`
	MapPoints int  `json:"map_points"`

	MatchDuration time.Duration `json:"match_duration"`
	CycleDuration time.Duration `json:"cycle_duration"`
}

// State is a consistent copy of the loop's pose roles.
type State struct {
	Seq     uint64    `json:"seq"`
	Stamp   time.Time `json:"stamp"`
	Started bool      `json:"started"`

	Pose       pose.Pose `json:"pose"`
	SensorPose pose.Pose `json:"sensor_pose"`
	NDTPose    pose.Pose `json:"ndt_pose"`
	AddedPose  pose.Pose `json:"added_pose"`

	// Current holds the pose each motion source will integrate from next.
	Current map[motion.Source]pose.Pose `json:"current"`

	Velocity motion.Velocity `json:"velocity"`

	Cycles   uint64 `json:"cycles"`
	Degraded uint64 `json:"degraded"`
	Fused    uint64 `json:"fused"`
}

// Localizer runs the per-scan cycle. ProcessScan is serialised by an
// internal lock; State may be called from any goroutine.
type Localizer struct {
	cfg  Config
	btol pose.Transform
	ltob pose.Transform

	pre       *scan.Preprocessor
	predictor *motion.Predictor
	matcher   *ndt.Adapter
	maps      *localmap.Manager
	sinks     sinks

	mu    sync.Mutex
	state State
}

// NewLocalizer wires the cycle's components. It fails if the extrinsic is
// not a rigid transform.
func NewLocalizer(cfg Config, pre *scan.Preprocessor, predictor *motion.Predictor, matcher *ndt.Adapter, maps *localmap.Manager) (*Localizer, error) {
	if pre == nil || predictor == nil || matcher == nil || maps == nil {
		return nil, errors.New("pipeline: all components are required")
	}
	cfg = cfg.withDefaults()
	btol := cfg.BaseToSensor.Transform()
	if !cfg.BaseToSensor.IsFinite() || !pose.IsValidTransform(btol) {
		return nil, fmt.Errorf("pipeline: invalid base-to-sensor extrinsic %v", cfg.BaseToSensor)
	}

	l := &Localizer{
		cfg:       cfg,
		btol:      btol,
		ltob:      btol.Inverse(),
		pre:       pre,
		predictor: predictor,
		matcher:   matcher,
		maps:      maps,
	}
	l.resetState(cfg.InitialPose)
	return l, nil
}

func (l *Localizer) resetState(p pose.Pose) {
	l.state.Pose = p
	l.state.SensorPose = l.SensorPose(p)
	l.state.NDTPose = l.state.SensorPose
	l.state.AddedPose = p
	l.state.Current = make(map[motion.Source]pose.Pose, len(motion.Sources))
	for _, s := range motion.Sources {
		l.state.Current[s] = p
	}
}

// AddSink registers s for every sink interface it implements. It returns
// an error if s implements none of them.
func (l *Localizer) AddSink(s interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.sinks.add(s) {
		return fmt.Errorf("pipeline: %T is not a sink", s)
	}
	return nil
}

// Resume continues from a previously persisted map: the loop starts at the
// map's added pose instead of the configured initial pose.
func (l *Localizer) Resume(st localmap.State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.Started {
		return errors.New("pipeline: cannot resume after the first scan")
	}
	if _, err := l.maps.Load(st.Points, st.AddedPose, st.FusedCount); err != nil && !errors.Is(err, localmap.ErrStarved) {
		return fmt.Errorf("load map: %w", err)
	}
	l.resetState(st.AddedPose)
	l.predictor.Rebase(st.AddedPose, motion.Velocity{})
	diagf("resumed at %v with %d map points", st.AddedPose, len(st.Points))
	return nil
}

// SensorPose converts a body pose to the LiDAR pose in the world frame.
func (l *Localizer) SensorPose(body pose.Pose) pose.Pose {
	return pose.FromTransform(body.Transform().Mul(l.btol))
}

// BodyPose converts a LiDAR world transform to the body pose.
func (l *Localizer) BodyPose(sensor pose.Transform) pose.Pose {
	return pose.FromTransform(sensor.Mul(l.ltob))
}

// Map returns the local map manager.
func (l *Localizer) Map() *localmap.Manager {
	return l.maps
}

// Predictor returns the motion predictor sensor callbacks feed.
func (l *Localizer) Predictor() *motion.Predictor {
	return l.predictor
}

// State returns a copy of the pose roles after the last completed cycle.
func (l *Localizer) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.state
	st.Current = make(map[motion.Source]pose.Pose, len(l.state.Current))
	for k, v := range l.state.Current {
		st.Current[k] = v
	}
	return st
}

// ProcessScan runs one localization cycle on cloud. Matcher failures
// degrade the cycle rather than failing it: the predicted guess is
// propagated and the reason reported in the result's diagnostics. The
// returned error is non-nil only when the scan could not be processed at
// all.
func (l *Localizer) ProcessScan(ctx context.Context, cloud scan.Cloud) (*CycleResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := time.Now()
	prev := l.state.Pose

	// 1. Elapsed time since the previous scan.
	var dt float64
	if l.state.Started {
		dt = cloud.Stamp.Sub(l.state.Stamp).Seconds()
		if dt <= 0 {
			diagf("scan %v not after previous %v; no motion integrated", cloud.Stamp, l.state.Stamp)
		}
	}

	// 2. Prior.
	pred := l.predictor.Predict(prev, l.state.Velocity, dt)

	res := &CycleResult{
		Seq:         l.state.Seq + 1,
		Stamp:       cloud.Stamp,
		Elapsed:     dt,
		Previous:    prev,
		GuessSource: pred.Source,
		Guess:       pred.Guess,
		Guesses:     pred.Guesses,
		Offsets:     pred.Offsets,
		Diffs:       make(map[motion.Source]pose.Delta, len(pred.Guesses)),
		GuessDiffs:  make(map[motion.Source]pose.Delta, len(pred.Guesses)),
		Velocity:    l.state.Velocity,
	}
	res.Diagnostics.Health = pred.Health
	for s, g := range pred.Guesses {
		res.GuessDiffs[s] = g.Sub(prev)
	}

	// 3. Preprocess.
	pp := l.pre.Process(cloud)
	res.Diagnostics.Scan = pp.Stats
	res.Diagnostics.SourcePts = len(pp.Downsampled)

	// 4. Match.
	guessSensor := pred.Guess.Transform().Mul(l.btol)
	sensorTF := guessSensor
	body := pred.Guess
	matched := false

	if !l.maps.Initialized() {
		res.Bootstrap = true
	} else {
		match, err := l.match(ctx, pp.Downsampled, guessSensor, res)
		res.MatchDuration = match.Duration
		if err == nil {
			sensorTF = match.Result.Transform
			body = l.BodyPose(sensorTF)
			matched = true
		} else {
			res.Diagnostics.Degraded = true
			res.Diagnostics.Reason = err.Error()
			opsf("scan %d degraded (%v): propagating %s guess", res.Seq, err, pred.Source)
		}
	}
	res.Diagnostics.Matched = matched

	// 5. Pose roles, diffs and velocity.
	res.Pose = body
	res.Transform = body.Transform()
	res.SensorPose = pose.FromTransform(sensorTF)
	res.Diff = body.Sub(prev)
	for s := range pred.Guesses {
		res.Diffs[s] = body.Sub(l.state.Current[s])
	}
	res.DiffNorm = res.Diff.Norm()
	if v, ok := motion.VelocityBetween(prev, body, dt); ok {
		res.Velocity = v
	}

	// 6. Fusion and extraction.
	upd, err := l.maps.Update(pp.Filtered, sensorTF, body, matched)
	switch {
	case errors.Is(err, localmap.ErrStarved):
		res.Diagnostics.Starved = true
	case err != nil:
		return nil, fmt.Errorf("update map: %w", err)
	}
	res.Fused = upd.Fused
	res.MapPoints = len(l.maps.Map())
	if res.Bootstrap && !upd.Fused {
		res.Diagnostics.Degraded = true
		res.Diagnostics.Reason = "no points to start the map"
	}
	if upd.Snapshot != nil {
		res.Diagnostics.TargetPts = len(upd.Snapshot.Points)
	}

	l.predictor.Rebase(body, res.Velocity)
	l.commit(res, matched)
	res.CycleDuration = time.Since(start)

	tracef("scan %d: %s guess %v -> %v (|d|=%.3f m, fused=%t, map=%d, %v)",
		res.Seq, pred.Source, pred.Guess, body, res.DiffNorm, res.Fused, res.MapPoints, res.CycleDuration)

	// 7. Events.
	l.emit(res, upd)
	return res, nil
}

// match runs the adapter against the current target snapshot and copies
// the matcher diagnostics into res.
func (l *Localizer) match(ctx context.Context, source []scan.Point, guess pose.Transform, res *CycleResult) (ndt.Match, error) {
	if len(source) == 0 {
		return ndt.Match{}, errors.New("no points left after preprocessing")
	}
	snap := l.maps.Snapshot()
	if snap == nil {
		return ndt.Match{}, ndt.ErrEmptyTarget
	}
	res.Diagnostics.TargetPts = len(snap.Points)

	m, err := l.matcher.Match(ctx, ndt.Target{Version: snap.Version, Points: snap.Points}, source, guess)
	r := m.Result
	res.Diagnostics.Converged = r.Converged
	res.Diagnostics.Iterations = r.Iterations
	res.Diagnostics.Fitness = r.FitnessScore
	res.Diagnostics.TransProb = r.TransformProbability
	return m, err
}

// commit publishes the cycle's outcome as the new loop state. Caller holds l.mu.
func (l *Localizer) commit(res *CycleResult, matched bool) {
	st := &l.state
	st.Seq = res.Seq
	st.Started = true
	if res.Elapsed > 0 || st.Stamp.IsZero() {
		st.Stamp = res.Stamp
	}
	st.Pose = res.Pose
	st.SensorPose = res.SensorPose
	if matched {
		st.NDTPose = res.SensorPose
	}
	st.AddedPose = l.maps.AddedPose()
	for _, s := range motion.Sources {
		st.Current[s] = res.Pose
	}
	st.Velocity = res.Velocity
	st.Cycles++
	if res.Diagnostics.Degraded {
		st.Degraded++
	}
	if res.Fused {
		st.Fused++
	}
}

// emit delivers the cycle's events. Sink errors are logged, never fatal.
// Caller holds l.mu, so events leave in scan order.
func (l *Localizer) emit(res *CycleResult, upd localmap.Update) {
	pe := PoseEvent{
		Stamp:         res.Stamp,
		FrameID:       l.cfg.MapFrame,
		ChildFrameID:  l.cfg.BaseFrame,
		SensorFrameID: l.cfg.SensorFrame,
		Pose:          res.Pose,
		Transform:     res.Transform,
		SensorPose:    res.SensorPose,
		Source:        res.GuessSource,
		Degraded:      res.Diagnostics.Degraded,
	}
	for _, s := range l.sinks.pose {
		if err := s.PublishPose(pe); err != nil {
			opsf("pose sink %T: %v", s, err)
		}
	}

	if res.Fused {
		me := MapEvent{
			Stamp:      res.Stamp,
			FrameID:    l.cfg.MapFrame,
			AddedPose:  l.maps.AddedPose(),
			FusedCount: l.maps.FusedCount(),
			MapPoints:  res.MapPoints,
		}
		if upd.Snapshot != nil {
			me.TargetVersion = upd.Snapshot.Version
			me.TargetPoints = len(upd.Snapshot.Points)
			me.Target = upd.Snapshot.Points
		}
		for _, s := range l.sinks.maps {
			if err := s.PublishMapUpdate(me); err != nil {
				opsf("map sink %T: %v", s, err)
			}
		}
	}

	for _, s := range l.sinks.diags {
		if err := s.PublishDiagnostics(res); err != nil {
			opsf("diagnostics sink %T: %v", s, err)
		}
	}
}
