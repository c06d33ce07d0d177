package ndt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/ndt-mapping/internal/lidar/pose"
	"github.com/banshee-data/ndt-mapping/internal/lidar/scan"
)

// AdapterConfig is the acceptance policy applied around a Matcher.
type AdapterConfig struct {
	// MatchTimeout bounds one Align call. Zero disables the deadline.
	MatchTimeout time.Duration

	// MaxFitnessScore rejects refined poses whose fitness score is above
	// it. Zero disables the check.
	MaxFitnessScore float64
}

// Target is a versioned target point set. The adapter only rebuilds the
// back end's target when Version changes.
type Target struct {
	Version uint64
	Points  []scan.Point
}

// Match is the adapter's report of one registration attempt.
type Match struct {
	Result   Result
	Duration time.Duration

	// TargetRebuilt is true when this call replaced the back end's target.
	TargetRebuilt bool
}

// Adapter serialises access to a Matcher, enforces the match deadline and
// applies the acceptance policy.
type Adapter struct {
	m   Matcher
	cfg AdapterConfig

	// sem holds a token while a call owns the back end. A call that timed
	// out keeps the token until Align actually returns.
	sem chan struct{}

	// Guarded by sem.
	version    uint64
	haveTarget bool
}

// NewAdapter wraps m.
func NewAdapter(m Matcher, cfg AdapterConfig) *Adapter {
	return &Adapter{m: m, cfg: cfg, sem: make(chan struct{}, 1)}
}

// Method reports the wrapped back end.
func (a *Adapter) Method() Method {
	return a.m.Method()
}

type alignOutcome struct {
	res     Result
	rebuilt bool
	err     error
}

// Match registers source against target starting from guess (a sensor
// frame transform). The returned Match carries diagnostics even when the
// error is non-nil; callers must not use Match.Result.Transform unless
// the error is nil.
func (a *Adapter) Match(ctx context.Context, target Target, source []scan.Point, guess pose.Transform) (Match, error) {
	if len(target.Points) == 0 {
		return Match{}, ErrEmptyTarget
	}

	select {
	case a.sem <- struct{}{}:
	default:
		return Match{}, ErrMatcherBusy
	}

	if a.cfg.MatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.MatchTimeout)
		defer cancel()
	}

	start := time.Now()
	done := make(chan alignOutcome, 1)
	go func() {
		defer func() { <-a.sem }()

		var out alignOutcome
		if !a.haveTarget || a.version != target.Version {
			if err := a.m.SetInputTarget(target.Points); err != nil {
				a.haveTarget = false
				out.err = fmt.Errorf("set target v%d: %w", target.Version, err)
				done <- out
				return
			}
			a.version, a.haveTarget = target.Version, true
			out.rebuilt = true
		}
		out.res, out.err = a.m.Align(ctx, source, guess)
		done <- out
	}()

	select {
	case out := <-done:
		m := Match{Result: out.res, Duration: time.Since(start), TargetRebuilt: out.rebuilt}
		if out.err != nil {
			if errors.Is(out.err, context.DeadlineExceeded) {
				return m, fmt.Errorf("%w after %v", ErrMatchTimeout, m.Duration)
			}
			return m, fmt.Errorf("align: %w", out.err)
		}
		return m, a.accept(m)
	case <-ctx.Done():
		d := time.Since(start)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			opsf("%s: match exceeded deadline after %v; back end still running", a.m.Method(), d)
			return Match{Duration: d}, fmt.Errorf("%w after %v", ErrMatchTimeout, d)
		}
		return Match{Duration: d}, fmt.Errorf("match cancelled: %w", ctx.Err())
	}
}

func (a *Adapter) accept(m Match) error {
	r := m.Result
	diagf("%s: converged=%t iter=%d fitness=%.4f prob=%.4f in %v",
		a.m.Method(), r.Converged, r.Iterations, r.FitnessScore, r.TransformProbability, m.Duration)

	if !r.Converged {
		return fmt.Errorf("%w after %d iterations", ErrNotConverged, r.Iterations)
	}
	if !pose.IsValidTransform(r.Transform) {
		return fmt.Errorf("%w: refined transform is not rigid", ErrNotConverged)
	}
	if a.cfg.MaxFitnessScore > 0 && r.FitnessScore > a.cfg.MaxFitnessScore {
		return fmt.Errorf("%w: %.4f > %.4f", ErrFitnessTooHigh, r.FitnessScore, a.cfg.MaxFitnessScore)
	}
	return nil
}
