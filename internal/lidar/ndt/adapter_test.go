package ndt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ndt-mapping/internal/lidar/pose"
	"github.com/banshee-data/ndt-mapping/internal/lidar/scan"
)

// fakeMatcher returns a canned result. When release is non-nil Align
// ignores its context and blocks until release is closed, like a back end
// that cannot be interrupted.
type fakeMatcher struct {
	mu      sync.Mutex
	result  Result
	err     error
	release chan struct{}
	targets []uint64 // len of each SetInputTarget call
	aligns  int
}

func (f *fakeMatcher) Method() Method { return MethodReference }

func (f *fakeMatcher) SetInputTarget(points []scan.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, uint64(len(points)))
	return nil
}

func (f *fakeMatcher) Align(ctx context.Context, source []scan.Point, guess pose.Transform) (Result, error) {
	f.mu.Lock()
	f.aligns++
	release := f.release
	f.mu.Unlock()
	if release != nil {
		<-release
	}
	return f.result, f.err
}

func (f *fakeMatcher) setTargetCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.targets)
}

var (
	testSource = []scan.Point{{X: 1}, {X: 2}}
	testTarget = Target{Version: 1, Points: []scan.Point{{X: 1}, {X: 2}, {X: 3}}}
)

func goodResult() Result {
	return Result{
		Transform:            pose.Pose{X: 0.5}.Transform(),
		Converged:            true,
		Iterations:           4,
		FitnessScore:         0.05,
		TransformProbability: 2.1,
	}
}

func TestAdapter_Accepts(t *testing.T) {
	t.Parallel()
	fm := &fakeMatcher{result: goodResult()}
	a := NewAdapter(fm, AdapterConfig{MatchTimeout: time.Second, MaxFitnessScore: 1})

	m, err := a.Match(context.Background(), testTarget, testSource, pose.Identity())
	require.NoError(t, err)
	assert.Equal(t, goodResult(), m.Result)
	assert.True(t, m.TargetRebuilt)
	assert.Equal(t, MethodReference, a.Method())
}

func TestAdapter_CachesTargetByVersion(t *testing.T) {
	t.Parallel()
	fm := &fakeMatcher{result: goodResult()}
	a := NewAdapter(fm, AdapterConfig{})

	for i := 0; i < 3; i++ {
		m, err := a.Match(context.Background(), testTarget, testSource, pose.Identity())
		require.NoError(t, err)
		assert.Equal(t, i == 0, m.TargetRebuilt)
	}
	assert.Equal(t, 1, fm.setTargetCalls())

	next := Target{Version: 2, Points: testTarget.Points[:2]}
	m, err := a.Match(context.Background(), next, testSource, pose.Identity())
	require.NoError(t, err)
	assert.True(t, m.TargetRebuilt)
	assert.Equal(t, []uint64{3, 2}, fm.targets)
}

func TestAdapter_Rejections(t *testing.T) {
	t.Parallel()

	notConverged := goodResult()
	notConverged.Converged = false
	poorFit := goodResult()
	poorFit.FitnessScore = 3
	reflected := goodResult()
	reflected.Transform = pose.Transform{-1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}

	tests := []struct {
		name    string
		result  Result
		err     error
		target  Target
		wantErr error
	}{
		{"not converged", notConverged, nil, testTarget, ErrNotConverged},
		{"fitness too high", poorFit, nil, testTarget, ErrFitnessTooHigh},
		{"invalid transform", reflected, nil, testTarget, ErrNotConverged},
		{"empty target", goodResult(), nil, Target{Version: 1}, ErrEmptyTarget},
		{"backend error", Result{}, ErrEmptyTarget, testTarget, ErrEmptyTarget},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fm := &fakeMatcher{result: tt.result, err: tt.err}
			a := NewAdapter(fm, AdapterConfig{MaxFitnessScore: 1})
			_, err := a.Match(context.Background(), tt.target, testSource, pose.Identity())
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAdapter_TimeoutThenBusy(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	fm := &fakeMatcher{result: goodResult(), release: release}
	a := NewAdapter(fm, AdapterConfig{MatchTimeout: 20 * time.Millisecond})

	_, err := a.Match(context.Background(), testTarget, testSource, pose.Identity())
	require.ErrorIs(t, err, ErrMatchTimeout)

	// The stalled Align still owns the back end.
	_, err = a.Match(context.Background(), testTarget, testSource, pose.Identity())
	require.ErrorIs(t, err, ErrMatcherBusy)

	fm.mu.Lock()
	fm.release = nil
	fm.mu.Unlock()
	close(release)

	require.Eventually(t, func() bool {
		_, err := a.Match(context.Background(), testTarget, testSource, pose.Identity())
		return !errors.Is(err, ErrMatcherBusy)
	}, time.Second, 5*time.Millisecond)

	fm.mu.Lock()
	defer fm.mu.Unlock()
	assert.Equal(t, 2, fm.aligns)
}

func TestAdapter_ParentContextCancelled(t *testing.T) {
	t.Parallel()
	fm := &fakeMatcher{result: goodResult()}
	a := NewAdapter(fm, AdapterConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Match(ctx, testTarget, testSource, pose.Identity())
	// Either the canned result wins the race or the cancellation does;
	// both are non-fatal, but a cancelled parent without a deadline is
	// never reported as a match timeout.
	if err != nil {
		assert.NotErrorIs(t, err, ErrMatchTimeout)
	}
}
