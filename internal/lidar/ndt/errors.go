package ndt

import "errors"

var (
	// ErrNotConverged is returned when the optimiser ran out of iterations
	// or produced an invalid transform.
	ErrNotConverged = errors.New("ndt: registration did not converge")

	// ErrFitnessTooHigh is returned when the refined pose's fitness score
	// exceeds the configured acceptance threshold.
	ErrFitnessTooHigh = errors.New("ndt: fitness score above threshold")

	// ErrMatchTimeout is returned when Align did not finish within the
	// match deadline.
	ErrMatchTimeout = errors.New("ndt: match deadline exceeded")

	// ErrMatcherBusy is returned while a previously timed-out Align call is
	// still running on the back end.
	ErrMatcherBusy = errors.New("ndt: matcher busy with a stalled call")

	// ErrEmptyTarget is returned when there is nothing to register against.
	ErrEmptyTarget = errors.New("ndt: empty target")

	// ErrBackendUnavailable is returned by New for a method with no
	// implementation in this build.
	ErrBackendUnavailable = errors.New("ndt: back end unavailable")
)
