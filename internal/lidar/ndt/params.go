package ndt

import (
	"fmt"
	"runtime"
)

// Params are the solver settings shared by every back end.
type Params struct {
	// Resolution is the NDT cell edge length in metres.
	Resolution float64

	// MaxIterations bounds the number of optimiser steps per Align call.
	MaxIterations int

	// StepSize is the largest parameter-space step accepted per iteration.
	StepSize float64

	// TransformEpsilon is the step length below which the optimiser is
	// considered converged.
	TransformEpsilon float64

	// OutlierRatio is the assumed fraction of outliers in the source
	// scan; it shapes the per-point score.
	OutlierRatio float64

	// Workers bounds the goroutines used by MethodCPU. Zero means
	// runtime.GOMAXPROCS(0).
	Workers int
}

// DefaultParams returns the solver defaults.
func DefaultParams() Params {
	return Params{
		Resolution:       1.0,
		MaxIterations:    30,
		StepSize:         0.1,
		TransformEpsilon: 0.01,
		OutlierRatio:     0.55,
	}
}

// Validate reports the first invalid parameter.
func (p Params) Validate() error {
	if !(p.Resolution > 0) {
		return fmt.Errorf("resolution must be positive, got %v", p.Resolution)
	}
	if p.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1, got %d", p.MaxIterations)
	}
	if !(p.StepSize > 0) {
		return fmt.Errorf("step_size must be positive, got %v", p.StepSize)
	}
	if !(p.TransformEpsilon > 0) {
		return fmt.Errorf("transform_epsilon must be positive, got %v", p.TransformEpsilon)
	}
	if !(p.OutlierRatio > 0 && p.OutlierRatio < 1) {
		return fmt.Errorf("outlier_ratio must be in (0, 1), got %v", p.OutlierRatio)
	}
	if p.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", p.Workers)
	}
	return nil
}

func (p Params) workers() int {
	if p.Workers > 0 {
		return p.Workers
	}
	return runtime.GOMAXPROCS(0)
}
