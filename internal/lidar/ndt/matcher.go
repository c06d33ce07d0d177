package ndt

import (
	"context"
	"fmt"

	"github.com/banshee-data/ndt-mapping/internal/lidar/pose"
	"github.com/banshee-data/ndt-mapping/internal/lidar/scan"
)

// Matcher is an NDT back end. Implementations are not safe for concurrent
// use; Adapter serialises access.
type Matcher interface {
	// Method names the back end.
	Method() Method

	// SetInputTarget replaces the target the next Align registers against.
	SetInputTarget(points []scan.Point) error

	// Align refines guess so that source, transformed by the result,
	// best overlaps the target. It returns early with ctx.Err() when ctx
	// is done.
	Align(ctx context.Context, source []scan.Point, guess pose.Transform) (Result, error)
}

// Result is the outcome of one Align call.
type Result struct {
	Transform pose.Transform
	Converged bool

	// Iterations is the number of optimiser steps taken.
	Iterations int

	// FitnessScore is the mean squared distance from each aligned source
	// point to its nearest target point. Lower is better.
	FitnessScore float64

	// TransformProbability is the NDT score per source point at the
	// final transform. Higher is better.
	TransformProbability float64
}

// New constructs the back end for method.
func New(method Method, params Params) (Matcher, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ndt params: %w", err)
	}
	switch method {
	case MethodReference:
		return newReference(params), nil
	case MethodCPU:
		return newCPU(params), nil
	case MethodGPU:
		return nil, fmt.Errorf("method %q: %w", method, ErrBackendUnavailable)
	default:
		return nil, fmt.Errorf("unknown ndt method %q", method)
	}
}
