package ndt

import (
	"context"
	"errors"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/banshee-data/ndt-mapping/internal/lidar/pose"
	"github.com/banshee-data/ndt-mapping/internal/lidar/scan"
)

const (
	// maxBacktracks bounds how often a rejected step is halved before the
	// optimiser declares it cannot make progress.
	maxBacktracks = 8

	// minChunk is the smallest run of source points handed to one goroutine.
	minChunk = 256
)

// associator appends the cells a point at (x,y,z) is scored against.
type associator func(dst []*cell, g *grid, x, y, z float64) []*cell

// solver is the Newton optimisation loop shared by the back ends. They
// differ in which cells a point is scored against and in how many
// goroutines evaluate the score.
type solver struct {
	method  Method
	params  Params
	fit     gaussFit
	assoc   associator
	workers int

	grid *grid
	tree *kdtree.Tree
}

func newSolver(method Method, params Params, assoc associator, workers int) *solver {
	return &solver{
		method:  method,
		params:  params,
		fit:     newGaussFit(params.Resolution, params.OutlierRatio),
		assoc:   assoc,
		workers: max(workers, 1),
	}
}

func (s *solver) Method() Method { return s.method }

func (s *solver) SetInputTarget(points []scan.Point) error {
	if len(points) == 0 {
		s.grid, s.tree = nil, nil
		return ErrEmptyTarget
	}
	g := buildGrid(points, s.params.Resolution)
	if len(g.cells) == 0 {
		s.grid, s.tree = nil, nil
		return fmt.Errorf("%d target points produced no cells at resolution %v: %w",
			len(points), s.params.Resolution, ErrEmptyTarget)
	}

	pts := make(kdtree.Points, len(points))
	for i, p := range points {
		pts[i] = kdtree.Point{p.X, p.Y, p.Z}
	}
	s.grid = g
	s.tree = kdtree.New(pts, false)
	diagf("%s: target %d points, %d cells", s.method, len(points), len(g.cells))
	return nil
}

func (s *solver) Align(ctx context.Context, source []scan.Point, guess pose.Transform) (Result, error) {
	if s.grid == nil {
		return Result{}, ErrEmptyTarget
	}
	if len(source) == 0 {
		return Result{}, errors.New("ndt: empty source")
	}

	g0 := pose.FromTransform(guess)
	x := []float64{g0.X, g0.Y, g0.Z, g0.Roll, g0.Pitch, g0.Yaw}

	x, iters, converged, err := s.minimise(ctx, source, x)
	if err != nil {
		return Result{}, err
	}

	links := s.associate(source, x)
	tf := poseAt(x).Transform()
	return Result{
		Transform:            tf,
		Converged:            converged,
		Iterations:           iters,
		FitnessScore:         s.fitness(source, tf),
		TransformProbability: s.score(source, links, x) / float64(len(source)),
	}, nil
}

// chunks splits n items into at most s.workers contiguous ranges.
func (s *solver) chunks(n int) [][2]int {
	size := max((n+s.workers-1)/s.workers, minChunk)
	var out [][2]int
	for lo := 0; lo < n; lo += size {
		out = append(out, [2]int{lo, min(lo+size, n)})
	}
	return out
}

// associate fixes, for every source point under pose x, the cells it is
// scored against. Holding these fixed while optimising keeps the
// objective smooth across cell boundaries.
func (s *solver) associate(source []scan.Point, x []float64) [][]*cell {
	tf := poseAt(x).Transform()
	links := make([][]*cell, len(source))
	s.parallel(len(source), func(lo, hi int) float64 {
		for i := lo; i < hi; i++ {
			p := source[i]
			px, py, pz := tf.Apply(p.X, p.Y, p.Z)
			links[i] = s.assoc(nil, s.grid, px, py, pz)
		}
		return 0
	})
	return links
}

// score returns the total NDT score of source under x, each point scored
// against its associated cells.
func (s *solver) score(source []scan.Point, links [][]*cell, x []float64) float64 {
	tf := poseAt(x).Transform()
	return s.parallel(len(source), func(lo, hi int) float64 {
		var sum float64
		for i := lo; i < hi; i++ {
			if len(links[i]) == 0 {
				continue
			}
			p := source[i]
			px, py, pz := tf.Apply(p.X, p.Y, p.Z)
			for _, c := range links[i] {
				sum += s.fit.score(c.mahalanobis(px, py, pz))
			}
		}
		return sum
	})
}

// parallel runs fn over [0,n) in chunks and returns the sum of its results.
func (s *solver) parallel(n int, fn func(lo, hi int) float64) float64 {
	if s.workers == 1 || n <= minChunk {
		return fn(0, n)
	}
	ranges := s.chunks(n)
	parts := make([]float64, len(ranges))

	var eg errgroup.Group
	eg.SetLimit(s.workers)
	for i, r := range ranges {
		eg.Go(func() error {
			parts[i] = fn(r[0], r[1])
			return nil
		})
	}
	_ = eg.Wait()
	return floats.Sum(parts)
}

// fitness is the mean squared nearest-neighbour distance of the aligned
// source to the target.
func (s *solver) fitness(source []scan.Point, tf pose.Transform) float64 {
	var sum float64
	for _, p := range source {
		x, y, z := tf.Apply(p.X, p.Y, p.Z)
		_, d2 := s.tree.Nearest(kdtree.Point{x, y, z})
		sum += d2
	}
	return sum / float64(len(source))
}

// minimise runs up to MaxIterations Newton steps on the negated score.
// Each iteration re-associates points with cells, builds finite-difference
// derivatives, solves for the Newton step with the Hessian forced positive
// definite, clamps the step to StepSize and halves it until the score
// improves. It converges once an accepted step is shorter than
// TransformEpsilon, or when no improving step exists because the Newton
// step itself is already that short.
func (s *solver) minimise(ctx context.Context, source []scan.Point, x []float64) ([]float64, int, bool, error) {
	n := len(x)
	grad := make([]float64, n)
	hess := mat.NewSymDense(n, nil)
	delta := make([]float64, n)
	cand := make([]float64, n)

	for iter := 1; iter <= s.params.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, iter - 1, false, err
		}

		links := s.associate(source, x)
		f := func(x []float64) float64 { return -s.score(source, links, x) }
		fx := f(x)
		if !(fx < 0) {
			// No source point lands near any target cell.
			return x, iter - 1, false, nil
		}

		fd.Gradient(grad, f, x, &fd.Settings{Formula: fd.Central})
		fd.Hessian(hess, f, x, nil)
		if !newtonStep(delta, hess, grad) {
			tracef("%s iter %d: degenerate hessian, score=%.4f", s.method, iter, -fx)
			return x, iter, false, nil
		}

		full := floats.Norm(delta, 2)
		if full > s.params.StepSize {
			floats.Scale(s.params.StepSize/full, delta)
		}

		accepted := false
		var fc float64
		for b := 0; b <= maxBacktracks; b++ {
			floats.AddTo(cand, x, delta)
			fc = f(cand)
			if fc < fx {
				accepted = true
				break
			}
			floats.Scale(0.5, delta)
		}
		if !accepted {
			converged := full < s.params.TransformEpsilon
			tracef("%s iter %d: no improving step (newton %.6f), score=%.4f converged=%t",
				s.method, iter, full, -fx, converged)
			return x, iter, converged, nil
		}

		step := floats.Norm(delta, 2)
		copy(x, cand)
		tracef("%s iter %d: score=%.4f step=%.6f", s.method, iter, -fc, step)
		if step < s.params.TransformEpsilon {
			return x, iter, true, nil
		}
	}
	return x, s.params.MaxIterations, false, nil
}

// minCurvatureRatio floors each Hessian eigenvalue magnitude at this
// fraction of the largest.
const minCurvatureRatio = 1e-6

// newtonStep writes d = −H⁻¹·g into dst, with H replaced by the positive
// definite matrix sharing its eigenvectors and the absolute values of its
// eigenvalues, so dst is always a descent direction. It reports false
// when H is degenerate or not finite.
func newtonStep(dst []float64, h *mat.SymDense, g []float64) bool {
	var eig mat.EigenSym
	if !eig.Factorize(h, true) {
		return false
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	var largest float64
	for _, v := range vals {
		largest = math.Max(largest, math.Abs(v))
	}
	if !(largest > 0) || math.IsInf(largest, 0) {
		return false
	}
	floor := largest * minCurvatureRatio

	gv := mat.NewVecDense(len(g), g)
	for i := range dst {
		dst[i] = 0
	}
	for i, lambda := range vals {
		v := vecs.ColView(i)
		coef := -mat.Dot(v, gv) / math.Max(math.Abs(lambda), floor)
		for j := range dst {
			dst[j] += coef * v.AtVec(j)
		}
	}
	return allFinite(dst)
}

func poseAt(x []float64) pose.Pose {
	return pose.Pose{X: x[0], Y: x[1], Z: x[2], Roll: x[3], Pitch: x[4], Yaw: x[5]}
}

func allFinite(x []float64) bool {
	if len(x) == 0 {
		return false
	}
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
