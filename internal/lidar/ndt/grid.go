package ndt

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/ndt-mapping/internal/lidar/scan"
)

const (
	// minPointsPerCell is the fewest target points a cell needs before its
	// covariance is trusted.
	minPointsPerCell = 5

	// minEigenRatio floors each covariance eigenvalue at this fraction of
	// the largest, keeping planar and linear cells invertible.
	minEigenRatio = 0.01
)

type cellKey struct {
	x, y, z int64
}

func keyAt(x, y, z, res float64) cellKey {
	return cellKey{
		x: int64(math.Floor(x / res)),
		y: int64(math.Floor(y / res)),
		z: int64(math.Floor(z / res)),
	}
}

// cell is one normal distribution of the target.
type cell struct {
	mean [3]float64
	icov [9]float64 // row-major inverse covariance
}

// mahalanobis returns (p−μ)ᵀ Σ⁻¹ (p−μ).
func (c *cell) mahalanobis(x, y, z float64) float64 {
	dx, dy, dz := x-c.mean[0], y-c.mean[1], z-c.mean[2]
	m := &c.icov
	return dx*(m[0]*dx+m[1]*dy+m[2]*dz) +
		dy*(m[3]*dx+m[4]*dy+m[5]*dz) +
		dz*(m[6]*dx+m[7]*dy+m[8]*dz)
}

// grid is the voxelised target.
type grid struct {
	res   float64
	cells map[cellKey]*cell
}

var faceNeighbours = [...]cellKey{
	{0, 0, 0},
	{1, 0, 0}, {-1, 0, 0},
	{0, 1, 0}, {0, -1, 0},
	{0, 0, 1}, {0, 0, -1},
}

// buildGrid groups points into cells of edge res and fits a regularised
// Gaussian to every cell holding at least minPointsPerCell points.
func buildGrid(points []scan.Point, res float64) *grid {
	buckets := make(map[cellKey][]int)
	for i, p := range points {
		k := keyAt(p.X, p.Y, p.Z, res)
		buckets[k] = append(buckets[k], i)
	}

	g := &grid{res: res, cells: make(map[cellKey]*cell, len(buckets))}
	for k, idx := range buckets {
		if len(idx) < minPointsPerCell {
			continue
		}
		if c, ok := fitCell(points, idx); ok {
			g.cells[k] = c
		}
	}
	return g
}

func fitCell(points []scan.Point, idx []int) (*cell, bool) {
	data := mat.NewDense(len(idx), 3, nil)
	for r, i := range idx {
		p := points[i]
		data.Set(r, 0, p.X)
		data.Set(r, 1, p.Y)
		data.Set(r, 2, p.Z)
	}

	c := &cell{}
	for j := 0; j < 3; j++ {
		c.mean[j] = stat.Mean(mat.Col(nil, j, data), nil)
	}

	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, data, nil)

	var eig mat.EigenSym
	if !eig.Factorize(&cov, true) {
		return nil, false
	}
	vals := eig.Values(nil)
	maxEig := math.Max(vals[0], math.Max(vals[1], vals[2]))
	if !(maxEig > 0) {
		return nil, false
	}
	floor := minEigenRatio * maxEig
	regularised := false
	for i, v := range vals {
		if v < floor {
			vals[i] = floor
			regularised = true
		}
	}
	if regularised {
		var vecs mat.Dense
		eig.VectorsTo(&vecs)
		var scaled, full mat.Dense
		scaled.Mul(&vecs, mat.NewDiagDense(3, vals))
		full.Mul(&scaled, vecs.T())
		for i := 0; i < 3; i++ {
			for j := i; j < 3; j++ {
				cov.SetSym(i, j, 0.5*(full.At(i, j)+full.At(j, i)))
			}
		}
	}

	var chol mat.Cholesky
	if !chol.Factorize(&cov) {
		return nil, false
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, false
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			c.icov[i*3+j] = inv.At(i, j)
		}
	}
	return c, true
}

func (g *grid) at(x, y, z float64) *cell {
	return g.cells[keyAt(x, y, z, g.res)]
}

// neighbourhood appends the cell containing (x,y,z) and its six face
// neighbours to dst.
func (g *grid) neighbourhood(dst []*cell, x, y, z float64) []*cell {
	k := keyAt(x, y, z, g.res)
	for _, o := range faceNeighbours {
		if c, ok := g.cells[cellKey{k.x + o.x, k.y + o.y, k.z + o.z}]; ok {
			dst = append(dst, c)
		}
	}
	return dst
}

// gaussFit holds the constants of the mixed Gaussian/uniform point score.
type gaussFit struct {
	d1, d2 float64
}

func newGaussFit(res, outlierRatio float64) gaussFit {
	c1 := 10 * (1 - outlierRatio)
	c2 := outlierRatio / (res * res * res)
	d3 := -math.Log(c2)
	d1 := -math.Log(c1+c2) - d3
	d2 := -2 * math.Log((-math.Log(c1*math.Exp(-0.5)+c2)-d3)/d1)
	return gaussFit{d1: d1, d2: d2}
}

// score returns the likelihood contribution of a point at Mahalanobis
// distance q. It is positive and largest at q = 0.
func (f gaussFit) score(q float64) float64 {
	return -f.d1 * math.Exp(-f.d2/2*q)
}
