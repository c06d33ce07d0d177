package scan

import "math"

type voxelKey struct {
	x, y, z int64
}

func keyFor(p Point, leaf float64) voxelKey {
	return voxelKey{
		x: int64(math.Floor(p.X / leaf)),
		y: int64(math.Floor(p.Y / leaf)),
		z: int64(math.Floor(p.Z / leaf)),
	}
}

// VoxelGrid downsamples points by keeping, for each cubic voxel of side
// leafSize, the measured point closest to the voxel's centroid. Keeping a
// real return (rather than the synthetic centroid) preserves intensity.
//
// leafSize <= 0 returns the input unchanged. Empty input returns nil.
func VoxelGrid(points []Point, leafSize float64) []Point {
	if len(points) == 0 {
		return nil
	}
	if leafSize <= 0 {
		return points
	}

	type acc struct {
		sumX, sumY, sumZ float64
		n                int
		members          []int
	}
	cells := make(map[voxelKey]*acc, len(points)/4+1)
	order := make([]voxelKey, 0, len(points)/4+1)

	for i, p := range points {
		k := keyFor(p, leafSize)
		a, ok := cells[k]
		if !ok {
			a = &acc{}
			cells[k] = a
			order = append(order, k)
		}
		a.sumX += p.X
		a.sumY += p.Y
		a.sumZ += p.Z
		a.n++
		a.members = append(a.members, i)
	}

	out := make([]Point, 0, len(cells))
	for _, k := range order {
		a := cells[k]
		cx, cy, cz := a.sumX/float64(a.n), a.sumY/float64(a.n), a.sumZ/float64(a.n)
		best := a.members[0]
		bestD := math.Inf(1)
		for _, idx := range a.members {
			p := points[idx]
			dx, dy, dz := p.X-cx, p.Y-cy, p.Z-cz
			if d := dx*dx + dy*dy + dz*dz; d < bestD {
				bestD = d
				best = idx
			}
		}
		out = append(out, points[best])
	}
	return out
}
