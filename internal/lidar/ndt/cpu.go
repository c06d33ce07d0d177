package ndt

// newCPU returns the multi-threaded back end. Each point is scored against
// its own cell and the six face-adjacent cells, which widens the basin of
// convergence when the guess is off by a sizeable fraction of a cell.
func newCPU(params Params) *solver {
	return newSolver(MethodCPU, params, faceNeighbourhood, params.workers())
}

func faceNeighbourhood(dst []*cell, g *grid, x, y, z float64) []*cell {
	return g.neighbourhood(dst, x, y, z)
}
