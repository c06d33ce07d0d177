package scan

import (
	"testing"
)

func TestVoxelGrid_Empty(t *testing.T) {
	result := VoxelGrid(nil, 0.1)
	if result != nil {
		t.Errorf("expected nil for empty input, got %v", result)
	}
}

func TestVoxelGrid_ZeroLeafSize(t *testing.T) {
	points := []Point{{X: 1, Y: 2, Z: 3}}
	result := VoxelGrid(points, 0)
	if len(result) != 1 {
		t.Errorf("expected passthrough for zero leaf size, got %d points", len(result))
	}
}

func TestVoxelGrid_TwoPointsSameVoxel(t *testing.T) {
	points := []Point{
		{X: 0.1, Y: 0.1, Z: 0.1, Intensity: 50},
		{X: 0.2, Y: 0.2, Z: 0.2, Intensity: 60},
	}
	result := VoxelGrid(points, 1.0)
	if len(result) != 1 {
		t.Fatalf("expected 1 point (same voxel), got %d", len(result))
	}
}

func TestVoxelGrid_NegativeCoordinates(t *testing.T) {
	// -0.5 and 0.5 fall in voxels -1 and 0 respectively.
	points := []Point{
		{X: -0.5, Y: -0.5, Z: 0.0},
		{X: 0.5, Y: 0.5, Z: 0.0},
	}
	result := VoxelGrid(points, 1.0)
	if len(result) != 2 {
		t.Errorf("expected 2 points (different voxels across origin), got %d", len(result))
	}
}

func TestVoxelGrid_PreservesClosestToCentroid(t *testing.T) {
	points := []Point{
		{X: 0.0, Y: 0.0, Z: 0.0, Intensity: 10},
		{X: 0.45, Y: 0.45, Z: 0.45, Intensity: 20},
		{X: 0.9, Y: 0.9, Z: 0.9, Intensity: 30},
	}
	result := VoxelGrid(points, 1.0)
	if len(result) != 1 {
		t.Fatalf("expected 1 point, got %d", len(result))
	}
	if result[0].Intensity != 20 {
		t.Errorf("expected point closest to centroid (intensity=20), got intensity=%v", result[0].Intensity)
	}
}

func TestVoxelGrid_Reduction(t *testing.T) {
	points := make([]Point, 100)
	for i := 0; i < 100; i++ {
		points[i] = Point{X: float64(i%10) * 0.1, Y: float64(i/10) * 0.1, Z: 0.5}
	}

	// 1m x 1m patch at 0.5m leaf -> 2x2 voxels.
	result := VoxelGrid(points, 0.5)
	if len(result) != 4 {
		t.Errorf("expected 4 output points for 0.5m voxels on 1m² area, got %d", len(result))
	}
}

func TestVoxelGrid_3DSeparation(t *testing.T) {
	points := []Point{
		{X: 0.5, Y: 0.5, Z: 0.5},
		{X: 0.5, Y: 0.5, Z: 1.5},
	}
	result := VoxelGrid(points, 1.0)
	if len(result) != 2 {
		t.Errorf("expected 2 points (different Z voxels), got %d", len(result))
	}
}
