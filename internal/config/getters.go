package config

import (
	"time"

	"github.com/banshee-data/ndt-mapping/internal/lidar/ndt"
)

func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def // default on parse error
	}
	return d
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func stringOr(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}

// GetMapFrame returns the map_frame value or the default.
func (c *LocalizerConfig) GetMapFrame() string { return stringOr(c.MapFrame, "map") }

// GetBaseFrame returns the base_frame value or the default.
func (c *LocalizerConfig) GetBaseFrame() string { return stringOr(c.BaseFrame, "base_link") }

// GetSensorFrame returns the sensor_frame value or the default.
func (c *LocalizerConfig) GetSensorFrame() string { return stringOr(c.SensorFrame, "velodyne") }

// GetUseIMU returns the use_imu value or the default.
func (c *LocalizerConfig) GetUseIMU() bool { return boolOr(c.UseIMU, false) }

// GetUseOdom returns the use_odom value or the default.
func (c *LocalizerConfig) GetUseOdom() bool { return boolOr(c.UseOdom, false) }

// GetIMUUpsideDown returns the imu_upside_down value or the default.
func (c *LocalizerConfig) GetIMUUpsideDown() bool { return boolOr(c.IMUUpsideDown, false) }

// GetRemoveGravity returns the remove_gravity value or the default.
func (c *LocalizerConfig) GetRemoveGravity() bool { return boolOr(c.RemoveGravity, true) }

// GetSensorTimeout parses and returns the SensorTimeout as a time.Duration.
func (c *LocalizerConfig) GetSensorTimeout() time.Duration {
	return durationOr(c.SensorTimeout, time.Second)
}

// GetMinScanRange returns the min_scan_range value or the default.
func (c *LocalizerConfig) GetMinScanRange() float64 { return floatOr(c.MinScanRange, 5.0) }

// GetMaxScanRange returns the max_scan_range value or the default.
func (c *LocalizerConfig) GetMaxScanRange() float64 { return floatOr(c.MaxScanRange, 200.0) }

// GetVoxelLeafSize returns the voxel_leaf_size value or the default.
func (c *LocalizerConfig) GetVoxelLeafSize() float64 { return floatOr(c.VoxelLeafSize, 2.0) }

// GetMethod returns the method value or the default.
func (c *LocalizerConfig) GetMethod() string {
	return stringOr(c.Method, ndt.MethodReference.String())
}

// GetResolution returns the resolution value or the default.
func (c *LocalizerConfig) GetResolution() float64 {
	return floatOr(c.Resolution, ndt.DefaultParams().Resolution)
}

// GetStepSize returns the step_size value or the default.
func (c *LocalizerConfig) GetStepSize() float64 {
	return floatOr(c.StepSize, ndt.DefaultParams().StepSize)
}

// GetTransEpsilon returns the trans_epsilon value or the default.
func (c *LocalizerConfig) GetTransEpsilon() float64 {
	return floatOr(c.TransEpsilon, ndt.DefaultParams().TransformEpsilon)
}

// GetMaxIterations returns the max_iterations value or the default.
func (c *LocalizerConfig) GetMaxIterations() int {
	return intOr(c.MaxIterations, ndt.DefaultParams().MaxIterations)
}

// GetOutlierRatio returns the outlier_ratio value or the default.
func (c *LocalizerConfig) GetOutlierRatio() float64 {
	return floatOr(c.OutlierRatio, ndt.DefaultParams().OutlierRatio)
}

// GetWorkers returns the workers value or the default (0: one per CPU).
func (c *LocalizerConfig) GetWorkers() int { return intOr(c.Workers, 0) }

// GetMatchTimeout parses and returns the MatchTimeout as a time.Duration.
func (c *LocalizerConfig) GetMatchTimeout() time.Duration {
	return durationOr(c.MatchTimeout, 500*time.Millisecond)
}

// GetMaxFitnessScore returns the max_fitness_score value or the default
// (0: no limit).
func (c *LocalizerConfig) GetMaxFitnessScore() float64 { return floatOr(c.MaxFitnessScore, 0) }

// GetMinAddScanShift returns the min_add_scan_shift value or the default.
func (c *LocalizerConfig) GetMinAddScanShift() float64 { return floatOr(c.MinAddScanShift, 1.0) }

// GetExtractLength returns the extract_length value or the default
// (0: match against the whole map).
func (c *LocalizerConfig) GetExtractLength() float64 { return floatOr(c.ExtractLength, 0) }

// GetExtractWidth returns the extract_width value or the default.
func (c *LocalizerConfig) GetExtractWidth() float64 { return floatOr(c.ExtractWidth, 0) }

// GetMapVoxelLeafSize returns map_voxel_leaf_size, falling back to
// voxel_leaf_size.
func (c *LocalizerConfig) GetMapVoxelLeafSize() float64 {
	return floatOr(c.MapVoxelLeafSize, c.GetVoxelLeafSize())
}

// GetMinUpdateTargetMap returns the min_update_target_map value or the default.
func (c *LocalizerConfig) GetMinUpdateTargetMap() float64 { return floatOr(c.MinUpdateTargetMap, 1.0) }

// GetMinExtractPoints returns the min_extract_points value or the default.
func (c *LocalizerConfig) GetMinExtractPoints() int { return intOr(c.MinExtractPoints, 50) }

// GetScanQueueSize returns the scan_queue_size value or the default.
func (c *LocalizerConfig) GetScanQueueSize() int { return intOr(c.ScanQueueSize, 1) }

// GetMapSnapshotInterval parses and returns the MapSnapshotInterval as a
// time.Duration.
func (c *LocalizerConfig) GetMapSnapshotInterval() time.Duration {
	return durationOr(c.MapSnapshotInterval, 60*time.Second)
}

// GetDatabasePath returns the database_path value; empty disables
// persistence.
func (c *LocalizerConfig) GetDatabasePath() string { return stringOr(c.DatabasePath, "") }

// GetKeepSnapshots returns how many map snapshots to retain (0: all).
func (c *LocalizerConfig) GetKeepSnapshots() int { return intOr(c.KeepSnapshots, 5) }
