package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/ndt-mapping/internal/lidar/localmap"
	"github.com/banshee-data/ndt-mapping/internal/lidar/motion"
	"github.com/banshee-data/ndt-mapping/internal/lidar/ndt"
	"github.com/banshee-data/ndt-mapping/internal/lidar/network"
	"github.com/banshee-data/ndt-mapping/internal/lidar/pipeline"
	"github.com/banshee-data/ndt-mapping/internal/lidar/pose"
	"github.com/banshee-data/ndt-mapping/internal/lidar/scan"
)

// maxFileSize bounds configuration files.
const maxFileSize = 1 * 1024 * 1024 // 1MB

// PoseConfig is a 6-DOF pose in metres and radians.
type PoseConfig struct {
	X     float64 `json:"x" yaml:"x"`
	Y     float64 `json:"y" yaml:"y"`
	Z     float64 `json:"z" yaml:"z"`
	Roll  float64 `json:"roll" yaml:"roll"`
	Pitch float64 `json:"pitch" yaml:"pitch"`
	Yaw   float64 `json:"yaw" yaml:"yaw"`
}

// Pose converts c to a pose.Pose.
func (c *PoseConfig) Pose() pose.Pose {
	if c == nil {
		return pose.Pose{}
	}
	return pose.Pose{X: c.X, Y: c.Y, Z: c.Z, Roll: c.Roll, Pitch: c.Pitch, Yaw: c.Yaw}
}

// MQTTConfig holds the broker connection and topic names.
type MQTTConfig struct {
	Broker        string `json:"broker,omitempty" yaml:"broker,omitempty"`
	ClientID      string `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	Username      string `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string `json:"password,omitempty" yaml:"password,omitempty"`
	PointsTopic   string `json:"points_topic,omitempty" yaml:"points_topic,omitempty"`
	IMUTopic      string `json:"imu_topic,omitempty" yaml:"imu_topic,omitempty"`
	OdomTopic     string `json:"odom_topic,omitempty" yaml:"odom_topic,omitempty"`
	PublishPrefix string `json:"publish_prefix,omitempty" yaml:"publish_prefix,omitempty"`
	QoS           *int   `json:"qos,omitempty" yaml:"qos,omitempty"`
}

// LocalizerConfig is the root configuration. Every field is optional;
// the Get* methods supply defaults for anything left unset, so partial
// files are safe.
type LocalizerConfig struct {
	// Frames
	MapFrame    *string `json:"map_frame,omitempty" yaml:"map_frame,omitempty"`
	BaseFrame   *string `json:"base_frame,omitempty" yaml:"base_frame,omitempty"`
	SensorFrame *string `json:"sensor_frame,omitempty" yaml:"sensor_frame,omitempty"`

	// Extrinsic and start pose
	BaseToSensor *PoseConfig `json:"base_to_sensor,omitempty" yaml:"base_to_sensor,omitempty"`
	InitialPose  *PoseConfig `json:"initial_pose,omitempty" yaml:"initial_pose,omitempty"`

	// Motion sources
	UseIMU        *bool   `json:"use_imu,omitempty" yaml:"use_imu,omitempty"`
	UseOdom       *bool   `json:"use_odom,omitempty" yaml:"use_odom,omitempty"`
	IMUUpsideDown *bool   `json:"imu_upside_down,omitempty" yaml:"imu_upside_down,omitempty"`
	RemoveGravity *bool   `json:"remove_gravity,omitempty" yaml:"remove_gravity,omitempty"`
	SensorTimeout *string `json:"sensor_timeout,omitempty" yaml:"sensor_timeout,omitempty"` // duration string like "1s"

	// Scan preprocessing
	MinScanRange  *float64 `json:"min_scan_range,omitempty" yaml:"min_scan_range,omitempty"`
	MaxScanRange  *float64 `json:"max_scan_range,omitempty" yaml:"max_scan_range,omitempty"`
	VoxelLeafSize *float64 `json:"voxel_leaf_size,omitempty" yaml:"voxel_leaf_size,omitempty"`

	// Registration
	Method          *string  `json:"method,omitempty" yaml:"method,omitempty"`
	Resolution      *float64 `json:"resolution,omitempty" yaml:"resolution,omitempty"`
	StepSize        *float64 `json:"step_size,omitempty" yaml:"step_size,omitempty"`
	TransEpsilon    *float64 `json:"trans_epsilon,omitempty" yaml:"trans_epsilon,omitempty"`
	MaxIterations   *int     `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	OutlierRatio    *float64 `json:"outlier_ratio,omitempty" yaml:"outlier_ratio,omitempty"`
	Workers         *int     `json:"workers,omitempty" yaml:"workers,omitempty"`
	MatchTimeout    *string  `json:"match_timeout,omitempty" yaml:"match_timeout,omitempty"` // duration string like "500ms"
	MaxFitnessScore *float64 `json:"max_fitness_score,omitempty" yaml:"max_fitness_score,omitempty"`

	// Local map
	MinAddScanShift    *float64 `json:"min_add_scan_shift,omitempty" yaml:"min_add_scan_shift,omitempty"`
	ExtractLength      *float64 `json:"extract_length,omitempty" yaml:"extract_length,omitempty"`
	ExtractWidth       *float64 `json:"extract_width,omitempty" yaml:"extract_width,omitempty"`
	MapVoxelLeafSize   *float64 `json:"map_voxel_leaf_size,omitempty" yaml:"map_voxel_leaf_size,omitempty"`
	MinUpdateTargetMap *float64 `json:"min_update_target_map,omitempty" yaml:"min_update_target_map,omitempty"`
	MinExtractPoints   *int     `json:"min_extract_points,omitempty" yaml:"min_extract_points,omitempty"`

	// Worker and persistence
	ScanQueueSize       *int    `json:"scan_queue_size,omitempty" yaml:"scan_queue_size,omitempty"`
	MapSnapshotInterval *string `json:"map_snapshot_interval,omitempty" yaml:"map_snapshot_interval,omitempty"` // duration string like "60s"
	DatabasePath        *string `json:"database_path,omitempty" yaml:"database_path,omitempty"`
	KeepSnapshots       *int    `json:"keep_snapshots,omitempty" yaml:"keep_snapshots,omitempty"`

	MQTT MQTTConfig `json:"mqtt,omitempty" yaml:"mqtt,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// DefaultConfig returns a config with every field set to its default.
func DefaultConfig() *LocalizerConfig {
	c := &LocalizerConfig{}
	c.MapFrame = ptrString(c.GetMapFrame())
	c.BaseFrame = ptrString(c.GetBaseFrame())
	c.SensorFrame = ptrString(c.GetSensorFrame())
	c.BaseToSensor = &PoseConfig{}
	c.InitialPose = &PoseConfig{}
	c.UseIMU = ptrBool(c.GetUseIMU())
	c.UseOdom = ptrBool(c.GetUseOdom())
	c.IMUUpsideDown = ptrBool(c.GetIMUUpsideDown())
	c.RemoveGravity = ptrBool(c.GetRemoveGravity())
	c.SensorTimeout = ptrString(c.GetSensorTimeout().String())
	c.MinScanRange = ptrFloat64(c.GetMinScanRange())
	c.MaxScanRange = ptrFloat64(c.GetMaxScanRange())
	c.VoxelLeafSize = ptrFloat64(c.GetVoxelLeafSize())
	c.Method = ptrString(c.GetMethod())
	c.Resolution = ptrFloat64(c.GetResolution())
	c.StepSize = ptrFloat64(c.GetStepSize())
	c.TransEpsilon = ptrFloat64(c.GetTransEpsilon())
	c.MaxIterations = ptrInt(c.GetMaxIterations())
	c.OutlierRatio = ptrFloat64(c.GetOutlierRatio())
	c.Workers = ptrInt(c.GetWorkers())
	c.MatchTimeout = ptrString(c.GetMatchTimeout().String())
	c.MaxFitnessScore = ptrFloat64(c.GetMaxFitnessScore())
	c.MinAddScanShift = ptrFloat64(c.GetMinAddScanShift())
	c.ExtractLength = ptrFloat64(c.GetExtractLength())
	c.ExtractWidth = ptrFloat64(c.GetExtractWidth())
	c.MinUpdateTargetMap = ptrFloat64(c.GetMinUpdateTargetMap())
	c.MinExtractPoints = ptrInt(c.GetMinExtractPoints())
	c.ScanQueueSize = ptrInt(c.GetScanQueueSize())
	c.MapSnapshotInterval = ptrString(c.GetMapSnapshotInterval().String())
	c.KeepSnapshots = ptrInt(c.GetKeepSnapshots())
	// MapVoxelLeafSize and DatabasePath stay unset: the former follows
	// voxel_leaf_size, the latter disables persistence.
	return c
}

// Load reads a configuration file. The format follows the extension:
// .json, or .yaml/.yml. MQTT credentials in the environment override the
// file (see ApplyEnv). The result is validated.
func Load(path string) (*LocalizerConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &LocalizerConfig{}
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", cleanPath, err)
	}

	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides MQTT settings from MQTT_BROKER, MQTT_CLIENT_ID,
// MQTT_USERNAME and MQTT_PASSWORD when they are set.
func (c *LocalizerConfig) ApplyEnv(getenv func(string) string) {
	for name, dst := range map[string]*string{
		"MQTT_BROKER":    &c.MQTT.Broker,
		"MQTT_CLIENT_ID": &c.MQTT.ClientID,
		"MQTT_USERNAME":  &c.MQTT.Username,
		"MQTT_PASSWORD":  &c.MQTT.Password,
	} {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}
}

// Validate checks that the configuration values are valid.
func (c *LocalizerConfig) Validate() error {
	for name, v := range map[string]*float64{
		"min_scan_range":        c.MinScanRange,
		"max_scan_range":        c.MaxScanRange,
		"voxel_leaf_size":       c.VoxelLeafSize,
		"map_voxel_leaf_size":   c.MapVoxelLeafSize,
		"min_add_scan_shift":    c.MinAddScanShift,
		"extract_length":        c.ExtractLength,
		"extract_width":         c.ExtractWidth,
		"min_update_target_map": c.MinUpdateTargetMap,
		"max_fitness_score":     c.MaxFitnessScore,
	} {
		if v != nil && (*v < 0 || math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return fmt.Errorf("%s must be a non-negative number, got %v", name, *v)
		}
	}
	if maxRange := c.GetMaxScanRange(); maxRange > 0 && maxRange <= c.GetMinScanRange() {
		return fmt.Errorf("max_scan_range (%v) must exceed min_scan_range (%v)", maxRange, c.GetMinScanRange())
	}
	if (c.GetExtractLength() > 0) != (c.GetExtractWidth() > 0) {
		return fmt.Errorf("extract_length and extract_width must both be set to enable windowing")
	}

	for name, v := range map[string]*string{
		"sensor_timeout":        c.SensorTimeout,
		"match_timeout":         c.MatchTimeout,
		"map_snapshot_interval": c.MapSnapshotInterval,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *v)
		}
	}

	if _, err := ndt.ParseMethod(c.GetMethod()); err != nil {
		return err
	}
	if err := c.NDTParams().Validate(); err != nil {
		return err
	}
	for name, p := range map[string]*PoseConfig{"base_to_sensor": c.BaseToSensor, "initial_pose": c.InitialPose} {
		if !p.Pose().IsFinite() {
			return fmt.Errorf("%s must be finite, got %v", name, p.Pose())
		}
	}

	if c.MinExtractPoints != nil && *c.MinExtractPoints < 0 {
		return fmt.Errorf("min_extract_points must be non-negative, got %d", *c.MinExtractPoints)
	}
	if c.ScanQueueSize != nil && *c.ScanQueueSize < 1 {
		return fmt.Errorf("scan_queue_size must be at least 1, got %d", *c.ScanQueueSize)
	}
	if c.KeepSnapshots != nil && *c.KeepSnapshots < 0 {
		return fmt.Errorf("keep_snapshots must be non-negative, got %d", *c.KeepSnapshots)
	}
	if q := c.MQTT.QoS; q != nil && (*q < 0 || *q > 2) {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", *q)
	}
	if c.MQTT.Broker != "" && c.MQTT.PointsTopic == "" {
		return fmt.Errorf("mqtt.points_topic is required when mqtt.broker is set")
	}
	return nil
}

// NDTMethod returns the configured back end.
func (c *LocalizerConfig) NDTMethod() (ndt.Method, error) {
	return ndt.ParseMethod(c.GetMethod())
}

// NDTParams returns the registration parameters.
func (c *LocalizerConfig) NDTParams() ndt.Params {
	return ndt.Params{
		Resolution:       c.GetResolution(),
		MaxIterations:    c.GetMaxIterations(),
		StepSize:         c.GetStepSize(),
		TransformEpsilon: c.GetTransEpsilon(),
		OutlierRatio:     c.GetOutlierRatio(),
		Workers:          c.GetWorkers(),
	}
}

// AdapterConfig returns the matcher adapter settings.
func (c *LocalizerConfig) AdapterConfig() ndt.AdapterConfig {
	return ndt.AdapterConfig{
		MatchTimeout:    c.GetMatchTimeout(),
		MaxFitnessScore: c.GetMaxFitnessScore(),
	}
}

// PreprocessConfig returns the scan preprocessor settings.
func (c *LocalizerConfig) PreprocessConfig() scan.PreprocessConfig {
	return scan.PreprocessConfig{
		MinScanRange:  c.GetMinScanRange(),
		MaxScanRange:  c.GetMaxScanRange(),
		VoxelLeafSize: c.GetVoxelLeafSize(),
	}
}

// MapConfig returns the local map settings.
func (c *LocalizerConfig) MapConfig() localmap.Config {
	return localmap.Config{
		MinAddScanShift:    c.GetMinAddScanShift(),
		ExtractLength:      c.GetExtractLength(),
		ExtractWidth:       c.GetExtractWidth(),
		MapVoxelLeafSize:   c.GetMapVoxelLeafSize(),
		MinUpdateTargetMap: c.GetMinUpdateTargetMap(),
		MinExtractPoints:   c.GetMinExtractPoints(),
	}
}

// MotionConfig returns the predictor settings.
func (c *LocalizerConfig) MotionConfig() motion.Config {
	return motion.Config{
		UseIMU:        c.GetUseIMU(),
		UseOdom:       c.GetUseOdom(),
		IMUUpsideDown: c.GetIMUUpsideDown(),
		RemoveGravity: c.GetRemoveGravity(),
		SensorTimeout: c.GetSensorTimeout(),
	}
}

// PipelineConfig returns the localizer settings.
func (c *LocalizerConfig) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		BaseToSensor: c.BaseToSensor.Pose(),
		InitialPose:  c.InitialPose.Pose(),
		MapFrame:     c.GetMapFrame(),
		BaseFrame:    c.GetBaseFrame(),
		SensorFrame:  c.GetSensorFrame(),
	}
}

// RunnerConfig returns the scan worker settings.
func (c *LocalizerConfig) RunnerConfig() pipeline.RunnerConfig {
	return pipeline.RunnerConfig{
		QueueSize:        c.GetScanQueueSize(),
		SnapshotInterval: c.GetMapSnapshotInterval(),
	}
}

// NetworkConfig returns the MQTT settings.
func (c *LocalizerConfig) NetworkConfig() network.Config {
	var qos byte
	if c.MQTT.QoS != nil {
		qos = byte(*c.MQTT.QoS)
	}
	return network.Config{
		Broker:        c.MQTT.Broker,
		ClientID:      c.MQTT.ClientID,
		Username:      c.MQTT.Username,
		Password:      c.MQTT.Password,
		PointsTopic:   c.MQTT.PointsTopic,
		IMUTopic:      c.MQTT.IMUTopic,
		OdomTopic:     c.MQTT.OdomTopic,
		PublishPrefix: c.MQTT.PublishPrefix,
		QoS:           qos,
	}
}
