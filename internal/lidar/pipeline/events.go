package pipeline

import (
	"reflect"
	"time"

	"github.com/banshee-data/ndt-mapping/internal/lidar/localmap"
	"github.com/banshee-data/ndt-mapping/internal/lidar/motion"
	"github.com/banshee-data/ndt-mapping/internal/lidar/pose"
	"github.com/banshee-data/ndt-mapping/internal/lidar/scan"
)

// PoseEvent is emitted once per processed scan.
type PoseEvent struct {
	Stamp time.Time `json:"stamp"`

	// Frames of the published transforms: FrameID is the world (map)
	// frame, ChildFrameID the body, SensorFrameID the LiDAR.
	FrameID       string `json:"frame_id"`
	ChildFrameID  string `json:"child_frame_id"`
	SensorFrameID string `json:"sensor_frame_id"`

	Pose       pose.Pose      `json:"pose"`
	Transform  pose.Transform `json:"transform"`
	SensorPose pose.Pose      `json:"sensor_pose"`

	Source   motion.Source `json:"source"`
	Degraded bool          `json:"degraded"`
}

// MapEvent is emitted when a scan was fused into the map.
type MapEvent struct {
	Stamp      time.Time `json:"stamp"`
	FrameID    string    `json:"frame_id"`
	AddedPose  pose.Pose `json:"added_pose"`
	FusedCount int       `json:"fused_count"`
	MapPoints  int       `json:"map_points"`

	// TargetVersion and TargetPoints describe the matcher target published
	// after the fusion.
	TargetVersion uint64 `json:"target_version"`
	TargetPoints  int    `json:"target_points"`

	// Target is the matcher target itself, in the map frame. Sinks must
	// not modify it.
	Target []scan.Point `json:"-"`
}

// PoseSink receives every PoseEvent.
type PoseSink interface {
	PublishPose(ev PoseEvent) error
}

// MapSink receives every MapEvent.
type MapSink interface {
	PublishMapUpdate(ev MapEvent) error
}

// DiagnosticsSink receives the full result of every cycle.
type DiagnosticsSink interface {
	PublishDiagnostics(res *CycleResult) error
}

// MapPersister saves the authoritative map. Runner calls it from its
// worker goroutine only.
type MapPersister interface {
	SaveMap(st localmap.State) error
}

// sinks holds the registered receivers, split by what they implement.
type sinks struct {
	pose  []PoseSink
	maps  []MapSink
	diags []DiagnosticsSink
}

// add registers s for every sink interface it implements and reports
// whether it implemented any.
func (ss *sinks) add(s interface{}) bool {
	if isNilInterface(s) {
		return false
	}
	ok := false
	if p, is := s.(PoseSink); is {
		ss.pose = append(ss.pose, p)
		ok = true
	}
	if m, is := s.(MapSink); is {
		ss.maps = append(ss.maps, m)
		ok = true
	}
	if d, is := s.(DiagnosticsSink); is {
		ss.diags = append(ss.diags, d)
		ok = true
	}
	return ok
}

// isNilInterface checks if an interface value is nil or contains a nil pointer.
// This handles the Go interface nil pitfall where interface{} != nil but the underlying value is nil.
func isNilInterface(i interface{}) bool {
	if i == nil {
		return true
	}
	v := reflect.ValueOf(i)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	}
	return false
}
