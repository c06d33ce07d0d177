package network

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/ndt-mapping/internal/lidar/pipeline"
)

var (
	_ pipeline.PoseSink        = (*Publisher)(nil)
	_ pipeline.MapSink         = (*Publisher)(nil)
	_ pipeline.DiagnosticsSink = (*Publisher)(nil)
)

// Publisher publishes cycle events as JSON. Pose and map messages are
// retained so late subscribers see the latest state.
type Publisher struct {
	client mqtt.Client
	prefix string
	qos    byte

	published atomic.Uint64
	failed    atomic.Uint64
}

// NewPublisher returns a Publisher rooted at cfg.PublishPrefix.
func NewPublisher(client mqtt.Client, cfg Config) *Publisher {
	cfg = cfg.withDefaults()
	return &Publisher{client: client, prefix: cfg.PublishPrefix, qos: cfg.QoS}
}

// Topic returns the full topic for leaf.
func (p *Publisher) Topic(leaf string) string {
	return p.prefix + "/" + leaf
}

// PublishPose publishes ev to <prefix>/pose.
func (p *Publisher) PublishPose(ev pipeline.PoseEvent) error {
	return p.publish(p.Topic("pose"), true, PoseMessage{
		StampNs:       ev.Stamp.UnixNano(),
		FrameID:       ev.FrameID,
		ChildFrameID:  ev.ChildFrameID,
		SensorFrameID: ev.SensorFrameID,
		Pose:          ev.Pose,
		Orientation:   quaternion(ev.Pose),
		Transform:     ev.Transform,
		SensorPose:    ev.SensorPose,
		Source:        ev.Source,
		Degraded:      ev.Degraded,
	})
}

// PublishMapUpdate publishes ev to <prefix>/map and, when the event
// carries the matcher target, its points to <prefix>/map/points. Map
// events only follow fusions, so the cloud is sent at most once per fused
// scan.
func (p *Publisher) PublishMapUpdate(ev pipeline.MapEvent) error {
	if ev.Target != nil {
		if err := p.publish(p.Topic("map/points"), true, EncodeCloud(ev.Stamp, ev.FrameID, ev.Target)); err != nil {
			return err
		}
	}
	return p.publish(p.Topic("map"), true, MapMessage{
		StampNs:       ev.Stamp.UnixNano(),
		FrameID:       ev.FrameID,
		AddedPose:     ev.AddedPose,
		FusedCount:    ev.FusedCount,
		MapPoints:     ev.MapPoints,
		TargetVersion: ev.TargetVersion,
		TargetPoints:  ev.TargetPoints,
	})
}

// PublishDiagnostics publishes a summary of res to <prefix>/diagnostics.
func (p *Publisher) PublishDiagnostics(res *pipeline.CycleResult) error {
	d := res.Diagnostics
	return p.publish(p.Topic("diagnostics"), false, DiagnosticsMessage{
		StampNs:     res.Stamp.UnixNano(),
		Seq:         res.Seq,
		GuessSource: res.GuessSource,
		Converged:   d.Converged,
		Iterations:  d.Iterations,
		Fitness:     d.Fitness,
		TransProb:   d.TransProb,
		Degraded:    d.Degraded,
		Reason:      d.Reason,
		Starved:     d.Starved,
		DiffNorm:    res.DiffNorm,
		Velocity:    res.Velocity,
		Fused:       res.Fused,
		MapPoints:   res.MapPoints,
		MatchMs:     millis(res.MatchDuration),
		CycleMs:     millis(res.CycleDuration),
		Health:      d.Health,
	})
}

// Stats returns how many messages were published and how many failed.
func (p *Publisher) Stats() (published, failed uint64) {
	return p.published.Load(), p.failed.Load()
}

func (p *Publisher) publish(topic string, retain bool, v interface{}) error {
	if p.client == nil || !p.client.IsConnected() {
		p.failed.Add(1)
		return mqtt.ErrNotConnected
	}
	payload, err := json.Marshal(v)
	if err != nil {
		p.failed.Add(1)
		return fmt.Errorf("marshal %s: %w", topic, err)
	}

	token := p.client.Publish(topic, p.qos, retain, payload)
	if !token.WaitTimeout(publishTimeout) {
		p.failed.Add(1)
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		p.failed.Add(1)
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	p.published.Add(1)
	tracef("published %d bytes to %s", len(payload), topic)
	return nil
}
