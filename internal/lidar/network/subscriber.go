package network

import (
	"errors"
	"fmt"
	"sync/atomic"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/ndt-mapping/internal/lidar/motion"
	"github.com/banshee-data/ndt-mapping/internal/lidar/scan"
)

// ScanSubmitter accepts decoded scans without blocking; pipeline.Runner
// implements it.
type ScanSubmitter interface {
	Submit(cloud scan.Cloud) (dropped bool)
}

// MotionSink accepts decoded IMU and odometry samples;
// motion.Predictor implements it.
type MotionSink interface {
	AddIMU(s motion.IMUSample)
	AddOdom(s motion.OdomSample)
}

// SubscriberStats counts received messages per stream.
type SubscriberStats struct {
	Clouds    uint64 `json:"clouds"`
	IMU       uint64 `json:"imu"`
	Odom      uint64 `json:"odom"`
	Malformed uint64 `json:"malformed"`
	Dropped   uint64 `json:"dropped"`
}

// Subscriber routes the sensor topics to the localizer.
type Subscriber struct {
	cfg    Config
	scans  ScanSubmitter
	motion MotionSink

	clouds    atomic.Uint64
	imu       atomic.Uint64
	odom      atomic.Uint64
	malformed atomic.Uint64
	dropped   atomic.Uint64
}

// NewSubscriber returns a Subscriber. sink may be nil when neither IMU
// nor odometry is used; their topics are then ignored.
func NewSubscriber(cfg Config, scans ScanSubmitter, sink MotionSink) *Subscriber {
	return &Subscriber{cfg: cfg.withDefaults(), scans: scans, motion: sink}
}

// OnConnect subscribes on every (re)connection. It is an
// mqtt.OnConnectHandler.
func (s *Subscriber) OnConnect(c mqtt.Client) {
	if err := s.Subscribe(c); err != nil {
		opsf("subscribe: %v", err)
	}
}

// Subscribe subscribes c to every configured topic.
func (s *Subscriber) Subscribe(c mqtt.Client) error {
	if s.cfg.PointsTopic == "" {
		return errors.New("network: no points topic configured")
	}
	subs := map[string]mqtt.MessageHandler{s.cfg.PointsTopic: s.handleCloud}
	if s.motion != nil {
		if s.cfg.IMUTopic != "" {
			subs[s.cfg.IMUTopic] = s.handleIMU
		}
		if s.cfg.OdomTopic != "" {
			subs[s.cfg.OdomTopic] = s.handleOdom
		}
	}

	var errs []error
	for topic, h := range subs {
		token := c.Subscribe(topic, s.cfg.QoS, h)
		if !token.WaitTimeout(subscribeTimeout) {
			errs = append(errs, fmt.Errorf("subscribe %s: timeout", topic))
			continue
		}
		if err := token.Error(); err != nil {
			errs = append(errs, fmt.Errorf("subscribe %s: %w", topic, err))
			continue
		}
		diagf("subscribed to %s", topic)
	}
	return errors.Join(errs...)
}

// Stats returns the message counters.
func (s *Subscriber) Stats() SubscriberStats {
	return SubscriberStats{
		Clouds:    s.clouds.Load(),
		IMU:       s.imu.Load(),
		Odom:      s.odom.Load(),
		Malformed: s.malformed.Load(),
		Dropped:   s.dropped.Load(),
	}
}

func (s *Subscriber) handleCloud(_ mqtt.Client, msg mqtt.Message) {
	cloud, err := DecodeCloud(msg.Payload())
	if err != nil {
		s.malformed.Add(1)
		diagf("points on %s: %v", msg.Topic(), err)
		return
	}
	s.clouds.Add(1)
	tracef("scan %v: %d points", cloud.Stamp, len(cloud.Points))
	if s.scans.Submit(cloud) {
		s.dropped.Add(1)
	}
}

func (s *Subscriber) handleIMU(_ mqtt.Client, msg mqtt.Message) {
	sample, err := DecodeIMU(msg.Payload())
	if err != nil {
		s.malformed.Add(1)
		diagf("imu on %s: %v", msg.Topic(), err)
		return
	}
	s.imu.Add(1)
	s.motion.AddIMU(sample)
}

func (s *Subscriber) handleOdom(_ mqtt.Client, msg mqtt.Message) {
	sample, err := DecodeOdom(msg.Payload())
	if err != nil {
		s.malformed.Add(1)
		diagf("odom on %s: %v", msg.Topic(), err)
		return
	}
	s.odom.Add(1)
	s.motion.AddOdom(sample)
}
