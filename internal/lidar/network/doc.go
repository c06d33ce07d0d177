// Package network carries the localizer's streams over MQTT.
//
// Subscriber decodes point clouds, IMU samples and odometry from JSON
// payloads and hands them to the scan runner and the motion predictor.
// Publisher is a pipeline sink that publishes poses, map updates and
// per-cycle diagnostics.
package network
