// Package pipeline runs the per-scan localization cycle.
//
// Localizer is the composition root of one cycle: it asks the motion
// predictor for a prior, preprocesses the scan, registers it through the
// ndt adapter, updates the pose roles and velocity, lets the local map
// fuse and extract, and emits pose, map and diagnostics events to the
// registered sinks. Runner feeds scans to a Localizer from a single worker
// goroutine and persists the map on a schedule.
//
// None of the component packages import pipeline.
package pipeline
