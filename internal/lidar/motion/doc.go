// Package motion integrates inertial and wheel-odometry streams between
// scans into per-source pose offsets, and turns those offsets into the
// prior guesses handed to the scan matcher.
//
// Sensor callbacks (AddIMU, AddOdom) may run on any goroutine. The
// localization cycle calls Predict (which drains the accumulated offsets
// atomically) at the start of each scan and Rebase once the scan's pose
// is known.
package motion
