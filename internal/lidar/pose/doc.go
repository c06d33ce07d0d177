// Package pose owns the 6-DOF frame algebra shared by every stage of the
// localizer: the Pose record, its homogeneous Transform, composition and
// rigid inversion, and wraparound-safe angle arithmetic.
//
// Transforms are row-major [16]float64, the same layout the rest of the
// lidar packages use for sensor poses.
//
// No I/O, logging or locking in this package.
package pose
