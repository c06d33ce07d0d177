// Package sqlite persists localization runs in a SQLite database.
//
// A session groups the poses of one run. Every cycle's pose and matcher
// diagnostics are appended to ndt_poses, and the authoritative map is
// stored in ndt_map_snapshots as a gzip-compressed gob blob so a later run
// can resume from it. The schema is embedded and migrated on Open.
package sqlite
