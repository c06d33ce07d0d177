// Package localmap owns the growing world-frame point map and the bounded
// target window handed to the scan matcher.
//
// The authoritative map is append-only: fusion appends under a lock and
// readers receive full-slice-expression views that later appends cannot
// alter. Extraction publishes immutable Snapshots through an atomic
// pointer, so the matcher never observes a partially built target.
package localmap
