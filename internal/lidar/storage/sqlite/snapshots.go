package sqlite

import (
	"bytes"
	"compress/gzip"
	"database/sql"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/banshee-data/ndt-mapping/internal/lidar/localmap"
	"github.com/banshee-data/ndt-mapping/internal/lidar/pose"
	"github.com/banshee-data/ndt-mapping/internal/lidar/scan"
)

// MapSnapshot is a persisted copy of the authoritative map.
type MapSnapshot struct {
	SnapshotID int64     `json:"snapshot_id"`
	SessionID  string    `json:"session_id,omitempty"`
	TakenAtNs  int64     `json:"taken_at_ns"`
	Revision   uint64    `json:"revision"`
	FusedCount int       `json:"fused_count"`
	PointCount int       `json:"point_count"`
	AddedPose  pose.Pose `json:"added_pose"`
	MapBlob    []byte    `json:"-"`
}

// State decodes the snapshot back into a map state.
func (m *MapSnapshot) State() (localmap.State, error) {
	pts, err := decodePoints(m.MapBlob)
	if err != nil {
		return localmap.State{}, err
	}
	if len(pts) != m.PointCount {
		return localmap.State{}, fmt.Errorf("snapshot %d: blob holds %d points, row says %d", m.SnapshotID, len(pts), m.PointCount)
	}
	return localmap.State{
		Points:     pts,
		AddedPose:  m.AddedPose,
		FusedCount: m.FusedCount,
		Revision:   m.Revision,
	}, nil
}

// SaveMap stores st as a new snapshot under the active session (or none).
func (s *Store) SaveMap(st localmap.State) error {
	_, err := s.InsertMapSnapshot(st)
	return err
}

// InsertMapSnapshot stores st and returns the new snapshot's ID.
func (s *Store) InsertMapSnapshot(st localmap.State) (int64, error) {
	blob, err := encodePoints(st.Points)
	if err != nil {
		return 0, fmt.Errorf("encode map: %w", err)
	}

	var session interface{}
	if id := s.SessionID(); id != "" {
		session = id
	}
	p := st.AddedPose
	var snapID int64
	err = retryOnBusy(func() error {
		res, err := s.db.Exec(`
			INSERT INTO ndt_map_snapshots (
				session_id, taken_at_ns, revision, fused_count, point_count,
				added_x, added_y, added_z, added_roll, added_pitch, added_yaw, map_blob
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			session, s.now().UnixNano(), st.Revision, st.FusedCount, len(st.Points),
			p.X, p.Y, p.Z, p.Roll, p.Pitch, p.Yaw, blob,
		)
		if err != nil {
			return err
		}
		snapID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("insert map snapshot: %w", err)
	}
	diagf("map snapshot %d: %d points, %d bytes", snapID, len(st.Points), len(blob))
	return snapID, nil
}

// LatestMapSnapshot returns the most recent snapshot, or nil if none exist.
func (s *Store) LatestMapSnapshot() (*MapSnapshot, error) {
	var (
		m       MapSnapshot
		session sql.NullString
	)
	err := s.db.QueryRow(`
		SELECT snapshot_id, session_id, taken_at_ns, revision, fused_count, point_count,
		       added_x, added_y, added_z, added_roll, added_pitch, added_yaw, map_blob
		FROM ndt_map_snapshots
		ORDER BY taken_at_ns DESC, snapshot_id DESC
		LIMIT 1`).
		Scan(&m.SnapshotID, &session, &m.TakenAtNs, &m.Revision, &m.FusedCount, &m.PointCount,
			&m.AddedPose.X, &m.AddedPose.Y, &m.AddedPose.Z,
			&m.AddedPose.Roll, &m.AddedPose.Pitch, &m.AddedPose.Yaw, &m.MapBlob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest map snapshot: %w", err)
	}
	m.SessionID = session.String
	return &m, nil
}

// PruneMapSnapshots deletes all but the newest keep snapshots and returns
// the number removed.
func (s *Store) PruneMapSnapshots(keep int) (int64, error) {
	if keep < 1 {
		return 0, fmt.Errorf("keep must be at least 1, got %d", keep)
	}
	var n int64
	err := retryOnBusy(func() error {
		res, err := s.db.Exec(`
			DELETE FROM ndt_map_snapshots
			WHERE snapshot_id NOT IN (
				SELECT snapshot_id FROM ndt_map_snapshots
				ORDER BY taken_at_ns DESC, snapshot_id DESC
				LIMIT ?
			)`, keep)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune map snapshots: %w", err)
	}
	return n, nil
}

// encodePoints compresses the points using gob encoding and gzip compression.
func encodePoints(pts []scan.Point) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := gob.NewEncoder(gz)
	if err := enc.Encode(pts); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodePoints(blob []byte) ([]scan.Point, error) {
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("gunzip error: %w", err)
	}
	defer gz.Close()
	var pts []scan.Point
	if err := gob.NewDecoder(gz).Decode(&pts); err != nil {
		return nil, fmt.Errorf("gob decode error: %w", err)
	}
	return pts, nil
}
