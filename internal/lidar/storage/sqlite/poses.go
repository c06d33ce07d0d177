package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/banshee-data/ndt-mapping/internal/lidar/pipeline"
	"github.com/banshee-data/ndt-mapping/internal/lidar/pose"
)

var (
	_ pipeline.DiagnosticsSink = (*Store)(nil)
	_ pipeline.MapPersister    = (*Store)(nil)
)

// PoseRecord is one logged localization cycle.
type PoseRecord struct {
	PoseID       int64     `json:"pose_id"`
	SessionID    string    `json:"session_id"`
	Seq          uint64    `json:"seq"`
	StampNs      int64     `json:"stamp_ns"`
	Pose         pose.Pose `json:"pose"`
	GuessSource  string    `json:"guess_source"`
	Degraded     bool      `json:"degraded"`
	Converged    bool      `json:"converged"`
	Iterations   int       `json:"iterations"`
	FitnessScore float64   `json:"fitness_score"`
	TransProb    float64   `json:"trans_prob"`
	Fused        bool      `json:"fused"`
	MapPoints    int       `json:"map_points"`
	MatchMs      float64   `json:"match_ms"`

	Diagnostics json.RawMessage `json:"diagnostics,omitempty"`
}

// PublishDiagnostics appends the cycle to the active session's pose log.
func (s *Store) PublishDiagnostics(res *pipeline.CycleResult) error {
	id := s.SessionID()
	if id == "" {
		return ErrNoSession
	}
	diag, err := json.Marshal(res.Diagnostics)
	if err != nil {
		return fmt.Errorf("marshal diagnostics: %w", err)
	}

	d := res.Diagnostics
	p := res.Pose
	err = retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO ndt_poses (
				session_id, seq, stamp_ns, x, y, z, roll, pitch, yaw,
				guess_source, degraded, converged, iterations, fitness_score, trans_prob,
				fused, map_points, match_ms, diagnostics_json
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, res.Seq, res.Stamp.UnixNano(), p.X, p.Y, p.Z, p.Roll, p.Pitch, p.Yaw,
			res.GuessSource.String(), d.Degraded, d.Converged, d.Iterations, d.Fitness, d.TransProb,
			res.Fused, res.MapPoints, float64(res.MatchDuration.Microseconds())/1000, string(diag),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert pose %d: %w", res.Seq, err)
	}
	return nil
}

// ListPoses returns a session's poses in cycle order. limit <= 0 returns
// them all.
func (s *Store) ListPoses(sessionID string, limit int) ([]*PoseRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT pose_id, session_id, seq, stamp_ns, x, y, z, roll, pitch, yaw,
		       guess_source, degraded, converged, iterations, fitness_score, trans_prob,
		       fused, map_points, match_ms, diagnostics_json
		FROM ndt_poses
		WHERE session_id = ?
		ORDER BY seq ASC
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query poses: %w", err)
	}
	defer rows.Close()

	var out []*PoseRecord
	for rows.Next() {
		var (
			r                 PoseRecord
			fitness, prob, ms sql.NullFloat64
			diag              sql.NullString
		)
		if err := rows.Scan(&r.PoseID, &r.SessionID, &r.Seq, &r.StampNs,
			&r.Pose.X, &r.Pose.Y, &r.Pose.Z, &r.Pose.Roll, &r.Pose.Pitch, &r.Pose.Yaw,
			&r.GuessSource, &r.Degraded, &r.Converged, &r.Iterations, &fitness, &prob,
			&r.Fused, &r.MapPoints, &ms, &diag); err != nil {
			return nil, fmt.Errorf("scan pose: %w", err)
		}
		r.FitnessScore = fitness.Float64
		r.TransProb = prob.Float64
		r.MatchMs = ms.Float64
		if diag.Valid {
			r.Diagnostics = json.RawMessage(diag.String)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
