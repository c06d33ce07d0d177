package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNoSession is returned by writes that need an active session.
var ErrNoSession = errors.New("sqlite: no active session")

// Session is one localization run.
type Session struct {
	SessionID   string          `json:"session_id"`
	StartedAtNs int64           `json:"started_at_ns"`
	EndedAtNs   int64           `json:"ended_at_ns,omitempty"`
	Method      string          `json:"method"`
	ConfigJSON  json.RawMessage `json:"config_json,omitempty"`
	Notes       string          `json:"notes,omitempty"`
}

// StartSession records a new session and makes it the active one. Any
// previously active session is ended first.
func (s *Store) StartSession(method string, config json.RawMessage, notes string) (*Session, error) {
	if err := s.EndSession(); err != nil {
		return nil, err
	}
	sess := &Session{
		SessionID:   uuid.New().String(),
		StartedAtNs: s.now().UnixNano(),
		Method:      method,
		ConfigJSON:  config,
		Notes:       notes,
	}

	var cfg interface{}
	if len(config) > 0 {
		cfg = string(config)
	}
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO ndt_sessions (session_id, started_at_ns, method, config_json, notes)
			VALUES (?, ?, ?, ?, ?)`,
			sess.SessionID, sess.StartedAtNs, sess.Method, cfg, sess.Notes)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	s.mu.Lock()
	s.session = sess.SessionID
	s.mu.Unlock()
	diagf("session %s started (method %s)", sess.SessionID, method)
	return sess, nil
}

// EndSession stamps the active session's end time. It is a no-op when no
// session is active.
func (s *Store) EndSession() error {
	s.mu.Lock()
	id := s.session
	s.session = ""
	s.mu.Unlock()
	if id == "" {
		return nil
	}

	err := retryOnBusy(func() error {
		_, err := s.db.Exec(`UPDATE ndt_sessions SET ended_at_ns = ? WHERE session_id = ?`,
			s.now().UnixNano(), id)
		return err
	})
	if err != nil {
		return fmt.Errorf("end session %s: %w", id, err)
	}
	diagf("session %s ended", id)
	return nil
}

// GetSession returns a session by ID.
func (s *Store) GetSession(id string) (*Session, error) {
	var (
		sess  Session
		ended sql.NullInt64
		cfg   sql.NullString
		notes sql.NullString
	)
	err := s.db.QueryRow(`
		SELECT session_id, started_at_ns, ended_at_ns, method, config_json, notes
		FROM ndt_sessions WHERE session_id = ?`, id).
		Scan(&sess.SessionID, &sess.StartedAtNs, &ended, &sess.Method, &cfg, &notes)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	sess.EndedAtNs = ended.Int64
	if cfg.Valid {
		sess.ConfigJSON = json.RawMessage(cfg.String)
	}
	sess.Notes = notes.String
	return &sess, nil
}
