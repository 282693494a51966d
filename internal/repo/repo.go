package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"hookahplus/internal/domain"
	"hookahplus/internal/events"
)

// Repo is the SQLite-backed session store.
type Repo struct {
	DB     *sql.DB
	Events events.Writer
}

var (
	ErrNotFound      = errors.New("not found")
	ErrSessionExists = errors.New("session already exists")
)

func scanSession(row interface{ Scan(...any) error }) (domain.Session, error) {
	var s domain.Session
	var state string
	if err := row.Scan(&state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s, ErrNotFound
		}
		return s, err
	}
	if err := json.Unmarshal([]byte(state), &s); err != nil {
		return s, fmt.Errorf("decode session state: %w", err)
	}
	return s, nil
}

func (r Repo) CreateSession(ctx context.Context, s domain.Session) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var n int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id=?`, s.SessionID).Scan(&n)
	if err == nil {
		return fmt.Errorf("session %s: %w", s.SessionID, ErrSessionExists)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	state, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO sessions(id,table_id,status,flavor_mix,state_json,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		s.SessionID, s.TableID, string(s.CurrentStatus), s.FlavorMix, string(state),
		s.CreatedAt.UTC().Format(time.RFC3339Nano), s.UpdatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return tx.Commit()
}

func (r Repo) GetSession(ctx context.Context, id string) (domain.Session, error) {
	s, err := scanSession(r.DB.QueryRowContext(ctx, `SELECT state_json FROM sessions WHERE id=?`, id))
	if errors.Is(err, ErrNotFound) {
		return s, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return s, err
}

// ListSessions returns every session in creation order.
func (r Repo) ListSessions(ctx context.Context) ([]domain.Session, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT state_json FROM sessions ORDER BY rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// ApplyTransition stores the new session state and appends evt atomically.
func (r Repo) ApplyTransition(ctx context.Context, s domain.Session, evt domain.WorkflowEvent) (int64, error) {
	state, err := json.Marshal(s)
	if err != nil {
		return 0, err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET status=?, flavor_mix=?, state_json=?, updated_at=? WHERE id=?`,
		string(s.CurrentStatus), s.FlavorMix, string(state), s.UpdatedAt.UTC().Format(time.RFC3339Nano), s.SessionID)
	if err != nil {
		return 0, fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("session %s: %w", s.SessionID, ErrNotFound)
	}
	seq, err := r.Events.Append(ctx, tx, evt)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return seq, nil
}

// ListEvents returns events in insertion order, filtered to sessionID when set.
func (r Repo) ListEvents(ctx context.Context, sessionID string) ([]domain.WorkflowEvent, error) {
	query := `SELECT id,payload_json FROM events`
	var args []any
	if sessionID != "" {
		query += ` WHERE session_id=?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY id ASC`
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with sequence greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, cursor int64, limit int) ([]domain.WorkflowEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, `SELECT id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

// LatestEventSeq returns the highest event sequence, 0 when the log is empty.
func (r Repo) LatestEventSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&seq); err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.WorkflowEvent, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkflowEvent
	for rows.Next() {
		var seq int64
		var payload string
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, err
		}
		evt, err := events.Decode(seq, payload)
		if err != nil {
			return nil, err
		}
		res = append(res, evt)
	}
	return res, rows.Err()
}

// Reset deletes every session and event. Event sequences keep increasing
// across resets so webhook cursors stay valid.
func (r Repo) Reset(ctx context.Context) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM events`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		return err
	}
	return tx.Commit()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
