// Package db persists the navigation action audit trail and watchdog
// restart history in SQLite.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Finithe-Phoenix/seeallene/internal/model"
)

var (
	ErrDuplicate = errors.New("duplicate")
	ErrNotFound  = errors.New("not found")
)

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) InsertAction(ctx context.Context, action model.ActionRecord) error {
	if action.RequestedAt.IsZero() {
		action.RequestedAt = time.Now().UTC()
	}
	var completed any
	if action.CompletedAt != nil {
		completed = ts(*action.CompletedAt)
	}
	var errorCode any
	if action.ErrorCode != nil {
		errorCode = *action.ErrorCode
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO actions(action_id, requested_at, completed_at, outcome, attempts, fallback_used, before_digest, after_digest, duration_ms, error_code)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, action.ActionID, ts(action.RequestedAt), completed, action.Outcome, action.Attempts, boolToInt(action.FallbackUsed), action.BeforeDigest, action.AfterDigest, action.DurationMs, errorCode)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

func (s *Store) GetAction(ctx context.Context, actionID string) (model.ActionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT action_id, requested_at, completed_at, outcome, attempts, fallback_used, before_digest, after_digest, duration_ms, error_code
FROM actions WHERE action_id = ?
`, actionID)
	action, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ActionRecord{}, ErrNotFound
	}
	if err != nil {
		return model.ActionRecord{}, fmt.Errorf("get action: %w", err)
	}
	return action, nil
}

func (s *Store) ListActions(ctx context.Context, limit int) ([]model.ActionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT action_id, requested_at, completed_at, outcome, attempts, fallback_used, before_digest, after_digest, duration_ms, error_code
FROM actions ORDER BY requested_at DESC, action_id DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	actions := make([]model.ActionRecord, 0, limit)
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		actions = append(actions, action)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	return actions, nil
}

func (s *Store) InsertRestart(ctx context.Context, restart model.RestartRecord) error {
	if restart.ObservedAt.IsZero() {
		restart.ObservedAt = time.Now().UTC()
	}
	var prevPID, newPID any
	if restart.PreviousPID != nil {
		prevPID = *restart.PreviousPID
	}
	if restart.NewPID != nil {
		newPID = *restart.NewPID
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO restarts(restart_id, observed_at, probe_error, previous_pid, new_pid)
VALUES (?, ?, ?, ?, ?)
`, restart.RestartID, ts(restart.ObservedAt), restart.ProbeError, prevPID, newPID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert restart: %w", err)
	}
	return nil
}

func (s *Store) ListRestarts(ctx context.Context, limit int) ([]model.RestartRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT restart_id, observed_at, probe_error, previous_pid, new_pid
FROM restarts ORDER BY observed_at DESC, restart_id DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list restarts: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	restarts := make([]model.RestartRecord, 0, limit)
	for rows.Next() {
		var (
			restart    model.RestartRecord
			observedAt string
			prevPID    sql.NullInt64
			newPID     sql.NullInt64
		)
		if err := rows.Scan(&restart.RestartID, &observedAt, &restart.ProbeError, &prevPID, &newPID); err != nil {
			return nil, fmt.Errorf("scan restart: %w", err)
		}
		restart.ObservedAt = parseTS(observedAt)
		if prevPID.Valid {
			v := prevPID.Int64
			restart.PreviousPID = &v
		}
		if newPID.Valid {
			v := newPID.Int64
			restart.NewPID = &v
		}
		restarts = append(restarts, restart)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list restarts: %w", err)
	}
	return restarts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(row rowScanner) (model.ActionRecord, error) {
	var (
		action       model.ActionRecord
		requestedAt  string
		completedAt  sql.NullString
		fallbackUsed int
		errorCode    sql.NullString
	)
	err := row.Scan(
		&action.ActionID,
		&requestedAt,
		&completedAt,
		&action.Outcome,
		&action.Attempts,
		&fallbackUsed,
		&action.BeforeDigest,
		&action.AfterDigest,
		&action.DurationMs,
		&errorCode,
	)
	if err != nil {
		return model.ActionRecord{}, err
	}
	action.RequestedAt = parseTS(requestedAt)
	if completedAt.Valid {
		v := parseTS(completedAt.String)
		action.CompletedAt = &v
	}
	action.FallbackUsed = fallbackUsed != 0
	if errorCode.Valid {
		v := errorCode.String
		action.ErrorCode = &v
	}
	return action, nil
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
