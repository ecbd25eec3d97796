package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/focusforge/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	statsMu sync.Mutex // serializes statistic increments to avoid SQLITE_BUSY on concurrent deltas
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		total_focus_time REAL NOT NULL DEFAULT 0,
		sleep_incidents INTEGER NOT NULL DEFAULT 0,
		total_sleep_time REAL NOT NULL DEFAULT 0,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS focus_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		start_time INTEGER NOT NULL,
		end_time INTEGER,
		duration REAL NOT NULL DEFAULT 0,
		sleep_detections INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_focus_sessions_user ON focus_sessions(user_id, start_time);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_focus_sessions_one_active ON focus_sessions(user_id) WHERE is_active = 1;
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, total_focus_time, sleep_incidents, total_sleep_time,
		       last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var user domain.User
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(
		&user.UserID, &user.Username,
		&user.TotalFocusTime, &user.SleepIncidents, &user.TotalSleepTime,
		&lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username,
		user.LastSeenAt.Unix(), user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}

	return nil
}

// ApplyUserStatsDelta adds delta to the user's totals in a single statement.
func (s *SQLiteStore) ApplyUserStatsDelta(ctx context.Context, userID string, delta domain.StatsDelta) error {
	if err := delta.Validate(); err != nil {
		return err
	}

	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	query := `
	UPDATE users SET
		total_focus_time = total_focus_time + ?,
		sleep_incidents = sleep_incidents + ?,
		total_sleep_time = total_sleep_time + ?,
		updated_at = ?
	WHERE user_id = ?`

	result, err := s.db.ExecContext(ctx, query,
		delta.FocusTimeDelta, delta.SleepIncidentsDelta, delta.SleepTimeDelta,
		time.Now().Unix(), userID,
	)
	if err != nil {
		return fmt.Errorf("apply stats delta: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("apply stats delta for %s: %w", userID, domain.ErrUserNotFound)
	}
	return nil
}

// CreateSession inserts a new focus session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.FocusSession) error {
	query := `
	INSERT INTO focus_sessions (id, user_id, start_time, end_time, duration, sleep_detections, is_active, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	var endTime interface{}
	if session.EndTime != nil {
		endTime = session.EndTime.UnixMilli()
	}

	_, err := s.db.ExecContext(ctx, query,
		session.ID, session.UserID, session.StartTime.UnixMilli(), endTime,
		session.Duration, session.SleepDetections, session.IsActive,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// UpdateSession applies a partial update to a focus session.
func (s *SQLiteStore) UpdateSession(ctx context.Context, sessionID string, update domain.SessionUpdate) error {
	query := `
	UPDATE focus_sessions SET
		end_time = COALESCE(?, end_time),
		duration = COALESCE(?, duration),
		sleep_detections = COALESCE(?, sleep_detections),
		is_active = COALESCE(?, is_active),
		updated_at = ?
	WHERE id = ?`

	var endTime, duration, sleepDetections, isActive interface{}
	if update.EndTime != nil {
		endTime = update.EndTime.UnixMilli()
	}
	if update.Duration != nil {
		duration = *update.Duration
	}
	if update.SleepDetections != nil {
		sleepDetections = *update.SleepDetections
	}
	if update.IsActive != nil {
		isActive = *update.IsActive
	}

	result, err := s.db.ExecContext(ctx, query,
		endTime, duration, sleepDetections, isActive,
		time.Now().UnixMilli(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("update session %s: %w", sessionID, domain.ErrSessionNotFound)
	}
	return nil
}

const sessionColumns = `id, user_id, start_time, end_time, duration, sleep_detections, is_active`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.FocusSession, error) {
	var session domain.FocusSession
	var startTime int64
	var endTime sql.NullInt64

	if err := row.Scan(
		&session.ID, &session.UserID, &startTime, &endTime,
		&session.Duration, &session.SleepDetections, &session.IsActive,
	); err != nil {
		return nil, err
	}

	session.StartTime = time.UnixMilli(startTime)
	if endTime.Valid {
		ts := time.UnixMilli(endTime.Int64)
		session.EndTime = &ts
	}
	return &session, nil
}

// GetSession retrieves a focus session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.FocusSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM focus_sessions WHERE id = ?`, sessionID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get session %s: %w", sessionID, domain.ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return session, nil
}

// ListSessions returns a user's sessions, newest first.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID string, limit int) ([]*domain.FocusSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM focus_sessions WHERE user_id = ? ORDER BY start_time DESC`
	args := []interface{}{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var sessions []*domain.FocusSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return sessions, nil
}

// CloseOrphanedSessions ends sessions that were still active when the
// previous process exited. The end time is the start plus the last recorded
// duration.
func (s *SQLiteStore) CloseOrphanedSessions(ctx context.Context) (int64, error) {
	query := `
	UPDATE focus_sessions SET
		is_active = 0,
		end_time = start_time + CAST(ROUND(duration * 1000) AS INTEGER),
		updated_at = ?
	WHERE is_active = 1`
	result, err := s.db.ExecContext(ctx, query, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("close orphaned sessions: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
