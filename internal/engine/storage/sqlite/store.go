// Package sqlite provides SQLite-backed persistence for game sessions.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/duetapp/duet/internal/engine/domain"
	"github.com/duetapp/duet/internal/engine/storage"
	"github.com/duetapp/duet/internal/engine/storage/sqlite/migrations"
	"github.com/duetapp/duet/internal/platform/storage/sqlitemigrate"
	_ "modernc.org/sqlite"
)

// terminalStatuses is the SQL literal set of statuses that permit no
// further transitions.
const terminalStatuses = "('expired', 'declined', 'abandoned')"

// activeStatuses is the SQL literal set of statuses where a game is in
// flight for a participant.
const activeStatuses = "('active', 'waiting', 'analyzing')"

// Store provides a SQLite-backed session store.
type Store struct {
	sqlDB *sql.DB
}

var _ storage.SessionStore = (*Store)(nil)

// Open opens a SQLite store at the provided path and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func toMillisPtr(value *time.Time) *int64 {
	if value == nil {
		return nil
	}
	millis := toMillis(*value)
	return &millis
}

// Create persists a new session with revision 0.
func (s *Store) Create(ctx context.Context, session domain.Session) error {
	session.Revision = 0
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	now := toMillis(time.Now())
	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO sessions (session_id, variant, match_id, participant_a, participant_b,
    status, revision, created_at, updated_at, completed_at, expires_at, payload)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		domain.VariantLabel(session.Variant),
		session.MatchID,
		session.ParticipantA.UserID,
		session.ParticipantB.UserID,
		domain.StatusLabel(session.Status),
		session.Revision,
		toMillis(session.CreatedAt),
		now,
		toMillisPtr(session.CompletedAt),
		toMillis(session.ExpiresAt),
		string(payload),
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetBySessionID loads one session aggregate.
func (s *Store) GetBySessionID(ctx context.Context, sessionID string) (domain.Session, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT payload, revision FROM sessions WHERE session_id = ?`, sessionID)
	return scanSession(row)
}

// GetActiveForUser returns in-flight sessions where the user is either
// participant, newest first.
func (s *Store) GetActiveForUser(ctx context.Context, userID string) ([]domain.Session, error) {
	return s.querySessions(ctx, `
SELECT payload, revision FROM sessions
WHERE (participant_a = ? OR participant_b = ?) AND status IN `+activeStatuses+`
ORDER BY created_at DESC`, userID, userID)
}

// FindPendingFor returns pending invitations addressed to the user.
func (s *Store) FindPendingFor(ctx context.Context, userID string) ([]domain.Session, error) {
	return s.querySessions(ctx, `
SELECT payload, revision FROM sessions
WHERE participant_b = ? AND status = 'pending'
ORDER BY created_at DESC`, userID)
}

// FindExpiredBefore returns non-terminal sessions whose deadline passed
// before the instant.
func (s *Store) FindExpiredBefore(ctx context.Context, instant time.Time) ([]domain.Session, error) {
	return s.querySessions(ctx, `
SELECT payload, revision FROM sessions
WHERE status NOT IN `+terminalStatuses+` AND expires_at < ?
ORDER BY expires_at ASC`, toMillis(instant))
}

// FindTerminalBefore returns terminal sessions last touched before the
// instant, the reaper's deletion candidates.
func (s *Store) FindTerminalBefore(ctx context.Context, instant time.Time) ([]domain.Session, error) {
	return s.querySessions(ctx, `
SELECT payload, revision FROM sessions
WHERE status IN `+terminalStatuses+` AND updated_at < ?
ORDER BY updated_at ASC`, toMillis(instant))
}

// FindAnalyzing returns sessions stuck mid-analysis, typically because
// the process died before its worker finished.
func (s *Store) FindAnalyzing(ctx context.Context) ([]domain.Session, error) {
	return s.querySessions(ctx, `
SELECT payload, revision FROM sessions
WHERE status = 'analyzing'
ORDER BY created_at ASC`)
}

// Update persists the aggregate with compare-and-set on revision. The
// returned session carries the incremented revision.
func (s *Store) Update(ctx context.Context, session domain.Session) (domain.Session, error) {
	readRevision := session.Revision
	session.Revision = readRevision + 1

	payload, err := json.Marshal(session)
	if err != nil {
		return domain.Session{}, fmt.Errorf("marshal session: %w", err)
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE sessions
SET status = ?, revision = ?, updated_at = ?, completed_at = ?, expires_at = ?, payload = ?
WHERE session_id = ? AND revision = ?`,
		domain.StatusLabel(session.Status),
		session.Revision,
		toMillis(time.Now()),
		toMillisPtr(session.CompletedAt),
		toMillis(session.ExpiresAt),
		string(payload),
		session.ID,
		readRevision,
	)
	if err != nil {
		return domain.Session{}, fmt.Errorf("update session: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return domain.Session{}, fmt.Errorf("update session rows affected: %w", err)
	}
	if affected == 0 {
		var exists int
		row := s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE session_id = ?`, session.ID)
		if scanErr := row.Scan(&exists); scanErr == sql.ErrNoRows {
			return domain.Session{}, storage.ErrNotFound
		}
		return domain.Session{}, storage.ErrConflict
	}

	return session, nil
}

// Delete removes a session record. Absent records are not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *Store) querySessions(ctx context.Context, query string, args ...any) ([]domain.Session, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []domain.Session
	for rows.Next() {
		var payload string
		var revision int64
		if err := rows.Scan(&payload, &revision); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		session, err := decodeSession(payload, revision)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

func scanSession(row *sql.Row) (domain.Session, error) {
	var payload string
	var revision int64
	if err := row.Scan(&payload, &revision); err != nil {
		if err == sql.ErrNoRows {
			return domain.Session{}, storage.ErrNotFound
		}
		return domain.Session{}, fmt.Errorf("scan session: %w", err)
	}
	return decodeSession(payload, revision)
}

func decodeSession(payload string, revision int64) (domain.Session, error) {
	var session domain.Session
	if err := json.Unmarshal([]byte(payload), &session); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	// The column is authoritative over whatever revision the payload froze.
	session.Revision = revision
	return session, nil
}
