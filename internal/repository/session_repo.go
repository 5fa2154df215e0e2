package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lagz0ne/claude-web/internal/model"
)

// SessionRepository provides data access for the session metadata index.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const selectColumns = `id, cwd, status, message_count, created_at, last_message_at`

// Save inserts the session or overwrites the existing row with the same id.
func (r *SessionRepository) Save(ctx context.Context, meta *model.SessionMeta) error {
	query := `
		INSERT INTO sessions (id, cwd, status, message_count, created_at, last_message_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			cwd = excluded.cwd,
			status = excluded.status,
			message_count = excluded.message_count,
			created_at = excluded.created_at,
			last_message_at = excluded.last_message_at
	`

	_, err := r.db.ExecContext(ctx, query,
		meta.ID,
		meta.Cwd,
		meta.Status,
		meta.MessageCount,
		meta.CreatedAt.UTC(),
		meta.LastMessageAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*model.SessionMeta, error) {
	meta := &model.SessionMeta{}
	err := row.Scan(
		&meta.ID,
		&meta.Cwd,
		&meta.Status,
		&meta.MessageCount,
		&meta.CreatedAt,
		&meta.LastMessageAt,
	)
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*model.SessionMeta, error) {
	query := `SELECT ` + selectColumns + ` FROM sessions WHERE id = ?`

	meta, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", model.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return meta, nil
}

// List retrieves every known session, newest first.
func (r *SessionRepository) List(ctx context.Context) ([]*model.SessionMeta, error) {
	query := `SELECT ` + selectColumns + ` FROM sessions ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.SessionMeta
	for rows.Next() {
		meta, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, meta)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

// UpdateStatus updates the status of a session and refreshes last_message_at.
// A nil messageCount leaves the stored count untouched.
func (r *SessionRepository) UpdateStatus(ctx context.Context, id string, status model.SessionStatus, messageCount *int) error {
	query := `
		UPDATE sessions
		SET status = ?, message_count = COALESCE(?, message_count), last_message_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query, status, messageCount, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", model.ErrSessionNotFound, id)
	}

	return nil
}

// EndActive marks every session still recorded as active as ended and
// returns how many rows changed.
func (r *SessionRepository) EndActive(ctx context.Context) (int, error) {
	query := `
		UPDATE sessions
		SET status = ?, last_message_at = ?
		WHERE status = ?
	`

	result, err := r.db.ExecContext(ctx, query, model.SessionStatusEnded, time.Now().UTC(), model.SessionStatusActive)
	if err != nil {
		return 0, fmt.Errorf("failed to end active sessions: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rowsAffected), nil
}
