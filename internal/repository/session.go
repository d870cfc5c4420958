package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"goldlink/internal/apperrors"
	"goldlink/internal/model"
)

// SessionRepository stores the unified per-user identity record and the
// ephemeral per-application sessions. All session mutation in the process
// goes through here; row-level upserts keep one writer at a time per key.
type SessionRepository struct {
	db *pgxpool.Pool
}

func NewSessionRepository(db *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{
		db: db,
	}
}

func (r *SessionRepository) Pool() *pgxpool.Pool {
	return r.db
}

func (r *SessionRepository) UpsertUnifiedSession(ctx context.Context, ext RepoExtension, session *model.UnifiedSession) error {
	if ext == nil {
		ext = r.db
	}

	permissions, err := json.Marshal(session.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	crossApp, err := json.Marshal(session.CrossApp)
	if err != nil {
		return fmt.Errorf("failed to marshal cross app data: %w", err)
	}

	const query = `
        INSERT INTO identity.unified_sessions (user_id, primary_app, permissions, cross_app_data, last_sync, created_at)
        VALUES ($1, $2, $3, $4, $5, $5)
        ON CONFLICT (user_id) DO UPDATE
        SET primary_app = EXCLUDED.primary_app,
            permissions = EXCLUDED.permissions,
            cross_app_data = EXCLUDED.cross_app_data,
            last_sync = EXCLUDED.last_sync;
    `

	_, err = ext.Exec(ctx, query,
		session.UserID,
		session.PrimaryApp,
		permissions,
		crossApp,
		session.LastSync,
	)
	if err != nil {
		return err
	}

	return nil
}

func (r *SessionRepository) SelectUnifiedSession(ctx context.Context, ext RepoExtension, userID uuid.UUID) (*model.UnifiedSession, error) {
	if ext == nil {
		ext = r.db
	}

	const query = `
        SELECT user_id, primary_app, permissions, cross_app_data, last_sync, created_at
        FROM identity.unified_sessions
        WHERE user_id = $1;
    `

	var (
		session     model.UnifiedSession
		permissions []byte
		crossApp    []byte
	)

	if err := ext.QueryRow(ctx, query, userID).Scan(
		&session.UserID,
		&session.PrimaryApp,
		&permissions,
		&crossApp,
		&session.LastSync,
		&session.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrUnifiedSessionAbsent
		}

		return nil, err
	}

	if err := json.Unmarshal(permissions, &session.Permissions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
	}

	if err := json.Unmarshal(crossApp, &session.CrossApp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cross app data: %w", err)
	}

	return &session, nil
}

// UpsertAppSession supersedes any existing session for the same (user, app)
// pair: one live app session per application per user.
func (r *SessionRepository) UpsertAppSession(ctx context.Context, ext RepoExtension, session *model.AppSession) error {
	if ext == nil {
		ext = r.db
	}

	permissions, err := json.Marshal(session.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	deviceInfo, err := json.Marshal(session.DeviceInfo)
	if err != nil {
		return fmt.Errorf("failed to marshal device info: %w", err)
	}

	const query = `
        INSERT INTO identity.app_sessions (session_id, user_id, app, permissions, device_info, started_at, last_activity)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (user_id, app) DO UPDATE
        SET session_id = EXCLUDED.session_id,
            permissions = EXCLUDED.permissions,
            device_info = EXCLUDED.device_info,
            started_at = EXCLUDED.started_at,
            last_activity = EXCLUDED.last_activity;
    `

	_, err = ext.Exec(ctx, query,
		session.SessionID,
		session.UserID,
		session.App,
		permissions,
		deviceInfo,
		session.StartedAt,
		session.LastActivity,
	)
	if err != nil {
		return err
	}

	return nil
}

func (r *SessionRepository) SelectAppSession(ctx context.Context, ext RepoExtension, userID uuid.UUID, app model.AppID) (*model.AppSession, error) {
	if ext == nil {
		ext = r.db
	}

	const query = `
        SELECT session_id, user_id, app, permissions, device_info, started_at, last_activity
        FROM identity.app_sessions
        WHERE user_id = $1 AND app = $2;
    `

	return r.scanAppSession(ext.QueryRow(ctx, query, userID, app))
}

func (r *SessionRepository) SelectAppSessionByID(ctx context.Context, ext RepoExtension, sessionID uuid.UUID) (*model.AppSession, error) {
	if ext == nil {
		ext = r.db
	}

	const query = `
        SELECT session_id, user_id, app, permissions, device_info, started_at, last_activity
        FROM identity.app_sessions
        WHERE session_id = $1;
    `

	return r.scanAppSession(ext.QueryRow(ctx, query, sessionID))
}

// UpdateActivity bumps last_activity; reports ErrSessionDoesNotExist for a
// superseded or cleared session.
func (r *SessionRepository) UpdateActivity(ctx context.Context, ext RepoExtension, sessionID uuid.UUID, at time.Time) error {
	if ext == nil {
		ext = r.db
	}

	const query = `
        UPDATE identity.app_sessions
        SET last_activity = $2
        WHERE session_id = $1;
    `

	res, err := ext.Exec(ctx, query, sessionID, at)
	if err != nil {
		return err
	}

	if res.RowsAffected() == 0 {
		return apperrors.ErrSessionDoesNotExist
	}

	return nil
}

func (r *SessionRepository) DeleteAppSession(ctx context.Context, ext RepoExtension, userID uuid.UUID, app model.AppID) error {
	if ext == nil {
		ext = r.db
	}

	const query = `
        DELETE FROM identity.app_sessions
        WHERE user_id = $1 AND app = $2;
    `

	_, err := ext.Exec(ctx, query, userID, app)
	if err != nil {
		return err
	}

	return nil
}

// SelectExpiredBatch returns app sessions of the given application whose
// last activity is older than the cutoff, for the expiry monitor.
func (r *SessionRepository) SelectExpiredBatch(ctx context.Context, ext RepoExtension, app model.AppID, cutoff time.Time, batchSize int) ([]model.AppSession, error) {
	if ext == nil {
		ext = r.db
	}

	const query = `
        SELECT session_id, user_id, app, permissions, device_info, started_at, last_activity
        FROM identity.app_sessions
        WHERE app = $1 AND last_activity <= $2
        ORDER BY last_activity
        LIMIT $3;
    `

	rows, err := ext.Query(ctx, query, app, cutoff, batchSize)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var sessions []model.AppSession

	for rows.Next() {
		session, err := r.scanAppSession(rows)
		if err != nil {
			return nil, err
		}

		sessions = append(sessions, *session)
	}

	return sessions, rows.Err()
}

func (r *SessionRepository) scanAppSession(row pgx.Row) (*model.AppSession, error) {
	var (
		session     model.AppSession
		permissions []byte
		deviceInfo  []byte
	)

	if err := row.Scan(
		&session.SessionID,
		&session.UserID,
		&session.App,
		&permissions,
		&deviceInfo,
		&session.StartedAt,
		&session.LastActivity,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrSessionDoesNotExist
		}

		return nil, err
	}

	if err := json.Unmarshal(permissions, &session.Permissions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
	}

	if err := json.Unmarshal(deviceInfo, &session.DeviceInfo); err != nil {
		return nil, fmt.Errorf("failed to unmarshal device info: %w", err)
	}

	return &session, nil
}
