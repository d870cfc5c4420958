package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"goldlink/internal/model"
)

// NotificationRepository stores the capped per-user feed. Insertion trims
// the feed to the cap in the same statement batch, newest first.
type NotificationRepository struct {
	db *pgxpool.Pool
}

func NewNotificationRepository(db *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{
		db: db,
	}
}

func (r *NotificationRepository) Pool() *pgxpool.Pool {
	return r.db
}

func (r *NotificationRepository) InsertNotification(ctx context.Context, ext RepoExtension, notification *model.Notification, cap int) error {
	if ext == nil {
		ext = r.db
	}

	const insertQuery = `
        INSERT INTO feed.notifications (id, user_id, from_app, type, title, body, payload, priority, created_at, read)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false);
    `

	_, err := ext.Exec(ctx, insertQuery,
		notification.ID,
		notification.UserID,
		notification.FromApp,
		notification.Type,
		notification.Title,
		notification.Body,
		notification.Payload,
		notification.Priority,
		notification.CreatedAt,
	)
	if err != nil {
		return err
	}

	// Evict the oldest entries beyond the cap.
	const trimQuery = `
        DELETE FROM feed.notifications
        WHERE user_id = $1
          AND seq NOT IN (
              SELECT seq FROM feed.notifications
              WHERE user_id = $1
              ORDER BY seq DESC
              LIMIT $2
          );
    `

	_, err = ext.Exec(ctx, trimQuery, notification.UserID, cap)
	if err != nil {
		return err
	}

	return nil
}

// SelectByUser returns a newest-first snapshot of the feed.
func (r *NotificationRepository) SelectByUser(ctx context.Context, ext RepoExtension, userID uuid.UUID, limit int) ([]model.Notification, error) {
	if ext == nil {
		ext = r.db
	}

	const query = `
        SELECT id, user_id, from_app, type, title, body, payload, priority, created_at, read
        FROM feed.notifications
        WHERE user_id = $1
        ORDER BY seq DESC
        LIMIT $2;
    `

	rows, err := ext.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var notifications []model.Notification

	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(
			&n.ID,
			&n.UserID,
			&n.FromApp,
			&n.Type,
			&n.Title,
			&n.Body,
			&n.Payload,
			&n.Priority,
			&n.CreatedAt,
			&n.Read,
		); err != nil {
			return nil, err
		}

		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

// UpdateAsRead is a no-op when the notification is unknown or belongs to a
// different user.
func (r *NotificationRepository) UpdateAsRead(ctx context.Context, ext RepoExtension, userID, notificationID uuid.UUID) error {
	if ext == nil {
		ext = r.db
	}

	const query = `
        UPDATE feed.notifications
        SET read = true
        WHERE user_id = $1 AND id = $2;
    `

	_, err := ext.Exec(ctx, query, userID, notificationID)
	if err != nil {
		return err
	}

	return nil
}
