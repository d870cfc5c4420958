package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"goldlink/internal/model"
)

// MailboxRepository persists one mailbox per destination application.
// Ordering inside a mailbox is priority tier first, then insertion order.
type MailboxRepository struct {
	db *pgxpool.Pool
}

func NewMailboxRepository(db *pgxpool.Pool) *MailboxRepository {
	return &MailboxRepository{
		db: db,
	}
}

func (r *MailboxRepository) Pool() *pgxpool.Pool {
	return r.db
}

// InsertMessage is idempotent on message id, so the kafka relay can replay
// a message without duplicating it.
func (r *MailboxRepository) InsertMessage(ctx context.Context, ext RepoExtension, message model.Message) error {
	if ext == nil {
		ext = r.db
	}

	const query = `
        INSERT INTO mailbox.messages (id, source_app, dest_app, type, payload, priority, priority_rank, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT DO NOTHING;
    `

	_, err := ext.Exec(ctx, query,
		message.ID,
		message.SourceApp,
		message.DestApp,
		message.Type,
		message.Payload,
		message.Priority,
		message.Priority.Rank(),
		message.CreatedAt,
	)
	if err != nil {
		return err
	}

	return nil
}

// UpdateAsDelivered is a no-op for already delivered or unknown ids.
func (r *MailboxRepository) UpdateAsDelivered(ctx context.Context, ext RepoExtension, messageID uuid.UUID) error {
	if ext == nil {
		ext = r.db
	}

	const query = `
        UPDATE mailbox.messages
        SET delivered = true, delivered_at = NOW()
        WHERE id = $1 AND delivered = false;
    `

	_, err := ext.Exec(ctx, query, messageID)
	if err != nil {
		return err
	}

	return nil
}

// SelectUndeliveredBatch returns the next flush batch for one mailbox:
// highest priority tier first, FIFO within a tier.
func (r *MailboxRepository) SelectUndeliveredBatch(ctx context.Context, ext RepoExtension, destApp model.AppID, batchSize int) ([]model.Message, error) {
	if ext == nil {
		ext = r.db
	}

	const query = `
        SELECT id, source_app, dest_app, type, payload, priority, created_at, delivered, delivered_at, relayed, relayed_at
        FROM mailbox.messages
        WHERE dest_app = $1 AND delivered = false
        ORDER BY priority_rank DESC, seq
        LIMIT $2;
    `

	return r.selectBatch(ctx, ext, query, destApp, batchSize)
}

// SelectUnrelayedBatch returns undelivered messages addressed to the given
// app that have not yet been shipped over the relay.
func (r *MailboxRepository) SelectUnrelayedBatch(ctx context.Context, ext RepoExtension, destApp model.AppID, batchSize int) ([]model.Message, error) {
	if ext == nil {
		ext = r.db
	}

	const query = `
        SELECT id, source_app, dest_app, type, payload, priority, created_at, delivered, delivered_at, relayed, relayed_at
        FROM mailbox.messages
        WHERE dest_app = $1 AND relayed = false AND delivered = false
        ORDER BY priority_rank DESC, seq
        LIMIT $2;
    `

	return r.selectBatch(ctx, ext, query, destApp, batchSize)
}

func (r *MailboxRepository) UpdateAsRelayed(ctx context.Context, ext RepoExtension, messageID uuid.UUID) error {
	if ext == nil {
		ext = r.db
	}

	const query = `
        UPDATE mailbox.messages
        SET relayed = true, relayed_at = NOW()
        WHERE id = $1;
    `

	_, err := ext.Exec(ctx, query, messageID)
	if err != nil {
		return err
	}

	return nil
}

// CountPending reports the undelivered backlog of one mailbox, used to
// enforce the mailbox cap.
func (r *MailboxRepository) CountPending(ctx context.Context, ext RepoExtension, destApp model.AppID) (int, error) {
	if ext == nil {
		ext = r.db
	}

	const query = `
        SELECT COUNT(*)
        FROM mailbox.messages
        WHERE dest_app = $1 AND delivered = false;
    `

	var count int
	if err := ext.QueryRow(ctx, query, destApp).Scan(&count); err != nil {
		return 0, err
	}

	return count, nil
}

func (r *MailboxRepository) selectBatch(ctx context.Context, ext RepoExtension, query string, destApp model.AppID, batchSize int) ([]model.Message, error) {
	rows, err := ext.Query(ctx, query, destApp, batchSize)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var messages []model.Message

	for rows.Next() {
		var message model.Message
		if err := rows.Scan(
			&message.ID,
			&message.SourceApp,
			&message.DestApp,
			&message.Type,
			&message.Payload,
			&message.Priority,
			&message.CreatedAt,
			&message.Delivered,
			&message.DeliveredAt,
			&message.Relayed,
			&message.RelayedAt,
		); err != nil {
			return nil, err
		}

		messages = append(messages, message)
	}

	return messages, rows.Err()
}
