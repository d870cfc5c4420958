package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NotificationFeedCap bounds the per-user feed. Insertion beyond the cap
// evicts the oldest entries.
const NotificationFeedCap = 100

type Notification struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	UserID    uuid.UUID       `db:"user_id" json:"userID"`
	FromApp   AppID           `db:"from_app" json:"fromApp"`
	Type      MessageType     `db:"type" json:"type"`
	Title     string          `db:"title" json:"title"`
	Body      string          `db:"body" json:"body"`
	Payload   json.RawMessage `db:"payload" json:"payload,omitempty"`
	Priority  Priority        `db:"priority" json:"priority"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
	Read      bool            `db:"read" json:"read"`
}

type MarkReadRequest struct {
	ID uuid.UUID `binding:"required" json:"id"`
}
