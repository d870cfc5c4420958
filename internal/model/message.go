package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	MessageItemAvailable    MessageType = "item_available"
	MessageTradeCompleted   MessageType = "trade_completed"
	MessageComplianceUpdate MessageType = "compliance_update"
	MessageUserNotification MessageType = "user_notification"
	MessageUserLogout       MessageType = "user_logout"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageItemAvailable, MessageTradeCompleted, MessageComplianceUpdate,
		MessageUserNotification, MessageUserLogout:
		return true
	}

	return false
}

// Priority orders messages inside one mailbox. Higher rank flushes first;
// FIFO inside one rank.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}

	return false
}

// Rank maps a priority to its numeric tier for ordering in storage.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// Message is one cross-application event. Owned by the mailbox store until
// delivered; immutable after creation except the delivered flag.
type Message struct {
	ID          uuid.UUID   `db:"id" json:"id"`
	SourceApp   AppID       `db:"source_app" json:"sourceApp"`
	DestApp     AppID       `db:"dest_app" json:"destApp"`
	Type        MessageType `db:"type" json:"type"`
	Payload     []byte      `db:"payload" json:"payload"`
	Priority    Priority    `db:"priority" json:"priority"`
	CreatedAt   time.Time   `db:"created_at" json:"createdAt"`
	Delivered   bool        `db:"delivered" json:"delivered"`
	DeliveredAt *time.Time  `db:"delivered_at" json:"deliveredAt,omitempty"`
	Relayed     bool        `db:"relayed" json:"-"`
	RelayedAt   *time.Time  `db:"relayed_at" json:"-"`
}

// SendRequest is the JSON body accepted by the send endpoint.
type SendRequest struct {
	DestApp  AppID       `binding:"required" json:"destApp"`
	Type     MessageType `binding:"required" json:"type"`
	Priority Priority    `binding:"required" json:"priority"`
	Payload  json.RawMessage `binding:"required" json:"payload"`
}
