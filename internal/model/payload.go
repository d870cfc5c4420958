package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Payload is the typed body of a Message. One concrete shape exists per
// message type, so consumers switch on the decoded value instead of digging
// through an untyped blob.
type Payload interface {
	MessageType() MessageType
}

// ItemAvailablePayload announces a newly registered inventory lot to the
// trading side.
type ItemAvailablePayload struct {
	ItemID   uuid.UUID `json:"itemID"`
	Category string    `json:"category"`
	WeightG  float64   `json:"weightG"`
	Purity   float64   `json:"purity,omitempty"`
	SiteID   string    `json:"siteID,omitempty"`
}

func (ItemAvailablePayload) MessageType() MessageType { return MessageItemAvailable }

type TradeCompletedPayload struct {
	TradeID    uuid.UUID `json:"tradeID"`
	ItemID     uuid.UUID `json:"itemID"`
	PriceCents int64     `json:"priceCents"`
	Currency   string    `json:"currency"`
	ClosedAt   time.Time `json:"closedAt"`
}

func (TradeCompletedPayload) MessageType() MessageType { return MessageTradeCompleted }

type ComplianceUpdatePayload struct {
	RecordID uuid.UUID `json:"recordID"`
	ItemID   uuid.UUID `json:"itemID,omitempty"`
	Status   string    `json:"status"`
	Note     string    `json:"note,omitempty"`
}

func (ComplianceUpdatePayload) MessageType() MessageType { return MessageComplianceUpdate }

// UserNotificationPayload carries a human-readable event for the
// notification feed of the destination application.
type UserNotificationPayload struct {
	UserID   uuid.UUID       `json:"userID"`
	Title    string          `json:"title"`
	Body     string          `json:"body"`
	Priority Priority        `json:"priority"`
	Extra    json.RawMessage `json:"extra,omitempty"`
}

func (UserNotificationPayload) MessageType() MessageType { return MessageUserNotification }

// UserLogoutPayload instructs the sibling application to clear its own
// session for the user. Delivery is best effort; sessions self-expire
// independently either way.
type UserLogoutPayload struct {
	UserID uuid.UUID `json:"userID"`
}

func (UserLogoutPayload) MessageType() MessageType { return MessageUserLogout }

// EncodePayload checks that the payload shape matches the declared message
// type and serializes it for storage.
func EncodePayload(t MessageType, p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("nil payload for type %q", t)
	}

	if p.MessageType() != t {
		return nil, fmt.Errorf("payload shape %T does not match type %q", p, t)
	}

	return json.Marshal(p)
}

// DecodePayload restores the typed payload of a stored message.
func DecodePayload(msg Message) (Payload, error) {
	var (
		p   Payload
		err error
	)

	switch msg.Type {
	case MessageItemAvailable:
		var v ItemAvailablePayload
		err = json.Unmarshal(msg.Payload, &v)
		p = v
	case MessageTradeCompleted:
		var v TradeCompletedPayload
		err = json.Unmarshal(msg.Payload, &v)
		p = v
	case MessageComplianceUpdate:
		var v ComplianceUpdatePayload
		err = json.Unmarshal(msg.Payload, &v)
		p = v
	case MessageUserNotification:
		var v UserNotificationPayload
		err = json.Unmarshal(msg.Payload, &v)
		p = v
	case MessageUserLogout:
		var v UserLogoutPayload
		err = json.Unmarshal(msg.Payload, &v)
		p = v
	default:
		return nil, fmt.Errorf("unknown message type %q", msg.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to decode %q payload: %w", msg.Type, err)
	}

	return p, nil
}
