package relay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"goldlink/internal/model"
	"goldlink/internal/repository"
	"goldlink/pkg/kafka"
)

type fakeRelayRepo struct {
	inserted []model.Message
	relayed  []uuid.UUID
}

func (r *fakeRelayRepo) InsertMessage(_ context.Context, _ repository.RepoExtension, message model.Message) error {
	for _, existing := range r.inserted {
		if existing.ID == message.ID {
			// ON CONFLICT DO NOTHING.
			return nil
		}
	}

	r.inserted = append(r.inserted, message)

	return nil
}

func (r *fakeRelayRepo) SelectUnrelayedBatch(_ context.Context, _ repository.RepoExtension, _ model.AppID, _ int) ([]model.Message, error) {
	return nil, nil
}

func (r *fakeRelayRepo) UpdateAsRelayed(_ context.Context, _ repository.RepoExtension, messageID uuid.UUID) error {
	r.relayed = append(r.relayed, messageID)

	return nil
}

type fakeProducer struct {
	pushed  [][]byte
	topics  []string
	pushErr error
}

func (p *fakeProducer) PushMessage(_ context.Context, _, value []byte, topic string) (int32, int64, error) {
	if p.pushErr != nil {
		return 0, 0, p.pushErr
	}

	p.pushed = append(p.pushed, value)
	p.topics = append(p.topics, topic)

	return 0, int64(len(p.pushed)), nil
}

func (p *fakeProducer) Close() error { return nil }

func relayedMessage(dest model.AppID) model.Message {
	return model.Message{
		ID:        uuid.New(),
		SourceApp: dest.Sibling(),
		DestApp:   dest,
		Type:      model.MessageItemAvailable,
		Payload:   []byte(`{"itemID":"b1946ac9-4932-4d7c-a05e-2c8f35338bb1","category":"dore_bar","weightG":500}`),
		Priority:  model.PriorityHigh,
		CreatedAt: time.Now().UTC(),
	}
}

func TestShipAndMark(t *testing.T) {
	repo := &fakeRelayRepo{}
	producer := &fakeProducer{}

	publisher := NewPublisher(zap.NewNop(), PublisherConfig{
		SiblingApp: model.AppTrade,
		Topic:      "goldlink.messages.trade",
		BatchSize:  10,
	}, producer, repo)

	msg := relayedMessage(model.AppTrade)

	if err := publisher.shipAndMark(context.Background(), msg); err != nil {
		t.Fatalf("shipAndMark() error = %v", err)
	}

	if len(producer.pushed) != 1 || producer.topics[0] != "goldlink.messages.trade" {
		t.Fatalf("message did not reach the broker topic")
	}

	var shipped model.Message
	if err := json.Unmarshal(producer.pushed[0], &shipped); err != nil {
		t.Fatalf("shipped value is not a message: %v", err)
	}

	if shipped.ID != msg.ID {
		t.Fatalf("shipped message id = %s, want %s", shipped.ID, msg.ID)
	}

	if len(repo.relayed) != 1 || repo.relayed[0] != msg.ID {
		t.Fatalf("message was not marked relayed")
	}
}

func TestShipAndMarkBrokerFailureKeepsMessage(t *testing.T) {
	repo := &fakeRelayRepo{}
	producer := &fakeProducer{pushErr: errors.New("broker down")}

	publisher := NewPublisher(zap.NewNop(), PublisherConfig{
		SiblingApp: model.AppTrade,
		Topic:      "goldlink.messages.trade",
	}, producer, repo)

	if err := publisher.shipAndMark(context.Background(), relayedMessage(model.AppTrade)); err == nil {
		t.Fatalf("shipAndMark() swallowed a broker failure")
	}

	if len(repo.relayed) != 0 {
		t.Fatalf("unshipped message must stay unrelayed")
	}
}

func landIncoming(t *testing.T, msg model.Message) *kafka.MessageWithMarkFunc {
	t.Helper()

	value, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("failed to marshal message: %v", err)
	}

	return &kafka.MessageWithMarkFunc{
		Message: &sarama.ConsumerMessage{Value: value},
		Mark:    func() {},
	}
}

func TestLandInsertsLocalCopy(t *testing.T) {
	repo := &fakeRelayRepo{}

	subscriber := NewSubscriber(zap.NewNop(), SubscriberConfig{
		LocalApp: model.AppField,
	}, nil, repo)

	msg := relayedMessage(model.AppField)
	msg.Delivered = true
	now := time.Now().UTC()
	msg.DeliveredAt = &now

	if err := subscriber.land(context.Background(), landIncoming(t, msg)); err != nil {
		t.Fatalf("land() error = %v", err)
	}

	if len(repo.inserted) != 1 {
		t.Fatalf("inserted %d messages, want 1", len(repo.inserted))
	}

	landed := repo.inserted[0]
	if landed.Delivered || landed.DeliveredAt != nil {
		t.Fatalf("landed copy must start undelivered: %+v", landed)
	}

	if !landed.Relayed {
		t.Fatalf("landed copy must be flagged relayed")
	}
}

func TestLandDropsForeignAndDuplicate(t *testing.T) {
	repo := &fakeRelayRepo{}

	subscriber := NewSubscriber(zap.NewNop(), SubscriberConfig{
		LocalApp: model.AppField,
	}, nil, repo)

	ctx := context.Background()

	// Addressed to the sibling app: dropped.
	if err := subscriber.land(ctx, landIncoming(t, relayedMessage(model.AppTrade))); err != nil {
		t.Fatalf("land() error = %v", err)
	}

	if len(repo.inserted) != 0 {
		t.Fatalf("foreign message must be dropped")
	}

	// Same message twice: landed once.
	msg := relayedMessage(model.AppField)
	for i := 0; i < 2; i++ {
		if err := subscriber.land(ctx, landIncoming(t, msg)); err != nil {
			t.Fatalf("land() error = %v", err)
		}
	}

	if len(repo.inserted) != 1 {
		t.Fatalf("duplicate relay landed %d times, want 1", len(repo.inserted))
	}
}

func TestLandRejectsGarbage(t *testing.T) {
	repo := &fakeRelayRepo{}

	subscriber := NewSubscriber(zap.NewNop(), SubscriberConfig{LocalApp: model.AppField}, nil, repo)

	incoming := &kafka.MessageWithMarkFunc{
		Message: &sarama.ConsumerMessage{Value: []byte("not json")},
		Mark:    func() {},
	}

	if err := subscriber.land(context.Background(), incoming); err == nil {
		t.Fatalf("land() accepted garbage")
	}
}
