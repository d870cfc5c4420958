// Package relay bridges the two applications' mailboxes over Kafka when
// they do not share one persistence substrate. The publisher ships messages
// addressed to the sibling application to its topic; the subscriber lands
// received messages in the local mailbox, where the ordinary delivery
// scheduler picks them up. Message ids make the landing idempotent.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"goldlink/internal/model"
	"goldlink/internal/repository"
	"goldlink/pkg/kafka"
)

const pipeSizeMultiply = 5

type Repository interface {
	InsertMessage(ctx context.Context, ext repository.RepoExtension, message model.Message) error
	SelectUnrelayedBatch(ctx context.Context, ext repository.RepoExtension, destApp model.AppID, batchSize int) ([]model.Message, error)
	UpdateAsRelayed(ctx context.Context, ext repository.RepoExtension, messageID uuid.UUID) error
}

type PublisherConfig struct {
	Name         string
	SiblingApp   model.AppID
	Topic        string
	WorkerCount  int
	PollInterval time.Duration
	BatchSize    int
}

type Publisher struct {
	l        *zap.Logger
	cfg      PublisherConfig
	producer kafka.Producer
	repo     Repository
}

func NewPublisher(l *zap.Logger, cfg PublisherConfig, producer kafka.Producer, repo Repository) *Publisher {
	return &Publisher{
		l:        l,
		cfg:      cfg,
		producer: producer,
		repo:     repo,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	messagePipe := make(chan model.Message, p.cfg.BatchSize*pipeSizeMultiply)

	for i := 0; i < p.cfg.WorkerCount; i++ {
		go p.worker(ctx, i, messagePipe)
	}

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.l.Info("Relay publisher stopped")
			close(messagePipe)

			return
		case <-ticker.C:
			messages, err := p.repo.SelectUnrelayedBatch(ctx, nil, p.cfg.SiblingApp, p.cfg.BatchSize)
			if err != nil {
				p.l.Error("Failed to select unrelayed messages", zap.Error(err))
				continue
			}

			for _, msg := range messages {
				messagePipe <- msg
			}
		}
	}
}

func (p *Publisher) worker(ctx context.Context, id int, messagePipe <-chan model.Message) {
	p.l.Info("Relay worker started", zap.Int("id", id))

	for {
		select {
		case <-ctx.Done():
			p.l.Info("Relay worker stopping", zap.Int("id", id))

			return
		case msg, ok := <-messagePipe:
			if !ok {
				return
			}

			if err := p.shipAndMark(ctx, msg); err != nil {
				p.l.Error("Failed to relay message",
					zap.String("message_id", msg.ID.String()),
					zap.Error(err),
				)

				continue
			}

			p.l.Debug("Message relayed",
				zap.String("message_id", msg.ID.String()),
				zap.String("dest_app", msg.DestApp.String()),
			)
		}
	}
}

func (p *Publisher) shipAndMark(ctx context.Context, message model.Message) error {
	key, err := message.ID.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal message id: %w", err)
	}

	value, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, _, err := p.producer.PushMessage(ctx, key, value, p.cfg.Topic); err != nil {
		return fmt.Errorf("failed to push message: %w", err)
	}

	if err := p.repo.UpdateAsRelayed(ctx, nil, message.ID); err != nil {
		return fmt.Errorf("failed to update as relayed: %w", err)
	}

	return nil
}

type SubscriberConfig struct {
	Name        string
	LocalApp    model.AppID
	WorkerCount int
}

type Subscriber struct {
	l        *zap.Logger
	cfg      SubscriberConfig
	consumer kafka.ConsumerGroupRunner
	repo     Repository
}

func NewSubscriber(l *zap.Logger, cfg SubscriberConfig, consumer kafka.ConsumerGroupRunner, repo Repository) *Subscriber {
	return &Subscriber{
		l:        l,
		cfg:      cfg,
		consumer: consumer,
		repo:     repo,
	}
}

func (s *Subscriber) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		s.consumer.Run()
	}()

	messagePipe := make(chan *kafka.MessageWithMarkFunc)

	for i := 0; i < s.cfg.WorkerCount; i++ {
		go s.worker(ctx, i, messagePipe)
	}

	for {
		select {
		case <-ctx.Done():
			s.l.Info("Relay subscriber stopped")
			close(messagePipe)

			return
		case msg, ok := <-s.consumer.Messages():
			if !ok {
				s.l.Info("Consumer messages channel closed")
				close(messagePipe)

				return
			}

			messagePipe <- msg
		}
	}
}

func (s *Subscriber) worker(ctx context.Context, id int, messagePipe <-chan *kafka.MessageWithMarkFunc) {
	s.l.Info("Relay subscriber worker started", zap.Int("worker_id", id))

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messagePipe:
			if !ok {
				return
			}

			if err := s.land(ctx, msg); err != nil {
				s.l.Error("Failed to land relayed message", zap.Int("worker_id", id), zap.Error(err))
			}

			msg.Mark()
		}
	}
}

// land inserts the relayed message into the local mailbox. Messages not
// addressed to this application and duplicates are dropped silently.
func (s *Subscriber) land(ctx context.Context, incoming *kafka.MessageWithMarkFunc) error {
	var message model.Message
	if err := json.Unmarshal(incoming.Message.Value, &message); err != nil {
		return fmt.Errorf("failed to unmarshal relayed message: %w", err)
	}

	if message.DestApp != s.cfg.LocalApp {
		return nil
	}

	// The copy in the local mailbox starts its own delivery lifecycle.
	message.Delivered = false
	message.DeliveredAt = nil
	message.Relayed = true

	if err := s.repo.InsertMessage(ctx, nil, message); err != nil {
		return fmt.Errorf("failed to insert relayed message: %w", err)
	}

	return nil
}
