package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
)

type ConsumerBalanceStrategy int

const (
	RoundrobinBalanceStrategy ConsumerBalanceStrategy = iota
	RangeBalanceStrategy
	StickyBalanceStrategy
)

// MessageWithMarkFunc pairs a consumed message with the offset-mark callback
// of its consumer group session.
type MessageWithMarkFunc struct {
	Message *sarama.ConsumerMessage
	Mark    func()
}

type ConsumerGroupRunner interface {
	Run()
	Messages() <-chan *MessageWithMarkFunc
	Info() <-chan string
	Close() error
}

type ConsumerOption func(*sarama.Config)

func WithBalancerConsumer(strategy ConsumerBalanceStrategy) ConsumerOption {
	return func(cfg *sarama.Config) {
		switch strategy {
		case RangeBalanceStrategy:
			cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
		case StickyBalanceStrategy:
			cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategySticky()}
		default:
			cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
		}
	}
}

type GroupRunner struct {
	group    sarama.ConsumerGroup
	topics   []string
	messages chan *MessageWithMarkFunc
	info     chan string
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewConsumerGroupRunner(
	brokers []string,
	groupID string,
	topics []string,
	bufferSize int,
	opts ...ConsumerOption,
) (*GroupRunner, error) {
	cfg := sarama.NewConfig()
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true

	for _, opt := range opts {
		opt(cfg)
	}

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &GroupRunner{
		group:    group,
		topics:   topics,
		messages: make(chan *MessageWithMarkFunc, bufferSize),
		info:     make(chan string, 1),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Run consumes until Close. Rebalances re-enter Consume, which is the
// sarama contract.
func (r *GroupRunner) Run() {
	handler := &groupHandler{out: r.messages, info: r.info}

	for {
		if err := r.group.Consume(r.ctx, r.topics, handler); err != nil {
			if r.ctx.Err() != nil {
				close(r.messages)
				return
			}
		}

		if r.ctx.Err() != nil {
			close(r.messages)
			return
		}
	}
}

func (r *GroupRunner) Messages() <-chan *MessageWithMarkFunc {
	return r.messages
}

func (r *GroupRunner) Info() <-chan string {
	return r.info
}

func (r *GroupRunner) Close() error {
	r.cancel()
	return r.group.Close()
}

type groupHandler struct {
	out  chan *MessageWithMarkFunc
	info chan string
}

func (h *groupHandler) Setup(session sarama.ConsumerGroupSession) error {
	select {
	case h.info <- fmt.Sprintf("consumer group running, claims: %v", session.Claims()):
	default:
	}

	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			h.out <- &MessageWithMarkFunc{
				Message: msg,
				Mark: func() {
					session.MarkMessage(msg, "")
				},
			}
		case <-session.Context().Done():
			return nil
		}
	}
}
