package mailbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"goldlink/internal/apperrors"
	"goldlink/internal/model"
	"goldlink/internal/repository"
)

type Repository interface {
	InsertMessage(ctx context.Context, ext repository.RepoExtension, message model.Message) error
	UpdateAsDelivered(ctx context.Context, ext repository.RepoExtension, messageID uuid.UUID) error
	CountPending(ctx context.Context, ext repository.RepoExtension, destApp model.AppID) (int, error)
}

type Config struct {
	LocalApp       model.AppID
	Cap            int
	PersistRetries int
}

// Store is the durable message mailbox. Every send persists synchronously;
// a failed persist parks the message in an in-process queue that the
// delivery scheduler retries each cycle, so a transient I/O failure loses
// nothing (only a crash between enqueue and persist can).
type Store struct {
	l    *zap.Logger
	cfg  Config
	repo Repository

	mu      sync.Mutex
	pending []parkedMessage

	nudge chan struct{}
}

type parkedMessage struct {
	message  model.Message
	attempts int
	warned   bool
}

func NewStore(l *zap.Logger, cfg Config, repo Repository) *Store {
	return &Store{
		l:     l,
		cfg:   cfg,
		repo:  repo,
		nudge: make(chan struct{}, 1),
	}
}

// Nudge signals an immediate-delivery attempt to the local scheduler. Fired
// on sends addressed to the local application; an optimization only, the
// periodic flush is what guarantees delivery.
func (s *Store) Nudge() <-chan struct{} {
	return s.nudge
}

// Send validates, persists and enqueues one message, returning its id.
// Validation failures are synchronous and keep the message out of the
// mailbox entirely.
func (s *Store) Send(
	ctx context.Context,
	sourceApp, destApp model.AppID,
	messageType model.MessageType,
	payload model.Payload,
	priority model.Priority,
) (uuid.UUID, error) {
	if !sourceApp.Valid() || !destApp.Valid() {
		return uuid.Nil, apperrors.ErrUnknownApp
	}

	if !messageType.Valid() {
		return uuid.Nil, apperrors.ErrUnknownMessageType
	}

	if !priority.Valid() {
		priority = model.PriorityMedium
	}

	encoded, err := model.EncodePayload(messageType, payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidPayload, err)
	}

	backlog, err := s.repo.CountPending(ctx, nil, destApp)
	if err != nil {
		s.l.Warn("Failed to count mailbox backlog", zap.Error(err))
	} else if s.cfg.Cap > 0 && backlog >= s.cfg.Cap {
		return uuid.Nil, apperrors.ErrMailboxFull
	}

	message := model.Message{
		ID:        uuid.New(),
		SourceApp: sourceApp,
		DestApp:   destApp,
		Type:      messageType,
		Payload:   encoded,
		Priority:  priority,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.repo.InsertMessage(ctx, nil, message); err != nil {
		s.park(message)
		s.l.Warn("Failed to persist message, parked for retry",
			zap.String("message_id", message.ID.String()),
			zap.Error(err),
		)
	}

	if destApp == s.cfg.LocalApp {
		select {
		case s.nudge <- struct{}{}:
		default:
		}
	}

	return message.ID, nil
}

// MarkDelivered is idempotent; marking an already delivered or unknown
// message is a no-op.
func (s *Store) MarkDelivered(ctx context.Context, messageID uuid.UUID) error {
	return s.repo.UpdateAsDelivered(ctx, nil, messageID)
}

// PendingCount reports undelivered messages addressed to the local
// application.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	return s.repo.CountPending(ctx, nil, s.cfg.LocalApp)
}

// RetryParked replays parked messages into the repository. Called by the
// scheduler at the start of every flush cycle. Messages that keep failing
// past the retry budget are reported once as a warning and kept.
func (s *Store) RetryParked(ctx context.Context) {
	s.mu.Lock()
	parked := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, p := range parked {
		if err := s.repo.InsertMessage(ctx, nil, p.message); err != nil {
			p.attempts++
			if p.attempts >= s.cfg.PersistRetries && !p.warned {
				p.warned = true
				s.l.Warn("Message persist still failing after retries",
					zap.String("message_id", p.message.ID.String()),
					zap.Int("attempts", p.attempts),
					zap.Error(err),
				)
			}

			s.mu.Lock()
			s.pending = append(s.pending, p)
			s.mu.Unlock()
		}
	}
}

// ParkedCount reports the in-process persist-retry backlog.
func (s *Store) ParkedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pending)
}

func (s *Store) park(message model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, parkedMessage{message: message})
}
