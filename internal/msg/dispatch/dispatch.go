package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"goldlink/internal/model"
	"goldlink/internal/repository"
)

type Repository interface {
	SelectUndeliveredBatch(ctx context.Context, ext repository.RepoExtension, destApp model.AppID, batchSize int) ([]model.Message, error)
}

type Store interface {
	MarkDelivered(ctx context.Context, messageID uuid.UUID) error
	RetryParked(ctx context.Context)
	Nudge() <-chan struct{}
}

type Config struct {
	App           model.AppID
	FlushInterval time.Duration
	Budget        int
}

// Scheduler drains the local application's mailbox into handler dispatch.
// One cycle per tick or nudge; the per-cycle budget bounds flush latency
// under burst load. Handler failures never block sibling handlers and never
// leave the message undelivered (fire-and-forget listener contract).
type Scheduler struct {
	l        *zap.Logger
	cfg      Config
	repo     Repository
	store    Store
	registry *Registry
}

func NewScheduler(l *zap.Logger, cfg Config, repo Repository, store Store, registry *Registry) *Scheduler {
	return &Scheduler{
		l:        l,
		cfg:      cfg,
		repo:     repo,
		store:    store,
		registry: registry,
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.l.Info("Delivery scheduler stopped")

			return
		case <-ticker.C:
			s.Flush(ctx)
		case <-s.store.Nudge():
			s.Flush(ctx)
		}
	}
}

// Flush runs one delivery cycle: retry parked persists, select one budgeted
// batch (highest priority tier first, FIFO within a tier), dispatch each
// message to every handler of its type, mark delivered. A failed mark
// leaves the message for the next cycle, so handlers can be invoked again.
func (s *Scheduler) Flush(ctx context.Context) {
	s.store.RetryParked(ctx)

	messages, err := s.repo.SelectUndeliveredBatch(ctx, nil, s.cfg.App, s.cfg.Budget)
	if err != nil {
		s.l.Error("Failed to select undelivered batch", zap.Error(err))

		return
	}

	for _, msg := range messages {
		s.dispatch(ctx, msg)

		if err := s.store.MarkDelivered(ctx, msg.ID); err != nil {
			s.l.Warn("Failed to mark message as delivered, will retry",
				zap.String("message_id", msg.ID.String()),
				zap.Error(err),
			)
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, msg model.Message) {
	for _, handler := range s.registry.Handlers(msg.Type) {
		s.invoke(ctx, handler, msg)
	}
}

// invoke isolates one handler: its error or panic is recorded and does not
// reach the flush loop or the message's other handlers.
func (s *Scheduler) invoke(ctx context.Context, handler Handler, msg model.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			s.l.Error("Handler panicked",
				zap.String("message_id", msg.ID.String()),
				zap.String("type", string(msg.Type)),
				zap.Any("panic", rec),
			)
		}
	}()

	if err := handler(ctx, msg); err != nil {
		s.l.Warn("Handler returned error",
			zap.String("message_id", msg.ID.String()),
			zap.String("type", string(msg.Type)),
			zap.Error(err),
		)
	}
}
