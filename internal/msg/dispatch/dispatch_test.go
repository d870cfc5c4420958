package dispatch

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"goldlink/internal/model"
	"goldlink/internal/msg/mailbox"
	"goldlink/internal/repository"
)

type fakeBatchRepo struct {
	messages  []model.Message
	batchSize int
}

func (r *fakeBatchRepo) SelectUndeliveredBatch(_ context.Context, _ repository.RepoExtension, destApp model.AppID, batchSize int) ([]model.Message, error) {
	r.batchSize = batchSize

	var batch []model.Message
	for _, msg := range r.messages {
		if msg.DestApp == destApp && !msg.Delivered {
			batch = append(batch, msg)
		}
	}

	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].Priority.Rank() > batch[j].Priority.Rank()
	})

	if len(batch) > batchSize {
		batch = batch[:batchSize]
	}

	return batch, nil
}

type fakeStore struct {
	repo      *fakeBatchRepo
	markErr   error
	retried   int
	delivered []uuid.UUID
	nudge     chan struct{}
}

func newFakeStore(repo *fakeBatchRepo) *fakeStore {
	return &fakeStore{repo: repo, nudge: make(chan struct{}, 1)}
}

func (s *fakeStore) MarkDelivered(_ context.Context, messageID uuid.UUID) error {
	if s.markErr != nil {
		return s.markErr
	}

	for i := range s.repo.messages {
		if s.repo.messages[i].ID == messageID {
			s.repo.messages[i].Delivered = true
		}
	}

	s.delivered = append(s.delivered, messageID)

	return nil
}

func (s *fakeStore) RetryParked(_ context.Context) {
	s.retried++
}

func (s *fakeStore) Nudge() <-chan struct{} {
	return s.nudge
}

func newTestScheduler(repo *fakeBatchRepo, store *fakeStore, registry *Registry, budget int) *Scheduler {
	return NewScheduler(zap.NewNop(), Config{
		App:           model.AppField,
		FlushInterval: time.Second,
		Budget:        budget,
	}, repo, store, registry)
}

func message(priority model.Priority, seq int) model.Message {
	return model.Message{
		ID:        uuid.New(),
		SourceApp: model.AppTrade,
		DestApp:   model.AppField,
		Type:      model.MessageUserLogout,
		Payload:   []byte(`{"userID":"00000000-0000-0000-0000-000000000000"}`),
		Priority:  priority,
		CreatedAt: time.Unix(int64(seq), 0),
	}
}

func TestFlushPriorityThenFIFO(t *testing.T) {
	repo := &fakeBatchRepo{messages: []model.Message{
		message(model.PriorityLow, 1),
		message(model.PriorityUrgent, 2),
		message(model.PriorityMedium, 3),
		message(model.PriorityUrgent, 4),
	}}
	store := newFakeStore(repo)
	registry := NewRegistry()

	var got []uuid.UUID
	registry.Subscribe(model.MessageUserLogout, func(_ context.Context, msg model.Message) error {
		got = append(got, msg.ID)

		return nil
	})

	scheduler := newTestScheduler(repo, store, registry, 10)
	scheduler.Flush(context.Background())

	want := []uuid.UUID{
		repo.messages[1].ID, // urgent, earlier
		repo.messages[3].ID, // urgent, later
		repo.messages[2].ID, // medium
		repo.messages[0].ID, // low
	}

	if len(got) != len(want) {
		t.Fatalf("dispatched %d messages, want %d", len(got), len(want))
	}

	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dispatch order[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	if len(store.delivered) != 4 {
		t.Fatalf("marked %d delivered, want 4", len(store.delivered))
	}

	if store.retried != 1 {
		t.Fatalf("RetryParked called %d times, want 1", store.retried)
	}
}

func TestFlushHandlerErrorStillDelivers(t *testing.T) {
	repo := &fakeBatchRepo{messages: []model.Message{message(model.PriorityHigh, 1)}}
	store := newFakeStore(repo)
	registry := NewRegistry()

	registry.Subscribe(model.MessageUserLogout, func(context.Context, model.Message) error {
		return errors.New("listener exploded")
	})

	scheduler := newTestScheduler(repo, store, registry, 10)
	scheduler.Flush(context.Background())

	if len(store.delivered) != 1 {
		t.Fatalf("errored handler must not block delivery, marked %d", len(store.delivered))
	}
}

func TestFlushHandlerPanicIsolated(t *testing.T) {
	repo := &fakeBatchRepo{messages: []model.Message{message(model.PriorityHigh, 1)}}
	store := newFakeStore(repo)
	registry := NewRegistry()

	registry.Subscribe(model.MessageUserLogout, func(context.Context, model.Message) error {
		panic("listener panicked")
	})

	var sibling int
	registry.Subscribe(model.MessageUserLogout, func(context.Context, model.Message) error {
		sibling++

		return nil
	})

	scheduler := newTestScheduler(repo, store, registry, 10)
	scheduler.Flush(context.Background())

	if sibling != 1 {
		t.Fatalf("sibling handler invoked %d times, want 1", sibling)
	}

	if len(store.delivered) != 1 {
		t.Fatalf("panicking handler must not block delivery, marked %d", len(store.delivered))
	}
}

func TestFlushRespectsBudget(t *testing.T) {
	repo := &fakeBatchRepo{}
	for i := 0; i < 5; i++ {
		repo.messages = append(repo.messages, message(model.PriorityMedium, i))
	}
	store := newFakeStore(repo)

	scheduler := newTestScheduler(repo, store, NewRegistry(), 2)
	scheduler.Flush(context.Background())

	if repo.batchSize != 2 {
		t.Fatalf("batch size = %d, want 2", repo.batchSize)
	}

	if len(store.delivered) != 2 {
		t.Fatalf("marked %d delivered, want 2", len(store.delivered))
	}
}

func TestFlushMarkFailureRedelivers(t *testing.T) {
	repo := &fakeBatchRepo{messages: []model.Message{message(model.PriorityMedium, 1)}}
	store := newFakeStore(repo)
	registry := NewRegistry()

	var invocations int
	registry.Subscribe(model.MessageUserLogout, func(context.Context, model.Message) error {
		invocations++

		return nil
	})

	scheduler := newTestScheduler(repo, store, registry, 10)

	store.markErr = errors.New("write timeout")
	scheduler.Flush(context.Background())

	store.markErr = nil
	scheduler.Flush(context.Background())

	// At-least-once: a failed delivery mark means the handler runs again.
	if invocations != 2 {
		t.Fatalf("handler invoked %d times, want 2", invocations)
	}
}

// durableRepo backs both the mailbox store and the scheduler, standing in
// for the Postgres table that survives a process restart.
type durableRepo struct {
	messages []model.Message
}

func (r *durableRepo) InsertMessage(_ context.Context, _ repository.RepoExtension, message model.Message) error {
	r.messages = append(r.messages, message)

	return nil
}

func (r *durableRepo) UpdateAsDelivered(_ context.Context, _ repository.RepoExtension, messageID uuid.UUID) error {
	for i := range r.messages {
		if r.messages[i].ID == messageID {
			r.messages[i].Delivered = true
		}
	}

	return nil
}

func (r *durableRepo) CountPending(_ context.Context, _ repository.RepoExtension, destApp model.AppID) (int, error) {
	var pending int
	for _, msg := range r.messages {
		if msg.DestApp == destApp && !msg.Delivered {
			pending++
		}
	}

	return pending, nil
}

func (r *durableRepo) SelectUndeliveredBatch(_ context.Context, _ repository.RepoExtension, destApp model.AppID, batchSize int) ([]model.Message, error) {
	var batch []model.Message
	for _, msg := range r.messages {
		if msg.DestApp == destApp && !msg.Delivered {
			batch = append(batch, msg)
		}
	}

	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].Priority.Rank() > batch[j].Priority.Rank()
	})

	if len(batch) > batchSize {
		batch = batch[:batchSize]
	}

	return batch, nil
}

// A message enqueued before a crash is still pending after restart and the
// first flush of the new process delivers it exactly once.
func TestFlushDeliversBacklogAfterRestart(t *testing.T) {
	ctx := context.Background()
	repo := &durableRepo{}

	before := mailbox.NewStore(zap.NewNop(), mailbox.Config{LocalApp: model.AppField, Cap: 100}, repo)

	id, err := before.Send(ctx, model.AppTrade, model.AppField,
		model.MessageUserLogout,
		model.UserLogoutPayload{UserID: uuid.New()},
		model.PriorityHigh,
	)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	// Fresh store, registry and scheduler over the same rows.
	store := mailbox.NewStore(zap.NewNop(), mailbox.Config{LocalApp: model.AppField, Cap: 100}, repo)
	registry := NewRegistry()

	var got []uuid.UUID
	registry.Subscribe(model.MessageUserLogout, func(_ context.Context, msg model.Message) error {
		got = append(got, msg.ID)

		return nil
	})

	if pending, _ := repo.CountPending(ctx, nil, model.AppField); pending != 1 {
		t.Fatalf("pending after restart = %d, want 1", pending)
	}

	scheduler := NewScheduler(zap.NewNop(), Config{
		App:           model.AppField,
		FlushInterval: time.Second,
		Budget:        10,
	}, repo, store, registry)

	scheduler.Flush(ctx)

	if len(got) != 1 || got[0] != id {
		t.Fatalf("delivered %v, want exactly [%s]", got, id)
	}

	if pending, _ := repo.CountPending(ctx, nil, model.AppField); pending != 0 {
		t.Fatalf("pending after flush = %d, want 0", pending)
	}

	scheduler.Flush(ctx)

	if len(got) != 1 {
		t.Fatalf("delivered message flushed again, handler ran %d times", len(got))
	}
}

func TestFlushNoHandlersStillDelivers(t *testing.T) {
	repo := &fakeBatchRepo{messages: []model.Message{message(model.PriorityMedium, 1)}}
	store := newFakeStore(repo)

	scheduler := newTestScheduler(repo, store, NewRegistry(), 10)
	scheduler.Flush(context.Background())

	if len(store.delivered) != 1 {
		t.Fatalf("message without subscribers must still be marked, marked %d", len(store.delivered))
	}
}
