// Package queue holds mutating operations attempted while disconnected and
// replays them in order, with a bounded retry count, once connectivity
// returns. The queue never raises remote failures to the caller that
// enqueued the operation; recovery is owned entirely here.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"focusline/internal/domain"
	"focusline/internal/storage"
)

// Executor runs one queued operation against the remote collaborator
// mapped by its operation tag. A returned error signals failure.
type Executor func(ctx context.Context, op domain.QueuedOperation) error

// DiscardFunc is notified when an operation exceeds the retry ceiling and
// is dropped. The surrounding app surfaces this to the user; the queue only
// logs it.
type DiscardFunc func(op domain.QueuedOperation, err error)

// Options configure a Queue. Store is required; everything else has a
// default.
type Options struct {
	Store       storage.KV
	StorageKey  string
	MaxAttempts int
	Execute     Executor
	OnDiscard   DiscardFunc
	Logger      *zap.Logger
	Now         func() time.Time
}

// DrainResult reports the outcome of one drain pass.
type DrainResult struct {
	Executed  int `json:"executed"`
	Requeued  int `json:"requeued"`
	Discarded int `json:"discarded"`
}

type Queue struct {
	mu        sync.Mutex
	items     []domain.QueuedOperation
	draining  bool
	online    bool
	discarded int
	seq       uint64

	store       storage.KV
	storageKey  string
	maxAttempts int
	execute     Executor
	onDiscard   DiscardFunc
	log         *zap.Logger
	now         func() time.Time
}

// New builds a queue and loads any persisted backlog. Corrupt or unreadable
// persisted state loads fail-open as an empty queue; a process restart while
// offline must never lose the ability to enqueue.
func New(ctx context.Context, opts Options) *Queue {
	q := &Queue{
		store:       opts.Store,
		storageKey:  opts.StorageKey,
		maxAttempts: opts.MaxAttempts,
		execute:     opts.Execute,
		onDiscard:   opts.OnDiscard,
		log:         opts.Logger,
		now:         opts.Now,
	}
	if q.storageKey == "" {
		q.storageKey = storage.KeyOfflineQueue
	}
	if q.maxAttempts <= 0 {
		q.maxAttempts = 3
	}
	if q.log == nil {
		q.log = zap.NewNop()
	}
	if q.now == nil {
		q.now = time.Now
	}
	q.load(ctx)
	return q
}

func (q *Queue) load(ctx context.Context) {
	raw, err := q.store.Get(ctx, q.storageKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			q.log.Warn("queue state unreadable, starting empty", zap.Error(err))
		}
		return
	}
	var items []domain.QueuedOperation
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		q.log.Warn("queue state corrupt, starting empty", zap.Error(err))
		return
	}
	q.items = items
}

// Enqueue appends an operation and returns its identifier. The caller is
// answered immediately; if the queue believes it is online a drain pass is
// fired without blocking.
func (q *Queue) Enqueue(ctx context.Context, opTag string, payload json.RawMessage, metadata map[string]string) string {
	q.mu.Lock()
	now := q.now()
	q.seq++
	op := domain.QueuedOperation{
		ID:         uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s|%d|%d", opTag, now.UnixNano(), q.seq))).String(),
		Op:         opTag,
		Payload:    payload,
		Metadata:   metadata,
		EnqueuedAt: now.UTC().Format(time.RFC3339),
	}
	q.items = append(q.items, op)
	q.persistLocked(ctx)
	online := q.online
	q.mu.Unlock()

	q.log.Debug("operation enqueued", zap.String("id", op.ID), zap.String("op", opTag))
	if online {
		go q.Drain(context.WithoutCancel(ctx))
	}
	return op.ID
}

// Drain runs at most one pass at a time. Successful head operations are
// removed and the pass continues; the first failure requeues or discards the
// head and ends the pass, deferring the rest of the backlog to the next
// trigger so a persistently failing remote cannot spin-loop.
func (q *Queue) Drain(ctx context.Context) DrainResult {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return DrainResult{}
	}
	q.draining = true
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	var res DrainResult
	for {
		q.mu.Lock()
		if !q.online || len(q.items) == 0 {
			q.mu.Unlock()
			return res
		}
		head := q.items[0]
		q.mu.Unlock()

		err := q.run(ctx, head)

		q.mu.Lock()
		idx := q.indexLocked(head.ID)
		if idx < 0 {
			// Cleared while the operation was in flight; nothing to settle.
			q.mu.Unlock()
			continue
		}
		if err == nil {
			q.items = append(q.items[:idx], q.items[idx+1:]...)
			q.persistLocked(ctx)
			q.mu.Unlock()
			res.Executed++
			continue
		}
		op := q.items[idx]
		op.Attempts++
		q.items = append(q.items[:idx], q.items[idx+1:]...)
		if op.Attempts >= q.maxAttempts {
			q.discarded++
			q.persistLocked(ctx)
			q.mu.Unlock()
			res.Discarded++
			q.log.Warn("operation discarded after retry ceiling",
				zap.String("id", op.ID), zap.String("op", op.Op),
				zap.Int("attempts", op.Attempts), zap.Error(err))
			if q.onDiscard != nil {
				q.onDiscard(op, err)
			}
		} else {
			q.items = append(q.items, op)
			q.persistLocked(ctx)
			q.mu.Unlock()
			res.Requeued++
			q.log.Info("operation requeued",
				zap.String("id", op.ID), zap.String("op", op.Op),
				zap.Int("attempts", op.Attempts), zap.Error(err))
		}
		return res
	}
}

func (q *Queue) run(ctx context.Context, op domain.QueuedOperation) error {
	if q.execute == nil {
		return errors.New("no executor configured")
	}
	return q.execute(ctx, op)
}

// SetOnline feeds the connectivity signal. An offline-to-online transition
// triggers a drain without blocking the notifier.
func (q *Queue) SetOnline(online bool) {
	q.mu.Lock()
	was := q.online
	q.online = online
	q.mu.Unlock()
	if online && !was {
		go q.Drain(context.Background())
	}
}

// Online reports the last connectivity signal received.
func (q *Queue) Online() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.online
}

// Len is the current pending count.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// DiscardedCount is the number of operations dropped after exceeding the
// retry ceiling since this queue was constructed.
func (q *Queue) DiscardedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.discarded
}

// Items returns a copy of the pending backlog for diagnostics.
func (q *Queue) Items() []domain.QueuedOperation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.QueuedOperation, len(q.items))
	copy(out, q.items)
	return out
}

// Clear empties the queue and persists the empty sequence. User-initiated
// reset only.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	if err := q.store.Set(ctx, q.storageKey, "[]"); err != nil {
		return fmt.Errorf("persist cleared queue: %w", err)
	}
	return nil
}

func (q *Queue) indexLocked(id string) int {
	for i, op := range q.items {
		if op.ID == id {
			return i
		}
	}
	return -1
}

// persistLocked serializes the full queue after every mutation. Write
// failures are logged and do not roll back the in-memory state.
func (q *Queue) persistLocked(ctx context.Context) {
	data, err := json.Marshal(q.items)
	if err != nil {
		q.log.Error("marshal queue state", zap.Error(err))
		return
	}
	if err := q.store.Set(ctx, q.storageKey, string(data)); err != nil {
		q.log.Error("persist queue state", zap.Error(err))
	}
}
