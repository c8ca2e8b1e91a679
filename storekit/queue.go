package storekit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	storeErrors "github.com/weavehq/go-store-kit/errors"
	"github.com/weavehq/go-store-kit/logging"
)

type queueOp string

const (
	queueOpSet    queueOp = "set"
	queueOpRemove queueOp = "remove"
)

// queueEntry is one remote write awaiting replication.
type queueEntry struct {
	Key        string
	Value      Value
	Op         queueOp
	EnqueuedAt time.Time
	RetryCount int

	// earliest time the next attempt may run
	nextAttempt time.Time

	// gen identifies the write this entry currently holds. A coalescing
	// Enqueue bumps it, so an in-flight attempt can tell whether the value it
	// carried is still the one queued.
	gen uint64
}

type exponentialBackoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
}

func (eb *exponentialBackoff) nextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(eb.initialDelay)
	for i := 0; i < attempt; i++ {
		delay *= eb.multiplier
	}

	result := time.Duration(delay)
	if result > eb.maxDelay {
		result = eb.maxDelay
	}
	return result
}

// syncQueue holds writes that could not yet be replicated to the remote
// backend. Entries are keyed by storage key: a newer write to the same key
// replaces the queued one, preserving its queue position. The queue is
// bounded; when full, the oldest entry is evicted with a warning.
type syncQueue struct {
	remote  Adapter
	cfg     Config
	backoff exponentialBackoff
	logger  *logging.Logger

	mu      sync.Mutex
	entries map[string]*queueEntry
	order   []string
	pending map[string]bool
	nextGen uint64

	totalAttempts int64
	successCount  int64
	failureCount  int64
	lastSyncAt    time.Time

	workerMu sync.Mutex
	stop     chan struct{}
}

func newSyncQueue(remote Adapter, cfg Config, logger *logging.Logger) *syncQueue {
	if logger == nil {
		logger = logging.Discard()
	}
	return &syncQueue{
		remote: remote,
		cfg:    cfg,
		backoff: exponentialBackoff{
			initialDelay: cfg.InitialBackoff,
			maxDelay:     cfg.MaxBackoff,
			multiplier:   2.0,
		},
		logger:  logger.WithComponent("sync-queue"),
		entries: make(map[string]*queueEntry),
		pending: make(map[string]bool),
	}
}

// Enqueue records a pending remote write for key.
func (q *syncQueue) Enqueue(key string, value Value, op queueOp) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextGen++

	if existing, ok := q.entries[key]; ok {
		existing.Value = value
		existing.Op = op
		existing.EnqueuedAt = time.Now()
		existing.RetryCount = 0
		existing.nextAttempt = time.Time{}
		existing.gen = q.nextGen
		return
	}

	if len(q.order) >= q.cfg.MaxQueueSize {
		oldest := q.order[0]
		q.order = q.order[1:]
		delete(q.entries, oldest)
		q.logger.Warn("sync queue full, evicted oldest entry",
			slog.String("key", oldest),
			slog.Int("max_queue_size", q.cfg.MaxQueueSize),
		)
	}

	q.entries[key] = &queueEntry{
		Key:        key,
		Value:      value,
		Op:         op,
		EnqueuedAt: time.Now(),
		gen:        q.nextGen,
	}
	q.order = append(q.order, key)
}

// Size returns the number of queued entries.
func (q *syncQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Attempt tries to replicate the queued write for key to the remote backend.
// Returns true when the key is no longer queued (success or dropped).
func (q *syncQueue) Attempt(ctx context.Context, key string) bool {
	q.mu.Lock()
	entry, ok := q.entries[key]
	if !ok || q.pending[key] {
		q.mu.Unlock()
		return !ok
	}
	q.pending[key] = true
	q.totalAttempts++
	op, value, gen := entry.Op, entry.Value, entry.gen
	q.mu.Unlock()

	var err error
	if op == queueOpSet {
		err = q.remote.Set(ctx, key, value)
	} else {
		err = q.remote.Remove(ctx, key)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, key)

	if err == nil {
		q.successCount++
		q.lastSyncAt = time.Now()
		entry, ok = q.entries[key]
		if ok && entry.gen != gen {
			// a newer write coalesced in while this one was in flight; the
			// entry now holds a value the remote has not seen yet
			return false
		}
		q.dropLocked(key)
		return true
	}

	q.failureCount++
	entry, ok = q.entries[key]
	if !ok {
		// evicted while in flight
		return true
	}
	if entry.gen != gen {
		// the failure applied to a value that has since been replaced
		return false
	}

	entry.RetryCount++
	if entry.RetryCount >= q.cfg.MaxRetries {
		q.logger.LogError(ctx, err, "max retries exceeded, dropping queued write",
			slog.String("key", key),
			slog.Int("retries", entry.RetryCount),
		)
		q.dropLocked(key)
		return true
	}

	delay := q.backoff.nextDelay(entry.RetryCount - 1)
	entry.nextAttempt = time.Now().Add(delay)
	q.logger.Warn("remote sync failed, will retry",
		slog.String("key", key),
		slog.Int("attempt", entry.RetryCount),
		slog.Int("max_retries", q.cfg.MaxRetries),
		slog.Duration("next_retry_in", delay),
		slog.String("error", err.Error()),
	)
	return false
}

func (q *syncQueue) dropLocked(key string) {
	delete(q.entries, key)
	for i, k := range q.order {
		if k == key {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

// process replicates every queued entry whose backoff delay has elapsed.
// When force is true the backoff schedule is ignored.
func (q *syncQueue) process(ctx context.Context, force bool) error {
	q.mu.Lock()
	keys := make([]string, len(q.order))
	copy(keys, q.order)
	q.mu.Unlock()

	now := time.Now()
	for _, key := range keys {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !force {
			q.mu.Lock()
			entry, ok := q.entries[key]
			ready := ok && !entry.nextAttempt.After(now)
			q.mu.Unlock()
			if !ready {
				continue
			}
		}

		q.Attempt(ctx, key)
	}
	return nil
}

// Flush drains the queue immediately, ignoring backoff delays. Idempotent
// when the queue is empty. Entries that still fail remain queued.
func (q *syncQueue) Flush(ctx context.Context) error {
	if err := q.process(ctx, true); err != nil {
		return storeErrors.WrapOpComponent(err, storeErrors.OpFlush, "sync-queue")
	}
	return nil
}

// Start launches the background worker that drains the queue every
// SyncInterval. The worker stops when ctx is canceled or Stop is called.
func (q *syncQueue) Start(ctx context.Context) error {
	q.workerMu.Lock()
	defer q.workerMu.Unlock()

	if q.stop != nil {
		return storeErrors.New(storeErrors.OpFlush, errAlreadyRunning)
	}

	stopChan := make(chan struct{})
	q.stop = stopChan

	go func() {
		ticker := time.NewTicker(q.cfg.SyncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stopChan:
				return
			case <-ticker.C:
				if err := q.process(ctx, false); err != nil {
					q.logger.LogError(ctx, err, "sync worker pass aborted")
				}
			}
		}
	}()

	return nil
}

// Stop halts the background worker.
func (q *syncQueue) Stop() {
	q.workerMu.Lock()
	defer q.workerMu.Unlock()

	if q.stop != nil {
		close(q.stop)
		q.stop = nil
	}
}

// Running reports whether the background worker is active.
func (q *syncQueue) Running() bool {
	q.workerMu.Lock()
	defer q.workerMu.Unlock()
	return q.stop != nil
}

func (q *syncQueue) statsSnapshot() SyncStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := SyncStats{
		TotalAttempts: q.totalAttempts,
		SuccessCount:  q.successCount,
		FailureCount:  q.failureCount,
		QueueSize:     len(q.entries),
		PendingCount:  len(q.pending),
	}
	if !q.lastSyncAt.IsZero() {
		t := q.lastSyncAt
		stats.LastSyncAt = &t
	}
	if q.totalAttempts > 0 {
		stats.SuccessRate = float64(q.successCount) / float64(q.totalAttempts) * 100
	}
	return stats
}
