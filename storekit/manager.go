package storekit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	storeErrors "github.com/weavehq/go-store-kit/errors"
	"github.com/weavehq/go-store-kit/logging"
)

// Manager mediates between domain services and the physical backends. It owns
// the active adapters, validates values at every write boundary, fans writes
// out to both backends in dual-write mode, and notifies subscribers.
//
// Local-first semantics: the local backend is authoritative for the current
// session. Writes land locally first and synchronously; remote replication is
// asynchronous, with failed remote writes queued for retry rather than rolled
// back locally.
type Manager struct {
	local  Adapter
	remote Adapter
	cfg    Config
	logger *logging.Logger

	locks *keyMutex
	queue *syncQueue

	validatorsMu sync.RWMutex
	validators   map[string]Validator

	subsMu    sync.RWMutex
	subs      map[string]map[int]Subscriber
	nextSubID int

	mu     sync.RWMutex
	closed bool

	workerCancel context.CancelFunc
}

// Option configures a Manager.
type Option interface {
	apply(*Manager)
}

type optionFunc func(*Manager)

func (f optionFunc) apply(m *Manager) { f(m) }

// WithRemote sets the remote backend and enables dual-write mode unless the
// supplied config overrides it.
func WithRemote(remote Adapter) Option {
	return optionFunc(func(m *Manager) {
		m.remote = remote
	})
}

// WithConfig overrides the default engine configuration.
func WithConfig(cfg Config) Option {
	return optionFunc(func(m *Manager) {
		m.cfg = cfg
	})
}

// WithLogger sets the logger used by the manager and its sync queue.
func WithLogger(logger *logging.Logger) Option {
	return optionFunc(func(m *Manager) {
		m.logger = logger
	})
}

// WithValidator registers a validator for a collection key at construction.
func WithValidator(key string, v Validator) Option {
	return optionFunc(func(m *Manager) {
		m.validators[key] = v
	})
}

// New creates a Manager over the given local backend. Supplying a remote
// backend via WithRemote switches the manager to dual-write mode and starts
// the background sync worker (unless disabled by config).
func New(local Adapter, opts ...Option) (*Manager, error) {
	if local == nil {
		return nil, fmt.Errorf("local adapter is required")
	}

	m := &Manager{
		local:      local,
		cfg:        DefaultConfig(),
		logger:     logging.Discard(),
		locks:      newKeyMutex(),
		validators: make(map[string]Validator),
		subs:       make(map[string]map[int]Subscriber),
	}

	for _, opt := range opts {
		opt.apply(m)
	}

	if m.remote != nil && m.cfg.Mode == ModeLocalOnly {
		m.cfg.Mode = ModeDualWrite
	}
	if err := m.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if m.cfg.Mode == ModeDualWrite && m.remote == nil {
		return nil, fmt.Errorf("dualWrite mode requires a remote adapter")
	}

	m.logger = m.logger.WithComponent("manager")

	if m.cfg.Mode == ModeDualWrite {
		m.queue = newSyncQueue(m.remote, m.cfg, m.logger)
		if m.cfg.EnableSyncWorker {
			ctx, cancel := context.WithCancel(context.Background())
			m.workerCancel = cancel
			if err := m.queue.Start(ctx); err != nil {
				cancel()
				return nil, err
			}
		}
	}

	return m, nil
}

// Mode returns the active write mode.
func (m *Manager) Mode() Mode {
	return m.cfg.Mode
}

// Local returns the local backend adapter.
func (m *Manager) Local() Adapter { return m.local }

// Remote returns the remote backend adapter, nil in local-only mode.
func (m *Manager) Remote() Adapter { return m.remote }

// RegisterValidator installs a validator for a collection key. Writes to that
// key (or to `key:id` records) are rejected with a validation error when the
// validator fails.
func (m *Manager) RegisterValidator(key string, v Validator) {
	m.validatorsMu.Lock()
	defer m.validatorsMu.Unlock()
	m.validators[key] = v
}

func (m *Manager) validatorFor(key string) Validator {
	m.validatorsMu.RLock()
	defer m.validatorsMu.RUnlock()

	if v, ok := m.validators[key]; ok {
		return v
	}
	if idx := strings.IndexByte(key, ':'); idx > 0 {
		if v, ok := m.validators[key[:idx]]; ok {
			return v
		}
	}
	return nil
}

func (m *Manager) validate(op storeErrors.Operation, key string, value Value) error {
	if !m.cfg.ValidateOnWrite {
		return nil
	}
	v := m.validatorFor(key)
	if v == nil {
		return nil
	}
	if err := v(value); err != nil {
		return storeErrors.NewValidationError(op, key, err)
	}
	return nil
}

func (m *Manager) checkOpen(op storeErrors.Operation) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return storeErrors.New(op, fmt.Errorf("storage manager is closed"))
	}
	return nil
}

// Get returns the value stored at key from the local backend, or nil when the
// key is absent.
func (m *Manager) Get(ctx context.Context, key string) (Value, error) {
	if err := m.checkOpen(storeErrors.OpGet); err != nil {
		return nil, err
	}

	value, err := m.local.Get(ctx, key)
	if err != nil {
		return nil, storeErrors.WrapKey(err, storeErrors.OpGet, "storage/local", key)
	}
	return value, nil
}

// Set validates value, writes it to the local backend, queues remote
// replication in dual-write mode and notifies subscribers.
func (m *Manager) Set(ctx context.Context, key string, value Value) error {
	if err := m.checkOpen(storeErrors.OpSet); err != nil {
		return err
	}
	if err := m.validate(storeErrors.OpSet, key, value); err != nil {
		return err
	}

	m.locks.Lock(key)
	defer m.locks.Unlock(key)

	return m.setLocked(ctx, key, value)
}

// setLocked performs the write with the key lock already held.
func (m *Manager) setLocked(ctx context.Context, key string, value Value) error {
	if err := m.local.Set(ctx, key, value); err != nil {
		return storeErrors.WrapKey(err, storeErrors.OpSet, "storage/local", key)
	}

	if m.cfg.Mode == ModeDualWrite {
		m.queue.Enqueue(key, value, queueOpSet)
		bg := context.WithoutCancel(ctx)
		go m.queue.Attempt(bg, key)
	}

	m.notify(key)
	return nil
}

// Remove deletes the value at key from the local backend and queues the
// remote delete in dual-write mode.
func (m *Manager) Remove(ctx context.Context, key string) error {
	if err := m.checkOpen(storeErrors.OpRemove); err != nil {
		return err
	}

	m.locks.Lock(key)
	defer m.locks.Unlock(key)

	return m.removeLocked(ctx, key)
}

func (m *Manager) removeLocked(ctx context.Context, key string) error {
	if err := m.local.Remove(ctx, key); err != nil {
		return storeErrors.WrapKey(err, storeErrors.OpRemove, "storage/local", key)
	}

	if m.cfg.Mode == ModeDualWrite {
		m.queue.Enqueue(key, nil, queueOpRemove)
		bg := context.WithoutCancel(ctx)
		go m.queue.Attempt(bg, key)
	}

	m.notify(key)
	return nil
}

// GetBatch returns the values for the given keys. Absent keys are omitted
// from the result map.
func (m *Manager) GetBatch(ctx context.Context, keys []string) (map[string]Value, error) {
	if err := m.checkOpen(storeErrors.OpBatch); err != nil {
		return nil, err
	}

	result := make(map[string]Value, len(keys))
	for _, key := range keys {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		value, err := m.local.Get(ctx, key)
		if err != nil {
			return nil, storeErrors.WrapKey(err, storeErrors.OpBatch, "storage/local", key)
		}
		if value != nil {
			result[key] = value
		}
	}
	return result, nil
}

// BatchResult reports the outcome of a SetBatch operation.
type BatchResult struct {
	SuccessCount int
	FailureCount int
	Errors       []error
	Duration     time.Duration
}

// Success reports whether every item in the batch was written.
func (r *BatchResult) Success() bool { return r.FailureCount == 0 }

// SetBatch writes multiple values. Keys are processed in sorted order for
// determinism; each key goes through the full validated, dual-write,
// notifying path. Partial failure is reported, not rolled back.
func (m *Manager) SetBatch(ctx context.Context, items map[string]Value) (*BatchResult, error) {
	if err := m.checkOpen(storeErrors.OpBatch); err != nil {
		return nil, err
	}

	start := time.Now()
	result := &BatchResult{}

	keys := make([]string, 0, len(items))
	for key := range items {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		select {
		case <-ctx.Done():
			result.Duration = time.Since(start)
			return result, ctx.Err()
		default:
		}

		if err := m.Set(ctx, key, items[key]); err != nil {
			result.FailureCount++
			result.Errors = append(result.Errors, err)
			continue
		}
		result.SuccessCount++
	}

	result.Duration = time.Since(start)
	return result, nil
}

// Subscribe registers a callback invoked whenever the value at key changes,
// whether the change came from a direct write, a batch, a transaction commit
// or rollback, or a conflict resolution. Use WildcardKey to observe all keys.
func (m *Manager) Subscribe(key string, fn Subscriber) Unsubscribe {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	keySubs, ok := m.subs[key]
	if !ok {
		keySubs = make(map[int]Subscriber)
		m.subs[key] = keySubs
	}

	id := m.nextSubID
	m.nextSubID++
	keySubs[id] = fn

	return func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		if subs, ok := m.subs[key]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(m.subs, key)
			}
		}
	}
}

// notify invokes subscribers for key synchronously in the writer's goroutine.
// Because same-key writes serialize on the key lock, per-key delivery order
// matches write order.
func (m *Manager) notify(key string) {
	m.subsMu.RLock()
	callbacks := make([]Subscriber, 0, 4)
	ids := make([]int, 0, 4)
	for id, fn := range m.subs[key] {
		callbacks = append(callbacks, fn)
		ids = append(ids, id)
	}
	if key != WildcardKey {
		for id, fn := range m.subs[WildcardKey] {
			callbacks = append(callbacks, fn)
			ids = append(ids, id)
		}
	}
	m.subsMu.RUnlock()

	sort.Sort(&subscriberOrder{ids: ids, fns: callbacks})

	for _, fn := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Warn("subscriber panicked",
						slog.String("key", key),
						slog.Any("panic", r),
					)
				}
			}()
			fn(key)
		}()
	}
}

// subscriberOrder sorts callbacks by registration id so that delivery within
// a single notification is stable.
type subscriberOrder struct {
	ids []int
	fns []Subscriber
}

func (s *subscriberOrder) Len() int           { return len(s.ids) }
func (s *subscriberOrder) Less(i, j int) bool { return s.ids[i] < s.ids[j] }
func (s *subscriberOrder) Swap(i, j int) {
	s.ids[i], s.ids[j] = s.ids[j], s.ids[i]
	s.fns[i], s.fns[j] = s.fns[j], s.fns[i]
}

// Flush drains the pending remote-write queue immediately. Idempotent when
// the queue is empty; a no-op in local-only mode.
func (m *Manager) Flush(ctx context.Context) error {
	if err := m.checkOpen(storeErrors.OpFlush); err != nil {
		return err
	}
	if m.queue == nil {
		return nil
	}
	return m.logger.LogOperation(ctx, storeErrors.OpFlush, "sync-queue", func() error {
		return m.queue.Flush(ctx)
	})
}

// SyncStatus returns the replication mode, queue statistics and health for
// the monitoring surface.
func (m *Manager) SyncStatus() SyncStatus {
	status := SyncStatus{Mode: m.cfg.Mode}
	workerRunning := false
	if m.queue != nil {
		status.Stats = m.queue.statsSnapshot()
		workerRunning = m.queue.Running()
	}
	status.Health = computeHealth(m.cfg.Mode, status.Stats, m.cfg.EnableSyncWorker, workerRunning)
	return status
}

// StopSyncWorker halts background replication; queued writes stay queued.
func (m *Manager) StopSyncWorker() {
	if m.queue != nil {
		m.queue.Stop()
	}
}

// Close stops the sync worker and closes both adapters.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.workerCancel != nil {
		m.workerCancel()
	}
	if m.queue != nil {
		m.queue.Stop()
	}

	var errs []error
	if err := m.local.Close(); err != nil {
		errs = append(errs, storeErrors.NewWithComponent(storeErrors.OpClose, "storage/local", err))
	}
	if m.remote != nil {
		if err := m.remote.Close(); err != nil {
			errs = append(errs, storeErrors.NewWithComponent(storeErrors.OpClose, "storage/remote", err))
		}
	}

	if len(errs) > 0 {
		return storeErrors.New(storeErrors.OpClose, fmt.Errorf("multiple close errors: %v", errs))
	}
	return nil
}
