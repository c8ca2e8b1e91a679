package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	storeErrors "github.com/weavehq/go-store-kit/errors"
	"github.com/weavehq/go-store-kit/logging"
	"github.com/weavehq/go-store-kit/storekit"
)

// Service is a generic CRUD service over one collection. T is the pointer
// entity type; lookups that miss return the zero (nil) T with a nil error.
//
// The whole collection lives as one JSON array under the collection key, so
// mutations are read-modify-write cycles serialized by the service's mutex.
type Service[T Entity] struct {
	key        string
	manager    *storekit.Manager
	dispatcher *Dispatcher
	logger     *logging.Logger
	now        func() time.Time

	mu sync.Mutex
}

// NewService creates a Service for the given collection key. dispatcher may
// be nil when activity should not be recorded. A collection-shape validator
// is registered with the manager so raw writes to the key stay well-formed.
func NewService[T Entity](key string, manager *storekit.Manager, dispatcher *Dispatcher, logger *logging.Logger) *Service[T] {
	if logger == nil {
		logger = logging.Discard()
	}

	s := &Service[T]{
		key:        key,
		manager:    manager,
		dispatcher: dispatcher,
		logger:     logger.WithComponent(logging.Component("services/" + key)),
		now:        time.Now,
	}
	manager.RegisterValidator(key, collectionValidator)
	return s
}

// Key returns the collection key this service owns.
func (s *Service[T]) Key() string { return s.key }

// collectionValidator checks the stored shape: a JSON array whose elements
// are objects carrying a non-empty id.
func collectionValidator(value storekit.Value) error {
	if value == nil {
		return nil
	}

	items, ok := value.([]any)
	if !ok {
		// Typed slices arrive here from direct saves; normalize and recheck.
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("collection must be an array")
		}
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("collection must be an array")
		}
	}

	for i, item := range items {
		record, ok := item.(map[string]any)
		if !ok {
			return fmt.Errorf("element %d is not an object", i)
		}
		id, _ := record["id"].(string)
		if id == "" {
			return fmt.Errorf("element %d has no id", i)
		}
	}
	return nil
}

func (s *Service[T]) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

// load reads and decodes the collection array. A missing key is an empty
// collection.
func (s *Service[T]) load(ctx context.Context) ([]T, error) {
	raw, err := s.manager.Get(ctx, s.key)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, storeErrors.NewStorageFailure(storeErrors.OpGet, "services",
			fmt.Errorf("failed to re-encode collection %q: %w", s.key, err))
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, storeErrors.NewStorageFailure(storeErrors.OpGet, "services",
			fmt.Errorf("collection %q does not decode as %T: %w", s.key, items, err))
	}
	return items, nil
}

// save normalizes the entities to plain JSON values before storing so every
// reader of the key sees the same shape regardless of which writer produced
// it.
func (s *Service[T]) save(ctx context.Context, items []T) error {
	data, err := json.Marshal(items)
	if err != nil {
		return storeErrors.NewStorageFailure(storeErrors.OpSet, "services",
			fmt.Errorf("failed to encode collection %q: %w", s.key, err))
	}

	normalized := make([]any, 0, len(items))
	if err := json.Unmarshal(data, &normalized); err != nil {
		return storeErrors.NewStorageFailure(storeErrors.OpSet, "services",
			fmt.Errorf("failed to normalize collection %q: %w", s.key, err))
	}
	return s.manager.Set(ctx, s.key, normalized)
}

func (s *Service[T]) audit(action Action, entityID string) {
	if s.dispatcher == nil {
		return
	}
	s.dispatcher.Dispatch(ActivityEvent{
		Entity:   s.key,
		EntityID: entityID,
		Action:   action,
	})
}

// Create stamps and validates the entity, then appends it to the collection.
// A missing ID gets a fresh UUID; CreatedAt is preserved when the caller
// supplied one.
func (s *Service[T]) Create(ctx context.Context, entity T) (T, error) {
	var zero T

	meta := entity.EntityMeta()
	if meta == nil {
		return zero, storeErrors.NewValidationError(storeErrors.OpSet, s.key,
			fmt.Errorf("entity carries no metadata"))
	}
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	now := s.timestamp()
	if meta.CreatedAt == "" {
		meta.CreatedAt = now
	}
	meta.UpdatedAt = now

	if err := entity.Validate(); err != nil {
		return zero, storeErrors.NewValidationError(storeErrors.OpSet, s.key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load(ctx)
	if err != nil {
		return zero, err
	}
	for _, item := range items {
		if item.EntityMeta().ID == meta.ID {
			return zero, storeErrors.NewValidationError(storeErrors.OpSet, s.key,
				fmt.Errorf("duplicate id %q", meta.ID))
		}
	}

	items = append(items, entity)
	if err := s.save(ctx, items); err != nil {
		return zero, err
	}

	s.audit(ActionCreate, meta.ID)
	return entity, nil
}

// GetByID returns the entity with the given id, or nil when absent.
func (s *Service[T]) GetByID(ctx context.Context, id string) (T, error) {
	var zero T

	items, err := s.load(ctx)
	if err != nil {
		return zero, err
	}
	for _, item := range items {
		if item.EntityMeta().ID == id {
			return item, nil
		}
	}
	return zero, nil
}

// GetAll returns every entity in the collection.
func (s *Service[T]) GetAll(ctx context.Context) ([]T, error) {
	return s.load(ctx)
}

// Update applies a mutation to the entity with the given id. The callback may
// change anything except identity: ID and CreatedAt are restored afterwards
// and UpdatedAt is refreshed. Returns nil when the id does not exist.
func (s *Service[T]) Update(ctx context.Context, id string, apply func(T)) (T, error) {
	var zero T

	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load(ctx)
	if err != nil {
		return zero, err
	}

	idx := -1
	for i, item := range items {
		if item.EntityMeta().ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return zero, nil
	}

	entity := items[idx]
	meta := entity.EntityMeta()
	keepID, keepCreatedAt := meta.ID, meta.CreatedAt

	apply(entity)

	meta = entity.EntityMeta()
	meta.ID = keepID
	meta.CreatedAt = keepCreatedAt
	meta.UpdatedAt = s.timestamp()

	if err := entity.Validate(); err != nil {
		return zero, storeErrors.NewValidationError(storeErrors.OpSet, s.key, err)
	}

	if err := s.save(ctx, items); err != nil {
		return zero, err
	}

	s.audit(ActionUpdate, id)
	return entity, nil
}

// Delete removes the entity with the given id, reporting whether anything was
// removed.
func (s *Service[T]) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load(ctx)
	if err != nil {
		return false, err
	}

	kept := items[:0]
	for _, item := range items {
		if item.EntityMeta().ID != id {
			kept = append(kept, item)
		}
	}
	if len(kept) == len(items) {
		return false, nil
	}

	if err := s.save(ctx, kept); err != nil {
		return false, err
	}

	s.audit(ActionDelete, id)
	return true, nil
}

// DeleteMany removes every entity whose id is listed, returning how many were
// removed.
func (s *Service[T]) DeleteMany(ctx context.Context, ids []string) (int, error) {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load(ctx)
	if err != nil {
		return 0, err
	}

	kept := items[:0]
	var removed []string
	for _, item := range items {
		if drop[item.EntityMeta().ID] {
			removed = append(removed, item.EntityMeta().ID)
			continue
		}
		kept = append(kept, item)
	}
	if len(removed) == 0 {
		return 0, nil
	}

	if err := s.save(ctx, kept); err != nil {
		return 0, err
	}

	for _, id := range removed {
		s.audit(ActionDelete, id)
	}
	return len(removed), nil
}

// Find returns every entity matching the predicate.
func (s *Service[T]) Find(ctx context.Context, pred func(T) bool) ([]T, error) {
	items, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	var out []T
	for _, item := range items {
		if pred(item) {
			out = append(out, item)
		}
	}
	return out, nil
}

// FindOne returns the first entity matching the predicate, or nil.
func (s *Service[T]) FindOne(ctx context.Context, pred func(T) bool) (T, error) {
	var zero T

	items, err := s.load(ctx)
	if err != nil {
		return zero, err
	}
	for _, item := range items {
		if pred(item) {
			return item, nil
		}
	}
	return zero, nil
}

// Count returns the number of entities in the collection.
func (s *Service[T]) Count(ctx context.Context) (int, error) {
	items, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// Exists reports whether an entity with the given id is present.
func (s *Service[T]) Exists(ctx context.Context, id string) (bool, error) {
	item, err := s.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	var zero T
	return any(item) != any(zero), nil
}

// Subscribe registers a callback fired on every change to the collection.
func (s *Service[T]) Subscribe(fn storekit.Subscriber) storekit.Unsubscribe {
	return s.manager.Subscribe(s.key, fn)
}
