// Package memory provides a map-backed storekit.Adapter. It is the default
// remote stand-in for tests and supports fault injection for exercising the
// dual-write retry path.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/weavehq/go-store-kit/storekit"
)

// Store is an in-memory storekit.Adapter. Values are deep-copied on both Set
// and Get so callers can never alias the stored data.
type Store struct {
	mu      sync.RWMutex
	records map[string]storekit.Value
	failure error
	writes  int
}

var _ storekit.Adapter = (*Store)(nil)

func New() *Store {
	return &Store{records: make(map[string]storekit.Value)}
}

// FailWith makes every subsequent operation return err. Pass nil to heal the
// store.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

// WriteCount returns the number of successful Set/Remove calls.
func (s *Store) WriteCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

func (s *Store) Get(ctx context.Context, key string) (storekit.Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failure != nil {
		return nil, s.failure
	}
	value, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	return deepCopy(value), nil
}

func (s *Store) Set(ctx context.Context, key string, value storekit.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failure != nil {
		return s.failure
	}
	s.records[key] = deepCopy(value)
	s.writes++
	return nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failure != nil {
		return s.failure
	}
	delete(s.records, key)
	s.writes++
	return nil
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failure != nil {
		return nil, s.failure
	}
	keys := make([]string, 0, len(s.records))
	for key := range s.records {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failure != nil {
		return false, s.failure
	}
	_, ok := s.records[key]
	return ok, nil
}

func (s *Store) Close() error {
	return nil
}

// deepCopy round-trips the value through JSON so stored data never shares
// structure with the caller's value.
func deepCopy(value storekit.Value) storekit.Value {
	if value == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return value
	}
	var out storekit.Value
	if err := json.Unmarshal(data, &out); err != nil {
		return value
	}
	return out
}
