// Package local provides a filesystem-backed storekit.Adapter. Each key is
// stored as one JSON file under a root directory, written atomically via a
// temp file and rename. The filesystem is abstracted behind afero so tests
// run against an in-memory fs.
package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"

	storeErrors "github.com/weavehq/go-store-kit/errors"
	"github.com/weavehq/go-store-kit/storekit"
)

// DefaultPrefix namespaces store files so unrelated files in the root
// directory are never touched.
const DefaultPrefix = "weave_v2_"

const fileExt = ".json"

// Config holds configuration options for the Store.
type Config struct {
	// Root is the directory holding one JSON file per key. Created if absent.
	Root string

	// Prefix namespaces the store's files. Defaults to DefaultPrefix.
	Prefix string

	// Fs is the backing filesystem. Defaults to the OS filesystem.
	Fs afero.Fs
}

// Store implements storekit.Adapter over a directory of JSON files.
type Store struct {
	fs     afero.Fs
	root   string
	prefix string

	mu     sync.RWMutex
	closed bool
}

var _ storekit.Adapter = (*Store)(nil)

// New creates a Store, making the root directory if needed.
func New(config Config) (*Store, error) {
	if config.Root == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	if config.Prefix == "" {
		config.Prefix = DefaultPrefix
	}
	if config.Fs == nil {
		config.Fs = afero.NewOsFs()
	}

	if err := config.Fs.MkdirAll(config.Root, 0o755); err != nil {
		return nil, storeErrors.NewUnavailableError(storeErrors.OpSet, "storage/local",
			fmt.Errorf("failed to create root directory: %w", err))
	}

	return &Store{
		fs:     config.Fs,
		root:   config.Root,
		prefix: config.Prefix,
	}, nil
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// path maps a key to its file. Path separators and colons in keys are
// flattened so every key stays a single file directly under the root.
func (s *Store) path(key string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(key)
	return filepath.Join(s.root, s.prefix+safe+fileExt)
}

// keyFromFile inverts the prefix+ext naming; it cannot restore flattened
// separator characters, so keys containing them round-trip in sanitized form.
func (s *Store) keyFromFile(name string) (string, bool) {
	if !strings.HasPrefix(name, s.prefix) || !strings.HasSuffix(name, fileExt) {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(name, s.prefix), fileExt), true
}

func (s *Store) Get(ctx context.Context, key string) (storekit.Value, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(s.fs, s.path(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErrors.NewUnavailableError(storeErrors.OpGet, "storage/local", err)
	}

	var value storekit.Value
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, storeErrors.NewStorageFailure(storeErrors.OpGet, "storage/local",
			fmt.Errorf("corrupt record at key %q: %w", key, err))
	}
	return value, nil
}

// Set writes the JSON encoding of value atomically: the bytes land in a temp
// file first and are renamed into place, so readers never observe a partial
// write.
func (s *Store) Set(ctx context.Context, key string, value storekit.Value) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return storeErrors.NewStorageFailure(storeErrors.OpSet, "storage/local",
			fmt.Errorf("failed to marshal value: %w", err))
	}

	target := s.path(key)
	tmp := target + ".tmp"

	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return storeErrors.NewUnavailableError(storeErrors.OpSet, "storage/local", err)
	}
	if err := s.fs.Rename(tmp, target); err != nil {
		s.fs.Remove(tmp)
		return storeErrors.NewUnavailableError(storeErrors.OpSet, "storage/local", err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	err := s.fs.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return storeErrors.NewUnavailableError(storeErrors.OpRemove, "storage/local", err)
	}
	return nil
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	entries, err := afero.ReadDir(s.fs, s.root)
	if err != nil {
		return nil, storeErrors.NewUnavailableError(storeErrors.OpGet, "storage/local", err)
	}

	var keys []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if key, ok := s.keyFromFile(entry.Name()); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	exists, err := afero.Exists(s.fs, s.path(key))
	if err != nil {
		return false, storeErrors.NewUnavailableError(storeErrors.OpGet, "storage/local", err)
	}
	return exists, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
