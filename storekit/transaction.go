package storekit

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	storeErrors "github.com/weavehq/go-store-kit/errors"
)

// errValidationInsideTransaction aborts a commit whose callback swallowed a
// buffered-write validation failure.
var errValidationInsideTransaction = errors.New("a buffered write failed validation")

// Tx is the handle passed to a Transaction callback. Writes through the
// handle are buffered and only reach the backends when the callback returns
// nil; reads observe the buffered writes first.
type Tx interface {
	Get(ctx context.Context, key string) (Value, error)
	Set(ctx context.Context, key string, value Value) error
	Remove(ctx context.Context, key string) error
}

type txWrite struct {
	key    string
	value  Value
	remove bool
}

type managerTx struct {
	m       *Manager
	writes  []txWrite
	latest  map[string]int
	aborted bool
}

func (t *managerTx) Get(ctx context.Context, key string) (Value, error) {
	if idx, ok := t.latest[key]; ok {
		w := t.writes[idx]
		if w.remove {
			return nil, nil
		}
		return w.value, nil
	}
	return t.m.Get(ctx, key)
}

func (t *managerTx) Set(ctx context.Context, key string, value Value) error {
	if err := t.m.validate(storeErrors.OpTransaction, key, value); err != nil {
		t.aborted = true
		return err
	}
	t.writes = append(t.writes, txWrite{key: key, value: value})
	t.latest[key] = len(t.writes) - 1
	return nil
}

func (t *managerTx) Remove(ctx context.Context, key string) error {
	t.writes = append(t.writes, txWrite{key: key, remove: true})
	t.latest[key] = len(t.writes) - 1
	return nil
}

// preImage is a snapshot of a key's value before the transaction applied.
type preImage struct {
	value   Value
	existed bool
}

// Transaction runs fn with a buffered write handle and applies the buffered
// writes atomically with respect to other writers. All touched keys are
// locked in sorted order for the duration of the commit; if any write fails,
// already-applied keys are restored from pre-images and the transaction
// reports TRANSACTION_ABORTED. An error from fn aborts with nothing applied.
func (m *Manager) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	if err := m.checkOpen(storeErrors.OpTransaction); err != nil {
		return err
	}

	t := &managerTx{m: m, latest: make(map[string]int)}
	if err := fn(t); err != nil {
		return storeErrors.NewTransactionAbortedError(err)
	}
	if t.aborted {
		return storeErrors.NewTransactionAbortedError(
			errValidationInsideTransaction)
	}
	if len(t.writes) == 0 {
		return nil
	}

	return m.commit(ctx, t.writes)
}

func (m *Manager) commit(ctx context.Context, writes []txWrite) error {
	keys := make([]string, 0, len(writes))
	seen := make(map[string]struct{}, len(writes))
	for _, w := range writes {
		if _, ok := seen[w.key]; ok {
			continue
		}
		seen[w.key] = struct{}{}
		keys = append(keys, w.key)
	}
	sort.Strings(keys)

	m.locks.LockAll(keys)
	defer m.locks.UnlockAll(keys)

	snapshots := make(map[string]preImage, len(keys))
	for _, key := range keys {
		value, err := m.local.Get(ctx, key)
		if err != nil {
			return storeErrors.NewTransactionAbortedError(
				storeErrors.WrapKey(err, storeErrors.OpTransaction, "storage/local", key))
		}
		existed, err := m.local.Has(ctx, key)
		if err != nil {
			return storeErrors.NewTransactionAbortedError(
				storeErrors.WrapKey(err, storeErrors.OpTransaction, "storage/local", key))
		}
		snapshots[key] = preImage{value: value, existed: existed}
	}

	applied := make([]string, 0, len(writes))
	for _, w := range writes {
		var err error
		if w.remove {
			err = m.removeLocked(ctx, w.key)
		} else {
			err = m.setLocked(ctx, w.key, w.value)
		}
		if err != nil {
			m.rollback(ctx, applied, snapshots)
			return storeErrors.NewTransactionAbortedError(err)
		}
		applied = append(applied, w.key)
	}

	return nil
}

// rollback restores snapshotted pre-images for every key a failed commit
// already touched. Restores go through the normal write path so subscribers
// observe the reverted values and dual-write replication carries them.
func (m *Manager) rollback(ctx context.Context, applied []string, snapshots map[string]preImage) {
	restored := make(map[string]struct{}, len(applied))
	for _, key := range applied {
		if _, ok := restored[key]; ok {
			continue
		}
		restored[key] = struct{}{}

		snap := snapshots[key]
		var err error
		if snap.existed {
			err = m.setLocked(ctx, key, snap.value)
		} else {
			err = m.removeLocked(ctx, key)
		}
		if err != nil {
			m.logger.Error("transaction rollback failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}
}
