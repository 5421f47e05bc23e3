// Package badger implements the store interface on BadgerDB (LSM tree).
package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/trafficlab/settle95/pkg/store"
	"github.com/trafficlab/settle95/pkg/task"
)

// Key layout: one prefix byte per record type, then the 8-byte xxhash of the
// record ID. Fixed-width binary keys keep the LSM comparisons cheap.
const (
	taskPrefix = byte('t')
	runPrefix  = byte('r')
)

// Store implements store.Store using BadgerDB.
type Store struct {
	db *badger.DB
}

// Config holds BadgerDB configuration.
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool
}

// New opens a BadgerDB-backed store. The options bound memory hard: task and
// run records are tiny, so the defaults (64 MB memtables, 2 GB vlog files)
// would be pure waste.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(16 << 20).
		WithNumMemtables(3).
		WithBlockCacheSize(8 << 20).
		WithIndexCacheSize(4 << 20).
		WithMaxLevels(4).
		WithNumCompactors(2).
		WithValueThreshold(1024).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &Store{db: db}, nil
}

func makeKey(prefix byte, id string) []byte {
	key := make([]byte, 9)
	key[0] = prefix
	h := xxhash.Sum64String(id)
	for i := 0; i < 8; i++ {
		key[1+i] = byte(h >> (56 - 8*i))
	}
	return key
}

func (s *Store) put(ctx context.Context, prefix byte, id string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(makeKey(prefix, id), value)
	})
}

func (s *Store) get(ctx context.Context, prefix byte, id string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(makeKey(prefix, id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	if err == badger.ErrKeyNotFound {
		return store.ErrNotFound
	}
	return err
}

func (s *Store) delete(ctx context.Context, prefix byte, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		// Verify existence so deletes of unknown IDs report ErrNotFound
		// instead of silently succeeding.
		key := makeKey(prefix, id)
		if _, err := txn.Get(key); err == badger.ErrKeyNotFound {
			return store.ErrNotFound
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
}

// scan iterates all records under a prefix, decoding each into a fresh T.
// The context is checked periodically so long scans cannot block shutdown.
func scan[T any](ctx context.Context, db *badger.DB, prefix byte, keep func(*T) bool) ([]*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*T
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{prefix}
		it := txn.NewIterator(opts)
		defer it.Close()

		var n int
		for it.Rewind(); it.Valid(); it.Next() {
			n++
			if n%1000 == 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}
			err := it.Item().Value(func(val []byte) error {
				rec := new(T)
				if err := json.Unmarshal(val, rec); err != nil {
					return err
				}
				if keep == nil || keep(rec) {
					out = append(out, rec)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) PutTask(ctx context.Context, t *task.Task) error {
	return s.put(ctx, taskPrefix, t.ID, t)
}

func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	var t task.Task
	if err := s.get(ctx, taskPrefix, id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) ListTasks(ctx context.Context) ([]*task.Task, error) {
	tasks, err := scan[task.Task](ctx, s.db, taskPrefix, nil)
	if err != nil {
		return nil, err
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks, nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	return s.delete(ctx, taskPrefix, id)
}

func (s *Store) PutRun(ctx context.Context, r *task.Run) error {
	return s.put(ctx, runPrefix, r.ID, r)
}

func (s *Store) GetRun(ctx context.Context, id string) (*task.Run, error) {
	var r task.Run
	if err := s.get(ctx, runPrefix, id, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) ListRuns(ctx context.Context, taskID string, limit int) ([]*task.Run, error) {
	runs, err := scan(ctx, s.db, runPrefix, func(r *task.Run) bool {
		return taskID == "" || r.TaskID == taskID
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *Store) DeleteRun(ctx context.Context, id string) error {
	return s.delete(ctx, runPrefix, id)
}

// Close shuts down BadgerDB, flushing memtables to disk.
func (s *Store) Close() error {
	return s.db.Close()
}
