// Package memory is an in-process backend with optimistic conflict
// detection. Each key carries a version, and a transaction that touched
// a key whose version moved before commit is rolled back.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/nikmy/usertxn/internal/backend/kv"
	"github.com/nikmy/usertxn/pkg/errors"
	"github.com/nikmy/usertxn/pkg/txn"
)

type item struct {
	value   []byte
	version uint64
	deleted bool
}

func New() *Store {
	return &Store{items: make(map[string]item)}
}

type Store struct {
	mu    sync.RWMutex
	items map[string]item
	clock uint64

	snapshot *snapshotter
}

var _ kv.Store = (*Store)(nil)

func (s *Store) Name() string {
	return "memory"
}

func (s *Store) Start(context.Context, txn.StartOptions) (txn.ActiveTxn, error) {
	return &memTxn{
		store:  s,
		writes: make(map[string]txn.Change),
		seen:   make(map[string]uint64),
	}, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[key]
	if !ok || it.deleted {
		return nil, kv.ErrNotFound
	}
	return slices.Clone(it.value), nil
}

func (s *Store) Close(context.Context) error {
	if s.snapshot == nil {
		return nil
	}
	return s.snapshot.save()
}

// data returns committed values, skipping tombstones.
func (s *Store) data() map[string][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data := make(map[string][]byte, len(s.items))
	for key, it := range s.items {
		if !it.deleted {
			data[key] = it.value
		}
	}
	return data
}

func (s *Store) load(data map[string][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clock++
	for key, value := range data {
		s.items[key] = item{value: value, version: s.clock}
	}
}

func (s *Store) version(key string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.items[key].version
}

type memTxn struct {
	store *Store

	mu     sync.Mutex
	writes map[string]txn.Change
	seen   map[string]uint64
	done   bool
}

func (t *memTxn) Put(_ context.Context, key string, value []byte) error {
	return t.write(txn.Change{Key: key, Value: slices.Clone(value)})
}

func (t *memTxn) Delete(_ context.Context, key string) error {
	return t.write(txn.Change{Key: key, Deleted: true})
}

func (t *memTxn) write(c txn.Change) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return kv.ErrFinished
	}

	if _, ok := t.seen[c.Key]; !ok {
		t.seen[c.Key] = t.store.version(c.Key)
	}
	t.writes[c.Key] = c
	return nil
}

func (t *memTxn) Commit(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return kv.ErrFinished
	}
	t.done = true

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, version := range t.seen {
		if s.items[key].version != version {
			return errors.Newk(errors.KindRollbackOccurred, "memory commit", errors.Errorf("key %q was modified concurrently", key))
		}
	}

	s.clock++
	for key, c := range t.writes {
		s.items[key] = item{
			value:   c.Value,
			version: s.clock,
			deleted: c.Deleted,
		}
	}

	return nil
}

func (t *memTxn) Abort(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.done = true
	t.writes = nil
	return nil
}
