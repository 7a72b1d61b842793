// Package session implements the repository session that owns a
// transaction. Changes are staged in the session and reach the backend
// on Save.
package session

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nikmy/usertxn/internal/backend/kv"
	"github.com/nikmy/usertxn/pkg/errors"
	"github.com/nikmy/usertxn/pkg/logger"
	"github.com/nikmy/usertxn/pkg/txn"
)

type Session struct {
	id       string
	store    kv.Store
	boundary *txn.Boundary
	log      logger.Logger
	now      func() time.Time

	mu       sync.Mutex
	pending  map[string]txn.Change
	order    []string
	lastUsed time.Time
}

func New(store kv.Store, log logger.Logger, opts ...txn.Option) *Session {
	return newSession(uuid.NewString(), store, log, time.Now, opts...)
}

func newSession(id string, store kv.Store, log logger.Logger, now func() time.Time, opts ...txn.Option) *Session {
	log = log.With("session").With(id)

	return &Session{
		id:       id,
		store:    store,
		boundary: txn.NewBoundary(store, log, opts...),
		log:      log,
		now:      now,
		pending:  make(map[string]txn.Change),
		lastUsed: now(),
	}
}

func (s *Session) ID() string {
	return s.id
}

// Txn returns the transaction bound to this session.
func (s *Session) Txn() txn.UserTransaction {
	s.touch()
	return s.boundary
}

func (s *Session) Set(key string, value []byte) {
	s.stage(txn.Change{Key: key, Value: slices.Clone(value)})
}

func (s *Session) Remove(key string) {
	s.stage(txn.Change{Key: key, Deleted: true})
}

func (s *Session) stage(c txn.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[c.Key]; !ok {
		s.order = append(s.order, c.Key)
	}
	s.pending[c.Key] = c
	s.lastUsed = s.now()
}

// Get returns the staged value of key if any, the committed one
// otherwise. Writes saved into a running transaction are not visible
// until it commits.
func (s *Session) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	c, ok := s.pending[key]
	s.lastUsed = s.now()
	s.mu.Unlock()

	if ok {
		if c.Deleted {
			return nil, kv.ErrNotFound
		}
		return slices.Clone(c.Value), nil
	}

	value, err := s.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, err
	}
	return value, errors.WrapFailf(err, "read %q", key)
}

// Pending returns staged changes in staging order.
func (s *Session) Pending() []txn.Change {
	s.mu.Lock()
	defer s.mu.Unlock()

	changes := make([]txn.Change, 0, len(s.order))
	for _, key := range s.order {
		changes = append(changes, s.pending[key])
	}
	return changes
}

// Refresh drops staged changes.
func (s *Session) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reset()
}

// Save writes staged changes. Inside a transaction they become part of
// it; outside one Save runs in a transaction of its own.
func (s *Session) Save(ctx context.Context) error {
	s.touch()

	changes := s.Pending()
	if len(changes) == 0 {
		return nil
	}

	in, err := s.boundary.InTransaction(ctx)
	if err != nil {
		return errors.WrapFail(err, "get transaction status")
	}

	if in {
		err = s.boundary.Apply(ctx, changes...)
	} else {
		err = s.saveImplicit(ctx, changes)
	}

	if err != nil {
		return errors.WrapFail(err, "save session")
	}

	s.mu.Lock()
	s.drop(changes)
	s.mu.Unlock()

	s.log.Debugf("saved %d changes", len(changes))
	return nil
}

// saveImplicit writes changes in a transaction of its own. The
// transaction never outlives Save: whatever is left open on failure is
// closed without authorization.
func (s *Session) saveImplicit(ctx context.Context, changes []txn.Change) error {
	err := s.boundary.Begin(ctx)
	if err != nil {
		return errors.WrapFail(err, "begin transaction")
	}

	err = s.boundary.Apply(ctx, changes...)
	if err == nil {
		err = errors.WrapFail(s.boundary.Commit(ctx), "commit transaction")
	}

	if err != nil {
		s.log.Info(errors.Wrap(err, "discarding implicit transaction"))
		return errors.Collapse(err, errors.WrapFail(s.boundary.Close(ctx), "close implicit transaction"))
	}
	return nil
}

// Close rolls back the transaction of the session, if any.
func (s *Session) Close(ctx context.Context) error {
	s.Refresh()
	return errors.WrapFail(s.boundary.Close(ctx), "close session")
}

func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastUsed
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastUsed = s.now()
	s.mu.Unlock()
}

func (s *Session) reset() {
	clear(s.pending)
	s.order = s.order[:0]
}

// drop removes saved changes unless they were staged again meanwhile.
func (s *Session) drop(saved []txn.Change) {
	for _, c := range saved {
		cur, ok := s.pending[c.Key]
		if !ok || cur.Deleted != c.Deleted || !slices.Equal(cur.Value, c.Value) {
			continue
		}
		delete(s.pending, c.Key)
	}

	s.order = slices.DeleteFunc(s.order, func(key string) bool {
		_, ok := s.pending[key]
		return !ok
	})
}
