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

var ErrUnknownSession = errors.Error("unknown session")

type Config struct {
	MaxIdle      time.Duration `yaml:"max_idle"`
	ReapInterval time.Duration `yaml:"reap_interval"`

	Txn txn.Config `yaml:"txn"`
}

// EventSink receives transaction events of every session in a registry.
// Publish must not block.
type EventSink interface {
	Publish(ctx context.Context, sessionID string, e txn.Event)
}

type Registry struct {
	store kv.Store
	log   logger.Logger
	opts  []txn.Option
	sink  EventSink
	now   func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(store kv.Store, log logger.Logger, opts ...txn.Option) *Registry {
	return &Registry{
		store:    store,
		log:      log.With("sessions"),
		opts:     opts,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// WithEvents makes sessions opened afterwards report their transaction
// events to sink.
func (r *Registry) WithEvents(sink EventSink) *Registry {
	r.sink = sink
	return r
}

func (r *Registry) Open() *Session {
	id := uuid.NewString()

	opts := r.opts
	if r.sink != nil {
		sink := r.sink
		opts = append(slices.Clip(opts), txn.WithListener(txn.ListenerFunc(func(ctx context.Context, e txn.Event) {
			sink.Publish(ctx, id, e)
		})))
	}

	s := newSession(id, r.store, r.log, r.now, opts...)

	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()

	r.log.Debugf("opened session %s", s.ID())
	return s
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownSession, "id %q", id)
	}
	return s, nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

func (r *Registry) Close(ctx context.Context, id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return errors.Wrapf(ErrUnknownSession, "id %q", id)
	}
	return s.Close(ctx)
}

// CloseIdle closes sessions unused for longer than maxIdle and returns
// how many were closed.
func (r *Registry) CloseIdle(ctx context.Context, maxIdle time.Duration) int {
	deadline := r.now().Add(-maxIdle)

	r.mu.Lock()
	var idle []*Session
	for id, s := range r.sessions {
		if s.LastUsed().Before(deadline) {
			idle = append(idle, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range idle {
		r.log.Warn(errors.WrapFailf(s.Close(ctx), "close idle session %s", s.ID()))
	}

	return len(idle)
}

func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	errs := make([]error, 0, len(all))
	for _, s := range all {
		errs = append(errs, s.Close(ctx))
	}
	return errors.Collapse(errs...)
}
