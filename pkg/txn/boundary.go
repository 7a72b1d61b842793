package txn

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/nikmy/usertxn/pkg/errors"
	"github.com/nikmy/usertxn/pkg/logger"
)

const (
	DefaultTimeout = 300 * time.Second

	expiryAbortTimeout = 5 * time.Second

	// MaxTimeoutSeconds is the largest timeout a time.Duration can hold.
	MaxTimeoutSeconds = int(math.MaxInt64 / int64(time.Second))
)

// TimerFunc arms f to run after d and returns a function that disarms it.
type TimerFunc func(d time.Duration, f func()) (stop func() bool)

func afterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

type Option func(b *Boundary)

func WithDefaultTimeout(d time.Duration) Option {
	return func(b *Boundary) {
		if d > 0 {
			b.defaultTimeout = d
		}
	}
}

// WithNesting makes Begin inside a transaction open a nested level
// instead of failing. Nesting is flattened: inner commits only close
// their level, and a rollback at any level discards the whole
// transaction.
func WithNesting() Option {
	return func(b *Boundary) {
		b.nesting = true
	}
}

func WithAuthorizer(a Authorizer) Option {
	return func(b *Boundary) {
		b.auth = a
	}
}

func WithTimer(t TimerFunc) Option {
	return func(b *Boundary) {
		b.timer = t
	}
}

// Boundary implements UserTransaction for one session on top of a
// Backend. It is safe for concurrent use.
type Boundary struct {
	backend Backend
	log     logger.Logger
	auth    Authorizer
	timer   TimerFunc

	listeners []Listener

	defaultTimeout time.Duration
	nesting        bool

	mu         sync.Mutex
	timeout    time.Duration
	active     ActiveTxn
	depth      int
	expired    bool
	generation uint64
	started    time.Duration
	stopTimer  func() bool
}

var _ UserTransaction = (*Boundary)(nil)

func NewBoundary(backend Backend, log logger.Logger, opts ...Option) *Boundary {
	b := &Boundary{
		backend:        backend,
		log:            log.With("txn_boundary"),
		auth:           AllowAll,
		timer:          afterFunc,
		defaultTimeout: DefaultTimeout,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

func (b *Boundary) Begin(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active != nil {
		if !b.nesting {
			return errors.Newk(errors.KindUnsupportedNesting, opBegin, errors.Error("session is already in a transaction"))
		}
		if b.expired {
			return errors.Newk(errors.KindBackend, opBegin, errors.Error("enclosing transaction has timed out"))
		}
		b.depth++
		return nil
	}

	timeout := b.nextTimeout()

	active, err := b.backend.Start(ctx, StartOptions{Timeout: timeout})
	if err != nil {
		return errors.Newk(errors.KindBackend, opBegin, errors.WrapFailf(err, "start %s transaction", b.backend.Name()))
	}

	b.active = active
	b.depth = 1
	b.expired = false
	b.generation++
	b.started = timeout

	generation := b.generation
	b.stopTimer = b.timer(timeout, func() { b.expire(generation) })

	b.log.Debugf("transaction started on %s, timeout %s", b.backend.Name(), timeout)
	b.emit(ctx, EventBegin, timeout)
	return nil
}

func (b *Boundary) Commit(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active == nil {
		return errors.Newk(errors.KindIllegalState, opCommit, errors.Error("session is not in a transaction"))
	}

	err := b.auth.Authorize(ctx, OpCommit)
	if err != nil {
		return errors.Newk(errors.KindAccessDenied, opCommit, err)
	}

	if b.depth > 1 {
		b.depth--
		return nil
	}

	if b.expired {
		b.finish()
		return errors.Newk(errors.KindRollbackOccurred, opCommit, errors.Error("transaction timed out"))
	}

	active, timeout := b.active, b.started
	err = active.Commit(ctx)
	if err == nil {
		b.finish()
		b.emit(ctx, EventCommit, timeout)
		return nil
	}

	// the backend may leave a half-finished transaction behind
	b.log.Error(errors.WrapFail(active.Abort(context.WithoutCancel(ctx)), "abort failed transaction"))
	b.finish()
	b.emit(ctx, EventRollback, timeout)

	switch kind := errors.KindOf(err); kind {
	case errors.KindRollbackOccurred, errors.KindAccessDenied:
		return errors.Newk(kind, opCommit, err)
	default:
		return errors.Newk(errors.KindBackend, opCommit, errors.WrapFailf(err, "commit %s transaction", b.backend.Name()))
	}
}

func (b *Boundary) InTransaction(context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.active != nil, nil
}

func (b *Boundary) Rollback(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active == nil {
		return errors.Newk(errors.KindIllegalState, opRollback, errors.Error("session is not in a transaction"))
	}

	err := b.auth.Authorize(ctx, OpRollback)
	if err != nil {
		return errors.Newk(errors.KindAccessDenied, opRollback, err)
	}

	if b.expired {
		b.finish()
		return nil
	}

	active, timeout := b.active, b.started
	b.finish()
	b.emit(ctx, EventRollback, timeout)

	err = active.Abort(ctx)
	if err == nil {
		return nil
	}

	if errors.IsKind(err, errors.KindAccessDenied) {
		return errors.Newk(errors.KindAccessDenied, opRollback, err)
	}
	return errors.Newk(errors.KindBackend, opRollback, errors.WrapFailf(err, "abort %s transaction", b.backend.Name()))
}

func (b *Boundary) SetTransactionTimeout(_ context.Context, seconds int) error {
	if seconds < 0 {
		return errors.Newk(errors.KindBackend, opSetTimeout, errors.Errorf("negative timeout %d", seconds))
	}
	if seconds > MaxTimeoutSeconds {
		return errors.Newk(errors.KindBackend, opSetTimeout, errors.Errorf("timeout %d exceeds %d seconds", seconds, MaxTimeoutSeconds))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.timeout = time.Duration(seconds) * time.Second
	return nil
}

// Timeout returns the timeout the next transaction will be started with.
func (b *Boundary) Timeout() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.nextTimeout()
}

// Apply writes changes into the active transaction.
func (b *Boundary) Apply(ctx context.Context, changes ...Change) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active == nil {
		return errors.Newk(errors.KindIllegalState, opApply, errors.Error("session is not in a transaction"))
	}

	if b.expired {
		return errors.Newk(errors.KindRollbackOccurred, opApply, errors.Error("transaction timed out"))
	}

	for _, c := range changes {
		var err error
		if c.Deleted {
			err = b.active.Delete(ctx, c.Key)
		} else {
			err = b.active.Put(ctx, c.Key, c.Value)
		}

		if err != nil {
			return errors.Newk(errors.KindOf(err), opApply, errors.WrapFailf(err, "write %q", c.Key))
		}
	}

	return nil
}

// Close rolls back an active transaction, bypassing authorization.
func (b *Boundary) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active == nil {
		return nil
	}

	active, expired, timeout := b.active, b.expired, b.started
	b.finish()

	if expired {
		return nil
	}
	b.emit(ctx, EventRollback, timeout)
	return errors.WrapFail(active.Abort(ctx), "abort transaction on close")
}

func (b *Boundary) nextTimeout() time.Duration {
	if b.timeout == 0 {
		return b.defaultTimeout
	}
	return b.timeout
}

func (b *Boundary) finish() {
	if b.stopTimer != nil {
		b.stopTimer()
		b.stopTimer = nil
	}
	b.active = nil
	b.depth = 0
	b.expired = false
}

// expire aborts the transaction of the given generation but keeps it
// associated with the session, so the caller learns about the rollback
// on its next Commit.
func (b *Boundary) expire(generation uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active == nil || b.generation != generation || b.expired {
		return
	}

	b.expired = true

	ctx, cancel := context.WithTimeout(context.Background(), expiryAbortTimeout)
	defer cancel()

	b.log.Warnf("transaction on %s timed out, rolling back", b.backend.Name())
	b.log.Error(errors.WrapFail(b.active.Abort(ctx), "abort expired transaction"))
	b.emit(ctx, EventExpire, b.started)
}
