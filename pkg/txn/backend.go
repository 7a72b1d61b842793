package txn

import (
	"context"
	"time"
)

// Backend starts storage transactions. Conflicts detected on commit
// must be reported as errors.KindRollbackOccurred, permission failures
// as errors.KindAccessDenied.
type Backend interface {
	Name() string
	Start(ctx context.Context, opts StartOptions) (ActiveTxn, error)
}

type ActiveTxn interface {
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// Commit applies the buffered writes. On error the transaction
	// is finished and must not be used again.
	Commit(ctx context.Context) error

	// Abort on a finished transaction is a no-op.
	Abort(ctx context.Context) error
}

type StartOptions struct {
	Timeout time.Duration
}

type Change struct {
	Key     string
	Value   []byte
	Deleted bool
}
