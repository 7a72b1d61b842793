// Package txn defines transaction demarcation for a repository session
// and the Boundary that enforces it on top of a storage backend.
//
// A session is in one of two states: in a transaction or not. Begin
// moves it into a transaction, Commit and Rollback move it out.
// Failures are classified with errors.Kind.
package txn

import "context"

// UserTransaction is bound to a single session. Every call operates on
// the transaction of that session.
type UserTransaction interface {
	// Begin starts a transaction and associates it with the session.
	// Fails with KindUnsupportedNesting if the session is already in a
	// transaction and nesting is not supported, KindBackend otherwise.
	Begin(ctx context.Context) error

	// Commit completes the transaction of the session.
	// Fails with KindRollbackOccurred if the transaction was rolled back
	// instead, KindAccessDenied if the caller may not commit,
	// KindIllegalState if there is no transaction.
	Commit(ctx context.Context) error

	// InTransaction reports whether the session has an active transaction.
	InTransaction(ctx context.Context) (bool, error)

	// Rollback discards the transaction of the session.
	// Fails with KindAccessDenied if the caller may not roll back,
	// KindIllegalState if there is no transaction.
	Rollback(ctx context.Context) error

	// SetTransactionTimeout sets the timeout in seconds for transactions
	// started by subsequent Begin calls. Zero restores the default,
	// negative values fail with KindBackend.
	SetTransactionTimeout(ctx context.Context, seconds int) error
}

const (
	opBegin      = "begin"
	opCommit     = "commit"
	opRollback   = "rollback"
	opSetTimeout = "set transaction timeout"
	opApply      = "apply changes"
)
