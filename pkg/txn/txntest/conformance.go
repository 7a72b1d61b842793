// Package txntest checks that a txn.UserTransaction honours the
// transaction demarcation rules. Backends run it from their own tests.
package txntest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nikmy/usertxn/pkg/errors"
	"github.com/nikmy/usertxn/pkg/txn"
)

// Factory returns a transaction bound to a fresh session. Nesting must
// be disabled.
type Factory func(t *testing.T) txn.UserTransaction

func Run(t *testing.T, newTxn Factory) {
	t.Helper()

	t.Run("not in transaction before begin", func(t *testing.T) {
		ut := newTxn(t)
		requireInTxn(t, ut, false)
	})

	t.Run("in transaction after begin", func(t *testing.T) {
		ut := newTxn(t)
		require.NoError(t, ut.Begin(context.Background()))
		requireInTxn(t, ut, true)
		require.NoError(t, ut.Rollback(context.Background()))
	})

	t.Run("not in transaction after commit", func(t *testing.T) {
		ut := newTxn(t)
		require.NoError(t, ut.Begin(context.Background()))
		require.NoError(t, ut.Commit(context.Background()))
		requireInTxn(t, ut, false)
	})

	t.Run("not in transaction after rollback", func(t *testing.T) {
		ut := newTxn(t)
		require.NoError(t, ut.Begin(context.Background()))
		require.NoError(t, ut.Rollback(context.Background()))
		requireInTxn(t, ut, false)
	})

	t.Run("commit without begin", func(t *testing.T) {
		ut := newTxn(t)
		requireKind(t, ut.Commit(context.Background()), errors.KindIllegalState)
		requireInTxn(t, ut, false)
	})

	t.Run("rollback without begin", func(t *testing.T) {
		ut := newTxn(t)
		requireKind(t, ut.Rollback(context.Background()), errors.KindIllegalState)
		requireInTxn(t, ut, false)
	})

	t.Run("begin twice", func(t *testing.T) {
		ut := newTxn(t)
		require.NoError(t, ut.Begin(context.Background()))
		requireKind(t, ut.Begin(context.Background()), errors.KindUnsupportedNesting)
		requireInTxn(t, ut, true)
		require.NoError(t, ut.Rollback(context.Background()))
	})

	t.Run("negative timeout", func(t *testing.T) {
		ut := newTxn(t)
		requireKind(t, ut.SetTransactionTimeout(context.Background(), -1), errors.KindBackend)
		requireInTxn(t, ut, false)

		require.NoError(t, ut.Begin(context.Background()))
		requireKind(t, ut.SetTransactionTimeout(context.Background(), -1), errors.KindBackend)
		requireInTxn(t, ut, true)
		require.NoError(t, ut.Rollback(context.Background()))
	})

	t.Run("zero timeout", func(t *testing.T) {
		ut := newTxn(t)
		require.NoError(t, ut.SetTransactionTimeout(context.Background(), 0))
		requireInTxn(t, ut, false)

		require.NoError(t, ut.Begin(context.Background()))
		require.NoError(t, ut.SetTransactionTimeout(context.Background(), 0))
		requireInTxn(t, ut, true)
		require.NoError(t, ut.Commit(context.Background()))
	})
}

func requireInTxn(t *testing.T, ut txn.UserTransaction, want bool) {
	t.Helper()
	in, err := ut.InTransaction(context.Background())
	require.NoError(t, err)
	require.Equal(t, want, in)
}

func requireKind(t *testing.T, err error, kind errors.Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, errors.KindOf(err), err)
}
