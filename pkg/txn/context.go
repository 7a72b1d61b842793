package txn

import (
	"context"

	"github.com/nikmy/usertxn/pkg/errors"
	"github.com/nikmy/usertxn/pkg/logger"
)

type txnKey struct{}

func WithTransaction(parent context.Context, ut UserTransaction) context.Context {
	return context.WithValue(parent, txnKey{}, ut)
}

func FromContext(ctx context.Context) (UserTransaction, error) {
	ut, ok := ctx.Value(txnKey{}).(UserTransaction)
	if !ok {
		return nil, errors.Newk(errors.KindBackend, "from context", errors.Fail("get transaction from context"))
	}
	return ut, nil
}

// Run executes do inside a transaction of ut. The transaction is
// committed if do succeeds and rolled back otherwise.
func Run(ctx context.Context, ut UserTransaction, log logger.Logger, do func(ctx context.Context) error) error {
	err := ut.Begin(ctx)
	if err != nil {
		return errors.WrapFail(err, "begin transaction")
	}

	ctx = WithTransaction(ctx, ut)

	err = do(ctx)
	if err != nil {
		log.Info(errors.Wrap(err, "rolling back transaction"))
		return errors.Collapse(err, errors.WrapFail(ut.Rollback(ctx), "rollback transaction"))
	}

	return errors.WrapFail(ut.Commit(ctx), "commit transaction")
}
