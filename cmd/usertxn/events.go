package main

import (
	"context"

	"github.com/nikmy/usertxn/pkg/errors"
)

type eventProducer interface {
	Run(ctx context.Context) error
	Close() error
}

// startEvents runs p until the returned stop is called. The producer does
// not follow the serve context: sessions closed during shutdown still
// publish rollbacks, so stop must be called after they are closed.
func startEvents(p eventProducer) (stop func() error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- p.Run(ctx)
	}()

	return func() error {
		cancel()
		runErr := <-done
		return errors.Collapse(
			errors.WrapFail(runErr, "run event producer"),
			errors.WrapFail(p.Close(), "close event producer"),
		)
	}
}
