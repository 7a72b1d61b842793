// Package kv holds what the storage backends share.
package kv

import (
	"context"

	"github.com/nikmy/usertxn/pkg/errors"
	"github.com/nikmy/usertxn/pkg/txn"
)

var (
	ErrNotFound = errors.Error("key not found")
	ErrFinished = errors.Error("transaction is already finished")
)

// Store is a transactional key-value backend. Get reads committed state.
type Store interface {
	txn.Backend

	Get(ctx context.Context, key string) ([]byte, error)
	Close(ctx context.Context) error
}
