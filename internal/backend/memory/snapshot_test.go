package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nikmy/usertxn/internal/backend/kv"
	"github.com/nikmy/usertxn/pkg/logger"
	"github.com/nikmy/usertxn/pkg/txn"
)

func TestStore_Snapshot(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Snapshot: filepath.Join(t.TempDir(), "items.json")}

	store, err := Open(cfg, logger.NewStub())
	require.NoError(t, err)

	tx, err := store.Start(ctx, txn.StartOptions{})
	require.NoError(t, err)
	require.NoError(t, tx.Put(ctx, "kept", []byte("v")))
	require.NoError(t, tx.Put(ctx, "dropped", []byte("v")))
	require.NoError(t, tx.Commit(ctx))

	tx, err = store.Start(ctx, txn.StartOptions{})
	require.NoError(t, err)
	require.NoError(t, tx.Delete(ctx, "dropped"))
	require.NoError(t, tx.Commit(ctx))

	require.NoError(t, store.Close(ctx))

	reopened, err := Open(cfg, logger.NewStub())
	require.NoError(t, err)

	got, err := reopened.Get(ctx, "kept")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)

	_, err = reopened.Get(ctx, "dropped")
	require.ErrorIs(t, err, kv.ErrNotFound)
}

func TestOpen_BrokenSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))

	_, err := Open(Config{Snapshot: path}, logger.NewStub())
	require.Error(t, err)
}

func TestStore_RunWithoutSnapshot(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store, err := Open(Config{}, logger.NewStub())
	require.NoError(t, err)
	require.NoError(t, store.Run(ctx))
	require.NoError(t, store.Close(ctx))
}
