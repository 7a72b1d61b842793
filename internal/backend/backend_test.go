package backend

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/nikmy/usertxn/internal/backend/redis"
	"github.com/nikmy/usertxn/pkg/logger"
)

func TestNew(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	type testcase struct {
		name     string
		cfg      Config
		wantName string
		wantErr  bool
	}

	tests := [...]testcase{
		{name: "default", cfg: Config{}, wantName: "memory"},
		{name: "memory", cfg: Config{Kind: Memory}, wantName: "memory"},
		{name: "redis", cfg: Config{Kind: Redis, Redis: redis.Config{Addr: mr.Addr()}}, wantName: "redis"},
		{name: "unknown", cfg: Config{Kind: "etcd"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := New(ctx, tt.cfg, logger.NewStub())
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tt.wantName, store.Name())
			require.NoError(t, store.Close(ctx))
		})
	}
}
