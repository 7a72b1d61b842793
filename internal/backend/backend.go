// Package backend builds the configured storage backend.
package backend

import (
	"context"

	"github.com/nikmy/usertxn/internal/backend/kv"
	"github.com/nikmy/usertxn/internal/backend/memory"
	"github.com/nikmy/usertxn/internal/backend/mongo"
	"github.com/nikmy/usertxn/internal/backend/postgres"
	"github.com/nikmy/usertxn/internal/backend/redis"
	"github.com/nikmy/usertxn/pkg/errors"
	"github.com/nikmy/usertxn/pkg/logger"
)

type Kind string

const (
	Memory   Kind = "memory"
	Redis    Kind = "redis"
	Postgres Kind = "postgres"
	Mongo    Kind = "mongo"
)

type Config struct {
	Kind Kind `yaml:"kind"`

	Memory   memory.Config   `yaml:"memory"`
	Redis    redis.Config    `yaml:"redis"`
	Postgres postgres.Config `yaml:"postgres"`
	Mongo    mongo.Config    `yaml:"mongo"`
}

func New(ctx context.Context, cfg Config, log logger.Logger) (kv.Store, error) {
	var (
		store kv.Store
		err   error
	)

	switch cfg.Kind {
	case Memory, "":
		var mem *memory.Store
		mem, err = memory.Open(cfg.Memory, log)
		if err == nil {
			go func() {
				_ = mem.Run(ctx)
			}()
			store = mem
		}
	case Redis:
		store, err = redis.Connect(ctx, cfg.Redis)
	case Postgres:
		store, err = postgres.Open(ctx, cfg.Postgres)
	case Mongo:
		store, err = mongo.Connect(ctx, cfg.Mongo, log)
	default:
		return nil, errors.Errorf("unknown backend %q", cfg.Kind)
	}

	if err != nil {
		return nil, errors.WrapFailf(err, "init %s backend", cfg.Kind)
	}

	log.Infof("using %s backend", store.Name())
	return store, nil
}
