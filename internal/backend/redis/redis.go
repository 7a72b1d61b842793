// Package redis stores items as plain redis strings. Writes are buffered
// in the transaction and applied with MULTI/EXEC under WATCH; a key
// whose value moved since the transaction first touched it aborts the
// commit.
package redis

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nikmy/usertxn/internal/backend/kv"
	"github.com/nikmy/usertxn/pkg/errors"
	"github.com/nikmy/usertxn/pkg/txn"
)

type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

func Connect(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	err := client.Ping(ctx).Err()
	if err != nil {
		return nil, errors.WrapFail(err, "ping redis")
	}

	return New(client, cfg.Prefix), nil
}

func New(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

type Store struct {
	client *redis.Client
	prefix string
}

var _ kv.Store = (*Store)(nil)

func (s *Store) Name() string {
	return "redis"
}

func (s *Store) Start(_ context.Context, opts txn.StartOptions) (txn.ActiveTxn, error) {
	return &redisTxn{
		store:   s,
		timeout: opts.Timeout,
		writes:  make(map[string]txn.Change),
		pre:     make(map[string]preImage),
	}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, classify("redis get", err)
	}
	return value, nil
}

func (s *Store) Close(context.Context) error {
	return errors.WrapFail(s.client.Close(), "close redis client")
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

type preImage struct {
	value  string
	exists bool
}

func readPreImage(ctx context.Context, c redis.Cmdable, key string) (preImage, error) {
	value, err := c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return preImage{}, nil
	}
	if err != nil {
		return preImage{}, err
	}
	return preImage{value: value, exists: true}, nil
}

var errConflict = errors.Error("key was modified concurrently")

type redisTxn struct {
	store   *Store
	timeout time.Duration

	mu     sync.Mutex
	writes map[string]txn.Change
	pre    map[string]preImage
	done   bool
}

func (t *redisTxn) Put(ctx context.Context, key string, value []byte) error {
	return t.write(ctx, txn.Change{Key: key, Value: value})
}

func (t *redisTxn) Delete(ctx context.Context, key string) error {
	return t.write(ctx, txn.Change{Key: key, Deleted: true})
}

func (t *redisTxn) write(ctx context.Context, c txn.Change) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return kv.ErrFinished
	}

	key := t.store.key(c.Key)
	if _, ok := t.pre[key]; !ok {
		pre, err := readPreImage(ctx, t.store.client, key)
		if err != nil {
			return classify("redis read", err)
		}
		t.pre[key] = pre
	}

	t.writes[key] = c
	return nil
}

func (t *redisTxn) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return kv.ErrFinished
	}
	t.done = true

	if len(t.writes) == 0 {
		return nil
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	keys := make([]string, 0, len(t.pre))
	for key := range t.pre {
		keys = append(keys, key)
	}

	err := t.store.client.Watch(ctx, func(tx *redis.Tx) error {
		for _, key := range keys {
			cur, err := readPreImage(ctx, tx, key)
			if err != nil {
				return err
			}
			if cur != t.pre[key] {
				return errors.Wrapf(errConflict, "key %q", key)
			}
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for key, c := range t.writes {
				if c.Deleted {
					pipe.Del(ctx, key)
				} else {
					pipe.Set(ctx, key, c.Value, 0)
				}
			}
			return nil
		})
		return err
	}, keys...)

	return classify("redis commit", err)
}

func (t *redisTxn) Abort(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.done = true
	t.writes = nil
	return nil
}

func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errConflict), errors.Is(err, redis.TxFailedErr):
		return errors.Newk(errors.KindRollbackOccurred, op, err)
	case strings.HasPrefix(err.Error(), "NOPERM"), strings.HasPrefix(err.Error(), "NOAUTH"):
		return errors.Newk(errors.KindAccessDenied, op, err)
	default:
		return errors.Newk(errors.KindBackend, op, err)
	}
}
