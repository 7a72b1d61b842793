package mongo

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/nikmy/usertxn/internal/backend/kv"
	"github.com/nikmy/usertxn/pkg/errors"
	"github.com/nikmy/usertxn/pkg/logger"
	"github.com/nikmy/usertxn/pkg/mongotools"
	"github.com/nikmy/usertxn/pkg/txn"
)

const (
	codeUnauthorized  = 13
	codeWriteConflict = 112

	labelTransient = "TransientTransactionError"
)

type Config struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`

	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`

	Auth struct {
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"auth"`
}

func Connect(ctx context.Context, cfg Config, log logger.Logger) (*Store, error) {
	opts := options.Client().
		ApplyURI(cfg.URL).
		SetTimeout(cfg.Timeout)

	if cfg.Auth.Username != "" {
		opts.SetAuth(options.Credential{
			Username: cfg.Auth.Username,
			Password: cfg.Auth.Password,
		})
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.WrapFail(err, "connect to mongo db")
	}

	return &Store{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
		log:    log.With("mongo_backend"),
	}, nil
}

type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
	log    logger.Logger
}

var _ kv.Store = (*Store)(nil)

func (s *Store) Name() string {
	return "mongo"
}

func (s *Store) Start(_ context.Context, opts txn.StartOptions) (txn.ActiveTxn, error) {
	session, err := s.client.StartSession(options.Session())
	if err != nil {
		return nil, classify("mongo start session", err)
	}

	txnOpts := options.Transaction().
		SetReadConcern(readconcern.Majority()).
		SetWriteConcern(writeconcern.Majority())
	if opts.Timeout > 0 {
		txnOpts.SetMaxCommitTime(&opts.Timeout)
	}

	err = session.StartTransaction(txnOpts)
	if err != nil {
		session.EndSession(context.Background())
		return nil, classify("mongo start transaction", err)
	}

	return &mongoTxn{session: session, coll: s.coll, log: s.log}, nil
}

type document struct {
	Value []byte `bson:"value"`
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var doc document
	err := s.coll.FindOne(ctx, mongotools.FilterByID(key)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, classify("mongo find", err)
	}
	return doc.Value, nil
}

func (s *Store) Close(ctx context.Context) error {
	return errors.WrapFail(s.client.Disconnect(ctx), "close mongo db connection")
}

type mongoTxn struct {
	session mongo.Session
	coll    *mongo.Collection
	log     logger.Logger

	mu       sync.Mutex
	finished bool
}

func (m *mongoTxn) Put(ctx context.Context, key string, value []byte) error {
	sc := mongo.NewSessionContext(ctx, m.session)
	_, err := m.coll.UpdateOne(
		sc,
		mongotools.FilterByID(key),
		mongotools.SetAll(mongotools.Field("value", value)),
		options.Update().SetUpsert(true),
	)
	return classify("mongo upsert", err)
}

func (m *mongoTxn) Delete(ctx context.Context, key string) error {
	sc := mongo.NewSessionContext(ctx, m.session)
	_, err := m.coll.DeleteOne(sc, mongotools.FilterByID(key))
	return classify("mongo delete", err)
}

func (m *mongoTxn) Commit(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finished {
		return kv.ErrFinished
	}

	err := m.session.CommitTransaction(ctx)
	m.end(ctx)
	return classify("mongo commit", err)
}

func (m *mongoTxn) Abort(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finished {
		return nil
	}

	err := m.session.AbortTransaction(ctx)
	m.end(ctx)
	return classify("mongo abort", err)
}

func (m *mongoTxn) end(ctx context.Context) {
	m.finished = true
	m.session.EndSession(context.WithoutCancel(ctx))
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var se mongo.ServerError
	if errors.As(err, &se) {
		switch {
		case se.HasErrorLabel(labelTransient), se.HasErrorCode(codeWriteConflict):
			return errors.Newk(errors.KindRollbackOccurred, op, err)
		case se.HasErrorCode(codeUnauthorized):
			return errors.Newk(errors.KindAccessDenied, op, err)
		}
	}

	return errors.Newk(errors.KindBackend, op, err)
}
