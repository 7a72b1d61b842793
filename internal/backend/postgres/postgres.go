// Package postgres keeps items in a single table and maps every session
// transaction onto a serializable database transaction.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/nikmy/usertxn/internal/backend/kv"
	"github.com/nikmy/usertxn/pkg/errors"
	"github.com/nikmy/usertxn/pkg/txn"
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeInsufficientPrivs    = "42501"
)

type Config struct {
	DSN     string `yaml:"dsn"`
	Table   string `yaml:"table"`
	Migrate bool   `yaml:"migrate"`
}

func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, errors.WrapFail(err, "open postgres")
	}

	err = db.PingContext(ctx)
	if err != nil {
		return nil, errors.Collapse(errors.WrapFail(err, "ping postgres"), db.Close())
	}

	s := New(db, cfg.Table)
	if cfg.Migrate {
		err = s.Migrate(ctx)
		if err != nil {
			return nil, errors.Collapse(err, db.Close())
		}
	}

	return s, nil
}

func New(db *sql.DB, table string) *Store {
	if table == "" {
		table = "usertxn_items"
	}

	t := pq.QuoteIdentifier(table)
	return &Store{
		db:         db,
		createStmt: "CREATE TABLE IF NOT EXISTS " + t + " (key text PRIMARY KEY, value bytea NOT NULL)",
		selectStmt: "SELECT value FROM " + t + " WHERE key = $1",
		upsertStmt: "INSERT INTO " + t + " (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value",
		deleteStmt: "DELETE FROM " + t + " WHERE key = $1",
	}
}

type Store struct {
	db *sql.DB

	createStmt string
	selectStmt string
	upsertStmt string
	deleteStmt string
}

var _ kv.Store = (*Store)(nil)

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.createStmt)
	return errors.WrapFail(err, "create items table")
}

func (s *Store) Name() string {
	return "postgres"
}

func (s *Store) Start(ctx context.Context, opts txn.StartOptions) (txn.ActiveTxn, error) {
	// the transaction outlives the request that began it
	tx, err := s.db.BeginTx(context.WithoutCancel(ctx), &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, classify("postgres begin", err)
	}

	if opts.Timeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL idle_in_transaction_session_timeout = %d", opts.Timeout.Milliseconds())
		_, err = tx.ExecContext(ctx, stmt)
		if err != nil {
			return nil, errors.Collapse(classify("postgres set timeout", err), tx.Rollback())
		}
	}

	return &pgTxn{store: s, tx: tx}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, s.selectStmt, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, classify("postgres select", err)
	}
	return value, nil
}

func (s *Store) Close(context.Context) error {
	return errors.WrapFail(s.db.Close(), "close postgres")
}

type pgTxn struct {
	store *Store
	tx    *sql.Tx
}

func (t *pgTxn) Put(ctx context.Context, key string, value []byte) error {
	_, err := t.tx.ExecContext(ctx, t.store.upsertStmt, key, value)
	return classify("postgres upsert", err)
}

func (t *pgTxn) Delete(ctx context.Context, key string) error {
	_, err := t.tx.ExecContext(ctx, t.store.deleteStmt, key)
	return classify("postgres delete", err)
}

func (t *pgTxn) Commit(context.Context) error {
	return classify("postgres commit", t.tx.Commit())
}

func (t *pgTxn) Abort(context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return classify("postgres rollback", err)
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			return errors.Newk(errors.KindRollbackOccurred, op, err)
		case codeInsufficientPrivs:
			return errors.Newk(errors.KindAccessDenied, op, err)
		}
	}

	if errors.Is(err, sql.ErrTxDone) {
		return errors.Newk(errors.KindBackend, op, kv.ErrFinished)
	}

	return errors.Newk(errors.KindBackend, op, err)
}
