package api

import (
	"context"

	"github.com/nikmy/usertxn/internal/session"
)

type Server interface {
	Serve(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

type registry interface {
	Open() *session.Session
	Get(id string) (*session.Session, error)
	Close(ctx context.Context, id string) error
	CloseAll(ctx context.Context) error
}
