package txn

import (
	"context"
	"time"
)

type EventType int

const (
	EventBegin EventType = iota
	EventCommit
	EventRollback
	EventExpire
)

func (t EventType) String() string {
	switch t {
	case EventBegin:
		return opBegin
	case EventCommit:
		return opCommit
	case EventRollback:
		return opRollback
	case EventExpire:
		return "expire"
	default:
		return "unknown"
	}
}

type Event struct {
	Type    EventType
	Backend string
	Timeout time.Duration
	At      time.Time
}

// Listener observes transaction boundaries. OnEvent is called with the
// boundary locked and must not block.
type Listener interface {
	OnEvent(ctx context.Context, e Event)
}

type ListenerFunc func(ctx context.Context, e Event)

func (f ListenerFunc) OnEvent(ctx context.Context, e Event) {
	f(ctx, e)
}

func WithListener(l Listener) Option {
	return func(b *Boundary) {
		b.listeners = append(b.listeners, l)
	}
}

func (b *Boundary) emit(ctx context.Context, typ EventType, timeout time.Duration) {
	if len(b.listeners) == 0 {
		return
	}

	e := Event{
		Type:    typ,
		Backend: b.backend.Name(),
		Timeout: timeout,
		At:      time.Now(),
	}
	for _, l := range b.listeners {
		l.OnEvent(ctx, e)
	}
}
