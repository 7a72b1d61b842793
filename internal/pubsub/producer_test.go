package pubsub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/nikmy/usertxn/pkg/logger"
	"github.com/nikmy/usertxn/pkg/txn"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func (w *fakeWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func TestProducer_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, 0, logger.NewStub())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p.Publish(ctx, "s1", txn.Event{Type: txn.EventBegin, Backend: "memory", Timeout: 30 * time.Second, At: at})
	p.Publish(ctx, "s1", txn.Event{Type: txn.EventCommit, Backend: "memory", Timeout: 30 * time.Second, At: at})

	require.Eventually(t, func() bool { return len(w.written()) == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	msgs := w.written()
	require.Equal(t, []byte("s1"), msgs[0].Key)

	var got eventMessage
	require.NoError(t, json.Unmarshal(msgs[1].Value, &got))
	require.Equal(t, eventMessage{
		Session:        "s1",
		Type:           "commit",
		Backend:        "memory",
		TimeoutSeconds: 30,
		At:             at,
	}, got)

	require.NoError(t, p.Close())
	require.True(t, w.closed)
}

func TestProducer_DropsWhenFull(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, 1, logger.NewStub())

	p.Publish(context.Background(), "s1", txn.Event{Type: txn.EventBegin})
	p.Publish(context.Background(), "s1", txn.Event{Type: txn.EventRollback})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.Run(ctx))

	require.Len(t, w.written(), 1)
}

func TestConfig_Enabled(t *testing.T) {
	require.False(t, Config{}.Enabled())
	require.False(t, Config{Brokers: []string{"localhost:9092"}}.Enabled())
	require.True(t, Config{Brokers: []string{"localhost:9092"}, Topic: "txn-events"}.Enabled())
}
