package sockline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestAsyncHandler(t *testing.T) {
	t.Run("delivers in order on another goroutine", func(t *testing.T) {
		rec := &recorder{}
		async := NewAsyncHandler(rec.handler("a"), 10).Start()

		for i := 0; i < 5; i++ {
			require.NoError(t, async.OnEvent(context.Background(), "notification", i))
		}
		require.NoError(t, async.Close())

		events := rec.of("notification")
		require.Len(t, events, 5)
		for i, ev := range events {
			assert.Equal(t, i, ev.payload)
		}
	})

	t.Run("full queue", func(t *testing.T) {
		release := make(chan struct{})
		blocked := HandlerFunc(func(ctx context.Context, eventType string, payload any) error {
			<-release
			return nil
		})
		async := NewAsyncHandler(blocked, 1).Start()

		var errs []error
		for i := 0; i < 5; i++ {
			errs = append(errs, async.OnEvent(context.Background(), "notification", i))
		}
		assert.Contains(t, errs, ErrQueueFull)

		close(release)
		require.NoError(t, async.Close())
	})

	t.Run("closed handler refuses events", func(t *testing.T) {
		async := NewAsyncHandler((&recorder{}).handler("a"), 0).Start()
		assert.Equal(t, 100, cap(async.queue))
		require.NoError(t, async.Close())
		require.NoError(t, async.Close())

		assert.True(t, async.IsClosed())
		assert.ErrorIs(t, async.OnEvent(context.Background(), "notification", nil), ErrHandlerClosed)
	})

	t.Run("keeps the dispatcher free", func(t *testing.T) {
		dialer := newFakeDialer()
		m := newTestManager(t, dialer)
		release := make(chan struct{})

		slow := NewAsyncHandler(HandlerFunc(func(ctx context.Context, eventType string, payload any) error {
			<-release
			return nil
		}), 10).Start()
		defer slow.Close()
		defer close(release)
		rec := &recorder{}
		m.Subscribe("notification", slow)
		m.Subscribe("notification", rec.handler("fast"))
		transport := connectManager(t, m, dialer)

		transport.deliver(t, "notification", 1)
		transport.deliver(t, "notification", 2)
		rec.waitFor(t, "notification", 2)
		assert.GreaterOrEqual(t, slow.QueueSize(), 1)
	})

	t.Run("panicking handler is logged and keeps the queue running", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		rec := &recorder{}
		next := rec.handler("a")
		handler := HandlerFunc(func(ctx context.Context, eventType string, payload any) error {
			if payload == "boom" {
				panic("boom")
			}
			return next.OnEvent(ctx, eventType, payload)
		})
		async := NewAsyncHandler(handler, 10).WithLogger(zap.New(core)).Start()

		require.NoError(t, async.OnEvent(context.Background(), "notification", "boom"))
		require.NoError(t, async.OnEvent(context.Background(), "notification", "after"))
		require.NoError(t, async.Close())

		events := rec.of("notification")
		require.Len(t, events, 1)
		assert.Equal(t, "after", events[0].payload)

		panics := logs.FilterMessage("Panic in OnEvent").All()
		require.Len(t, panics, 1)
		assert.Equal(t, "notification", panics[0].ContextMap()["event"])
	})

	t.Run("handler errors are logged", func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		failing := HandlerFunc(func(ctx context.Context, eventType string, payload any) error {
			return errors.New("handler failed")
		})
		async := NewAsyncHandler(failing, 10).WithLogger(zap.New(core)).Start()

		require.NoError(t, async.OnEvent(context.Background(), "notification", 1))
		require.NoError(t, async.Close())

		entries := logs.FilterMessage("Error in OnEvent").All()
		require.Len(t, entries, 1)
		assert.Equal(t, "handler failed", entries[0].ContextMap()["error"])
	})

	t.Run("nil logger keeps the default", func(t *testing.T) {
		async := NewAsyncHandler((&recorder{}).handler("a"), 1).WithLogger(nil)
		assert.NotNil(t, async.logger)
	})
}
