package sockline

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrQueueFull     = errors.New("handler queue is full")
	ErrHandlerClosed = errors.New("handler is closed")
)

type asyncEvent struct {
	ctx       context.Context
	eventType string
	payload   any
}

// AsyncHandler wraps another handler and runs it on its own goroutine
// through a buffered queue, so that a slow handler does not hold up the
// dispatcher. Events still reach the wrapped handler in dispatch order.
//
//	async := sockline.NewAsyncHandler(slowHandler, 100).Start()
//	defer async.Close()
//	manager.Subscribe("notification", async)
//
// When the queue is full OnEvent returns ErrQueueFull and the event is lost
// for this handler only. Errors and panics from the wrapped handler are
// logged, since the dispatcher never sees them.
type AsyncHandler struct {
	wrapped   Handler
	logger    *zap.Logger
	queue     chan asyncEvent
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewAsyncHandler(wrapped Handler, queueSize int) *AsyncHandler {
	if queueSize <= 0 {
		queueSize = 100
	}

	return &AsyncHandler{
		wrapped: wrapped,
		logger:  zap.NewNop(),
		queue:   make(chan asyncEvent, queueSize),
		done:    make(chan struct{}),
	}
}

// WithLogger sets the logger for errors and panics from the wrapped handler.
func (a *AsyncHandler) WithLogger(logger *zap.Logger) *AsyncHandler {
	if logger != nil {
		a.logger = logger
	}
	return a
}

// Start begins processing events in a background goroutine.
func (a *AsyncHandler) Start() *AsyncHandler {
	a.wg.Add(1)
	go a.processQueue()
	return a
}

func (a *AsyncHandler) processQueue() {
	defer a.wg.Done()

	for {
		select {
		case ev := <-a.queue:
			a.handle(ev)
		case <-a.done:
			a.drainQueue()
			return
		}
	}
}

func (a *AsyncHandler) drainQueue() {
	for {
		select {
		case ev := <-a.queue:
			a.handle(ev)
		default:
			return
		}
	}
}

func (a *AsyncHandler) handle(ev asyncEvent) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Panic in OnEvent",
				zap.String("event", ev.eventType),
				zap.Any("panic", r),
			)
		}
	}()

	if err := a.wrapped.OnEvent(ev.ctx, ev.eventType, ev.payload); err != nil {
		a.logger.Error("Error in OnEvent", zap.String("event", ev.eventType), zap.Error(err))
	}
}

// OnEvent queues the event and returns immediately.
func (a *AsyncHandler) OnEvent(ctx context.Context, eventType string, payload any) error {
	if a.IsClosed() {
		return ErrHandlerClosed
	}

	select {
	case a.queue <- asyncEvent{ctx: ctx, eventType: eventType, payload: payload}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the background goroutine after the queued events have been
// handled.
func (a *AsyncHandler) Close() error {
	a.closeOnce.Do(func() {
		close(a.done)
		a.wg.Wait()
	})
	return nil
}

// QueueSize returns the current number of queued events.
func (a *AsyncHandler) QueueSize() int {
	return len(a.queue)
}

func (a *AsyncHandler) IsClosed() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}
