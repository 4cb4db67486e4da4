package sockline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/petermattis/goid"
	"github.com/tsarna/sockline/pkg/sockline/o11y"
	"go.uber.org/zap"
)

// Manager owns the single duplex channel to one server address and
// dispatches its events to subscribers.
//
// An application constructs one Manager at startup with NewManager().Build()
// and hands it to the components that need it. The Manager never connects on
// its own: Connect must be called explicitly, and the outcome is reported
// through the connect and connect_error events.
type Manager struct {
	address         string
	dialer          Dialer
	logger          *zap.Logger
	writeBufferSize int

	mu         sync.Mutex
	state      State
	closed     bool
	transport  Transport
	sessionID  string
	writeCh    chan outbound
	connCtx    context.Context
	connCancel context.CancelFunc
	// bumped on every connect attempt and teardown; goroutines and queued
	// messages from an older generation are ignored
	generation atomic.Uint64

	table        *dispatchTable
	queue        *eventQueue
	current      atomic.Pointer[Subscription]
	dispatcherID atomic.Int64

	dispatchCtx    context.Context
	dispatchCancel context.CancelFunc
	dispatchWG     sync.WaitGroup
	connWG         sync.WaitGroup

	metricsProvider o11y.MetricsProvider
	tracingProvider o11y.TracingProvider

	connectCounter      o11y.Counter
	connectErrorCounter o11y.Counter
	dispatchCounter     o11y.Counter
	handlerErrorCounter o11y.Counter
	droppedCounter      o11y.Counter
	handshakeHistogram  o11y.Histogram
	subscriptionGauge   o11y.Gauge
}

type outbound struct {
	data []byte
	done chan error
}

func (m *Manager) setupObservability() {
	if m.metricsProvider == nil {
		return
	}

	m.connectCounter = m.metricsProvider.Counter("sockline_connect_attempts_total")
	m.connectErrorCounter = m.metricsProvider.Counter("sockline_connect_errors_total")
	m.dispatchCounter = m.metricsProvider.Counter("sockline_events_dispatched_total")
	m.handlerErrorCounter = m.metricsProvider.Counter("sockline_handler_errors_total")
	m.droppedCounter = m.metricsProvider.Counter("sockline_events_dropped_total")
	m.handshakeHistogram = m.metricsProvider.Histogram("sockline_handshake_duration_seconds")
	m.subscriptionGauge = m.metricsProvider.Gauge("sockline_active_subscriptions")
}

func (m *Manager) start() {
	m.dispatchWG.Add(1)
	go m.dispatchLoop()
}

// Address returns the server address the manager connects to.
func (m *Manager) Address() string {
	return m.address
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ID returns the session id of the current connection, or "" when not connected.
func (m *Manager) ID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Connect starts the handshake if the channel is disconnected. It is a no-op
// while connecting or connected, and after Close. Failures are reported
// asynchronously as connect_error events.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		m.logger.Debug("Connect ignored, manager is closed")
		return
	}
	if m.state != StateDisconnected {
		m.logger.Debug("Connect ignored", zap.Stringer("state", m.state))
		return
	}

	m.state = StateConnecting
	gen := m.generation.Add(1)
	ctx, cancel := context.WithCancel(context.Background())
	m.connCtx = ctx
	m.connCancel = cancel

	m.logger.Info("Connecting", zap.String("address", m.address))
	if m.connectCounter != nil {
		m.connectCounter.Add(ctx, 1)
	}

	m.connWG.Add(1)
	go m.handshake(ctx, gen)
}

func (m *Manager) handshake(ctx context.Context, gen uint64) {
	defer m.connWG.Done()

	dialCtx := ctx
	var span o11y.Span
	if m.tracingProvider != nil {
		dialCtx, span = m.tracingProvider.StartSpan(ctx, "sockline.handshake")
		defer span.End()
		span.SetAttributes(o11y.Label{Key: "address", Value: m.address})
	}

	start := time.Now()
	transport, err := m.dialer.Dial(dialCtx, m.address)
	if err == nil && transport == nil {
		err = errors.New("dialer returned no transport")
	}

	if m.handshakeHistogram != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		m.handshakeHistogram.Record(ctx, time.Since(start).Seconds(), o11y.Label{Key: "status", Value: status})
	}
	if span != nil {
		if err != nil {
			span.SetStatus(o11y.SpanStatusError, err.Error())
		} else {
			span.SetStatus(o11y.SpanStatusOK, "")
		}
	}

	m.mu.Lock()
	if m.generation.Load() != gen || m.state != StateConnecting {
		// Close got here first
		m.mu.Unlock()
		if err == nil {
			m.closeTransport(transport, DisconnectReasonClient)
		}
		return
	}

	if err != nil {
		m.state = StateDisconnected
		m.connCancel()
		m.connCtx, m.connCancel = nil, nil

		m.logger.Warn("Connection failed", zap.String("address", m.address), zap.Error(err))
		if m.connectErrorCounter != nil {
			m.connectErrorCounter.Add(ctx, 1)
		}
		m.queue.push(queuedEvent{eventType: EventConnectError, payload: err}, false)
		m.mu.Unlock()
		return
	}

	writeCh := make(chan outbound, m.writeBufferSize)
	m.state = StateConnected
	m.transport = transport
	m.sessionID = uuid.NewString()
	m.writeCh = writeCh

	m.logger.Info("Connected",
		zap.String("address", m.address),
		zap.String("session", m.sessionID),
	)

	m.connWG.Add(2)
	go m.readLoop(ctx, gen, transport)
	go m.writeLoop(ctx, gen, transport, writeCh)

	// still holding mu, so no inbound message can be queued ahead of this
	m.queue.push(queuedEvent{eventType: EventConnect}, false)
	m.mu.Unlock()
}

// Disconnect closes the channel if it is connected and emits a disconnect
// event. It is a no-op otherwise.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state != StateConnected {
		state := m.state
		m.mu.Unlock()
		m.logger.Debug("Disconnect ignored", zap.Stringer("state", state))
		return
	}

	transport, cancel := m.teardownLocked(DisconnectReasonClient)
	m.mu.Unlock()

	m.closeTransport(transport, DisconnectReasonClient)
	cancel()
}

// teardownLocked moves a connected channel to disconnected. The caller must
// close the returned transport and then call the returned cancel func after
// releasing mu.
func (m *Manager) teardownLocked(reason string) (Transport, context.CancelFunc) {
	transport, cancel := m.transport, m.connCancel

	m.state = StateDisconnected
	m.generation.Add(1)
	m.transport = nil
	m.sessionID = ""
	m.writeCh = nil
	m.connCtx, m.connCancel = nil, nil

	m.logger.Info("Disconnected", zap.String("address", m.address), zap.String("reason", reason))
	m.queue.push(queuedEvent{eventType: EventDisconnect, payload: reason}, false)

	return transport, cancel
}

func (m *Manager) closeTransport(transport Transport, reason string) {
	if err := transport.Close(reason); err != nil {
		m.logger.Debug("Error closing transport", zap.Error(err))
	}
}

// transportFailed handles a read or write error on an established connection.
func (m *Manager) transportFailed(gen uint64, transport Transport, err error) {
	m.mu.Lock()
	if m.generation.Load() != gen || m.state != StateConnected {
		m.mu.Unlock()
		return
	}

	m.logger.Error("Transport failed", zap.String("address", m.address), zap.Error(err))
	_, cancel := m.teardownLocked(DisconnectReasonTransport)
	m.mu.Unlock()

	m.closeTransport(transport, DisconnectReasonTransport)
	cancel()
}

func (m *Manager) readLoop(ctx context.Context, gen uint64, transport Transport) {
	defer m.connWG.Done()

	for {
		data, err := transport.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && m.generation.Load() == gen {
				m.transportFailed(gen, transport, err)
			}
			return
		}

		eventType, payload, err := decodeFrame(data)
		if err != nil {
			m.logger.Debug("Dropping inbound frame", zap.Error(err))
			continue
		}

		m.mu.Lock()
		if m.generation.Load() != gen {
			m.mu.Unlock()
			return
		}
		accepted := m.queue.push(queuedEvent{eventType: eventType, payload: payload, generation: gen}, true)
		m.mu.Unlock()

		if !accepted {
			m.logger.Warn("Event queue full, message dropped", zap.String("event", eventType))
			if m.droppedCounter != nil {
				m.droppedCounter.Add(ctx, 1, o11y.Label{Key: "event", Value: eventType})
			}
		}
	}
}

func (m *Manager) writeLoop(ctx context.Context, gen uint64, transport Transport, writeCh chan outbound) {
	defer m.connWG.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case out := <-writeCh:
			err := transport.Write(ctx, out.data)
			if out.done != nil {
				out.done <- err
			}
			if err != nil {
				if ctx.Err() == nil && m.generation.Load() == gen {
					m.transportFailed(gen, transport, err)
				}
				return
			}
		}
	}
}

// Emit queues an event for the server without waiting for it to be written.
func (m *Manager) Emit(ctx context.Context, eventType string, payload any) error {
	_, _, err := m.enqueueWrite(ctx, eventType, payload, false)
	return err
}

// EmitSync queues an event and waits until it has been written to the transport.
func (m *Manager) EmitSync(ctx context.Context, eventType string, payload any) error {
	done, connCtx, err := m.enqueueWrite(ctx, eventType, payload, true)
	if err != nil {
		return err
	}

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to write event: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-connCtx.Done():
		return ErrNotConnected
	}
}

func (m *Manager) enqueueWrite(ctx context.Context, eventType string, payload any, wait bool) (chan error, context.Context, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	data, err := encodeFrame(eventType, payload)
	if err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	writeCh, connCtx := m.writeCh, m.connCtx
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected {
		return nil, nil, ErrNotConnected
	}

	out := outbound{data: data}
	if !wait {
		select {
		case writeCh <- out:
			return nil, connCtx, nil
		default:
			return nil, nil, ErrWriteBufferFull
		}
	}

	out.done = make(chan error, 1)
	select {
	case writeCh <- out:
		return out.done, connCtx, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case <-connCtx.Done():
		return nil, nil, ErrNotConnected
	}
}

// Subscribe registers handler for eventType, whether or not the channel is
// connected. eventType may be an MQTT-style pattern using + and #, which
// matches application events only. A nil handler registers nothing and
// returns nil.
func (m *Manager) Subscribe(eventType string, handler Handler) *Subscription {
	if handler == nil {
		m.logger.Warn("Subscribe called with nil handler", zap.String("event", eventType))
		return nil
	}

	sub := &Subscription{
		eventType: eventType,
		handler:   handler,
		match:     makeMatcher(eventType),
		manager:   m,
	}
	sub.active.Store(true)

	count := m.table.add(sub)
	if m.subscriptionGauge != nil {
		m.subscriptionGauge.Set(context.Background(), float64(count))
	}

	m.logger.Debug("Subscribed", zap.String("event", eventType), zap.Uint64("id", sub.id))
	return sub
}

// Unsubscribe removes sub. Unknown, nil and already removed subscriptions
// are ignored. Once Unsubscribe returns the handler is not invoked again.
// Called from another goroutine while the handler is running, it waits for
// that invocation to finish; called from the handler itself, it returns
// immediately.
func (m *Manager) Unsubscribe(sub *Subscription) {
	if sub == nil || sub.manager != m {
		return
	}
	if !sub.active.CompareAndSwap(true, false) {
		return
	}

	count := m.table.remove(sub)
	if count >= 0 && m.subscriptionGauge != nil {
		m.subscriptionGauge.Set(context.Background(), float64(count))
	}

	m.logger.Debug("Unsubscribed", zap.String("event", sub.eventType), zap.Uint64("id", sub.id))

	// A handler removing its own subscription runs on the dispatcher, which
	// holds sub.mu. Everyone else waits out an invocation in progress.
	if m.onDispatcher() && m.current.Load() == sub {
		return
	}
	sub.mu.Lock()
	sub.mu.Unlock()
}

// onDispatcher reports whether the caller is the dispatcher goroutine.
func (m *Manager) onDispatcher() bool {
	return goid.Get() == m.dispatcherID.Load()
}

// SubscriptionCount returns the number of active subscriptions.
func (m *Manager) SubscriptionCount() int {
	return m.table.size()
}

func (m *Manager) dispatchLoop() {
	defer m.dispatchWG.Done()
	m.dispatcherID.Store(goid.Get())

	for {
		ev, ok := m.queue.next()
		if !ok {
			return
		}
		m.dispatch(ev)
	}
}

// dispatch runs one dispatch pass: every matching subscription, in
// registration order, on the dispatcher goroutine.
func (m *Manager) dispatch(ev queuedEvent) {
	if ev.generation != 0 && ev.generation != m.generation.Load() {
		m.logger.Debug("Dropping message from a closed connection", zap.String("event", ev.eventType))
		return
	}

	for _, sub := range m.table.matching(ev.eventType) {
		m.invoke(sub, ev)
	}

	if m.dispatchCounter != nil {
		m.dispatchCounter.Add(m.dispatchCtx, 1, o11y.Label{Key: "event", Value: ev.eventType})
	}
}

func (m *Manager) invoke(sub *Subscription, ev queuedEvent) {
	sub.mu.Lock()
	m.current.Store(sub)
	defer func() {
		m.current.Store(nil)
		sub.mu.Unlock()

		if r := recover(); r != nil {
			m.logger.Error("Panic in OnEvent",
				zap.String("event", ev.eventType),
				zap.Any("panic", r),
			)
			m.countHandlerError(ev.eventType)
		}
	}()

	if !sub.active.Load() {
		return
	}

	if err := sub.handler.OnEvent(m.dispatchCtx, ev.eventType, ev.payload); err != nil {
		m.logger.Error("Error in OnEvent", zap.String("event", ev.eventType), zap.Error(err))
		m.countHandlerError(ev.eventType)
	}
}

func (m *Manager) countHandlerError(eventType string) {
	if m.handlerErrorCounter != nil {
		m.handlerErrorCounter.Add(m.dispatchCtx, 1, o11y.Label{Key: "event", Value: eventType})
	}
}

// Close tears down any connection, delivers the events already queued and
// stops the dispatcher. Connect is a no-op afterwards. Close must not be
// called from a handler.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true

	var transport Transport
	var cancel context.CancelFunc
	switch m.state {
	case StateConnected:
		transport, cancel = m.teardownLocked(DisconnectReasonClient)
	case StateConnecting:
		cancel = m.connCancel
		m.state = StateDisconnected
		m.generation.Add(1)
		m.connCtx, m.connCancel = nil, nil
		m.queue.push(queuedEvent{eventType: EventConnectError, payload: ErrClosed}, false)
	}
	m.mu.Unlock()

	if transport != nil {
		m.closeTransport(transport, DisconnectReasonClient)
	}
	if cancel != nil {
		cancel()
	}
	m.connWG.Wait()

	m.queue.close()
	m.dispatchWG.Wait()
	m.dispatchCancel()

	m.logger.Info("Manager closed", zap.String("address", m.address))
	return nil
}
