package sockline

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/tsarna/sockline/pkg/sockline/o11y"
	"go.uber.org/zap"
)

// ManagerBuilder provides a fluent interface for building a Manager.
type ManagerBuilder struct {
	address         string
	logger          *zap.Logger
	dialer          Dialer
	wsDialer        *WebsocketDialer
	queueSize       int
	writeBufferSize int
	metricsProvider o11y.MetricsProvider
	tracingProvider o11y.TracingProvider
}

// NewManager creates a new ManagerBuilder
func NewManager() *ManagerBuilder {
	return &ManagerBuilder{
		logger:          zap.NewNop(),
		wsDialer:        NewWebsocketDialer(),
		queueSize:       1000,
		writeBufferSize: 100,
	}
}

// WithAddress sets the server address, e.g. ws://localhost:3001
func (b *ManagerBuilder) WithAddress(address string) *ManagerBuilder {
	b.address = address
	return b
}

// WithLogger sets the logger for the manager and its default dialer.
func (b *ManagerBuilder) WithLogger(logger *zap.Logger) *ManagerBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithDialer replaces the default websocket dialer. Dialer options set on
// the builder (timeouts, headers, authorization) then have no effect.
func (b *ManagerBuilder) WithDialer(dialer Dialer) *ManagerBuilder {
	b.dialer = dialer
	return b
}

// WithDialTimeout sets the handshake timeout of the default dialer.
func (b *ManagerBuilder) WithDialTimeout(timeout time.Duration) *ManagerBuilder {
	b.wsDialer.WithDialTimeout(timeout)
	return b
}

// WithHeader sets an HTTP header sent with the handshake by the default dialer.
func (b *ManagerBuilder) WithHeader(key, value string) *ManagerBuilder {
	b.wsDialer.WithHeader(key, value)
	return b
}

// WithAuthorization sets a static Authorization header for the default dialer.
func (b *ManagerBuilder) WithAuthorization(authHeader string) *ManagerBuilder {
	b.wsDialer.WithAuthorization(authHeader)
	return b
}

// WithAuthorizationProvider sets an authorization provider for the default dialer.
func (b *ManagerBuilder) WithAuthorizationProvider(provider AuthorizationProvider) *ManagerBuilder {
	b.wsDialer.WithAuthorizationProvider(provider)
	return b
}

// WithQueueSize sets how many inbound messages may wait for dispatch before
// new ones are dropped. Default is 1000.
func (b *ManagerBuilder) WithQueueSize(size int) *ManagerBuilder {
	if size > 0 {
		b.queueSize = size
	}
	return b
}

// WithWriteBufferSize sets how many outbound events may be queued for
// writing. Default is 100.
func (b *ManagerBuilder) WithWriteBufferSize(size int) *ManagerBuilder {
	if size > 0 {
		b.writeBufferSize = size
	}
	return b
}

// WithMetrics sets the metrics provider
func (b *ManagerBuilder) WithMetrics(provider o11y.MetricsProvider) *ManagerBuilder {
	b.metricsProvider = provider
	return b
}

// WithTracing sets the tracing provider
func (b *ManagerBuilder) WithTracing(provider o11y.TracingProvider) *ManagerBuilder {
	b.tracingProvider = provider
	return b
}

// IsValid checks that all required configuration is present.
func (b *ManagerBuilder) IsValid() error {
	if b.address == "" {
		return fmt.Errorf("address is required")
	}

	u, err := url.Parse(b.address)
	if err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}

	if b.dialer == nil {
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("address must use ws or wss scheme, got %q", u.Scheme)
		}
		if u.Host == "" {
			return fmt.Errorf("address %q has no host", b.address)
		}
	}

	return nil
}

// Build creates the Manager and starts its dispatcher. The channel starts
// disconnected.
func (b *ManagerBuilder) Build() (*Manager, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}

	dialer := b.dialer
	if dialer == nil {
		dialer = b.wsDialer.WithLogger(b.logger)
	}

	dispatchCtx, dispatchCancel := context.WithCancel(context.Background())
	m := &Manager{
		address:         b.address,
		dialer:          dialer,
		logger:          b.logger,
		writeBufferSize: b.writeBufferSize,
		table:           newDispatchTable(),
		queue:           newEventQueue(b.queueSize),
		dispatchCtx:     dispatchCtx,
		dispatchCancel:  dispatchCancel,
		metricsProvider: b.metricsProvider,
		tracingProvider: b.tracingProvider,
	}
	m.setupObservability()
	m.start()

	return m, nil
}
