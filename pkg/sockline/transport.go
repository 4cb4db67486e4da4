package sockline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// Transport is an established duplex connection carrying framed messages.
// Read and Write are called from separate goroutines.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(reason string) error
}

// Dialer performs the handshake with the server at address.
type Dialer interface {
	Dial(ctx context.Context, address string) (Transport, error)
}

// AuthorizationProvider is a function that returns an authorization header value
// (e.g. "Bearer token123") for the websocket handshake.
type AuthorizationProvider func(ctx context.Context) (string, error)

// WebsocketDialer dials websocket servers with github.com/coder/websocket.
type WebsocketDialer struct {
	logger       *zap.Logger
	dialTimeout  time.Duration
	readLimit    int64
	headers      http.Header
	authProvider AuthorizationProvider
}

// NewWebsocketDialer creates a dialer with a 30s dial timeout.
func NewWebsocketDialer() *WebsocketDialer {
	return &WebsocketDialer{
		logger:      zap.NewNop(),
		dialTimeout: 30 * time.Second,
	}
}

// WithLogger sets the logger for the dialer.
func (d *WebsocketDialer) WithLogger(logger *zap.Logger) *WebsocketDialer {
	if logger != nil {
		d.logger = logger
	}
	return d
}

// WithDialTimeout sets the timeout for the handshake. Non-positive values are ignored.
func (d *WebsocketDialer) WithDialTimeout(timeout time.Duration) *WebsocketDialer {
	if timeout > 0 {
		d.dialTimeout = timeout
	}
	return d
}

// WithReadLimit sets the maximum size of an inbound frame in bytes.
func (d *WebsocketDialer) WithReadLimit(limit int64) *WebsocketDialer {
	if limit > 0 {
		d.readLimit = limit
	}
	return d
}

// WithHeader sets a single HTTP header for the handshake request.
func (d *WebsocketDialer) WithHeader(key, value string) *WebsocketDialer {
	if d.headers == nil {
		d.headers = make(http.Header)
	}
	d.headers.Set(key, value)
	return d
}

// WithAuthorization sets a static Authorization header value.
func (d *WebsocketDialer) WithAuthorization(authHeader string) *WebsocketDialer {
	d.authProvider = func(ctx context.Context) (string, error) {
		return authHeader, nil
	}
	return d
}

// WithAuthorizationProvider sets a function called on every handshake to
// obtain the Authorization header.
func (d *WebsocketDialer) WithAuthorizationProvider(provider AuthorizationProvider) *WebsocketDialer {
	d.authProvider = provider
	return d
}

// Dial implements Dialer.
func (d *WebsocketDialer) Dial(ctx context.Context, address string) (Transport, error) {
	dialCtx, cancel := context.WithTimeout(ctx, d.dialTimeout)
	defer cancel()

	opts := &websocket.DialOptions{}
	if len(d.headers) > 0 {
		opts.HTTPHeader = d.headers.Clone()
	}

	if d.authProvider != nil {
		authValue, err := d.authProvider(dialCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to get authorization: %w", err)
		}
		if authValue != "" {
			if opts.HTTPHeader == nil {
				opts.HTTPHeader = make(http.Header)
			}
			opts.HTTPHeader.Set("Authorization", authValue)
		}
	}

	conn, resp, err := websocket.Dial(dialCtx, address, opts)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, fmt.Errorf("%w: %s: %w", ErrHandshakeRejected, resp.Status, err)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	if d.readLimit > 0 {
		conn.SetReadLimit(d.readLimit)
	}

	d.logger.Debug("Websocket handshake complete", zap.String("address", address))

	return &websocketTransport{conn: conn}, nil
}

type websocketTransport struct {
	conn *websocket.Conn
}

func (t *websocketTransport) Read(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	return data, err
}

func (t *websocketTransport) Write(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *websocketTransport) Close(reason string) error {
	err := t.conn.Close(websocket.StatusNormalClosure, reason)
	if err != nil && isClosedError(err) {
		return nil
	}
	return err
}

// isClosedError reports whether err only says the connection was already closed.
func isClosedError(err error) bool {
	var closeErr websocket.CloseError
	if errors.As(err, &closeErr) {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}
