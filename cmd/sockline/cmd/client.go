package cmd

import (
	"context"
	"fmt"

	"github.com/tsarna/sockline/pkg/sockline"
	"github.com/tsarna/sockline/pkg/sockline/config"
	"github.com/tsarna/sockline/pkg/sockline/otel"
	"go.uber.org/zap"
)

const version = "0.1.0"

// newManager builds a manager from the config file, the environment and
// the --url flag, in increasing order of precedence.
func newManager(logger *zap.Logger) (*sockline.Manager, *config.Config, error) {
	cfg, err := config.Load(configPath, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.WebsocketsEnabled() {
		return nil, nil, fmt.Errorf("websockets are disabled in %s", configPath)
	}

	address := cfg.WSURL
	if serverURL != "" {
		address = serverURL
	}

	provider := otel.NewProvider("sockline", version)
	m, err := sockline.NewManager().
		WithAddress(address).
		WithLogger(logger).
		WithDialTimeout(cfg.DialTimeoutDuration()).
		WithWriteBufferSize(cfg.WriteBuffer).
		WithMetrics(provider).
		WithTracing(provider).
		Build()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create manager: %w", err)
	}

	logger.Debug("Manager created",
		zap.String("app", cfg.AppName),
		zap.String("address", address),
		zap.Bool("charts", cfg.ChartsEnabled()),
	)
	return m, cfg, nil
}

// connect starts the handshake and waits for its outcome.
func connect(ctx context.Context, m *sockline.Manager) error {
	result := make(chan error, 1)
	scope := m.NewScope()
	defer scope.Close()

	scope.On(sockline.EventConnect, sockline.HandlerFunc(func(ctx context.Context, eventType string, payload any) error {
		select {
		case result <- nil:
		default:
		}
		return nil
	}))
	scope.On(sockline.EventConnectError, sockline.HandlerFunc(func(ctx context.Context, eventType string, payload any) error {
		err, _ := payload.(error)
		if err == nil {
			err = fmt.Errorf("connect failed: %v", payload)
		}
		select {
		case result <- err:
		default:
		}
		return nil
	}))

	m.Connect()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
