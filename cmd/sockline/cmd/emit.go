package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/tsarna/sockline/pkg/sockline/content"
	"go.uber.org/zap"
)

// emitCmd represents the emit command
var emitCmd = &cobra.Command{
	Use:   "emit <event-type> <payload>",
	Short: "Send one event to the server",
	Long: `Connect to the server, send one event and disconnect.

The payload is parsed as JSON; anything that is not valid JSON is sent as
a plain string.

Examples:
  sockline emit message '{"text":"hello"}'
  sockline emit typing true
  sockline emit status "back in five"`,
	Args: cobra.ExactArgs(2),
	RunE: runEmit,
}

var emitTimeout time.Duration

func init() {
	rootCmd.AddCommand(emitCmd)

	emitCmd.Flags().DurationVar(&emitTimeout, "timeout", 30*time.Second, "Total operation timeout")
}

func runEmit(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	eventType := args[0]
	payload := parsePayload(args[1], logger)

	ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
	defer cancel()

	m, _, err := newManager(logger)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := connect(ctx, m); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", m.Address(), err)
	}

	if err := m.EmitSync(ctx, eventType, payload); err != nil {
		return fmt.Errorf("failed to emit %s: %w", eventType, err)
	}

	logEmitted(logger, eventType, payload)

	m.Disconnect()
	return nil
}

// logEmitted logs a sent event. Plain string payloads are expected here.
func logEmitted(logger *zap.Logger, eventType string, payload any) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return
	}
	logger.Info("Event sent",
		zap.String("event", eventType),
		zap.ByteString("payload", encoded),
	)
}

// parsePayload decodes a JSON argument, falling back to the raw string.
func parsePayload(arg string, logger *zap.Logger) any {
	payload, err := content.Retrieve([]byte(arg))
	if err != nil {
		logger.Debug("Payload is not JSON, sending as string", zap.Error(err))
		return arg
	}
	return payload
}
