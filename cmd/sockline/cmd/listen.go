package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tsarna/sockline/pkg/sockline"
	"github.com/tsarna/sockline/pkg/sockline/transform"
	"go.uber.org/zap"
)

// listenCmd represents the listen command
var listenCmd = &cobra.Command{
	Use:   "listen [event-types...]",
	Short: "Connect and print received events",
	Long: `Connect to the server and print every received event to stdout as
"<event-type><TAB><json-payload>".

Arguments are event types to listen for; MQTT-style patterns using + and #
are allowed. If none are given, all events ("#") are printed.

Examples:
  sockline listen
  sockline listen notification "chat/+"
  sockline listen --filter 'select(.level == "error")' "logs/#"`,
	RunE: runListen,
}

var (
	listenFilter    string
	listenSanitize  bool
	listenLifecycle bool
	listenBuffer    int
)

func init() {
	rootCmd.AddCommand(listenCmd)

	listenCmd.Flags().StringVar(&listenFilter, "filter", "", "jq query applied to each payload; no output drops the event")
	listenCmd.Flags().BoolVar(&listenSanitize, "sanitize", false, "strip unsafe HTML from string payloads")
	listenCmd.Flags().BoolVar(&listenLifecycle, "lifecycle", false, "also print connect and disconnect events")
	listenCmd.Flags().IntVar(&listenBuffer, "buffer", 1000, "events waiting to be printed before new ones are dropped")
}

func runListen(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	eventTypes := args
	if len(eventTypes) == 0 {
		eventTypes = []string{"#"}
	}

	transforms, err := listenTransforms(logger)
	if err != nil {
		return err
	}

	m, _, err := newManager(logger)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return runListener(ctx, m, logger, cmd.OutOrStdout(), eventTypes, transforms)
}

// runListener prints events from m until ctx is done or the server closes
// the channel. It closes m before returning.
func runListener(ctx context.Context, m *sockline.Manager, logger *zap.Logger, out io.Writer, eventTypes []string, transforms []transform.EventTransformFunc) error {
	// printing runs off the dispatcher so a blocked stdout can not stall it
	async := sockline.NewAsyncHandler(newEventPrinter(out, logger), listenBuffer).
		WithLogger(logger).
		Start()
	printer := transform.NewTransformingHandler(async, transforms...)

	// The scope outlives ctx so the final disconnect still reaches the printer.
	scope := m.NewScope()
	defer func() {
		// Close delivers what is still queued, then the printer drains
		m.Close()
		scope.Close()
		async.Close()
	}()
	for _, eventType := range eventTypes {
		scope.On(eventType, printer)
	}

	// the server closing the channel ends the command
	lost := make(chan struct{})
	var lostOnce sync.Once
	scope.On(sockline.EventDisconnect, sockline.HandlerFunc(func(ctx context.Context, eventType string, payload any) error {
		lostOnce.Do(func() { close(lost) })
		return nil
	}))
	if GetVerbose() {
		scope.On("#", sockline.NewNamedLoggingHandler(logger, zap.DebugLevel, "listen"))
	}
	if listenLifecycle {
		scope.On(sockline.EventConnect, printer)
		scope.On(sockline.EventDisconnect, printer)
	}

	logger.Info("Starting listener",
		zap.String("address", m.Address()),
		zap.Strings("events", eventTypes),
	)

	if err := connect(ctx, m); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", m.Address(), err)
	}
	logger.Info("Listening for events... (Press Ctrl+C to exit)", zap.String("session", m.ID()))

	select {
	case <-ctx.Done():
		logger.Debug("Signal received, exiting")
		m.Disconnect()
	case <-lost:
		logger.Warn("Connection lost")
	}

	logger.Info("Shutdown complete")
	return nil
}

func listenTransforms(logger *zap.Logger) ([]transform.EventTransformFunc, error) {
	var transforms []transform.EventTransformFunc
	if listenSanitize {
		transforms = append(transforms, transform.SanitizeStrings())
	}
	if listenFilter != "" {
		jq, err := transform.JqTransform(listenFilter, logger)
		if err != nil {
			return nil, err
		}
		transforms = append(transforms, jq)
	}
	return transforms, nil
}

// eventPrinter writes one line per event.
type eventPrinter struct {
	out    io.Writer
	logger *zap.Logger
}

func newEventPrinter(out io.Writer, logger *zap.Logger) *eventPrinter {
	return &eventPrinter{out: out, logger: logger}
}

func (p *eventPrinter) OnEvent(ctx context.Context, eventType string, payload any) error {
	if err, ok := payload.(error); ok {
		payload = err.Error()
	}

	jsonBytes, err := json.Marshal(payload)
	if err != nil {
		fmt.Fprintf(p.out, "%s\t<error marshaling JSON: %v>\n", eventType, err)
		p.logger.Warn("Failed to marshal payload to JSON",
			zap.String("event", eventType),
			zap.Error(err),
		)
		return nil
	}

	_, err = fmt.Fprintf(p.out, "%s\t%s\n", eventType, jsonBytes)
	return err
}
