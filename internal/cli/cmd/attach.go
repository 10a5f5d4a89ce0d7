package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/itchyny/gojq"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/fanoutsh/fanout/pkg/client"
)

var (
	attachFilter  string
	attachOnce    bool
	attachCount   int
	attachTimeout time.Duration
	attachLogFile bool
)

var attachCmd = &cobra.Command{
	Use:   "attach <subscription-id>",
	Short: "Stream events from a websocket subscription",
	Long: `Attach to a websocket-type subscription and print events as they arrive.
The stream reconnects automatically if the connection drops.

Examples:
  fanout attach sub_abc123
  fanout attach sub_abc123 --filter '.status == "completed"' --once
  fanout attach sub_abc123 --filter '.amount > 100' --count 5 --timeout 30s`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		subscriptionID := args[0]

		var jqCode *gojq.Code
		if attachFilter != "" {
			code, err := compileJqFilter(attachFilter)
			if err != nil {
				out.Error("Invalid jq filter: %v", err)
				os.Exit(1)
			}
			jqCode = code
		}

		if attachOnce {
			attachCount = 1
		}

		if attachLogFile {
			setupAttachLogging()
		}

		c := getClient()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if attachTimeout > 0 {
			ctx, cancel = context.WithTimeout(context.Background(), attachTimeout)
			defer cancel()
		}

		stream, err := c.Attach(ctx, subscriptionID)
		if err != nil {
			out.Error("Failed to attach: %v", err)
			return
		}
		defer stream.Close()

		if !jsonOutput {
			out.Success("Attached to %s", subscriptionID)
			if attachFilter != "" {
				out.KeyValue("Filter", attachFilter)
			}
			if attachCount > 0 {
				out.KeyValue("Exit after", fmt.Sprintf("%d events", attachCount))
			}
			out.Info("Waiting for events... (Ctrl+C to exit)")
			out.Divider()
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		matchCount := 0

		for {
			select {
			case event, ok := <-stream.Events():
				if !ok {
					return
				}

				if !matchesJqFilter(jqCode, event.Payload) {
					continue
				}

				out.Event(event.ID, event.Topic, event.Payload, event.Timestamp)
				if event.Replay && !jsonOutput {
					out.KeyValue("Replay", event.ReplayID)
				}

				matchCount++
				if attachCount > 0 && matchCount >= attachCount {
					return
				}

			case err := <-stream.Errors():
				if _, ok := err.(*client.ReconnectedError); ok {
					out.Info("Reconnected")
					continue
				}
				out.Warn("Stream error: %v", err)
				slog.Warn("stream error", "error", err)

			case <-sigCh:
				return

			case <-ctx.Done():
				return
			}
		}
	},
}

// setupAttachLogging mirrors stream diagnostics to a rotating log file
// under ~/.fanout so long-running attaches can be debugged later.
func setupAttachLogging() {
	home, _ := os.UserHomeDir()
	logDir := filepath.Join(home, ".fanout")
	os.MkdirAll(logDir, 0700)

	lj := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "attach.log"),
		MaxSize:    50, // MB
		MaxBackups: 3,
		MaxAge:     14, // days
		Compress:   true,
	}

	multiWriter := io.MultiWriter(os.Stderr, lj)
	logger := slog.New(slog.NewJSONHandler(multiWriter, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)
}

func init() {
	attachCmd.Flags().StringVar(&attachFilter, "filter", "", "jq expression applied to event payloads")
	attachCmd.Flags().BoolVar(&attachOnce, "once", false, "exit after the first matching event")
	attachCmd.Flags().IntVar(&attachCount, "count", 0, "exit after this many matching events")
	attachCmd.Flags().DurationVar(&attachTimeout, "timeout", 0, "exit after this duration")
	attachCmd.Flags().BoolVar(&attachLogFile, "log-file", false, "also log diagnostics to ~/.fanout/attach.log")

	rootCmd.AddCommand(attachCmd)
}
