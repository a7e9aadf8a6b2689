// sed is the event bus daemon: it accepts WebSocket clients, sequences and
// logs their events, and distributes them with sticky round robin delivery.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sedproject/sed/pkg/config"
	"github.com/sedproject/sed/pkg/version"
)

func main() {
	root := &cobra.Command{
		Use:           version.AppName,
		Short:         "Sticky event distributor",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServerCommand(), newVersionCommand())

	if err := root.Execute(); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func newServerCommand() *cobra.Command {
	var (
		bind          string
		brokers       string
		topic         string
		group         string
		couchbaseHost string
		logLevel      string
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the event bus daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil {
				slog.Debug("No .env file, continuing with existing environment", "error", err)
			}

			cfg, err := config.New(bind, brokers, topic, group, couchbaseHost, logLevel)
			if err != nil {
				return fmt.Errorf("resolve configuration: %w", err)
			}
			configureLogging(cfg.LogLevel)

			return runServer(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&bind, "bind", "b", config.DefaultBind, "Host and port to bind the WebSocket server to")
	cmd.Flags().StringVar(&brokers, "broker", config.DefaultBrokers, "Broker list in Kafka format")
	cmd.Flags().StringVarP(&topic, "topic", "t", config.DefaultTopic, "Topic to send and receive events on")
	cmd.Flags().StringVarP(&group, "group", "g", config.DefaultGroup, "Consumer group name")
	cmd.Flags().StringVar(&couchbaseHost, "couchbase-host", config.DefaultCouchbaseHost, "Hostname of the Couchbase document store")
	cmd.Flags().StringVarP(&logLevel, "log-level", "l", config.DefaultLogLevel, "Log level (debug, info, warn, error)")

	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.Full())
		},
	}
}

func configureLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
