package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sedproject/sed/pkg/bus"
	"github.com/sedproject/sed/pkg/config"
	"github.com/sedproject/sed/pkg/server"
	"github.com/sedproject/sed/pkg/store"
	"github.com/sedproject/sed/pkg/stream"
	"github.com/sedproject/sed/pkg/version"
)

// runServer wires the stores, the bus, the log consumer and the WebSocket
// server together, then blocks until a shutdown signal.
func runServer(ctx context.Context, cfg *config.Config) error {
	slog.Info("Starting event bus",
		"version", version.Full(),
		"bind", cfg.Bind,
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"group", cfg.Group,
		"couchbase_host", cfg.CouchbaseHost)

	// 1. Document store — fatal if the buckets never come up.
	documents, err := store.Connect(ctx, cfg.CouchbaseHost, cfg.CouchbaseUser, cfg.CouchbasePassword)
	if err != nil {
		return err
	}
	defer func() {
		if err := documents.Close(); err != nil {
			slog.Error("Error closing document store", "error", err)
		}
	}()
	slog.Info("Connected to document store")

	// 2. Log producer (lazy connection; failures surface per append).
	producer := stream.NewProducer(cfg.Brokers, cfg.Topic)
	defer func() {
		if err := producer.Close(); err != nil {
			slog.Error("Error closing log producer", "error", err)
		}
	}()

	// 3. Central bus goroutine, recovering the consistency map.
	b, err := bus.New(ctx, documents, producer)
	if err != nil {
		return err
	}
	go b.Run(ctx)

	// 4. Dispatch loopback: consume the topic back into the bus.
	consumer := stream.NewConsumer(cfg.Brokers, cfg.Group, cfg.Topic, b)
	consumer.Start(ctx)

	// 5. WebSocket server (non-blocking).
	httpServer := server.NewServer(b, documents)
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(cfg.Bind); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("Event bus started", "bind", cfg.Bind)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
		consumer.Stop()
		b.Stop()
		return err
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down")
	}

	// Stop producing new dispatches, drain the bus, then close the listener.
	consumer.Stop()
	slog.Info("Log consumer stopped")

	b.Stop()
	slog.Info("Bus stopped")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
	return nil
}
