package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/sedproject/sed/pkg/bus"
	"github.com/sedproject/sed/pkg/wire"
)

// Consumer reads accepted events back from the topic and posts them to the
// bus for dispatch. Offsets are committed only after the event has been
// handed to the bus inbox, so a crash replays rather than drops
// (at-least-once).
type Consumer struct {
	reader *kafka.Reader
	bus    *bus.Bus

	cancel context.CancelFunc
	done   chan struct{}
}

// NewConsumer creates a consumer group member for the topic.
func NewConsumer(brokers []string, group, topic string, b *bus.Bus) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			GroupID:        group,
			Topic:          topic,
			MinBytes:       1,
			MaxBytes:       10e6,
			SessionTimeout: 6 * time.Second,
		}),
		bus:  b,
		done: make(chan struct{}),
	}
}

// Start begins the consume loop on its own goroutine.
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	go func() {
		defer close(c.done)
		slog.Info("Log consumer started")
		c.consumeLoop(ctx)
		slog.Info("Log consumer finished")
	}()
}

// Stop cancels the consume loop, closes the reader and waits for the loop
// to exit.
func (c *Consumer) Stop() {
	c.cancel()
	if err := c.reader.Close(); err != nil {
		slog.Warn("Error closing log reader", "error", err)
	}
	<-c.done
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return
			}
			slog.Error("Error fetching from topic", "error", err)
			continue
		}

		if err := c.processMessage(msg); err != nil {
			slog.Error("Error processing message from topic",
				"partition", msg.Partition, "offset", msg.Offset, "error", err)
			// Poison message: commit and move on, it will never parse.
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			slog.Warn("Failed to commit offset",
				"partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
	}
}

// processMessage parses one log record and hands it to the bus dispatcher
// tagged as a live event.
func (c *Consumer) processMessage(msg kafka.Message) error {
	var ev wire.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return err
	}

	ev.MessageType = wire.TypeEvent
	slog.Debug("Received event from topic",
		"event_type", ev.EventType, "key", ev.Consistency.Key, "offset", msg.Offset)

	c.bus.Post(bus.Propagate{Event: ev})
	return nil
}
