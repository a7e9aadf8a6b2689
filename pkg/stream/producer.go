// Package stream is the durable log gateway: a Kafka producer that appends
// accepted events to the topic, and a consumer group that reads them back
// and feeds the bus dispatcher. Routing every accepted event through the
// topic makes the log the single ordering point for propagation.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/sedproject/sed/pkg/wire"
)

// appendTimeout caps one produce call so a slow broker cannot stall event
// acceptance for long; the failure is surfaced to ingress, not fatal.
const appendTimeout = time.Second

// Producer appends events to the durable topic. It satisfies the bus's
// EventLog interface.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates a producer for the given brokers and topic.
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			WriteTimeout:           appendTimeout,
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
	}
}

// Append publishes one event keyed by its event type, so all events of a
// type share a partition.
func (p *Producer) Append(ctx context.Context, ev wire.Event) error {
	// The frame discriminator stays off the log; the consumer stamps it
	// back on before dispatch.
	ev.MessageType = ""

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("serialize event for log: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.EventType),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("append event to topic: %w", err)
	}
	return nil
}

// Close flushes and releases the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
