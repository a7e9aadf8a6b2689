package bus

import (
	"context"
	"log/slog"
	"time"

	"github.com/sedproject/sed/pkg/wire"
)

// timestampLayout is the human-readable event timestamp (RFC 2822 style);
// the raw Unix seconds live alongside it in timestamp_raw for querying.
const timestampLayout = time.RFC1123Z

// ingest processes one "new" batch: each event is sequenced, appended to the
// durable log, persisted as a content-addressed document, and answered with
// a receipt. The batch is never rolled back — errors on one event are
// recorded and the loop proceeds to the next.
func (b *Bus) ingest(ctx context.Context, sig NewEvents) {
	now := time.Now()
	receipts := wire.Receipts{
		MessageType: wire.TypeReceipt,
		Receipts:    make([]wire.Receipt, 0, len(sig.Frame.Events)),
		Sender:      sig.Client.Addr(),
		Timestamp:   now.Format(timestampLayout),
	}

	for _, submitted := range sig.Frame.Events {
		checksum, err := wire.HashRaw(submitted.Data)
		if err != nil {
			slog.Error("Failed to checksum event data", "client", sig.Client.Addr(), "event_type", submitted.EventType, "error", err)
		}

		value, accepted := b.sequence(ctx, submitted.Consistency.Key, submitted.Consistency.Value)
		if !accepted {
			receipts.Receipts = append(receipts.Receipts, wire.Receipt{
				Checksum: checksum,
				Status:   wire.StatusInconsistent,
			})
			continue
		}

		ev := wire.Event{
			Consistency: wire.Consistency{
				Key:   submitted.Consistency.Key,
				Value: wire.Explicit(value),
			},
			CorrelationID: submitted.CorrelationID,
			Data:          submitted.Data,
			EventType:     submitted.EventType,
			Sender:        receipts.Sender,
			SessionID:     sig.SessionID,
			Timestamp:     receipts.Timestamp,
			TimestampRaw:  now.Unix(),
		}

		slog.Info("Appending event to log", "event_type", ev.EventType, "key", ev.Consistency.Key, "value", value)
		if err := b.log.Append(ctx, ev); err != nil {
			// The consistency map is not rolled back: the value is spent and
			// downstream consumers require at-least-once log writes.
			slog.Error("Failed to append event to log", "event_type", ev.EventType, "key", ev.Consistency.Key, "error", err)
		}

		// Content-addressed copy for the query path. Hashed over the full
		// event so the ID is unique per acceptance, not per payload.
		docID, err := wire.HashJSON(ev)
		if err != nil {
			slog.Error("Failed to hash event for persistence", "event_type", ev.EventType, "error", err)
		} else if err := b.store.SaveEvent(ctx, docID, ev); err != nil {
			slog.Warn("Failed to persist event document", "event_type", ev.EventType, "doc_id", docID, "error", err)
		}

		receipts.Receipts = append(receipts.Receipts, wire.Receipt{
			Checksum: checksum,
			Status:   wire.StatusSuccess,
		})
	}

	slog.Info("Sending receipts to client", "client", sig.Client.Addr(), "count", len(receipts.Receipts))
	sig.Client.Send(receipts)
}
