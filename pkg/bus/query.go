package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sedproject/sed/pkg/wire"
)

// queryTimeout bounds one historical query against the document store.
const queryTimeout = 30 * time.Second

// handleQuery answers a historical query. The work runs on its own goroutine:
// it only touches the document store and the requesting client's send
// channel, never the registry maps, and must not stall the central loop on
// store latency.
func (b *Bus) handleQuery(sig Query) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
		defer cancel()

		since, err := parseSince(sig.Frame.Since)
		if err != nil {
			slog.Warn("Invalid since in query", "client", sig.Client.Addr(), "since", sig.Frame.Since, "error", err)
			return
		}

		events, err := b.store.QueryEvents(ctx, sig.Frame.EventTypes, since)
		if err != nil {
			slog.Error("Historical query failed", "client", sig.Client.Addr(), "event_types", sig.Frame.EventTypes, "error", err)
			return
		}

		for i := range events {
			events[i].MessageType = wire.TypeRebuild
		}
		if events == nil {
			events = []wire.Event{}
		}

		slog.Info("Sending rebuild to client", "client", sig.Client.Addr(), "events", len(events))
		sig.Client.Send(wire.Rebuild{
			MessageType: wire.TypeRebuild,
			Events:      events,
		})
	}()
}

// parseSince converts a query's since field to Unix seconds. The wildcard
// "*" means epoch zero: everything.
func parseSince(since string) (int64, error) {
	if since == wire.Wildcard {
		return 0, nil
	}
	t, err := time.Parse(time.RFC3339, since)
	if err != nil {
		return 0, fmt.Errorf("parse since as RFC 3339: %w", err)
	}
	return t.Unix(), nil
}
