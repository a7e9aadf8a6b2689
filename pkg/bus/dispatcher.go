package bus

import (
	"log/slog"

	"github.com/sedproject/sed/pkg/wire"
)

// propagate fans one event out to every declared client type. Each type
// resolves its own recipient independently; there is no cross-type ordering.
func (b *Bus) propagate(ev wire.Event) {
	types := make([]string, 0, len(b.roundRobin))
	for clientType := range b.roundRobin {
		types = append(types, clientType)
	}
	slog.Debug("Propagating event to client types", "event_type", ev.EventType, "client_types", types)

	for _, clientType := range types {
		b.propagateTo(ev, clientType)
	}
}

// propagateTo selects the recipient of one event for one client type and
// delivers it.
//
// Selection is sticky round robin: a live sticky binding for the event's
// consistency key wins outright; otherwise the head of the type's queue is
// taken and the queue rotates. Rotation happens even when the selected
// session is then filtered out — the head has used its turn. An absent or
// empty queue parks the event in the pending queue for the type.
func (b *Bus) propagateTo(ev wire.Event, clientType string) {
	sk := stickyKey{clientType: clientType, key: ev.Consistency.Key}

	addr, sticky := b.sticky[sk]
	if sticky {
		slog.Debug("Found sticky session for key", "client_type", clientType, "key", sk.key, "client", addr)
	} else {
		queue, ok := b.roundRobin[clientType]
		if !ok {
			slog.Warn("No round robin queue, saving event as pending", "client_type", clientType, "error", ErrNoQueueForType)
			b.pending[clientType] = append(b.pending[clientType], ev)
			return
		}
		if len(queue) == 0 {
			slog.Warn("Empty round robin queue, saving event as pending", "client_type", clientType, "error", ErrEmptyQueue)
			b.pending[clientType] = append(b.pending[clientType], ev)
			return
		}
		addr = queue[0]
		b.roundRobin[clientType] = append(queue[1:], addr)
		slog.Debug("Round robin selected session", "client_type", clientType, "client", addr)
	}

	details, ok := b.sessions[addr]
	if !ok {
		// Raced with a disconnect. The binding and queue entry are cleaned
		// up by the disconnect path; this signal is dropped as a bug.
		slog.Error("Selected session missing from registry", "client", addr, "client_type", clientType, "error", ErrSessionNotFound)
		return
	}

	// Pin the key to this session for all future events.
	b.sticky[sk] = addr
	details.stickyKeys[sk] = struct{}{}

	// A session that is not subscribed to this event type, or has no
	// declared type, does not receive the event. All instances of a client
	// type are expected to share a filter, so this is a client
	// misconfiguration rather than a transient condition: the event is not
	// parked as pending.
	if details.clientType == "" || !details.wantsType(ev.EventType) {
		slog.Info("Not delivering to filtered session", "client", addr, "event_type", ev.EventType)
		return
	}

	ack := ev
	ack.MessageType = wire.TypeAck
	key, err := wire.HashJSON(ack)
	if err != nil {
		slog.Error("Failed to hash event for unack tracking", "client", addr, "error", err)
		return
	}
	details.unacked[key] = ack

	slog.Info("Delivering event to session", "client", addr, "event_type", ev.EventType, "key", ev.Consistency.Key)
	details.client.Send(ev)
}

// drainPending replays events parked for a client type, in arrival order.
// The queue is detached before the replay so that a redelivery landing back
// in pending cannot be picked up twice.
func (b *Bus) drainPending(clientType string) {
	events := b.pending[clientType]
	if len(events) == 0 {
		return
	}
	b.pending[clientType] = nil

	slog.Info("Draining pending events for client type", "client_type", clientType, "count", len(events))
	for _, ev := range events {
		b.propagateTo(ev, clientType)
	}
}
