package bus

import (
	"log/slog"

	"github.com/sedproject/sed/pkg/wire"
)

// register updates a session's declared type and subscription filter, moves
// it between round robin queues, drains any events parked for its new type,
// and echoes the accepted registration back to the client.
func (b *Bus) register(sig Register) {
	addr := sig.Client.Addr()
	details, ok := b.sessions[addr]
	if !ok {
		slog.Error("Register from session not in registry", "client", addr, "error", ErrSessionNotFound)
		return
	}

	// Subscription filter: ["*"] means every event type.
	if len(sig.Frame.EventTypes) == 1 && sig.Frame.EventTypes[0] == wire.Wildcard {
		details.allTypes = true
		details.eventTypes = make(map[string]struct{})
		slog.Info("Updated registered types for session", "client", addr, "types", "all")
	} else {
		details.allTypes = false
		details.eventTypes = make(map[string]struct{}, len(sig.Frame.EventTypes))
		for _, eventType := range sig.Frame.EventTypes {
			details.eventTypes[eventType] = struct{}{}
		}
		slog.Info("Updated registered types for session", "client", addr, "types", sig.Frame.EventTypes)
	}

	// Leave the previous type's queue before joining the new one.
	if details.clientType != "" {
		b.removeFromQueue(details.clientType, addr)
	}
	details.clientType = sig.Frame.ClientType
	b.roundRobin[sig.Frame.ClientType] = append(b.roundRobin[sig.Frame.ClientType], addr)
	slog.Info("Session registered", "client", addr, "client_type", sig.Frame.ClientType)

	// A registered session may be the first of its type since events for
	// that type started piling up.
	b.drainPending(sig.Frame.ClientType)

	sig.Client.Send(wire.Registration{
		MessageType: wire.TypeRegistration,
		ClientType:  sig.Frame.ClientType,
		EventTypes:  sig.Frame.EventTypes,
	})
}
