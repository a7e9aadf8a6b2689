// Package bus implements the core of the event bus: the session registry,
// the consistency sequencer, the sticky round-robin dispatcher, the
// acknowledgement/redelivery machinery and the historical query path.
//
// All mutable state is owned by a single goroutine (Run) fed through a
// serialized signal inbox. Session read loops, the log consumer and
// disconnect cleanup post signals; nothing outside Run touches the maps.
package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sedproject/sed/pkg/wire"
)

// inboxSize bounds the signal inbox. Producers block when the central
// goroutine falls behind, which applies natural backpressure to session
// read loops and the log consumer.
const inboxSize = 256

// stickyKey binds a consistency key to a client type. Each stickyKey maps to
// at most one connected session of that type.
type stickyKey struct {
	clientType string
	key        wire.Key
}

// session is the registry record for one connected client. Mutated only by
// the central goroutine.
type session struct {
	client Client
	// clientType is empty until the client registers.
	clientType string
	// allTypes is the ["*"] subscription filter; when false, eventTypes
	// holds the explicit set.
	allTypes   bool
	eventTypes map[string]struct{}
	// stickyKeys tracks which sticky bindings point at this session, for
	// cleanup on disconnect.
	stickyKeys map[stickyKey]struct{}
	// unacked holds delivered-but-unacknowledged events keyed by their ack
	// hash, for redelivery on disconnect.
	unacked map[string]wire.Event
}

// wantsType evaluates the subscription filter for one event type.
func (s *session) wantsType(eventType string) bool {
	if s.allTypes {
		return true
	}
	_, ok := s.eventTypes[eventType]
	return ok
}

// Bus is the central agent. Construct with New, drive with Run, feed with
// Post. All exported methods are safe for concurrent use; the internal maps
// are not, and belong exclusively to the Run goroutine.
type Bus struct {
	store DocumentStore
	log   EventLog

	inbox    chan Signal
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}

	sessions    map[string]*session
	roundRobin  map[string][]string
	sticky      map[stickyKey]string
	pending     map[string][]wire.Event
	consistency map[wire.Key]uint32
}

// New creates a Bus and recovers the consistency map from the document
// store. A missing map is not an error: the bus starts with an empty one.
func New(ctx context.Context, store DocumentStore, log EventLog) (*Bus, error) {
	consistency, err := store.LoadConsistency(ctx)
	if err != nil {
		slog.Info("No persisted consistency map, starting with empty map", "error", err)
		consistency = make(map[wire.Key]uint32)
	} else {
		slog.Info("Recovered consistency map", "keys", len(consistency))
	}

	return &Bus{
		store:       store,
		log:         log,
		inbox:       make(chan Signal, inboxSize),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		sessions:    make(map[string]*session),
		roundRobin:  make(map[string][]string),
		sticky:      make(map[stickyKey]string),
		pending:     make(map[string][]wire.Event),
		consistency: consistency,
	}, nil
}

// Run processes signals until ctx is cancelled or Stop is called. It must be
// called exactly once.
func (b *Bus) Run(ctx context.Context) {
	defer close(b.done)
	slog.Info("Bus started")

	for {
		select {
		case <-ctx.Done():
			slog.Info("Bus stopped", "reason", ctx.Err())
			return
		case <-b.quit:
			slog.Info("Bus stopped")
			return
		case sig := <-b.inbox:
			b.handle(ctx, sig)
		}
	}
}

// Stop signals Run to exit and waits for it to drain the current signal.
// Safe to call multiple times.
func (b *Bus) Stop() {
	b.quitOnce.Do(func() { close(b.quit) })
	<-b.done
}

// Post queues a signal for the central goroutine. It blocks while the inbox
// is full and drops the signal once the bus has stopped.
func (b *Bus) Post(sig Signal) {
	select {
	case b.inbox <- sig:
	case <-b.quit:
		slog.Debug("Dropping signal posted after bus stop")
	}
}

func (b *Bus) handle(ctx context.Context, sig Signal) {
	switch s := sig.(type) {
	case Connect:
		b.connect(s)
	case Disconnect:
		b.disconnect(s.Addr)
	case Register:
		b.register(s)
	case NewEvents:
		b.ingest(ctx, s)
	case Ack:
		b.acknowledge(s)
	case Query:
		b.handleQuery(s)
	case Propagate:
		b.propagate(s.Event)
	default:
		slog.Error("Unknown signal type dropped", "signal", sig)
	}
}

// connect creates the registry record for a session. A reconnect with the
// same address replaces the prior record.
func (b *Bus) connect(sig Connect) {
	addr := sig.Client.Addr()
	details := &session{
		client:     sig.Client,
		allTypes:   true,
		eventTypes: make(map[string]struct{}),
		stickyKeys: make(map[stickyKey]struct{}),
		unacked:    make(map[string]wire.Event),
	}

	if _, replaced := b.sessions[addr]; replaced {
		slog.Info("Session replaced in registry", "client", addr)
	} else {
		slog.Info("Session added to registry", "client", addr)
	}
	b.sessions[addr] = details
}

// acknowledge removes one event from a session's unack set. Acknowledging an
// event that is not in the set is a warned no-op.
func (b *Bus) acknowledge(sig Ack) {
	details, ok := b.sessions[sig.Addr]
	if !ok {
		slog.Error("Acknowledgement from unknown session", "client", sig.Addr, "error", ErrSessionNotFound)
		return
	}

	key, err := wire.AckKey(sig.Event)
	if err != nil {
		slog.Error("Failed to hash acknowledged event", "client", sig.Addr, "error", err)
		return
	}

	if _, ok := details.unacked[key]; !ok {
		slog.Warn("Acknowledgement for event not awaiting ack", "client", sig.Addr, "event_type", sig.Event.EventType)
		return
	}
	delete(details.unacked, key)
	slog.Info("Event acknowledged", "client", sig.Addr, "event_type", sig.Event.EventType)
}

// disconnect tears a session down: sticky bindings are released, the session
// leaves its round robin queue, its unacked events are re-propagated (which
// may select a sibling session or land in the pending queues), and finally
// the record is removed.
func (b *Bus) disconnect(addr string) {
	details, ok := b.sessions[addr]
	if !ok {
		slog.Warn("Disconnect for session not in registry", "client", addr)
		return
	}
	slog.Info("Removing session from registry", "client", addr)

	for sk := range details.stickyKeys {
		if _, ok := b.sticky[sk]; ok {
			delete(b.sticky, sk)
			slog.Debug("Released sticky binding", "client", addr, "client_type", sk.clientType, "key", sk.key)
		} else {
			slog.Error("Sticky key missing from sticky map", "client", addr, "key", sk.key)
		}
	}

	if details.clientType != "" {
		b.removeFromQueue(details.clientType, addr)
	}

	// Redeliver before dropping the record. The session is already out of
	// the queue and sticky map, so it cannot be selected again. Typeless
	// sessions never hold unacked events: the dispatcher refuses them.
	if details.clientType != "" {
		for _, ev := range details.unacked {
			ev.MessageType = wire.TypeEvent
			slog.Info("Redelivering unacknowledged event", "client", addr, "event_type", ev.EventType, "key", ev.Consistency.Key)
			b.propagateTo(ev, details.clientType)
		}
	} else if len(details.unacked) > 0 {
		slog.Error("Typeless session held unacknowledged events", "client", addr, "count", len(details.unacked), "error", ErrNoClientType)
	}

	delete(b.sessions, addr)
	slog.Info("Removed session from registry", "client", addr)
}

// removeFromQueue deletes one address from a client type's round robin
// queue, preserving the order of the remaining entries.
func (b *Bus) removeFromQueue(clientType, addr string) {
	queue, ok := b.roundRobin[clientType]
	if !ok {
		slog.Warn("Client type has no round robin queue", "client", addr, "client_type", clientType)
		return
	}
	for i, entry := range queue {
		if entry == addr {
			b.roundRobin[clientType] = append(queue[:i], queue[i+1:]...)
			slog.Debug("Removed session from round robin queue", "client", addr, "client_type", clientType)
			return
		}
	}
	slog.Warn("Session was not in its client type queue", "client", addr, "client_type", clientType)
}
