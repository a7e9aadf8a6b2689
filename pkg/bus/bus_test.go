package bus

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sedproject/sed/pkg/wire"
)

// fakeClient records frames the bus sends to a session. Safe for concurrent
// use: the query path sends from its own goroutine.
type fakeClient struct {
	addr string
	mu   sync.Mutex
	sent []any
}

func (c *fakeClient) Addr() string { return c.addr }

func (c *fakeClient) Send(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, v)
}

// Sent returns a snapshot of everything sent so far.
func (c *fakeClient) Sent() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.sent...)
}

// Events returns only the event frames, in send order.
func (c *fakeClient) Events() []wire.Event {
	var events []wire.Event
	for _, v := range c.Sent() {
		if ev, ok := v.(wire.Event); ok {
			events = append(events, ev)
		}
	}
	return events
}

// Receipts returns only the receipt frames, in send order.
func (c *fakeClient) Receipts() []wire.Receipts {
	var receipts []wire.Receipts
	for _, v := range c.Sent() {
		if r, ok := v.(wire.Receipts); ok {
			receipts = append(receipts, r)
		}
	}
	return receipts
}

// memStore is an in-memory DocumentStore honoring the same query contract
// as the Couchbase implementation.
type memStore struct {
	mu          sync.Mutex
	consistency map[wire.Key]uint32
	events      map[string]wire.Event
	saveErr     error
	saves       int
}

func newMemStore() *memStore {
	return &memStore{
		consistency: make(map[wire.Key]uint32),
		events:      make(map[string]wire.Event),
	}
}

func (s *memStore) LoadConsistency(context.Context) (map[wire.Key]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := make(map[wire.Key]uint32, len(s.consistency))
	for k, v := range s.consistency {
		m[k] = v
	}
	return m, nil
}

func (s *memStore) SaveConsistency(_ context.Context, m map[wire.Key]uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.consistency = make(map[wire.Key]uint32, len(m))
	for k, v := range m {
		s.consistency[k] = v
	}
	return nil
}

func (s *memStore) SaveEvent(_ context.Context, id string, ev wire.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[id] = ev
	return nil
}

func (s *memStore) QueryEvents(_ context.Context, eventTypes []string, since int64) ([]wire.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wildcard := false
	wanted := make(map[string]struct{}, len(eventTypes))
	for _, t := range eventTypes {
		if t == wire.Wildcard {
			wildcard = true
		}
		wanted[t] = struct{}{}
	}

	var matched []wire.Event
	for _, ev := range s.events {
		if ev.TimestampRaw <= since {
			continue
		}
		if !wildcard {
			if _, ok := wanted[ev.EventType]; !ok {
				continue
			}
		}
		matched = append(matched, ev)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].TimestampRaw < matched[j].TimestampRaw
	})
	return matched, nil
}

// memLog records appended events.
type memLog struct {
	mu       sync.Mutex
	appended []wire.Event
	err      error
}

func (l *memLog) Append(_ context.Context, ev wire.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.appended = append(l.appended, ev)
	return nil
}

func (l *memLog) Appended() []wire.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]wire.Event(nil), l.appended...)
}

// newTestBus builds a bus over in-memory stores. Tests drive it by calling
// handle directly, which mirrors the single-goroutine execution of Run.
func newTestBus(t *testing.T) (*Bus, *memStore, *memLog) {
	t.Helper()
	store := newMemStore()
	log := &memLog{}
	b, err := New(context.Background(), store, log)
	require.NoError(t, err)
	return b, store, log
}

// addSession connects a fake client and, when clientType is non-empty,
// registers it. No eventTypes means subscribe-to-all.
func addSession(t *testing.T, b *Bus, addr, clientType string, eventTypes ...string) *fakeClient {
	t.Helper()
	client := &fakeClient{addr: addr}
	b.handle(context.Background(), Connect{Client: client})
	if clientType != "" {
		if len(eventTypes) == 0 {
			eventTypes = []string{wire.Wildcard}
		}
		b.handle(context.Background(), Register{Client: client, Frame: wire.Register{
			MessageType: wire.TypeRegister,
			ClientType:  clientType,
			EventTypes:  eventTypes,
		}})
	}
	return client
}

// event builds a propagation-ready event the way the log consumer would
// hand it to the bus.
func event(eventType, key string, value uint32, data string) wire.Event {
	return wire.Event{
		Consistency:  wire.Consistency{Key: key, Value: wire.Explicit(value)},
		Data:         json.RawMessage(data),
		EventType:    eventType,
		MessageType:  wire.TypeEvent,
		Sender:       "127.0.0.1:4000",
		Timestamp:    "Mon, 02 Jan 2006 15:04:05 -0700",
		TimestampRaw: 1136239445,
	}
}
