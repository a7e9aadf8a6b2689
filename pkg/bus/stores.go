package bus

import (
	"context"
	"errors"

	"github.com/sedproject/sed/pkg/wire"
)

// DocumentStore persists the consistency map and accepted events, and serves
// historical queries. Implemented by store.Couchbase; tests use in-memory
// fakes.
type DocumentStore interface {
	// LoadConsistency returns the persisted consistency map, or an empty map
	// if none has been saved yet.
	LoadConsistency(ctx context.Context) (map[wire.Key]uint32, error)
	// SaveConsistency replaces the persisted consistency map.
	SaveConsistency(ctx context.Context, m map[wire.Key]uint32) error
	// SaveEvent stores one accepted event under its content-addressed ID.
	SaveEvent(ctx context.Context, id string, ev wire.Event) error
	// QueryEvents returns events whose type is in eventTypes (or all types if
	// eventTypes contains "*") and whose raw timestamp is strictly greater
	// than since, in ascending timestamp order.
	QueryEvents(ctx context.Context, eventTypes []string, since int64) ([]wire.Event, error)
}

// EventLog appends accepted events to the durable topic. Dispatch happens
// when the consumer reads them back, so the log is the single ordering point
// for propagation.
type EventLog interface {
	Append(ctx context.Context, ev wire.Event) error
}

// Error taxonomy for registry and dispatch failures. Registry errors
// indicate bugs (a session missing from the map); dispatch errors are
// transient and route events to the pending queues.
var (
	ErrSessionNotFound = errors.New("session not present in registry")
	ErrNoQueueForType  = errors.New("no round robin queue for client type")
	ErrEmptyQueue      = errors.New("round robin queue for client type is empty")
	ErrNoClientType    = errors.New("session has no declared client type")
)
