// Package wire defines the JSON frames exchanged between the bus and its
// clients over WebSocket, plus the durable representations shared with the
// event log and the document store.
//
// Every frame carries a "message_type" discriminator. Client → bus frames:
// "new", "register", "query", "ack". Bus → client frames: "event",
// "receipt", "registration", "rebuild".
package wire

import "encoding/json"

// Message type discriminators.
const (
	TypeNew          = "new"
	TypeRegister     = "register"
	TypeQuery        = "query"
	TypeAck          = "ack"
	TypeEvent        = "event"
	TypeReceipt      = "receipt"
	TypeRegistration = "registration"
	TypeRebuild      = "rebuild"
)

// Wildcard matches all event types in registration filters and queries, and
// all timestamps in a query's "since" field.
const Wildcard = "*"

// Header is the minimal frame shape used to pick the discriminator before a
// full parse.
type Header struct {
	MessageType string `json:"message_type"`
}

// Event is a fully qualified event as accepted by the bus. It is the payload
// written to the event log and the document store, and (with MessageType set)
// the "event", "ack" and "rebuild" frame body.
//
// Field order matters: document IDs and unack-set keys are SHA1 hashes over
// the serialized struct, so reordering fields changes every derived ID.
type Event struct {
	Consistency   Consistency     `json:"consistency"`
	CorrelationID uint64          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
	EventType     string          `json:"event_type"`
	MessageType   string          `json:"message_type,omitempty"`
	Sender        string          `json:"sender"`
	SessionID     int64           `json:"session_id,omitempty"`
	Timestamp     string          `json:"timestamp"`
	TimestampRaw  int64           `json:"timestamp_raw,omitempty"`
}

// NewEvents is the "new" frame: a batch of events to accept.
type NewEvents struct {
	MessageType string     `json:"message_type"`
	Events      []NewEvent `json:"events"`
}

// NewEvent is a single submitted event before sequencing. The bus assigns
// the consistency value (for implicit submissions), timestamps, sender and
// session id.
type NewEvent struct {
	Consistency   Consistency     `json:"consistency"`
	CorrelationID uint64          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
	EventType     string          `json:"event_type"`
}

// Register is the "register" frame: the client declares its type and the
// event types it wants to receive. EventTypes of ["*"] means all types.
type Register struct {
	MessageType string   `json:"message_type"`
	ClientType  string   `json:"client_type"`
	EventTypes  []string `json:"event_types"`
}

// Registration echoes an accepted registration back to the client.
type Registration struct {
	MessageType string   `json:"message_type"`
	ClientType  string   `json:"client_type"`
	EventTypes  []string `json:"event_types"`
}

// Query is the "query" frame: a request for historical events. Since is an
// RFC 3339 timestamp or "*" for "from the beginning of time".
type Query struct {
	MessageType string   `json:"message_type"`
	EventTypes  []string `json:"event_types"`
	Since       string   `json:"since"`
}

// Receipt statuses.
const (
	StatusSuccess      = "success"
	StatusInconsistent = "inconsistent"
)

// Receipt reports the outcome of one submitted event: the SHA1 checksum of
// its data and whether it was accepted.
type Receipt struct {
	Checksum string `json:"checksum"`
	Status   string `json:"status"`
}

// Receipts is the "receipt" frame answering a "new" batch, one entry per
// submitted event in submission order.
type Receipts struct {
	MessageType string    `json:"message_type"`
	Receipts    []Receipt `json:"receipts"`
	Sender      string    `json:"sender"`
	Timestamp   string    `json:"timestamp"`
}

// Rebuild is the "rebuild" frame answering a "query": the matching historical
// events in ascending timestamp order, each with its inner message_type set
// to "rebuild" so clients can tell replays from live events.
type Rebuild struct {
	MessageType string  `json:"message_type"`
	Events      []Event `json:"events"`
}
