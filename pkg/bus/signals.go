package bus

import "github.com/sedproject/sed/pkg/wire"

// Client is the bus's handle to one connected session. The bus never touches
// the socket: it queues outbound frames through Send and the session's writer
// goroutine owns the actual write. Addr is the session's stable identity.
type Client interface {
	Addr() string
	Send(v any)
}

// Signal is one unit of work for the central bus goroutine. Signals are
// posted by session read loops, the log consumer, and disconnect cleanup,
// and are processed strictly one at a time.
type Signal interface {
	isSignal()
}

// Connect announces a new session. Idempotent on the address: a second
// connect with the same address replaces the prior record.
type Connect struct {
	Client Client
}

// Disconnect removes a session and triggers redelivery of its unacked events.
type Disconnect struct {
	Addr string
}

// Register declares a session's client type and event type filter.
type Register struct {
	Client Client
	Frame  wire.Register
}

// NewEvents carries a batch of submitted events from a session.
type NewEvents struct {
	Client    Client
	SessionID int64
	Frame     wire.NewEvents
}

// Ack acknowledges one delivered event. The event must be echoed exactly as
// delivered (with message_type "ack") for unack-set matching.
type Ack struct {
	Addr  string
	Event wire.Event
}

// Query requests historical events from the log gateway.
type Query struct {
	Client Client
	Frame  wire.Query
}

// Propagate carries an accepted event read back from the durable log for
// dispatch to subscribed client types.
type Propagate struct {
	Event wire.Event
}

func (Connect) isSignal()    {}
func (Disconnect) isSignal() {}
func (Register) isSignal()   {}
func (NewEvents) isSignal()  {}
func (Ack) isSignal()        {}
func (Query) isSignal()      {}
func (Propagate) isSignal()  {}
