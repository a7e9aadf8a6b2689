package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/sedproject/sed/pkg/bus"
	"github.com/sedproject/sed/pkg/wire"
)

const (
	// outboxSize is the per-session outbound buffer. A session that cannot
	// drain it is treated as dead and closed; the disconnect path then
	// redelivers its unacked events to a sibling.
	outboxSize = 256

	writeTimeout = 10 * time.Second
)

// Session owns the I/O for one connected client: a read loop that parses
// frames and posts signals to the bus, and a writer goroutine that drains
// the outbound buffer. The bus addresses the session only through the
// Client interface.
type Session struct {
	addr      string
	connID    string
	sessionID int64
	conn      *websocket.Conn
	bus       *bus.Bus

	out       chan any
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newSession(ctx context.Context, conn *websocket.Conn, addr string, b *bus.Bus) *Session {
	ctx, cancel := context.WithCancel(ctx)
	return &Session{
		addr:      addr,
		connID:    uuid.New().String(),
		sessionID: rand.Int63(),
		conn:      conn,
		bus:       b,
		out:       make(chan any, outboxSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Addr returns the session's stable identity: its remote network address.
func (s *Session) Addr() string { return s.addr }

// Send queues one outbound frame. Called by the central bus goroutine, so it
// must never block: a full buffer closes the session instead.
func (s *Session) Send(v any) {
	select {
	case s.out <- v:
	default:
		slog.Error("Session outbound buffer full, closing",
			"client", s.addr, "connection_id", s.connID)
		s.close(websocket.StatusPolicyViolation, "outbound buffer full")
	}
}

func (s *Session) close(code websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.conn.Close(code, reason)
	})
}

// run registers the session with the bus, serves its read loop until the
// connection drops, and tears everything down. Blocks for the connection's
// lifetime.
func (s *Session) run() {
	slog.Info("Session started", "client", s.addr, "connection_id", s.connID)

	go s.writeLoop()

	s.bus.Post(bus.Connect{Client: s})
	defer func() {
		s.bus.Post(bus.Disconnect{Addr: s.addr})
		s.close(websocket.StatusNormalClosure, "")
		slog.Info("Session finished", "client", s.addr, "connection_id", s.connID)
	}()

	for {
		typ, data, err := s.conn.Read(s.ctx)
		if err != nil {
			slog.Debug("Session read loop ending", "client", s.addr, "error", err)
			return
		}
		if typ != websocket.MessageText {
			slog.Warn("Ignoring non-text frame", "client", s.addr, "frame_type", typ)
			continue
		}
		s.dispatch(data)
	}
}

// dispatch parses one inbound frame and posts the matching signal. Protocol
// errors are logged at the session and do not tear the session down.
func (s *Session) dispatch(data []byte) {
	var header wire.Header
	if err := json.Unmarshal(data, &header); err != nil {
		slog.Warn("Invalid JSON frame", "client", s.addr, "error", err)
		return
	}

	switch header.MessageType {
	case wire.TypeNew:
		var frame wire.NewEvents
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Warn("Invalid new frame", "client", s.addr, "error", err)
			return
		}
		s.bus.Post(bus.NewEvents{Client: s, SessionID: s.sessionID, Frame: frame})

	case wire.TypeRegister:
		var frame wire.Register
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Warn("Invalid register frame", "client", s.addr, "error", err)
			return
		}
		s.bus.Post(bus.Register{Client: s, Frame: frame})

	case wire.TypeQuery:
		var frame wire.Query
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Warn("Invalid query frame", "client", s.addr, "error", err)
			return
		}
		s.bus.Post(bus.Query{Client: s, Frame: frame})

	case wire.TypeAck:
		var ev wire.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Warn("Invalid ack frame", "client", s.addr, "error", err)
			return
		}
		s.bus.Post(bus.Ack{Addr: s.addr, Event: ev})

	case "":
		slog.Warn("Frame without message_type", "client", s.addr)

	default:
		slog.Warn("Unknown message_type", "client", s.addr, "message_type", header.MessageType)
	}
}

// writeLoop is the sole writer on the socket.
func (s *Session) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case v := <-s.out:
			data, err := json.Marshal(v)
			if err != nil {
				slog.Error("Failed to marshal outbound frame", "client", s.addr, "error", err)
				continue
			}

			writeCtx, cancel := context.WithTimeout(s.ctx, writeTimeout)
			err = s.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				slog.Warn("Failed to write to session, closing", "client", s.addr, "error", err)
				s.close(websocket.StatusAbnormalClosure, "write failure")
				return
			}
		}
	}
}
