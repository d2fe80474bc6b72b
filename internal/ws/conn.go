package ws

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"codecollab/internal/collab"
	"codecollab/internal/ot"
)

// ConnState is the transport lifecycle of one client connection.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateConnected
	StateDisconnected
	StateReconnecting
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// transitions is the explicit state table; anything not listed is invalid.
var transitions = map[ConnState][]ConnState{
	StateConnecting:   {StateConnected, StateClosed},
	StateConnected:    {StateDisconnected, StateClosed},
	StateDisconnected: {StateReconnecting, StateClosed},
	StateReconnecting: {StateConnected, StateDisconnected, StateClosed},
	StateClosed:       {},
}

// Conn is one websocket attachment of a participant to a session.
type Conn struct {
	ws       *websocket.Conn
	hub      *Hub
	svc      *collab.Service
	presence *collab.PresenceBroadcaster

	sessionID   string
	userID      string
	displayName string
	role        collab.Role

	// send is never closed: session actors broadcast into it from their own
	// goroutines, and closing it under them would panic the whole process.
	// done releases the write loop instead.
	send     chan OutboundMessage
	done     chan struct{}
	stopOnce sync.Once

	mu    sync.Mutex
	state ConnState

	heartbeatTimeout time.Duration
}

func NewConn(ws *websocket.Conn, hub *Hub, svc *collab.Service, presence *collab.PresenceBroadcaster,
	sessionID, userID, displayName string, role collab.Role, heartbeatTimeout time.Duration) *Conn {
	return &Conn{
		ws:               ws,
		hub:              hub,
		svc:              svc,
		presence:         presence,
		sessionID:        sessionID,
		userID:           userID,
		displayName:      displayName,
		role:             role,
		send:             make(chan OutboundMessage, 256),
		done:             make(chan struct{}),
		state:            StateConnecting,
		heartbeatTimeout: heartbeatTimeout,
	}
}

func (c *Conn) transition(to ConnState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, allowed := range transitions[c.state] {
		if allowed == to {
			c.state = to
			return nil
		}
	}
	return fmt.Errorf("invalid transition %s -> %s", c.state, to)
}

func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Enqueue queues a message without blocking the caller. A full queue means a
// client too slow to keep up; it will catch up through session.resync, so
// dropping here is safe.
func (c *Conn) Enqueue(msg OutboundMessage) {
	select {
	case c.send <- msg:
	default:
	}
}

// shutdown releases the write loop. Safe from any goroutine, any number of
// times.
func (c *Conn) shutdown() {
	c.stopOnce.Do(func() { close(c.done) })
}

// Terminate asks the write loop to flush, send a close frame and stop. Used
// when the session is closed underneath the connection.
func (c *Conn) Terminate() {
	_ = c.transition(StateClosed)
	select {
	case c.send <- terminateMessage{}:
	default:
		// queue full: skip the close frame, just release the write loop
		c.shutdown()
	}
}

func (c *Conn) readLoop(ctx context.Context) {
	defer c.shutdown()

	_ = c.ws.SetReadDeadline(time.Now().Add(c.heartbeatTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.heartbeatTimeout))
	})

	for {
		var msg ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			if c.State() != StateClosed {
				// missed heartbeat or dropped transport: keep the participant
				// for the reconnect grace period
				_ = c.transition(StateDisconnected)
				c.svc.MarkDisconnected(c.sessionID, c.userID)
				log.Printf("connection lost session=%s user=%s err=%v", c.sessionID, c.userID, err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.heartbeatTimeout))

		switch msg.Type {
		case TypeHeartbeat:
			if err := c.presence.Heartbeat(ctx, c.sessionID, c.userID, c.displayName); err != nil {
				log.Printf("heartbeat cache write failed session=%s user=%s err=%v", c.sessionID, c.userID, err)
			}

		case TypeOpSubmit:
			c.handleOpSubmit(ctx, msg)

		case TypePresenceUpdate:
			// fire-and-forget, never buffered: last write wins
			c.presence.UpdateCursor(ctx, c.sessionID, c.userID, collab.CursorState{
				Position:       msg.Position,
				SelectionStart: msg.SelectionStart,
				SelectionEnd:   msg.SelectionEnd,
				Typing:         msg.Typing,
			})

		case TypeChatSend:
			if _, err := c.svc.PostMessage(ctx, c.sessionID, c.userID, msg.Text); err != nil {
				c.Enqueue(ErrorMessage{Type: TypeError, Code: collab.Code(err)})
			}

		case TypeChatReact:
			if err := c.svc.AddReaction(ctx, c.sessionID, msg.MessageID, c.userID, msg.Emoji); err != nil {
				c.Enqueue(ErrorMessage{Type: TypeError, Code: collab.Code(err)})
			}

		case TypeResync:
			res, err := c.svc.Resync(ctx, c.sessionID, msg.LastKnownSeq)
			if err != nil {
				c.Enqueue(ErrorMessage{Type: TypeError, Code: collab.Code(err)})
				continue
			}
			c.Enqueue(SessionStateMessage{
				Type:            TypeSessionState,
				DocumentVersion: res.DocumentVersion,
				DocumentText:    res.DocumentText,
				MissingOps:      res.MissingOps,
				Full:            res.Full,
			})

		default:
			c.Enqueue(ErrorMessage{Type: TypeError, Code: collab.ErrValidation.Error()})
		}
	}
}

func (c *Conn) handleOpSubmit(ctx context.Context, msg ClientMessage) {
	if c.role == collab.RoleViewer {
		c.Enqueue(OpRejectedMessage{Type: TypeOpRejected, ClientOpID: msg.ClientOpID, Code: collab.ErrForbidden.Error()})
		return
	}
	submitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	res, err := c.svc.SubmitOp(submitCtx, c.sessionID, c.userID, collab.ClientOp{
		ClientOpID:  msg.ClientOpID,
		BaseVersion: msg.BaseVersion,
		Op: ot.Operation{
			Kind:     ot.Kind(msg.Kind),
			Position: msg.Position,
			Text:     msg.Text,
			Length:   msg.Length,
		},
	})
	if err != nil {
		// the op is dropped, never half-applied; the client resyncs instead
		// of silently diverging
		c.Enqueue(OpRejectedMessage{Type: TypeOpRejected, ClientOpID: msg.ClientOpID, Code: collab.Code(err)})
		return
	}
	c.Enqueue(OpAckMessage{Type: TypeOpAck, ClientOpID: res.ClientOpID, Seq: res.Seq})
	// op.applied reaches this client through the room broadcast
}

func (c *Conn) writeLoop() {
	ping := time.NewTicker(c.heartbeatTimeout * 9 / 10)
	defer ping.Stop()
	defer c.ws.Close()

	for {
		select {
		case msg := <-c.send:
			if _, terminal := msg.(terminateMessage); terminal {
				_ = c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				return
			}
			if err := c.ws.WriteJSON(msg); err != nil {
				return
			}
		case <-c.done:
			return
		case <-ping.C:
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
