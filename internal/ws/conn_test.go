package ws

import (
	"testing"
	"time"

	"codecollab/internal/collab"
)

func newIdleConn(userID string) *Conn {
	return NewConn(nil, nil, nil, nil, "s1", userID, userID, collab.RoleEditor, 0)
}

// drain empties the outbound queue without blocking.
func drain(c *Conn) []OutboundMessage {
	var out []OutboundMessage
	for {
		select {
		case msg := <-c.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestConnStateMachine(t *testing.T) {
	c := newIdleConn("amy")
	if got := c.State(); got != StateConnecting {
		t.Fatalf("initial state = %s, want connecting", got)
	}

	steps := []ConnState{StateConnected, StateDisconnected, StateReconnecting, StateConnected}
	for _, to := range steps {
		if err := c.transition(to); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}

	// connected -> reconnecting skips disconnected and must be rejected
	if err := c.transition(StateReconnecting); err == nil {
		t.Fatalf("connected -> reconnecting should be invalid")
	}
	if got := c.State(); got != StateConnected {
		t.Fatalf("state after rejected transition = %s, want connected", got)
	}

	if err := c.transition(StateClosed); err != nil {
		t.Fatalf("transition to closed: %v", err)
	}
	// closed is terminal
	for _, to := range []ConnState{StateConnecting, StateConnected, StateDisconnected, StateReconnecting} {
		if err := c.transition(to); err == nil {
			t.Fatalf("closed -> %s should be invalid", to)
		}
	}
}

func TestConnEnqueueNeverBlocks(t *testing.T) {
	c := newIdleConn("amy")
	for i := 0; i < cap(c.send)+10; i++ {
		c.Enqueue(ErrorMessage{Type: TypeError, Code: "VALIDATION"})
	}
	if got := len(c.send); got != cap(c.send) {
		t.Fatalf("queue length = %d, want full at %d", got, cap(c.send))
	}
}

// A session actor may broadcast between a connection's read loop exiting and
// the hub removing it from the room; that window must never panic the actor.
func TestBroadcastAfterConnShutdown(t *testing.T) {
	hub := NewHub()
	amy := newIdleConn("amy")
	hub.Join("s1", amy)

	amy.shutdown() // what the read loop does on its way out
	amy.shutdown() // idempotent

	hub.BroadcastOp("s1", collab.SubmitResult{Seq: 1, AuthorID: "amy", ClientOpID: "a-1"})
	hub.BroadcastCursor("s1", "bob", collab.CursorState{Position: 1})
	hub.BroadcastSessionClosed("s1")

	select {
	case <-amy.done:
	default:
		t.Fatalf("done must be closed after shutdown")
	}
}

func TestTerminateWithFullQueue(t *testing.T) {
	c := newIdleConn("amy")
	for i := 0; i < cap(c.send); i++ {
		c.Enqueue(ErrorMessage{Type: TypeError, Code: "VALIDATION"})
	}

	finished := make(chan struct{})
	go func() {
		c.Terminate()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatalf("Terminate blocked on a full queue")
	}
	select {
	case <-c.done:
	default:
		t.Fatalf("write loop not released when the close frame could not be queued")
	}
}

func TestHubRoomsAndFanout(t *testing.T) {
	hub := NewHub()
	amy := newIdleConn("amy")
	bob := newIdleConn("bob")
	other := newIdleConn("eve")
	hub.Join("s1", amy)
	hub.Join("s1", bob)
	hub.Join("s2", other)

	hub.BroadcastOp("s1", collab.SubmitResult{Seq: 1, AuthorID: "amy", ClientOpID: "a-1"})

	// the canonical op reaches the whole room, submitter included
	for _, c := range []*Conn{amy, bob} {
		msgs := drain(c)
		if len(msgs) != 1 {
			t.Fatalf("%s received %d messages, want 1", c.userID, len(msgs))
		}
		applied, ok := msgs[0].(OpAppliedMessage)
		if !ok || applied.Seq != 1 {
			t.Fatalf("%s received %#v", c.userID, msgs[0])
		}
	}
	if msgs := drain(other); len(msgs) != 0 {
		t.Fatalf("other room received %d messages", len(msgs))
	}
}

func TestHubCursorSkipsAuthor(t *testing.T) {
	hub := NewHub()
	amy := newIdleConn("amy")
	bob := newIdleConn("bob")
	hub.Join("s1", amy)
	hub.Join("s1", bob)

	hub.BroadcastCursor("s1", "amy", collab.CursorState{Position: 3})

	if msgs := drain(amy); len(msgs) != 0 {
		t.Fatalf("author got their own cursor echo: %#v", msgs)
	}
	msgs := drain(bob)
	if len(msgs) != 1 {
		t.Fatalf("peer received %d messages, want 1", len(msgs))
	}
	if cur, ok := msgs[0].(PresenceChangedMessage); !ok || cur.Position != 3 || cur.UserID != "amy" {
		t.Fatalf("peer received %#v", msgs[0])
	}
}

func TestHubSessionClosed(t *testing.T) {
	hub := NewHub()
	amy := newIdleConn("amy")
	_ = amy.transition(StateConnected)
	hub.Join("s1", amy)

	hub.BroadcastSessionClosed("s1")

	if got := amy.State(); got != StateClosed {
		t.Fatalf("state after session close = %s, want closed", got)
	}
	msgs := drain(amy)
	if len(msgs) != 2 {
		t.Fatalf("received %d messages, want session.closed + terminate", len(msgs))
	}
	if _, ok := msgs[0].(SessionClosedMessage); !ok {
		t.Fatalf("first message = %#v, want SessionClosedMessage", msgs[0])
	}
	if _, ok := msgs[1].(terminateMessage); !ok {
		t.Fatalf("second message = %#v, want terminate sentinel", msgs[1])
	}
	if msgs := hub.conns("s1"); len(msgs) != 0 {
		t.Fatalf("room should be gone after close")
	}
}
