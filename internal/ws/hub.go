package ws

import (
	"sync"

	"codecollab/internal/collab"
)

// Hub tracks which connections belong to which session room and fans engine
// events out to them. It implements collab.Broadcaster; the session actors
// call it only after sequencing, so every room observes operations in
// sequence order.
type Hub struct {
	mu sync.RWMutex
	// sessionID -> set of connections. A user can hold several connections
	// (tabs, devices), so rooms store connections, not user IDs.
	rooms map[string]map[*Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Conn]struct{})}
}

func (h *Hub) Join(sessionID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[sessionID] == nil {
		h.rooms[sessionID] = make(map[*Conn]struct{})
	}
	h.rooms[sessionID][c] = struct{}{}
}

func (h *Hub) Leave(sessionID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[sessionID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, sessionID)
		}
	}
}

func (h *Hub) conns(sessionID string) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Conn, 0, len(h.rooms[sessionID]))
	for c := range h.rooms[sessionID] {
		out = append(out, c)
	}
	return out
}

// BroadcastOp delivers the canonical transformed op to every connection in
// the room, submitter included (the echo confirms application order).
func (h *Hub) BroadcastOp(sessionID string, res collab.SubmitResult) {
	msg := OpAppliedMessage{
		Type:       TypeOpApplied,
		Seq:        res.Seq,
		AuthorID:   res.AuthorID,
		ClientOpID: res.ClientOpID,
		Kind:       res.Transformed.Kind,
		Position:   res.Transformed.Position,
		Text:       res.Transformed.Text,
		Length:     res.Transformed.Length,
		AppliedAt:  res.AppliedAt,
	}
	for _, c := range h.conns(sessionID) {
		c.Enqueue(msg)
	}
}

func (h *Hub) BroadcastChat(sessionID string, m collab.ChatMessage) {
	msg := ChatMessageMessage{Type: TypeChatMessage, Message: m}
	for _, c := range h.conns(sessionID) {
		c.Enqueue(msg)
	}
}

func (h *Hub) BroadcastReaction(sessionID, messageID, emoji, userID string) {
	msg := ChatReactionMessage{Type: TypeChatReaction, MessageID: messageID, Emoji: emoji, UserID: userID}
	for _, c := range h.conns(sessionID) {
		c.Enqueue(msg)
	}
}

// BroadcastCursor sends presence to everyone except the author's own
// connections; cursor echo is useless to the client that moved it.
func (h *Hub) BroadcastCursor(sessionID, userID string, cur collab.CursorState) {
	msg := PresenceChangedMessage{
		Type:           TypePresenceChange,
		UserID:         userID,
		Position:       cur.Position,
		SelectionStart: cur.SelectionStart,
		SelectionEnd:   cur.SelectionEnd,
		Typing:         cur.Typing,
		UpdatedAt:      cur.UpdatedAt,
	}
	for _, c := range h.conns(sessionID) {
		if c.userID == userID {
			continue
		}
		c.Enqueue(msg)
	}
}

func (h *Hub) BroadcastParticipantJoined(sessionID string, p collab.Participant) {
	msg := PresenceJoinMessage{Type: TypePresenceJoin, Participant: p}
	for _, c := range h.conns(sessionID) {
		if c.userID == p.UserID {
			continue
		}
		c.Enqueue(msg)
	}
}

func (h *Hub) BroadcastParticipantLeft(sessionID, userID string) {
	msg := PresenceLeaveMessage{Type: TypePresenceLeave, UserID: userID}
	for _, c := range h.conns(sessionID) {
		if c.userID == userID {
			continue
		}
		c.Enqueue(msg)
	}
}

// BroadcastSessionClosed sends the terminal event and then forces every
// connection in the room into Closed.
func (h *Hub) BroadcastSessionClosed(sessionID string) {
	for _, c := range h.conns(sessionID) {
		c.Enqueue(SessionClosedMessage{Type: TypeSessionClosed})
		c.Terminate()
	}
	h.mu.Lock()
	delete(h.rooms, sessionID)
	h.mu.Unlock()
}
