package ws

import (
	"time"

	"codecollab/internal/collab"
	"codecollab/internal/ot"
)

// Message kinds on the realtime channel. Client->server kinds are matched in
// the read loop; server->client kinds each get their own struct below.
const (
	TypeOpSubmit       = "op.submit"
	TypeOpAck          = "op.ack"
	TypeOpApplied      = "op.applied"
	TypeOpRejected     = "op.rejected"
	TypePresenceUpdate = "presence.update"
	TypePresenceChange = "presence.changed"
	TypePresenceJoin   = "presence.join"
	TypePresenceLeave  = "presence.leave"
	TypeChatSend       = "chat.send"
	TypeChatMessage    = "chat.message"
	TypeChatReact      = "chat.react"
	TypeChatReaction   = "chat.reaction"
	TypeResync         = "session.resync"
	TypeSessionState   = "session.state"
	TypeSessionClosed  = "session.closed"
	TypeHeartbeat      = "heartbeat"
	TypeError          = "error"
)

// ClientMessage is the single inbound envelope; which fields matter depends
// on Type.
type ClientMessage struct {
	Type string `json:"type"`

	// op.submit
	ClientOpID  string `json:"clientOpId,omitempty"`
	BaseVersion uint64 `json:"baseVersion,omitempty"`
	Kind        string `json:"kind,omitempty"`
	Position    int    `json:"position,omitempty"`
	Text        string `json:"text,omitempty"` // also chat.send
	Length      int    `json:"length,omitempty"`

	// presence.update
	SelectionStart int  `json:"selectionStart,omitempty"`
	SelectionEnd   int  `json:"selectionEnd,omitempty"`
	Typing         bool `json:"typing,omitempty"`

	// chat.react
	MessageID string `json:"messageId,omitempty"`
	Emoji     string `json:"emoji,omitempty"`

	// session.resync
	LastKnownSeq uint64 `json:"lastKnownSeq,omitempty"`
}

// OutboundMessage is anything the write loop can serialize to the client.
type OutboundMessage interface {
	MessageType() string
}

type OpAckMessage struct {
	Type       string `json:"type"`
	ClientOpID string `json:"clientOpId"`
	Seq        uint64 `json:"seq"`
}

type OpAppliedMessage struct {
	Type       string    `json:"type"`
	Seq        uint64    `json:"seq"`
	AuthorID   string    `json:"authorId"`
	ClientOpID string    `json:"clientOpId"`
	Kind       ot.Kind   `json:"kind"`
	Position   int       `json:"position"`
	Text       string    `json:"text,omitempty"`
	Length     int       `json:"length,omitempty"`
	AppliedAt  time.Time `json:"appliedAt"`
}

type OpRejectedMessage struct {
	Type       string `json:"type"`
	ClientOpID string `json:"clientOpId"`
	Code       string `json:"code"`
}

type PresenceChangedMessage struct {
	Type           string    `json:"type"`
	UserID         string    `json:"userId"`
	Position       int       `json:"position"`
	SelectionStart int       `json:"selectionStart"`
	SelectionEnd   int       `json:"selectionEnd"`
	Typing         bool      `json:"typing"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type PresenceJoinMessage struct {
	Type        string             `json:"type"`
	Participant collab.Participant `json:"participant"`
}

type PresenceLeaveMessage struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type ChatMessageMessage struct {
	Type    string             `json:"type"`
	Message collab.ChatMessage `json:"message"`
}

type ChatReactionMessage struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	UserID    string `json:"userId"`
}

type SessionStateMessage struct {
	Type            string           `json:"type"`
	DocumentVersion uint64           `json:"documentVersion"`
	DocumentText    string           `json:"documentText,omitempty"`
	MissingOps      []ot.SequencedOp `json:"missingOps,omitempty"`
	Full            bool             `json:"full"`
}

type SessionClosedMessage struct {
	Type string `json:"type"`
}

type ErrorMessage struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

func (m OpAckMessage) MessageType() string           { return m.Type }
func (m OpAppliedMessage) MessageType() string       { return m.Type }
func (m OpRejectedMessage) MessageType() string      { return m.Type }
func (m PresenceChangedMessage) MessageType() string { return m.Type }
func (m PresenceJoinMessage) MessageType() string    { return m.Type }
func (m PresenceLeaveMessage) MessageType() string   { return m.Type }
func (m ChatMessageMessage) MessageType() string     { return m.Type }
func (m ChatReactionMessage) MessageType() string    { return m.Type }
func (m SessionStateMessage) MessageType() string    { return m.Type }
func (m SessionClosedMessage) MessageType() string   { return m.Type }
func (m ErrorMessage) MessageType() string           { return m.Type }

// terminateMessage tells the write loop to send a close frame and stop after
// everything queued before it has been flushed.
type terminateMessage struct{}

func (terminateMessage) MessageType() string { return "terminate" }
