package collab

import (
	"time"

	"codecollab/internal/ot"
)

type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

type ConnectionState string

const (
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateDisconnected ConnectionState = "disconnected"
)

// SessionConfig is the owner-editable part of a session.
type SessionConfig struct {
	Title           string `json:"title"`
	Description     string `json:"description"`
	Language        string `json:"language"`
	MaxParticipants int    `json:"maxParticipants"`
	AllowAnonymous  bool   `json:"allowAnonymous"`
}

// SettingsPatch carries an owner's partial settings update; nil fields are
// left untouched.
type SettingsPatch struct {
	Title           *string `json:"title,omitempty"`
	Description     *string `json:"description,omitempty"`
	MaxParticipants *int    `json:"maxParticipants,omitempty"`
	AllowAnonymous  *bool   `json:"allowAnonymous,omitempty"`
}

// SessionInfo is the read-only view of a session handed to clients.
type SessionInfo struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"ownerId"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Language        string    `json:"language"`
	MaxParticipants int       `json:"maxParticipants"`
	AllowAnonymous  bool      `json:"allowAnonymous"`
	DocumentVersion uint64    `json:"documentVersion"`
	CreatedAt       time.Time `json:"createdAt"`
}

type Participant struct {
	SessionID       string          `json:"sessionId"`
	UserID          string          `json:"userId"`
	DisplayName     string          `json:"displayName"`
	Role            Role            `json:"role"`
	ConnectionState ConnectionState `json:"connectionState"`
	JoinedAt        time.Time       `json:"joinedAt"`
	LastSeenAt      time.Time       `json:"lastSeenAt"`
}

// CursorState is soft presence state. It lives in the presence cache with a
// TTL and is lost on restart by design.
type CursorState struct {
	Position       int       `json:"position"`
	SelectionStart int       `json:"selectionStart"`
	SelectionEnd   int       `json:"selectionEnd"`
	Typing         bool      `json:"typing"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type ChatMessage struct {
	ID        string              `json:"id"`
	SessionID string              `json:"sessionId"`
	AuthorID  string              `json:"authorId"`
	Text      string              `json:"text"`
	CreatedAt time.Time           `json:"createdAt"`
	Reactions map[string][]string `json:"reactions,omitempty"` // emoji -> userIDs
}

// ClientOp is an edit as submitted by a client, before sequencing.
type ClientOp struct {
	ClientOpID  string       `json:"clientOpId"`
	BaseVersion uint64       `json:"baseVersion"`
	Op          ot.Operation `json:"op"`
}

// SubmitResult echoes the canonical form of a sequenced operation.
type SubmitResult struct {
	Seq         uint64       `json:"seq"`
	Transformed ot.Operation `json:"transformed"`
	AuthorID    string       `json:"authorId"`
	ClientOpID  string       `json:"clientOpId"`
	AppliedAt   time.Time    `json:"appliedAt"`
}

// JoinResult is everything a joining client needs to start from a consistent
// state: the reconciled document plus the current roster.
type JoinResult struct {
	Session         SessionInfo   `json:"session"`
	Participant     Participant   `json:"participant"`
	Participants    []Participant `json:"participants"`
	DocumentText    string        `json:"documentText"`
	DocumentVersion uint64        `json:"documentVersion"`
}

// ResyncResult carries either the missing tail of the op log or, when the
// tail has been compacted away, the full document.
type ResyncResult struct {
	DocumentVersion uint64           `json:"documentVersion"`
	MissingOps      []ot.SequencedOp `json:"missingOps,omitempty"`
	DocumentText    string           `json:"documentText,omitempty"`
	Full            bool             `json:"full"`
}

// Broadcaster fans engine events out to every connected participant of a
// session. The ws hub implements it; broadcasts happen only after the
// per-session actor has sequenced the triggering change.
type Broadcaster interface {
	BroadcastOp(sessionID string, res SubmitResult)
	BroadcastChat(sessionID string, msg ChatMessage)
	BroadcastReaction(sessionID, messageID, emoji, userID string)
	BroadcastCursor(sessionID, userID string, cur CursorState)
	BroadcastParticipantJoined(sessionID string, p Participant)
	BroadcastParticipantLeft(sessionID, userID string)
	BroadcastSessionClosed(sessionID string)
}

// NopBroadcaster is used in tests and before the ws layer attaches.
type NopBroadcaster struct{}

func (NopBroadcaster) BroadcastOp(string, SubmitResult)                 {}
func (NopBroadcaster) BroadcastChat(string, ChatMessage)                {}
func (NopBroadcaster) BroadcastReaction(string, string, string, string) {}
func (NopBroadcaster) BroadcastCursor(string, string, CursorState)      {}
func (NopBroadcaster) BroadcastParticipantJoined(string, Participant)   {}
func (NopBroadcaster) BroadcastParticipantLeft(string, string)          {}
func (NopBroadcaster) BroadcastSessionClosed(string)                    {}
