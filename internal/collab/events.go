package collab

import (
	"time"

	"codecollab/internal/ot"
)

const eventOpApplied = "OP_APPLIED"

// OpAppliedEvent is published to the audit stream for every sequenced
// operation, keyed by session so one session stays in one partition.
type OpAppliedEvent struct {
	EventType   string       `json:"eventType"`
	SessionID   string       `json:"sessionId"`
	Seq         uint64       `json:"seq"`
	AuthorID    string       `json:"authorId"`
	ClientOpID  string       `json:"clientOpId"`
	BaseVersion uint64       `json:"baseVersion"`
	Op          ot.Operation `json:"op"`
	AppliedAt   time.Time    `json:"appliedAt"`
}
