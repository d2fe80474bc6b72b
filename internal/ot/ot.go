package ot

import (
	"fmt"
	"time"
)

type Kind string

const (
	KindInsert Kind = "insert"
	KindDelete Kind = "delete"
)

// Operation is a single position-based edit against a known document version.
// Positions are rune offsets into the server's document at that version.
type Operation struct {
	Kind     Kind   `json:"kind"`
	Position int    `json:"position"`
	Text     string `json:"text,omitempty"`   // insert
	Length   int    `json:"length,omitempty"` // delete
}

// Span returns how many runes the operation covers.
func (op Operation) Span() int {
	if op.Kind == KindInsert {
		return len([]rune(op.Text))
	}
	return op.Length
}

// IsNoop reports whether the operation has been clipped to nothing by
// transformation. No-ops are still sequenced so acks stay stable.
func (op Operation) IsNoop() bool {
	return op.Span() == 0
}

func (op Operation) Validate() error {
	if op.Position < 0 {
		return fmt.Errorf("negative position %d", op.Position)
	}
	switch op.Kind {
	case KindInsert:
		if op.Text == "" {
			return fmt.Errorf("insert with empty text")
		}
		if op.Length != 0 {
			return fmt.Errorf("insert carries a delete length")
		}
	case KindDelete:
		if op.Length <= 0 {
			return fmt.Errorf("delete with length %d", op.Length)
		}
		if op.Text != "" {
			return fmt.Errorf("delete carries text")
		}
	default:
		return fmt.Errorf("unknown kind %q", op.Kind)
	}
	return nil
}

// SequencedOp is an operation after the server assigned it a place in the
// session's total order. Immutable once appended to the log.
type SequencedOp struct {
	Seq        uint64    `json:"seq"`
	AuthorID   string    `json:"authorId"`
	ClientOpID string    `json:"clientOpId"`
	Op         Operation `json:"op"`
	AppliedAt  time.Time `json:"appliedAt"`
}

// Transform rewrites an incoming operation so it applies after an operation
// that was sequenced concurrently (i.e. after the incoming op's base version).
// The rules are deterministic so every replica converges:
//
//   - insert vs insert at the same position: the lexicographically smaller
//     author keeps the position, the other shifts right.
//   - delete vs delete on overlapping ranges clips the overlap, possibly down
//     to a zero-length no-op.
//   - an insert strictly inside a concurrently deleted range collapses to the
//     start of that range; a delete spanning a concurrent insert grows over it.
func Transform(in Operation, inAuthor string, applied Operation, appliedAuthor string) Operation {
	switch applied.Kind {
	case KindInsert:
		return transformAgainstInsert(in, inAuthor, applied, appliedAuthor)
	case KindDelete:
		return transformAgainstDelete(in, applied)
	}
	return in
}

// TransformAgainstLog folds Transform over every op sequenced after the
// incoming op's base version, oldest first.
func TransformAgainstLog(in Operation, inAuthor string, log []SequencedOp) Operation {
	out := in
	for _, entry := range log {
		if out.IsNoop() {
			break
		}
		out = Transform(out, inAuthor, entry.Op, entry.AuthorID)
	}
	return out
}

func transformAgainstInsert(in Operation, inAuthor string, applied Operation, appliedAuthor string) Operation {
	shift := applied.Span()
	p := applied.Position
	switch in.Kind {
	case KindInsert:
		if in.Position > p || (in.Position == p && inAuthor > appliedAuthor) {
			in.Position += shift
		}
	case KindDelete:
		switch {
		case p <= in.Position:
			in.Position += shift
		case p < in.Position+in.Length:
			// The concurrent insert landed inside the range being deleted;
			// the delete grows to keep the range contiguous.
			in.Length += shift
		}
	}
	return in
}

func transformAgainstDelete(in Operation, applied Operation) Operation {
	p := applied.Position
	m := applied.Length
	switch in.Kind {
	case KindInsert:
		switch {
		case in.Position <= p:
			// unchanged
		case in.Position >= p+m:
			in.Position -= m
		default:
			in.Position = p
		}
	case KindDelete:
		q := in.Position
		n := in.Length
		switch {
		case q+n <= p:
			// entirely before, unchanged
		case q >= p+m:
			in.Position = q - m
		default:
			// overlap: clip out the part already deleted
			overlap := min(q+n, p+m) - max(q, p)
			in.Length = n - overlap
			if q > p {
				in.Position = p
			}
		}
	}
	return in
}
