package collab

import (
	"fmt"
	"strings"
)

// Buffer is the document content behind a session. Offsets are rune offsets.
type Buffer interface {
	Len() int
	Insert(pos int, text string) error
	Delete(pos, length int) error
	String() string
}

type bufferKind int

const (
	bufOriginal bufferKind = iota
	bufAdd
)

type piece struct {
	buf    bufferKind
	offset int
	length int
}

// PieceTable keeps the original text and all insertions in two append-only
// buffers; the piece list describes the current document as slices of both.
// Edits never move text, only split and drop pieces.
type PieceTable struct {
	original []rune
	add      []rune
	pieces   []piece
}

func NewPieceTable(initial string) *PieceTable {
	r := []rune(initial)
	pt := &PieceTable{original: r}
	if len(r) > 0 {
		pt.pieces = []piece{{buf: bufOriginal, length: len(r)}}
	}
	return pt
}

func (pt *PieceTable) Len() int {
	n := 0
	for _, p := range pt.pieces {
		n += p.length
	}
	return n
}

func (pt *PieceTable) String() string {
	var sb strings.Builder
	for _, p := range pt.pieces {
		switch p.buf {
		case bufOriginal:
			sb.WriteString(string(pt.original[p.offset : p.offset+p.length]))
		case bufAdd:
			sb.WriteString(string(pt.add[p.offset : p.offset+p.length]))
		}
	}
	return sb.String()
}

func (pt *PieceTable) Insert(pos int, text string) error {
	if text == "" {
		return nil
	}
	if pos < 0 || pos > pt.Len() {
		return fmt.Errorf("insert position %d out of bounds (len %d)", pos, pt.Len())
	}

	r := []rune(text)
	start := len(pt.add)
	pt.add = append(pt.add, r...)
	newPiece := piece{buf: bufAdd, offset: start, length: len(r)}

	idx, offset := pt.locate(pos)
	if idx == len(pt.pieces) {
		pt.pieces = append(pt.pieces, newPiece)
		return nil
	}

	cur := pt.pieces[idx]
	out := make([]piece, 0, len(pt.pieces)+2)
	out = append(out, pt.pieces[:idx]...)
	if offset > 0 {
		out = append(out, piece{buf: cur.buf, offset: cur.offset, length: offset})
	}
	out = append(out, newPiece)
	if cur.length-offset > 0 {
		out = append(out, piece{buf: cur.buf, offset: cur.offset + offset, length: cur.length - offset})
	}
	out = append(out, pt.pieces[idx+1:]...)
	pt.pieces = out
	return nil
}

func (pt *PieceTable) Delete(pos, length int) error {
	if length == 0 {
		return nil
	}
	if pos < 0 || length < 0 || pos+length > pt.Len() {
		return fmt.Errorf("delete range [%d,%d) out of bounds (len %d)", pos, pos+length, pt.Len())
	}

	remain := length
	idx, offset := pt.locate(pos)
	for remain > 0 && idx < len(pt.pieces) {
		cur := pt.pieces[idx]
		can := cur.length - offset
		if can <= 0 {
			idx++
			offset = 0
			continue
		}
		take := remain
		if take > can {
			take = can
		}

		if offset == 0 && take == cur.length {
			// drop the whole piece
			pt.pieces = append(pt.pieces[:idx], pt.pieces[idx+1:]...)
		} else {
			out := make([]piece, 0, len(pt.pieces)+1)
			out = append(out, pt.pieces[:idx]...)
			if offset > 0 {
				out = append(out, piece{buf: cur.buf, offset: cur.offset, length: offset})
			}
			if rest := cur.length - offset - take; rest > 0 {
				out = append(out, piece{buf: cur.buf, offset: cur.offset + offset + take, length: rest})
			}
			out = append(out, pt.pieces[idx+1:]...)
			pt.pieces = out
			if offset > 0 {
				idx++
			}
			offset = 0
		}
		remain -= take
	}
	return nil
}

// locate maps a document offset to a piece index and an offset inside it.
func (pt *PieceTable) locate(pos int) (idx, offset int) {
	cur := 0
	for i, p := range pt.pieces {
		if pos < cur+p.length {
			return i, pos - cur
		}
		cur += p.length
	}
	return len(pt.pieces), 0
}
