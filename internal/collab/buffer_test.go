package collab

import "testing"

func TestPieceTable_BasicString(t *testing.T) {
	pt := NewPieceTable("Hello world")
	if got := pt.String(); got != "Hello world" {
		t.Fatalf("String() = %q, want %q", got, "Hello world")
	}
	if gotLen := pt.Len(); gotLen != len([]rune("Hello world")) {
		t.Fatalf("Len() = %d, want %d", gotLen, len([]rune("Hello world")))
	}
}

func TestPieceTable_InsertMiddle(t *testing.T) {
	pt := NewPieceTable("Hello world")
	if err := pt.Insert(5, " collaborative"); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	want := "Hello collaborative world"
	if got := pt.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestPieceTable_InsertEnds(t *testing.T) {
	pt := NewPieceTable("middle")
	if err := pt.Insert(0, "start "); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := pt.Insert(pt.Len(), " end"); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	want := "start middle end"
	if got := pt.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestPieceTable_InsertEmptyDoc(t *testing.T) {
	pt := NewPieceTable("")
	if err := pt.Insert(0, "pragma solidity ^0.8.0;"); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	want := "pragma solidity ^0.8.0;"
	if got := pt.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestPieceTable_DeleteMiddle(t *testing.T) {
	pt := NewPieceTable("Hello collaborative world")
	if err := pt.Delete(5, 14); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	want := "Hello world"
	if got := pt.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestPieceTable_DeleteAcrossPieces(t *testing.T) {
	pt := NewPieceTable("Hello world")
	if err := pt.Insert(5, " collaborative"); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	// range spans the original piece boundary and the added piece
	if err := pt.Delete(3, 18); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	want := "Helorld"
	if got := pt.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestPieceTable_DeleteAll(t *testing.T) {
	pt := NewPieceTable("Hello")
	if err := pt.Delete(0, 5); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got := pt.Len(); got != 0 {
		t.Fatalf("Len() = %d, want 0", got)
	}
	if got := pt.String(); got != "" {
		t.Fatalf("String() = %q, want empty", got)
	}
}

func TestPieceTable_OutOfBounds(t *testing.T) {
	pt := NewPieceTable("Hello")
	if err := pt.Insert(6, "x"); err == nil {
		t.Fatalf("Insert(6) expected error")
	}
	if err := pt.Insert(-1, "x"); err == nil {
		t.Fatalf("Insert(-1) expected error")
	}
	if err := pt.Delete(3, 3); err == nil {
		t.Fatalf("Delete(3,3) expected error")
	}
	if got := pt.String(); got != "Hello" {
		t.Fatalf("failed edits must not change the document, got %q", got)
	}
}

func TestPieceTable_RuneOffsets(t *testing.T) {
	pt := NewPieceTable("héllo wörld")
	if got := pt.Len(); got != 11 {
		t.Fatalf("Len() = %d, want 11", got)
	}
	if err := pt.Delete(1, 4); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	want := "h wörld"
	if got := pt.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
	if err := pt.Insert(2, "ünï"); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	want = "h ünïwörld"
	if got := pt.String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
