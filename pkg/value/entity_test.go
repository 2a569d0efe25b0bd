package value

import (
	"testing"

	"github.com/google/uuid"
)

func TestStatement_Handle(t *testing.T) {
	h := uuid.New()
	st := NewStatement(h)

	got, ok := st.Handle()
	if !ok || got != h {
		t.Errorf("Expected handle %s, got %s (ok=%v)", h, got, ok)
	}
	if st.Resolved() {
		t.Error("New statement should be a stub")
	}
}

func TestStatement_AssignHandle(t *testing.T) {
	st := NewPendingStatement()
	if _, ok := st.Handle(); ok {
		t.Fatal("Pending statement should not have a handle")
	}

	h := uuid.New()
	if err := st.AssignHandle(h); err != nil {
		t.Fatalf("AssignHandle failed: %v", err)
	}
	if err := st.AssignHandle(h); err != nil {
		t.Errorf("Re-assigning the same handle should succeed, got %v", err)
	}
	if err := st.AssignHandle(uuid.New()); err == nil {
		t.Error("Assigning a different handle should fail")
	}
}

func TestStatement_SetTriple(t *testing.T) {
	st := NewStatement(uuid.New())
	pred := NewStatement(uuid.New())

	triple := NewTriple(st, pred, String("hello"))
	if conflict := st.SetTriple(triple); conflict {
		t.Error("First assignment should not conflict")
	}
	if conflict := st.SetTriple(NewTriple(st, pred, String("hello"))); conflict {
		t.Error("Identical assignment should not conflict")
	}

	got, ok := st.Triple()
	if !ok {
		t.Fatal("Statement should be resolved")
	}
	if got.Subject != st {
		t.Error("Self-referencing subject should be the statement itself")
	}

	if conflict := st.SetTriple(NewTriple(st, pred, String("other"))); !conflict {
		t.Error("Different assignment should report a conflict")
	}
	got, _ = st.Triple()
	if !got.Object.Equals(String("other")) {
		t.Errorf("Expected last write to win, got %v", got.Object)
	}
}

func TestStatement_Equals(t *testing.T) {
	h := uuid.New()
	a := NewStatement(h)
	b := NewStatement(h)
	c := NewStatement(uuid.New())

	if !a.Equals(a) {
		t.Error("Statement should equal itself")
	}
	if !a.Equals(b) {
		t.Error("Statements with the same handle should be equal")
	}
	if a.Equals(c) {
		t.Error("Statements with different handles should not be equal")
	}
	if NewPendingStatement().Equals(NewPendingStatement()) {
		t.Error("Distinct pending statements should not be equal")
	}
	if a.Equals(String(h.String())) {
		t.Error("Statement should not equal a string")
	}
}

func TestBlob_Equals(t *testing.T) {
	hash := []byte("abc")
	a := NewBlob(hash)
	hash[0] = 'z'

	if string(a.Hash()) != "abc" {
		t.Error("Blob should keep its own copy of the hash")
	}
	if !a.Equals(NewBlob([]byte("abc"))) {
		t.Error("Blobs with equal hashes should be equal")
	}
	if a.Equals(NewBlob([]byte("abd"))) {
		t.Error("Blobs with different hashes should not be equal")
	}
}

func TestTriple_At(t *testing.T) {
	tr := NewTriple(Int(1), Int(2), Int(3))
	for i := 0; i < 3; i++ {
		if tr.At(i) != Int(i+1) {
			t.Errorf("At(%d) = %v, want %d", i, tr.At(i), i+1)
		}
	}
	if tr.At(3) != nil {
		t.Error("At(3) should be nil")
	}
}
