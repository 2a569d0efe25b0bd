package value

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/queryduck/queryduck-go/pkg/qderr"
)

// Triple is the (subject, predicate, object) content of a statement
type Triple struct {
	Subject   Value
	Predicate Value
	Object    Value
}

// NewTriple creates a new triple
func NewTriple(subject, predicate, object Value) Triple {
	return Triple{Subject: subject, Predicate: predicate, Object: object}
}

// At returns the component at position 0 (subject), 1 (predicate) or 2 (object).
func (t Triple) At(pos int) Value {
	switch pos {
	case 0:
		return t.Subject
	case 1:
		return t.Predicate
	case 2:
		return t.Object
	}
	return nil
}

// Equals compares the three components pairwise.
func (t Triple) Equals(other Triple) bool {
	return equalValues(t.Subject, other.Subject) &&
		equalValues(t.Predicate, other.Predicate) &&
		equalValues(t.Object, other.Object)
}

func (t Triple) String() string {
	return fmt.Sprintf("%s %s %s .", t.Subject, t.Predicate, t.Object)
}

func equalValues(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equals(b)
}

// Statement is a subject-predicate-object triple identified by a handle.
// A statement whose triple is not known yet is a stub. The handle is unset for
// statements that are still pending in a transaction.
type Statement struct {
	handle atomic.Pointer[uuid.UUID]

	mu     sync.RWMutex
	triple *Triple
}

// NewStatement creates a stub statement for a known handle
func NewStatement(handle uuid.UUID) *Statement {
	s := &Statement{}
	s.handle.Store(&handle)
	return s
}

// NewPendingStatement creates a statement without a handle
func NewPendingStatement() *Statement {
	return &Statement{}
}

// Handle returns the handle and whether one has been assigned.
func (s *Statement) Handle() (uuid.UUID, bool) {
	h := s.handle.Load()
	if h == nil {
		return uuid.Nil, false
	}
	return *h, true
}

// AssignHandle gives a pending statement its server-assigned handle.
// Assigning the handle it already has is a no-op.
func (s *Statement) AssignHandle(handle uuid.UUID) error {
	if s.handle.CompareAndSwap(nil, &handle) {
		return nil
	}
	if current, _ := s.Handle(); current != handle {
		return qderr.Valuef("statement already has handle %s, cannot assign %s", current, handle)
	}
	return nil
}

// Triple returns the resolved triple, if any.
func (s *Statement) Triple() (Triple, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.triple == nil {
		return Triple{}, false
	}
	return *s.triple, true
}

// Resolved reports whether the triple is known.
func (s *Statement) Resolved() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.triple != nil
}

// SetTriple resolves the statement. Setting an identical triple again is a
// no-op. Setting a different one replaces it and reports a conflict, which
// only happens when the server contradicts itself.
func (s *Statement) SetTriple(t Triple) (conflict bool) {
	s.mu.Lock()
	old := s.triple
	s.triple = &t
	s.mu.Unlock()

	return old != nil && !old.Equals(t)
}

func (*Statement) Kind() Kind { return KindStatement }
func (*Statement) isValue()   {}

func (s *Statement) String() string {
	if h, ok := s.Handle(); ok {
		return "s:" + h.String()
	}
	return fmt.Sprintf("<pending statement %p>", s)
}

// Equals reports reference equality, or equality of assigned handles.
func (s *Statement) Equals(other Value) bool {
	o, ok := other.(*Statement)
	if !ok || o == nil {
		return false
	}
	if s == o {
		return true
	}
	h1, ok1 := s.Handle()
	h2, ok2 := o.Handle()
	return ok1 && ok2 && h1 == h2
}

// Blob is a content-addressed binary value identified by its hash
type Blob struct {
	hash []byte
}

// NewBlob creates a blob from its content hash
func NewBlob(hash []byte) *Blob {
	return &Blob{hash: bytes.Clone(hash)}
}

// Hash returns a copy of the content hash.
func (b *Blob) Hash() []byte {
	return bytes.Clone(b.hash)
}

// Handle returns the URL-safe base64 form of the hash, used as its identity.
func (b *Blob) Handle() string {
	return base64.URLEncoding.EncodeToString(b.hash)
}

func (*Blob) Kind() Kind       { return KindBlob }
func (b *Blob) String() string { return "blob:" + b.Handle() }
func (*Blob) isValue()         {}

func (b *Blob) Equals(other Value) bool {
	o, ok := other.(*Blob)
	if !ok || o == nil {
		return false
	}
	return b == o || bytes.Equal(b.hash, o.hash)
}

// File locates a blob's content inside a named volume
type File struct {
	Volume string
	Path   []byte
}

// NewFile creates a file reference
func NewFile(volume string, path []byte) *File {
	return &File{Volume: volume, Path: bytes.Clone(path)}
}

func (*File) Kind() Kind { return KindFile }
func (*File) isValue()   {}

func (f *File) String() string {
	return fmt.Sprintf("%s:%s", f.Volume, f.Path)
}

func (f *File) Equals(other Value) bool {
	o, ok := other.(*File)
	if !ok || o == nil {
		return false
	}
	return f.Volume == o.Volume && bytes.Equal(f.Path, o.Path)
}
