// Package collection indexes batches of resolved statements by triple
// pattern.
package collection

import (
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/queryduck/queryduck-go/pkg/value"
)

// Finder answers triple-pattern lookups. A nil position is a wildcard.
type Finder interface {
	Find(subject, predicate, object value.Value) []*value.Statement
}

// Collection is an immutable, indexed snapshot of statements. It is safe for
// concurrent use.
type Collection struct {
	statements []*value.Statement
	resolved   []*value.Statement
	byHandle   map[uuid.UUID]*value.Statement
	index      map[patternKey][]*value.Statement
	files      map[string][]*value.File
}

// Empty returns a collection without statements.
func Empty() *Collection {
	return New(nil, nil)
}

// New indexes statements. Stubs are kept for Get but not indexed, since
// their triples are unknown. Files maps blobs to the files holding their
// content. The collection keeps the triples as they are at construction.
func New(statements []*value.Statement, files map[*value.Blob][]*value.File) *Collection {
	c := &Collection{
		byHandle: make(map[uuid.UUID]*value.Statement, len(statements)),
		index:    make(map[patternKey][]*value.Statement),
		files:    make(map[string][]*value.File, len(files)),
	}

	seen := make(map[*value.Statement]bool, len(statements))
	for _, st := range statements {
		if st == nil || seen[st] {
			continue
		}
		seen[st] = true
		c.statements = append(c.statements, st)

		if h, ok := st.Handle(); ok {
			c.byHandle[h] = st
		}

		t, ok := st.Triple()
		if !ok {
			continue
		}
		c.resolved = append(c.resolved, st)
		for _, key := range patternKeys(t) {
			c.index[key] = append(c.index[key], st)
		}
	}

	for blob, fs := range files {
		if blob == nil {
			continue
		}
		ref := blob.Handle()
		c.files[ref] = append(c.files[ref], fs...)
	}

	return c
}

// Find returns the resolved statements matching the pattern, in insertion
// order. Find(nil, nil, nil) returns every resolved statement.
func (c *Collection) Find(subject, predicate, object value.Value) []*value.Statement {
	if subject == nil && predicate == nil && object == nil {
		return slices.Clone(c.resolved)
	}
	key := newPatternKey(positionKey(subject), positionKey(predicate), positionKey(object))
	return slices.Clone(c.index[key])
}

// First returns the first match of the pattern, or nil.
func (c *Collection) First(subject, predicate, object value.Value) *value.Statement {
	return First(c, subject, predicate, object)
}

// Get returns the statement with the given handle, resolved or not.
func (c *Collection) Get(handle uuid.UUID) (*value.Statement, bool) {
	st, ok := c.byHandle[handle]
	return st, ok
}

// Statements returns every statement in the collection, stubs included.
func (c *Collection) Statements() []*value.Statement {
	return slices.Clone(c.statements)
}

// Len returns the number of statements, stubs included.
func (c *Collection) Len() int {
	return len(c.statements)
}

// Files returns the files holding the content of blob.
func (c *Collection) Files(blob *value.Blob) []*value.File {
	if blob == nil {
		return nil
	}
	return slices.Clone(c.files[blob.Handle()])
}

func (c *Collection) ObjectsFor(subject, predicate value.Value) []value.Value {
	return ObjectsFor(c, subject, predicate)
}

func (c *Collection) ObjectFor(subject, predicate value.Value) value.Value {
	return ObjectFor(c, subject, predicate)
}

func (c *Collection) SubjectsFor(predicate, object value.Value) []value.Value {
	return SubjectsFor(c, predicate, object)
}

func (c *Collection) SubjectFor(predicate, object value.Value) value.Value {
	return SubjectFor(c, predicate, object)
}

// First returns the first statement f finds for the pattern, or nil.
func First(f Finder, subject, predicate, object value.Value) *value.Statement {
	found := f.Find(subject, predicate, object)
	if len(found) == 0 {
		return nil
	}
	return found[0]
}

// ObjectsFor returns the objects of all statements with the given subject
// and predicate.
func ObjectsFor(f Finder, subject, predicate value.Value) []value.Value {
	return positions(f.Find(subject, predicate, nil), 2)
}

// ObjectFor returns the object for subject and predicate, or nil. It is meant
// for predicates with at most one value; with several, any one is returned.
func ObjectFor(f Finder, subject, predicate value.Value) value.Value {
	if st := First(f, subject, predicate, nil); st != nil {
		t, _ := st.Triple()
		return t.Object
	}
	return nil
}

// SubjectsFor returns the subjects of all statements with the given predicate
// and object.
func SubjectsFor(f Finder, predicate, object value.Value) []value.Value {
	return positions(f.Find(nil, predicate, object), 0)
}

// SubjectFor returns the subject for predicate and object, or nil.
func SubjectFor(f Finder, predicate, object value.Value) value.Value {
	if st := First(f, nil, predicate, object); st != nil {
		t, _ := st.Triple()
		return t.Subject
	}
	return nil
}

func positions(statements []*value.Statement, pos int) []value.Value {
	out := make([]value.Value, 0, len(statements))
	for _, st := range statements {
		t, _ := st.Triple()
		out = append(out, t.At(pos))
	}
	return out
}

// Grouped searches several finders as one. Results keep finder order and each
// statement appears once.
type Grouped struct {
	mu      sync.RWMutex
	finders []Finder
}

// NewGrouped creates a group from finders.
func NewGrouped(finders ...Finder) *Grouped {
	return &Grouped{finders: slices.Clone(finders)}
}

// Add appends a finder to the group.
func (g *Grouped) Add(f Finder) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.finders = append(g.finders, f)
}

func (g *Grouped) Find(subject, predicate, object value.Value) []*value.Statement {
	g.mu.RLock()
	finders := slices.Clone(g.finders)
	g.mu.RUnlock()

	var out []*value.Statement
	seen := make(map[*value.Statement]bool)
	for _, f := range finders {
		for _, st := range f.Find(subject, predicate, object) {
			if !seen[st] {
				seen[st] = true
				out = append(out, st)
			}
		}
	}
	return out
}

func (g *Grouped) First(subject, predicate, object value.Value) *value.Statement {
	return First(g, subject, predicate, object)
}

func (g *Grouped) ObjectFor(subject, predicate value.Value) value.Value {
	return ObjectFor(g, subject, predicate)
}

func (g *Grouped) SubjectFor(predicate, object value.Value) value.Value {
	return SubjectFor(g, predicate, object)
}
