package repository

import (
	"context"
	"strings"
	"sync"

	"github.com/queryduck/queryduck-go/pkg/collection"
	"github.com/queryduck/queryduck-go/pkg/query"
	"github.com/queryduck/queryduck-go/pkg/value"
)

// Session accumulates what a client has seen and what it is about to write:
// the collections of executed queries and an open transaction. Ensure
// consults both, so repeating work within a session does not duplicate
// statements.
type Session struct {
	repo     *Repository
	bindings *Bindings
	known    *collection.Grouped

	mu          sync.Mutex
	collections []*collection.Collection
	tx          *Transaction
}

// NewSession opens a session. Bindings may be nil.
func NewSession(repo *Repository, bindings *Bindings) *Session {
	if bindings == nil {
		bindings = NewBindings(nil)
	}
	known := collection.NewGrouped()
	return &Session{
		repo:     repo,
		bindings: bindings,
		known:    known,
		tx:       NewTransaction(known),
	}
}

// Bindings returns the session bindings.
func (sess *Session) Bindings() *Bindings { return sess.bindings }

// Transaction returns the open transaction.
func (sess *Session) Transaction() *Transaction {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.tx
}

// Use adds a collection to what the session knows.
func (sess *Session) Use(c *collection.Collection) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.collections = append(sess.collections, c)
	sess.known.Add(c)
}

// Execute runs a query and remembers its statements.
func (sess *Session) Execute(ctx context.Context, q *query.Query) (*Result, error) {
	res, err := sess.repo.Execute(ctx, q)
	if err != nil {
		return nil, err
	}
	sess.Use(res.Collection)
	return res, nil
}

// Add appends a statement to the open transaction.
func (sess *Session) Add(subject, predicate, object value.Value) (*value.Statement, error) {
	return sess.Transaction().Add(subject, predicate, object)
}

// Ensure returns a known or pending statement matching the triple, adding one
// to the open transaction if there is none.
func (sess *Session) Ensure(subject, predicate, object value.Value) (*value.Statement, error) {
	return sess.Transaction().Ensure(subject, predicate, object)
}

// Submit submits the open transaction. On success its statements become
// known and a new transaction is opened.
func (sess *Session) Submit(ctx context.Context) (*collection.Collection, error) {
	tx := sess.Transaction()
	c, err := sess.repo.Submit(ctx, tx)
	if err != nil {
		return nil, err
	}
	sess.Use(c)

	sess.mu.Lock()
	if sess.tx == tx {
		sess.tx = NewTransaction(sess.known)
	}
	sess.mu.Unlock()
	return c, nil
}

// Deserialize resolves "@name" to a binding and anything else through the
// repository.
func (sess *Session) Deserialize(s string) (value.Value, error) {
	if name, ok := strings.CutPrefix(s, "@"); ok && sess.bindings.Has(name) {
		return sess.bindings.Get(name)
	}
	return sess.repo.Resolve(s)
}

// Find searches the known collections and then the open transaction.
func (sess *Session) Find(subject, predicate, object value.Value) []*value.Statement {
	found := sess.known.Find(subject, predicate, object)
	return append(found, sess.Transaction().Find(subject, predicate, object)...)
}

// First returns the first match of Find, or nil.
func (sess *Session) First(subject, predicate, object value.Value) *value.Statement {
	return collection.First(sess, subject, predicate, object)
}

// Files returns the files of blob across all known collections.
func (sess *Session) Files(blob *value.Blob) []*value.File {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	var files []*value.File
	for _, c := range sess.collections {
		files = append(files, c.Files(blob)...)
	}
	return files
}
