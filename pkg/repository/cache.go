package repository

import (
	"runtime"
	"sync"
	"weak"

	"github.com/google/uuid"

	"github.com/queryduck/queryduck-go/pkg/value"
)

// identityCache holds at most one live instance per statement handle and blob
// hash. Entries do not keep their entity alive; a cleanup removes an entry
// once its entity has been collected.
type identityCache struct {
	mu         sync.Mutex
	statements map[uuid.UUID]weak.Pointer[value.Statement]
	blobs      map[string]weak.Pointer[value.Blob]
}

func newIdentityCache() *identityCache {
	return &identityCache{
		statements: make(map[uuid.UUID]weak.Pointer[value.Statement]),
		blobs:      make(map[string]weak.Pointer[value.Blob]),
	}
}

type statementEntry struct {
	handle uuid.UUID
	ptr    weak.Pointer[value.Statement]
}

type blobEntry struct {
	ref string
	ptr weak.Pointer[value.Blob]
}

// statement returns the canonical instance for st's handle, registering st
// if there is none. st must have a handle.
func (c *identityCache) statement(st *value.Statement) *value.Statement {
	h, ok := st.Handle()
	if !ok {
		return st
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if wp, ok := c.statements[h]; ok {
		if live := wp.Value(); live != nil {
			return live
		}
	}

	wp := weak.Make(st)
	c.statements[h] = wp
	runtime.AddCleanup(st, c.evictStatement, statementEntry{handle: h, ptr: wp})
	return st
}

// blob returns the canonical instance for b's hash, registering b if there is
// none.
func (c *identityCache) blob(b *value.Blob) *value.Blob {
	ref := b.Handle()

	c.mu.Lock()
	defer c.mu.Unlock()

	if wp, ok := c.blobs[ref]; ok {
		if live := wp.Value(); live != nil {
			return live
		}
	}

	wp := weak.Make(b)
	c.blobs[ref] = wp
	runtime.AddCleanup(b, c.evictBlob, blobEntry{ref: ref, ptr: wp})
	return b
}

// lookup returns the live instance for a handle without registering one.
func (c *identityCache) lookup(h uuid.UUID) (*value.Statement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wp, ok := c.statements[h]
	if !ok {
		return nil, false
	}
	st := wp.Value()
	return st, st != nil
}

// evictStatement only removes the entry it was registered for; the handle
// may have been re-registered with a new instance in the meantime.
func (c *identityCache) evictStatement(e statementEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.statements[e.handle] == e.ptr {
		delete(c.statements, e.handle)
	}
}

func (c *identityCache) evictBlob(e blobEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.blobs[e.ref] == e.ptr {
		delete(c.blobs, e.ref)
	}
}

// size reports the number of entries, live or awaiting cleanup.
func (c *identityCache) size() (statements, blobs int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.statements), len(c.blobs)
}
