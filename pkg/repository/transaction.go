package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/queryduck/queryduck-go/pkg/collection"
	"github.com/queryduck/queryduck-go/pkg/protocol"
	"github.com/queryduck/queryduck-go/pkg/qderr"
	"github.com/queryduck/queryduck-go/pkg/value"
)

// TransactionState is the lifecycle stage of a Transaction
type TransactionState int

const (
	TransactionEmpty TransactionState = iota
	TransactionBuilding
	TransactionSubmitted
)

func (s TransactionState) String() string {
	switch s {
	case TransactionEmpty:
		return "empty"
	case TransactionBuilding:
		return "building"
	case TransactionSubmitted:
		return "submitted"
	default:
		return fmt.Sprintf("TransactionState(%d)", int(s))
	}
}

// Transaction buffers new statements for submission in one batch. Statements
// added to a transaction have no handle until it is submitted, and may refer
// to each other and to themselves.
type Transaction struct {
	mu         sync.Mutex
	statements []*value.Statement
	handles    []*uuid.UUID
	positions  map[*value.Statement]int
	known      collection.Finder
	submitted  bool
}

// NewTransaction creates an empty transaction. Ensure consults known, which
// may be nil, before adding.
func NewTransaction(known collection.Finder) *Transaction {
	return &Transaction{
		positions: make(map[*value.Statement]int),
		known:     known,
	}
}

// State returns the lifecycle stage.
func (tx *Transaction) State() TransactionState {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state()
}

func (tx *Transaction) state() TransactionState {
	switch {
	case tx.submitted:
		return TransactionSubmitted
	case len(tx.statements) == 0:
		return TransactionEmpty
	default:
		return TransactionBuilding
	}
}

// Add appends a new statement. A nil subject, predicate or object refers to
// the new statement itself.
func (tx *Transaction) Add(subject, predicate, object value.Value) (*value.Statement, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.add(nil, subject, predicate, object)
}

// AddWithHandle appends a new statement whose handle is chosen by the client.
// If the repository already holds an instance for handle when the transaction
// is submitted, that instance takes the triple and replaces the one returned
// here in the transaction and in the submitted collection.
func (tx *Transaction) AddWithHandle(handle uuid.UUID, subject, predicate, object value.Value) (*value.Statement, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.add(&handle, subject, predicate, object)
}

func (tx *Transaction) add(handle *uuid.UUID, subject, predicate, object value.Value) (*value.Statement, error) {
	if tx.submitted {
		return nil, qderr.Userf("transaction has already been submitted")
	}

	st := value.NewPendingStatement()
	if handle != nil {
		st = value.NewStatement(*handle)
	}

	parts := [3]value.Value{subject, predicate, object}
	for i, v := range parts {
		if v == nil {
			parts[i] = st
		}
	}
	st.SetTriple(value.NewTriple(parts[0], parts[1], parts[2]))

	tx.positions[st] = len(tx.statements)
	tx.statements = append(tx.statements, st)
	tx.handles = append(tx.handles, handle)
	return st, nil
}

// Ensure returns an existing statement matching the triple, looking in the
// known statements first and then in the transaction, and adds one only when
// there is none. A nil position matches a statement that refers to itself
// there.
func (tx *Transaction) Ensure(subject, predicate, object value.Value) (*value.Statement, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.known != nil {
		if st := firstSelfMatch(tx.known.Find(subject, predicate, object), subject, predicate, object); st != nil {
			return st, nil
		}
	}
	if st := firstSelfMatch(tx.find(subject, predicate, object), subject, predicate, object); st != nil {
		return st, nil
	}
	return tx.add(nil, subject, predicate, object)
}

func firstSelfMatch(candidates []*value.Statement, parts ...value.Value) *value.Statement {
	for _, st := range candidates {
		t, ok := st.Triple()
		if !ok {
			continue
		}
		self := true
		for i, v := range parts {
			if v == nil && t.At(i) != value.Value(st) {
				self = false
				break
			}
		}
		if self {
			return st
		}
	}
	return nil
}

// Find returns the pending statements matching the pattern. A nil position is
// a wildcard.
func (tx *Transaction) Find(subject, predicate, object value.Value) []*value.Statement {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.find(subject, predicate, object)
}

func (tx *Transaction) find(subject, predicate, object value.Value) []*value.Statement {
	var out []*value.Statement
	for _, st := range tx.statements {
		t, _ := st.Triple()
		if matchPosition(t.Subject, subject) && matchPosition(t.Predicate, predicate) && matchPosition(t.Object, object) {
			out = append(out, st)
		}
	}
	return out
}

func matchPosition(have, want value.Value) bool {
	return want == nil || (have != nil && have.Equals(want))
}

// First returns the first pending statement matching the pattern, or nil.
func (tx *Transaction) First(subject, predicate, object value.Value) *value.Statement {
	return collection.First(tx, subject, predicate, object)
}

// Statements returns the pending statements in the order they were added.
func (tx *Transaction) Statements() []*value.Statement {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return slices.Clone(tx.statements)
}

// Len returns the number of pending statements.
func (tx *Transaction) Len() int {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return len(tx.statements)
}

// rows serializes the statements. Operands that are statements of this
// transaction become back-references to their row.
func (tx *Transaction) rows() ([]protocol.TransactionRow, error) {
	rows := make([]protocol.TransactionRow, 0, len(tx.statements))
	for i, st := range tx.statements {
		t, _ := st.Triple()
		row := protocol.TransactionRow{Handle: tx.handles[i]}
		for pos := range 3 {
			op, err := tx.operand(t.At(pos))
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
			row.Triple[pos] = op
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (tx *Transaction) operand(v value.Value) (protocol.Operand, error) {
	if st, ok := v.(*value.Statement); ok {
		if idx, ok := tx.positions[st]; ok {
			return protocol.Pending(idx), nil
		}
		if _, ok := st.Handle(); !ok {
			return protocol.Operand{}, qderr.Userf("statement %s belongs to another transaction", st)
		}
	}
	s, err := value.Serialize(v)
	if err != nil {
		return protocol.Operand{}, err
	}
	return protocol.Resolved(s), nil
}

// Submit sends the transaction in one request. An empty transaction is not
// sent and yields an empty collection. On success every statement of the
// transaction carries its server handle and is returned in the collection;
// on failure the transaction is unchanged and can be submitted again.
func (r *Repository) Submit(ctx context.Context, tx *Transaction) (*collection.Collection, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.submitted {
		return nil, qderr.Userf("transaction has already been submitted")
	}
	if len(tx.statements) == 0 {
		return collection.Empty(), nil
	}

	rows, err := tx.rows()
	if err != nil {
		return nil, err
	}

	var resp protocol.TransactionResponse
	if err := r.transport.Post(ctx, protocol.PathTransaction, rows, &resp); err != nil {
		return nil, err
	}

	handles, err := tx.checkResponse(resp)
	if err != nil {
		return nil, err
	}

	canonical := make([]*value.Statement, len(tx.statements))
	replaced := make(map[*value.Statement]*value.Statement)
	for i, st := range tx.statements {
		if err := st.AssignHandle(handles[i]); err != nil {
			// checkResponse rules this out.
			return nil, err
		}
		canonical[i] = r.cache.statement(st)
		if canonical[i] != st {
			replaced[st] = canonical[i]
		}
	}
	if len(replaced) > 0 {
		for _, st := range tx.adopt(canonical, replaced) {
			r.logger.Warn("statement resolved to a different triple", "statement", st.String())
		}
	}
	tx.submitted = true

	r.logger.Debug("submitted transaction", "statements", len(tx.statements))
	return collection.New(slices.Clone(tx.statements), nil), nil
}

// adopt moves the transaction onto the canonical instances of handles that
// were already live, rewriting triples that point at the replaced ones. It
// returns the instances whose earlier triple was overwritten.
func (tx *Transaction) adopt(canonical []*value.Statement, replaced map[*value.Statement]*value.Statement) (conflicts []*value.Statement) {
	swap := func(v value.Value) value.Value {
		if st, ok := v.(*value.Statement); ok {
			if c, ok := replaced[st]; ok {
				return c
			}
		}
		return v
	}
	for i, st := range tx.statements {
		t, _ := st.Triple()
		if canonical[i].SetTriple(value.NewTriple(swap(t.Subject), swap(t.Predicate), swap(t.Object))) {
			conflicts = append(conflicts, canonical[i])
		}
	}

	tx.statements = canonical
	clear(tx.positions)
	for i, st := range canonical {
		tx.positions[st] = i
	}
	return conflicts
}

// checkResponse validates the server handles before anything is assigned.
func (tx *Transaction) checkResponse(resp protocol.TransactionResponse) ([]uuid.UUID, error) {
	if len(resp.References) != len(tx.statements) {
		return nil, qderr.Protocolf("transaction returned %d references for %d statements",
			len(resp.References), len(tx.statements))
	}

	handles := make([]uuid.UUID, 0, len(resp.References))
	for i, ref := range resp.References {
		v, err := value.Deserialize(ref)
		if err != nil {
			return nil, err
		}
		st, ok := v.(*value.Statement)
		if !ok {
			return nil, qderr.Protocolf("transaction returned %q, expected a statement", ref)
		}
		h, _ := st.Handle()
		if pre := tx.handles[i]; pre != nil && *pre != h {
			return nil, qderr.Protocolf("row %d was submitted as %s but created as %s", i, *pre, h)
		}
		handles = append(handles, h)
	}
	return handles, nil
}
