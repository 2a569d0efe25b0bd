package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/queryduck/queryduck-go/pkg/qderr"
	"github.com/queryduck/queryduck-go/pkg/value"
)

// Server paths, relative to the base URL.
const (
	PathStatements  = "statements"
	PathQuery       = "statements/query"
	PathTransaction = "statements/transaction"
)

// StatementPath returns the path of a single statement or blob reference.
func StatementPath(ref string) string {
	return PathStatements + "/" + ref
}

// QueryRequest is the body of a query call.
type QueryRequest struct {
	Query  Params `json:"query"`
	Target string `json:"target"`
	Limit  int    `json:"limit,omitempty"`
}

// QueryResponse is returned by query and get calls. Statements maps a
// statement reference to its serialized subject, predicate and object.
// References lists the main rows in order; Files maps blob references to
// serialized file values. After is the cursor for the next page; when it is
// absent the last reference is the cursor.
type QueryResponse struct {
	Statements map[string][3]string `json:"statements"`
	References []string             `json:"references"`
	Files      map[string][]string  `json:"files,omitempty"`
	More       bool                 `json:"more"`
	After      []string             `json:"after,omitempty"`
}

// GetResponse is returned for a single reference, together with the
// statements needed to resolve it.
type GetResponse struct {
	Reference  string               `json:"reference"`
	Statements map[string][3]string `json:"statements"`
	Files      map[string][]string  `json:"files,omitempty"`
}

// Row is a serialized statement as exchanged by create, import and export:
// subject, predicate and object, optionally preceded by the handle.
type Row []string

// ExportResponse lists every statement the server holds, each as
// [handle, subject, predicate, object].
type ExportResponse struct {
	Statements []Row `json:"statements"`
}

// CreateResponse lists the handles of created statements in row order.
type CreateResponse struct {
	References []string `json:"references"`
}

// TransactionResponse lists one server handle per submitted row, in row
// order.
type TransactionResponse struct {
	References []string `json:"references"`
}

// Operand is one slot of a transaction row: either a back-reference to an
// earlier row of the same batch, or a serialized value.
type Operand struct {
	pending    bool
	index      int
	serialized string
}

// Pending refers to the row at index in the same submission.
func Pending(index int) Operand {
	return Operand{pending: true, index: index}
}

// Resolved wraps a serialized value.
func Resolved(serialized string) Operand {
	return Operand{serialized: serialized}
}

// Index returns the row index of a back-reference.
func (o Operand) Index() (int, bool) {
	return o.index, o.pending
}

// Serialized returns the serialized value of a resolved operand.
func (o Operand) Serialized() (string, bool) {
	return o.serialized, !o.pending
}

func (o Operand) String() string {
	if o.pending {
		return fmt.Sprintf("#%d", o.index)
	}
	return o.serialized
}

func (o Operand) MarshalJSON() ([]byte, error) {
	if o.pending {
		return []byte(strconv.Itoa(o.index)), nil
	}
	return json.Marshal(o.serialized)
}

func (o *Operand) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return qderr.Protocolf("invalid operand: %v", err)
		}
		*o = Resolved(s)
		return nil
	}
	var index int
	if err := json.Unmarshal(data, &index); err != nil {
		return qderr.Protocolf("operand %s is neither a string nor a row index", data)
	}
	if index < 0 {
		return qderr.Protocolf("negative row index %d", index)
	}
	*o = Pending(index)
	return nil
}

// TransactionRow is one statement of a transaction submission. It marshals as
// [handle, subject, predicate, object] where handle is null unless the client
// pre-assigned one.
type TransactionRow struct {
	Handle *uuid.UUID
	Triple [3]Operand
}

func (r TransactionRow) MarshalJSON() ([]byte, error) {
	row := make([]any, 0, 4)
	if r.Handle != nil {
		row = append(row, value.KindStatement.String()+":"+r.Handle.String())
	} else {
		row = append(row, nil)
	}
	for _, o := range r.Triple {
		row = append(row, o)
	}
	return json.Marshal(row)
}

// UnmarshalJSON accepts rows with or without the leading handle slot.
func (r *TransactionRow) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return qderr.Protocolf("transaction row is not a list: %v", err)
	}

	*r = TransactionRow{}
	switch len(raw) {
	case 3:
	case 4:
		if string(bytes.TrimSpace(raw[0])) != "null" {
			var ref string
			if err := json.Unmarshal(raw[0], &ref); err != nil {
				return qderr.Protocolf("invalid handle slot %s", raw[0])
			}
			v, err := value.Deserialize(ref)
			if err != nil {
				return err
			}
			st, ok := v.(*value.Statement)
			if !ok {
				return qderr.Protocolf("handle slot %q is not a statement", ref)
			}
			h, _ := st.Handle()
			r.Handle = &h
		}
		raw = raw[1:]
	default:
		return qderr.Protocolf("transaction row has %d items, expected 3 or 4", len(raw))
	}

	for i := range r.Triple {
		if err := json.Unmarshal(raw[i], &r.Triple[i]); err != nil {
			return err
		}
	}
	return nil
}
