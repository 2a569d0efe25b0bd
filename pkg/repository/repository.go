// Package repository connects the query, protocol and collection packages to
// a statement server. A Repository owns the identity cache, so every
// statement and blob it hands out is the single live instance for its
// handle.
package repository

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"net/url"
	"slices"

	"github.com/queryduck/queryduck-go/pkg/collection"
	"github.com/queryduck/queryduck-go/pkg/protocol"
	"github.com/queryduck/queryduck-go/pkg/qderr"
	"github.com/queryduck/queryduck-go/pkg/query"
	"github.com/queryduck/queryduck-go/pkg/value"
)

// Transport performs JSON calls against the server. Implementations decode
// the response into out (when non-nil), return an error wrapping
// qderr.ErrNotFound on HTTP 404, and pass every other failure through.
type Transport interface {
	Get(ctx context.Context, path string, params url.Values, out any) error
	Post(ctx context.Context, path string, body, out any) error
	Put(ctx context.Context, path string, body, out any) error
	Delete(ctx context.Context, path string, params url.Values, out any) error
}

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Repository) {
		r.logger = logger
	}
}

// Repository executes queries and submits transactions. It is safe for
// concurrent use.
type Repository struct {
	transport Transport
	cache     *identityCache
	logger    *slog.Logger
}

// New creates a repository on top of a transport.
func New(t Transport, opts ...Option) *Repository {
	r := &Repository{
		transport: t,
		cache:     newIdentityCache(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve deserializes ref. Statements and blobs are replaced by their
// canonical instance; other values are returned as is.
func (r *Repository) Resolve(ref string) (value.Value, error) {
	v, err := value.Deserialize(ref)
	if err != nil {
		return nil, err
	}
	return r.canonical(v), nil
}

func (r *Repository) canonical(v value.Value) value.Value {
	switch t := v.(type) {
	case *value.Statement:
		return r.cache.statement(t)
	case *value.Blob:
		return r.cache.blob(t)
	}
	return v
}

// Result is one page of query output.
type Result struct {
	// Collection holds every statement the response mentioned.
	Collection *collection.Collection
	// Values are the main rows, in order.
	Values []value.Value
	// More reports whether another page exists.
	More bool
	// Next is the cursor for the following page: the server's after list,
	// or the last reference when the server sends none. Execute refuses
	// the fallback when the query orders on a join, since the last
	// reference is then not the sort key.
	Next []value.Value
}

// Execute runs q and returns one page of results.
func (r *Repository) Execute(ctx context.Context, q *query.Query) (*Result, error) {
	params, err := protocol.QueryToParams(q)
	if err != nil {
		return nil, err
	}

	req := protocol.QueryRequest{Query: params, Target: q.Target().String(), Limit: q.Limit}
	var resp protocol.QueryResponse
	if err := r.transport.Post(ctx, protocol.PathQuery, req, &resp); err != nil {
		return nil, err
	}

	r.logger.Debug("executed query",
		"params", len(params),
		"statements", len(resp.Statements),
		"references", len(resp.References),
		"more", resp.More,
	)
	if resp.After == nil && resp.More && !ordersOnMain(q) {
		return nil, qderr.Protocolf("server sent no cursor for a query ordered on a join")
	}
	return r.resultFromResponse(resp)
}

// ordersOnMain reports whether every order element of q sorts on the main
// entity, which makes the last reference a usable cursor.
func ordersOnMain(q *query.Query) bool {
	for _, e := range q.Elements() {
		if o, ok := e.(*query.Order); ok {
			if _, ok := o.Operands()[0].(*query.Main); !ok {
				return false
			}
		}
	}
	return true
}

// Pages runs q and follows the cursor until the server reports no more
// pages, or iteration stops. A failing page is yielded with its error and
// ends iteration.
func (r *Repository) Pages(ctx context.Context, q *query.Query) iter.Seq2[*Result, error] {
	return func(yield func(*Result, error) bool) {
		cur := q
		for {
			res, err := r.Execute(ctx, cur)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(res, nil) {
				return
			}
			if !res.More || len(res.Next) == 0 {
				return
			}
			cur = cur.WithAfter(res.Next...)
		}
	}
}

// Get fetches a single reference and the statements needed to resolve it.
func (r *Repository) Get(ctx context.Context, ref string) (value.Value, *collection.Collection, error) {
	var resp protocol.GetResponse
	if err := r.transport.Get(ctx, protocol.StatementPath(url.PathEscape(ref)), nil, &resp); err != nil {
		return nil, nil, err
	}

	res, err := r.resultFromResponse(protocol.QueryResponse{
		Statements: resp.Statements,
		References: []string{resp.Reference},
		Files:      resp.Files,
	})
	if err != nil {
		return nil, nil, err
	}
	return res.Values[0], res.Collection, nil
}

// Export returns every statement on the server as serialized rows.
func (r *Repository) Export(ctx context.Context) ([]protocol.Row, error) {
	var resp protocol.ExportResponse
	if err := r.transport.Get(ctx, protocol.PathStatements, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Statements, nil
}

// Import stores previously exported rows.
func (r *Repository) Import(ctx context.Context, rows []protocol.Row) error {
	_, err := r.RawCreate(ctx, rows)
	return err
}

// Create serializes and stores statements given as triples of values. It
// returns the server handles in row order.
func (r *Repository) Create(ctx context.Context, triples []value.Triple) ([]*value.Statement, error) {
	rows := make([]protocol.Row, 0, len(triples))
	for i, t := range triples {
		row := make(protocol.Row, 0, 3)
		for pos := range 3 {
			s, err := value.Serialize(t.At(pos))
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
			row = append(row, s)
		}
		rows = append(rows, row)
	}

	refs, err := r.RawCreate(ctx, rows)
	if err != nil {
		return nil, err
	}

	out := make([]*value.Statement, 0, len(refs))
	for _, ref := range refs {
		v, err := r.Resolve(ref)
		if err != nil {
			return nil, err
		}
		st, ok := v.(*value.Statement)
		if !ok {
			return nil, qderr.Protocolf("create returned %q, expected a statement", ref)
		}
		out = append(out, st)
	}
	return out, nil
}

// RawCreate stores already serialized rows and returns the references the
// server reports, if any.
func (r *Repository) RawCreate(ctx context.Context, rows []protocol.Row) ([]string, error) {
	var resp protocol.CreateResponse
	if err := r.transport.Post(ctx, protocol.PathStatements, rows, &resp); err != nil {
		return nil, err
	}
	r.logger.Debug("created statements", "rows", len(rows), "references", len(resp.References))
	return resp.References, nil
}

type parsedTriple struct {
	statement *value.Statement
	triple    value.Triple
}

// resultFromResponse resolves a response completely before resolving any
// statement, so a malformed response leaves no statement half-updated.
func (r *Repository) resultFromResponse(resp protocol.QueryResponse) (*Result, error) {
	parsed := make([]parsedTriple, 0, len(resp.Statements))
	for _, ref := range slices.Sorted(maps.Keys(resp.Statements)) {
		ser := resp.Statements[ref]
		st, err := r.resolveStatement(ref)
		if err != nil {
			return nil, err
		}
		var parts [3]value.Value
		for i, s := range ser {
			if parts[i], err = r.Resolve(s); err != nil {
				return nil, fmt.Errorf("statement %s: %w", ref, err)
			}
		}
		parsed = append(parsed, parsedTriple{statement: st, triple: value.NewTriple(parts[0], parts[1], parts[2])})
	}

	values := make([]value.Value, 0, len(resp.References))
	for _, ref := range resp.References {
		v, err := r.Resolve(ref)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}

	files := make(map[*value.Blob][]*value.File, len(resp.Files))
	for ref, ser := range resp.Files {
		v, err := r.Resolve(ref)
		if err != nil {
			return nil, err
		}
		blob, ok := v.(*value.Blob)
		if !ok {
			return nil, qderr.Protocolf("file key %q is not a blob", ref)
		}
		for _, s := range ser {
			fv, err := value.Deserialize(s)
			if err != nil {
				return nil, err
			}
			f, ok := fv.(*value.File)
			if !ok {
				return nil, qderr.Protocolf("file entry %q is not a file", s)
			}
			files[blob] = append(files[blob], f)
		}
	}

	var next []value.Value
	if resp.After != nil {
		next = make([]value.Value, 0, len(resp.After))
		for _, s := range resp.After {
			v, err := r.Resolve(s)
			if err != nil {
				return nil, fmt.Errorf("cursor: %w", err)
			}
			next = append(next, v)
		}
	} else if len(values) > 0 {
		next = []value.Value{values[len(values)-1]}
	}

	statements := make([]*value.Statement, 0, len(parsed)+len(values))
	for _, p := range parsed {
		if conflict := p.statement.SetTriple(p.triple); conflict {
			r.logger.Warn("statement resolved to a different triple", "statement", p.statement.String())
		}
		statements = append(statements, p.statement)
	}
	for _, v := range values {
		if st, ok := v.(*value.Statement); ok {
			statements = append(statements, st)
		}
	}

	return &Result{
		Collection: collection.New(statements, files),
		Values:     values,
		More:       resp.More,
		Next:       next,
	}, nil
}

func (r *Repository) resolveStatement(ref string) (*value.Statement, error) {
	v, err := r.Resolve(ref)
	if err != nil {
		return nil, err
	}
	st, ok := v.(*value.Statement)
	if !ok {
		return nil, qderr.Protocolf("statement key %q is not a statement reference", ref)
	}
	return st, nil
}
