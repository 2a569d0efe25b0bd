package loopback

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryduck/queryduck-go/internal/storage"
	"github.com/queryduck/queryduck-go/internal/transport"
	"github.com/queryduck/queryduck-go/pkg/protocol"
	"github.com/queryduck/queryduck-go/pkg/qderr"
	"github.com/queryduck/queryduck-go/pkg/query"
	"github.com/queryduck/queryduck-go/pkg/repository"
	"github.com/queryduck/queryduck-go/pkg/value"
)

type fixture struct {
	store *Store
	conn  *transport.Connection
	repo  *repository.Repository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := storage.NewMemoryStorage()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return serve(t, s)
}

func serve(t *testing.T, s storage.Storage) *fixture {
	t.Helper()
	store := NewStore(s)
	srv := httptest.NewServer(NewServer(store, "", "/api/v0").Handler())
	t.Cleanup(srv.Close)

	conn := transport.NewConnection(srv.URL+"/api/v0", "", "")
	return &fixture{store: store, conn: conn, repo: repository.New(conn)}
}

func TestCreateGetExport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.repo.Create(ctx, []value.Triple{
		value.NewTriple(value.String("a"), value.String("label"), value.Int(1)),
		value.NewTriple(value.String("b"), value.String("label"), value.Bool(true)),
	})
	require.NoError(t, err)
	require.Len(t, created, 2)

	v, c, err := f.repo.Get(ctx, created[1].String())
	require.NoError(t, err)
	assert.Same(t, created[1], v, "get returns the canonical instance")
	triple, ok := created[1].Triple()
	require.True(t, ok)
	assert.True(t, triple.Equals(value.NewTriple(value.String("b"), value.String("label"), value.Bool(true))))
	assert.Equal(t, 1, c.Len())

	rows, err := f.repo.Export(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, protocol.Row{created[0].String(), "str:a", "str:label", "int:1"}, rows[0])

	// Importing exported rows keeps handles and is idempotent.
	require.NoError(t, f.repo.Import(ctx, rows))
	again, err := f.repo.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, rows, again)

	_, _, err = f.repo.Get(ctx, "s:"+uuid.NewString())
	assert.True(t, errors.Is(err, qderr.ErrNotFound), "got %v", err)
}

func TestBoltReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := storage.Open(storage.EngineBolt, dir)
	require.NoError(t, err)
	f := serve(t, s)
	_, err = f.repo.Create(ctx, []value.Triple{
		value.NewTriple(value.String("a"), value.String("label"), value.Int(1)),
		value.NewTriple(value.String("b"), value.String("label"), value.Int(2)),
	})
	require.NoError(t, err)
	rows, err := f.repo.Export(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = storage.Open(storage.EngineBolt, dir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	again, err := serve(t, s).repo.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, rows, again)
}

func TestSessionSubmit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := repository.NewSession(f.repo, nil)

	self, err := sess.Add(nil, value.String("is"), value.String("self"))
	require.NoError(t, err)
	meta, err := sess.Add(self, value.String("note"), value.String("about self"))
	require.NoError(t, err)

	c, err := sess.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	h, ok := self.Handle()
	require.True(t, ok)
	rec, err := f.store.Get(h)
	require.NoError(t, err)
	assert.Equal(t, self.String(), rec.Triple[0], "self reference is stored as the own handle")

	mh, ok := meta.Handle()
	require.True(t, ok)
	rec, err = f.store.Get(mh)
	require.NoError(t, err)
	assert.Equal(t, self.String(), rec.Triple[0])

	v, _, err := f.repo.Get(ctx, self.String())
	require.NoError(t, err)
	assert.Same(t, self, v)
	triple, _ := self.Triple()
	assert.Same(t, self, triple.Subject)

	// Known after submit, so Ensure adds nothing.
	ensured, err := sess.Ensure(self, value.String("note"), value.String("about self"))
	require.NoError(t, err)
	assert.Same(t, meta, ensured)
	assert.Equal(t, repository.TransactionEmpty, sess.Transaction().State())
}

func TestPagingAndFetch(t *testing.T) {
	f := newFixture(t)
	f.conn.Compression = true
	ctx := context.Background()

	var triples []value.Triple
	for i := range 5 {
		triples = append(triples, value.NewTriple(value.Int(i), value.String("n"), value.Int(i*i)))
	}
	created, err := f.repo.Create(ctx, triples)
	require.NoError(t, err)
	_, err = f.repo.Create(ctx, []value.Triple{
		value.NewTriple(created[0], value.String("tag"), value.String("first")),
	})
	require.NoError(t, err)

	q := query.New(query.TargetStatement)
	require.NoError(t, q.Add(query.FetchEntity(q.Main())))
	q.Limit = 2

	var refs []value.Value
	pages := 0
	for res, err := range f.repo.Pages(ctx, q) {
		require.NoError(t, err)
		pages++
		refs = append(refs, res.Values...)
		if pages == 1 {
			tag := res.Collection.ObjectFor(created[0], value.String("tag"))
			assert.True(t, value.String("first").Equals(tag), "fetch includes statements about main rows")
		}
	}
	assert.Equal(t, 3, pages)
	require.Len(t, refs, 6)
	for i, st := range created {
		assert.Same(t, st, refs[i])
	}
}

func TestUnsupportedQuery(t *testing.T) {
	f := newFixture(t)
	q := query.New(query.TargetStatement)
	require.NoError(t, q.Add(query.Equals(q.Main(), 1)))

	_, err := f.repo.Execute(context.Background(), q)
	assert.True(t, errors.Is(err, qderr.ErrGeneral), "got %v", err)
}

func TestBlobTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := value.NewBlob([]byte{1, 2, 3})
	b := value.NewBlob([]byte{4, 5, 6})
	require.NoError(t, f.store.AddFiles(a, value.NewFile("vol", []byte("x.txt")), value.NewFile("vol", []byte("y.txt"))))
	require.NoError(t, f.store.AddFiles(b, value.NewFile("vol", []byte("z.txt"))))

	q := query.New(query.TargetBlob)
	q.Limit = 1
	res, err := f.repo.Execute(ctx, q)
	require.NoError(t, err)
	require.Len(t, res.Values, 1)
	assert.True(t, res.More)
	blob, ok := res.Values[0].(*value.Blob)
	require.True(t, ok)
	assert.True(t, a.Equals(blob))
	assert.Len(t, res.Collection.Files(blob), 2)

	res, err = f.repo.Execute(ctx, q.WithAfter(res.Next...))
	require.NoError(t, err)
	require.Len(t, res.Values, 1)
	assert.False(t, res.More)
	assert.True(t, b.Equals(res.Values[0]))

	v, c, err := f.repo.Get(ctx, a.String())
	require.NoError(t, err)
	assert.Len(t, c.Files(v.(*value.Blob)), 2)
}

func TestTransactErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.store.Transact([]protocol.TransactionRow{{
		Triple: [3]protocol.Operand{protocol.Pending(3), protocol.Resolved("str:p"), protocol.Resolved("int:1")},
	}})
	assert.True(t, errors.Is(err, qderr.ErrUser), "got %v", err)

	_, err = f.store.Create([]protocol.Row{{"str:s", "str:p", "bogus"}})
	assert.True(t, errors.Is(err, qderr.ErrValue), "got %v", err)

	h := uuid.New()
	_, err = f.store.Create([]protocol.Row{{"s:" + h.String(), "str:s", "str:p", "int:1"}})
	require.NoError(t, err)
	_, err = f.store.Create([]protocol.Row{{"s:" + h.String(), "str:s", "str:p", "int:2"}})
	assert.True(t, errors.Is(err, qderr.ErrUser), "a handle cannot be reused for another triple")

	records, err := f.store.All()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
