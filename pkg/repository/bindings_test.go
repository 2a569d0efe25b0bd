package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queryduck/queryduck-go/pkg/protocol"
	"github.com/queryduck/queryduck-go/pkg/qderr"
	"github.com/queryduck/queryduck-go/pkg/query"
	"github.com/queryduck/queryduck-go/pkg/value"
)

func TestBindingsFromSchemas(t *testing.T) {
	repo := New(&fakeTransport{})
	schemas := []Schema{
		{Bindings: map[string]string{"title": ref(h1), "author": ref(h2)}},
		{Bindings: map[string]string{"author": ref(h3), "cover": "blob:AQID"}},
	}

	b, err := repo.BindingsFromSchemas(schemas)
	require.NoError(t, err)
	assert.Equal(t, []string{"author", "cover", "title"}, b.Names())

	title, err := b.Statement("title")
	require.NoError(t, err)
	canonical, _ := repo.Resolve(ref(h1))
	assert.Same(t, canonical, title)

	author, err := b.Get("author")
	require.NoError(t, err)
	assert.True(t, author.Equals(value.NewStatement(h3)), "later schemas override earlier ones")

	_, err = b.Get("missing")
	assert.True(t, errors.Is(err, qderr.ErrSchema))
	_, err = b.Statement("cover")
	assert.True(t, errors.Is(err, qderr.ErrSchema))

	name, ok := b.Reverse(value.NewStatement(h1))
	assert.True(t, ok)
	assert.Equal(t, "title", name)
	_, ok = b.Reverse(value.Int(1))
	assert.False(t, ok)

	_, err = repo.BindingsFromSchemas([]Schema{{Bindings: map[string]string{"unset": ""}}})
	assert.True(t, errors.Is(err, qderr.ErrSchema))
}

func TestLoadSchemaFiles(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "core.json")
	require.NoError(t, os.WriteFile(good, []byte(`{
		"bindings": {"label": "`+ref(h1)+`", "type": null},
		"statements": [["label", "type", "str:Label"]]
	}`), 0o644))
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"bindings": [}`), 0o644))

	schemas, err := LoadSchemaFiles([]string{good})
	require.NoError(t, err)
	require.Len(t, schemas, 1)
	assert.Equal(t, ref(h1), schemas[0].Bindings["label"])
	assert.Equal(t, "", schemas[0].Bindings["type"])

	_, err = LoadSchemaFiles([]string{bad})
	assert.True(t, errors.Is(err, qderr.ErrSchema))

	_, err = LoadSchemaFiles([]string{filepath.Join(dir, "absent.json")})
	assert.Error(t, err)
}

func TestSchemaProcessor(t *testing.T) {
	next := []uuid.UUID{h3, h4}
	p := SchemaProcessor{NewHandle: func() uuid.UUID {
		h := next[0]
		next = next[1:]
		return h
	}}

	prototype := Schema{
		Bindings:   map[string]string{"label": ref(h1), "type": ""},
		Statements: [][]string{{"", "label", "str:Label"}},
	}
	schema := p.FillPrototype(prototype)
	assert.Equal(t, ref(h1), schema.Bindings["label"])
	assert.Equal(t, ref(h3), schema.Bindings["type"])
	assert.Equal(t, [][]string{{ref(h4), "label", "str:Label"}}, schema.Statements)
	assert.Equal(t, "", prototype.Bindings["type"], "the prototype is not modified")

	repo := New(&fakeTransport{})
	b, err := repo.BindingsFromSchemas([]Schema{schema})
	require.NoError(t, err)

	rows, err := p.StatementsFromSchema(b, schema)
	require.NoError(t, err)
	assert.Equal(t, []protocol.Row{{ref(h4), ref(h1), "str:Label"}}, rows)

	_, err = p.StatementsFromSchema(b, Schema{Statements: [][]string{{"nope"}}})
	assert.True(t, errors.Is(err, qderr.ErrSchema))
}

func TestSession(t *testing.T) {
	ft := &fakeTransport{post: func(path string, _ []byte) (any, error) {
		switch path {
		case protocol.PathQuery:
			return protocol.QueryResponse{
				Statements: map[string][3]string{ref(h1): {ref(h2), ref(hp), "str:known"}},
				References: []string{ref(h1)},
				Files:      map[string][]string{"blob:AQID": {"file::v:a"}},
			}, nil
		case protocol.PathTransaction:
			return protocol.TransactionResponse{References: []string{ref(h3)}}, nil
		}
		return nil, errors.New("unexpected path " + path)
	}}
	repo := New(ft)
	b, err := repo.BindingsFromSchemas([]Schema{{Bindings: map[string]string{"name": ref(hp)}}})
	require.NoError(t, err)
	sess := NewSession(repo, b)
	ctx := context.Background()

	_, err = sess.Execute(ctx, query.New(query.TargetStatement))
	require.NoError(t, err)

	pred, err := sess.Deserialize("@name")
	require.NoError(t, err)
	subject, err := sess.Deserialize(ref(h2))
	require.NoError(t, err)

	known, err := sess.Ensure(subject, pred, value.String("known"))
	require.NoError(t, err)
	h, _ := known.Handle()
	assert.Equal(t, h1, h)
	assert.Equal(t, TransactionEmpty, sess.Transaction().State())

	added, err := sess.Ensure(subject, pred, value.String("new"))
	require.NoError(t, err)
	assert.Same(t, added, sess.First(subject, pred, value.String("new")))

	first := sess.Transaction()
	_, err = sess.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, TransactionSubmitted, first.State())
	assert.Equal(t, TransactionEmpty, sess.Transaction().State())

	again, err := sess.Ensure(subject, pred, value.String("new"))
	require.NoError(t, err)
	assert.Same(t, added, again, "submitted statements are known to the session")

	blob, _ := sess.Deserialize("blob:AQID")
	assert.Len(t, sess.Files(blob.(*value.Blob)), 1)

	literal, err := sess.Deserialize("@unbound")
	assert.Error(t, err, "unbound names fall through to the codec")
	assert.Nil(t, literal)
}
