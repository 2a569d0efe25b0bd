package repository

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/queryduck/queryduck-go/pkg/protocol"
	"github.com/queryduck/queryduck-go/pkg/qderr"
	"github.com/queryduck/queryduck-go/pkg/value"
)

// Schema is a schema document. Bindings maps names to serialized values.
// Statements lists rows whose items are serialized values or binding names.
// An empty string stands for a JSON null, which only prototypes contain.
type Schema struct {
	Bindings   map[string]string `json:"bindings"`
	Statements [][]string        `json:"statements,omitempty"`
}

// LoadSchemaFiles reads JSON schema documents in order.
func LoadSchemaFiles(paths []string) ([]Schema, error) {
	schemas := make([]Schema, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema: %w", err)
		}
		var s Schema
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, qderr.Schemaf("failed to parse %s: %v", path, err)
		}
		schemas = append(schemas, s)
	}
	return schemas, nil
}

// Bindings maps schema names to canonical values. Bindings are immutable.
type Bindings struct {
	values  map[string]value.Value
	reverse map[string]string
}

// NewBindings creates bindings from a name to value map.
func NewBindings(values map[string]value.Value) *Bindings {
	b := &Bindings{
		values:  maps.Clone(values),
		reverse: make(map[string]string, len(values)),
	}
	if b.values == nil {
		b.values = make(map[string]value.Value)
	}
	// Sorted so a value bound to several names reverses to the first one.
	for _, name := range slices.Sorted(maps.Keys(b.values)) {
		key := value.Key(b.values[name])
		if _, ok := b.reverse[key]; !ok {
			b.reverse[key] = name
		}
	}
	return b
}

// BindingsFromSchemas resolves the bindings of every schema through the
// identity cache. Later schemas override earlier ones.
func (r *Repository) BindingsFromSchemas(schemas []Schema) (*Bindings, error) {
	values := make(map[string]value.Value)
	for _, s := range schemas {
		for name, ref := range s.Bindings {
			if ref == "" {
				return nil, qderr.Schemaf("binding %q has no value", name)
			}
			v, err := r.Resolve(ref)
			if err != nil {
				return nil, fmt.Errorf("binding %q: %w", name, err)
			}
			values[name] = v
		}
	}
	return NewBindings(values), nil
}

// Get returns the value bound to name.
func (b *Bindings) Get(name string) (value.Value, error) {
	v, ok := b.values[name]
	if !ok {
		return nil, qderr.Schemaf("name is not part of these bindings: %s", name)
	}
	return v, nil
}

// Statement returns the statement bound to name.
func (b *Bindings) Statement(name string) (*value.Statement, error) {
	v, err := b.Get(name)
	if err != nil {
		return nil, err
	}
	st, ok := v.(*value.Statement)
	if !ok {
		return nil, qderr.Schemaf("binding %s is a %s, not a statement", name, v.Kind())
	}
	return st, nil
}

// Has reports whether name is bound.
func (b *Bindings) Has(name string) bool {
	_, ok := b.values[name]
	return ok
}

// Reverse returns the name v is bound to.
func (b *Bindings) Reverse(v value.Value) (string, bool) {
	name, ok := b.reverse[value.Key(v)]
	return name, ok
}

// Names returns the bound names in sorted order.
func (b *Bindings) Names() []string {
	return slices.Sorted(maps.Keys(b.values))
}

// Len returns the number of bindings.
func (b *Bindings) Len() int {
	return len(b.values)
}

// SchemaProcessor turns schema prototypes into schemas and schemas into
// rows ready for creation.
type SchemaProcessor struct {
	// NewHandle generates handles for unset bindings. Defaults to uuid.New.
	NewHandle func() uuid.UUID
}

func (p SchemaProcessor) newRef() string {
	gen := p.NewHandle
	if gen == nil {
		gen = uuid.New
	}
	return value.KindStatement.String() + ":" + gen().String()
}

// FillPrototype returns a copy of prototype in which every unset binding and
// every unset statement item has a fresh statement handle.
func (p SchemaProcessor) FillPrototype(prototype Schema) Schema {
	out := Schema{Bindings: make(map[string]string, len(prototype.Bindings))}
	for _, name := range slices.Sorted(maps.Keys(prototype.Bindings)) {
		ref := prototype.Bindings[name]
		if ref == "" {
			ref = p.newRef()
		}
		out.Bindings[name] = ref
	}
	for _, row := range prototype.Statements {
		filled := make([]string, len(row))
		for i, item := range row {
			if item == "" {
				item = p.newRef()
			}
			filled[i] = item
		}
		out.Statements = append(out.Statements, filled)
	}
	return out
}

// StatementsFromSchema serializes the statement rows of a schema. Items
// without a kind tag are binding names.
func (p SchemaProcessor) StatementsFromSchema(b *Bindings, schema Schema) ([]protocol.Row, error) {
	rows := make([]protocol.Row, 0, len(schema.Statements))
	for i, prototype := range schema.Statements {
		row := make(protocol.Row, 0, len(prototype))
		for _, item := range prototype {
			if strings.Contains(item, ":") {
				row = append(row, item)
				continue
			}
			v, err := b.Get(item)
			if err != nil {
				return nil, fmt.Errorf("statement %d: %w", i, err)
			}
			s, err := value.Serialize(v)
			if err != nil {
				return nil, fmt.Errorf("statement %d: %w", i, err)
			}
			row = append(row, s)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
