package query

import (
	"fmt"
	"maps"
	"strings"

	"github.com/queryduck/queryduck-go/pkg/qderr"
	"github.com/queryduck/queryduck-go/pkg/value"
)

// MaxJoins bounds the number of automatically aliased joins in one query.
const MaxJoins = 999

// Target is the entity type a query returns
type Target byte

const (
	TargetStatement Target = iota + 1
	TargetBlob
)

func (t Target) String() string {
	switch t {
	case TargetStatement:
		return "statement"
	case TargetBlob:
		return "blob"
	default:
		return "unknown"
	}
}

// ParseTarget parses "statement" or "blob".
func ParseTarget(s string) (Target, error) {
	switch s {
	case "statement":
		return TargetStatement, nil
	case "blob":
		return TargetBlob, nil
	}
	return 0, qderr.Userf("unknown query target %q", s)
}

// Query is an ordered list of elements against a target. Joins are registered
// under an alias the moment they are first referenced, together with any
// ancestors that are not registered yet, so every alias an element refers to
// is emitted before that element.
//
// A Query is not safe for concurrent mutation.
type Query struct {
	target   Target
	main     *Main
	elements []Element
	joins    map[string]*Join
	aliases  map[*Join]string

	// Limit caps the number of main rows per page; zero leaves it to the server.
	Limit int
	// After is the keyset cursor: the sort-key values of the last row seen.
	After []value.Value
}

// New creates an empty query over target.
func New(target Target) *Query {
	return &Query{
		target:  target,
		main:    NewMain(target),
		joins:   make(map[string]*Join),
		aliases: make(map[*Join]string),
	}
}

// Target returns the entity type the query returns.
func (q *Query) Target() Target { return q.target }

// Main returns the query target entity, aliased "main".
func (q *Query) Main() *Main { return q.main }

// Add appends elements in order. Each element is validated and its joins are
// registered before it is appended; on error the query is left as it was
// before the failing element.
func (q *Query) Add(elements ...Element) error {
	for _, e := range elements {
		if err := q.add(e); err != nil {
			return err
		}
	}
	return nil
}

func (q *Query) add(e Element) error {
	var entities []Entity

	switch el := e.(type) {
	case nil:
		return qderr.Userf("nil element")
	case *Join:
		if el == nil {
			return qderr.Userf("nil element")
		}
		if _, ok := q.aliases[el]; ok {
			return nil
		}
		return q.register(el)
	case *Comparison:
		if err := el.validate(); err != nil {
			return err
		}
	case *Order:
		if el.err != nil {
			return el.err
		}
	case *Prefer:
		if el.err != nil {
			return el.err
		}
	case *Fetch:
		if el.entity == nil {
			return qderr.Userf("fetch requires an entity")
		}
	}

	for _, op := range e.Operands() {
		if ent, ok := op.(Entity); ok {
			entities = append(entities, ent)
		}
	}

	pending, err := q.plan(entities...)
	if err != nil {
		return err
	}
	q.commit(pending)
	q.elements = append(q.elements, e)
	return nil
}

// register adds a join element, preceded by its unregistered ancestors.
func (q *Query) register(j *Join) error {
	pending, err := q.plan(j)
	if err != nil {
		return err
	}
	q.commit(pending)
	return nil
}

type aliasedJoin struct {
	join  *Join
	alias string
}

// plan works out which joins must be registered for entities to be
// referable, in root-to-leaf order, without touching the query.
func (q *Query) plan(entities ...Entity) ([]aliasedJoin, error) {
	var pending []aliasedJoin
	planned := make(map[*Join]bool)
	taken := make(map[string]bool)

	for _, ent := range entities {
		var chain []*Join
		for e := ent; e != nil; {
			j, ok := e.(*Join)
			if !ok {
				break
			}
			if j == nil {
				return nil, qderr.Userf("nil join operand")
			}
			if _, registered := q.aliases[j]; registered || planned[j] {
				break
			}
			if j.target == nil {
				return nil, qderr.Userf("join %s has no target", j.Keyword())
			}
			chain = append(chain, j)
			e = j.target
		}

		for i := len(chain) - 1; i >= 0; i-- {
			j := chain[i]
			alias := j.alias
			if alias != "" {
				if err := validAlias(alias); err != nil {
					return nil, err
				}
				if _, exists := q.joins[alias]; exists || taken[alias] {
					return nil, qderr.Userf("alias %q is already bound to another join", alias)
				}
			} else {
				var err error
				if alias, err = q.nextAlias(taken); err != nil {
					return nil, err
				}
			}
			taken[alias] = true
			planned[j] = true
			pending = append(pending, aliasedJoin{join: j, alias: alias})
		}
	}
	return pending, nil
}

func (q *Query) commit(pending []aliasedJoin) {
	for _, p := range pending {
		q.joins[p.alias] = p.join
		q.aliases[p.join] = p.alias
		q.elements = append(q.elements, p.join)
	}
}

func (q *Query) nextAlias(taken map[string]bool) (string, error) {
	for n := 1; n <= MaxJoins; n++ {
		alias := fmt.Sprintf("join%d", n)
		if _, exists := q.joins[alias]; !exists && !taken[alias] {
			return alias, nil
		}
	}
	return "", qderr.Userf("too many joins")
}

func validAlias(alias string) error {
	if alias == MainAlias {
		return qderr.Userf("alias %q is reserved", alias)
	}
	if strings.ContainsAny(alias, ",:\\") {
		return qderr.Userf("alias %q contains a reserved character", alias)
	}
	return nil
}

// Alias returns the alias an entity is registered under. Any *Main is
// reported as "main".
func (q *Query) Alias(e Entity) (string, bool) {
	switch t := e.(type) {
	case *Main:
		return MainAlias, t != nil
	case *Join:
		alias, ok := q.aliases[t]
		return alias, ok
	}
	return "", false
}

// Lookup returns the entity registered under alias.
func (q *Query) Lookup(alias string) (Entity, bool) {
	if alias == MainAlias {
		return q.main, true
	}
	j, ok := q.joins[alias]
	if !ok {
		return nil, false
	}
	return j, true
}

// Joins returns the registered joins in registration order.
func (q *Query) Joins() []*Join {
	var joins []*Join
	for _, e := range q.elements {
		if j, ok := e.(*Join); ok {
			joins = append(joins, j)
		}
	}
	return joins
}

// Elements returns all elements, joins included, in emission order.
func (q *Query) Elements() []Element {
	return append([]Element(nil), q.elements...)
}

// Clone returns a copy that can be extended without affecting q. Elements
// are shared, they are not modified once added.
func (q *Query) Clone() *Query {
	return &Query{
		target:   q.target,
		main:     q.main,
		elements: append([]Element(nil), q.elements...),
		joins:    maps.Clone(q.joins),
		aliases:  maps.Clone(q.aliases),
		Limit:    q.Limit,
		After:    append([]value.Value(nil), q.After...),
	}
}

// WithAfter returns a copy of q positioned after the given cursor.
func (q *Query) WithAfter(cursor ...value.Value) *Query {
	c := q.Clone()
	c.After = append([]value.Value(nil), cursor...)
	return c
}
