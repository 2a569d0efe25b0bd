// Package protocol maps queries to and from the flat key/value parameter
// list the statement server understands, and defines the JSON envelopes
// exchanged with it.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/queryduck/queryduck-go/pkg/qderr"
	"github.com/queryduck/queryduck-go/pkg/query"
	"github.com/queryduck/queryduck-go/pkg/value"
)

const (
	// AfterKey carries the keyset cursor; it is not an element.
	AfterKey = "after.tuple"

	aliasPrefix = "alias:"
)

// Param is one wire parameter. It marshals as a two-element JSON list.
type Param struct {
	Key   string
	Value string
}

func (p Param) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{p.Key, p.Value})
}

func (p *Param) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return qderr.Protocolf("parameter is not a list of strings: %v", err)
	}
	if len(pair) != 2 {
		return qderr.Protocolf("parameter has %d items, expected 2", len(pair))
	}
	p.Key, p.Value = pair[0], pair[1]
	return nil
}

// Params is an ordered parameter list. Order is significant.
type Params []Param

// Get returns the value of the first parameter with the given key.
func (ps Params) Get(key string) (string, bool) {
	for _, p := range ps {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// QueryToParams encodes q as one parameter per element in element order,
// followed by the cursor when q.After is set.
func QueryToParams(q *query.Query) (Params, error) {
	elements := q.Elements()
	params := make(Params, 0, len(elements)+1)

	for _, e := range elements {
		tokens, err := encodeElement(q, e)
		if err != nil {
			return nil, err
		}
		params = append(params, Param{
			Key:   string(e.MainType()) + "." + e.Keyword(),
			Value: joinTokens(tokens),
		})
	}

	if len(q.After) > 0 {
		tokens := make([]string, 0, len(q.After))
		for _, v := range q.After {
			s, err := value.Serialize(v)
			if err != nil {
				return nil, fmt.Errorf("failed to encode cursor: %w", err)
			}
			tokens = append(tokens, s)
		}
		params = append(params, Param{Key: AfterKey, Value: joinTokens(tokens)})
	}

	return params, nil
}

func encodeElement(q *query.Query, e query.Element) ([]string, error) {
	var tokens []string

	if j, ok := e.(*query.Join); ok {
		alias, ok := q.Alias(j)
		if !ok {
			return nil, qderr.Userf("join %s is not registered", j.Keyword())
		}
		tokens = append(tokens, alias)
	}

	for _, op := range e.Operands() {
		s, err := encodeOperand(q, op)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s.%s: %w", e.MainType(), e.Keyword(), err)
		}
		tokens = append(tokens, s)
	}

	switch el := e.(type) {
	case *query.Order:
		tokens = append(tokens, el.ValueKind().String())
	case *query.Prefer:
		tokens = append(tokens, el.ValueKind().String())
	}
	return tokens, nil
}

func encodeOperand(q *query.Query, op query.Operand) (string, error) {
	switch o := op.(type) {
	case query.Entity:
		alias, ok := q.Alias(o)
		if !ok {
			return "", qderr.Userf("entity is not registered in this query")
		}
		return aliasPrefix + alias, nil
	case value.Value:
		return value.Serialize(o)
	case nil:
		return value.Serialize(nil)
	}
	return "", qderr.Userf("unsupported operand %T", op)
}

// Resolver turns a serialized value into a Value. Repositories pass their
// interning deserializer so decoded queries refer to canonical entities.
type Resolver func(string) (value.Value, error)

// ParamsToQuery rebuilds a query from its parameter list. A nil resolve uses
// value.Deserialize.
func ParamsToQuery(params Params, target query.Target, resolve Resolver) (*query.Query, error) {
	if resolve == nil {
		resolve = value.Deserialize
	}
	d := &decoder{q: query.New(target), resolve: resolve}

	for _, p := range params {
		tokens, err := splitTokens(p.Value)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", p.Key, err)
		}

		if p.Key == AfterKey {
			if err := d.decodeAfter(tokens); err != nil {
				return nil, err
			}
			continue
		}

		class, ok := elementClasses[p.Key]
		if !ok {
			return nil, qderr.Protocolf("unknown parameter %q", p.Key)
		}
		e, err := class.decode(d, tokens)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", p.Key, err)
		}
		if err := d.q.Add(e); err != nil {
			return nil, fmt.Errorf("parameter %s: %w", p.Key, err)
		}
	}

	return d.q, nil
}

type decoder struct {
	q       *query.Query
	resolve Resolver
}

func (d *decoder) operand(token string) (query.Operand, error) {
	if alias, ok := strings.CutPrefix(token, aliasPrefix); ok {
		return d.entity(alias)
	}
	return d.resolve(token)
}

func (d *decoder) entity(alias string) (query.Entity, error) {
	e, ok := d.q.Lookup(alias)
	if !ok {
		return nil, qderr.Protocolf("reference to unknown alias %q", alias)
	}
	return e, nil
}

func (d *decoder) decodeAfter(tokens []string) error {
	after := make([]value.Value, 0, len(tokens))
	for _, t := range tokens {
		v, err := d.resolve(t)
		if err != nil {
			return fmt.Errorf("parameter %s: %w", AfterKey, err)
		}
		after = append(after, v)
	}
	d.q.After = after
	return nil
}

// joinTokens escapes and comma-joins operand strings.
func joinTokens(tokens []string) string {
	var b strings.Builder
	for i, t := range tokens {
		if i > 0 {
			b.WriteByte(',')
		}
		for j := 0; j < len(t); j++ {
			if t[j] == '\\' || t[j] == ',' {
				b.WriteByte('\\')
			}
			b.WriteByte(t[j])
		}
	}
	return b.String()
}

// splitTokens is the inverse of joinTokens. An empty string has no tokens.
func splitTokens(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}

	var tokens []string
	var cur strings.Builder
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			if c != '\\' && c != ',' {
				return nil, qderr.Protocolf("invalid escape sequence \\%c", c)
			}
			cur.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == ',':
			tokens = append(tokens, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if escaped {
		return nil, qderr.Protocolf("dangling escape in %q", s)
	}
	return append(tokens, cur.String()), nil
}
