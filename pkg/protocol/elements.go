package protocol

import (
	"github.com/queryduck/queryduck-go/pkg/qderr"
	"github.com/queryduck/queryduck-go/pkg/query"
	"github.com/queryduck/queryduck-go/pkg/value"
)

// elementClass decodes the operand tokens of one wire key into an element.
type elementClass struct {
	mainType query.MainType
	keyword  string
	decode   func(d *decoder, tokens []string) (query.Element, error)
}

// elementClasses is keyed by "<maintype>.<keyword>". Keys are parsed only
// here; everything past the protocol boundary works with typed elements.
var elementClasses = buildElementClasses()

func buildElementClasses() map[string]elementClass {
	classes := make(map[string]elementClass)
	add := func(c elementClass) {
		classes[string(c.mainType)+"."+c.keyword] = c
	}

	for _, kind := range []query.JoinKind{
		query.JoinObjectFor, query.JoinSubjectFor, query.JoinObjectMeta, query.JoinSubjectMeta,
	} {
		add(elementClass{mainType: query.MainJoin, keyword: kind.Keyword(), decode: joinDecoder(kind)})
	}

	filterOps := []query.Op{
		query.OpEq, query.OpNe, query.OpLt, query.OpLe, query.OpGt, query.OpGe,
		query.OpMatchFile, query.OpIsNull, query.OpNotNull,
	}
	for _, op := range filterOps {
		add(elementClass{mainType: query.MainFilter, keyword: string(op), decode: comparisonDecoder(query.MainFilter, op)})
		if op != query.OpMatchFile {
			add(elementClass{mainType: query.MainHaving, keyword: string(op), decode: comparisonDecoder(query.MainHaving, op)})
		}
	}

	add(elementClass{mainType: query.MainOrder, keyword: "asc", decode: sortDecoder(func(op query.Operand, k value.Kind) query.Element {
		return query.Asc(op, k)
	})})
	add(elementClass{mainType: query.MainOrder, keyword: "desc", decode: sortDecoder(func(op query.Operand, k value.Kind) query.Element {
		return query.Desc(op, k)
	})})
	add(elementClass{mainType: query.MainPrefer, keyword: "min", decode: sortDecoder(func(op query.Operand, k value.Kind) query.Element {
		return query.PreferMin(op, k)
	})})
	add(elementClass{mainType: query.MainPrefer, keyword: "max", decode: sortDecoder(func(op query.Operand, k value.Kind) query.Element {
		return query.PreferMax(op, k)
	})})

	add(elementClass{mainType: query.MainFetch, keyword: "entity", decode: decodeFetch})

	return classes
}

// joinDecoder decodes "<own-alias>,alias:<target>,<predicate>...".
func joinDecoder(kind query.JoinKind) func(*decoder, []string) (query.Element, error) {
	return func(d *decoder, tokens []string) (query.Element, error) {
		if len(tokens) < 2 {
			return nil, qderr.Protocolf("join needs an alias and a target, got %d operands", len(tokens))
		}
		own := tokens[0]
		if _, exists := d.q.Lookup(own); exists {
			return nil, qderr.Protocolf("alias %q is declared twice", own)
		}

		target, err := d.operand(tokens[1])
		if err != nil {
			return nil, err
		}
		entity, ok := target.(query.Entity)
		if !ok {
			return nil, qderr.Protocolf("join target %q is not an alias", tokens[1])
		}

		predicates := make([]value.Value, 0, len(tokens)-2)
		for _, t := range tokens[2:] {
			v, err := d.resolve(t)
			if err != nil {
				return nil, err
			}
			predicates = append(predicates, v)
		}
		return query.NewJoin(kind, entity, predicates...).As(own), nil
	}
}

func comparisonDecoder(mainType query.MainType, op query.Op) func(*decoder, []string) (query.Element, error) {
	return func(d *decoder, tokens []string) (query.Element, error) {
		if len(tokens) != op.Arity() {
			return nil, qderr.Protocolf("%s.%s takes %d operands, got %d", mainType, op, op.Arity(), len(tokens))
		}
		operands := make([]any, 0, len(tokens))
		for _, t := range tokens {
			o, err := d.operand(t)
			if err != nil {
				return nil, err
			}
			operands = append(operands, o)
		}
		return query.NewComparison(mainType, op, operands...), nil
	}
}

// sortDecoder decodes "<operand>,<kind-tag>" for order and prefer elements.
func sortDecoder(build func(query.Operand, value.Kind) query.Element) func(*decoder, []string) (query.Element, error) {
	return func(d *decoder, tokens []string) (query.Element, error) {
		if len(tokens) != 2 {
			return nil, qderr.Protocolf("expected operand and kind, got %d operands", len(tokens))
		}
		o, err := d.operand(tokens[0])
		if err != nil {
			return nil, err
		}
		kind, err := value.ParseKind(tokens[1])
		if err != nil {
			return nil, err
		}
		return build(o, kind), nil
	}
}

func decodeFetch(d *decoder, tokens []string) (query.Element, error) {
	if len(tokens) != 1 {
		return nil, qderr.Protocolf("fetch takes 1 operand, got %d", len(tokens))
	}
	o, err := d.operand(tokens[0])
	if err != nil {
		return nil, err
	}
	entity, ok := o.(query.Entity)
	if !ok {
		return nil, qderr.Protocolf("fetch operand %q is not an alias", tokens[0])
	}
	return query.FetchEntity(entity), nil
}
