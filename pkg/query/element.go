package query

import (
	"github.com/queryduck/queryduck-go/pkg/qderr"
	"github.com/queryduck/queryduck-go/pkg/value"
)

// MainType is the first half of an element's wire key
type MainType string

const (
	MainJoin   MainType = "join"
	MainFilter MainType = "filter"
	MainOrder  MainType = "order"
	MainPrefer MainType = "prefer"
	MainHaving MainType = "having"
	MainFetch  MainType = "fetch"
	MainAfter  MainType = "after"
)

// Operand is either an Entity or a value.Value.
type Operand any

// Element is one building block of a query. The wire key of an element is
// "<MainType>.<Keyword>".
type Element interface {
	MainType() MainType
	Keyword() string
	Operands() []Operand

	isElement()
}

// Op is a comparison operator
type Op string

const (
	OpEq        Op = "eq"
	OpNe        Op = "ne"
	OpLt        Op = "lt"
	OpLe        Op = "le"
	OpGt        Op = "gt"
	OpGe        Op = "ge"
	OpMatchFile Op = "matchfile"
	OpIsNull    Op = "isnull"
	OpNotNull   Op = "notnull"
)

// Arity returns the number of operands the operator takes.
func (op Op) Arity() int {
	switch op {
	case OpIsNull, OpNotNull:
		return 1
	default:
		return 2
	}
}

// ParseOp validates an operator keyword.
func ParseOp(s string) (Op, error) {
	switch op := Op(s); op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe, OpMatchFile, OpIsNull, OpNotNull:
		return op, nil
	}
	return "", qderr.Userf("unknown comparison operator %q", s)
}

// Comparison is a row predicate, evaluated either per row (filter) or after
// joins are grouped (having).
type Comparison struct {
	mainType MainType
	op       Op
	operands []Operand
	err      error
}

// NewComparison builds a filter or having element. Operands that are not
// entities are converted with value.Of; conversion errors surface from
// Query.Add.
func NewComparison(mainType MainType, op Op, operands ...any) *Comparison {
	c := &Comparison{mainType: mainType, op: op}
	if mainType != MainFilter && mainType != MainHaving {
		c.err = qderr.Userf("comparison cannot be a %s element", mainType)
		return c
	}
	if op.Arity() != len(operands) {
		c.err = qderr.Userf("%s takes %d operands, got %d", op, op.Arity(), len(operands))
		return c
	}
	c.operands, c.err = toOperands(operands)
	return c
}

func Equals(lhs, rhs any) *Comparison       { return NewComparison(MainFilter, OpEq, lhs, rhs) }
func NotEquals(lhs, rhs any) *Comparison    { return NewComparison(MainFilter, OpNe, lhs, rhs) }
func Less(lhs, rhs any) *Comparison         { return NewComparison(MainFilter, OpLt, lhs, rhs) }
func LessEqual(lhs, rhs any) *Comparison    { return NewComparison(MainFilter, OpLe, lhs, rhs) }
func Greater(lhs, rhs any) *Comparison      { return NewComparison(MainFilter, OpGt, lhs, rhs) }
func GreaterEqual(lhs, rhs any) *Comparison { return NewComparison(MainFilter, OpGe, lhs, rhs) }
func MatchFile(lhs, rhs any) *Comparison    { return NewComparison(MainFilter, OpMatchFile, lhs, rhs) }
func IsNull(operand any) *Comparison        { return NewComparison(MainFilter, OpIsNull, operand) }
func NotNull(operand any) *Comparison       { return NewComparison(MainFilter, OpNotNull, operand) }

func HavingEquals(lhs, rhs any) *Comparison    { return NewComparison(MainHaving, OpEq, lhs, rhs) }
func HavingNotEquals(lhs, rhs any) *Comparison { return NewComparison(MainHaving, OpNe, lhs, rhs) }
func HavingLess(lhs, rhs any) *Comparison      { return NewComparison(MainHaving, OpLt, lhs, rhs) }
func HavingLessEqual(lhs, rhs any) *Comparison { return NewComparison(MainHaving, OpLe, lhs, rhs) }
func HavingGreater(lhs, rhs any) *Comparison   { return NewComparison(MainHaving, OpGt, lhs, rhs) }
func HavingGreaterEqual(lhs, rhs any) *Comparison {
	return NewComparison(MainHaving, OpGe, lhs, rhs)
}
func HavingIsNull(operand any) *Comparison  { return NewComparison(MainHaving, OpIsNull, operand) }
func HavingNotNull(operand any) *Comparison { return NewComparison(MainHaving, OpNotNull, operand) }

// Op returns the comparison operator.
func (c *Comparison) Op() Op { return c.op }

func (c *Comparison) MainType() MainType  { return c.mainType }
func (c *Comparison) Keyword() string     { return string(c.op) }
func (c *Comparison) Operands() []Operand { return append([]Operand(nil), c.operands...) }
func (*Comparison) isElement()            {}

func (c *Comparison) validate() error {
	if c.err != nil {
		return c.err
	}
	if c.mainType == MainHaving && c.op == OpMatchFile {
		return qderr.Userf("matchfile is not allowed in a having clause")
	}
	return nil
}

// Order sorts rows on an operand whose values are of the given kind.
type Order struct {
	desc    bool
	operand Operand
	kind    value.Kind
	err     error
}

// Asc orders ascending on operand.
func Asc(operand any, kind value.Kind) *Order {
	return newOrder(false, operand, kind)
}

// Desc orders descending on operand.
func Desc(operand any, kind value.Kind) *Order {
	return newOrder(true, operand, kind)
}

func newOrder(desc bool, operand any, kind value.Kind) *Order {
	op, err := toOperand(operand)
	return &Order{desc: desc, operand: op, kind: kind, err: err}
}

// Descending reports the sort direction.
func (o *Order) Descending() bool { return o.desc }

// ValueKind returns the kind the server sorts the column as.
func (o *Order) ValueKind() value.Kind { return o.kind }

func (*Order) MainType() MainType { return MainOrder }

func (o *Order) Keyword() string {
	if o.desc {
		return "desc"
	}
	return "asc"
}

func (o *Order) Operands() []Operand { return []Operand{o.operand} }
func (*Order) isElement()            {}

// Prefer picks one row per duplicate group, keeping the lowest or highest
// operand value.
type Prefer struct {
	max     bool
	operand Operand
	kind    value.Kind
	err     error
}

func PreferMin(operand any, kind value.Kind) *Prefer {
	return newPrefer(false, operand, kind)
}

func PreferMax(operand any, kind value.Kind) *Prefer {
	return newPrefer(true, operand, kind)
}

func newPrefer(max bool, operand any, kind value.Kind) *Prefer {
	op, err := toOperand(operand)
	return &Prefer{max: max, operand: op, kind: kind, err: err}
}

// Max reports whether the highest value wins.
func (p *Prefer) Max() bool { return p.max }

// ValueKind returns the kind the server compares the column as.
func (p *Prefer) ValueKind() value.Kind { return p.kind }

func (*Prefer) MainType() MainType { return MainPrefer }

func (p *Prefer) Keyword() string {
	if p.max {
		return "max"
	}
	return "min"
}

func (p *Prefer) Operands() []Operand { return []Operand{p.operand} }
func (*Prefer) isElement()            {}

// Fetch asks the server to resolve the triples of an entity's rows, not just
// their references.
type Fetch struct {
	entity Entity
}

// FetchEntity marks entity for eager resolution.
func FetchEntity(entity Entity) *Fetch {
	return &Fetch{entity: entity}
}

// Entity returns the entity to fetch.
func (f *Fetch) Entity() Entity { return f.entity }

func (*Fetch) MainType() MainType    { return MainFetch }
func (*Fetch) Keyword() string       { return "entity" }
func (f *Fetch) Operands() []Operand { return []Operand{f.entity} }
func (*Fetch) isElement()            {}

func toOperand(native any) (Operand, error) {
	switch n := native.(type) {
	case *Main:
		if n == nil {
			return nil, qderr.Userf("nil entity operand")
		}
		return n, nil
	case *Join:
		if n == nil {
			return nil, qderr.Userf("nil entity operand")
		}
		return n, nil
	case Entity:
		return n, nil
	}
	v, err := value.Of(native)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func toOperands(natives []any) ([]Operand, error) {
	ops := make([]Operand, 0, len(natives))
	for _, n := range natives {
		op, err := toOperand(n)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}
