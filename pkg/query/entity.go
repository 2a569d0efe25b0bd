package query

import (
	"github.com/queryduck/queryduck-go/pkg/value"
)

// MainAlias is the reserved alias of the query target itself.
const MainAlias = "main"

// Entity is a row source a query can join from, compare, order on or fetch:
// either the query target (Main) or a Join.
type Entity interface {
	// ObjectFor joins the objects of statements with this entity as subject.
	ObjectFor(predicates ...value.Value) *Join
	// SubjectFor joins the subjects of statements with this entity as object.
	SubjectFor(predicates ...value.Value) *Join
	// ObjectMeta joins like ObjectFor, matching on statement metadata.
	ObjectMeta(predicates ...value.Value) *Join
	// SubjectMeta joins like SubjectFor, matching on statement metadata.
	SubjectMeta(predicates ...value.Value) *Join

	isEntity()
}

// Main is the query target. Every Main is registered under MainAlias.
type Main struct {
	target Target
}

// NewMain creates a target entity. Queries create their own; see Query.Main.
func NewMain(target Target) *Main {
	return &Main{target: target}
}

// Target returns the entity type the main rows consist of.
func (m *Main) Target() Target { return m.target }

func (m *Main) ObjectFor(predicates ...value.Value) *Join {
	return newJoin(JoinObjectFor, m, predicates)
}

func (m *Main) SubjectFor(predicates ...value.Value) *Join {
	return newJoin(JoinSubjectFor, m, predicates)
}

func (m *Main) ObjectMeta(predicates ...value.Value) *Join {
	return newJoin(JoinObjectMeta, m, predicates)
}

func (m *Main) SubjectMeta(predicates ...value.Value) *Join {
	return newJoin(JoinSubjectMeta, m, predicates)
}

func (*Main) isEntity() {}

// JoinKind selects how a join relates to its target
type JoinKind byte

const (
	JoinObjectFor JoinKind = iota + 1
	JoinSubjectFor
	JoinObjectMeta
	JoinSubjectMeta
)

// Keyword returns the wire keyword of the join kind.
func (k JoinKind) Keyword() string {
	switch k {
	case JoinObjectFor:
		return "objectfor"
	case JoinSubjectFor:
		return "subjectfor"
	case JoinObjectMeta:
		return "objectmeta"
	case JoinSubjectMeta:
		return "subjectmeta"
	default:
		return "unknown"
	}
}

// Join is a join-producing element. Two Join values are different joins even
// when built from the same arguments; reuse the pointer to refer to one join.
type Join struct {
	kind       JoinKind
	target     Entity
	predicates []value.Value
	alias      string
}

func newJoin(kind JoinKind, target Entity, predicates []value.Value) *Join {
	return &Join{
		kind:       kind,
		target:     target,
		predicates: append([]value.Value(nil), predicates...),
	}
}

// NewJoin creates a join of the given kind on target.
func NewJoin(kind JoinKind, target Entity, predicates ...value.Value) *Join {
	return newJoin(kind, target, predicates)
}

// As gives the join an explicit alias instead of a generated one.
func (j *Join) As(alias string) *Join {
	j.alias = alias
	return j
}

// ExplicitAlias returns the alias set with As, or "".
func (j *Join) ExplicitAlias() string { return j.alias }

// JoinKind returns how the join relates to its target.
func (j *Join) JoinKind() JoinKind { return j.kind }

// Target returns the entity this join hangs off.
func (j *Join) Target() Entity { return j.target }

// Predicates returns the predicates the join matches on.
func (j *Join) Predicates() []value.Value {
	return append([]value.Value(nil), j.predicates...)
}

func (j *Join) MainType() MainType { return MainJoin }
func (j *Join) Keyword() string    { return j.kind.Keyword() }

// Operands returns the target followed by the predicates.
func (j *Join) Operands() []Operand {
	ops := make([]Operand, 0, len(j.predicates)+1)
	ops = append(ops, j.target)
	for _, p := range j.predicates {
		ops = append(ops, p)
	}
	return ops
}

func (j *Join) ObjectFor(predicates ...value.Value) *Join {
	return newJoin(JoinObjectFor, j, predicates)
}

func (j *Join) SubjectFor(predicates ...value.Value) *Join {
	return newJoin(JoinSubjectFor, j, predicates)
}

func (j *Join) ObjectMeta(predicates ...value.Value) *Join {
	return newJoin(JoinObjectMeta, j, predicates)
}

func (j *Join) SubjectMeta(predicates ...value.Value) *Join {
	return newJoin(JoinSubjectMeta, j, predicates)
}

func (*Join) isEntity()  {}
func (*Join) isElement() {}
