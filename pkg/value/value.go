// Package value implements the scalar and entity values exchanged with a
// statement store, together with their compact "<kind>:<payload>" wire form.
package value

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/apd"

	"github.com/queryduck/queryduck-go/pkg/qderr"
)

// Kind identifies the type of a Value
type Kind byte

const (
	KindNone Kind = iota + 1
	KindInt
	KindBool
	KindBytes
	KindDecimal
	KindString
	KindDateTime
	KindStatement
	KindBlob
	KindFile
)

// kindTags maps every kind to its wire tag.
var kindTags = map[Kind]string{
	KindNone:      "none",
	KindInt:       "int",
	KindBool:      "bool",
	KindBytes:     "bytes",
	KindDecimal:   "dec",
	KindString:    "str",
	KindDateTime:  "datetime",
	KindStatement: "s",
	KindBlob:      "blob",
	KindFile:      "file",
}

var kindsByTag = func() map[string]Kind {
	m := make(map[string]Kind, len(kindTags))
	for k, tag := range kindTags {
		m[tag] = k
	}
	return m
}()

// String returns the wire tag of the kind.
func (k Kind) String() string {
	if tag, ok := kindTags[k]; ok {
		return tag
	}
	return "unknown"
}

// ParseKind looks up a kind by its wire tag.
func ParseKind(tag string) (Kind, error) {
	k, ok := kindsByTag[tag]
	if !ok {
		return 0, qderr.Valuef("invalid value type: %q", tag)
	}
	return k, nil
}

// Value is a member of the closed set of value kinds. The set is closed by an
// unexported method; code switching over values handles every implementation
// in this package.
type Value interface {
	Kind() Kind
	String() string
	Equals(other Value) bool
	isValue()
}

// Int is a 64-bit signed integer value. Payloads outside the int64 range do
// not deserialize.
type Int int64

func (Int) Kind() Kind       { return KindInt }
func (i Int) String() string { return strconv.FormatInt(int64(i), 10) }
func (Int) isValue()         {}

func (i Int) Equals(other Value) bool {
	o, ok := other.(Int)
	return ok && o == i
}

// Bool is a boolean value
type Bool bool

func (Bool) Kind() Kind       { return KindBool }
func (b Bool) String() string { return strconv.FormatBool(bool(b)) }
func (Bool) isValue()         {}

func (b Bool) Equals(other Value) bool {
	o, ok := other.(Bool)
	return ok && o == b
}

// Bytes is an opaque byte string
type Bytes []byte

func (Bytes) Kind() Kind       { return KindBytes }
func (b Bytes) String() string { return fmt.Sprintf("%x", []byte(b)) }
func (Bytes) isValue()         {}

func (b Bytes) Equals(other Value) bool {
	o, ok := other.(Bytes)
	return ok && bytes.Equal(o, b)
}

// String is a UTF-8 string value
type String string

func (String) Kind() Kind       { return KindString }
func (s String) String() string { return string(s) }
func (String) isValue()         {}

func (s String) Equals(other Value) bool {
	o, ok := other.(String)
	return ok && o == s
}

// Decimal is an arbitrary-precision decimal. Its textual form is kept exactly,
// so "1.50" serializes back as "1.50"; equality compares numeric value.
type Decimal struct {
	d *apd.Decimal
}

// NewDecimal parses a decimal from its textual form.
func NewDecimal(s string) (Decimal, error) {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return Decimal{}, qderr.Valuef("invalid decimal %q: %v", s, err)
	}
	return Decimal{d: d}, nil
}

// DecimalFrom wraps a copy of an apd decimal.
func DecimalFrom(d *apd.Decimal) Decimal {
	return Decimal{d: new(apd.Decimal).Set(d)}
}

// Apd returns a copy of the underlying decimal.
func (d Decimal) Apd() *apd.Decimal {
	if d.d == nil {
		return apd.New(0, 0)
	}
	return new(apd.Decimal).Set(d.d)
}

func (Decimal) Kind() Kind { return KindDecimal }
func (Decimal) isValue()   {}

func (d Decimal) String() string {
	if d.d == nil {
		return "0"
	}
	return d.d.String()
}

func (d Decimal) Equals(other Value) bool {
	o, ok := other.(Decimal)
	if !ok {
		return false
	}
	return d.Apd().Cmp(o.Apd()) == 0
}

// normalized returns the reduced textual form, identical for numerically equal decimals.
func (d Decimal) normalized() string {
	reduced, _ := new(apd.Decimal).Reduce(d.Apd())
	return reduced.String()
}

// DateTime is a point in time with microsecond precision. The offset is
// written with seconds only when it has a seconds part.
type DateTime struct {
	t time.Time
}

// NewDateTime truncates t to microsecond precision.
func NewDateTime(t time.Time) DateTime {
	return DateTime{t: t.Truncate(time.Microsecond)}
}

// Time returns the wrapped time.
func (d DateTime) Time() time.Time { return d.t }

func (DateTime) Kind() Kind       { return KindDateTime }
func (d DateTime) String() string { return formatDateTime(d.t) }
func (DateTime) isValue()         {}

func (d DateTime) Equals(other Value) bool {
	o, ok := other.(DateTime)
	return ok && o.t.Equal(d.t)
}

// None is the null marker
type None struct{}

// Null is the canonical None value.
var Null = None{}

func (None) Kind() Kind     { return KindNone }
func (None) String() string { return "None" }
func (None) isValue()       {}

func (None) Equals(other Value) bool {
	_, ok := other.(None)
	return ok
}
