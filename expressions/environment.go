// Package expressions compiles parsed WHERE, SET and projection expressions
// into constraint, update and selection trees. Every tree renders back to
// canonical DQL, compiles to the native DynamoDB expression builders and
// evaluates locally against a record.
package expressions

import (
	"bytes"
	"strconv"

	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jspreddy/dql/language"
	"github.com/jspreddy/dql/types"
)

// PathElement is a map key or a list index
type PathElement struct {
	Name    string
	Index   int
	IsIndex bool
}

// Path is an attribute path such as foo.bar[2]. The first element is always
// a name.
type Path []PathElement

// Root returns the top level attribute name
func (p Path) Root() string {
	return p[0].Name
}

func (p Path) String() string {
	var out bytes.Buffer

	for i, e := range p {
		switch {
		case e.IsIndex:
			out.WriteString("[" + strconv.Itoa(e.Index) + "]")
		case i > 0:
			out.WriteString("." + language.QuoteIdent(e.Name))
		default:
			out.WriteString(language.QuoteIdent(e.Name))
		}
	}

	return out.String()
}

// Expr renders the path in the notation expression.Name splits on
func (p Path) Expr() string {
	var out bytes.Buffer

	for i, e := range p {
		switch {
		case e.IsIndex:
			out.WriteString("[" + strconv.Itoa(e.Index) + "]")
		case i > 0:
			out.WriteString("." + e.Name)
		default:
			out.WriteString(e.Name)
		}
	}

	return out.String()
}

// IsRoot reports whether the path is a plain top level attribute
func (p Path) IsRoot() bool {
	return len(p) == 1
}

// PathFrom converts an identifier or index expression into a path
func PathFrom(exp language.Expression) (Path, bool) {
	switch e := exp.(type) {
	case *language.Identifier:
		return Path{{Name: e.Value}}, true
	case *language.IndexExpression:
		parent, ok := PathFrom(e.Left)
		if !ok {
			return nil, false
		}

		if e.Type == language.IndexMap {
			ident, ok := e.Index.(*language.Identifier)
			if !ok {
				return nil, false
			}

			return append(parent, PathElement{Name: ident.Value}), true
		}

		num, ok := e.Index.(*language.NumberLiteral)
		if !ok {
			return nil, false
		}

		i, err := strconv.Atoi(num.Value)
		if err != nil || i < 0 {
			return nil, false
		}

		return append(parent, PathElement{Index: i, IsIndex: true}), true
	case *language.GroupedExpression:
		return PathFrom(e.Expression)
	}

	return nil, false
}

// Environment is the record a local evaluation runs against
type Environment struct {
	Record types.Record
}

// NewEnvironment creates an environment over a record
func NewEnvironment(record types.Record) *Environment {
	if record == nil {
		record = types.Record{}
	}

	return &Environment{Record: record}
}

// NewItemEnvironment decodes a dynamodb item into an environment
func NewItemEnvironment(item map[string]ddbtypes.AttributeValue) (*Environment, error) {
	record, err := types.FromItem(item)
	if err != nil {
		return nil, err
	}

	return NewEnvironment(record), nil
}

// Get resolves a path, the boolean is false when the attribute is missing
func (e *Environment) Get(p Path) (types.Value, bool) {
	value, ok := e.Record[p.Root()]
	if !ok {
		return nil, false
	}

	for _, elem := range p[1:] {
		value, ok = child(value, elem)
		if !ok {
			return nil, false
		}
	}

	return value, true
}

func child(value types.Value, elem PathElement) (types.Value, bool) {
	if elem.IsIndex {
		l, ok := value.(*types.List)
		if !ok || elem.Index >= len(l.Value) {
			return nil, false
		}

		return l.Value[elem.Index], true
	}

	m, ok := value.(*types.Map)
	if !ok {
		return nil, false
	}

	v, ok := m.Value[elem.Name]

	return v, ok
}

// Set assigns a value at the path, creating nothing on the way: the parent
// of a nested path has to exist already
func (e *Environment) Set(p Path, value types.Value) bool {
	if p.IsRoot() {
		e.Record[p.Root()] = value

		return true
	}

	parent, ok := e.Get(p[:len(p)-1])
	if !ok {
		return false
	}

	last := p[len(p)-1]

	switch container := parent.(type) {
	case *types.Map:
		if last.IsIndex {
			return false
		}

		container.Value[last.Name] = value

		return true
	case *types.List:
		if !last.IsIndex {
			return false
		}

		if last.Index >= len(container.Value) {
			container.Value = append(container.Value, value)

			return true
		}

		container.Value[last.Index] = value

		return true
	}

	return false
}

// Remove deletes the value at the path
func (e *Environment) Remove(p Path) {
	if p.IsRoot() {
		delete(e.Record, p.Root())

		return
	}

	parent, ok := e.Get(p[:len(p)-1])
	if !ok {
		return
	}

	last := p[len(p)-1]

	switch container := parent.(type) {
	case *types.Map:
		delete(container.Value, last.Name)
	case *types.List:
		if last.IsIndex && last.Index < len(container.Value) {
			container.Value = append(container.Value[:last.Index], container.Value[last.Index+1:]...)
		}
	}
}
