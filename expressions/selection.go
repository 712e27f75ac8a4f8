package expressions

import (
	"github.com/jspreddy/dql/language"
	"github.com/jspreddy/dql/types"
)

// Column is one projected term of a selection
type Column struct {
	Name       string
	Expression language.Expression
	paths      []Path
}

// Selection is the projection of a SELECT or SCAN. A nil *Selection
// selects whole items.
type Selection struct {
	Columns []*Column
	fc      *FoldContext
}

// NewSelection validates projected expressions. Every term has to be an
// attribute, a constant or arithmetic and time functions over them.
func NewSelection(items []*language.SelectionItem, fc *FoldContext) (*Selection, error) {
	if len(items) == 0 {
		return nil, nil
	}

	s := &Selection{fc: fc}
	seen := map[string]bool{}

	for _, item := range items {
		paths, err := collectPaths(item.Expression)
		if err != nil {
			return nil, err
		}

		name := item.Alias
		if name == "" {
			name = columnName(item.Expression)
		}

		if seen[name] {
			return nil, types.Validationf("column %s is selected twice", name)
		}

		seen[name] = true

		s.Columns = append(s.Columns, &Column{Name: name, Expression: item.Expression, paths: paths})
	}

	return s, nil
}

func columnName(exp language.Expression) string {
	if path, ok := PathFrom(exp); ok {
		return path.Expr()
	}

	name := exp.String()

	if _, ok := exp.(*language.InfixExpression); ok && len(name) > 1 {
		return name[1 : len(name)-1]
	}

	return name
}

func collectPaths(exp language.Expression) ([]Path, error) {
	if path, ok := PathFrom(exp); ok {
		return []Path{path}, nil
	}

	var children []language.Expression

	switch e := exp.(type) {
	case *language.GroupedExpression:
		children = []language.Expression{e.Expression}
	case *language.InfixExpression:
		switch e.Operator {
		case "+", "-", "*", "/":
		default:
			return nil, types.Validationf("operator %s is not allowed in a selection", e.Operator)
		}

		children = []language.Expression{e.Left, e.Right}
	case *language.PrefixExpression:
		if e.Operator != "-" {
			return nil, types.Validationf("operator %s is not allowed in a selection", e.Operator)
		}

		children = []language.Expression{e.Right}
	case *language.CallExpression:
		if _, ok := temporalFunctions[e.Name()]; !ok {
			return nil, types.Validationf("unknown function %s in a selection", e.Function.Value)
		}

		children = e.Arguments
	case *language.ListLiteral:
		children = e.Elements
	case *language.SetLiteral:
		children = e.Elements
	case *language.MapLiteral:
		children = e.Values
	case *language.Star:
		return nil, types.Validationf("* cannot be combined with other columns")
	case *language.IndexExpression:
		return nil, types.Validationf("%s is not a valid attribute path", e.String())
	}

	var out []Path

	for _, child := range children {
		paths, err := collectPaths(child)
		if err != nil {
			return nil, err
		}

		out = append(out, paths...)
	}

	return out, nil
}

// Names returns the top level attributes needed to evaluate the selection
func (s *Selection) Names() []string {
	if s == nil {
		return nil
	}

	seen := map[string]bool{}

	var out []string

	for _, c := range s.Columns {
		for _, p := range c.paths {
			if !seen[p.Root()] {
				seen[p.Root()] = true
				out = append(out, p.Root())
			}
		}
	}

	return out
}

// Eval projects a record. Columns that read a missing attribute are left
// out of the result.
func (s *Selection) Eval(env *Environment) (types.Record, error) {
	if s == nil {
		return env.Record, nil
	}

	out := types.Record{}

	for _, c := range s.Columns {
		if !present(env, c.paths) {
			continue
		}

		v, err := s.fc.eval(c.Expression, env)
		if err != nil {
			return nil, err
		}

		rendered, err := s.fc.render(v)
		if err != nil {
			return nil, err
		}

		out[c.Name] = rendered
	}

	return out, nil
}

func present(env *Environment, paths []Path) bool {
	for _, p := range paths {
		if _, ok := env.Get(p); !ok {
			return false
		}
	}

	return true
}

func (s *Selection) String() string {
	if s == nil {
		return "*"
	}

	out := ""

	for i, c := range s.Columns {
		if i > 0 {
			out += ", "
		}

		out += c.Expression.String()
		if c.Name != columnName(c.Expression) {
			out += " AS " + language.QuoteIdent(c.Name)
		}
	}

	return out
}
