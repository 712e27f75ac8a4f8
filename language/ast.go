package language

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/jspreddy/dql/types"
)

// Node the AST node type
type Node interface {
	TokenLiteral() string
	String() string
	Pos() int
}

// Expression represents the node type expression
type Expression interface {
	Node
	expressionNode()
}

// Identifier identifier expression node
type Identifier struct {
	Token Token // the token.IDENT token
	Value string
}

func (i *Identifier) expressionNode() {}

// TokenLiteral returns the literal token of the node
func (i *Identifier) TokenLiteral() string { return i.Token.Literal }

// Pos returns the offset of the node
func (i *Identifier) Pos() int { return i.Token.Pos }

func (i *Identifier) String() string { return QuoteIdent(i.Value) }

// NumberLiteral number literal, the value is kept as written
type NumberLiteral struct {
	Token Token
	Value string
}

func (n *NumberLiteral) expressionNode() {}

// TokenLiteral returns the literal token of the node
func (n *NumberLiteral) TokenLiteral() string { return n.Token.Literal }

// Pos returns the offset of the node
func (n *NumberLiteral) Pos() int { return n.Token.Pos }

func (n *NumberLiteral) String() string { return n.Value }

// StringLiteral string literal
type StringLiteral struct {
	Token Token
	Value string
}

func (s *StringLiteral) expressionNode() {}

// TokenLiteral returns the literal token of the node
func (s *StringLiteral) TokenLiteral() string { return s.Token.Literal }

// Pos returns the offset of the node
func (s *StringLiteral) Pos() int { return s.Token.Pos }

func (s *StringLiteral) String() string { return types.Quote(s.Value) }

// BinaryLiteral b'...' literal
type BinaryLiteral struct {
	Token Token
	Value []byte
}

func (b *BinaryLiteral) expressionNode() {}

// TokenLiteral returns the literal token of the node
func (b *BinaryLiteral) TokenLiteral() string { return b.Token.Literal }

// Pos returns the offset of the node
func (b *BinaryLiteral) Pos() int { return b.Token.Pos }

func (b *BinaryLiteral) String() string { return (&types.Binary{Value: b.Value}).Inspect() }

// BooleanLiteral true or false
type BooleanLiteral struct {
	Token Token
	Value bool
}

func (b *BooleanLiteral) expressionNode() {}

// TokenLiteral returns the literal token of the node
func (b *BooleanLiteral) TokenLiteral() string { return b.Token.Literal }

// Pos returns the offset of the node
func (b *BooleanLiteral) Pos() int { return b.Token.Pos }

func (b *BooleanLiteral) String() string {
	if b.Value {
		return "true"
	}

	return "false"
}

// NullLiteral null
type NullLiteral struct {
	Token Token
}

func (n *NullLiteral) expressionNode() {}

// TokenLiteral returns the literal token of the node
func (n *NullLiteral) TokenLiteral() string { return n.Token.Literal }

// Pos returns the offset of the node
func (n *NullLiteral) Pos() int { return n.Token.Pos }

func (n *NullLiteral) String() string { return "null" }

// ListLiteral [a, b]
type ListLiteral struct {
	Token    Token
	Elements []Expression
}

func (l *ListLiteral) expressionNode() {}

// TokenLiteral returns the literal token of the node
func (l *ListLiteral) TokenLiteral() string { return l.Token.Literal }

// Pos returns the offset of the node
func (l *ListLiteral) Pos() int { return l.Token.Pos }

func (l *ListLiteral) String() string {
	return "[" + joinExpressions(l.Elements) + "]"
}

// SetLiteral (a, b), () or (a,)
type SetLiteral struct {
	Token    Token
	Elements []Expression
}

func (s *SetLiteral) expressionNode() {}

// TokenLiteral returns the literal token of the node
func (s *SetLiteral) TokenLiteral() string { return s.Token.Literal }

// Pos returns the offset of the node
func (s *SetLiteral) Pos() int { return s.Token.Pos }

func (s *SetLiteral) String() string {
	if len(s.Elements) == 1 {
		return "(" + s.Elements[0].String() + ",)"
	}

	return "(" + joinExpressions(s.Elements) + ")"
}

// MapLiteral {k: v}
type MapLiteral struct {
	Token  Token
	Keys   []string
	Values []Expression
}

func (m *MapLiteral) expressionNode() {}

// TokenLiteral returns the literal token of the node
func (m *MapLiteral) TokenLiteral() string { return m.Token.Literal }

// Pos returns the offset of the node
func (m *MapLiteral) Pos() int { return m.Token.Pos }

func (m *MapLiteral) String() string {
	var out bytes.Buffer

	out.WriteString("{")

	for i, k := range m.Keys {
		if i > 0 {
			out.WriteString(", ")
		}

		out.WriteString(types.Quote(k))
		out.WriteString(": ")
		out.WriteString(m.Values[i].String())
	}

	out.WriteString("}")

	return out.String()
}

// Star is * in a selection or in count(*)
type Star struct {
	Token Token
}

func (s *Star) expressionNode() {}

// TokenLiteral returns the literal token of the node
func (s *Star) TokenLiteral() string { return s.Token.Literal }

// Pos returns the offset of the node
func (s *Star) Pos() int { return s.Token.Pos }

func (s *Star) String() string { return "*" }

// PrefixExpression prefix operator expression
type PrefixExpression struct {
	Token    Token // The prefix token, e.g. NOT
	Operator string
	Right    Expression
}

func (pe *PrefixExpression) expressionNode() {}

// TokenLiteral returns the literal token of the node
func (pe *PrefixExpression) TokenLiteral() string {
	return pe.Token.Literal
}

// Pos returns the offset of the node
func (pe *PrefixExpression) Pos() int { return pe.Token.Pos }

func (pe *PrefixExpression) String() string {
	var out bytes.Buffer

	out.WriteString("(")
	out.WriteString(pe.Operator)

	if pe.Operator == string(NOT) {
		out.WriteString(" ")
	}

	out.WriteString(pe.Right.String())
	out.WriteString(")")

	return out.String()
}

// InfixExpression infix operator expression
type InfixExpression struct {
	Token    Token // The operator token, e.g. =
	Left     Expression
	Operator string
	Right    Expression
}

func (oe *InfixExpression) expressionNode() {}

// TokenLiteral returns the literal token of the node
func (oe *InfixExpression) TokenLiteral() string {
	return oe.Token.Literal
}

// Pos returns the offset of the node
func (oe *InfixExpression) Pos() int { return oe.Token.Pos }

func (oe *InfixExpression) String() string {
	var out bytes.Buffer

	out.WriteString("(")
	out.WriteString(oe.Left.String())
	out.WriteString(" " + oe.Operator + " ")
	out.WriteString(oe.Right.String())
	out.WriteString(")")

	return out.String()
}

// GroupedExpression keeps explicit parentheses, the builders need them to
// tell "a AND b OR c" from "(a AND b) OR c"
type GroupedExpression struct {
	Token      Token // the '(' token
	Expression Expression
}

func (ge *GroupedExpression) expressionNode() {}

// TokenLiteral returns the literal token of the node
func (ge *GroupedExpression) TokenLiteral() string { return ge.Token.Literal }

// Pos returns the offset of the node
func (ge *GroupedExpression) Pos() int { return ge.Token.Pos }

func (ge *GroupedExpression) String() string {
	switch ge.Expression.(type) {
	case *InfixExpression, *PrefixExpression:
		return ge.Expression.String()
	}

	return "(" + ge.Expression.String() + ")"
}

// CallExpression function call expression
type CallExpression struct {
	Token     Token // The '(' token, or the string token of paren-less calls
	Function  *Identifier
	Arguments []Expression
}

func (ce *CallExpression) expressionNode() {}

// TokenLiteral returns the literal token of the node
func (ce *CallExpression) TokenLiteral() string {
	return ce.Token.Literal
}

// Pos returns the offset of the node
func (ce *CallExpression) Pos() int { return ce.Function.Pos() }

// Name returns the lower case function name
func (ce *CallExpression) Name() string {
	return strings.ToLower(ce.Function.Value)
}

func (ce *CallExpression) String() string {
	return ce.Function.Value + "(" + joinExpressions(ce.Arguments) + ")"
}

// BetweenExpression function between expression
type BetweenExpression struct {
	Token Token // The 'BETWEEN' token
	Left  Expression
	Range [2]Expression
}

func (be *BetweenExpression) expressionNode() {}

// TokenLiteral returns the literal token of the node
func (be *BetweenExpression) TokenLiteral() string {
	return be.Token.Literal
}

// Pos returns the offset of the node
func (be *BetweenExpression) Pos() int { return be.Token.Pos }

func (be *BetweenExpression) String() string {
	var out bytes.Buffer

	out.WriteString(be.Left.String())
	out.WriteString(" BETWEEN ")
	out.WriteString(be.Range[0].String())
	out.WriteString(" AND ")
	out.WriteString(be.Range[1].String())

	return out.String()
}

// InExpression x IN (a, b)
type InExpression struct {
	Token Token // The 'IN' token
	Left  Expression
	Range []Expression
}

func (ie *InExpression) expressionNode() {}

// TokenLiteral returns the literal token of the node
func (ie *InExpression) TokenLiteral() string {
	return ie.Token.Literal
}

// Pos returns the offset of the node
func (ie *InExpression) Pos() int { return ie.Token.Pos }

func (ie *InExpression) String() string {
	return ie.Left.String() + " IN (" + joinExpressions(ie.Range) + ")"
}

// IndexType tells list indexes from map accessors
type IndexType string

const (
	// IndexList foo[1]
	IndexList IndexType = "L"
	// IndexMap foo.bar
	IndexMap IndexType = "M"
)

// IndexExpression foo[1] or foo.bar
type IndexExpression struct {
	Token Token // the '[' or '.' token
	Left  Expression
	Index Expression
	Type  IndexType
}

func (ie *IndexExpression) expressionNode() {}

// TokenLiteral returns the literal token of the node
func (ie *IndexExpression) TokenLiteral() string {
	return ie.Token.Literal
}

// Pos returns the offset of the node
func (ie *IndexExpression) Pos() int { return ie.Left.Pos() }

func (ie *IndexExpression) String() string {
	if ie.Type == IndexMap {
		return ie.Left.String() + "." + ie.Index.String()
	}

	return ie.Left.String() + "[" + ie.Index.String() + "]"
}

func joinExpressions(exps []Expression) string {
	parts := make([]string, 0, len(exps))
	for _, e := range exps {
		parts = append(parts, e.String())
	}

	return strings.Join(parts, ", ")
}

var plainIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var literalWords = map[string]bool{
	"TRUE":  true,
	"FALSE": true,
	"NULL":  true,
}

// QuoteIdent renders a name so the lexer reads it back as the same
// identifier, using backticks when needed
func QuoteIdent(name string) string {
	upper := strings.ToUpper(name)
	if plainIdentifier.MatchString(name) && LookupIdent(name) == IDENT && !literalWords[upper] {
		return name
	}

	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
