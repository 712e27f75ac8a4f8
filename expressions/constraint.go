package expressions

import (
	"bytes"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"

	"github.com/jspreddy/dql/language"
	"github.com/jspreddy/dql/types"
)

// Kind is the node kind of a constraint tree
type Kind int

const (
	// KindOperator field <op> operand
	KindOperator Kind = iota
	// KindBetween field BETWEEN low AND high
	KindBetween
	// KindIn field IN (values)
	KindIn
	// KindFunction begins_with, contains, attribute_exists, attribute_not_exists
	KindFunction
	// KindType attribute_type(field, type)
	KindType
	// KindSize size(field) <op> operand
	KindSize
	// KindInvert NOT child
	KindInvert
	// KindConjunction children joined by AND or OR
	KindConjunction
)

var kindNames = map[Kind]string{
	KindOperator:    "operator",
	KindBetween:     "between",
	KindIn:          "in",
	KindFunction:    "function",
	KindType:        "type",
	KindSize:        "size",
	KindInvert:      "invert",
	KindConjunction: "conjunction",
}

func (k Kind) String() string { return kindNames[k] }

// Constraint is a node of a WHERE tree
type Constraint interface {
	Kind() Kind
	// String renders canonical DQL that parses back to an equal tree
	String() string
	// Condition compiles the node with the native expression builders
	Condition() (expression.ConditionBuilder, error)
	// Match evaluates the node against a record
	Match(env *Environment) bool
	// Fields lists the top level attributes the node reads
	Fields() []string
}

// Operand is a field reference or a literal
type Operand interface {
	String() string
	builder() expression.OperandBuilder
	resolve(env *Environment) (types.Value, bool)
	fields() []string
}

// Field references an attribute
type Field struct {
	Path Path
}

func (f *Field) String() string { return f.Path.String() }

func (f *Field) builder() expression.OperandBuilder { return expression.Name(f.Path.Expr()) }

func (f *Field) resolve(env *Environment) (types.Value, bool) { return env.Get(f.Path) }

func (f *Field) fields() []string { return []string{f.Path.Root()} }

// Literal is a folded constant
type Literal struct {
	Value types.Value
}

func (l *Literal) String() string { return l.Value.Inspect() }

func (l *Literal) builder() expression.OperandBuilder {
	return expression.Value(types.Marshaler(l.Value))
}

func (l *Literal) resolve(*Environment) (types.Value, bool) { return l.Value, true }

func (l *Literal) fields() []string { return nil }

// Operator compares two operands, the left one is a field
type Operator struct {
	Left  Operand
	Op    string
	Right Operand
}

// Kind returns KindOperator
func (o *Operator) Kind() Kind { return KindOperator }

func (o *Operator) String() string {
	return o.Left.String() + " " + o.Op + " " + o.Right.String()
}

// Condition compiles the comparison
func (o *Operator) Condition() (expression.ConditionBuilder, error) {
	return compare(o.Op, o.Left.builder(), o.Right.builder())
}

func compare(op string, left, right expression.OperandBuilder) (expression.ConditionBuilder, error) {
	switch op {
	case "=":
		return expression.Equal(left, right), nil
	case "<>":
		return expression.NotEqual(left, right), nil
	case "<":
		return expression.LessThan(left, right), nil
	case "<=":
		return expression.LessThanEqual(left, right), nil
	case ">":
		return expression.GreaterThan(left, right), nil
	case ">=":
		return expression.GreaterThanEqual(left, right), nil
	}

	return expression.ConditionBuilder{}, types.Validationf("unknown operator %s", op)
}

// Match evaluates the comparison
func (o *Operator) Match(env *Environment) bool {
	left, lok := o.Left.resolve(env)
	right, rok := o.Right.resolve(env)

	return compareValues(o.Op, left, lok, right, rok)
}

func compareValues(op string, left types.Value, lok bool, right types.Value, rok bool) bool {
	present := lok && rok

	switch op {
	case "=":
		return present && types.Equal(left, right)
	case "<>":
		return !present || !types.Equal(left, right)
	}

	if !present {
		return false
	}

	c, ok := types.Compare(left, right)
	if !ok {
		return false
	}

	switch op {
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	}

	return false
}

// Fields lists the attributes of both operands
func (o *Operator) Fields() []string {
	return append(o.Left.fields(), o.Right.fields()...)
}

// Between is field BETWEEN low AND high
type Between struct {
	Field Path
	Low   Operand
	High  Operand
}

// Kind returns KindBetween
func (b *Between) Kind() Kind { return KindBetween }

func (b *Between) String() string {
	return b.Field.String() + " BETWEEN " + b.Low.String() + " AND " + b.High.String()
}

// Condition compiles the range check
func (b *Between) Condition() (expression.ConditionBuilder, error) {
	return expression.Between(expression.Name(b.Field.Expr()), b.Low.builder(), b.High.builder()), nil
}

// Match evaluates the range check, bounds included
func (b *Between) Match(env *Environment) bool {
	v, ok := env.Get(b.Field)
	if !ok {
		return false
	}

	low, lok := b.Low.resolve(env)
	high, hok := b.High.resolve(env)

	return compareValues(">=", v, true, low, lok) && compareValues("<=", v, true, high, hok)
}

// Fields lists the attributes of the node
func (b *Between) Fields() []string {
	out := append([]string{b.Field.Root()}, b.Low.fields()...)

	return append(out, b.High.fields()...)
}

// In is field IN (values)
type In struct {
	Field  Path
	Values []Operand
}

// Kind returns KindIn
func (in *In) Kind() Kind { return KindIn }

func (in *In) String() string {
	parts := make([]string, 0, len(in.Values))
	for _, v := range in.Values {
		parts = append(parts, v.String())
	}

	return in.Field.String() + " IN (" + strings.Join(parts, ", ") + ")"
}

// Condition compiles the membership check
func (in *In) Condition() (expression.ConditionBuilder, error) {
	rest := make([]expression.OperandBuilder, 0, len(in.Values)-1)
	for _, v := range in.Values[1:] {
		rest = append(rest, v.builder())
	}

	return expression.In(expression.Name(in.Field.Expr()), in.Values[0].builder(), rest...), nil
}

// Match evaluates the membership check
func (in *In) Match(env *Environment) bool {
	v, ok := env.Get(in.Field)
	if !ok {
		return false
	}

	for _, operand := range in.Values {
		candidate, ok := operand.resolve(env)
		if ok && types.Equal(v, candidate) {
			return true
		}
	}

	return false
}

// Fields lists the attributes of the node
func (in *In) Fields() []string {
	out := []string{in.Field.Root()}
	for _, v := range in.Values {
		out = append(out, v.fields()...)
	}

	return out
}

// Function names
const (
	FunctionBeginsWith         = "begins_with"
	FunctionContains           = "contains"
	FunctionAttributeExists    = "attribute_exists"
	FunctionAttributeNotExists = "attribute_not_exists"
)

// Function is one of the boolean functions; Operand is nil for the
// attribute existence checks
type Function struct {
	Name    string
	Field   Path
	Operand Operand
}

// Kind returns KindFunction
func (f *Function) Kind() Kind { return KindFunction }

func (f *Function) String() string {
	if f.Operand == nil {
		return f.Name + "(" + f.Field.String() + ")"
	}

	return f.Name + "(" + f.Field.String() + ", " + f.Operand.String() + ")"
}

// StringOperand returns the operand when it is a string literal
func (f *Function) StringOperand() (string, bool) {
	lit, ok := f.Operand.(*Literal)
	if !ok {
		return "", false
	}

	s, ok := lit.Value.(*types.String)
	if !ok {
		return "", false
	}

	return s.Value, true
}

// Condition compiles the function. begins_with and contains only compile
// with a string operand.
func (f *Function) Condition() (expression.ConditionBuilder, error) {
	name := expression.Name(f.Field.Expr())

	switch f.Name {
	case FunctionAttributeExists:
		return expression.AttributeExists(name), nil
	case FunctionAttributeNotExists:
		return expression.AttributeNotExists(name), nil
	}

	s, ok := f.StringOperand()
	if !ok {
		return expression.ConditionBuilder{}, types.Validationf("%s cannot be sent to DynamoDB", f.String())
	}

	if f.Name == FunctionBeginsWith {
		return expression.BeginsWith(name, s), nil
	}

	return expression.Contains(name, s), nil
}

// Match evaluates the function
func (f *Function) Match(env *Environment) bool {
	v, ok := env.Get(f.Field)

	switch f.Name {
	case FunctionAttributeExists:
		return ok
	case FunctionAttributeNotExists:
		return !ok
	}

	if !ok {
		return false
	}

	operand, ok := f.Operand.resolve(env)
	if !ok {
		return false
	}

	if f.Name == FunctionBeginsWith {
		return beginsWith(v, operand)
	}

	return contains(v, operand)
}

func beginsWith(v, prefix types.Value) bool {
	switch s := v.(type) {
	case *types.String:
		p, ok := prefix.(*types.String)

		return ok && strings.HasPrefix(s.Value, p.Value)
	case *types.Binary:
		p, ok := prefix.(*types.Binary)

		return ok && bytes.HasPrefix(s.Value, p.Value)
	}

	return false
}

func contains(v, operand types.Value) bool {
	switch c := v.(type) {
	case *types.String:
		s, ok := operand.(*types.String)

		return ok && strings.Contains(c.Value, s.Value)
	case *types.Binary:
		b, ok := operand.(*types.Binary)

		return ok && bytes.Contains(c.Value, b.Value)
	case *types.StringSet:
		s, ok := operand.(*types.String)

		return ok && c.Contains(s.Value)
	case *types.NumberSet:
		n, ok := operand.(*types.Number)
		if !ok {
			return false
		}

		for _, text := range c.Value {
			if types.Equal(&types.Number{Text: text}, n) {
				return true
			}
		}
	case *types.BinarySet:
		b, ok := operand.(*types.Binary)
		if !ok {
			return false
		}

		for _, elem := range c.Value {
			if bytes.Equal(elem, b.Value) {
				return true
			}
		}
	case *types.List:
		for _, elem := range c.Value {
			if types.Equal(elem, operand) {
				return true
			}
		}
	}

	return false
}

// Fields lists the attributes of the node
func (f *Function) Fields() []string {
	out := []string{f.Field.Root()}
	if f.Operand != nil {
		out = append(out, f.Operand.fields()...)
	}

	return out
}

// Type is attribute_type(field, type)
type Type struct {
	Field Path
	Type  types.ValueType
}

// Kind returns KindType
func (t *Type) Kind() Kind { return KindType }

func (t *Type) String() string {
	return "attribute_type(" + t.Field.String() + ", " + types.Quote(string(t.Type)) + ")"
}

// Condition compiles the type check
func (t *Type) Condition() (expression.ConditionBuilder, error) {
	return expression.AttributeType(expression.Name(t.Field.Expr()), expression.DynamoDBAttributeType(t.Type)), nil
}

// Match evaluates the type check
func (t *Type) Match(env *Environment) bool {
	v, ok := env.Get(t.Field)

	return ok && v.Type() == t.Type
}

// Fields lists the attributes of the node
func (t *Type) Fields() []string { return []string{t.Field.Root()} }

// Size is size(field) <op> operand
type Size struct {
	Field Path
	Op    string
	Value Operand
}

// Kind returns KindSize
func (s *Size) Kind() Kind { return KindSize }

func (s *Size) String() string {
	return "size(" + s.Field.String() + ") " + s.Op + " " + s.Value.String()
}

// Condition compiles the size comparison
func (s *Size) Condition() (expression.ConditionBuilder, error) {
	return compare(s.Op, expression.Name(s.Field.Expr()).Size(), s.Value.builder())
}

// Match evaluates the size comparison
func (s *Size) Match(env *Environment) bool {
	v, ok := env.Get(s.Field)
	if !ok {
		return false
	}

	n, ok := sizeOf(v)
	if !ok {
		return false
	}

	right, rok := s.Value.resolve(env)

	return compareValues(s.Op, types.NewInteger(int64(n)), true, right, rok)
}

func sizeOf(v types.Value) (int, bool) {
	switch x := v.(type) {
	case *types.String:
		return len(x.Value), true
	case *types.Binary:
		return len(x.Value), true
	case *types.StringSet:
		return len(x.Value), true
	case *types.NumberSet:
		return len(x.Value), true
	case *types.BinarySet:
		return len(x.Value), true
	case *types.List:
		return len(x.Value), true
	case *types.Map:
		return len(x.Value), true
	}

	return 0, false
}

// Fields lists the attributes of the node
func (s *Size) Fields() []string {
	return append([]string{s.Field.Root()}, s.Value.fields()...)
}

// Invert is NOT child
type Invert struct {
	Child Constraint
}

// Kind returns KindInvert
func (i *Invert) Kind() Kind { return KindInvert }

func (i *Invert) String() string {
	if i.Child.Kind() == KindConjunction {
		return "NOT (" + i.Child.String() + ")"
	}

	return "NOT " + i.Child.String()
}

// Condition compiles the negation
func (i *Invert) Condition() (expression.ConditionBuilder, error) {
	child, err := i.Child.Condition()
	if err != nil {
		return expression.ConditionBuilder{}, err
	}

	return expression.Not(child), nil
}

// Match evaluates the negation
func (i *Invert) Match(env *Environment) bool { return !i.Child.Match(env) }

// Fields lists the attributes of the child
func (i *Invert) Fields() []string { return i.Child.Fields() }

// Conjunction joins two or more children with one boolean operator
type Conjunction struct {
	And      bool
	Children []Constraint
}

// Kind returns KindConjunction
func (c *Conjunction) Kind() Kind { return KindConjunction }

func (c *Conjunction) operator() string {
	if c.And {
		return " AND "
	}

	return " OR "
}

func (c *Conjunction) String() string {
	parts := make([]string, 0, len(c.Children))

	for _, child := range c.Children {
		if child.Kind() == KindConjunction {
			parts = append(parts, "("+child.String()+")")

			continue
		}

		parts = append(parts, child.String())
	}

	return strings.Join(parts, c.operator())
}

// Condition compiles the conjunction
func (c *Conjunction) Condition() (expression.ConditionBuilder, error) {
	conditions := make([]expression.ConditionBuilder, 0, len(c.Children))

	for _, child := range c.Children {
		cond, err := child.Condition()
		if err != nil {
			return expression.ConditionBuilder{}, err
		}

		conditions = append(conditions, cond)
	}

	if c.And {
		return expression.And(conditions[0], conditions[1], conditions[2:]...), nil
	}

	return expression.Or(conditions[0], conditions[1], conditions[2:]...), nil
}

// Match evaluates the conjunction
func (c *Conjunction) Match(env *Environment) bool {
	for _, child := range c.Children {
		if child.Match(env) != c.And {
			return !c.And
		}
	}

	return c.And
}

// Fields lists the attributes of every child
func (c *Conjunction) Fields() []string {
	var out []string
	for _, child := range c.Children {
		out = append(out, child.Fields()...)
	}

	return out
}

// Join builds the conjunction of the constraints: nil for none, the
// constraint itself for one
func Join(and bool, children []Constraint) Constraint {
	var flat []Constraint

	for _, child := range children {
		if c, ok := child.(*Conjunction); ok && c.And == and {
			flat = append(flat, c.Children...)

			continue
		}

		flat = append(flat, child)
	}

	switch len(flat) {
	case 0:
		return nil
	case 1:
		return flat[0]
	}

	return &Conjunction{And: and, Children: flat}
}

// Conjuncts splits a top level AND into its children
func Conjuncts(c Constraint) []Constraint {
	if c == nil {
		return nil
	}

	if conj, ok := c.(*Conjunction); ok && conj.And {
		return append([]Constraint(nil), conj.Children...)
	}

	return []Constraint{c}
}

// UniqueFields returns the attributes of the constraint without duplicates
func UniqueFields(c Constraint) []string {
	if c == nil {
		return nil
	}

	seen := map[string]bool{}

	var out []string

	for _, f := range c.Fields() {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}

	return out
}

// NewConstraint builds a constraint tree from a parsed WHERE expression,
// folding literals with fc
func NewConstraint(exp language.Expression, fc *FoldContext) (Constraint, error) {
	b := &constraintBuilder{fc: fc}

	return b.build(exp)
}

type constraintBuilder struct {
	fc *FoldContext
}

func isLogical(op string) bool {
	return op == "AND" || op == "OR"
}

func (b *constraintBuilder) build(exp language.Expression) (Constraint, error) {
	switch e := exp.(type) {
	case *language.GroupedExpression:
		return b.build(e.Expression)
	case *language.InfixExpression:
		if isLogical(e.Operator) {
			return b.conjunction(e)
		}

		return b.comparison(e)
	case *language.PrefixExpression:
		if e.Operator != "NOT" {
			break
		}

		child, err := b.build(e.Right)
		if err != nil {
			return nil, err
		}

		return &Invert{Child: child}, nil
	case *language.BetweenExpression:
		return b.between(e)
	case *language.InExpression:
		return b.in(e)
	case *language.CallExpression:
		return b.function(e)
	}

	return nil, types.Validationf("%s is not a condition", exp.String())
}

func (b *constraintBuilder) conjunction(e *language.InfixExpression) (Constraint, error) {
	and := e.Operator == "AND"

	var children []Constraint

	var collect func(exp language.Expression) error

	collect = func(exp language.Expression) error {
		if infix, ok := exp.(*language.InfixExpression); ok && isLogical(infix.Operator) {
			if infix.Operator != e.Operator {
				return types.Validationf("AND and OR cannot be mixed without parentheses: %s", e.String())
			}

			if err := collect(infix.Left); err != nil {
				return err
			}

			return collect(infix.Right)
		}

		child, err := b.build(exp)
		if err != nil {
			return err
		}

		children = append(children, child)

		return nil
	}

	if err := collect(e); err != nil {
		return nil, err
	}

	return Join(and, children), nil
}

var flipped = map[string]string{
	"=":  "=",
	"<>": "<>",
	"<":  ">",
	"<=": ">=",
	">":  "<",
	">=": "<=",
}

func sizeArgument(exp language.Expression) (Path, bool) {
	call, ok := unwrap(exp).(*language.CallExpression)
	if !ok || call.Name() != "size" || len(call.Arguments) != 1 {
		return nil, false
	}

	return PathFrom(call.Arguments[0])
}

func unwrap(exp language.Expression) language.Expression {
	for {
		g, ok := exp.(*language.GroupedExpression)
		if !ok {
			return exp
		}

		exp = g.Expression
	}
}

func (b *constraintBuilder) comparison(e *language.InfixExpression) (Constraint, error) {
	if _, ok := flipped[e.Operator]; !ok {
		return nil, types.Validationf("%s is not a condition", e.String())
	}

	op := e.Operator
	left, right := e.Left, e.Right

	if _, ok := sizeArgument(right); ok {
		if _, ok := sizeArgument(left); !ok {
			left, right, op = right, left, flipped[op]
		}
	}

	if path, ok := sizeArgument(left); ok {
		value, err := b.operand(right)
		if err != nil {
			return nil, err
		}

		return &Size{Field: path, Op: op, Value: value}, nil
	}

	lo, err := b.operand(left)
	if err != nil {
		return nil, err
	}

	ro, err := b.operand(right)
	if err != nil {
		return nil, err
	}

	_, leftLiteral := lo.(*Literal)
	_, rightLiteral := ro.(*Literal)

	switch {
	case leftLiteral && rightLiteral:
		return nil, types.Validationf("%s compares two constants", e.String())
	case leftLiteral:
		lo, ro, op = ro, lo, flipped[op]
	}

	return &Operator{Left: lo, Op: op, Right: ro}, nil
}

func (b *constraintBuilder) operand(exp language.Expression) (Operand, error) {
	if path, ok := PathFrom(exp); ok {
		return &Field{Path: path}, nil
	}

	if !IsConstant(exp) {
		return nil, types.Validationf("%s is neither an attribute nor a constant", exp.String())
	}

	v, err := b.fc.Fold(exp)
	if err != nil {
		return nil, err
	}

	return &Literal{Value: v}, nil
}

func (b *constraintBuilder) field(exp language.Expression) (Path, error) {
	path, ok := PathFrom(exp)
	if !ok {
		return nil, types.Validationf("%s is not an attribute", exp.String())
	}

	return path, nil
}

func (b *constraintBuilder) between(e *language.BetweenExpression) (Constraint, error) {
	path, err := b.field(e.Left)
	if err != nil {
		return nil, err
	}

	low, err := b.operand(e.Range[0])
	if err != nil {
		return nil, err
	}

	high, err := b.operand(e.Range[1])
	if err != nil {
		return nil, err
	}

	return &Between{Field: path, Low: low, High: high}, nil
}

func (b *constraintBuilder) in(e *language.InExpression) (Constraint, error) {
	path, err := b.field(e.Left)
	if err != nil {
		return nil, err
	}

	in := &In{Field: path}

	for _, exp := range e.Range {
		v, err := b.operand(exp)
		if err != nil {
			return nil, err
		}

		in.Values = append(in.Values, v)
	}

	return in, nil
}

func (b *constraintBuilder) function(e *language.CallExpression) (Constraint, error) {
	name := e.Name()

	arity := map[string]int{
		FunctionAttributeExists:    1,
		FunctionAttributeNotExists: 1,
		FunctionBeginsWith:         2,
		FunctionContains:           2,
		"attribute_type":           2,
	}

	want, ok := arity[name]
	if !ok {
		return nil, types.Validationf("unknown condition function %s", e.Function.Value)
	}

	if len(e.Arguments) != want {
		return nil, types.Validationf("%s takes %d arguments", name, want)
	}

	path, err := b.field(e.Arguments[0])
	if err != nil {
		return nil, err
	}

	if name == "attribute_type" {
		typ, err := b.typeCode(e.Arguments[1])
		if err != nil {
			return nil, err
		}

		return &Type{Field: path, Type: typ}, nil
	}

	fn := &Function{Name: name, Field: path}

	if want == 2 {
		fn.Operand, err = b.operand(e.Arguments[1])
		if err != nil {
			return nil, err
		}
	}

	return fn, nil
}

// typeCode reads the type of attribute_type, written bare (N, SS, NULL) or
// as a string ('N')
func (b *constraintBuilder) typeCode(exp language.Expression) (types.ValueType, error) {
	switch e := exp.(type) {
	case *language.Identifier:
		if typ, ok := types.LookupValueType(e.Value); ok {
			return typ, nil
		}
	case *language.NullLiteral:
		return types.ValueTypeNull, nil
	}

	v, err := b.fc.Fold(exp)
	if err != nil {
		return "", err
	}

	s, ok := v.(*types.String)
	if !ok {
		return "", types.Validationf("attribute_type needs a type name, got %s", v.Inspect())
	}

	typ, ok := types.LookupValueType(strings.ToUpper(s.Value))
	if !ok {
		return "", types.Validationf("unknown attribute type %s", s.Value)
	}

	return typ, nil
}

// Capabilities decides per node kind whether a constraint can be sent to
// the backend as a filter or condition expression
type Capabilities map[Kind]func(Constraint) bool

func always(Constraint) bool { return true }

// DefaultCapabilities pushes everything down except begins_with and contains
// on non string operands
func DefaultCapabilities() Capabilities {
	return Capabilities{
		KindOperator: always,
		KindBetween:  always,
		KindIn:       always,
		KindType:     always,
		KindSize:     always,
		KindInvert:   always,
		KindFunction: func(c Constraint) bool {
			f := c.(*Function)
			if f.Operand == nil {
				return true
			}

			_, ok := f.StringOperand()

			return ok
		},
		KindConjunction: always,
	}
}

// Pushable reports whether the whole tree can run on the backend
func (caps Capabilities) Pushable(c Constraint) bool {
	fn, ok := caps[c.Kind()]
	if !ok || !fn(c) {
		return false
	}

	switch n := c.(type) {
	case *Invert:
		return caps.Pushable(n.Child)
	case *Conjunction:
		for _, child := range n.Children {
			if !caps.Pushable(child) {
				return false
			}
		}
	}

	return true
}
