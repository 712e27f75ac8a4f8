package expressions

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jspreddy/dql/language"
	"github.com/jspreddy/dql/types"
)

// Arithmetic is left + right or left - right inside a SET action
type Arithmetic struct {
	Left  Operand
	Op    string
	Right Operand
}

func (a *Arithmetic) String() string {
	return a.Left.String() + " " + a.Op + " " + a.Right.String()
}

func (a *Arithmetic) builder() expression.OperandBuilder {
	if a.Op == "-" {
		return expression.Minus(a.Left.builder(), a.Right.builder())
	}

	return expression.Plus(a.Left.builder(), a.Right.builder())
}

func (a *Arithmetic) resolve(env *Environment) (types.Value, bool) {
	v, err := evaluate(a, env)

	return v, err == nil
}

func (a *Arithmetic) fields() []string {
	return append(a.Left.fields(), a.Right.fields()...)
}

// IfNotExists is if_not_exists(path, value)
type IfNotExists struct {
	Field Path
	Value Operand
}

func (f *IfNotExists) String() string {
	return "if_not_exists(" + f.Field.String() + ", " + f.Value.String() + ")"
}

func (f *IfNotExists) builder() expression.OperandBuilder {
	return expression.IfNotExists(expression.Name(f.Field.Expr()), f.Value.builder())
}

func (f *IfNotExists) resolve(env *Environment) (types.Value, bool) {
	v, err := evaluate(f, env)

	return v, err == nil
}

func (f *IfNotExists) fields() []string {
	return append([]string{f.Field.Root()}, f.Value.fields()...)
}

// ListAppend is list_append(left, right)
type ListAppend struct {
	Left  Operand
	Right Operand
}

func (l *ListAppend) String() string {
	return "list_append(" + l.Left.String() + ", " + l.Right.String() + ")"
}

func (l *ListAppend) builder() expression.OperandBuilder {
	return expression.ListAppend(l.Left.builder(), l.Right.builder())
}

func (l *ListAppend) resolve(env *Environment) (types.Value, bool) {
	v, err := evaluate(l, env)

	return v, err == nil
}

func (l *ListAppend) fields() []string {
	return append(l.Left.fields(), l.Right.fields()...)
}

func errMissing(p Path) error {
	return types.Validationf("the update refers to %s, which does not exist in the item", p.String())
}

// evaluate computes a SET operand against the current item
func evaluate(op Operand, env *Environment) (types.Value, error) {
	switch o := op.(type) {
	case *Literal:
		return o.Value, nil
	case *Field:
		v, ok := env.Get(o.Path)
		if !ok {
			return nil, errMissing(o.Path)
		}

		return v, nil
	case *Arithmetic:
		left, err := evaluate(o.Left, env)
		if err != nil {
			return nil, err
		}

		right, err := evaluate(o.Right, env)
		if err != nil {
			return nil, err
		}

		l, lok := left.(*types.Number)
		r, rok := right.(*types.Number)

		if !lok || !rok {
			return nil, types.Validationf("%s needs two numbers, got %s and %s", o.String(), left.Type(), right.Type())
		}

		v, err := arithmetic(o.Op, l, r)
		if err != nil {
			return nil, err
		}

		return v.(*types.Number), nil
	case *IfNotExists:
		if v, ok := env.Get(o.Field); ok {
			return v, nil
		}

		return evaluate(o.Value, env)
	case *ListAppend:
		left, err := evaluate(o.Left, env)
		if err != nil {
			return nil, err
		}

		right, err := evaluate(o.Right, env)
		if err != nil {
			return nil, err
		}

		l, lok := left.(*types.List)
		r, rok := right.(*types.List)

		if !lok || !rok {
			return nil, types.Validationf("list_append needs two lists, got %s and %s", left.Type(), right.Type())
		}

		out := make([]types.Value, 0, len(l.Value)+len(r.Value))
		out = append(out, l.Value...)

		return &types.List{Value: append(out, r.Value...)}, nil
	}

	return nil, types.Validationf("cannot evaluate %s", op.String())
}

// SetAction is path = value
type SetAction struct {
	Path  Path
	Value Operand
}

// ValueAction is an ADD or DELETE of a constant
type ValueAction struct {
	Path  Path
	Value types.Value
}

// Update is a parsed update expression grouped by verb
type Update struct {
	Set    []*SetAction
	Remove []Path
	Add    []*ValueAction
	Delete []*ValueAction
}

// NewUpdate builds an update from parsed clauses. Constant values are
// folded with fc.
func NewUpdate(clauses []*language.UpdateClause, fc *FoldContext) (*Update, error) {
	u := &Update{}
	seen := map[string]bool{}

	for _, clause := range clauses {
		for _, action := range clause.Actions {
			path, ok := PathFrom(action.Path)
			if !ok {
				return nil, types.Validationf("%s is not an attribute", action.Path.String())
			}

			key := path.String()
			if seen[key] {
				return nil, types.Validationf("%s is updated twice", key)
			}

			seen[key] = true

			if err := u.add(clause.Verb, path, action.Value, fc); err != nil {
				return nil, err
			}
		}
	}

	return u, nil
}

func (u *Update) add(verb string, path Path, value language.Expression, fc *FoldContext) error {
	switch verb {
	case language.VerbSet:
		operand, err := setOperand(value, fc, true)
		if err != nil {
			return err
		}

		u.Set = append(u.Set, &SetAction{Path: path, Value: operand})
	case language.VerbRemove:
		u.Remove = append(u.Remove, path)
	case language.VerbAdd:
		// operand types are checked by the backend
		v, err := fc.Fold(value)
		if err != nil {
			return err
		}

		u.Add = append(u.Add, &ValueAction{Path: path, Value: v})
	case language.VerbDelete:
		v, err := fc.Fold(value)
		if err != nil {
			return err
		}

		u.Delete = append(u.Delete, &ValueAction{Path: path, Value: v})
	default:
		return types.Validationf("unknown update verb %s", verb)
	}

	return nil
}

func isSet(v types.Value) bool {
	switch v.(type) {
	case *types.StringSet, *types.NumberSet, *types.BinarySet:
		return true
	}

	return false
}

// setOperand converts the right side of a SET action. Arithmetic is only
// allowed at the top level.
func setOperand(exp language.Expression, fc *FoldContext, top bool) (Operand, error) {
	if IsConstant(exp) {
		v, err := fc.Fold(exp)
		if err != nil {
			return nil, err
		}

		return &Literal{Value: v}, nil
	}

	if path, ok := PathFrom(exp); ok {
		return &Field{Path: path}, nil
	}

	switch e := unwrap(exp).(type) {
	case *language.InfixExpression:
		if e.Operator != "+" && e.Operator != "-" {
			return nil, types.Validationf("operator %s is not allowed in SET", e.Operator)
		}

		if !top {
			return nil, types.Validationf("%s nests arithmetic, SET allows a single + or -", e.String())
		}

		left, err := setOperand(e.Left, fc, false)
		if err != nil {
			return nil, err
		}

		right, err := setOperand(e.Right, fc, false)
		if err != nil {
			return nil, err
		}

		return &Arithmetic{Left: left, Op: e.Operator, Right: right}, nil
	case *language.CallExpression:
		return setFunction(e, fc)
	}

	return nil, types.Validationf("%s is not a valid SET value", exp.String())
}

func setFunction(e *language.CallExpression, fc *FoldContext) (Operand, error) {
	name := e.Name()
	if name != "if_not_exists" && name != "list_append" {
		return nil, types.Validationf("unknown function %s in SET", e.Function.Value)
	}

	if len(e.Arguments) != 2 {
		return nil, types.Validationf("%s takes 2 arguments", name)
	}

	switch name {
	case "if_not_exists":
		path, ok := PathFrom(e.Arguments[0])
		if !ok {
			return nil, types.Validationf("%s is not an attribute", e.Arguments[0].String())
		}

		value, err := setOperand(e.Arguments[1], fc, false)
		if err != nil {
			return nil, err
		}

		return &IfNotExists{Field: path, Value: value}, nil
	default:
		left, err := setOperand(e.Arguments[0], fc, false)
		if err != nil {
			return nil, err
		}

		right, err := setOperand(e.Arguments[1], fc, false)
		if err != nil {
			return nil, err
		}

		return &ListAppend{Left: left, Right: right}, nil
	}
}

// String renders the canonical update, verbs in SET, REMOVE, ADD, DELETE
// order
func (u *Update) String() string {
	var sections []string

	if len(u.Set) > 0 {
		parts := make([]string, 0, len(u.Set))
		for _, a := range u.Set {
			parts = append(parts, a.Path.String()+" = "+a.Value.String())
		}

		sections = append(sections, "SET "+strings.Join(parts, ", "))
	}

	if len(u.Remove) > 0 {
		parts := make([]string, 0, len(u.Remove))
		for _, p := range u.Remove {
			parts = append(parts, p.String())
		}

		sections = append(sections, "REMOVE "+strings.Join(parts, ", "))
	}

	sections = appendValueSection(sections, language.VerbAdd, u.Add)
	sections = appendValueSection(sections, language.VerbDelete, u.Delete)

	return strings.Join(sections, " ")
}

func appendValueSection(sections []string, verb string, actions []*ValueAction) []string {
	if len(actions) == 0 {
		return sections
	}

	parts := make([]string, 0, len(actions))
	for _, a := range actions {
		parts = append(parts, a.Path.String()+" "+a.Value.Inspect())
	}

	return append(sections, verb+" "+strings.Join(parts, ", "))
}

// Fields lists the top level attributes the update touches
func (u *Update) Fields() []string {
	var out []string

	for _, a := range u.Set {
		out = append(out, a.Path.Root())
	}

	for _, p := range u.Remove {
		out = append(out, p.Root())
	}

	for _, a := range u.Add {
		out = append(out, a.Path.Root())
	}

	for _, a := range u.Delete {
		out = append(out, a.Path.Root())
	}

	return out
}

// Builder compiles the update with the native expression builders
func (u *Update) Builder() expression.UpdateBuilder {
	var b expression.UpdateBuilder

	for _, a := range u.Set {
		b = b.Set(expression.Name(a.Path.Expr()), a.Value.builder())
	}

	for _, p := range u.Remove {
		b = b.Remove(expression.Name(p.Expr()))
	}

	for _, a := range u.Add {
		b = b.Add(expression.Name(a.Path.Expr()), expression.Value(types.Marshaler(a.Value)))
	}

	for _, a := range u.Delete {
		b = b.Delete(expression.Name(a.Path.Expr()), expression.Value(types.Marshaler(a.Value)))
	}

	return b
}

// Apply runs the update against the record in env. Every SET value is
// computed from the item as it was before the update.
func (u *Update) Apply(env *Environment) error {
	values := make([]types.Value, 0, len(u.Set))

	for _, a := range u.Set {
		v, err := evaluate(a.Value, env)
		if err != nil {
			return err
		}

		values = append(values, v)
	}

	for i, a := range u.Set {
		if !env.Set(a.Path, values[i]) {
			return types.Validationf("the document path %s does not exist in the item", a.Path.String())
		}
	}

	for _, p := range u.Remove {
		env.Remove(p)
	}

	for _, a := range u.Add {
		if err := applyAdd(env, a); err != nil {
			return err
		}
	}

	for _, a := range u.Delete {
		if err := applyDelete(env, a); err != nil {
			return err
		}
	}

	return nil
}

func applyAdd(env *Environment, a *ValueAction) error {
	if _, ok := a.Value.(*types.Number); !ok && !isSet(a.Value) {
		return types.Validationf("incorrect operand type for operator ADD: %s", a.Value.Type())
	}

	current, ok := env.Get(a.Path)
	if !ok {
		if !env.Set(a.Path, a.Value) {
			return types.Validationf("the document path %s does not exist in the item", a.Path.String())
		}

		return nil
	}

	var (
		out types.Value
		err error
	)

	switch c := current.(type) {
	case *types.Number:
		n, ok := a.Value.(*types.Number)
		if !ok {
			return types.Validationf("cannot ADD %s to a number", a.Value.Type())
		}

		var v any

		v, err = arithmetic("+", c, n)
		if err == nil {
			out = v.(*types.Number)
		}
	case *types.StringSet:
		s, ok := a.Value.(*types.StringSet)
		if !ok {
			return types.Validationf("cannot ADD %s to a string set", a.Value.Type())
		}

		out = types.NewStringSet(append(append([]string(nil), c.Value...), s.Value...)...)
	case *types.NumberSet:
		s, ok := a.Value.(*types.NumberSet)
		if !ok {
			return types.Validationf("cannot ADD %s to a number set", a.Value.Type())
		}

		out = types.NewNumberSet(append(append([]string(nil), c.Value...), s.Value...)...)
	case *types.BinarySet:
		s, ok := a.Value.(*types.BinarySet)
		if !ok {
			return types.Validationf("cannot ADD %s to a binary set", a.Value.Type())
		}

		out = types.NewBinarySet(append(append([][]byte(nil), c.Value...), s.Value...)...)
	default:
		return types.Validationf("ADD needs a number or a set at %s, found %s", a.Path.String(), current.Type())
	}

	if err != nil {
		return err
	}

	env.Set(a.Path, out)

	return nil
}

func applyDelete(env *Environment, a *ValueAction) error {
	if !isSet(a.Value) {
		return types.Validationf("incorrect operand type for operator DELETE: %s", a.Value.Type())
	}

	current, ok := env.Get(a.Path)
	if !ok {
		return nil
	}

	if current.Type() != a.Value.Type() {
		return types.Validationf("cannot DELETE %s from %s", a.Value.Type(), current.Type())
	}

	var (
		out  types.Value
		size int
	)

	switch c := current.(type) {
	case *types.StringSet:
		drop := a.Value.(*types.StringSet)

		var keep []string

		for _, s := range c.Value {
			if !drop.Contains(s) {
				keep = append(keep, s)
			}
		}

		out, size = types.NewStringSet(keep...), len(keep)
	case *types.NumberSet:
		drop := a.Value.(*types.NumberSet)

		var keep []string

		for _, s := range c.Value {
			if !contains(drop, &types.Number{Text: s}) {
				keep = append(keep, s)
			}
		}

		out, size = types.NewNumberSet(keep...), len(keep)
	case *types.BinarySet:
		drop := a.Value.(*types.BinarySet)

		var keep [][]byte

		for _, b := range c.Value {
			if !contains(drop, &types.Binary{Value: b}) {
				keep = append(keep, b)
			}
		}

		out, size = types.NewBinarySet(keep...), len(keep)
	default:
		return types.Validationf("DELETE needs a set at %s, found %s", a.Path.String(), current.Type())
	}

	if size == 0 {
		env.Remove(a.Path)

		return nil
	}

	env.Set(a.Path, out)

	return nil
}

var returnValues = map[string]ddbtypes.ReturnValue{
	language.ReturnsNone:       ddbtypes.ReturnValueNone,
	language.ReturnsAllOld:     ddbtypes.ReturnValueAllOld,
	language.ReturnsAllNew:     ddbtypes.ReturnValueAllNew,
	language.ReturnsUpdatedOld: ddbtypes.ReturnValueUpdatedOld,
	language.ReturnsUpdatedNew: ddbtypes.ReturnValueUpdatedNew,
}

// ReturnValue maps a RETURNS mode to the request parameter, empty means NONE
func ReturnValue(mode string) ddbtypes.ReturnValue {
	if rv, ok := returnValues[mode]; ok {
		return rv
	}

	return ddbtypes.ReturnValueNone
}
