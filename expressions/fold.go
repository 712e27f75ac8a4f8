package expressions

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jspreddy/dql/language"
	"github.com/jspreddy/dql/temporal"
	"github.com/jspreddy/dql/types"
)

// errNotConstant marks expressions that reference attributes
var errNotConstant = errors.New("expression is not constant")

// FoldContext holds the reference instant of one statement, so now() returns
// the same value everywhere in it
type FoldContext struct {
	Now      time.Time
	Location *time.Location
}

// NewFoldContext creates a fold context, a nil location means UTC
func NewFoldContext(now time.Time, loc *time.Location) *FoldContext {
	if loc == nil {
		loc = time.UTC
	}

	return &FoldContext{Now: now, Location: loc}
}

// instant is a folded point in time with the zone it renders in
type instant struct {
	t time.Time
}

// Fold evaluates a constant expression into a value. Instants become epoch
// seconds and durations become seconds measured from Now.
func (fc *FoldContext) Fold(exp language.Expression) (types.Value, error) {
	c, err := fc.eval(exp, nil)
	if err != nil {
		if errors.Is(err, errNotConstant) {
			return nil, types.Validationf("%s is not a constant", exp.String())
		}

		return nil, err
	}

	return fc.finalize(c)
}

// IsConstant reports whether the expression references no attribute
func IsConstant(exp language.Expression) bool {
	switch e := exp.(type) {
	case *language.Identifier, *language.IndexExpression, *language.Star:
		return false
	case *language.GroupedExpression:
		return IsConstant(e.Expression)
	case *language.PrefixExpression:
		return IsConstant(e.Right)
	case *language.InfixExpression:
		return IsConstant(e.Left) && IsConstant(e.Right)
	case *language.CallExpression:
		if _, ok := temporalFunctions[e.Name()]; !ok {
			return false
		}

		return allConstant(e.Arguments)
	case *language.ListLiteral:
		return allConstant(e.Elements)
	case *language.SetLiteral:
		return allConstant(e.Elements)
	case *language.MapLiteral:
		return allConstant(e.Values)
	}

	return true
}

func allConstant(exps []language.Expression) bool {
	for _, e := range exps {
		if !IsConstant(e) {
			return false
		}
	}

	return true
}

func (fc *FoldContext) finalize(c any) (types.Value, error) {
	switch v := c.(type) {
	case types.Value:
		return v, nil
	case instant:
		return types.NewNumber(temporal.Seconds(v.t)), nil
	case temporal.Duration:
		return types.NewNumber(v.Seconds(fc.Now)), nil
	}

	return nil, fmt.Errorf("unexpected folded value %T", c)
}

// eval computes an expression into a types.Value, an instant or a
// temporal.Duration. Attributes resolve through env; a nil env makes any
// attribute reference fail with errNotConstant.
func (fc *FoldContext) eval(exp language.Expression, env *Environment) (any, error) {
	switch e := exp.(type) {
	case *language.NumberLiteral:
		if _, ok := new(big.Rat).SetString(e.Value); !ok {
			return nil, types.Validationf("invalid number %s", e.Value)
		}

		return &types.Number{Text: e.Value}, nil
	case *language.StringLiteral:
		return &types.String{Value: e.Value}, nil
	case *language.BinaryLiteral:
		return &types.Binary{Value: e.Value}, nil
	case *language.BooleanLiteral:
		return &types.Boolean{Value: e.Value}, nil
	case *language.NullLiteral:
		return &types.Null{}, nil
	case *language.GroupedExpression:
		return fc.eval(e.Expression, env)
	case *language.ListLiteral:
		values, err := fc.values(e.Elements, env)
		if err != nil {
			return nil, err
		}

		return &types.List{Value: values}, nil
	case *language.SetLiteral:
		values, err := fc.values(e.Elements, env)
		if err != nil {
			return nil, err
		}

		return NewSet(values)
	case *language.MapLiteral:
		m := &types.Map{Value: make(map[string]types.Value, len(e.Keys))}

		for i, k := range e.Keys {
			c, err := fc.eval(e.Values[i], env)
			if err != nil {
				return nil, err
			}

			v, err := fc.finalize(c)
			if err != nil {
				return nil, err
			}

			m.Value[k] = v
		}

		return m, nil
	case *language.PrefixExpression:
		if e.Operator != "-" {
			return nil, types.Validationf("unsupported operator %s in a value", e.Operator)
		}

		right, err := fc.eval(e.Right, env)
		if err != nil {
			return nil, err
		}

		return negate(right)
	case *language.InfixExpression:
		left, err := fc.eval(e.Left, env)
		if err != nil {
			return nil, err
		}

		right, err := fc.eval(e.Right, env)
		if err != nil {
			return nil, err
		}

		return fc.combine(e.Operator, left, right)
	case *language.CallExpression:
		return fc.call(e, env)
	case *language.Identifier, *language.IndexExpression:
		if env == nil {
			return nil, errNotConstant
		}

		path, ok := PathFrom(e)
		if !ok {
			return nil, types.Validationf("invalid attribute path %s", e.String())
		}

		v, ok := env.Get(path)
		if !ok {
			return &types.Null{}, nil
		}

		return v, nil
	}

	return nil, types.Validationf("unsupported value %s", exp.String())
}

func (fc *FoldContext) values(exps []language.Expression, env *Environment) ([]types.Value, error) {
	values := make([]types.Value, 0, len(exps))

	for _, exp := range exps {
		c, err := fc.eval(exp, env)
		if err != nil {
			return nil, err
		}

		v, err := fc.finalize(c)
		if err != nil {
			return nil, err
		}

		values = append(values, v)
	}

	return values, nil
}

// NewSet builds a set from values of one scalar kind. An empty set is a
// string set.
func NewSet(values []types.Value) (types.Value, error) {
	if len(values) == 0 {
		return types.NewStringSet(), nil
	}

	switch values[0].(type) {
	case *types.String:
		out := make([]string, 0, len(values))

		for _, v := range values {
			s, ok := v.(*types.String)
			if !ok {
				return nil, types.Validationf("set elements must share one type, got %s and %s", values[0].Type(), v.Type())
			}

			out = append(out, s.Value)
		}

		return types.NewStringSet(out...), nil
	case *types.Number:
		out := make([]string, 0, len(values))

		for _, v := range values {
			n, ok := v.(*types.Number)
			if !ok {
				return nil, types.Validationf("set elements must share one type, got %s and %s", values[0].Type(), v.Type())
			}

			out = append(out, n.Text)
		}

		return types.NewNumberSet(out...), nil
	case *types.Binary:
		out := make([][]byte, 0, len(values))

		for _, v := range values {
			b, ok := v.(*types.Binary)
			if !ok {
				return nil, types.Validationf("set elements must share one type, got %s and %s", values[0].Type(), v.Type())
			}

			out = append(out, b.Value)
		}

		return types.NewBinarySet(out...), nil
	}

	return nil, types.Validationf("sets hold strings, numbers or binaries, got %s", values[0].Type())
}

func negate(c any) (any, error) {
	switch v := c.(type) {
	case *types.Number:
		r, _ := v.Rat()

		return ratNumber(new(big.Rat).Neg(r)), nil
	case temporal.Duration:
		return v.Neg(), nil
	}

	return nil, types.Validationf("cannot negate %s", describe(c))
}

func (fc *FoldContext) combine(op string, left, right any) (any, error) {
	switch l := left.(type) {
	case *types.Number:
		r, ok := right.(*types.Number)
		if !ok {
			break
		}

		return arithmetic(op, l, r)
	case instant:
		switch r := right.(type) {
		case temporal.Duration:
			switch op {
			case "+":
				return instant{t: r.AddTo(l.t)}, nil
			case "-":
				return instant{t: r.Neg().AddTo(l.t)}, nil
			}
		case instant:
			if op == "-" {
				return temporal.Between(l.t, r.t), nil
			}
		}
	case temporal.Duration:
		switch r := right.(type) {
		case temporal.Duration:
			switch op {
			case "+":
				return l.Add(r), nil
			case "-":
				return l.Add(r.Neg()), nil
			}
		case instant:
			if op == "+" {
				return instant{t: l.AddTo(r.t)}, nil
			}
		}
	}

	if op != "+" && op != "-" && op != "*" && op != "/" {
		return nil, types.Validationf("operator %s is not allowed in a value", op)
	}

	return nil, types.Validationf("cannot compute %s %s %s", describe(left), op, describe(right))
}

func arithmetic(op string, left, right *types.Number) (any, error) {
	l, lok := left.Rat()
	r, rok := right.Rat()

	if !lok || !rok {
		return nil, types.Validationf("invalid number in %s %s %s", left.Text, op, right.Text)
	}

	out := new(big.Rat)

	switch op {
	case "+":
		out.Add(l, r)
	case "-":
		out.Sub(l, r)
	case "*":
		out.Mul(l, r)
	case "/":
		if r.Sign() == 0 {
			return nil, types.Validationf("division by zero")
		}

		out.Quo(l, r)
	default:
		return nil, types.Validationf("operator %s is not allowed in a value", op)
	}

	return ratNumber(out), nil
}

func ratNumber(r *big.Rat) *types.Number {
	if r.IsInt() {
		return &types.Number{Text: r.Num().String()}
	}

	f, _ := r.Float64()

	return types.NewNumber(f)
}

func describe(c any) string {
	switch v := c.(type) {
	case types.Value:
		return string(v.Type())
	case instant:
		return "timestamp"
	case temporal.Duration:
		return "interval"
	}

	return fmt.Sprintf("%T", c)
}

type temporalFunction func(fc *FoldContext, args []any) (any, error)

var temporalFunctions = map[string]temporalFunction{
	"now":          nowFunction,
	"timestamp":    localTimestamp,
	"ts":           localTimestamp,
	"utctimestamp": utcTimestamp,
	"utcts":        utcTimestamp,
	"interval":     intervalFunction,
	"ms":           millisecondsFunction,
}

func (fc *FoldContext) call(e *language.CallExpression, env *Environment) (any, error) {
	fn, ok := temporalFunctions[e.Name()]
	if !ok {
		if env == nil {
			return nil, errNotConstant
		}

		return nil, types.Validationf("unknown function %s", e.Function.Value)
	}

	args := make([]any, 0, len(e.Arguments))

	for _, a := range e.Arguments {
		c, err := fc.eval(a, env)
		if err != nil {
			return nil, err
		}

		args = append(args, c)
	}

	return fn(fc, args)
}

func nowFunction(fc *FoldContext, args []any) (any, error) {
	if len(args) != 0 {
		return nil, types.Validationf("now() takes no arguments")
	}

	return instant{t: fc.Now}, nil
}

func localTimestamp(fc *FoldContext, args []any) (any, error) {
	return toInstant("timestamp", args, fc.Location)
}

func utcTimestamp(_ *FoldContext, args []any) (any, error) {
	return toInstant("utctimestamp", args, time.UTC)
}

func toInstant(name string, args []any, loc *time.Location) (any, error) {
	if len(args) != 1 {
		return nil, types.Validationf("%s() takes one argument", name)
	}

	switch v := args[0].(type) {
	case *types.String:
		t, err := temporal.ParseTimestamp(v.Value, loc)
		if err != nil {
			return nil, types.NewError(types.CodeValidation, name+"()", err)
		}

		return instant{t: t}, nil
	case *types.Number:
		return instant{t: temporal.FromSeconds(v.Float()).In(loc)}, nil
	case instant:
		return instant{t: v.t.In(loc)}, nil
	}

	return nil, types.Validationf("%s() cannot convert %s", name, describe(args[0]))
}

func intervalFunction(_ *FoldContext, args []any) (any, error) {
	if len(args) != 1 {
		return nil, types.Validationf("interval() takes one argument")
	}

	s, ok := args[0].(*types.String)
	if !ok {
		return nil, types.Validationf("interval() takes a string, got %s", describe(args[0]))
	}

	d, err := temporal.ParseInterval(s.Value)
	if err != nil {
		return nil, types.NewError(types.CodeValidation, "interval()", err)
	}

	return d, nil
}

func millisecondsFunction(fc *FoldContext, args []any) (any, error) {
	if len(args) != 1 {
		return nil, types.Validationf("ms() takes one argument")
	}

	switch v := args[0].(type) {
	case instant:
		return types.NewNumber(temporal.Seconds(v.t) * 1000), nil
	case temporal.Duration:
		return types.NewNumber(v.Seconds(fc.Now) * 1000), nil
	case *types.Number:
		return arithmetic("*", v, types.NewInteger(1000))
	}

	return nil, types.Validationf("ms() cannot convert %s", describe(args[0]))
}

// render turns an evaluated term into an output value: instants render as
// RFC 3339 strings in their zone
func (fc *FoldContext) render(c any) (types.Value, error) {
	if i, ok := c.(instant); ok {
		return &types.String{Value: i.t.Format(time.RFC3339Nano)}, nil
	}

	return fc.finalize(c)
}
