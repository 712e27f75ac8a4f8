package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/birdie-ai/golibs/slog"

	"github.com/jspreddy/dql/expressions"
	"github.com/jspreddy/dql/language"
	"github.com/jspreddy/dql/types"
)

// readCommand is a compiled SELECT, SCAN or COUNT
type readCommand struct {
	table      string
	selection  *expressions.Selection
	where      expressions.Constraint
	using      string
	limit      int64
	descending bool
	consistent bool
	count      bool
	// scan forbids Query, SCAN statements always read the whole table
	scan bool
}

func compileSelect(s *language.SelectStatement, fc *expressions.FoldContext) (command, error) {
	selection, err := expressions.NewSelection(s.Selection, fc)
	if err != nil {
		return nil, err
	}

	c, err := where(s.Where, fc)
	if err != nil {
		return nil, err
	}

	cmd := &readCommand{
		table:      s.Table,
		selection:  selection,
		where:      c,
		using:      s.Using,
		limit:      s.Limit,
		descending: s.Order == "DESC",
		consistent: s.Consistent,
	}

	if s.Save != "" {
		return newSaveCommand(cmd, s.Table, s.Save)
	}

	return cmd, nil
}

func compileScan(s *language.ScanStatement, fc *expressions.FoldContext) (command, error) {
	selection, err := expressions.NewSelection(s.Selection, fc)
	if err != nil {
		return nil, err
	}

	c, err := where(s.Where, fc)
	if err != nil {
		return nil, err
	}

	cmd := &readCommand{
		table:      s.Table,
		selection:  selection,
		where:      c,
		using:      s.Using,
		limit:      s.Limit,
		consistent: s.Consistent,
		scan:       true,
	}

	if s.Save != "" {
		return newSaveCommand(cmd, s.Table, s.Save)
	}

	return cmd, nil
}

func compileCount(s *language.CountStatement, fc *expressions.FoldContext) (command, error) {
	c, err := where(s.Where, fc)
	if err != nil {
		return nil, err
	}

	return &readCommand{
		table:      s.Table,
		where:      c,
		using:      s.Using,
		consistent: s.Consistent,
		count:      true,
	}, nil
}

// readPlan is a Query or Scan with the clauses split by where they run
type readPlan struct {
	table string
	index string
	query bool
	// key holds the conjuncts compiled into the key condition
	key    []expressions.Constraint
	filter expressions.Constraint
	local  expressions.Constraint
	// projection is empty when whole items are read
	projection []string
	selection  *expressions.Selection
	forward    bool
	consistent bool
	count      bool
	limit      int64
	keyCond    expression.KeyConditionBuilder
}

// keyCandidate is a key schema a Query could use
type keyCandidate struct {
	index    string
	hash     string
	rangeKey string
}

func candidates(schema *TableSchema, using string) ([]keyCandidate, error) {
	table := keyCandidate{hash: schema.HashKey.Name}
	if schema.RangeKey != nil {
		table.rangeKey = schema.RangeKey.Name
	}

	if using != "" {
		i, ok := schema.Index(using)
		if !ok {
			return nil, types.Schemaf("table %s has no index %s", schema.Name, using)
		}

		return []keyCandidate{indexCandidate(i)}, nil
	}

	out := []keyCandidate{table}

	for _, i := range schema.LocalIndexes {
		out = append(out, indexCandidate(i))
	}

	for _, i := range schema.GlobalIndexes {
		out = append(out, indexCandidate(i))
	}

	return out, nil
}

func indexCandidate(i *IndexSchema) keyCandidate {
	c := keyCandidate{index: i.Name, hash: i.HashKey.Name}
	if i.RangeKey != nil {
		c.rangeKey = i.RangeKey.Name
	}

	return c
}

// keyMatch is the key conjuncts found for one candidate
type keyMatch struct {
	candidate keyCandidate
	hash      int
	rng       int
}

func (m keyMatch) score() int {
	if m.rng >= 0 {
		return 2
	}

	return 1
}

// plan decides between Query and Scan. A Query needs an equality on the hash
// key of the table or of an index, the candidate that also constrains its
// range key wins and the table wins ties.
func (c *readCommand) plan(ctx context.Context, e *Engine) (*readPlan, error) {
	schema, err := e.Describe(ctx, c.table)
	if err != nil {
		return nil, err
	}

	p := &readPlan{
		table:      c.table,
		selection:  c.selection,
		forward:    !c.descending,
		consistent: c.consistent,
		count:      c.count,
		limit:      c.limit,
	}

	cands, err := candidates(schema, c.using)
	if err != nil {
		return nil, err
	}

	if c.using != "" {
		p.index = c.using
	}

	conjuncts := expressions.Conjuncts(c.where)

	if conj, ok := c.where.(*expressions.Conjunction); ok && !conj.And {
		conjuncts = nil
	}

	var best *keyMatch

	if !c.scan {
		for _, cand := range cands {
			m, ok := matchKey(cand, conjuncts)
			if ok && (best == nil || m.score() > best.score()) {
				best = &m
			}
		}
	}

	rest := conjuncts
	if conjuncts == nil && c.where != nil {
		rest = []expressions.Constraint{c.where}
	}

	if best != nil {
		p.query = true
		p.index = best.candidate.index

		rest = nil

		for i, conj := range conjuncts {
			if i == best.hash || i == best.rng {
				p.key = append(p.key, conj)

				continue
			}

			rest = append(rest, conj)
		}

		p.keyCond, err = keyCondition(p.key)
		if err != nil {
			return nil, err
		}
	}

	var pushed, local []expressions.Constraint

	for _, conj := range rest {
		if e.caps.Pushable(conj) {
			pushed = append(pushed, conj)

			continue
		}

		local = append(local, conj)
	}

	p.filter = expressions.Join(true, pushed)
	p.local = expressions.Join(true, local)

	if c.selection != nil {
		p.projection = union(c.selection.Names(), expressions.UniqueFields(p.local))
	}

	if p.count && p.local != nil {
		p.projection = expressions.UniqueFields(p.local)
	}

	if !p.query && c.descending {
		slog.FromCtx(ctx).Debug("dql: DESC has no effect on a scan", "table", c.table)
	}

	slog.FromCtx(ctx).Debug("dql: read planned", "table", c.table, "query", p.query, "index", p.index,
		"filter", constraintString(p.filter), "local", constraintString(p.local))

	return p, nil
}

// matchKey looks for the hash equality and the best range condition of a
// candidate; positions are -1 when missing
func matchKey(cand keyCandidate, conjuncts []expressions.Constraint) (keyMatch, bool) {
	m := keyMatch{candidate: cand, hash: -1, rng: -1}

	for i, c := range conjuncts {
		switch {
		case m.hash < 0 && isHashCondition(c, cand.hash):
			m.hash = i
		case m.rng < 0 && cand.rangeKey != "" && isRangeCondition(c, cand.rangeKey):
			m.rng = i
		}
	}

	return m, m.hash >= 0
}

func fieldIs(op expressions.Operand, name string) bool {
	f, ok := op.(*expressions.Field)

	return ok && f.Path.IsRoot() && f.Path.Root() == name
}

func literal(op expressions.Operand) (types.Value, bool) {
	l, ok := op.(*expressions.Literal)
	if !ok {
		return nil, false
	}

	return l.Value, true
}

func isHashCondition(c expressions.Constraint, hash string) bool {
	_, ok := equality(c, hash)

	return ok
}

// equality returns v when c is name = v with a literal v
func equality(c expressions.Constraint, name string) (types.Value, bool) {
	op, ok := c.(*expressions.Operator)
	if !ok || op.Op != "=" || !fieldIs(op.Left, name) {
		return nil, false
	}

	return literal(op.Right)
}

var rangeOperators = map[string]bool{"=": true, "<": true, "<=": true, ">": true, ">=": true}

func isRangeCondition(c expressions.Constraint, rangeKey string) bool {
	switch n := c.(type) {
	case *expressions.Operator:
		_, ok := literal(n.Right)

		return ok && rangeOperators[n.Op] && fieldIs(n.Left, rangeKey)
	case *expressions.Between:
		_, lok := literal(n.Low)
		_, hok := literal(n.High)

		return lok && hok && n.Field.IsRoot() && n.Field.Root() == rangeKey
	case *expressions.Function:
		_, ok := n.StringOperand()

		return ok && n.Name == expressions.FunctionBeginsWith && n.Field.IsRoot() && n.Field.Root() == rangeKey
	}

	return false
}

func keyValue(op expressions.Operand) (expression.ValueBuilder, error) {
	v, ok := literal(op)
	if !ok {
		return expression.ValueBuilder{}, fmt.Errorf("key condition needs a constant, got %s", op.String())
	}

	return expression.Value(types.Marshaler(v)), nil
}

// keyCondition compiles the hash equality and the optional range condition
func keyCondition(key []expressions.Constraint) (expression.KeyConditionBuilder, error) {
	var conds []expression.KeyConditionBuilder

	for _, c := range key {
		switch n := c.(type) {
		case *expressions.Operator:
			name := expression.Key(n.Left.(*expressions.Field).Path.Root())

			value, err := keyValue(n.Right)
			if err != nil {
				return expression.KeyConditionBuilder{}, err
			}

			switch n.Op {
			case "=":
				conds = append(conds, name.Equal(value))
			case "<":
				conds = append(conds, name.LessThan(value))
			case "<=":
				conds = append(conds, name.LessThanEqual(value))
			case ">":
				conds = append(conds, name.GreaterThan(value))
			case ">=":
				conds = append(conds, name.GreaterThanEqual(value))
			}
		case *expressions.Between:
			low, err := keyValue(n.Low)
			if err != nil {
				return expression.KeyConditionBuilder{}, err
			}

			high, err := keyValue(n.High)
			if err != nil {
				return expression.KeyConditionBuilder{}, err
			}

			conds = append(conds, expression.Key(n.Field.Root()).Between(low, high))
		case *expressions.Function:
			prefix, ok := n.StringOperand()
			if !ok {
				return expression.KeyConditionBuilder{}, fmt.Errorf("begins_with on a key needs a string prefix")
			}

			conds = append(conds, expression.Key(n.Field.Root()).BeginsWith(prefix))
		}
	}

	switch len(conds) {
	case 1:
		return conds[0], nil
	case 2:
		return expression.KeyAnd(conds[0], conds[1]), nil
	}

	return expression.KeyConditionBuilder{}, fmt.Errorf("key condition needs one or two conditions, got %d", len(conds))
}

// expression compiles the key condition, filter and projection. The boolean
// is false when the request needs none of them.
func (p *readPlan) expression() (expression.Expression, bool, error) {
	b := expression.NewBuilder()
	used := false

	if p.query {
		b = b.WithKeyCondition(p.keyCond)
		used = true
	}

	if p.filter != nil {
		cond, err := p.filter.Condition()
		if err != nil {
			return expression.Expression{}, false, types.NewError(types.CodeValidation, err.Error(), err)
		}

		b = b.WithFilter(cond)
		used = true
	}

	if len(p.projection) > 0 {
		names := make([]expression.NameBuilder, 0, len(p.projection))
		for _, n := range p.projection {
			names = append(names, expression.Name(n))
		}

		b = b.WithProjection(expression.NamesList(names[0], names[1:]...))
		used = true
	}

	if !used {
		return expression.Expression{}, false, nil
	}

	expr, err := b.Build()
	if err != nil {
		return expression.Expression{}, false, types.NewError(types.CodeValidation, err.Error(), err)
	}

	return expr, true, nil
}

// countOnly is true when the backend can count without returning items
func (p *readPlan) countOnly() bool {
	return p.count && p.local == nil
}

// describe renders the plan for EXPLAIN
func (p *readPlan) describe() []string {
	op := "Scan"
	if p.query {
		op = "Query"
	}

	parts := []string{op + " " + p.table}

	if p.index != "" {
		parts = append(parts, "index="+p.index)
	}

	if p.query {
		parts = append(parts, "key="+constraintString(expressions.Join(true, p.key)))
	}

	if p.filter != nil {
		parts = append(parts, "filter="+constraintString(p.filter))
	}

	if p.local != nil {
		parts = append(parts, "local="+constraintString(p.local))
	}

	if len(p.projection) > 0 {
		parts = append(parts, "projection="+strings.Join(p.projection, ","))
	}

	if p.countOnly() {
		parts = append(parts, "select=COUNT")
	}

	if p.limit > 0 {
		parts = append(parts, fmt.Sprintf("limit=%d", p.limit))
	}

	if p.query && !p.forward {
		parts = append(parts, "order=DESC")
	}

	return []string{strings.Join(parts, " ")}
}

func constraintString(c expressions.Constraint) string {
	if c == nil {
		return ""
	}

	return c.String()
}

func union(lists ...[]string) []string {
	seen := map[string]bool{}

	var out []string

	for _, list := range lists {
		for _, s := range list {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}

	return out
}

func (c *readCommand) explain(ctx context.Context, e *Engine) ([]string, error) {
	p, err := c.plan(ctx, e)
	if err != nil {
		return nil, err
	}

	return p.describe(), nil
}

func (c *readCommand) run(ctx context.Context, e *Engine) (*Result, error) {
	p, err := c.plan(ctx, e)
	if err != nil {
		return nil, err
	}

	expr, ok, err := p.expression()
	if err != nil {
		return nil, err
	}

	pg := &pager{engine: e, plan: p, expr: expr, hasExpr: ok, remaining: p.limit}

	res := &Result{Table: c.table}

	if !c.count {
		res.Rows = newRows(ctx, pg)

		return res, nil
	}

	res.Count, err = pg.count(ctx)
	if err != nil {
		return nil, err
	}

	return res, nil
}
