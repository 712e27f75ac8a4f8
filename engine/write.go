package engine

import (
	"context"
	"maps"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jspreddy/dql/expressions"
	"github.com/jspreddy/dql/language"
	"github.com/jspreddy/dql/types"
)

// writeTarget is the WHERE clause of UPDATE and DELETE split into the key of
// the item and the condition the write is guarded by
type writeTarget struct {
	key       types.Record
	condition expressions.Constraint
}

// splitKey takes the equalities on the primary key out of the WHERE clause
func splitKey(schema *TableSchema, c expressions.Constraint) (*writeTarget, error) {
	if conj, ok := c.(*expressions.Conjunction); ok && !conj.And {
		return nil, types.Validationf("WHERE must select one item of %s with AND, found OR", schema.Name)
	}

	target := &writeTarget{key: types.Record{}}

	names := []string{schema.HashKey.Name}
	if schema.RangeKey != nil {
		names = append(names, schema.RangeKey.Name)
	}

	var rest []expressions.Constraint

	for _, conj := range expressions.Conjuncts(c) {
		matched := false

		for _, name := range names {
			if _, ok := target.key[name]; ok {
				continue
			}

			if v, ok := equality(conj, name); ok {
				target.key[name] = v
				matched = true

				break
			}
		}

		if !matched {
			rest = append(rest, conj)
		}
	}

	for _, name := range names {
		if _, ok := target.key[name]; !ok {
			return nil, types.Validationf("WHERE must set %s with = to select one item of %s", name, schema.Name)
		}
	}

	target.condition = expressions.Join(true, rest)

	return target, nil
}

func (t *writeTarget) expression(update *expressions.Update) (expression.Expression, bool, error) {
	b := expression.NewBuilder()

	if update == nil && t.condition == nil {
		return expression.Expression{}, false, nil
	}

	if update != nil {
		b = b.WithUpdate(update.Builder())
	}

	if t.condition != nil {
		cond, err := t.condition.Condition()
		if err != nil {
			return expression.Expression{}, false, types.NewError(types.CodeValidation, err.Error(), err)
		}

		b = b.WithCondition(cond)
	}

	expr, err := b.Build()
	if err != nil {
		return expression.Expression{}, false, types.NewError(types.CodeValidation, err.Error(), err)
	}

	return expr, true, nil
}

func (t *writeTarget) describe(op, table string, extra ...string) []string {
	keys := make([]string, 0, len(t.key))
	for _, name := range slices.Sorted(maps.Keys(t.key)) {
		keys = append(keys, language.QuoteIdent(name)+" = "+t.key[name].Inspect())
	}

	parts := []string{op + " " + table, "key=" + strings.Join(keys, " AND ")}

	if t.condition != nil {
		parts = append(parts, "condition="+t.condition.String())
	}

	return []string{strings.Join(append(parts, extra...), " ")}
}

// profile returns the retry policy named by USING, the write policy when
// there is none
func (e *Engine) profile(name string) (RetryPolicy, error) {
	if name == "" {
		return e.cfg.WriteRetry, nil
	}

	p, ok := e.cfg.Profiles[name]
	if !ok {
		return RetryPolicy{}, types.Validationf("unknown profile %s", name)
	}

	return p, nil
}

type updateCommand struct {
	table   string
	update  *expressions.Update
	where   expressions.Constraint
	policy  RetryPolicy
	returns string
}

func (e *Engine) compileUpdate(s *language.UpdateStatement, fc *expressions.FoldContext) (command, error) {
	if s.Where == nil {
		return nil, types.Validationf("UPDATE %s needs a WHERE clause", s.Table)
	}

	update, err := expressions.NewUpdate(s.Clauses, fc)
	if err != nil {
		return nil, err
	}

	c, err := where(s.Where, fc)
	if err != nil {
		return nil, err
	}

	policy, err := e.profile(s.Using)
	if err != nil {
		return nil, err
	}

	return &updateCommand{table: s.Table, update: update, where: c, policy: policy, returns: s.Returns}, nil
}

func (c *updateCommand) target(ctx context.Context, e *Engine) (*writeTarget, error) {
	schema, err := e.Describe(ctx, c.table)
	if err != nil {
		return nil, err
	}

	return splitKey(schema, c.where)
}

func (c *updateCommand) explain(ctx context.Context, e *Engine) ([]string, error) {
	t, err := c.target(ctx, e)
	if err != nil {
		return nil, err
	}

	return t.describe("UpdateItem", c.table, "update="+c.update.String(), "returns="+string(expressions.ReturnValue(c.returns))), nil
}

// run upserts the item, the affected count is always 1
func (c *updateCommand) run(ctx context.Context, e *Engine) (*Result, error) {
	t, err := c.target(ctx, e)
	if err != nil {
		return nil, err
	}

	expr, _, err := t.expression(c.update)
	if err != nil {
		return nil, err
	}

	out, err := invoke(ctx, e, "UpdateItem", c.policy, func(ctx context.Context) (*dynamodb.UpdateItemOutput, error) {
		return e.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(c.table),
			Key:                       t.key.ToItem(),
			UpdateExpression:          expr.Update(),
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ReturnValues:              expressions.ReturnValue(c.returns),
			ReturnConsumedCapacity:    ddbtypes.ReturnConsumedCapacityTotal,
		})
	})
	if err != nil {
		return nil, err
	}

	consumed(e, c.table, out.ConsumedCapacity)

	res := &Result{Table: c.table, Count: 1}

	if c.returns != "" && c.returns != language.ReturnsNone {
		record, err := types.FromItem(out.Attributes)
		if err != nil {
			return nil, err
		}

		res.Rows = staticRows(record)
	}

	return res, nil
}

type deleteCommand struct {
	table   string
	where   expressions.Constraint
	policy  RetryPolicy
	returns string
}

func (e *Engine) compileDelete(s *language.DeleteStatement, fc *expressions.FoldContext) (command, error) {
	if s.Where == nil {
		return nil, types.Validationf("DELETE FROM %s needs a WHERE clause", s.Table)
	}

	c, err := where(s.Where, fc)
	if err != nil {
		return nil, err
	}

	policy, err := e.profile(s.Using)
	if err != nil {
		return nil, err
	}

	return &deleteCommand{table: s.Table, where: c, policy: policy, returns: s.Returns}, nil
}

func (c *deleteCommand) target(ctx context.Context, e *Engine) (*writeTarget, error) {
	schema, err := e.Describe(ctx, c.table)
	if err != nil {
		return nil, err
	}

	return splitKey(schema, c.where)
}

func (c *deleteCommand) explain(ctx context.Context, e *Engine) ([]string, error) {
	t, err := c.target(ctx, e)
	if err != nil {
		return nil, err
	}

	return t.describe("DeleteItem", c.table), nil
}

// run deletes the item and reads back the old values to count it
func (c *deleteCommand) run(ctx context.Context, e *Engine) (*Result, error) {
	t, err := c.target(ctx, e)
	if err != nil {
		return nil, err
	}

	expr, ok, err := t.expression(nil)
	if err != nil {
		return nil, err
	}

	input := &dynamodb.DeleteItemInput{
		TableName:              aws.String(c.table),
		Key:                    t.key.ToItem(),
		ReturnValues:           ddbtypes.ReturnValueAllOld,
		ReturnConsumedCapacity: ddbtypes.ReturnConsumedCapacityTotal,
	}

	if ok {
		input.ConditionExpression = expr.Condition()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	out, err := invoke(ctx, e, "DeleteItem", c.policy, func(ctx context.Context) (*dynamodb.DeleteItemOutput, error) {
		return e.client.DeleteItem(ctx, input)
	})
	if err != nil {
		return nil, err
	}

	consumed(e, c.table, out.ConsumedCapacity)

	res := &Result{Table: c.table}

	if len(out.Attributes) == 0 {
		return res, nil
	}

	res.Count = 1

	if c.returns == language.ReturnsAllOld {
		record, err := types.FromItem(out.Attributes)
		if err != nil {
			return nil, err
		}

		res.Rows = staticRows(record)
	}

	return res, nil
}
