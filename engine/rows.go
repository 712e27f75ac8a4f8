package engine

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/birdie-ai/golibs/slog"

	"github.com/jspreddy/dql/expressions"
	"github.com/jspreddy/dql/types"
)

// page is one Query or Scan response
type page struct {
	items   []map[string]ddbtypes.AttributeValue
	count   int64
	lastKey map[string]ddbtypes.AttributeValue
}

// pager walks the pages of a read plan. remaining is the LIMIT left, zero
// when there is none.
type pager struct {
	engine    *Engine
	plan      *readPlan
	expr      expression.Expression
	hasExpr   bool
	startKey  map[string]ddbtypes.AttributeValue
	remaining int64
	done      bool
	calls     int
}

func (pg *pager) pageLimit() int32 {
	limit := pg.engine.cfg.PageSize
	if pg.plan.limit > 0 && pg.remaining < int64(limit) {
		limit = int32(pg.remaining)
	}

	return limit
}

func (pg *pager) fetch(ctx context.Context, countOnly bool) (*page, error) {
	e := pg.engine
	p := pg.plan
	pg.calls++

	var sel ddbtypes.Select
	if countOnly {
		sel = ddbtypes.SelectCount
	}

	var (
		names  map[string]string
		values map[string]ddbtypes.AttributeValue
		filter *string
		proj   *string
	)

	if pg.hasExpr {
		names, values = pg.expr.Names(), pg.expr.Values()
		filter, proj = pg.expr.Filter(), pg.expr.Projection()
	}

	if countOnly {
		proj = nil
	}

	var index *string
	if p.index != "" {
		index = aws.String(p.index)
	}

	if p.query {
		out, err := invoke(ctx, e, "Query", e.cfg.ReadRetry, func(ctx context.Context) (*dynamodb.QueryOutput, error) {
			return e.client.Query(ctx, &dynamodb.QueryInput{
				TableName:                 aws.String(p.table),
				IndexName:                 index,
				KeyConditionExpression:    pg.expr.KeyCondition(),
				FilterExpression:          filter,
				ProjectionExpression:      proj,
				ExpressionAttributeNames:  names,
				ExpressionAttributeValues: values,
				ExclusiveStartKey:         pg.startKey,
				Limit:                     aws.Int32(pg.pageLimit()),
				ScanIndexForward:          aws.Bool(p.forward),
				ConsistentRead:            aws.Bool(p.consistent),
				Select:                    sel,
				ReturnConsumedCapacity:    ddbtypes.ReturnConsumedCapacityTotal,
			})
		})
		if err != nil {
			return nil, err
		}

		consumed(e, p.table, out.ConsumedCapacity)

		return &page{items: out.Items, count: int64(out.Count), lastKey: out.LastEvaluatedKey}, nil
	}

	out, err := invoke(ctx, e, "Scan", e.cfg.ReadRetry, func(ctx context.Context) (*dynamodb.ScanOutput, error) {
		return e.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(p.table),
			IndexName:                 index,
			FilterExpression:          filter,
			ProjectionExpression:      proj,
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
			ExclusiveStartKey:         pg.startKey,
			Limit:                     aws.Int32(pg.pageLimit()),
			ConsistentRead:            aws.Bool(p.consistent),
			Select:                    sel,
			ReturnConsumedCapacity:    ddbtypes.ReturnConsumedCapacityTotal,
		})
	})
	if err != nil {
		return nil, err
	}

	consumed(e, p.table, out.ConsumedCapacity)

	return &page{items: out.Items, count: int64(out.Count), lastKey: out.LastEvaluatedKey}, nil
}

func consumed(e *Engine, table string, cc *ddbtypes.ConsumedCapacity) {
	if cc == nil {
		return
	}

	e.metrics.consumed(table, aws.ToFloat64(cc.CapacityUnits))
}

// next returns the rows of the next page, nil once the read is over
func (pg *pager) next(ctx context.Context) ([]types.Record, error) {
	for !pg.done {
		res, err := pg.fetch(ctx, false)
		if err != nil {
			return nil, err
		}

		rows, err := pg.rows(res.items)
		if err != nil {
			return nil, err
		}

		pg.advance(res.lastKey, int64(len(rows)))

		slog.FromCtx(ctx).Debug("dql: page read", "table", pg.plan.table, "items", len(res.items),
			"rows", len(rows), "more", !pg.done)

		if len(rows) > 0 {
			return rows, nil
		}
	}

	return nil, nil
}

func (pg *pager) advance(lastKey map[string]ddbtypes.AttributeValue, produced int64) {
	pg.startKey = lastKey

	if pg.plan.limit > 0 {
		pg.remaining -= produced
	}

	if len(lastKey) == 0 || (pg.plan.limit > 0 && pg.remaining <= 0) {
		pg.done = true
	}
}

// rows applies the local filter and the selection to the items of a page
func (pg *pager) rows(items []map[string]ddbtypes.AttributeValue) ([]types.Record, error) {
	out := make([]types.Record, 0, len(items))

	for _, item := range items {
		env, err := expressions.NewItemEnvironment(item)
		if err != nil {
			return nil, err
		}

		if pg.plan.local != nil && !pg.plan.local.Match(env) {
			continue
		}

		row, err := pg.plan.selection.Eval(env)
		if err != nil {
			return nil, err
		}

		out = append(out, row)

		if pg.plan.limit > 0 && int64(len(out)) >= pg.remaining {
			break
		}
	}

	return out, nil
}

// count sums the matches of every page
func (pg *pager) count(ctx context.Context) (int64, error) {
	var total int64

	for !pg.done {
		res, err := pg.fetch(ctx, pg.plan.countOnly())
		if err != nil {
			return 0, err
		}

		n := res.count

		if !pg.plan.countOnly() {
			rows, err := pg.rows(res.items)
			if err != nil {
				return 0, err
			}

			n = int64(len(rows))
		}

		total += n
		pg.advance(res.lastKey, n)
	}

	return total, nil
}

// Rows is a forward only cursor over the rows of a read. Pages are fetched
// as Next needs them.
type Rows struct {
	ctx    context.Context
	pager  *pager
	buf    []types.Record
	cur    types.Record
	err    error
	closed bool
}

func newRows(ctx context.Context, pg *pager) *Rows {
	return &Rows{ctx: ctx, pager: pg}
}

// staticRows wraps rows that are already known, like RETURNS values
func staticRows(records ...types.Record) *Rows {
	return &Rows{ctx: context.Background(), buf: records}
}

// Next moves to the next row, it returns false at the end of the rows or on
// error
func (r *Rows) Next() bool {
	if r.closed || r.err != nil {
		return false
	}

	for len(r.buf) == 0 {
		if r.pager == nil || r.pager.done {
			r.cur = nil

			return false
		}

		r.buf, r.err = r.pager.next(r.ctx)
		if r.err != nil {
			return false
		}
	}

	r.cur, r.buf = r.buf[0], r.buf[1:]

	return true
}

// Record returns the current row
func (r *Rows) Record() types.Record {
	return r.cur
}

// Item returns the current row in the DynamoDB attribute value encoding
func (r *Rows) Item() map[string]ddbtypes.AttributeValue {
	if r.cur == nil {
		return nil
	}

	return r.cur.ToItem()
}

// Decode unmarshals the current row into v with the attributevalue
// package, numbers decode as attributevalue.Number when v is untyped
func (r *Rows) Decode(v any) error {
	return attributevalue.UnmarshalMapWithOptions(r.Item(), v, func(o *attributevalue.DecoderOptions) {
		o.UseNumber = true
	})
}

// Err returns the error that stopped Next
func (r *Rows) Err() error {
	return r.err
}

// Close stops the cursor, pages that were not fetched are never requested
func (r *Rows) Close() {
	r.closed = true
	r.buf = nil
	r.cur = nil
}

// All drains the cursor
func (r *Rows) All() ([]types.Record, error) {
	var out []types.Record

	for r.Next() {
		out = append(out, r.Record())
	}

	return out, r.Err()
}

// Calls returns how many Query or Scan requests the cursor issued
func (r *Rows) Calls() int {
	if r.pager == nil {
		return 0
	}

	return r.pager.calls
}
